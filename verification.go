package auth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// VerificationState is the email verification state of a user
type VerificationState string

const (
	VerificationStateNone       VerificationState = ""
	VerificationStateUnverified VerificationState = "unverified"
	VerificationStateVerified   VerificationState = "verified"
)

// VerificationStateMachine owns the Unverified(token) -> Verified lifecycle.
type VerificationStateMachine interface {
	// Issue moves a new, not yet persisted user into Unverified with a fresh token.
	Issue(user *User) error
	// Notify schedules the verification mail for an Unverified user.
	Notify(user *User)
	// Reissue replaces the token of an Unverified user and mails it again.
	Reissue(ctx context.Context, email string) (*User, error)
	// Consume verifies the user owning token. A token can be consumed once.
	Consume(ctx context.Context, token string) (*User, error)
	CurrentState(user *User) VerificationState
	// Wait blocks until queued verification mail has been handled.
	Wait()
}

// VerificationOption customizes the verification state machine
type VerificationOption func(*verificationStateMachine)

// WithVerificationActivitySink sets the ActivitySink used to publish lifecycle events.
func WithVerificationActivitySink(sink ActivitySink) VerificationOption {
	return func(sm *verificationStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithVerificationLogger overrides the logger
func WithVerificationLogger(logger Logger) VerificationOption {
	return func(sm *verificationStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithVerificationTokenGenerator injects the token source (useful for tests).
func WithVerificationTokenGenerator(gen func() string) VerificationOption {
	return func(sm *verificationStateMachine) {
		if gen != nil {
			sm.newToken = gen
		}
	}
}

// WithVerificationClock injects a custom clock (useful for tests).
func WithVerificationClock(clock func() time.Time) VerificationOption {
	return func(sm *verificationStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// NewVerificationStateMachine returns the default implementation. dispatcher
// may be nil, in which case no mail is sent.
func NewVerificationStateMachine(users Users, dispatcher *MailDispatcher, opts ...VerificationOption) VerificationStateMachine {
	sm := &verificationStateMachine{
		users:      users,
		dispatcher: dispatcher,
		transitions: map[VerificationState]map[VerificationState]struct{}{
			VerificationStateNone: {
				VerificationStateUnverified: {},
			},
			VerificationStateUnverified: {
				VerificationStateUnverified: {},
				VerificationStateVerified:   {},
			},
		},
		newToken:     uuid.NewString,
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type verificationStateMachine struct {
	users        Users
	dispatcher   *MailDispatcher
	transitions  map[VerificationState]map[VerificationState]struct{}
	newToken     func() string
	now          func() time.Time
	activitySink ActivitySink
	logger       Logger
}

func (sm *verificationStateMachine) CurrentState(user *User) VerificationState {
	if user == nil {
		return VerificationStateNone
	}
	if user.IsVerified {
		return VerificationStateVerified
	}
	return VerificationStateUnverified
}

func (sm *verificationStateMachine) Issue(user *User) error {
	if user == nil {
		return annotate(ErrInvalidVerificationTransition, map[string]any{
			"reason": "user is nil",
		})
	}

	if err := sm.transition(VerificationStateNone, VerificationStateUnverified); err != nil {
		return err
	}

	user.IsVerified = false
	user.VerificationToken = sm.newToken()
	user.SessionToken = ""

	return checkVerificationInvariant(user)
}

func (sm *verificationStateMachine) Notify(user *User) {
	if user == nil || user.IsVerified || user.VerificationToken == "" {
		return
	}

	sm.recordActivity(context.Background(), ActivityEvent{
		EventType: ActivityEventVerificationIssued,
		UserID:    user.ID.String(),
		Email:     user.Email,
	})

	sm.dispatcher.Dispatch(user.ID.String(), user.Email, user.VerificationToken)
}

func (sm *verificationStateMachine) Reissue(ctx context.Context, email string) (*User, error) {
	if strings.TrimSpace(email) == "" {
		return nil, ErrMissingEmail
	}

	user, err := sm.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if user.IsVerified {
		return nil, annotate(ErrAlreadyVerified, map[string]any{"email": user.Email})
	}

	from := sm.CurrentState(user)
	if err := sm.transition(from, VerificationStateUnverified); err != nil {
		return nil, err
	}

	user.VerificationToken = sm.newToken()
	if err := checkVerificationInvariant(user); err != nil {
		return nil, err
	}

	updated, err := sm.users.UpdateColumns(ctx, user, []string{"verification_token"}, WhereUnverified())
	if err != nil {
		return nil, err
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventVerificationReissued,
		UserID:    updated.ID.String(),
		Email:     updated.Email,
	})

	sm.dispatcher.Dispatch(updated.ID.String(), updated.Email, updated.VerificationToken)

	return updated, nil
}

func (sm *verificationStateMachine) Consume(ctx context.Context, token string) (*User, error) {
	user, err := sm.users.FindByVerificationToken(ctx, token)
	if err != nil {
		return nil, err
	}

	from := sm.CurrentState(user)
	if err := sm.transition(from, VerificationStateVerified); err != nil {
		return nil, err
	}

	consumed := user.VerificationToken
	user.IsVerified = true
	user.VerificationToken = ""

	if err := checkVerificationInvariant(user); err != nil {
		return nil, err
	}

	updated, err := sm.users.UpdateColumns(ctx, user, []string{"is_verified", "verification_token"}, WhereVerificationToken(consumed))
	if err != nil {
		return nil, err
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventVerificationConsumed,
		UserID:    updated.ID.String(),
		Email:     updated.Email,
		Metadata: map[string]any{
			"verified_at": sm.now().UTC(),
		},
	})

	return updated, nil
}

func (sm *verificationStateMachine) Wait() {
	sm.dispatcher.Wait()
}

func (sm *verificationStateMachine) transition(from, to VerificationState) error {
	if targets, ok := sm.transitions[from]; ok {
		if _, allowed := targets[to]; allowed {
			return nil
		}
	}
	return annotate(ErrInvalidVerificationTransition, map[string]any{
		"from": from,
		"to":   to,
	})
}

func (sm *verificationStateMachine) recordActivity(ctx context.Context, event ActivityEvent) {
	recordActivity(ctx, sm.activitySink, sm.logger, event)
}

// checkVerificationInvariant enforces IsVerified == (VerificationToken == "")
// and that only verified users hold a session.
func checkVerificationInvariant(user *User) error {
	if user.IsVerified != (user.VerificationToken == "") {
		return annotate(ErrVerificationInvariant, map[string]any{
			"is_verified":       user.IsVerified,
			"has_pending_token": user.VerificationToken != "",
		})
	}
	if user.SessionToken != "" && !user.IsVerified {
		return annotate(ErrVerificationInvariant, map[string]any{
			"reason": "unverified user holds a session",
		})
	}
	return nil
}
