package auth

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/uptrace/bun"
)

const defaultOperationTimeout = 10 * time.Second

// Principal is the authenticated caller resolved by the auth gate
type Principal struct {
	UserID string
	Token  string
}

// LoginResult is returned by a successful login
type LoginResult struct {
	Token string      `json:"token"`
	User  *PublicUser `json:"user"`
}

// SessionManager owns signup, login and the single live session of a user
type SessionManager interface {
	Signup(ctx context.Context, input SignupInput) (*PublicUser, error)
	Login(ctx context.Context, input LoginInput) (*LoginResult, error)
	Current(ctx context.Context, principal Principal) (*PublicUser, error)
	Logout(ctx context.Context, principal Principal) error
	UpdateSubscription(ctx context.Context, principal Principal, input SubscriptionInput) (*PublicUser, error)
}

// SessionManagerOption customizes the session manager
type SessionManagerOption func(*sessionManager)

// WithPasswordAuthenticator overrides the password hasher
func WithPasswordAuthenticator(hasher PasswordAuthenticator) SessionManagerOption {
	return func(sm *sessionManager) {
		if hasher != nil {
			sm.hasher = hasher
		}
	}
}

// WithSessionActivitySink sets the ActivitySink used to publish session events.
func WithSessionActivitySink(sink ActivitySink) SessionManagerOption {
	return func(sm *sessionManager) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithSessionLogger overrides the logger
func WithSessionLogger(logger Logger) SessionManagerOption {
	return func(sm *sessionManager) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithHashidUserIDs derives user IDs from the email address
func WithHashidUserIDs(enabled bool) SessionManagerOption {
	return func(sm *sessionManager) {
		sm.useHashid = enabled
	}
}

// NewSessionManager returns the default SessionManager
func NewSessionManager(repo RepositoryManager, tokens TokenService, verification VerificationStateMachine, opts ...SessionManagerOption) SessionManager {
	sm := &sessionManager{
		repo:         repo,
		tokens:       tokens,
		verification: verification,
		hasher:       NewBcryptHasher(passwordHashCost()),
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

type sessionManager struct {
	repo         RepositoryManager
	tokens       TokenService
	verification VerificationStateMachine
	hasher       PasswordAuthenticator
	activitySink ActivitySink
	logger       Logger
	useHashid    bool
}

func (s *sessionManager) Signup(ctx context.Context, input SignupInput) (*PublicUser, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during signup")
	default:
	}

	input.Email = NormalizeEmail(input.Email)
	if err := input.Validate(); err != nil {
		return nil, NewValidationError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultOperationTimeout)
	defer cancel()

	hash, err := s.hasher.HashPassword(input.Password)
	if err != nil {
		return nil, internalError(err, "failed to hash password")
	}

	user := &User{
		Email:        input.Email,
		PasswordHash: hash,
		Subscription: SubscriptionStarter,
	}

	if s.useHashid {
		if id, err := hashid.NewUUID(input.Email); err == nil {
			user.ID = id
		}
	}

	if err := s.verification.Issue(user); err != nil {
		return nil, err
	}

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		created, err := s.repo.Users().CreateTx(ctx, tx, user)
		if err != nil {
			return err
		}
		user = created
		return nil
	})
	if err != nil {
		return nil, internalError(err, "user signup transaction failed")
	}

	s.logger.Info("user signed up", "user_id", user.ID, "email", user.Email)
	s.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventSignup,
		UserID:    user.ID.String(),
		Email:     user.Email,
	})

	s.verification.Notify(user)

	return user.Public(), nil
}

func (s *sessionManager) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during login")
	default:
	}

	input.Email = NormalizeEmail(input.Email)
	if err := input.Validate(); err != nil {
		return nil, NewValidationError(err)
	}

	user, err := s.repo.Users().FindByEmail(ctx, input.Email)
	if err != nil {
		if IsNotFound(err) {
			s.loginFailed(ctx, "", input.Email, "unknown_email")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := s.hasher.ComparePasswordAndHash(input.Password, user.PasswordHash); err != nil {
		s.loginFailed(ctx, user.ID.String(), user.Email, "password_mismatch")
		return nil, ErrInvalidCredentials
	}

	if !user.IsVerified {
		s.loginFailed(ctx, user.ID.String(), user.Email, "email_not_verified")
		return nil, ErrEmailNotVerified
	}

	token, err := s.tokens.Generate(user.ID.String())
	if err != nil {
		return nil, internalError(err, "failed to generate session token")
	}

	// last login wins: the new token replaces whatever session was stored
	user.SessionToken = token
	updated, err := s.repo.Users().UpdateColumns(ctx, user, []string{"session_token"})
	if err != nil {
		return nil, err
	}

	s.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		UserID:    updated.ID.String(),
		Email:     updated.Email,
	})

	return &LoginResult{
		Token: token,
		User:  updated.Public(),
	}, nil
}

func (s *sessionManager) Current(ctx context.Context, principal Principal) (*PublicUser, error) {
	user, err := s.authorize(ctx, principal)
	if err != nil {
		return nil, err
	}
	return user.Public(), nil
}

func (s *sessionManager) Logout(ctx context.Context, principal Principal) error {
	user, err := s.authorize(ctx, principal)
	if err != nil {
		return err
	}

	user.SessionToken = ""
	_, err = s.repo.Users().UpdateColumns(ctx, user, []string{"session_token"}, WhereSessionToken(principal.Token))
	if err != nil {
		if IsNotFound(err) {
			return ErrNotAuthorized
		}
		return err
	}

	s.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventLogout,
		UserID:    user.ID.String(),
		Email:     user.Email,
	})

	return nil
}

func (s *sessionManager) UpdateSubscription(ctx context.Context, principal Principal, input SubscriptionInput) (*PublicUser, error) {
	input.Subscription = strings.ToLower(strings.TrimSpace(input.Subscription))
	if err := input.Validate(); err != nil {
		return nil, NewValidationError(err)
	}

	user, err := s.authorize(ctx, principal)
	if err != nil {
		return nil, err
	}

	from := user.Subscription
	user.Subscription = input.Subscription

	updated, err := s.repo.Users().UpdateColumns(ctx, user, []string{"subscription"})
	if err != nil {
		return nil, err
	}

	s.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventSubscriptionChanged,
		UserID:    updated.ID.String(),
		Email:     updated.Email,
		Metadata: map[string]any{
			"from": from,
			"to":   updated.Subscription,
		},
	})

	return updated.Public(), nil
}

// authorize loads the principal's user and checks the session is still live
func (s *sessionManager) authorize(ctx context.Context, principal Principal) (*User, error) {
	if principal.UserID == "" || principal.Token == "" {
		return nil, ErrNotAuthorized
	}

	user, err := s.repo.Users().FindByID(ctx, principal.UserID)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrNotAuthorized
		}
		return nil, err
	}

	if !user.HasSession(principal.Token) {
		return nil, ErrNotAuthorized
	}

	return user, nil
}

func (s *sessionManager) loginFailed(ctx context.Context, userID, email, reason string) {
	s.logger.Debug("login failed", "email", email, "reason", reason)
	s.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventLoginFailure,
		UserID:    userID,
		Email:     email,
		Metadata:  map[string]any{"reason": reason},
	})
}

func (s *sessionManager) recordActivity(ctx context.Context, event ActivityEvent) {
	recordActivity(ctx, s.activitySink, s.logger, event)
}
