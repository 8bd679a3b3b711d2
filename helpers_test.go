package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-contacts"
	"github.com/goliatone/go-auth-contacts/persistence"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSigningKey = "test-signing-key-0123456789"

type logCall struct {
	level   string
	message string
	args    []any
}

type captureLogger struct {
	mu    sync.Mutex
	calls []logCall
}

func (l *captureLogger) record(level, message string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, logCall{level: level, message: message, args: args})
}

func (l *captureLogger) Debug(message string, args ...any) { l.record("debug", message, args...) }
func (l *captureLogger) Info(message string, args ...any)  { l.record("info", message, args...) }
func (l *captureLogger) Warn(message string, args ...any)  { l.record("warn", message, args...) }
func (l *captureLogger) Error(message string, args ...any) { l.record("error", message, args...) }

func (l *captureLogger) has(level, message string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.calls {
		if c.level == level && c.message == message {
			return true
		}
	}
	return false
}

type activityRecorder struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (r *activityRecorder) Record(_ context.Context, event auth.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *activityRecorder) types() []auth.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

type sentVerification struct {
	email string
	token string
}

type senderSpy struct {
	mu   sync.Mutex
	sent []sentVerification
	err  error
}

func (s *senderSpy) SendVerification(_ context.Context, email, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentVerification{email: email, token: token})
	return s.err
}

func (s *senderSpy) all() []sentVerification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentVerification{}, s.sent...)
}

func newTestRepo(t *testing.T) auth.RepositoryManager {
	t.Helper()

	db, err := persistence.OpenAndMigrate(context.Background(), persistence.Config{
		Driver: persistence.DriverSQLite,
		DSN:    ":memory:",
	}, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})

	repo := auth.NewRepositoryManager(db)
	require.NoError(t, repo.Validate())
	return repo
}

func newTestTokens() *auth.TokenServiceImpl {
	return auth.NewTokenService([]byte(testSigningKey), 1, "contacts-test", nil, &captureLogger{})
}

type testEnv struct {
	repo         auth.RepositoryManager
	tokens       *auth.TokenServiceImpl
	sender       *senderSpy
	activity     *activityRecorder
	logger       *captureLogger
	verification auth.VerificationStateMachine
	sessions     auth.SessionManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		repo:     newTestRepo(t),
		tokens:   newTestTokens(),
		sender:   &senderSpy{},
		activity: &activityRecorder{},
		logger:   &captureLogger{},
	}

	dispatcher := auth.NewMailDispatcher(env.sender,
		auth.WithMailTimeout(time.Second),
		auth.WithMailLogger(env.logger),
		auth.WithMailActivitySink(env.activity),
	)

	env.verification = auth.NewVerificationStateMachine(env.repo.Users(), dispatcher,
		auth.WithVerificationLogger(env.logger),
		auth.WithVerificationActivitySink(env.activity),
	)

	env.sessions = auth.NewSessionManager(env.repo, env.tokens, env.verification,
		auth.WithPasswordAuthenticator(auth.NewBcryptHasher(bcrypt.MinCost)),
		auth.WithSessionLogger(env.logger),
		auth.WithSessionActivitySink(env.activity),
	)

	return env
}

// signup registers a user and returns its pending verification token
func (env *testEnv) signup(t *testing.T, email, password string) string {
	t.Helper()
	ctx := context.Background()

	_, err := env.sessions.Signup(ctx, auth.SignupInput{Email: email, Password: password})
	require.NoError(t, err)

	user, err := env.repo.Users().FindByEmail(ctx, email)
	require.NoError(t, err)
	require.NotEmpty(t, user.VerificationToken)
	return user.VerificationToken
}

// signupVerified registers and verifies a user
func (env *testEnv) signupVerified(t *testing.T, email, password string) *auth.User {
	t.Helper()
	token := env.signup(t, email, password)
	user, err := env.verification.Consume(context.Background(), token)
	require.NoError(t, err)
	return user
}
