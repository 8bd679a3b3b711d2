package auth_test

import (
	"context"
	"errors"
	"testing"

	auth "github.com/goliatone/go-auth-contacts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerification_IssueSetsPendingToken(t *testing.T) {
	sm := auth.NewVerificationStateMachine(nil, nil,
		auth.WithVerificationTokenGenerator(func() string { return "fixed-token" }),
	)

	user := &auth.User{Email: "issue@example.com", SessionToken: "stale", IsVerified: true}
	require.NoError(t, sm.Issue(user))

	assert.False(t, user.IsVerified)
	assert.Equal(t, "fixed-token", user.VerificationToken)
	assert.Empty(t, user.SessionToken)
	assert.Equal(t, auth.VerificationStateUnverified, sm.CurrentState(user))

	assert.ErrorIs(t, sm.Issue(nil), auth.ErrInvalidVerificationTransition)
}

func TestVerification_CurrentState(t *testing.T) {
	sm := auth.NewVerificationStateMachine(nil, nil)

	assert.Equal(t, auth.VerificationStateNone, sm.CurrentState(nil))
	assert.Equal(t, auth.VerificationStateUnverified, sm.CurrentState(&auth.User{VerificationToken: "t"}))
	assert.Equal(t, auth.VerificationStateVerified, sm.CurrentState(&auth.User{IsVerified: true}))
}

func TestVerification_ConsumeOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	token := env.signup(t, "consume@example.com", "secret1")

	user, err := env.verification.Consume(ctx, token)
	require.NoError(t, err)
	assert.True(t, user.IsVerified)
	assert.Empty(t, user.VerificationToken)

	stored, err := env.repo.Users().FindByEmail(ctx, "consume@example.com")
	require.NoError(t, err)
	assert.True(t, stored.IsVerified)
	assert.Empty(t, stored.VerificationToken)

	_, err = env.verification.Consume(ctx, token)
	assert.ErrorIs(t, err, auth.ErrUserNotFound)

	assert.Contains(t, env.activity.types(), auth.ActivityEventVerificationConsumed)
}

func TestVerification_ConsumeUnknownToken(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.verification.Consume(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
	assert.True(t, auth.IsNotFound(err))
}

func TestVerification_Reissue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.signup(t, "reissue@example.com", "secret1")

	user, err := env.verification.Reissue(ctx, "Reissue@Example.com")
	require.NoError(t, err)
	assert.NotEqual(t, first, user.VerificationToken)
	assert.False(t, user.IsVerified)

	env.verification.Wait()

	sent := env.sender.all()
	require.Len(t, sent, 2)

	// deliveries are unordered, match by token
	tokens := make([]string, 0, len(sent))
	for _, mail := range sent {
		tokens = append(tokens, mail.token)
		assert.Equal(t, "reissue@example.com", mail.email)
	}
	assert.ElementsMatch(t, []string{first, user.VerificationToken}, tokens)

	_, err = env.verification.Consume(ctx, first)
	assert.ErrorIs(t, err, auth.ErrUserNotFound, "the replaced token is no longer valid")

	_, err = env.verification.Consume(ctx, user.VerificationToken)
	require.NoError(t, err)

	assert.Contains(t, env.activity.types(), auth.ActivityEventVerificationReissued)
}

func TestVerification_ReissueRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.verification.Reissue(ctx, "  ")
	assert.ErrorIs(t, err, auth.ErrMissingEmail)

	_, err = env.verification.Reissue(ctx, "ghost@example.com")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)

	verified := env.signupVerified(t, "done@example.com", "secret1")
	env.verification.Wait()
	before := len(env.sender.all())

	_, err = env.verification.Reissue(ctx, "done@example.com")
	assert.ErrorIs(t, err, auth.ErrAlreadyVerified)

	stored, err := env.repo.Users().FindByID(ctx, verified.ID.String())
	require.NoError(t, err)
	assert.True(t, stored.IsVerified)
	assert.Empty(t, stored.VerificationToken)

	env.verification.Wait()
	assert.Len(t, env.sender.all(), before)
}

func TestVerification_MailFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t)
	env.sender.err = errors.New("smtp down")

	token := env.signup(t, "bounce@example.com", "secret1")
	assert.NotEmpty(t, token)

	env.verification.Wait()

	assert.True(t, env.logger.has("error", "verification mail delivery failed"))
	assert.Contains(t, env.activity.types(), auth.ActivityEventMailDeliveryFailure)

	user, err := env.repo.Users().FindByEmail(context.Background(), "bounce@example.com")
	require.NoError(t, err)
	assert.False(t, user.IsVerified)
}
