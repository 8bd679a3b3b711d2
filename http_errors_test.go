package auth_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-auth-contacts"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
)

func TestResolveError(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"email in use", auth.ErrEmailInUse, http.StatusConflict, "Email in use"},
		{"invalid credentials", auth.ErrInvalidCredentials, http.StatusUnauthorized, "Email or password is wrong"},
		{"not verified", auth.ErrEmailNotVerified, http.StatusUnauthorized, "Email not verified"},
		{"not authorized", auth.ErrNotAuthorized, http.StatusUnauthorized, "Not authorized"},
		{"user not found", auth.ErrUserNotFound, http.StatusNotFound, "User not found"},
		{"already verified", auth.ErrAlreadyVerified, http.StatusBadRequest, "Verification has already been passed"},
		{"missing email", auth.ErrMissingEmail, http.StatusBadRequest, "missing required field email"},
		{"avatar too large", auth.ErrAvatarTooLarge, http.StatusBadRequest, "Avatar file is too large"},
		{"avatar decode", auth.ErrAvatarDecode, http.StatusInternalServerError, "Uploaded file is not a supported image"},
		{"invariant is internal", auth.ErrVerificationInvariant, http.StatusInternalServerError, "Server error"},
		{"wrapped internal", goerrors.Wrap(errors.New("disk"), goerrors.CategoryInternal, "boom"), http.StatusInternalServerError, "Server error"},
		{"fiber not found", fiber.ErrNotFound, http.StatusNotFound, "Not found"},
		{"fiber body limit", fiber.ErrRequestEntityTooLarge, http.StatusRequestEntityTooLarge, "Avatar file is too large"},
		{"fiber bad request", fiber.NewError(http.StatusBadRequest, "bad multipart"), http.StatusBadRequest, "bad multipart"},
		{"fiber server error", fiber.ErrServiceUnavailable, http.StatusServiceUnavailable, "Server error"},
		{"plain error", errors.New("sql: connection refused"), http.StatusInternalServerError, "Server error"},
		{"wrapped sentinel", fmt.Errorf("signup: %w", auth.ErrEmailInUse), http.StatusConflict, "Email in use"},
		{"nil", nil, http.StatusInternalServerError, "Server error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, message := auth.ResolveError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.message, message)
		})
	}
}
