package authgate_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-auth-contacts/middleware/authgate"
)

type validatorFunc func(string) (string, error)

func (f validatorFunc) Subject(token string) (string, error) {
	return f(token)
}

// tokens of the form "valid-<user>" carry <user>, anything else fails
var prefixValidator = validatorFunc(func(token string) (string, error) {
	const prefix = "valid-"
	if len(token) <= len(prefix) || token[:len(prefix)] != prefix {
		return "", errors.New("bad signature")
	}
	return token[len(prefix):], nil
})

func newGatedApp(t *testing.T, sessions map[string]string, cfg authgate.Config) *fiber.App {
	t.Helper()

	cfg.TokenValidator = prefixValidator
	cfg.Sessions = authgate.SessionStoreFunc(func(_ context.Context, userID string) (string, error) {
		if userID == "broken" {
			return "", errors.New("db down")
		}
		return sessions[userID], nil
	})

	app := fiber.New()
	app.Get("/private", authgate.New(cfg), func(c *fiber.Ctx) error {
		local, ok := authgate.Locals(c, cfg.ContextKey)
		if !ok {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		fromCtx, ok := authgate.FromContext(c.UserContext())
		if !ok || fromCtx != local {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.SendString(local.UserID)
	})
	return app
}

func doRequest(t *testing.T, app *fiber.App, req *http.Request) (int, string) {
	t.Helper()
	res, err := app.Test(req, -1)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, string(body)
}

func TestGate_HeaderToken(t *testing.T) {
	app := newGatedApp(t, map[string]string{"u1": "valid-u1"}, authgate.Config{})

	cases := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"live session", "Bearer valid-u1", http.StatusOK, "u1"},
		{"scheme is case insensitive", "bearer valid-u1", http.StatusOK, "u1"},
		{"missing header", "", http.StatusUnauthorized, `{"message":"Not authorized"}`},
		{"wrong scheme", "Basic valid-u1", http.StatusUnauthorized, `{"message":"Not authorized"}`},
		{"scheme without space", "Bearervalid-u1", http.StatusUnauthorized, `{"message":"Not authorized"}`},
		{"bad signature", "Bearer forged", http.StatusUnauthorized, `{"message":"Not authorized"}`},
		{"no stored session", "Bearer valid-u2", http.StatusUnauthorized, `{"message":"Not authorized"}`},
		{"store failure", "Bearer valid-broken", http.StatusUnauthorized, `{"message":"Not authorized"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/private", nil)
			if tc.header != "" {
				req.Header.Set(fiber.HeaderAuthorization, tc.header)
			}
			status, body := doRequest(t, app, req)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.body, body)
		})
	}
}

func TestGate_StaleToken(t *testing.T) {
	sessions := map[string]string{"u1": "valid-u1"}
	var seen error
	app := newGatedApp(t, sessions, authgate.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			seen = err
			return c.SendStatus(fiber.StatusUnauthorized)
		},
	})

	// a newer login replaced the stored token; "valid-u1" still verifies
	// but no longer matches
	sessions["u1"] = "valid-u1-newer"

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer valid-u1")
	status, _ := doRequest(t, app, req)

	assert.Equal(t, http.StatusUnauthorized, status)
	assert.ErrorIs(t, seen, authgate.ErrStaleSession)
}

func TestGate_LookupSourcesAndFilter(t *testing.T) {
	app := newGatedApp(t, map[string]string{"u1": "valid-u1"}, authgate.Config{
		TokenLookup: "header:Authorization,query:token,cookie:session",
		ContextKey:  "principal",
		Filter: func(c *fiber.Ctx) bool {
			return c.Get("X-Skip") == "yes"
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/private?token=valid-u1", nil)
	status, body := doRequest(t, app, req)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "u1", body)

	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "valid-u1"})
	status, body = doRequest(t, app, req)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "u1", body)
}

func TestGetDefaultConfig(t *testing.T) {
	assert.Panics(t, func() {
		authgate.GetDefaultConfig(authgate.Config{})
	})

	assert.Panics(t, func() {
		authgate.GetDefaultConfig(authgate.Config{TokenValidator: prefixValidator})
	})

	cfg := authgate.GetDefaultConfig(authgate.Config{
		TokenValidator: prefixValidator,
		Sessions: authgate.SessionStoreFunc(func(context.Context, string) (string, error) {
			return "", nil
		}),
	})
	assert.Equal(t, "user", cfg.ContextKey)
	assert.Equal(t, "header:Authorization", cfg.TokenLookup)
	assert.Equal(t, "Bearer", cfg.AuthScheme)
	assert.NotNil(t, cfg.ErrorHandler)
	assert.NotNil(t, cfg.SuccessHandler)
}

func TestGetExtractors(t *testing.T) {
	extractors := authgate.GetExtractors("header:Authorization, query:token,bogus,cookie:jwt")
	assert.Len(t, extractors, 3)
}
