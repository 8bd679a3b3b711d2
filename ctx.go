package auth

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-auth-contacts/middleware/authgate"
)

// PrincipalFromContext returns the principal the auth gate stored in ctx
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := authgate.FromContext(ctx)
	if !ok {
		return Principal{}, false
	}
	return Principal{UserID: p.UserID, Token: p.Token}, true
}

// GetRouterPrincipal extracts the principal from the fiber context
func GetRouterPrincipal(c *fiber.Ctx, key string) (Principal, bool) {
	p, ok := authgate.Locals(c, key)
	if !ok || p.UserID == "" {
		return Principal{}, false
	}
	return Principal{UserID: p.UserID, Token: p.Token}, true
}
