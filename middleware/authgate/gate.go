// Package authgate is the Fiber middleware guarding authenticated routes. A
// request passes only when its bearer token verifies and equals the session
// token currently stored for the user it names.
package authgate

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
)

var (
	defaultTokenLookup = "header:" + fiber.HeaderAuthorization

	ErrMissingToken = errors.New("missing or malformed token")
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrStaleSession = errors.New("session is no longer active")
)

// TokenValidator verifies a token and returns the user id it carries.
// This mirrors TokenService.Subject from the auth package.
type TokenValidator interface {
	Subject(tokenString string) (string, error)
}

// SessionStore returns the session token stored for a user, empty when
// the user holds no session.
type SessionStore interface {
	SessionToken(ctx context.Context, userID string) (string, error)
}

// SessionStoreFunc adapts a function to SessionStore
type SessionStoreFunc func(ctx context.Context, userID string) (string, error)

// SessionToken implements SessionStore
func (f SessionStoreFunc) SessionToken(ctx context.Context, userID string) (string, error) {
	return f(ctx, userID)
}

// Principal is the authenticated caller
type Principal struct {
	UserID string
	Token  string
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by the gate
func FromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

type Config struct {
	Filter         func(*fiber.Ctx) bool
	SuccessHandler fiber.Handler
	ErrorHandler   fiber.ErrorHandler
	TokenValidator TokenValidator
	Sessions       SessionStore
	ContextKey     string
	TokenLookup    string
	AuthScheme     string
}

// New returns the gate handler
func New(config ...Config) fiber.Handler {
	cfg := GetDefaultConfig(config...)
	extractors := GetExtractors(cfg.TokenLookup, cfg.AuthScheme)

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		raw, err := ExtractRawToken(c, extractors)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		userID, err := cfg.TokenValidator.Subject(raw)
		if err != nil || userID == "" {
			return cfg.ErrorHandler(c, errors.Join(ErrInvalidToken, err))
		}

		stored, err := cfg.Sessions.SessionToken(c.UserContext(), userID)
		if err != nil {
			return cfg.ErrorHandler(c, errors.Join(ErrStaleSession, err))
		}

		if stored == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(raw)) != 1 {
			return cfg.ErrorHandler(c, ErrStaleSession)
		}

		principal := Principal{UserID: userID, Token: raw}
		c.Locals(cfg.ContextKey, principal)
		c.SetUserContext(WithPrincipal(c.UserContext(), principal))

		return cfg.SuccessHandler(c)
	}
}

// Locals returns the principal stored under key on c
func Locals(c *fiber.Ctx, key string) (Principal, bool) {
	if key == "" {
		key = "user"
	}
	p, ok := c.Locals(key).(Principal)
	if ok {
		return p, true
	}
	return FromContext(c.UserContext())
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "Not authorized",
			})
		}
	}

	if cfg.TokenValidator == nil {
		panic("AUTH: gate configuration: TokenValidator is required.")
	}

	if cfg.Sessions == nil {
		panic("AUTH: gate configuration: Sessions is required.")
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "user"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	return cfg
}

func ExtractRawToken(c *fiber.Ctx, extractors []Extractor) (string, error) {
	raw, err := "", ErrMissingToken
	for _, extractor := range extractors {
		raw, err = extractor(c)
		if raw != "" && err == nil {
			break
		}
	}
	return raw, err
}

type Extractor func(c *fiber.Ctx) (string, error)

// GetExtractors parses lookups of the form "header:Authorization,query:token,cookie:session"
func GetExtractors(tokenLookup string, authSchemes ...string) []Extractor {
	extractors := make([]Extractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 && authSchemes[0] != "" {
		authScheme = strings.TrimSpace(authSchemes[0])
	}

	for _, rootPart := range strings.Split(tokenLookup, ",") {
		parts := strings.SplitN(strings.TrimSpace(rootPart), ":", 2)
		if len(parts) != 2 {
			continue
		}
		source, name := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])

		switch source {
		case "header":
			extractors = append(extractors, fromHeader(name, authScheme))
		case "query":
			extractors = append(extractors, fromQuery(name))
		case "cookie":
			extractors = append(extractors, fromCookie(name))
		}
	}

	return extractors
}

// fromHeader extracts "<scheme> <token>", matching the scheme case-insensitively.
func fromHeader(header, authScheme string) Extractor {
	return func(c *fiber.Ctx) (string, error) {
		a := c.Get(header)
		l := len(authScheme)
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) && a[l] == ' ' {
			if token := strings.TrimSpace(a[l:]); token != "" {
				return token, nil
			}
		}
		return "", ErrMissingToken
	}
}

func fromQuery(param string) Extractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Query(param)
		if token == "" {
			return "", ErrMissingToken
		}
		return token, nil
	}
}

func fromCookie(name string) Extractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrMissingToken
		}
		return token, nil
	}
}
