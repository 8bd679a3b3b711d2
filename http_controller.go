package auth

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/google/uuid"
)

// UserControllerRoutes holds the route paths relative to the mount prefix
type UserControllerRoutes struct {
	Signup       string
	Login        string
	Current      string
	Logout       string
	Subscription string
	Verify       string
	Avatars      string
}

// DefaultUserControllerRoutes returns the standard route table
func DefaultUserControllerRoutes() *UserControllerRoutes {
	return &UserControllerRoutes{
		Signup:       "/signup",
		Login:        "/login",
		Current:      "/current",
		Logout:       "/logout",
		Subscription: "/subscription",
		Verify:       "/verify",
		Avatars:      "/avatars",
	}
}

// UserController exposes sessions, verification and avatars over HTTP
type UserController struct {
	Debug        bool
	Logger       Logger
	Routes       *UserControllerRoutes
	Sessions     SessionManager
	Verification VerificationStateMachine
	Avatars      *AvatarPipeline
	Gate         fiber.Handler
	ContextKey   string
	TempDir      string
}

// UserControllerOption configures the controller
type UserControllerOption func(*UserController) *UserController

// WithControllerLogger sets the logger
func WithControllerLogger(logger Logger) UserControllerOption {
	return func(uc *UserController) *UserController {
		uc.Logger = logger
		return uc
	}
}

// WithControllerDebug prints request payloads
func WithControllerDebug(debug bool) UserControllerOption {
	return func(uc *UserController) *UserController {
		uc.Debug = debug
		return uc
	}
}

// WithControllerRoutes overrides the route table
func WithControllerRoutes(routes *UserControllerRoutes) UserControllerOption {
	return func(uc *UserController) *UserController {
		if routes != nil {
			uc.Routes = routes
		}
		return uc
	}
}

// WithControllerContextKey sets the locals key the gate stores the principal under
func WithControllerContextKey(key string) UserControllerOption {
	return func(uc *UserController) *UserController {
		if key != "" {
			uc.ContextKey = key
		}
		return uc
	}
}

// WithControllerTempDir sets where uploads are staged
func WithControllerTempDir(dir string) UserControllerOption {
	return func(uc *UserController) *UserController {
		if dir != "" {
			uc.TempDir = dir
		}
		return uc
	}
}

// NewUserController returns a controller; gate guards the authenticated routes
func NewUserController(sessions SessionManager, verification VerificationStateMachine, avatars *AvatarPipeline, gate fiber.Handler, opts ...UserControllerOption) *UserController {
	uc := &UserController{
		Logger:       defLogger{},
		Routes:       DefaultUserControllerRoutes(),
		Sessions:     sessions,
		Verification: verification,
		Avatars:      avatars,
		Gate:         gate,
		ContextKey:   "user",
		TempDir:      os.TempDir(),
	}

	for _, opt := range opts {
		if opt != nil {
			uc = opt(uc)
		}
	}

	uc.Logger = normalizeLogger(uc.Logger)

	return uc
}

// Register mounts the routes on r
func (uc *UserController) Register(r fiber.Router) {
	r.Post(uc.Routes.Signup, uc.Signup).Name("users.signup")
	r.Post(uc.Routes.Login, uc.Login).Name("users.login")
	r.Get(uc.Routes.Verify+"/:verificationToken", uc.Verify).Name("users.verify")
	r.Post(uc.Routes.Verify, uc.ResendVerification).Name("users.verify.resend")

	r.Get(uc.Routes.Current, uc.Gate, uc.Current).Name("users.current")
	r.Post(uc.Routes.Logout, uc.Gate, uc.Logout).Name("users.logout")
	r.Patch(uc.Routes.Subscription, uc.Gate, uc.UpdateSubscription).Name("users.subscription")
	r.Patch(uc.Routes.Avatars, uc.Gate, uc.UpdateAvatar).Name("users.avatars")
}

func (uc *UserController) Signup(c *fiber.Ctx) error {
	payload := new(SignupInput)
	if err := c.BodyParser(payload); err != nil {
		return annotate(ErrUnableToParseData, map[string]any{"error": err.Error()})
	}

	uc.dump("signup", payload.Email)

	user, err := uc.Sessions.Signup(c.UserContext(), *payload)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"user": user,
	})
}

func (uc *UserController) Login(c *fiber.Ctx) error {
	payload := new(LoginInput)
	if err := c.BodyParser(payload); err != nil {
		return annotate(ErrUnableToParseData, map[string]any{"error": err.Error()})
	}

	uc.dump("login", payload.Email)

	res, err := uc.Sessions.Login(c.UserContext(), *payload)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(res)
}

func (uc *UserController) Current(c *fiber.Ctx) error {
	principal, ok := GetRouterPrincipal(c, uc.ContextKey)
	if !ok {
		return ErrNotAuthorized
	}

	user, err := uc.Sessions.Current(c.UserContext(), principal)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(user)
}

func (uc *UserController) Logout(c *fiber.Ctx) error {
	principal, ok := GetRouterPrincipal(c, uc.ContextKey)
	if !ok {
		return ErrNotAuthorized
	}

	if err := uc.Sessions.Logout(c.UserContext(), principal); err != nil {
		return err
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (uc *UserController) UpdateSubscription(c *fiber.Ctx) error {
	principal, ok := GetRouterPrincipal(c, uc.ContextKey)
	if !ok {
		return ErrNotAuthorized
	}

	payload := new(SubscriptionInput)
	if err := c.BodyParser(payload); err != nil {
		return annotate(ErrUnableToParseData, map[string]any{"error": err.Error()})
	}

	user, err := uc.Sessions.UpdateSubscription(c.UserContext(), principal, *payload)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(user)
}

func (uc *UserController) Verify(c *fiber.Ctx) error {
	token := c.Params("verificationToken")
	if _, err := uc.Verification.Consume(c.UserContext(), token); err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Verification successful",
	})
}

func (uc *UserController) ResendVerification(c *fiber.Ctx) error {
	payload := new(ResendVerificationInput)
	if len(c.Body()) > 0 {
		if err := c.BodyParser(payload); err != nil {
			return annotate(ErrUnableToParseData, map[string]any{"error": err.Error()})
		}
	}

	if err := payload.Validate(); err != nil {
		if goerrors.Is(err, ErrMissingEmail) {
			return err
		}
		return NewValidationError(err)
	}

	if _, err := uc.Verification.Reissue(c.UserContext(), payload.Email); err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Verification email sent",
	})
}

func (uc *UserController) UpdateAvatar(c *fiber.Ctx) error {
	principal, ok := GetRouterPrincipal(c, uc.ContextKey)
	if !ok {
		return ErrNotAuthorized
	}

	file, err := c.FormFile("avatar")
	if err != nil || file == nil {
		return ErrAvatarMissing
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	tmpPath := filepath.Join(uc.TempDir, "avatar-"+uuid.NewString()+ext)
	if err := c.SaveFile(file, tmpPath); err != nil {
		os.Remove(tmpPath)
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to stage upload").
			WithCode(goerrors.CodeInternal)
	}

	url, err := uc.Avatars.Publish(c.UserContext(), principal.UserID, &AvatarUpload{
		TempPath: tmpPath,
		Filename: file.Filename,
		Size:     file.Size,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"avatarURL": url,
	})
}

func (uc *UserController) dump(label, email string) {
	if !uc.Debug {
		return
	}
	uc.Logger.Debug("request payload", "route", label, "payload", print.MaybePrettyJSON(map[string]any{
		"email": email,
	}))
}
