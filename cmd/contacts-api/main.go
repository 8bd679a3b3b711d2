package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	auth "github.com/goliatone/go-auth-contacts"
	"github.com/goliatone/go-auth-contacts/config"
	"github.com/goliatone/go-auth-contacts/logging"
	"github.com/goliatone/go-auth-contacts/middleware/authgate"
	"github.com/goliatone/go-auth-contacts/persistence"
	"github.com/goliatone/go-auth-contacts/storage"
	"github.com/goliatone/go-print"
	"github.com/uptrace/bun"
)

type App struct {
	config       *config.Config
	logger       *logging.Logger
	activity     auth.ActivitySink
	bunDB        *bun.DB
	repo         auth.RepositoryManager
	verification auth.VerificationStateMachine
	srv          *fiber.App
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run owns every resource so deferred cleanup happens before main exits
func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	lgr, err := logging.New(logging.Options{
		Name:        "contacts-api",
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		File:        cfg.Logging.File,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
		Compress:    cfg.Logging.Compress,
	})
	if err != nil {
		return err
	}
	defer lgr.Sync()

	if cfg.Debug {
		fmt.Println("============")
		fmt.Println(print.MaybePrettyJSON(cfg))
		fmt.Println("============")
	}

	app := &App{
		config:   cfg,
		logger:   lgr,
		activity: logging.NewActivitySink(lgr),
	}

	ctx := context.Background()

	if err := WithPersistence(ctx, app); err != nil {
		lgr.Error("persistence setup failed", "error", err)
		return err
	}
	defer app.bunDB.Close()

	if err := WithHTTPServer(ctx, app); err != nil {
		lgr.Error("http setup failed", "error", err)
		return err
	}

	go func() {
		lgr.Info("listening", "address", cfg.Server.Address)
		if err := app.srv.Listen(cfg.Server.Address); err != nil {
			lgr.Error("server stopped", "error", err)
		}
	}()

	sig := WaitExitSignal()
	lgr.Info("shutting down", "signal", sig.String())

	if err := app.srv.ShutdownWithTimeout(cfg.Server.ShutdownTimeoutDuration()); err != nil {
		lgr.Error("shutdown failed", "error", err)
	}

	// drain pending verification mail before exit
	app.verification.Wait()
	return nil
}

func WithPersistence(ctx context.Context, app *App) error {
	pcfg := app.config.Persistence
	db, err := persistence.OpenAndMigrate(ctx, persistence.Config{
		Driver:       pcfg.Driver,
		DSN:          pcfg.DSN,
		Debug:        pcfg.Debug,
		MaxOpenConns: pcfg.MaxOpenConns,
	}, app.logger.Named("migrations"))
	if err != nil {
		return err
	}

	app.repo = auth.NewRepositoryManager(db)
	if err := app.repo.Validate(); err != nil {
		db.Close()
		return err
	}

	app.bunDB = db
	return nil
}

func WithHTTPServer(ctx context.Context, app *App) error {
	cfg := app.config
	lgr := app.logger

	mailer, err := newMailer(cfg, lgr)
	if err != nil {
		return err
	}

	dispatcher := auth.NewMailDispatcher(
		auth.NewVerificationMailer(mailer, cfg.Mail.From, cfg.Server.BaseURL, cfg.Server.RoutePrefix),
		auth.WithMailTimeout(cfg.Mail.TimeoutDuration()),
		auth.WithMailLogger(lgr.Named("mail")),
		auth.WithMailActivitySink(app.activity),
	)

	app.verification = auth.NewVerificationStateMachine(app.repo.Users(), dispatcher,
		auth.WithVerificationLogger(lgr.Named("verification")),
		auth.WithVerificationActivitySink(app.activity),
	)

	tokens := auth.NewTokenServiceFromConfig(cfg.Auth, lgr.Named("tokens"))

	sessions := auth.NewSessionManager(app.repo, tokens, app.verification,
		auth.WithPasswordAuthenticator(auth.NewBcryptHasher(cfg.Auth.BcryptCost)),
		auth.WithSessionLogger(lgr.Named("sessions")),
		auth.WithSessionActivitySink(app.activity),
		auth.WithHashidUserIDs(cfg.Auth.UseHashid),
	)

	store, err := newAvatarStore(ctx, cfg)
	if err != nil {
		return err
	}

	avatars := auth.NewAvatarPipeline(app.repo.Users(), store,
		auth.WithAvatarMaxBytes(cfg.Avatars.MaxBytes),
		auth.WithAvatarLogger(lgr.Named("avatars")),
		auth.WithAvatarActivitySink(app.activity),
	)

	gate := authgate.New(authgate.Config{
		TokenValidator: tokens,
		Sessions:       app.repo.Users(),
		ContextKey:     cfg.Auth.GetContextKey(),
		AuthScheme:     cfg.Auth.GetAuthScheme(),
	})

	srv := fiber.New(fiber.Config{
		AppName:      "contacts-api",
		ErrorHandler: auth.ErrorHandler(lgr.Named("http")),
		BodyLimit:    cfg.Server.BodyLimit,
	})

	srv.Use(recover.New())
	srv.Use(requestid.New())
	srv.Use(logger.New())
	srv.Use(cors.New())

	if cfg.Avatars.Store == "local" {
		srv.Static(cfg.Avatars.PublicURL, cfg.Avatars.PublicDir)
	}

	controller := auth.NewUserController(sessions, app.verification, avatars, gate,
		auth.WithControllerLogger(lgr.Named("users")),
		auth.WithControllerDebug(cfg.Debug),
		auth.WithControllerContextKey(cfg.Auth.GetContextKey()),
		auth.WithControllerTempDir(cfg.Avatars.TempDir),
	)
	controller.Register(srv.Group(cfg.Server.RoutePrefix))

	srv.Use(func(c *fiber.Ctx) error {
		return fiber.ErrNotFound
	})

	app.srv = srv
	return nil
}

func newMailer(cfg *config.Config, lgr *logging.Logger) (auth.Mailer, error) {
	switch cfg.Mail.Transport {
	case "sendgrid":
		return auth.NewSendGridMailer(cfg.Mail.SendGridAPIKey, cfg.Mail.FromName), nil
	default:
		return auth.LogMailer{Logger: lgr.Named("mail")}, nil
	}
}

func newAvatarStore(ctx context.Context, cfg *config.Config) (auth.AvatarStore, error) {
	switch cfg.Avatars.Store {
	case "s3":
		s3cfg := cfg.Avatars.S3
		return storage.NewS3Store(ctx, storage.S3Config{
			Bucket:       s3cfg.Bucket,
			Region:       s3cfg.Region,
			Endpoint:     s3cfg.Endpoint,
			AccessKey:    s3cfg.AccessKey,
			SecretKey:    s3cfg.SecretKey,
			Prefix:       s3cfg.Prefix,
			PublicURL:    s3cfg.PublicURL,
			UsePathStyle: s3cfg.UsePathStyle,
		})
	default:
		if err := os.MkdirAll(cfg.Avatars.PublicDir, 0o755); err != nil {
			return nil, err
		}
		return storage.NewLocalStore(cfg.Avatars.PublicDir, cfg.Avatars.PublicURL), nil
	}
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
