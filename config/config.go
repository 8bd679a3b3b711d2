// Package config loads the contacts API configuration. Sources are layered,
// later ones win: struct defaults, an optional YAML file, CONTACTS_ prefixed
// environment variables and command line flags.
package config

import (
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const (
	EnvPrefix    = "CONTACTS_"
	envConfigKey = EnvPrefix + "CONFIG"
	delim        = "."
)

type Config struct {
	Debug       bool              `koanf:"debug" json:"debug"`
	Server      ServerConfig      `koanf:"server" json:"server"`
	Auth        AuthConfig        `koanf:"auth" json:"auth"`
	Persistence PersistenceConfig `koanf:"persistence" json:"persistence"`
	Mail        MailConfig        `koanf:"mail" json:"mail"`
	Avatars     AvatarsConfig     `koanf:"avatars" json:"avatars"`
	Logging     LoggingConfig     `koanf:"logging" json:"logging"`
}

type ServerConfig struct {
	Address         string `koanf:"address" json:"address"`
	BaseURL         string `koanf:"base_url" json:"base_url"`
	RoutePrefix     string `koanf:"route_prefix" json:"route_prefix"`
	ShutdownTimeout int    `koanf:"shutdown_timeout" json:"shutdown_timeout"`
	BodyLimit       int    `koanf:"body_limit" json:"body_limit"`
}

type AuthConfig struct {
	SigningKey      string   `koanf:"signing_key" json:"-"`
	TokenExpiration int      `koanf:"token_expiration" json:"token_expiration"`
	Issuer          string   `koanf:"issuer" json:"issuer"`
	Audience        []string `koanf:"audience" json:"audience"`
	AuthScheme      string   `koanf:"auth_scheme" json:"auth_scheme"`
	ContextKey      string   `koanf:"context_key" json:"context_key"`
	UseHashid       bool     `koanf:"use_hashid" json:"use_hashid"`
	BcryptCost      int      `koanf:"bcrypt_cost" json:"bcrypt_cost"`
}

type PersistenceConfig struct {
	Driver       string `koanf:"driver" json:"driver"`
	DSN          string `koanf:"dsn" json:"-"`
	Debug        bool   `koanf:"debug" json:"debug"`
	MaxOpenConns int    `koanf:"max_open_conns" json:"max_open_conns"`
}

type MailConfig struct {
	Transport      string `koanf:"transport" json:"transport"`
	From           string `koanf:"from" json:"from"`
	FromName       string `koanf:"from_name" json:"from_name"`
	SendGridAPIKey string `koanf:"sendgrid_api_key" json:"-"`
	Timeout        int    `koanf:"timeout" json:"timeout"`
}

type AvatarsConfig struct {
	Store     string   `koanf:"store" json:"store"`
	PublicDir string   `koanf:"public_dir" json:"public_dir"`
	PublicURL string   `koanf:"public_url" json:"public_url"`
	TempDir   string   `koanf:"temp_dir" json:"temp_dir"`
	MaxBytes  int64    `koanf:"max_bytes" json:"max_bytes"`
	S3        S3Config `koanf:"s3" json:"s3"`
}

type S3Config struct {
	Bucket       string `koanf:"bucket" json:"bucket"`
	Region       string `koanf:"region" json:"region"`
	Endpoint     string `koanf:"endpoint" json:"endpoint"`
	AccessKey    string `koanf:"access_key" json:"-"`
	SecretKey    string `koanf:"secret_key" json:"-"`
	Prefix       string `koanf:"prefix" json:"prefix"`
	PublicURL    string `koanf:"public_url" json:"public_url"`
	UsePathStyle bool   `koanf:"use_path_style" json:"use_path_style"`
}

type LoggingConfig struct {
	Level       string `koanf:"level" json:"level"`
	Development bool   `koanf:"development" json:"development"`
	File        string `koanf:"file" json:"file"`
	MaxSizeMB   int    `koanf:"max_size_mb" json:"max_size_mb"`
	MaxBackups  int    `koanf:"max_backups" json:"max_backups"`
	MaxAgeDays  int    `koanf:"max_age_days" json:"max_age_days"`
	Compress    bool   `koanf:"compress" json:"compress"`
}

// Defaults returns the built-in configuration
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":3000",
			BaseURL:         "http://localhost:3000",
			RoutePrefix:     "/api/users",
			ShutdownTimeout: 10,
			BodyLimit:       4 * 1024 * 1024,
		},
		Auth: AuthConfig{
			TokenExpiration: 1,
			Issuer:          "contacts-api",
			AuthScheme:      "Bearer",
			ContextKey:      "user",
		},
		Persistence: PersistenceConfig{
			Driver: "sqlite",
			DSN:    "file:contacts.db?cache=shared",
		},
		Mail: MailConfig{
			Transport: "log",
			From:      "no-reply@contacts.local",
			FromName:  "Contacts",
			Timeout:   30,
		},
		Avatars: AvatarsConfig{
			Store:     "local",
			PublicDir: "public/avatars",
			PublicURL: "/avatars",
			TempDir:   os.TempDir(),
			MaxBytes:  320000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load resolves the configuration from every source. args are the command
// line arguments without the program name.
func Load(args []string) (*Config, error) {
	fs := Flags()
	if err := fs.Parse(args); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid command line flags")
	}
	return LoadWithFlags(fs)
}

// Flags declares the command line flags understood by Load
func Flags() *pflag.FlagSet {
	d := Defaults()
	fs := pflag.NewFlagSet("contacts-api", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "path to a YAML configuration file")
	fs.Bool("debug", d.Debug, "enable debug output")
	fs.String("server.address", d.Server.Address, "listen address")
	fs.String("server.base_url", d.Server.BaseURL, "public base URL used in emails")
	fs.String("server.route_prefix", d.Server.RoutePrefix, "mount prefix for user routes")
	fs.String("persistence.driver", d.Persistence.Driver, "database driver: sqlite or postgres")
	fs.String("persistence.dsn", d.Persistence.DSN, "database connection string")
	fs.String("mail.transport", d.Mail.Transport, "mail transport: log or sendgrid")
	fs.String("avatars.store", d.Avatars.Store, "avatar store: local or s3")
	fs.String("logging.level", d.Logging.Level, "log level")
	return fs
}

// LoadWithFlags resolves the configuration using an already parsed flag set
func LoadWithFlags(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(delim)

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load defaults")
	}

	path := os.Getenv(envConfigKey)
	if fs != nil {
		if p, err := fs.GetString("config"); err == nil && p != "" {
			path = p
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to load config file").
				WithMetadata(map[string]any{"path": path})
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, delim, EnvKey), nil); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load environment")
	}

	if fs != nil {
		if err := k.Load(posflag.Provider(fs, delim, k), nil); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load flags")
		}
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to decode configuration")
	}

	if err := cfg.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid configuration")
	}

	return cfg, nil
}

// EnvKey maps CONTACTS_SERVER__BASE_URL to server.base_url
func EnvKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", delim)
}

// Validate will run validation rules
func (c Config) Validate() error {
	return validation.Errors{
		"server":      c.Server.Validate(),
		"auth":        c.Auth.Validate(),
		"persistence": c.Persistence.Validate(),
		"mail":        c.Mail.Validate(),
		"avatars":     c.Avatars.Validate(),
	}.Filter()
}

func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Address, validation.Required),
		validation.Field(&s.BaseURL, validation.Required, is.URL),
		validation.Field(&s.ShutdownTimeout, validation.Min(0)),
	)
}

func (a AuthConfig) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.SigningKey, validation.Required, validation.Length(16, 0)),
		validation.Field(&a.TokenExpiration, validation.Required, validation.Min(1)),
		validation.Field(&a.AuthScheme, validation.Required),
	)
}

func (p PersistenceConfig) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Driver, validation.Required, validation.In("sqlite", "postgres")),
		validation.Field(&p.DSN, validation.Required),
	)
}

func (m MailConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Transport, validation.Required, validation.In("log", "sendgrid")),
		validation.Field(&m.From, validation.Required, is.Email),
		validation.Field(&m.SendGridAPIKey, requiredIf(m.Transport == "sendgrid")...),
	)
}

func (a AvatarsConfig) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Store, validation.Required, validation.In("local", "s3")),
		validation.Field(&a.PublicDir, requiredIf(a.Store == "local")...),
		validation.Field(&a.MaxBytes, validation.Required, validation.Min(int64(1))),
		validation.Field(&a.S3, s3Rules(a.Store == "s3")...),
	)
}

func requiredIf(cond bool) []validation.Rule {
	if cond {
		return []validation.Rule{validation.Required}
	}
	return nil
}

func s3Rules(enabled bool) []validation.Rule {
	if !enabled {
		return nil
	}
	return []validation.Rule{
		validation.By(func(value any) error {
			s3, _ := value.(S3Config)
			return validation.ValidateStruct(&s3,
				validation.Field(&s3.Bucket, validation.Required),
			)
		}),
	}
}

// ShutdownTimeoutDuration returns the graceful shutdown window
func (s ServerConfig) ShutdownTimeoutDuration() time.Duration {
	if s.ShutdownTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(s.ShutdownTimeout) * time.Second
}

// TimeoutDuration returns the per message delivery timeout
func (m MailConfig) TimeoutDuration() time.Duration {
	if m.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(m.Timeout) * time.Second
}

func (a AuthConfig) GetSigningKey() string {
	return a.SigningKey
}

func (a AuthConfig) GetTokenExpiration() int {
	return a.TokenExpiration
}

func (a AuthConfig) GetIssuer() string {
	return a.Issuer
}

func (a AuthConfig) GetAudience() []string {
	return a.Audience
}

func (a AuthConfig) GetAuthScheme() string {
	return a.AuthScheme
}

func (a AuthConfig) GetContextKey() string {
	return a.ContextKey
}
