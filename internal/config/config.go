// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package config

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

var configFile = altsrc.StringSourcer("config.toml")

type Config struct { //nolint:govet // fieldalignment not critical for config structs
	Server    ServerConfig
	Log       LogConfig
	Database  DatabaseConfig
	OTP       OTPConfig
	RateLimit RateLimitConfig
	Store     StoreConfig
	Notifier  NotifierConfig
	Directory DirectoryConfig
}

type ServerConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Host               string
	Port               int
	MaxBodySize        int // in KB
	CORSAllowedOrigins []string
	// TrustedProxies are CIDR ranges whose X-Forwarded-For is believed.
	// Empty means the TCP peer address is the client address.
	TrustedProxies []string
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

type DatabaseConfig struct {
	DSN string
}

type OTPConfig struct { //nolint:govet // fieldalignment not critical for config structs
	TTL            time.Duration
	MaxAttempts    int
	CodeMin        int
	CodeMax        int
	SweepInterval  time.Duration
	RevealAttempts bool // include remaining_attempts in mismatch responses
}

type RateLimitConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Window time.Duration
	Limit  int
	Store  string // memory, redis
}

type StoreConfig struct {
	Driver   string // memory, sqlite, redis
	RedisURL string
}

type NotifierConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Driver  string // smtp, emailjs, nats, log
	Timeout time.Duration
	Locale  string // language of the email text
	SMTP    SMTPConfig
	EmailJS EmailJSConfig
	NATS    NATSConfig
}

type SMTPConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	TLS      bool
}

type EmailJSConfig struct {
	Endpoint    string
	ServiceID   string
	TemplateID  string
	UserID      string // public key
	AccessToken string // private key, optional
}

type NATSConfig struct {
	URL     string
	Subject string
}

type DirectoryConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Driver  string // none, sqlite, http
	URL     string
	Timeout time.Duration
}

var (
	storeDrivers     = []string{"memory", "sqlite", "redis"}
	rateLimitStores  = []string{"memory", "redis"}
	notifierDrivers  = []string{"smtp", "emailjs", "nats", "log"}
	directoryDrivers = []string{"none", "sqlite", "http"}
	logLevels        = []string{"debug", "info", "warn", "error"}
	logFormats       = []string{"text", "json"}
)

func NewFromCLI(cmd *cli.Command) *Config {
	return &Config{
		Server: ServerConfig{
			Host:               cmd.String("host"),
			Port:               int(cmd.Int("port")),
			MaxBodySize:        int(cmd.Int("max-body-size")),
			CORSAllowedOrigins: ParseOrigins(cmd.String("cors-allowed-origins")),
			TrustedProxies:     ParseOrigins(cmd.String("trusted-proxies")),
		},
		Log: LogConfig{
			Level:  cmd.String("log-level"),
			Format: cmd.String("log-format"),
		},
		Database: DatabaseConfig{
			DSN: cmd.String("database-dsn"),
		},
		OTP: OTPConfig{
			TTL:            cmd.Duration("otp-ttl"),
			MaxAttempts:    int(cmd.Int("otp-max-attempts")),
			CodeMin:        int(cmd.Int("otp-code-min")),
			CodeMax:        int(cmd.Int("otp-code-max")),
			SweepInterval:  cmd.Duration("otp-sweep-interval"),
			RevealAttempts: cmd.Bool("otp-reveal-attempts"),
		},
		RateLimit: RateLimitConfig{
			Window: cmd.Duration("ratelimit-window"),
			Limit:  int(cmd.Int("ratelimit-limit")),
			Store:  strings.ToLower(cmd.String("ratelimit-store")),
		},
		Store: StoreConfig{
			Driver:   strings.ToLower(cmd.String("store-driver")),
			RedisURL: cmd.String("redis-url"),
		},
		Notifier: NotifierConfig{
			Driver:  strings.ToLower(cmd.String("notifier-driver")),
			Timeout: cmd.Duration("notifier-timeout"),
			Locale:  cmd.String("notifier-locale"),
			SMTP: SMTPConfig{
				Host:     cmd.String("smtp-host"),
				Port:     int(cmd.Int("smtp-port")),
				Username: cmd.String("smtp-username"),
				Password: cmd.String("smtp-password"),
				From:     cmd.String("smtp-from"),
				FromName: cmd.String("smtp-from-name"),
				TLS:      cmd.Bool("smtp-tls"),
			},
			EmailJS: EmailJSConfig{
				Endpoint:    cmd.String("emailjs-endpoint"),
				ServiceID:   cmd.String("emailjs-service-id"),
				TemplateID:  cmd.String("emailjs-template-id"),
				UserID:      cmd.String("emailjs-user-id"),
				AccessToken: cmd.String("emailjs-access-token"),
			},
			NATS: NATSConfig{
				URL:     cmd.String("nats-url"),
				Subject: cmd.String("nats-subject"),
			},
		},
		Directory: DirectoryConfig{
			Driver:  strings.ToLower(cmd.String("directory-driver")),
			URL:     cmd.String("directory-url"),
			Timeout: cmd.Duration("directory-timeout"),
		},
	}
}

// ParseOrigins splits a comma separated list such as CORS origins or proxy
// ranges, dropping blanks and duplicates.
func ParseOrigins(raw string) []string {
	origins := lo.Map(strings.Split(raw, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	})
	return lo.Uniq(lo.Compact(origins))
}

// NeedsRedis reports whether any component is backed by Redis.
func (c *Config) NeedsRedis() bool {
	return c.Store.Driver == "redis" || c.RateLimit.Store == "redis"
}

// NeedsDatabase reports whether any component is backed by SQLite.
func (c *Config) NeedsDatabase() bool {
	return c.Store.Driver == "sqlite" || c.Directory.Driver == "sqlite"
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	oneOf := func(name, value string, allowed []string) {
		check(slices.Contains(allowed, value), "%s must be one of %s, got %q", name, strings.Join(allowed, ", "), value)
	}

	check(c.Server.Port > 0 && c.Server.Port < 65536, "port must be between 1 and 65535, got %d", c.Server.Port)
	check(c.Server.MaxBodySize > 0, "max-body-size must be positive")
	for _, cidr := range c.Server.TrustedProxies {
		_, _, err := net.ParseCIDR(cidr)
		check(err == nil, "trusted-proxies: invalid CIDR %q", cidr)
	}
	oneOf("log-level", strings.ToLower(c.Log.Level), logLevels)
	oneOf("log-format", strings.ToLower(c.Log.Format), logFormats)

	check(c.OTP.TTL > 0, "otp-ttl must be positive")
	check(c.OTP.MaxAttempts >= 1, "otp-max-attempts must be at least 1")
	check(c.OTP.CodeMin >= 0 && c.OTP.CodeMin <= c.OTP.CodeMax, "otp-code-min must be between 0 and otp-code-max")
	check(c.OTP.SweepInterval > 0, "otp-sweep-interval must be positive")

	check(c.RateLimit.Window > 0, "ratelimit-window must be positive")
	check(c.RateLimit.Limit >= 1, "ratelimit-limit must be at least 1")
	oneOf("ratelimit-store", c.RateLimit.Store, rateLimitStores)

	oneOf("store-driver", c.Store.Driver, storeDrivers)
	if c.NeedsRedis() {
		check(c.Store.RedisURL != "", "redis-url is required for redis backends")
	}

	oneOf("notifier-driver", c.Notifier.Driver, notifierDrivers)
	switch c.Notifier.Driver {
	case "smtp":
		check(c.Notifier.SMTP.Host != "", "smtp-host is required")
		check(c.Notifier.SMTP.From != "", "smtp-from is required")
	case "emailjs":
		check(c.Notifier.EmailJS.ServiceID != "", "emailjs-service-id is required")
		check(c.Notifier.EmailJS.TemplateID != "", "emailjs-template-id is required")
		check(c.Notifier.EmailJS.UserID != "", "emailjs-user-id is required")
	case "nats":
		check(c.Notifier.NATS.URL != "", "nats-url is required")
		check(c.Notifier.NATS.Subject != "", "nats-subject is required")
	}

	oneOf("directory-driver", c.Directory.Driver, directoryDrivers)
	if c.Directory.Driver == "http" {
		check(c.Directory.URL != "", "directory-url is required for the http directory")
	}

	return errors.Join(errs...)
}

func Flags() []cli.Flag {
	return []cli.Flag{
		// Server flags
		&cli.StringFlag{
			Name:    "host",
			Value:   "localhost",
			Usage:   "Host to bind to",
			Sources: cli.NewValueSourceChain(cli.EnvVar("HOST"), toml.TOML("server.host", configFile)),
		},
		&cli.IntFlag{
			Name:    "port",
			Value:   3000,
			Usage:   "Port to listen on",
			Sources: cli.NewValueSourceChain(cli.EnvVar("PORT"), toml.TOML("server.port", configFile)),
		},
		&cli.IntFlag{
			Name:    "max-body-size",
			Value:   16,
			Usage:   "Maximum request body size in KB",
			Sources: cli.NewValueSourceChain(cli.EnvVar("MAX_BODY_SIZE"), toml.TOML("server.max_body_size", configFile)),
		},
		&cli.StringFlag{
			Name:    "cors-allowed-origins",
			Value:   "*",
			Usage:   "Comma separated list of allowed CORS origins",
			Sources: cli.NewValueSourceChain(cli.EnvVar("CORS_ALLOWED_ORIGINS"), toml.TOML("server.cors_allowed_origins", configFile)),
		},
		&cli.StringFlag{
			Name:    "trusted-proxies",
			Usage:   "Comma separated CIDR ranges of reverse proxies allowed to set X-Forwarded-For",
			Sources: cli.NewValueSourceChain(cli.EnvVar("TRUSTED_PROXIES"), toml.TOML("server.trusted_proxies", configFile)),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Usage:   "Log level (debug, info, warn, error)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("LOG_LEVEL"), toml.TOML("log.level", configFile)),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Value:   "text",
			Usage:   "Log format (text, json)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("LOG_FORMAT"), toml.TOML("log.format", configFile)),
		},
		&cli.StringFlag{
			Name:    "database-dsn",
			Value:   "./data/mailotp.db",
			Usage:   "Database DSN",
			Sources: cli.NewValueSourceChain(cli.EnvVar("DATABASE_DSN"), toml.TOML("database.dsn", configFile)),
		},
		// OTP flags
		&cli.DurationFlag{
			Name:    "otp-ttl",
			Value:   5 * time.Minute,
			Usage:   "Lifetime of an issued code",
			Sources: cli.NewValueSourceChain(cli.EnvVar("OTP_TTL"), toml.TOML("otp.ttl", configFile)),
		},
		&cli.IntFlag{
			Name:    "otp-max-attempts",
			Value:   3,
			Usage:   "Failed verifications allowed per code",
			Sources: cli.NewValueSourceChain(cli.EnvVar("OTP_MAX_ATTEMPTS"), toml.TOML("otp.max_attempts", configFile)),
		},
		&cli.IntFlag{
			Name:    "otp-code-min",
			Value:   1000,
			Usage:   "Smallest code value",
			Sources: cli.NewValueSourceChain(cli.EnvVar("OTP_CODE_MIN"), toml.TOML("otp.code_min", configFile)),
		},
		&cli.IntFlag{
			Name:    "otp-code-max",
			Value:   9999,
			Usage:   "Largest code value",
			Sources: cli.NewValueSourceChain(cli.EnvVar("OTP_CODE_MAX"), toml.TOML("otp.code_max", configFile)),
		},
		&cli.DurationFlag{
			Name:    "otp-sweep-interval",
			Value:   time.Minute,
			Usage:   "How often expired codes are removed",
			Sources: cli.NewValueSourceChain(cli.EnvVar("OTP_SWEEP_INTERVAL"), toml.TOML("otp.sweep_interval", configFile)),
		},
		&cli.BoolFlag{
			Name:    "otp-reveal-attempts",
			Usage:   "Report remaining attempts after a wrong code",
			Sources: cli.NewValueSourceChain(cli.EnvVar("OTP_REVEAL_ATTEMPTS"), toml.TOML("otp.reveal_attempts", configFile)),
		},
		// Rate limit flags
		&cli.DurationFlag{
			Name:    "ratelimit-window",
			Value:   15 * time.Minute,
			Usage:   "Rate limit window for issue requests",
			Sources: cli.NewValueSourceChain(cli.EnvVar("RATELIMIT_WINDOW"), toml.TOML("ratelimit.window", configFile)),
		},
		&cli.IntFlag{
			Name:    "ratelimit-limit",
			Value:   5,
			Usage:   "Issue requests allowed per client per window",
			Sources: cli.NewValueSourceChain(cli.EnvVar("RATELIMIT_LIMIT"), toml.TOML("ratelimit.limit", configFile)),
		},
		&cli.StringFlag{
			Name:    "ratelimit-store",
			Value:   "memory",
			Usage:   "Rate limit backend (memory, redis)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("RATELIMIT_STORE"), toml.TOML("ratelimit.store", configFile)),
		},
		// Store flags
		&cli.StringFlag{
			Name:    "store-driver",
			Value:   "memory",
			Usage:   "OTP store backend (memory, sqlite, redis)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("STORE_DRIVER"), toml.TOML("store.driver", configFile)),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Value:   "redis://localhost:6379/0",
			Usage:   "Redis URL for redis backends",
			Sources: cli.NewValueSourceChain(cli.EnvVar("REDIS_URL"), toml.TOML("store.redis_url", configFile)),
		},
		// Notifier flags
		&cli.StringFlag{
			Name:    "notifier-driver",
			Value:   "smtp",
			Usage:   "Code delivery (smtp, emailjs, nats, log)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("NOTIFIER_DRIVER"), toml.TOML("notifier.driver", configFile)),
		},
		&cli.DurationFlag{
			Name:    "notifier-timeout",
			Value:   10 * time.Second,
			Usage:   "Timeout for a single delivery",
			Sources: cli.NewValueSourceChain(cli.EnvVar("NOTIFIER_TIMEOUT"), toml.TOML("notifier.timeout", configFile)),
		},
		&cli.StringFlag{
			Name:    "notifier-locale",
			Value:   "en",
			Usage:   "Language of the code email (en, de)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("NOTIFIER_LOCALE"), toml.TOML("notifier.locale", configFile)),
		},
		&cli.StringFlag{
			Name:    "smtp-host",
			Usage:   "SMTP server host",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_HOST"), toml.TOML("smtp.host", configFile)),
		},
		&cli.IntFlag{
			Name:    "smtp-port",
			Value:   587,
			Usage:   "SMTP server port",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_PORT"), toml.TOML("smtp.port", configFile)),
		},
		&cli.StringFlag{
			Name:    "smtp-username",
			Usage:   "SMTP username",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_USERNAME"), toml.TOML("smtp.username", configFile)),
		},
		&cli.StringFlag{
			Name:    "smtp-password",
			Usage:   "SMTP password",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_PASSWORD"), toml.TOML("smtp.password", configFile)),
		},
		&cli.StringFlag{
			Name:    "smtp-from",
			Usage:   "Sender address",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_FROM"), toml.TOML("smtp.from", configFile)),
		},
		&cli.StringFlag{
			Name:    "smtp-from-name",
			Usage:   "Sender display name",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_FROM_NAME"), toml.TOML("smtp.from_name", configFile)),
		},
		&cli.BoolFlag{
			Name:    "smtp-tls",
			Value:   true,
			Usage:   "Require TLS for SMTP",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_TLS"), toml.TOML("smtp.tls", configFile)),
		},
		&cli.StringFlag{
			Name:    "emailjs-endpoint",
			Value:   "https://api.emailjs.com/api/v1.0/email/send",
			Usage:   "EmailJS send endpoint",
			Sources: cli.NewValueSourceChain(cli.EnvVar("EMAILJS_ENDPOINT"), toml.TOML("emailjs.endpoint", configFile)),
		},
		&cli.StringFlag{
			Name:    "emailjs-service-id",
			Usage:   "EmailJS service ID",
			Sources: cli.NewValueSourceChain(cli.EnvVar("EMAILJS_SERVICE_ID"), toml.TOML("emailjs.service_id", configFile)),
		},
		&cli.StringFlag{
			Name:    "emailjs-template-id",
			Usage:   "EmailJS template ID",
			Sources: cli.NewValueSourceChain(cli.EnvVar("EMAILJS_TEMPLATE_ID"), toml.TOML("emailjs.template_id", configFile)),
		},
		&cli.StringFlag{
			Name:    "emailjs-user-id",
			Usage:   "EmailJS public key",
			Sources: cli.NewValueSourceChain(cli.EnvVar("EMAILJS_USER_ID"), toml.TOML("emailjs.user_id", configFile)),
		},
		&cli.StringFlag{
			Name:    "emailjs-access-token",
			Usage:   "EmailJS private key (optional)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("EMAILJS_ACCESS_TOKEN"), toml.TOML("emailjs.access_token", configFile)),
		},
		&cli.StringFlag{
			Name:    "nats-url",
			Value:   "nats://localhost:4222",
			Usage:   "NATS server URL",
			Sources: cli.NewValueSourceChain(cli.EnvVar("NATS_URL"), toml.TOML("nats.url", configFile)),
		},
		&cli.StringFlag{
			Name:    "nats-subject",
			Value:   "mailotp.codes",
			Usage:   "NATS subject codes are published to",
			Sources: cli.NewValueSourceChain(cli.EnvVar("NATS_SUBJECT"), toml.TOML("nats.subject", configFile)),
		},
		// Directory flags
		&cli.StringFlag{
			Name:    "directory-driver",
			Value:   "none",
			Usage:   "User directory (none, sqlite, http)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("DIRECTORY_DRIVER"), toml.TOML("directory.driver", configFile)),
		},
		&cli.StringFlag{
			Name:    "directory-url",
			Usage:   "Lookup URL for the http directory",
			Sources: cli.NewValueSourceChain(cli.EnvVar("DIRECTORY_URL"), toml.TOML("directory.url", configFile)),
		},
		&cli.DurationFlag{
			Name:    "directory-timeout",
			Value:   5 * time.Second,
			Usage:   "Timeout for a single directory lookup",
			Sources: cli.NewValueSourceChain(cli.EnvVar("DIRECTORY_TIMEOUT"), toml.TOML("directory.timeout", configFile)),
		},
	}
}
