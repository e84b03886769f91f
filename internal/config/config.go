// Package config loads the process configuration of the forum engine from
// the environment. Values resolve in priority order:
//
//	OS Environment -> .env file -> AWS SSM Parameter Store
//
// Configuration is read once at startup and is immutable afterwards. A
// missing required value or an invalid format fails startup.
package config

import (
	"time"

	"quora/internal/types"
)

// SecretString is types.SecretString, redacted in logs and JSON.
type SecretString = types.SecretString

// Config is the top-level configuration. Components receive only the
// section they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"quora"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Redis         RedisConfig
	Events        EventsConfig
	Email         EmailConfig
	Forum         ForumConfig
	Choice        ChoiceConfig
	Observability ObservabilityConfig

	// Injected via ldflags, not the environment.
	Build BuildInfo
}

// ServerConfig holds the HTTP listener settings of cmd/api.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds the PostgreSQL connection and pool tuning.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds the region and resource identifiers.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// EventQueueURL is the SQS queue receiving forum events when
	// EVENTS_BACKEND=sqs.
	EventQueueURL string `envconfig:"SQS_EVENTS" validate:"omitempty,url"`

	// LocalStack support; empty in production.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// RedisConfig configures the randchoice submission lock.
type RedisConfig struct {
	Addr     string       `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password SecretString `envconfig:"REDIS_PASSWORD"`
	DB       int          `envconfig:"REDIS_DB" default:"0"`
}

// EventsConfig selects where observational events are published.
type EventsConfig struct {
	Backend string `envconfig:"EVENTS_BACKEND" default:"sqs" validate:"oneof=sqs nsq none"`

	NSQDAddr string `envconfig:"NSQD_ADDR" default:"localhost:4150"`
	NSQTopic string `envconfig:"NSQ_TOPIC" default:"quora_events"`
}

// EmailConfig selects and configures the mail provider.
type EmailConfig struct {
	Provider       string        `envconfig:"EMAIL_PROVIDER" default:"ses" validate:"oneof=ses sendgrid log"`
	SendGridAPIKey SecretString  `envconfig:"SENDGRID_API_KEY"`
	ConfigSetName  string        `envconfig:"SES_CONFIGURATION_SET"`
	FromAddress    string        `envconfig:"EMAIL_FROM_ADDRESS" default:"noreply@example.com" validate:"required,email"`
	FromName       string        `envconfig:"EMAIL_FROM_NAME" default:"Forum"`
	Timeout        time.Duration `envconfig:"EMAIL_TIMEOUT" default:"10s"`
}

// ForumConfig holds the site-wide forum settings.
type ForumConfig struct {
	TrackReadPosts          bool          `envconfig:"FORUM_TRACK_READ_POSTS" default:"true"`
	AllowForcedReadTracking bool          `envconfig:"FORUM_ALLOW_FORCED_READ_TRACKING" default:"false"`
	OldPostDays             int           `envconfig:"FORUM_OLD_POST_DAYS" default:"14" validate:"min=1"`
	MaxEditingTime          time.Duration `envconfig:"FORUM_MAX_EDITING_TIME" default:"30m"`
	DigestMailHour          int           `envconfig:"FORUM_DIGEST_MAIL_TIME" default:"17" validate:"min=0,max=23"`
	UserMarksRead           bool          `envconfig:"FORUM_USERMARKS_READ" default:"false"`
	RecipientCacheLimit     int           `envconfig:"FORUM_RECIPIENT_CACHE_LIMIT" default:"5000" validate:"min=1"`
	Timezone                string        `envconfig:"FORUM_TIMEZONE" default:"UTC" validate:"timezone"`
	WWWRoot                 string        `envconfig:"FORUM_WWWROOT" default:"http://localhost" validate:"required,url"`
}

// Settings converts the section into the value consumed by the services.
func (c ForumConfig) Settings() types.SiteSettings {
	return types.SiteSettings{
		TrackReadPosts:          c.TrackReadPosts,
		AllowForcedReadTracking: c.AllowForcedReadTracking,
		OldPostDays:             c.OldPostDays,
		MaxEditingTime:          c.MaxEditingTime,
		DigestMailHour:          c.DigestMailHour,
		UserMarksRead:           c.UserMarksRead,
		RecipientCacheLimit:     c.RecipientCacheLimit,
		Timezone:                c.Timezone,
		WWWRoot:                 c.WWWRoot,
	}
}

// ChoiceConfig tunes the randchoice submission lock.
type ChoiceConfig struct {
	LockTimeout time.Duration `envconfig:"CHOICE_LOCK_TIMEOUT" default:"5s"`
	LockTTL     time.Duration `envconfig:"CHOICE_LOCK_TTL" default:"30s"`
}

// ObservabilityConfig holds metric settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Quora"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
