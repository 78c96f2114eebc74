// Package config defines the global configuration structure for the daybook
// service. Configuration is loaded once at process startup and is immutable
// thereafter, following 12-Factor principles. Any missing required value or
// invalid format fails the process immediately.
package config

import (
	"time"

	"daybook/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Sub-components receive only the
// specific config subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"daybook"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server   ServerConfig
	Database DatabaseConfig
	Slack    SlackConfig
	Auth     AuthConfig
	Schedule ScheduleConfig
	Recovery RecoveryConfig
}

// ServerConfig holds HTTP listener configuration.
type ServerConfig struct {
	Port              int           `envconfig:"PORT" default:"8080" validate:"min=1,max=65535"`
	ReadHeaderTimeout time.Duration `envconfig:"SERVER_READ_HEADER_TIMEOUT" default:"5s"`
	ShutdownTimeout   time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// SlackConfig holds the chat platform credentials and identity.
type SlackConfig struct {
	BotToken  SecretString `envconfig:"SLACK_BOT_TOKEN" validate:"required"`
	BotUserID string       `envconfig:"SLACK_BOT_USER_ID" validate:"required"`
}

// AuthConfig holds the operator credential for the control-plane endpoints.
// The hash is a bcrypt digest of the operator bearer token.
type AuthConfig struct {
	OperatorTokenHash SecretString `envconfig:"OPERATOR_TOKEN_HASH" validate:"required"`
}

// ScheduleConfig tunes the report scheduler.
type ScheduleConfig struct {
	// StaticReportTime is the UTC fallback broadcast time, "HH:MM".
	StaticReportTime string        `envconfig:"SCHEDULE_STATIC_REPORT_TIME" default:"18:30" validate:"required"`
	PollInterval     time.Duration `envconfig:"SCHEDULE_POLL_INTERVAL" default:"1m" validate:"min=1s"`
	DeliveryTimeout  time.Duration `envconfig:"SCHEDULE_DELIVERY_TIMEOUT" default:"30s"`
}

// RecoveryConfig tunes the suspend/wake message recovery engine.
type RecoveryConfig struct {
	// ServiceTimezone anchors the expected-resume calculation for suspend
	// cycles. Per-user recovery windows use each user's own timezone.
	ServiceTimezone string        `envconfig:"RECOVERY_SERVICE_TIMEZONE" default:"Asia/Tokyo" validate:"required,is_timezone"`
	MessageDelay    time.Duration `envconfig:"RECOVERY_MESSAGE_DELAY" default:"500ms"`
	FetchTimeout    time.Duration `envconfig:"RECOVERY_FETCH_TIMEOUT" default:"15s"`
	// SummaryUserID receives the post-recovery summary message. Empty
	// disables the summary.
	SummaryUserID string `envconfig:"RECOVERY_SUMMARY_USER_ID"`
}
