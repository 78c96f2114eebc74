// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Load a .env file via godotenv (non-fatal if absent).
//  2. Use envconfig to process struct tags and populate the Config struct.
//  3. Validate the struct using go-playground/validator, including the
//     custom is_timezone rule.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// LoadConfig loads and validates the daybook configuration. Validation
// failures report every offending field at once, so a misconfigured deploy
// surfaces all problems in a single pass.
func LoadConfig() (*Config, error) {
	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing environment config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the populated config against its struct tags. Exposed
// separately so tests can validate hand-built configs.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.RegisterValidation("is_timezone", validateTimezone); err != nil {
		return fmt.Errorf("registering timezone validation: %w", err)
	}

	if err := v.Struct(cfg); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			return fmt.Errorf("invalid configuration: %s", describeValidationErrors(errs))
		}
		return fmt.Errorf("validating configuration: %w", err)
	}

	var hour, minute int
	if _, err := fmt.Sscanf(cfg.Schedule.StaticReportTime, "%d:%d", &hour, &minute); err != nil ||
		hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("invalid configuration: SCHEDULE_STATIC_REPORT_TIME %q must be HH:MM", cfg.Schedule.StaticReportTime)
	}

	return nil
}

// validateTimezone implements the is_timezone rule against the system tz
// database.
func validateTimezone(fl validator.FieldLevel) bool {
	_, err := time.LoadLocation(fl.Field().String())
	return err == nil
}

// describeValidationErrors flattens validator errors into a single readable
// message listing each failing field and rule.
func describeValidationErrors(errs validator.ValidationErrors) string {
	msg := ""
	for i, fe := range errs {
		if i > 0 {
			msg += "; "
		}
		msg += fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
	}
	return msg
}
