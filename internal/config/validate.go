package config

import (
	"fmt"
	"strings"
	"time"

	"jobsync/internal/cron"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// SCRAPER_CMD is required
	if strings.TrimSpace(cfg.ScraperCmd) == "" {
		errs = append(errs, ValidationError{
			Field:   "SCRAPER_CMD",
			Message: "required",
		})
	}

	// CRON_EXPRESSION and TIMEZONE must parse together
	if _, err := cron.NewParser().Parse(cfg.CronExpression, cfg.Timezone); err != nil {
		errs = append(errs, ValidationError{
			Field:   "CRON_EXPRESSION",
			Message: err.Error(),
		})
	}

	errs = append(errs, validateDuration("SCRAPER_TIMEOUT", cfg.ScraperTimeoutStr)...)
	errs = append(errs, validateDuration("PUSH_TIMEOUT", cfg.PushTimeoutStr)...)
	errs = append(errs, validateDuration("HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr)...)
	errs = append(errs, validateDuration("ANALYTICS_RETENTION", cfg.AnalyticsRetentionStr)...)
	errs = append(errs, validateDuration("NOTIFY_TIMEOUT", cfg.NotifyTimeoutStr)...)
	errs = append(errs, validateDuration("RECONCILE_INTERVAL", cfg.ReconcileIntervalStr)...)
	errs = append(errs, validateDuration("RECONCILE_THRESHOLD", cfg.ReconcileThresholdStr)...)

	// The reconciler reads orphans from the database; without one it has
	// nothing to scan.
	if cfg.ReconcileEnabled && cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "RECONCILE_ENABLED",
			Message: "requires DATABASE_URL",
		})
	}

	if cfg.ReconcileEnabled && cfg.ReconcileThreshold > 0 &&
		cfg.ReconcileThreshold <= cfg.ScraperTimeout+cfg.PushTimeout {
		errs = append(errs, ValidationError{
			Field:   "RECONCILE_THRESHOLD",
			Message: "must exceed SCRAPER_TIMEOUT + PUSH_TIMEOUT, or healthy runs get finalized as failed",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateDuration(field, value string) ValidationErrors {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return ValidationErrors{{Field: field, Message: fmt.Sprintf("invalid duration: %v", err)}}
	}
	if d <= 0 {
		return ValidationErrors{{Field: field, Message: "must be positive"}}
	}
	return nil
}
