package config

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Config holds all configuration for the jobsync application.
// Values are loaded from environment variables; see printUsage() for the full list.
type Config struct {
	// Repository and artifact.
	WorkingDir   string `json:"working_dir"`
	RemoteName   string `json:"remote_name"`
	Branch       string `json:"branch"`
	ArtifactPath string `json:"artifact_path"`

	// Producer.
	ScraperCmd        string        `json:"scraper_cmd"`
	ScraperTimeout    time.Duration `json:"-"`
	ScraperTimeoutStr string        `json:"scraper_timeout"`

	PushTimeout    time.Duration `json:"-"`
	PushTimeoutStr string        `json:"push_timeout"`
	PushOnNoChange bool          `json:"push_on_no_change"`

	// Run lock. DATABASE_URL switches the lock to a Postgres advisory lock;
	// all instances sharing the database must use the same LockKey.
	LockFile string `json:"lock_file"`
	LockKey  int64  `json:"lock_key"`

	// Run log and history.
	RunLogPath  string `json:"run_log_path"`
	HistoryPath string `json:"history_path"`
	DatabaseURL string `json:"database_url,omitempty"`

	// Schedule.
	CronExpression string `json:"cron_expression"`
	Timezone       string `json:"timezone"`
	CatchUp        bool   `json:"catch_up"`

	TriggerBufferSize int `json:"trigger_buffer_size"`

	// HTTP status API.
	HTTPAddr               string        `json:"http_addr"`
	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`

	// Redis analytics (disabled when RedisAddr is empty).
	RedisAddr             string        `json:"redis_addr,omitempty"`
	AnalyticsRetention    time.Duration `json:"-"`
	AnalyticsRetentionStr string        `json:"analytics_retention"`

	// Completion webhook (disabled when NotifyURL is empty).
	NotifyURL        string        `json:"notify_url,omitempty"`
	NotifySecret     string        `json:"notify_secret,omitempty"`
	NotifyTimeout    time.Duration `json:"-"`
	NotifyTimeoutStr string        `json:"notify_timeout"`

	// Reconciler (requires DATABASE_URL).
	ReconcileEnabled     bool          `json:"reconcile_enabled"`
	ReconcileInterval    time.Duration `json:"-"`
	ReconcileIntervalStr string        `json:"reconcile_interval"`

	// ReconcileThreshold must comfortably exceed ScraperTimeout + PushTimeout.
	ReconcileThreshold    time.Duration `json:"-"`
	ReconcileThresholdStr string        `json:"reconcile_threshold"`

	ReconcileBatchSize int `json:"reconcile_batch_size"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		WorkingDir:             os.Getenv("WORKING_DIR"),
		RemoteName:             os.Getenv("REMOTE_NAME"),
		Branch:                 os.Getenv("BRANCH"),
		ArtifactPath:           os.Getenv("ARTIFACT_PATH"),
		ScraperCmd:             os.Getenv("SCRAPER_CMD"),
		ScraperTimeoutStr:      os.Getenv("SCRAPER_TIMEOUT"),
		PushTimeoutStr:         os.Getenv("PUSH_TIMEOUT"),
		PushOnNoChange:         os.Getenv("PUSH_ON_NO_CHANGE") == "true",
		LockFile:               os.Getenv("LOCK_FILE"),
		RunLogPath:             os.Getenv("RUN_LOG_PATH"),
		HistoryPath:            os.Getenv("HISTORY_PATH"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		CronExpression:         os.Getenv("CRON_EXPRESSION"),
		Timezone:               os.Getenv("TIMEZONE"),
		CatchUp:                os.Getenv("CATCH_UP") == "true",
		HTTPAddr:               os.Getenv("HTTP_ADDR"),
		HTTPShutdownTimeoutStr: os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		MetricsEnabled:         os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:            os.Getenv("METRICS_PATH"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		AnalyticsRetentionStr:  os.Getenv("ANALYTICS_RETENTION"),
		NotifyURL:              os.Getenv("NOTIFY_URL"),
		NotifySecret:           os.Getenv("NOTIFY_SECRET"),
		NotifyTimeoutStr:       os.Getenv("NOTIFY_TIMEOUT"),
		ReconcileEnabled:       os.Getenv("RECONCILE_ENABLED") == "true",
		ReconcileIntervalStr:   os.Getenv("RECONCILE_INTERVAL"),
		ReconcileThresholdStr:  os.Getenv("RECONCILE_THRESHOLD"),
	}

	if lockKeyStr := os.Getenv("LOCK_KEY"); lockKeyStr != "" {
		if n, err := parseInt(lockKeyStr); err == nil && n > 0 {
			cfg.LockKey = int64(n)
		} else {
			log.Printf("config: invalid LOCK_KEY %q (must be a positive integer), using default 911207", lockKeyStr)
		}
	}
	if cfg.LockKey == 0 {
		cfg.LockKey = 911207
	}

	if bufStr := os.Getenv("TRIGGER_BUFFER_SIZE"); bufStr != "" {
		if n, err := parseInt(bufStr); err == nil && n > 0 {
			cfg.TriggerBufferSize = n
		} else {
			log.Printf("config: invalid TRIGGER_BUFFER_SIZE %q (must be a positive integer), using default 1", bufStr)
		}
	}
	if cfg.TriggerBufferSize == 0 {
		cfg.TriggerBufferSize = 1
	}

	if batchStr := os.Getenv("RECONCILE_BATCH_SIZE"); batchStr != "" {
		if n, err := parseInt(batchStr); err == nil && n > 0 {
			cfg.ReconcileBatchSize = n
		}
	}
	if cfg.ReconcileBatchSize == 0 {
		cfg.ReconcileBatchSize = 50
	}

	if cfg.WorkingDir == "" {
		cfg.WorkingDir = "."
	}
	if cfg.RemoteName == "" {
		cfg.RemoteName = "origin"
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.ArtifactPath == "" {
		cfg.ArtifactPath = "jobs.json"
	}
	if cfg.ScraperTimeoutStr == "" {
		cfg.ScraperTimeoutStr = "10m"
	}
	if cfg.PushTimeoutStr == "" {
		cfg.PushTimeoutStr = "2m"
	}
	if cfg.LockFile == "" {
		cfg.LockFile = "jobsync.lock"
	}
	if cfg.RunLogPath == "" {
		cfg.RunLogPath = "runs.log"
	}
	if cfg.HistoryPath == "" {
		cfg.HistoryPath = "history/runs.jsonl"
	}
	if cfg.CronExpression == "" {
		cfg.CronExpression = "0 6 * * *"
	}
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.AnalyticsRetentionStr == "" {
		cfg.AnalyticsRetentionStr = "720h"
	}
	if cfg.NotifyTimeoutStr == "" {
		cfg.NotifyTimeoutStr = "30s"
	}
	if cfg.ReconcileIntervalStr == "" {
		cfg.ReconcileIntervalStr = "10m"
	}
	if cfg.ReconcileThresholdStr == "" {
		cfg.ReconcileThresholdStr = "1h"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.ScraperTimeoutStr); err == nil {
		cfg.ScraperTimeout = d
	}
	if d, err := time.ParseDuration(cfg.PushTimeoutStr); err == nil {
		cfg.PushTimeout = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.AnalyticsRetentionStr); err == nil {
		cfg.AnalyticsRetention = d
	}
	if d, err := time.ParseDuration(cfg.NotifyTimeoutStr); err == nil {
		cfg.NotifyTimeout = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileIntervalStr); err == nil {
		cfg.ReconcileInterval = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileThresholdStr); err == nil {
		cfg.ReconcileThreshold = d
	}

	return cfg
}

// parseInt parses a string as an integer.
func parseInt(s string) (int, error) {
	if s == "" {
		return 0, os.ErrInvalid
	}
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		WorkingDir          string `json:"working_dir"`
		RemoteName          string `json:"remote_name"`
		Branch              string `json:"branch"`
		ArtifactPath        string `json:"artifact_path"`
		ScraperCmd          string `json:"scraper_cmd"`
		ScraperTimeout      string `json:"scraper_timeout"`
		PushTimeout         string `json:"push_timeout"`
		PushOnNoChange      bool   `json:"push_on_no_change"`
		LockFile            string `json:"lock_file"`
		LockKey             int64  `json:"lock_key"`
		RunLogPath          string `json:"run_log_path"`
		HistoryPath         string `json:"history_path"`
		DatabaseURL         string `json:"database_url,omitempty"`
		CronExpression      string `json:"cron_expression"`
		Timezone            string `json:"timezone,omitempty"`
		CatchUp             bool   `json:"catch_up"`
		TriggerBufferSize   int    `json:"trigger_buffer_size"`
		HTTPAddr            string `json:"http_addr"`
		HTTPShutdownTimeout string `json:"http_shutdown_timeout"`
		MetricsEnabled      bool   `json:"metrics_enabled"`
		MetricsPath         string `json:"metrics_path"`
		RedisAddr           string `json:"redis_addr,omitempty"`
		AnalyticsRetention  string `json:"analytics_retention"`
		NotifyURL           string `json:"notify_url,omitempty"`
		NotifySecret        string `json:"notify_secret,omitempty"`
		NotifyTimeout       string `json:"notify_timeout"`
		ReconcileEnabled    bool   `json:"reconcile_enabled"`
		ReconcileInterval   string `json:"reconcile_interval"`
		ReconcileThreshold  string `json:"reconcile_threshold"`
		ReconcileBatchSize  int    `json:"reconcile_batch_size"`
	}{
		WorkingDir:          c.WorkingDir,
		RemoteName:          c.RemoteName,
		Branch:              c.Branch,
		ArtifactPath:        c.ArtifactPath,
		ScraperCmd:          c.ScraperCmd,
		ScraperTimeout:      c.ScraperTimeoutStr,
		PushTimeout:         c.PushTimeoutStr,
		PushOnNoChange:      c.PushOnNoChange,
		LockFile:            c.LockFile,
		LockKey:             c.LockKey,
		RunLogPath:          c.RunLogPath,
		HistoryPath:         c.HistoryPath,
		DatabaseURL:         maskSecret(c.DatabaseURL),
		CronExpression:      c.CronExpression,
		Timezone:            c.Timezone,
		CatchUp:             c.CatchUp,
		TriggerBufferSize:   c.TriggerBufferSize,
		HTTPAddr:            c.HTTPAddr,
		HTTPShutdownTimeout: c.HTTPShutdownTimeoutStr,
		MetricsEnabled:      c.MetricsEnabled,
		MetricsPath:         c.MetricsPath,
		RedisAddr:           c.RedisAddr,
		AnalyticsRetention:  c.AnalyticsRetentionStr,
		NotifyURL:           c.NotifyURL,
		NotifySecret:        maskValue(c.NotifySecret),
		NotifyTimeout:       c.NotifyTimeoutStr,
		ReconcileEnabled:    c.ReconcileEnabled,
		ReconcileInterval:   c.ReconcileIntervalStr,
		ReconcileThreshold:  c.ReconcileThresholdStr,
		ReconcileBatchSize:  c.ReconcileBatchSize,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}

func maskValue(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
