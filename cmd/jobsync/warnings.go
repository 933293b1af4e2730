package main

import (
	"log"

	"jobsync/internal/config"
)

// logConfigWarnings flags configuration combinations that are valid but
// likely not what an operator running serve mode wants.
func logConfigWarnings(cfg *config.Config) {
	if cfg.DatabaseURL == "" {
		log.Println("jobsync: INFO: DATABASE_URL not set; using file lock and JSONL history, reconciler unavailable")
	}

	if cfg.DatabaseURL != "" && !cfg.ReconcileEnabled {
		log.Println("jobsync: WARNING: RECONCILE_ENABLED=false with a database configured; " +
			"runs interrupted by a crash stay non-terminal in history forever")
	}

	if !cfg.CatchUp {
		log.Println("jobsync: INFO: CATCH_UP not set; a window missed while the daemon was down waits for the next scheduled fire")
	}

	if cfg.PushOnNoChange {
		log.Println("jobsync: WARNING: PUSH_ON_NO_CHANGE=true; every run contacts the remote even when nothing was committed")
	}

	if !cfg.MetricsEnabled {
		log.Println("jobsync: INFO: METRICS_ENABLED not set; metrics disabled")
	}

	if cfg.RedisAddr == "" {
		log.Println("jobsync: INFO: REDIS_ADDR not set; analytics disabled")
	}

	if cfg.NotifyURL == "" {
		log.Println("jobsync: INFO: NOTIFY_URL not set; completion webhook disabled")
	}

	if cfg.NotifyURL != "" && cfg.NotifySecret == "" {
		log.Println("jobsync: WARNING: NOTIFY_URL set without NOTIFY_SECRET; webhook deliveries are unsigned")
	}
}
