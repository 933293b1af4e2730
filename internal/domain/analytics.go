package domain

import "time"

// AnalyticsConfig controls the optional run-outcome counters.
type AnalyticsConfig struct {
	Enabled   bool
	Retention time.Duration // TTL on each counter bucket
}
