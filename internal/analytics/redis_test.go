package analytics

import (
	"testing"
	"time"

	"jobsync/internal/domain"
	"jobsync/internal/testutil"
)

func TestBuildKey_DayBucket(t *testing.T) {
	at := time.Date(2025, 3, 14, 23, 59, 0, 0, time.UTC)

	key := buildKey("pushed", at)
	if key != "jobsync:runs:pushed:20250314" {
		t.Errorf("buildKey = %q", key)
	}
}

func TestBuildKey_NormalizesToUTC(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	// 22:00 EST on March 14 is already March 15 in UTC.
	at := time.Date(2025, 3, 14, 22, 0, 0, 0, loc)

	key := buildKey("no_change", at)
	if key != "jobsync:runs:no_change:20250315" {
		t.Errorf("buildKey = %q", key)
	}
}

func TestRecord_DisabledSkipsRedis(t *testing.T) {
	// A nil client would panic on any call; disabled config must return first.
	sink := NewRedisSink(nil, domain.AnalyticsConfig{Enabled: false})

	sink.Record(testutil.TestContext(t), domain.Run{
		ID:         testutil.MustParseUUID("a2b16a30-0f5c-4196-9ebd-d49d01cb2b08"),
		Status:     domain.RunStatusPushed,
		FinishedAt: time.Now(),
	})
}
