package main

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"jobsync/internal/config"
	"jobsync/internal/domain"
)

// captureLogOutput calls logConfigWarnings with the given config and returns
// the captured log output as a string.
func captureLogOutput(cfg *config.Config) string {
	var buf bytes.Buffer
	original := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(original)

	logConfigWarnings(cfg)
	return buf.String()
}

func TestLogConfigWarnings_NoDatabase(t *testing.T) {
	cfg := &config.Config{MetricsEnabled: true, CatchUp: true}
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "DATABASE_URL not set") {
		t.Error("expected file-lock INFO, got:", output)
	}
	if strings.Contains(output, "RECONCILE_ENABLED=false with a database") {
		t.Error("did not expect reconciler warning without a database, got:", output)
	}
	if strings.Contains(output, "METRICS_ENABLED not set") {
		t.Error("did not expect metrics INFO when metrics enabled, got:", output)
	}
}

func TestLogConfigWarnings_DatabaseWithoutReconciler(t *testing.T) {
	cfg := &config.Config{DatabaseURL: "postgres://localhost/jobsync"}
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "RECONCILE_ENABLED=false with a database configured") {
		t.Error("expected reconciler warning, got:", output)
	}
}

func TestLogConfigWarnings_UnsignedWebhook(t *testing.T) {
	cfg := &config.Config{NotifyURL: "https://hooks.internal/jobsync"}
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "webhook deliveries are unsigned") {
		t.Error("expected unsigned webhook warning, got:", output)
	}

	cfg.NotifySecret = "s3cret"
	output = captureLogOutput(cfg)
	if strings.Contains(output, "webhook deliveries are unsigned") {
		t.Error("did not expect unsigned webhook warning with a secret set, got:", output)
	}
}

func TestLogConfigWarnings_PushOnNoChange(t *testing.T) {
	cfg := &config.Config{PushOnNoChange: true}
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "PUSH_ON_NO_CHANGE=true") {
		t.Error("expected push-on-no-change warning, got:", output)
	}
}

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		status domain.RunStatus
		want   int
	}{
		{domain.RunStatusPushed, exitSuccess},
		{domain.RunStatusNoChange, exitSuccess},
		{domain.RunStatusFailedProduce, exitFailedProduce},
		{domain.RunStatusFailedCommit, exitFailedCommit},
		{domain.RunStatusFailedPush, exitFailedPush},
		{domain.RunStatusProducing, exitRuntimeError},
	}
	for _, tc := range cases {
		if got := exitCodeFor(tc.status); got != tc.want {
			t.Errorf("exitCodeFor(%s) = %d, want %d", tc.status, got, tc.want)
		}
	}
}
