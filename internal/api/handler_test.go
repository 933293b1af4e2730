package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"jobsync/internal/domain"
	"jobsync/internal/history"
	"jobsync/internal/trigger"
)

type mockStore struct {
	runs    []domain.Run
	listErr error
}

func (m *mockStore) List(ctx context.Context, limit, offset int) ([]domain.Run, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	if offset >= len(m.runs) {
		return nil, nil
	}
	runs := m.runs[offset:]
	if limit < len(runs) {
		runs = runs[:limit]
	}
	return runs, nil
}

func (m *mockStore) Latest(ctx context.Context) (domain.Run, bool, error) {
	if len(m.runs) == 0 {
		return domain.Run{}, false, nil
	}
	return m.runs[0], true, nil
}

func (m *mockStore) Get(ctx context.Context, id uuid.UUID) (domain.Run, error) {
	for _, run := range m.runs {
		if run.ID == id {
			return run, nil
		}
	}
	return domain.Run{}, history.ErrRunNotFound
}

type mockEmitter struct {
	events []domain.TriggerEvent
	err    error
}

func (m *mockEmitter) Emit(ctx context.Context, event domain.TriggerEvent) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(ctx context.Context) error { return m.err }

func sampleRun() domain.Run {
	return domain.Run{
		ID:           uuid.New(),
		Trigger:      domain.TriggerCron,
		StartedAt:    time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC),
		FinishedAt:   time.Date(2025, 6, 1, 6, 2, 0, 0, time.UTC),
		Status:       domain.RunStatusPushed,
		Phase:        domain.PhasePush,
		ArtifactJobs: 42,
		CommitSHA:    "abc123",
	}
}

func doRequest(h *Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth_Simple(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockEmitter{})

	rec := doRequest(h, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("Status = %q, want ok", resp.Status)
	}
}

func TestHealth_VerboseDegraded(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockEmitter{}).
		WithHealthChecker(&mockPinger{err: errors.New("connection refused")})

	rec := doRequest(h, http.MethodGet, "/health?verbose=true")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("Status = %q, want degraded", resp.Status)
	}
	if resp.Components["database"] == "healthy" {
		t.Error("database component reported healthy")
	}
}

func TestHealth_VerboseHealthy(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockEmitter{}).WithHealthChecker(&mockPinger{})

	rec := doRequest(h, http.MethodGet, "/health?verbose=true")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestListRuns(t *testing.T) {
	run := sampleRun()
	h := NewHandler(&mockStore{runs: []domain.Run{run}}, &mockEmitter{})

	rec := doRequest(h, http.MethodGet, "/runs")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp ListRunsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(resp.Runs))
	}
	got := resp.Runs[0]
	if got.ID != run.ID.String() {
		t.Errorf("ID = %q", got.ID)
	}
	if got.Status != "pushed" {
		t.Errorf("Status = %q, want pushed", got.Status)
	}
	if got.DurationSeconds != 120 {
		t.Errorf("DurationSeconds = %v, want 120", got.DurationSeconds)
	}
}

func TestListRuns_PaginationValidation(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockEmitter{})

	cases := []string{
		"/runs?limit=-1",
		"/runs?limit=abc",
		"/runs?limit=9999",
		"/runs?offset=-5",
	}
	for _, target := range cases {
		rec := doRequest(h, http.MethodGet, target)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
	}
}

func TestLatestRun_Empty(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockEmitter{})

	rec := doRequest(h, http.MethodGet, "/runs/latest")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestLatestRun(t *testing.T) {
	run := sampleRun()
	h := NewHandler(&mockStore{runs: []domain.Run{run}}, &mockEmitter{})

	rec := doRequest(h, http.MethodGet, "/runs/latest")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp RunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != run.ID.String() {
		t.Errorf("ID = %q, want %q", resp.ID, run.ID.String())
	}
}

func TestGetRun(t *testing.T) {
	run := sampleRun()
	h := NewHandler(&mockStore{runs: []domain.Run{run}}, &mockEmitter{})

	rec := doRequest(h, http.MethodGet, "/runs/"+run.ID.String())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	rec = doRequest(h, http.MethodGet, "/runs/"+uuid.NewString())
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id: status = %d, want 404", rec.Code)
	}

	rec = doRequest(h, http.MethodGet, "/runs/not-a-uuid")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", rec.Code)
	}
}

func TestTrigger_Accepted(t *testing.T) {
	emitter := &mockEmitter{}
	h := NewHandler(&mockStore{}, emitter)
	h.clock = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	rec := doRequest(h, http.MethodPost, "/trigger")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(emitter.events) != 1 {
		t.Fatalf("emitted %d events, want 1", len(emitter.events))
	}
	event := emitter.events[0]
	if event.Source != domain.TriggerManual {
		t.Errorf("Source = %s, want manual", event.Source)
	}
	if !event.ScheduledAt.Equal(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("ScheduledAt = %s", event.ScheduledAt)
	}
}

func TestTrigger_BusFull(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockEmitter{err: trigger.ErrBusFull})

	rec := doRequest(h, http.MethodPost, "/trigger")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestUnknownRoutes(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockEmitter{})

	cases := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/nope"},
		{http.MethodPost, "/runs"},
		{http.MethodDelete, "/runs/latest"},
		{http.MethodGet, "/trigger"},
	}
	for _, tc := range cases {
		rec := doRequest(h, tc.method, tc.target)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: status = %d, want 404", tc.method, tc.target, rec.Code)
		}
	}
}
