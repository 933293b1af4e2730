// Package api exposes the read-only status API and the manual trigger
// endpoint. It never executes pipeline work itself; a manual trigger is
// queued on the bus and picked up by the run loop like any other trigger.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"jobsync/internal/domain"
	"jobsync/internal/history"
	"jobsync/internal/trigger"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Store is the run history surface the API reads from.
type Store interface {
	List(ctx context.Context, limit, offset int) ([]domain.Run, error)
	Latest(ctx context.Context) (domain.Run, bool, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Run, error)
}

// Emitter queues trigger events for the run loop.
type Emitter interface {
	Emit(ctx context.Context, event domain.TriggerEvent) error
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	store   Store
	emitter Emitter
	db      HealthChecker
	clock   func() time.Time
}

func NewHandler(store Store, emitter Emitter) *Handler {
	return &Handler{
		store:   store,
		emitter: emitter,
		clock:   time.Now,
	}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/runs" && r.Method == http.MethodGet:
		h.listRuns(w, r)

	case path == "/runs/latest" && r.Method == http.MethodGet:
		h.latestRun(w, r)

	case strings.HasPrefix(path, "/runs/") && r.Method == http.MethodGet:
		h.getRun(w, r)

	case path == "/trigger" && r.Method == http.MethodPost:
		h.triggerRun(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := h.store.List(r.Context(), limit, offset)
	if err != nil {
		log.Printf("api: list runs error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	resp := ListRunsResponse{Runs: make([]RunResponse, len(runs))}
	for i, run := range runs {
		resp.Runs[i] = runResponse(run)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) latestRun(w http.ResponseWriter, r *http.Request) {
	run, ok, err := h.store.Latest(r.Context())
	if err != nil {
		log.Printf("api: latest run error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no runs recorded")
		return
	}

	writeJSON(w, http.StatusOK, runResponse(run))
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	// Extract run ID from path: /runs/{id}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 || parts[0] != "runs" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	id, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		log.Printf("api: get run error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}

	writeJSON(w, http.StatusOK, runResponse(run))
}

func (h *Handler) triggerRun(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	event := domain.TriggerEvent{
		Source:      domain.TriggerManual,
		ScheduledAt: now,
		EmittedAt:   now,
	}

	if err := h.emitter.Emit(r.Context(), event); err != nil {
		if errors.Is(err, trigger.ErrBusFull) {
			writeError(w, http.StatusConflict, "a trigger is already queued")
			return
		}
		log.Printf("api: trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to queue trigger")
		return
	}

	writeJSON(w, http.StatusAccepted, TriggerResponse{Status: "accepted"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
