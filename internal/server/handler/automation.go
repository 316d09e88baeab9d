package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// CreationRunner performs one market creation run.
type CreationRunner interface {
	RunOnce(ctx context.Context) (domain.AutomatedMarketLog, error)
}

// AutomationHandler serves the creation trigger and its run log.
type AutomationHandler struct {
	runner CreationRunner
	logs   domain.AutomationLogStore
	logger *slog.Logger
}

// NewAutomationHandler creates an AutomationHandler. runner may be nil when
// this process does not create markets; the trigger then answers 503.
func NewAutomationHandler(runner CreationRunner, logs domain.AutomationLogStore, logger *slog.Logger) *AutomationHandler {
	return &AutomationHandler{runner: runner, logs: logs, logger: logger}
}

// Run performs one creation run synchronously, going through the same locks
// as the scheduled loop.
// POST /api/automation/run
func (h *AutomationHandler) Run(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "market creation is not enabled on this instance")
		return
	}
	h.logger.InfoContext(r.Context(), "handler: manual creation run requested")

	// The run outlives a client disconnect so it always writes its log entry.
	entry, err := h.runner.RunOnce(context.WithoutCancel(r.Context()))
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, newAutomationLogResponse(entry))
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, "a creation run is already in progress for this slot")
	case entry.ID != "":
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrNoCandidate):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, domain.ErrFetch):
			status = http.StatusBadGateway
		}
		writeJSON(w, status, newAutomationLogResponse(entry))
	default:
		h.logger.ErrorContext(r.Context(), "handler: creation run failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "creation run failed")
	}
}

// ListLogs returns the creation run log, newest first.
// GET /api/automation/logs?limit=50&offset=0
func (h *AutomationHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	entries, err := h.logs.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list automation logs failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list automation logs")
		return
	}

	out := make([]automationLogResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, newAutomationLogResponse(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":   out,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}
