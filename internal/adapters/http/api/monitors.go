package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/pitchside/internal/domain/types"
)

// MonitorDependencies defines the interface for presence monitor operations.
type MonitorDependencies interface {
	OpenMonitor(ctx context.Context, matchID string) (types.MonitorSnapshot, error)
	MonitorSnapshot(ctx context.Context, id string) (types.MonitorSnapshot, error)
	CloseMonitor(ctx context.Context, id string) error
	MarkAbsent(ctx context.Context, monitorID, trackerID string) error
	Reconnect(ctx context.Context, monitorID, trackerID string) error
}

// MonitorHandler handles monitor requests.
type MonitorHandler struct {
	deps MonitorDependencies
}

// NewMonitorHandler creates a new monitor handler.
func NewMonitorHandler(deps MonitorDependencies) *MonitorHandler {
	return &MonitorHandler{deps: deps}
}

// HandleOpen handles POST /matches/{matchID}/monitors requests.
func (h *MonitorHandler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	snap, err := h.deps.OpenMonitor(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		writeError(w, Wrap("api.open_monitor", err))
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// HandleSnapshot handles GET /monitors/{monitorID} requests.
func (h *MonitorHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.deps.MonitorSnapshot(r.Context(), chi.URLParam(r, "monitorID"))
	if err != nil {
		writeError(w, Wrap("api.monitor_snapshot", err))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleClose handles DELETE /monitors/{monitorID} requests.
func (h *MonitorHandler) HandleClose(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.CloseMonitor(r.Context(), chi.URLParam(r, "monitorID")); err != nil {
		writeError(w, Wrap("api.close_monitor", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMarkAbsent handles PUT /monitors/{monitorID}/absent/{trackerID} requests.
func (h *MonitorHandler) HandleMarkAbsent(w http.ResponseWriter, r *http.Request) {
	h.override(w, r, "api.mark_absent", h.deps.MarkAbsent)
}

// HandleReconnect handles DELETE /monitors/{monitorID}/absent/{trackerID} requests.
func (h *MonitorHandler) HandleReconnect(w http.ResponseWriter, r *http.Request) {
	h.override(w, r, "api.reconnect", h.deps.Reconnect)
}

func (h *MonitorHandler) override(w http.ResponseWriter, r *http.Request, op string, apply func(context.Context, string, string) error) {
	ctx := r.Context()
	monitorID := chi.URLParam(r, "monitorID")
	if err := apply(ctx, monitorID, chi.URLParam(r, "trackerID")); err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	snap, err := h.deps.MonitorSnapshot(ctx, monitorID)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
