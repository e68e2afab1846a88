package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/okian/pitchside/internal/domain/model"
)

const maxNotificationLimit = 200

// TrackerDependencies defines the interface for tracker reads.
type TrackerDependencies interface {
	GetAvailableTrackers(ctx context.Context) ([]model.TrackerUser, error)
	ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error)
}

// TrackerHandler handles tracker requests.
type TrackerHandler struct {
	deps TrackerDependencies
}

// NewTrackerHandler creates a new tracker handler.
func NewTrackerHandler(deps TrackerDependencies) *TrackerHandler {
	return &TrackerHandler{deps: deps}
}

// HandleListTrackers handles GET /trackers requests.
func (h *TrackerHandler) HandleListTrackers(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.GetAvailableTrackers(r.Context())
	if err != nil {
		writeError(w, Wrap("api.list_trackers", err))
		return
	}
	if list == nil {
		list = []model.TrackerUser{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trackers": list})
}

// HandleListNotifications handles GET /trackers/{trackerID}/notifications?limit=N requests.
func (h *TrackerHandler) HandleListNotifications(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_notifications"
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxNotificationLimit {
			writeError(w, WrapKind(op, ErrBadRequest, errLimit))
			return
		}
		limit = n
	}

	list, err := h.deps.ListNotifications(r.Context(), chi.URLParam(r, "trackerID"), limit)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	if list == nil {
		list = []model.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": list})
}
