// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/pitchside/internal/adapters/realtime"
	repository "github.com/okian/pitchside/internal/adapters/repository"
	"github.com/okian/pitchside/internal/domain/assignment"
	"github.com/okian/pitchside/internal/domain/presence"
	"github.com/okian/pitchside/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	AssignmentDependencies
	TrackerDependencies
	MonitorDependencies
	PresenceDependencies
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	assignmentHandler *AssignmentHandler
	trackerHandler    *TrackerHandler
	monitorHandler    *MonitorHandler
	presenceHandler   *PresenceHandler
}

// Option configures a Server.
type Option func(*serverOptions)

type serverOptions struct {
	allowedOrigins []string
	log            logger.Logger
}

// WithAllowedOrigins restricts the Origin of WebSocket upgrades.
func WithAllowedOrigins(origins []string) Option {
	return func(o *serverOptions) {
		o.allowedOrigins = origins
	}
}

// WithLogger sets the handler logger.
func WithLogger(l logger.Logger) Option {
	return func(o *serverOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	o := serverOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Get().Named("api")
	}
	return &Server{
		healthHandler:     NewHealthHandler(),
		statsHandler:      NewStatsHandler(statsProvider),
		assignmentHandler: NewAssignmentHandler(deps),
		trackerHandler:    NewTrackerHandler(deps),
		monitorHandler:    NewMonitorHandler(deps),
		presenceHandler:   NewPresenceHandler(deps, o.allowedOrigins, o.log),
	}
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(_ context.Context, r chi.Router) {
	r.Get("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	r.Get("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	r.Get("/event-types", MetricsMiddleware(s.assignmentHandler.HandleEventTypes, "event_types"))

	r.Get("/trackers", MetricsMiddleware(s.trackerHandler.HandleListTrackers, "trackers"))
	r.Get("/trackers/{trackerID}/notifications", MetricsMiddleware(s.trackerHandler.HandleListNotifications, "notifications"))

	r.Route("/matches/{matchID}", func(r chi.Router) {
		r.Get("/assignments", MetricsMiddleware(s.assignmentHandler.HandleListAssignments, "list_assignments"))
		r.Post("/assignments", MetricsMiddleware(s.assignmentHandler.HandleCreateIndividual, "create_assignment"))
		r.Post("/group-assignments", MetricsMiddleware(s.assignmentHandler.HandleCreateGroup, "create_group_assignment"))
		r.Get("/event-grid", MetricsMiddleware(s.assignmentHandler.HandleEventGrid, "event_grid"))
		r.Post("/monitors", MetricsMiddleware(s.monitorHandler.HandleOpen, "open_monitor"))
		r.Post("/presence", MetricsMiddleware(s.presenceHandler.HandlePublish, "publish_presence"))
	})
	r.Delete("/assignments/{assignmentID}", MetricsMiddleware(s.assignmentHandler.HandleDelete, "delete_assignment"))

	r.Route("/monitors/{monitorID}", func(r chi.Router) {
		r.Get("/", MetricsMiddleware(s.monitorHandler.HandleSnapshot, "monitor_snapshot"))
		r.Delete("/", MetricsMiddleware(s.monitorHandler.HandleClose, "close_monitor"))
		r.Put("/absent/{trackerID}", MetricsMiddleware(s.monitorHandler.HandleMarkAbsent, "mark_absent"))
		r.Delete("/absent/{trackerID}", MetricsMiddleware(s.monitorHandler.HandleReconnect, "reconnect"))
	})

	r.Get("/ws/matches/{matchID}/presence", MetricsMiddleware(s.presenceHandler.HandleWebSocket, "presence_ws"))
}

type errorResponse struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg, Errors: problems(err)})
}

// classify maps an upstream error to an HTTP status and a stable code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrDuplicateSubmission):
		return http.StatusConflict, "duplicate_submission"
	case errors.Is(err, assignment.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, assignment.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, presence.ErrInvalidBroadcast), errors.Is(err, presence.ErrUnknownMessageType):
		return http.StatusBadRequest, "invalid_broadcast"
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, "payload_too_large"
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrUnavailable), errors.Is(err, realtime.ErrHubClosed):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// problems flattens validation and conflict details into readable lines.
func problems(err error) []string {
	var verr *assignment.ValidationError
	if errors.As(err, &verr) {
		return verr.Problems
	}
	var cerr *assignment.ConflictError
	if errors.As(err, &cerr) {
		out := make([]string, 0, len(cerr.Conflicts))
		for _, c := range cerr.Conflicts {
			owner := c.TrackerEmail
			if owner == "" {
				owner = c.TrackerUserID
			}
			out = append(out, c.EventType+" is already assigned to "+owner+" for player "+c.PlayerID)
		}
		return out
	}
	if err != nil {
		return []string{err.Error()}
	}
	return nil
}
