package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/okian/pitchside/internal/adapters/realtime"
	"github.com/okian/pitchside/internal/domain/presence"
	"github.com/okian/pitchside/pkg/logger"
)

const maxBroadcastBytes = 4096

// PresenceDependencies defines the interface for the presence channel.
type PresenceDependencies interface {
	PublishPresence(ctx context.Context, matchID string, data []byte) (int, error)
	NormalizeBroadcast(ctx context.Context, data []byte) ([]byte, error)
	Hub() *realtime.Hub
}

// PresenceHandler publishes tracker status over HTTP and serves the
// WebSocket channel.
type PresenceHandler struct {
	deps    PresenceDependencies
	origins []string
	log     logger.Logger
}

// NewPresenceHandler creates a new presence handler.
func NewPresenceHandler(deps PresenceDependencies, origins []string, log logger.Logger) *PresenceHandler {
	return &PresenceHandler{deps: deps, origins: origins, log: log}
}

type publishResponse struct {
	Topic     string `json:"topic"`
	Delivered int    `json:"delivered"`
}

// HandlePublish handles POST /matches/{matchID}/presence requests.
func (h *PresenceHandler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	const op = "api.publish_presence"
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBroadcastBytes+1))
	if err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if len(data) > maxBroadcastBytes {
		writeError(w, WrapKind(op, ErrPayloadTooLarge, fmt.Errorf("broadcast body exceeds %d bytes", maxBroadcastBytes)))
		return
	}

	matchID := matchParam(r)
	n, err := h.deps.PublishPresence(r.Context(), matchID, data)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusAccepted, publishResponse{Topic: presence.TopicName(matchID), Delivered: n})
}

// HandleWebSocket handles GET /ws/matches/{matchID}/presence requests.
func (h *PresenceHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	hub := h.deps.Hub()
	if hub == nil {
		writeError(w, NewKind("api.presence_ws", ErrUnavailable))
		return
	}
	ws := realtime.NewHandler(hub,
		realtime.WithNormalizer(h.deps.NormalizeBroadcast),
		realtime.WithAllowedOrigins(h.origins),
		realtime.WithHandlerLogger(h.log.Named("websocket")),
	)
	matchID := matchParam(r)
	if matchID == "" {
		writeError(w, WrapKind("api.presence_ws", ErrBadRequest, fmt.Errorf("match id is required")))
		return
	}
	ws.Serve(w, r, presence.TopicName(matchID))
}

// matchParam is the trimmed match id of the route; both transports must
// resolve a match to the same topic.
func matchParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "matchID"))
}
