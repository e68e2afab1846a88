package realtime

import (
	"net/http"
	"strings"

	"github.com/okian/pitchside/pkg/logger"
)

// Option configures a Hub.
type Option func(*Hub)

// WithBufferSize sets how many messages a subscription may fall behind
// before it is evicted.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

// WithLogger sets the hub logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

// HandlerOption configures a WebSocket Handler.
type HandlerOption func(*Handler)

// WithNormalizer validates and rewrites inbound frames before they are
// published. Frames it rejects are dropped.
func WithNormalizer(fn Normalizer) HandlerOption {
	return func(h *Handler) {
		h.normalize = fn
	}
}

// WithAllowedOrigins restricts the Origin header of upgrade requests. An
// empty list or "*" allows any origin.
func WithAllowedOrigins(origins []string) HandlerOption {
	return func(h *Handler) {
		allowed := make(map[string]struct{}, len(origins))
		for _, o := range origins {
			o = strings.TrimSpace(o)
			if o == "*" {
				return
			}
			if o != "" {
				allowed[o] = struct{}{}
			}
		}
		if len(allowed) == 0 {
			return
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		}
	}
}

// WithHandlerLogger sets the handler logger.
func WithHandlerLogger(l logger.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}
