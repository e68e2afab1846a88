package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/pitchside/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Normalizer validates an inbound frame and returns the payload to publish.
type Normalizer func(ctx context.Context, data []byte) ([]byte, error)

// Handler upgrades HTTP requests and joins the connection to a topic as
// both publisher and listener.
type Handler struct {
	hub       *Hub
	upgrader  websocket.Upgrader
	normalize Normalizer
	log       logger.Logger
}

// NewHandler creates a WebSocket handler on hub.
func NewHandler(hub *Hub, opts ...HandlerOption) *Handler {
	h := &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		normalize: func(_ context.Context, data []byte) ([]byte, error) { return data, nil },
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = logger.Get().Named("websocket")
	}
	return h
}

// Serve upgrades the request and runs the connection pumps until either
// side goes away.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, topic string) {
	ctx := r.Context()
	sub, err := h.hub.Subscribe(ctx, topic)
	if err != nil {
		h.log.Warn(ctx, "subscribe failed", logger.String("topic", topic), logger.Error(err))
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.Unsubscribe(sub)
		h.log.Warn(ctx, "websocket upgrade failed", logger.String("topic", topic), logger.Error(err))
		return
	}

	c := &client{
		hub:       h.hub,
		conn:      conn,
		sub:       sub,
		normalize: h.normalize,
		log:       h.log.With(logger.String("topic", topic), logger.String("subscription_id", sub.ID())),
	}
	c.log.Info(ctx, "websocket connected", logger.String("remote", r.RemoteAddr))

	// The request context ends when Serve returns, so the pumps get their own.
	go c.writePump()
	c.readPump(context.WithoutCancel(ctx))
}

type client struct {
	hub       *Hub
	conn      *websocket.Conn
	sub       *Subscription
	normalize Normalizer
	log       logger.Logger
}

// readPump publishes valid inbound frames until the connection fails.
func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Unsubscribe(c.sub)
		_ = c.conn.Close()
		c.log.Info(ctx, "websocket disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn(ctx, "websocket read failed", logger.Error(err))
			}
			return
		}
		payload, err := c.normalize(ctx, data)
		if err != nil {
			c.log.Debug(ctx, "dropping inbound frame", logger.Error(err))
			continue
		}
		if _, err := c.hub.Publish(ctx, c.sub.Topic(), payload, c.sub.ID()); err != nil {
			c.log.Warn(ctx, "publish failed", logger.Error(err))
			return
		}
	}
}

// writePump forwards topic messages and keeps the connection alive with
// pings. It sends a close frame once the subscription ends.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.sub.Messages():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				code := websocket.CloseNormalClosure
				if c.sub.Status() == StatusChannelError {
					code = websocket.ClosePolicyViolation
				}
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(code, string(c.sub.Status())))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg.Payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
