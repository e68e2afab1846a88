package trackersim

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// publisher delivers encoded broadcasts to the service.
type publisher interface {
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

// httpPublisher posts broadcasts to the REST endpoint.
type httpPublisher struct {
	client *http.Client
	url    string
}

func newHTTPPublisher(cfg *Config) *httpPublisher {
	return &httpPublisher{
		client: &http.Client{Timeout: cfg.Timeout},
		url:    cfg.BaseURL + "/matches/" + url.PathEscape(cfg.MatchID) + "/presence",
	}
}

func (p *httpPublisher) Publish(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("publish rejected with status %d", resp.StatusCode)
	}
	return nil
}

func (p *httpPublisher) Close() error { return nil }

// wsPublisher writes broadcasts to a presence socket. Frames pushed by the
// service are read and dropped so the subscription never backs up.
type wsPublisher struct {
	conn    *websocket.Conn
	timeout time.Duration
	mu      sync.Mutex
	done    chan struct{}
}

func dialPresence(ctx context.Context, cfg *Config) (*websocket.Conn, error) {
	target, err := cfg.websocketURL()
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{HandshakeTimeout: cfg.Timeout}
	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return conn, nil
}

func newWSPublisher(ctx context.Context, cfg *Config) (*wsPublisher, error) {
	conn, err := dialPresence(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p := &wsPublisher{conn: conn, timeout: cfg.Timeout, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return p, nil
}

func (p *wsPublisher) Publish(_ context.Context, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.done:
		return websocket.ErrCloseSent
	default:
	}
	if err := p.conn.SetWriteDeadline(time.Now().Add(p.timeout)); err != nil {
		return err
	}
	return p.conn.WriteMessage(websocket.TextMessage, payload)
}

func (p *wsPublisher) Close() error {
	p.mu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(p.timeout))
	p.mu.Unlock()

	select {
	case <-p.done:
	case <-time.After(p.timeout):
	}
	return p.conn.Close()
}
