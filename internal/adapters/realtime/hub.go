// Package realtime is an in-process topic hub with a WebSocket transport.
// Each subscription has a bounded buffer and a status that mirrors hosted
// realtime channels.
package realtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/okian/pitchside/pkg/logger"
	"github.com/okian/pitchside/pkg/metrics"
)

const defaultBufferSize = 256

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusSubscribed   Status = "SUBSCRIBED"
	StatusChannelError Status = "CHANNEL_ERROR"
	StatusTimedOut     Status = "TIMED_OUT"
	StatusClosed       Status = "CLOSED"
)

// Message is one payload published on a topic.
type Message struct {
	Topic   string
	Payload []byte
	From    string
}

// Subscription receives the messages of one topic. Messages is closed when
// the subscription leaves SUBSCRIBED; Status then tells why.
type Subscription struct {
	id       string
	topic    string
	messages chan Message

	mu     sync.Mutex
	status Status
}

func newSubscription(topic string, buffer int) *Subscription {
	return &Subscription{
		id:       uuid.NewString(),
		topic:    topic,
		messages: make(chan Message, buffer),
		status:   StatusSubscribed,
	}
}

// ID identifies the subscription; publishers pass it to skip their own echo.
func (s *Subscription) ID() string { return s.id }

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// Messages delivers published payloads in order.
func (s *Subscription) Messages() <-chan Message { return s.messages }

// Status returns the current state.
func (s *Subscription) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// offer delivers m without blocking. It returns false when the buffer is full.
func (s *Subscription) offer(m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusSubscribed {
		return true
	}
	select {
	case s.messages <- m:
		return true
	default:
		return false
	}
}

// finish moves the subscription to a terminal status once.
func (s *Subscription) finish(status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusSubscribed {
		return false
	}
	s.status = status
	close(s.messages)
	return true
}

// Hub fans messages out to topic subscribers.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscription
	closed bool

	published  atomic.Int64
	bufferSize int
	log        logger.Logger
}

// NewHub creates an open hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		topics:     make(map[string]map[string]*Subscription),
		bufferSize: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = logger.Get().Named("realtime")
	}
	return h
}

// Subscribe joins topic. If ctx is done before the subscription is
// registered, the returned subscription is already TIMED_OUT.
func (h *Hub) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	if topic == "" {
		return nil, ErrNoTopic
	}
	sub := newSubscription(topic, h.bufferSize)
	if ctx.Err() != nil {
		sub.finish(StatusTimedOut)
		return sub, ErrTimedOut
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.finish(StatusClosed)
		return sub, ErrHubClosed
	}
	if ctx.Err() != nil {
		sub.finish(StatusTimedOut)
		return sub, ErrTimedOut
	}
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[string]*Subscription)
		h.topics[topic] = subs
	}
	subs[sub.id] = sub
	metrics.AddChannelSubscribers(1)
	h.log.Debug(ctx, "subscribed",
		logger.String("topic", topic),
		logger.String("subscription_id", sub.id),
		logger.Int("subscribers", len(subs)))
	return sub, nil
}

// Publish delivers payload to every subscriber of topic except the one
// whose id equals from. Subscribers whose buffer is full are evicted with
// CHANNEL_ERROR. It returns the number of subscribers reached.
func (h *Hub) Publish(ctx context.Context, topic string, payload []byte, from string) (int, error) {
	msg := Message{Topic: topic, Payload: payload, From: from}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return 0, ErrHubClosed
	}
	var (
		delivered int
		slow      []*Subscription
	)
	for id, sub := range h.topics[topic] {
		if id == from {
			continue
		}
		if sub.offer(msg) {
			delivered++
		} else {
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()
	h.published.Add(1)

	for _, sub := range slow {
		if h.remove(sub, StatusChannelError) {
			metrics.RecordChannelEviction()
			h.log.Warn(ctx, "evicted slow subscriber",
				logger.String("topic", topic),
				logger.String("subscription_id", sub.id))
		}
	}
	return delivered, nil
}

// Unsubscribe leaves the topic with status CLOSED.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.remove(sub, StatusClosed)
}

func (h *Hub) remove(sub *Subscription, status Status) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[sub.topic]
	if !ok {
		return false
	}
	if _, ok := subs[sub.id]; !ok {
		return false
	}
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(h.topics, sub.topic)
	}
	metrics.AddChannelSubscribers(-1)
	return sub.finish(status)
}

// Subscribers returns the number of subscribers of topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Topics returns the number of topics with at least one subscriber.
func (h *Hub) Topics() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics)
}

// Published returns how many Publish calls were accepted.
func (h *Hub) Published() int64 { return h.published.Load() }

// Close ends every subscription with CLOSED and rejects further use.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for topic, subs := range h.topics {
		for _, sub := range subs {
			sub.finish(StatusClosed)
			metrics.AddChannelSubscribers(-1)
		}
		delete(h.topics, topic)
	}
}
