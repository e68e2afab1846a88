package trackersim

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/pitchside/internal/domain/presence"
	"github.com/okian/pitchside/pkg/logger"
)

// observerGrace is how long the observer keeps reading after the trackers stop.
const observerGrace = 500 * time.Millisecond

// Run simulates cfg.Trackers broadcasting on the match channel for
// cfg.Duration while an observer socket counts what is fanned out.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.Get().Named("trackersim")
	stats := &Stats{StartTime: time.Now()}

	log.Info(ctx, "starting tracker simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("matchID", cfg.MatchID),
		logger.Strings("trackers", cfg.Trackers),
		logger.String("transport", cfg.Transport),
		logger.Duration("interval", cfg.Interval),
		logger.Duration("duration", cfg.Duration))

	if err := checkServiceHealth(ctx, cfg); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	observer, err := dialPresence(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("observer: %w", err)
	}
	var observed sync.WaitGroup
	observed.Add(1)
	go func() {
		defer observed.Done()
		for {
			if _, _, err := observer.ReadMessage(); err != nil {
				return
			}
			atomic.AddInt64(&stats.Observed, 1)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	for i, userID := range cfg.Trackers {
		t := newTracker(userID, uint64(stats.StartTime.UnixNano())+uint64(i))
		g.Go(func() error {
			return simulate(gctx, cfg, t, stats, log)
		})
	}
	runErr := g.Wait()

	time.Sleep(observerGrace)
	_ = observer.Close()
	observed.Wait()

	stats.Duration = time.Since(stats.StartTime)
	log.Info(ctx, "final statistics",
		logger.Int64("sent", atomic.LoadInt64(&stats.Sent)),
		logger.Int64("failed", atomic.LoadInt64(&stats.Failed)),
		logger.Int64("observed", atomic.LoadInt64(&stats.Observed)),
		logger.Duration("duration", stats.Duration))
	return stats, runErr
}

// simulate drives one tracker until ctx ends, then says goodbye.
func simulate(ctx context.Context, cfg *Config, t *tracker, stats *Stats, log logger.Logger) error {
	var pub publisher = newHTTPPublisher(cfg)
	if cfg.Transport == TransportWebSocket {
		ws, err := newWSPublisher(ctx, cfg)
		if err != nil {
			return fmt.Errorf("tracker %s: %w", t.userID, err)
		}
		pub = ws
	}
	defer func() { _ = pub.Close() }()

	send := func(ctx context.Context, final bool) {
		b := t.next(time.Now())
		if final {
			b = farewell(b)
		}
		payload, err := presence.EncodeBroadcast(b)
		if err == nil {
			err = pub.Publish(ctx, payload)
		}
		if err != nil {
			atomic.AddInt64(&stats.Failed, 1)
			log.Warn(ctx, "broadcast failed", logger.String("tracker", t.userID), logger.Error(err))
			return
		}
		atomic.AddInt64(&stats.Sent, 1)
		if cfg.Verbose {
			log.Debug(ctx, "broadcast sent",
				logger.String("tracker", t.userID),
				logger.Int64("seq", *b.Seq),
				logger.String("status", string(b.Status)))
		}
	}

	send(ctx, false)
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			byeCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
			send(byeCtx, true)
			cancel()
			return nil
		case <-ticker.C:
			send(ctx, false)
		}
	}
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, cfg *Config) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := (&http.Client{Timeout: cfg.Timeout}).Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer resp.Body.Close()

	// Any 200 is healthy; the body is Prometheus metrics.
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
