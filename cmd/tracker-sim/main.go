package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/okian/pitchside/internal/trackersim"
	"github.com/okian/pitchside/pkg/logger"
)

// Default configuration constants.
const (
	defaultInterval = 2 * time.Second
	defaultDuration = time.Minute
	defaultTimeout  = 10 * time.Second
)

func main() {
	var (
		baseURL   = flag.String("url", "http://localhost:9080", "Base URL of the service")
		matchID   = flag.String("match", "", "Match whose presence channel is used (required)")
		trackers  = flag.String("trackers", "", "Comma separated tracker user ids (required)")
		transport = flag.String("transport", trackersim.TransportWebSocket, "Broadcast transport: ws or http")
		interval  = flag.Duration("interval", defaultInterval, "Time between two broadcasts of one tracker")
		duration  = flag.Duration("duration", defaultDuration, "Total run time")
		timeout   = flag.Duration("timeout", defaultTimeout, "HTTP request and dial timeout")
		verbose   = flag.Bool("verbose", false, "Log every broadcast")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := &trackersim.Config{
		BaseURL:   strings.TrimSuffix(*baseURL, "/"),
		MatchID:   *matchID,
		Trackers:  splitTrackers(*trackers),
		Transport: *transport,
		Interval:  *interval,
		Duration:  *duration,
		Timeout:   *timeout,
		Verbose:   *verbose,
	}
	if err := cfg.Validate(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n\n")
		flag.Usage()
		os.Exit(2)
	}

	if _, err := trackersim.Run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "simulation failed", logger.Error(err))
		stop()
		os.Exit(1)
	}
}

func splitTrackers(s string) []string {
	var out []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
