package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360studio/rdfpub/config"
	"github.com/c360studio/rdfpub/tracker"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go"
)

// attachEvents streams run events from tr to the NATS server named by
// cfg.URL. Events are optional: when the URL is empty or the server cannot be
// reached the run continues without them. The returned func closes the
// connection after the run.
func attachEvents(ctx context.Context, cfg config.NATSConfig, tr *tracker.Tracker, logger *slog.Logger) func() {
	if cfg.URL == "" {
		return func() {}
	}

	client, err := dialEvents(ctx, cfg)
	if err != nil {
		logger.Warn("Run events disabled", "error", err)
		return func() {}
	}
	logger.Info("Publishing run events", "url", cfg.URL)

	bg := context.WithoutCancel(ctx)
	tr.Observe(tracker.PublishEvents(bg, tracker.NewNATSPublisher(client), logger))
	return func() {
		if err := client.Close(bg); err != nil {
			logger.Debug("Closing NATS connection", "error", err)
		}
	}
}

// dialEvents connects within cfg.ConnectTimeout. Reconnects after that are
// bounded by cfg.MaxReconnects.
func dialEvents(ctx context.Context, cfg config.NATSConfig) (*natsclient.Client, error) {
	client, err := natsclient.NewClient(cfg.URL,
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithReconnectWait(time.Second),
		natsclient.WithHealthInterval(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := client.Connect(connCtx); err != nil {
		return nil, eventsUnavailable(err, cfg.URL)
	}
	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(context.WithoutCancel(ctx))
		return nil, eventsUnavailable(err, cfg.URL)
	}
	return client, nil
}

// eventsUnavailable explains how to run without events when the server is
// missing.
func eventsUnavailable(err error, url string) error {
	if errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(err.Error(), "connection refused") {
		return fmt.Errorf("no NATS server at %s (unset nats.url or RDFPUB_NATS_URL to run without events): %w", url, err)
	}
	return fmt.Errorf("NATS connection failed: %w", err)
}
