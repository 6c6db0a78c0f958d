package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/rdfpub/submit"
)

// Subjects for run events.
const (
	SubjectBatch   = "rdfpub.batch"
	SubjectFile    = "rdfpub.file"
	SubjectSummary = "rdfpub.run.summary"
)

// EventType identifies the kind of an Event.
type EventType string

const (
	EventFileRead   EventType = "file_read"
	EventFileFailed EventType = "file_failed"
	EventBatch      EventType = "batch"
	EventSummary    EventType = "summary"
)

// Event is one progress notification of a run.
type Event struct {
	RunID   string       `json:"run_id"`
	Type    EventType    `json:"type"`
	Time    time.Time    `json:"time"`
	File    *FileSummary `json:"file,omitempty"`
	Batch   *BatchEvent  `json:"batch,omitempty"`
	Summary *RunSummary  `json:"summary,omitempty"`
	Success *bool        `json:"success,omitempty"`
}

// BatchEvent is the terminal outcome of one batch.
type BatchEvent struct {
	File       string        `json:"file"`
	Seq        int           `json:"seq"`
	Prepared   string        `json:"prepared,omitempty"`
	State      string        `json:"state"`
	Statements int           `json:"statements"`
	Bytes      int           `json:"bytes"`
	CID        string        `json:"cid,omitempty"`
	Nonce      *uint64       `json:"nonce,omitempty"`
	Hash       string        `json:"hash,omitempty"`
	Attempts   int           `json:"attempts"`
	Latency    time.Duration `json:"latency_ns"`
	Error      string        `json:"error,omitempty"`
}

// Subject returns the subject e is published on.
func (e Event) Subject() string {
	switch e.Type {
	case EventBatch:
		return SubjectBatch + "." + e.Batch.State
	case EventSummary:
		return SubjectSummary
	default:
		return SubjectFile + "." + string(e.Type)
	}
}

// Publisher emits run events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NoopPublisher drops all events.
type NoopPublisher struct{}

// Publish accepts the event and does nothing.
func (NoopPublisher) Publish(context.Context, Event) error { return nil }

// Close releases resources (none).
func (NoopPublisher) Close() error { return nil }

// StreamClient is the part of the semstreams NATS client the publisher uses.
type StreamClient interface {
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// NATSPublisher publishes events as JSON to a JetStream stream.
type NATSPublisher struct {
	client StreamClient
}

// NewNATSPublisher creates a publisher on client. A nil client drops events.
func NewNATSPublisher(client StreamClient) *NATSPublisher {
	return &NATSPublisher{client: client}
}

// Publish marshals e and publishes it on its subject.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if p.client == nil {
		return nil // Skip publishing if no NATS client (graceful degradation)
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", e.Type, err)
	}

	if err := p.client.PublishToStream(ctx, e.Subject(), data); err != nil {
		return fmt.Errorf("publish %s event: %w", e.Type, err)
	}
	return nil
}

// Close is a no-op; the caller owns the NATS connection.
func (p *NATSPublisher) Close() error { return nil }

// PublishEvents returns an observer forwarding events to pub. Publish
// failures are logged and never fail the run.
func PublishEvents(ctx context.Context, pub Publisher, logger *slog.Logger) func(Event) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(e Event) {
		if err := pub.Publish(ctx, e); err != nil {
			logger.Warn("Failed to publish run event", "type", e.Type, "error", err)
		}
	}
}

func batchEventOf(o submit.Outcome) *BatchEvent {
	e := &BatchEvent{
		File:       o.File,
		Seq:        o.Seq,
		Prepared:   o.Prepared,
		State:      o.State.String(),
		Statements: o.Statements,
		Bytes:      o.Bytes,
		CID:        o.CID,
		Nonce:      consumedNonce(o),
		Hash:       o.Hash,
		Attempts:   o.Attempts,
		Latency:    o.Latency,
	}
	if o.Err != nil {
		e.Error = o.Err.Error()
	}
	return e
}
