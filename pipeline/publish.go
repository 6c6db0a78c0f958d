// Package pipeline runs the publish and prepare flows: statement source,
// encoder and batcher as one producer feeding a bounded queue, drained in
// order by the submitter.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/c360studio/rdfpub/batch"
	"github.com/c360studio/rdfpub/codec"
	"github.com/c360studio/rdfpub/network"
	"github.com/c360studio/rdfpub/rdfsource"
	"github.com/c360studio/rdfpub/signer"
	"github.com/c360studio/rdfpub/submit"
	"github.com/c360studio/rdfpub/tracker"
	"golang.org/x/sync/errgroup"
)

// Config holds pipeline configuration.
type Config struct {
	// Format is the declared input format; empty or "auto" infers it per file.
	Format string

	Batch  batch.Config
	Submit submit.Config

	// QueueDepth bounds the batches prepared ahead of submission.
	QueueDepth int

	// RemovePublished deletes prepared batch files once their batch confirms.
	RemovePublished bool
}

// DefaultConfig returns pipeline defaults for publishing to receiver.
func DefaultConfig(receiver string) Config {
	cfg := Config{
		Batch:  batch.DefaultConfig(),
		Submit: submit.DefaultConfig(receiver),
	}
	cfg.QueueDepth = 2 * cfg.Submit.Workers
	return cfg
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.QueueDepth <= 0 {
		return fmt.Errorf("QueueDepth must be positive, got %d", c.QueueDepth)
	}
	if err := c.Batch.Validate(); err != nil {
		return fmt.Errorf("batch: %w", err)
	}
	if err := c.Submit.Validate(); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	if c.Format != "" && c.Format != "auto" {
		if _, err := rdfsource.ResolveFormat("", c.Format); err != nil {
			return err
		}
	}
	return nil
}

// Publisher publishes input files to one repository.
type Publisher struct {
	config   Config
	client   network.Client
	keychain signer.Keychain
	sources  []signer.KeySource
	tracker  *tracker.Tracker
	metrics  *submit.Metrics
	logger   *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithTracker sets the tracker receiving the run's accounting. Observers for
// progress or events are attached to it by the caller.
func WithTracker(t *tracker.Tracker) Option {
	return func(p *Publisher) {
		p.tracker = t
	}
}

// WithMetrics sets the submitter's Prometheus collectors.
func WithMetrics(m *submit.Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// New creates a Publisher. The signing key is resolved from sources, in
// order, when Publish starts.
func New(client network.Client, keychain signer.Keychain, sources []signer.KeySource, cfg Config, opts ...Option) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Publisher{
		config:   cfg,
		client:   client,
		keychain: keychain,
		sources:  sources,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.tracker == nil {
		p.tracker = tracker.New(tracker.WithLogger(p.logger))
	}
	return p, nil
}

// Tracker returns the run's tracker.
func (p *Publisher) Tracker() *tracker.Tracker { return p.tracker }

// Publish publishes inputs in order. Inputs ending in the prepared batch
// extension are sent as one batch each; all others are parsed and batched.
//
// The returned error is reserved for failures that stop the run before any
// transaction, such as a missing signing key. Per-file and per-batch failures
// are reported in the Result.
func (p *Publisher) Publish(ctx context.Context, inputs []string) (tracker.Result, error) {
	sgn, err := signer.Resolve(ctx, p.keychain, p.logger, p.sources...)
	if err != nil {
		return tracker.Result{}, err
	}
	p.logger.Info("Publishing",
		"signer", sgn.String(),
		"receiver", p.config.Submit.Receiver,
		"inputs", len(inputs),
		"run_id", p.tracker.RunID())

	seq := submit.NewSequencer(p.client, submit.WithSequencerLogger(p.logger))
	defer seq.Close()

	outcomes := make(chan submit.Outcome, p.config.Submit.Workers)
	sub, err := submit.New(p.client, sgn, seq, p.config.Submit,
		submit.WithLogger(p.logger),
		submit.WithMetrics(p.metrics),
		submit.WithReporter(func(o submit.Outcome) { outcomes <- o }),
	)
	if err != nil {
		return tracker.Result{}, err
	}

	for _, in := range inputs {
		p.tracker.AddFile(in, batch.IsPrepared(in))
	}

	queue := make(chan *batch.Batch, p.config.QueueDepth)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(queue)
		return p.produce(gctx, inputs, queue)
	})

	g.Go(func() error {
		defer close(outcomes)
		for b := range queue {
			p.tracker.BatchQueued(b.File, b.Count)
			sub.Submit(gctx, b)
		}
		sub.Wait()
		return nil
	})

	g.Go(func() error {
		for o := range outcomes {
			p.tracker.Record(o)
			if p.config.RemovePublished && o.Prepared != "" && o.State == submit.StateConfirmed {
				p.removePrepared(o.Prepared)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil && !isContextErr(err) {
		return p.tracker.Result(), err
	}
	if ctx.Err() != nil {
		p.tracker.Cancel()
	}
	return p.tracker.Result(), nil
}

// produce feeds every input's batches into queue, file by file.
func (p *Publisher) produce(ctx context.Context, inputs []string, queue chan<- *batch.Batch) error {
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error
		if batch.IsPrepared(in) {
			err = p.producePrepared(ctx, in, queue)
		} else {
			err = p.produceFile(ctx, in, queue)
		}

		switch {
		case err == nil:
		case isContextErr(err):
			return err
		default:
			p.tracker.FileFailed(in, err)
		}
	}
	return nil
}

func (p *Publisher) producePrepared(ctx context.Context, path string, queue chan<- *batch.Batch) error {
	b, err := batch.ReadFile(path, p.config.Batch.MaxBytes)
	if err != nil {
		return err
	}
	p.tracker.FileRead(path, b.Count, int64(b.Size()))
	return send(ctx, queue, b)
}

// produceFile streams one RDF file through the encoder and batcher. Batches
// completed before a parse error or an oversized record are still published;
// the rest of the file is abandoned.
func (p *Publisher) produceFile(ctx context.Context, path string, queue chan<- *batch.Batch) error {
	format, err := rdfsource.ResolveFormat(path, p.config.Format)
	if err != nil {
		return err
	}
	src, err := rdfsource.Open(ctx, path, format)
	if err != nil {
		return err
	}
	defer src.Close()

	batcher, err := batch.New(path, p.config.Batch)
	if err != nil {
		return err
	}

	log := p.logger.With("file", path)
	log.Debug("Reading input", "format", string(format))

	var fileErr error
	for fileErr == nil {
		stmt, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if isContextErr(err) {
				return err
			}
			fileErr = err
			break
		}

		rec, err := codec.Encode(stmt)
		if err != nil {
			fileErr = fmt.Errorf("encode statement %d: %w", src.Statements(), err)
			break
		}

		done, err := batcher.Add(rec)
		if err != nil {
			fileErr = err
			break
		}
		if done != nil {
			p.tracker.FileRead(path, src.Statements(), src.BytesRead())
			if err := send(ctx, queue, done); err != nil {
				return err
			}
		}
	}

	if last := batcher.Flush(); last != nil {
		if err := send(ctx, queue, last); err != nil {
			return err
		}
	}
	p.tracker.FileRead(path, src.Statements(), src.BytesRead())
	log.Debug("Input read", "statements", src.Statements(), "batches", batcher.Batches(), "error", fileErr)
	return fileErr
}

func (p *Publisher) removePrepared(path string) {
	if err := os.Remove(path); err != nil {
		p.logger.Warn("Failed to remove published file", "file", path, "error", err)
		return
	}
	p.logger.Debug("Removed published file", "file", path)
}

// send blocks until b is queued or ctx is done.
func send(ctx context.Context, queue chan<- *batch.Batch, b *batch.Batch) error {
	select {
	case queue <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
