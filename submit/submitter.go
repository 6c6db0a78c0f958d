// Package submit sends signed batches to the network with per-account nonce
// sequencing, a bounded worker pool, retries and finality polling.
package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/c360studio/rdfpub/batch"
	"github.com/c360studio/rdfpub/network"
	"github.com/c360studio/rdfpub/signer"
	"golang.org/x/sync/errgroup"
)

// Config holds submitter configuration.
type Config struct {
	// Receiver is the repository account the batches are published to.
	Receiver string

	// Dataset names the dataset inside the repository.
	Dataset string

	// Gas attached to every insert call.
	Gas uint64

	// Workers bounds the number of transactions in flight.
	Workers int

	// Retry controls broadcast retries.
	Retry RetryConfig

	// ConfirmTimeout bounds the wait for finality after broadcast.
	ConfirmTimeout time.Duration

	// PollInterval is the delay between status queries.
	PollInterval time.Duration
}

// DefaultConfig returns submitter defaults for receiver.
func DefaultConfig(receiver string) Config {
	return Config{
		Receiver:       receiver,
		Gas:            network.DefaultGas,
		Workers:        runtime.GOMAXPROCS(0),
		Retry:          DefaultRetryConfig(),
		ConfirmTimeout: 2 * time.Minute,
		PollInterval:   2 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Receiver == "" {
		return fmt.Errorf("receiver account is required")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("Workers must be positive, got %d", c.Workers)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("MaxRetries must not be negative, got %d", c.Retry.MaxRetries)
	}
	if c.ConfirmTimeout <= 0 {
		return fmt.Errorf("ConfirmTimeout must be positive, got %s", c.ConfirmTimeout)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("PollInterval must be positive, got %s", c.PollInterval)
	}
	return nil
}

// Submitter publishes batches as transactions signed by one identity.
type Submitter struct {
	config    Config
	client    network.Client
	signer    *signer.Signer
	sequencer *Sequencer
	metrics   *Metrics
	logger    *slog.Logger
	report    func(Outcome)
	workers   errgroup.Group
}

// Option configures a Submitter.
type Option func(*Submitter)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Submitter) {
		s.logger = logger
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(s *Submitter) {
		s.metrics = m
	}
}

// WithReporter sets the function receiving every terminal outcome. It is
// called from worker goroutines.
func WithReporter(report func(Outcome)) Option {
	return func(s *Submitter) {
		s.report = report
	}
}

// New creates a Submitter. The sequencer may be shared with other submitters
// that sign for the same accounts.
func New(client network.Client, sgn *signer.Signer, seq *Sequencer, cfg Config, opts ...Option) (*Submitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Gas == 0 {
		cfg.Gas = network.DefaultGas
	}

	s := &Submitter{
		config:    cfg,
		client:    client,
		signer:    sgn,
		sequencer: seq,
		logger:    slog.Default(),
		report:    func(Outcome) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.workers.SetLimit(cfg.Workers)
	return s, nil
}

// Submit schedules b. Batches reach the network in the order Submit is
// called. Submit blocks while all workers are busy. Once ctx is cancelled no
// new nonce is taken and b is reported skipped.
func (s *Submitter) Submit(ctx context.Context, b *batch.Batch) {
	p := newPending(b, s.config.Receiver)

	if ctx.Err() != nil {
		s.skip(p, ctx.Err())
		return
	}

	ticket, err := s.sequencer.Reserve(s.signer.Account(), signer.FormatPublicKey(s.signer.PublicKey()))
	if err != nil {
		s.skip(p, err)
		return
	}

	s.workers.Go(func() error {
		s.metrics.addInflight(1)
		defer s.metrics.addInflight(-1)
		s.process(ctx, ticket, p)
		return nil
	})
}

// Wait blocks until every scheduled batch has reached a terminal state.
func (s *Submitter) Wait() {
	_ = s.workers.Wait()
}

func (s *Submitter) process(ctx context.Context, ticket *Ticket, p *PendingTransaction) {
	lease, err := ticket.Acquire(ctx)
	if err != nil {
		s.skip(p, err)
		return
	}

	if ctx.Err() != nil {
		lease.Release()
		s.skip(p, ctx.Err())
		return
	}

	if !s.broadcast(ctx, lease, p) {
		return
	}
	s.awaitFinality(ctx, p)
}

// broadcast sends p under the lease, retrying transient failures. It reports
// false when p reached a terminal state without being accepted.
func (s *Submitter) broadcast(ctx context.Context, lease *Lease, p *PendingTransaction) bool {
	retry := s.config.Retry
	log := s.logger.With("file", p.Batch.File, "seq", p.Batch.Seq)

	// sent records whether any attempt reached the network.
	var sent bool
	for attempt := 1; ; attempt++ {
		p.Attempts = attempt

		hash, reached, err := s.attempt(ctx, lease, p)
		sent = sent || reached
		if err == nil {
			lease.Commit()
			p.Hash = hash
			s.metrics.observeAttempt("ok")
			if terr := p.transition(StateSubmitted); terr != nil {
				s.logger.Error("Transaction state", "error", terr)
			}
			log.Debug("Batch broadcast", "nonce", p.Nonce, "hash", hash, "attempt", attempt)
			return true
		}

		switch {
		case network.IsTerminal(err):
			// Rejected before acceptance: the nonce was not consumed.
			s.metrics.observeAttempt("terminal")
			lease.Release()
			s.finish(p, StateRejected, err)
			return false
		case network.IsNonceConflict(err):
			s.metrics.observeAttempt("nonce")
		default:
			s.metrics.observeAttempt("transient")
		}

		if attempt > retry.MaxRetries {
			lease.Invalidate()
			s.finish(p, StateTimedOut, fmt.Errorf("giving up after %d attempts: %w", attempt, err))
			return false
		}

		if network.IsNonceConflict(err) {
			if _, rerr := lease.Refresh(ctx); rerr != nil {
				log.Debug("Nonce refresh failed", "error", rerr)
			}
		}

		backoff := retry.backoff(attempt)
		log.Debug("Broadcast failed, retrying",
			"attempt", attempt,
			"max_retries", retry.MaxRetries,
			"backoff", backoff,
			"error", err)

		select {
		case <-ctx.Done():
			lease.Invalidate()
			cause := fmt.Errorf("cancelled while retrying: %w", errors.Join(ctx.Err(), err))
			if !sent {
				s.skip(p, cause)
			} else {
				s.finish(p, StateTimedOut, cause)
			}
			return false
		case <-time.After(backoff):
			// Continue to retry
		}
	}
}

// attempt assigns a nonce, signs and broadcasts once. reached reports
// whether the broadcast was sent.
func (s *Submitter) attempt(ctx context.Context, lease *Lease, p *PendingTransaction) (hash string, reached bool, err error) {
	nonce, err := lease.Nonce(ctx)
	if err != nil {
		return "", false, fmt.Errorf("fetch nonce: %w", err)
	}
	p.Nonce = nonce
	if err := p.transition(StateNonceAssigned); err != nil {
		return "", false, network.NewTerminalError(err)
	}

	sig, err := s.signer.Sign(p.Batch, p.Receiver, nonce)
	if err != nil {
		return "", false, network.NewTerminalError(err)
	}
	p.Signature = sig
	if err := p.transition(StateSigned); err != nil {
		return "", false, network.NewTerminalError(err)
	}

	args, err := network.InsertArgs(s.config.Dataset, p.Batch.Payload)
	if err != nil {
		return "", false, network.NewTerminalError(err)
	}

	tx := network.SignedTransaction{
		Transaction: network.Transaction{
			SignerID:    sig.Payload.SignerID,
			PublicKey:   sig.PublicKey,
			Nonce:       nonce,
			ReceiverID:  p.Receiver,
			Method:      network.InsertMethod,
			Args:        args,
			Gas:         s.config.Gas,
			PayloadHash: sig.Payload.PayloadHash,
		},
		Signature: sig.Bytes,
	}

	// A broadcast already on the wire is allowed to complete after cancellation.
	hash, err = s.client.Broadcast(context.WithoutCancel(ctx), tx)
	return hash, true, err
}

// awaitFinality polls the network until p is final or ConfirmTimeout passes.
// Polling continues after run cancellation so in-flight work is accounted for.
func (s *Submitter) awaitFinality(ctx context.Context, p *PendingTransaction) {
	pollCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ConfirmTimeout)
	defer cancel()

	var lastErr error
	for {
		st, err := s.client.Status(pollCtx, p.Hash, s.signer.Account())
		switch {
		case err != nil:
			lastErr = err
			if network.IsTerminal(err) {
				s.finish(p, StateTimedOut, fmt.Errorf("status unknown: %w", err))
				return
			}
		case st.Status == network.StatusConfirmed:
			s.finish(p, StateConfirmed, nil)
			return
		case st.Status == network.StatusFailed:
			s.finish(p, StateRejected, network.NewTerminalError(fmt.Errorf("execution failed: %s", st.Failure)))
			return
		}

		select {
		case <-pollCtx.Done():
			err := fmt.Errorf("not final after %s", s.config.ConfirmTimeout)
			if lastErr != nil {
				err = fmt.Errorf("%w: %w", err, lastErr)
			}
			s.finish(p, StateTimedOut, err)
			return
		case <-time.After(s.config.PollInterval):
		}
	}
}

func (s *Submitter) skip(p *PendingTransaction, cause error) {
	s.finish(p, StateSkipped, cause)
}

func (s *Submitter) finish(p *PendingTransaction, state State, err error) {
	if terr := p.transition(state); terr != nil {
		s.logger.Error("Transaction state", "error", terr)
		p.State = state
	}
	p.Err = err

	o := p.outcome()
	s.metrics.observeOutcome(o)

	log := s.logger.With("file", o.File, "seq", o.Seq, "nonce", o.Nonce, "bytes", o.Bytes, "cid", o.CID)
	switch state {
	case StateConfirmed:
		log.Info("Batch confirmed", "hash", o.Hash, "attempts", o.Attempts, "latency", o.Latency)
	case StateSkipped:
		log.Debug("Batch skipped", "error", err)
	default:
		log.Warn("Batch not confirmed", "state", state.String(), "hash", o.Hash, "error", err)
	}

	s.report(o)
}
