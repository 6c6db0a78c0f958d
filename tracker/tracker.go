// Package tracker accounts for the outcome of every batch in a run and
// reports progress and the final summary.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c360studio/rdfpub/submit"
	"github.com/google/uuid"
)

// FileSummary holds the counters of one input file.
type FileSummary struct {
	File string `json:"file"`

	// Prepared is set for inputs loaded from a prepared batch file.
	Prepared bool `json:"prepared,omitempty"`

	StatementsRead int   `json:"statements_read"`
	BytesRead      int64 `json:"bytes_read"`

	BatchesQueued       int   `json:"batches_queued"`
	BatchesConfirmed    int   `json:"batches_confirmed"`
	BatchesRejected     int   `json:"batches_rejected"`
	BatchesTimedOut     int   `json:"batches_timed_out"`
	BatchesSkipped      int   `json:"batches_skipped"`
	StatementsQueued    int   `json:"statements_queued"`
	StatementsPublished int   `json:"statements_published"`
	BytesPublished      int64 `json:"bytes_published"`

	// Error is the file-scoped failure (parse error, oversized record), if any.
	Error string `json:"error,omitempty"`

	err error
}

// Finished returns the number of batches that reached a terminal state.
func (f FileSummary) Finished() int {
	return f.BatchesConfirmed + f.BatchesRejected + f.BatchesTimedOut + f.BatchesSkipped
}

// Err returns the file-scoped failure.
func (f FileSummary) Err() error { return f.err }

// Failure names one batch that did not confirm.
type Failure struct {
	File  string  `json:"file"`
	Seq   int     `json:"seq"`
	State string  `json:"state"`
	CID   string  `json:"cid,omitempty"`
	Hash  string  `json:"hash,omitempty"`
	Nonce *uint64 `json:"nonce,omitempty"`
	Cause string  `json:"cause"`
	err   error
}

// Err returns the underlying cause.
func (f Failure) Err() error { return f.err }

// RunSummary is a point-in-time view of a run.
type RunSummary struct {
	RunID     string        `json:"run_id"`
	Started   time.Time     `json:"started"`
	Elapsed   time.Duration `json:"elapsed"`
	Files     []FileSummary `json:"files"`
	Failures  []Failure     `json:"failures,omitempty"`
	Cancelled bool          `json:"cancelled,omitempty"`
}

// Totals sums the per-file counters.
func (s RunSummary) Totals() FileSummary {
	var t FileSummary
	for _, f := range s.Files {
		t.StatementsRead += f.StatementsRead
		t.BytesRead += f.BytesRead
		t.BatchesQueued += f.BatchesQueued
		t.BatchesConfirmed += f.BatchesConfirmed
		t.BatchesRejected += f.BatchesRejected
		t.BatchesTimedOut += f.BatchesTimedOut
		t.BatchesSkipped += f.BatchesSkipped
		t.StatementsQueued += f.StatementsQueued
		t.StatementsPublished += f.StatementsPublished
		t.BytesPublished += f.BytesPublished
	}
	return t
}

// Pending returns the number of queued batches without an outcome.
func (s RunSummary) Pending() int {
	t := s.Totals()
	return t.BatchesQueued - t.Finished()
}

// ErrRunFailed is matched by the error of a run that did not fully succeed.
var ErrRunFailed = errors.New("run did not fully succeed")

// Result is the end-of-run verdict.
type Result struct {
	Summary RunSummary

	// Success holds when every batch of every file confirmed and no file failed.
	Success bool

	// Failures lists every batch that did not confirm, in file and sequence order.
	Failures []Failure

	// FileErrors lists the files that stopped early.
	FileErrors []FileSummary
}

// Err describes an unsuccessful run, matching ErrRunFailed. It is nil on success.
func (r Result) Err() error {
	if r.Success {
		return nil
	}

	var errs []error
	for _, f := range r.FileErrors {
		errs = append(errs, fmt.Errorf("%s: %w", f.File, f.err))
	}
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("%s batch %d %s: %w", f.File, f.Seq, f.State, f.err))
	}
	if r.Summary.Cancelled {
		errs = append(errs, context.Canceled)
	}
	if n := r.Summary.Pending(); n > 0 {
		errs = append(errs, fmt.Errorf("%d batches without outcome", n))
	}
	return fmt.Errorf("%w: %w", ErrRunFailed, errors.Join(errs...))
}

// Tracker receives outcomes and maintains the RunSummary. It is safe for
// concurrent use.
type Tracker struct {
	mu        sync.Mutex
	summary   RunSummary
	index     map[string]int
	logger    *slog.Logger
	observers []func(Event)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(t *Tracker) {
		t.summary.RunID = id
	}
}

// WithObserver registers fn to receive every event. Observers are called
// synchronously after the summary was updated and must not call back into
// the Tracker.
func WithObserver(fn func(Event)) Option {
	return func(t *Tracker) {
		t.observers = append(t.observers, fn)
	}
}

// Observe registers fn like WithObserver. It must be called before the run
// starts reporting.
func (t *Tracker) Observe(fn func(Event)) {
	t.observers = append(t.observers, fn)
}

// New creates a Tracker for one run.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		summary: RunSummary{RunID: uuid.NewString(), Started: time.Now()},
		index:   make(map[string]int),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RunID returns the run identifier.
func (t *Tracker) RunID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summary.RunID
}

// file returns the summary entry for name, creating it in first-seen order.
func (t *Tracker) file(name string) *FileSummary {
	i, ok := t.index[name]
	if !ok {
		i = len(t.summary.Files)
		t.index[name] = i
		t.summary.Files = append(t.summary.Files, FileSummary{File: name})
	}
	return &t.summary.Files[i]
}

// AddFile registers an input so it appears in the summary even if it yields
// no batches.
func (t *Tracker) AddFile(name string, prepared bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.file(name).Prepared = prepared
}

// FileRead records the statements and bytes read from name so far.
func (t *Tracker) FileRead(name string, statements int, bytes int64) {
	t.mu.Lock()
	f := t.file(name)
	f.StatementsRead = statements
	f.BytesRead = bytes
	snapshot := *f
	t.mu.Unlock()

	t.emit(Event{Type: EventFileRead, File: &snapshot})
}

// FileFailed records a file-scoped error. Batches already queued from the
// file are still accounted for.
func (t *Tracker) FileFailed(name string, err error) {
	t.mu.Lock()
	f := t.file(name)
	f.err = err
	f.Error = err.Error()
	snapshot := *f
	t.mu.Unlock()

	t.logger.Warn("Input file failed", "file", name, "error", err)
	t.emit(Event{Type: EventFileFailed, File: &snapshot})
}

// BatchQueued records a batch handed to the submitter.
func (t *Tracker) BatchQueued(file string, statements int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f := t.file(file)
	f.BatchesQueued++
	f.StatementsQueued += statements
}

// Record applies one terminal outcome.
func (t *Tracker) Record(o submit.Outcome) {
	t.mu.Lock()
	f := t.file(o.File)
	switch o.State {
	case submit.StateConfirmed:
		f.BatchesConfirmed++
		f.StatementsPublished += o.Statements
		f.BytesPublished += int64(o.Bytes)
	case submit.StateRejected:
		f.BatchesRejected++
	case submit.StateTimedOut:
		f.BatchesTimedOut++
	case submit.StateSkipped:
		f.BatchesSkipped++
	}
	if o.State != submit.StateConfirmed {
		t.summary.Failures = append(t.summary.Failures, failureOf(o))
	}
	t.mu.Unlock()

	t.emit(Event{Type: EventBatch, Batch: batchEventOf(o)})
}

// Cancel marks the run as cancelled.
func (t *Tracker) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summary.Cancelled = true
}

// Snapshot returns a copy of the current summary.
func (t *Tracker) Snapshot() RunSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() RunSummary {
	s := t.summary
	s.Elapsed = time.Since(s.Started)
	s.Files = append([]FileSummary(nil), t.summary.Files...)
	s.Failures = append([]Failure(nil), t.summary.Failures...)
	sort.SliceStable(s.Failures, func(i, j int) bool {
		a, b := s.Failures[i], s.Failures[j]
		if a.File != b.File {
			return t.index[a.File] < t.index[b.File]
		}
		return a.Seq < b.Seq
	})
	return s
}

// Result computes the verdict from the current summary and emits the summary
// event.
func (t *Tracker) Result() Result {
	t.mu.Lock()
	s := t.snapshotLocked()
	t.mu.Unlock()

	r := Result{Summary: s, Failures: s.Failures}
	for _, f := range s.Files {
		if f.err != nil {
			r.FileErrors = append(r.FileErrors, f)
		}
	}
	r.Success = len(r.Failures) == 0 && len(r.FileErrors) == 0 && !s.Cancelled && s.Pending() == 0

	t.emit(Event{Type: EventSummary, Summary: &s, Success: &r.Success})
	return r
}

func (t *Tracker) emit(e Event) {
	if len(t.observers) == 0 {
		return
	}
	e.RunID = t.summary.RunID
	e.Time = time.Now()
	for _, fn := range t.observers {
		fn(e)
	}
}

func failureOf(o submit.Outcome) Failure {
	f := Failure{
		File:  o.File,
		Seq:   o.Seq,
		State: o.State.String(),
		CID:   o.CID,
		Hash:  o.Hash,
		Nonce: consumedNonce(o),
		err:   o.Err,
	}
	if o.Err != nil {
		f.Cause = o.Err.Error()
	} else {
		f.err = errors.New(f.State)
		f.Cause = f.State
	}
	return f
}

// consumedNonce returns the nonce o used on the network, nil when o never
// consumed one.
func consumedNonce(o submit.Outcome) *uint64 {
	if !o.NonceConsumed {
		return nil
	}
	n := o.Nonce
	return &n
}
