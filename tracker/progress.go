package tracker

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Progress writes human-readable progress lines.
type Progress struct {
	mu       sync.Mutex
	w        io.Writer
	interval time.Duration
	last     time.Time
}

// NewProgress creates a printer writing to w at most once per interval. A
// zero interval prints every event.
func NewProgress(w io.Writer, interval time.Duration) *Progress {
	return &Progress{w: w, interval: interval}
}

// Observer returns a tracker observer that prints progress for run. Batch
// failures and file failures are always printed.
func (p *Progress) Observer(t *Tracker) func(Event) {
	return func(e Event) {
		switch e.Type {
		case EventBatch:
			if e.Batch.State != "confirmed" {
				p.printf("batch %d of %s %s: %s\n", e.Batch.Seq, e.Batch.File, e.Batch.State, e.Batch.Error)
				return
			}
			if !p.due(e.Time) {
				return
			}
			// Snapshot is safe: observers run outside the tracker lock.
			p.printf("%s\n", ProgressLine(t.Snapshot()))
		case EventFileFailed:
			p.printf("%s: %s\n", e.File.File, e.File.Error)
		}
	}
}

func (p *Progress) due(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.interval > 0 && now.Sub(p.last) < p.interval {
		return false
	}
	p.last = now
	return true
}

func (p *Progress) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

// ProgressLine summarizes s in one line.
func ProgressLine(s RunSummary) string {
	t := s.Totals()
	return fmt.Sprintf("published %s/%s statements, %s, %d batches queued",
		FormatNumber(int64(t.StatementsPublished)),
		FormatNumber(int64(t.StatementsQueued)),
		FormatBytes(t.BytesPublished),
		s.Pending())
}

// PrintSummary writes the end-of-run report of r.
func PrintSummary(w io.Writer, r Result) {
	s := r.Summary
	for _, f := range s.Files {
		kind := "read"
		if f.Prepared {
			kind = "prepared"
		}
		fmt.Fprintf(w, "%s: %s statements %s, %s published in %d/%d batches",
			f.File,
			FormatNumber(int64(f.StatementsRead)),
			kind,
			FormatNumber(int64(f.StatementsPublished)),
			f.BatchesConfirmed,
			f.BatchesQueued)
		if f.Error != "" {
			fmt.Fprintf(w, " (stopped: %s)", f.Error)
		}
		fmt.Fprintln(w)
	}

	t := s.Totals()
	fmt.Fprintf(w, "total: %s statements, %s published in %s\n",
		FormatNumber(int64(t.StatementsPublished)),
		FormatBytes(t.BytesPublished),
		s.Elapsed.Round(time.Millisecond))

	if len(r.Failures) > 0 {
		fmt.Fprintf(w, "%d batches failed:\n", len(r.Failures))
		for _, f := range r.Failures {
			fmt.Fprintf(w, "  %s batch %d %s: %s\n", f.File, f.Seq, f.State, f.Cause)
		}
	}

	switch {
	case r.Success:
		fmt.Fprintln(w, "run succeeded")
	case s.Cancelled:
		fmt.Fprintln(w, "run cancelled")
	default:
		fmt.Fprintln(w, "run partially failed")
	}
}
