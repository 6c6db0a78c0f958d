package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/c360studio/rdfpub/batch"
	"github.com/c360studio/rdfpub/codec"
	"github.com/c360studio/rdfpub/rdfsource"
)

// PrepareConfig holds prepare configuration.
type PrepareConfig struct {
	// Format is the declared input format; empty or "auto" infers it per file.
	Format string

	Batch batch.Config

	// OutputDir receives the prepared batch files.
	OutputDir string
}

// PreparedInput reports what one input produced.
type PreparedInput struct {
	File       string
	Statements int
	BytesRead  int64
	Outputs    []string
	Bytes      int64
	Err        error
}

// PrepareResult is the report of a prepare run.
type PrepareResult struct {
	Inputs []PreparedInput
}

// Statements returns the number of statements written.
func (r PrepareResult) Statements() int {
	var n int
	for _, in := range r.Inputs {
		n += in.Statements
	}
	return n
}

// Outputs returns every file written, in order.
func (r PrepareResult) Outputs() []string {
	var out []string
	for _, in := range r.Inputs {
		out = append(out, in.Outputs...)
	}
	return out
}

// Err joins the per-input failures.
func (r PrepareResult) Err() error {
	var errs []error
	for _, in := range r.Inputs {
		if in.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", in.File, in.Err))
		}
	}
	return errors.Join(errs...)
}

// Prepare encodes and batches inputs into prepared batch files named
// prepared.NNNNNN.rdfb, numbered from 1 across all inputs. A batch never spans
// two inputs. Like Publish, a failing input keeps the batches completed
// before the failure and the run moves on to the next input.
func Prepare(ctx context.Context, inputs []string, cfg PrepareConfig, logger *slog.Logger) (PrepareResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Batch.MaxBytes == 0 {
		cfg.Batch = batch.DefaultConfig()
	}
	if err := cfg.Batch.Validate(); err != nil {
		return PrepareResult{}, fmt.Errorf("batch: %w", err)
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return PrepareResult{}, fmt.Errorf("create output directory: %w", err)
	}

	prepared, raw := rdfsource.SplitPrepared(inputs)
	for _, in := range prepared {
		logger.Info("Skipping already prepared input", "file", in)
	}

	var result PrepareResult
	next := 1
	for _, in := range raw {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		report, err := prepareFile(ctx, in, cfg, &next)
		result.Inputs = append(result.Inputs, report)
		if err != nil {
			return result, err
		}
		if report.Err != nil {
			logger.Warn("Input file failed", "file", in, "error", report.Err)
			continue
		}
		logger.Info("Prepared input",
			"file", in,
			"statements", report.Statements,
			"outputs", len(report.Outputs),
			"bytes", report.Bytes)
	}
	return result, nil
}

// prepareFile writes the batches of one input. The returned error is set only
// when the run must stop; input-scoped failures land in PreparedInput.Err.
func prepareFile(ctx context.Context, path string, cfg PrepareConfig, next *int) (PreparedInput, error) {
	report := PreparedInput{File: path}

	format, err := rdfsource.ResolveFormat(path, cfg.Format)
	if err != nil {
		report.Err = err
		return report, nil
	}
	src, err := rdfsource.Open(ctx, path, format)
	if err != nil {
		report.Err = err
		return report, nil
	}
	defer src.Close()

	batcher, err := batch.New(path, cfg.Batch)
	if err != nil {
		return report, err
	}

	write := func(b *batch.Batch) error {
		out := filepath.Join(cfg.OutputDir, batch.PreparedName(*next))
		if err := batch.WriteFile(out, b); err != nil {
			return err
		}
		*next++
		report.Outputs = append(report.Outputs, out)
		report.Statements += b.Count
		report.Bytes += int64(b.Size())
		return nil
	}

	for {
		stmt, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if isContextErr(err) {
				return report, err
			}
			report.Err = err
			break
		}

		rec, err := codec.Encode(stmt)
		if err != nil {
			report.Err = fmt.Errorf("encode statement %d: %w", src.Statements(), err)
			break
		}
		done, err := batcher.Add(rec)
		if err != nil {
			report.Err = err
			break
		}
		if done != nil {
			if err := write(done); err != nil {
				return report, err
			}
		}
	}

	if last := batcher.Flush(); last != nil {
		if err := write(last); err != nil {
			return report, err
		}
	}
	report.BytesRead = src.BytesRead()
	return report, nil
}
