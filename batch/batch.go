// Package batch packs encoded statement records into transaction-sized batches.
package batch

import (
	"errors"
	"fmt"

	"github.com/c360studio/rdfpub/codec"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// DefaultMaxBytes is the largest payload accepted by one rdf_insert call,
// leaving room for the call header.
const DefaultMaxBytes = 1_572_864 - 1024

// ErrRecordTooLarge is returned when a single record exceeds the batch limit.
var ErrRecordTooLarge = errors.New("record too large")

// RecordTooLargeError describes the record that could not be batched.
type RecordTooLargeError struct {
	// File is the input file the record came from.
	File string
	// Index is the 0-based position of the statement within the file.
	Index int
	// Size is the encoded size of the record.
	Size int
	// MaxBytes is the configured batch limit.
	MaxBytes int
}

func (e *RecordTooLargeError) Error() string {
	return fmt.Sprintf("%s: statement %d encodes to %d bytes, limit is %d", e.File, e.Index, e.Size, e.MaxBytes)
}

// Is reports whether target is ErrRecordTooLarge.
func (e *RecordTooLargeError) Is(target error) bool {
	return target == ErrRecordTooLarge
}

// Batch is an ordered group of records destined for one transaction.
type Batch struct {
	// File is the input file the records were read from.
	File string

	// Seq is the 0-based position of the batch within its file.
	Seq int

	// Payload is the concatenation of the batch's records.
	Payload []byte

	// Count is the number of records (statements) in the payload.
	Count int

	// Prepared is the path of the .rdfb file this batch was loaded from, if any.
	Prepared string
}

// Size returns the payload size in bytes.
func (b *Batch) Size() int { return len(b.Payload) }

// Records splits the payload back into its records.
func (b *Batch) Records() ([]codec.Record, error) {
	return codec.Split(b.Payload)
}

// Hash returns the sha2-256 multihash of the payload.
func (b *Batch) Hash() (multihash.Multihash, error) {
	return multihash.Sum(b.Payload, multihash.SHA2_256, -1)
}

// CID returns the content identifier of the payload (CIDv1, raw codec).
func (b *Batch) CID() (cid.Cid, error) {
	mh, err := b.Hash()
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// Config holds batching configuration.
type Config struct {
	// MaxBytes is the maximum payload size of one batch.
	MaxBytes int
}

// DefaultConfig returns the batching limits of the public networks.
func DefaultConfig() Config {
	return Config{MaxBytes: DefaultMaxBytes}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.MaxBytes <= 0 {
		return fmt.Errorf("MaxBytes must be positive, got %d", c.MaxBytes)
	}
	return nil
}

// Batcher greedily packs the records of one file into batches. It holds at
// most one batch plus the record being added.
type Batcher struct {
	config  Config
	file    string
	seq     int
	index   int
	current *Batch
}

// New creates a Batcher for the records of file.
func New(file string, cfg Config) (*Batcher, error) {
	if cfg.MaxBytes == 0 {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Batcher{config: cfg, file: file}, nil
}

// Add appends a record. When the record does not fit the current batch, the
// current batch is returned complete and the record starts the next one.
// A record larger than MaxBytes on its own yields a *RecordTooLargeError.
func (b *Batcher) Add(rec codec.Record) (*Batch, error) {
	index := b.index
	b.index++

	if rec.Len() > b.config.MaxBytes {
		return nil, &RecordTooLargeError{File: b.file, Index: index, Size: rec.Len(), MaxBytes: b.config.MaxBytes}
	}

	var done *Batch
	if b.current != nil && b.current.Size()+rec.Len() > b.config.MaxBytes {
		done = b.current
		b.current = nil
	}

	if b.current == nil {
		b.current = &Batch{
			File:    b.file,
			Seq:     b.seq,
			Payload: make([]byte, 0, min(b.config.MaxBytes, 64*1024)),
		}
		b.seq++
	}
	b.current.Payload = append(b.current.Payload, rec...)
	b.current.Count++

	return done, nil
}

// Flush returns the final partial batch, or nil when no records are pending.
func (b *Batcher) Flush() *Batch {
	done := b.current
	b.current = nil
	return done
}

// Batches returns the number of batches started so far.
func (b *Batcher) Batches() int { return b.seq }

// Pack batches a complete record slice. It is a convenience over Batcher for
// inputs already held in memory.
func Pack(file string, records []codec.Record, maxBytes int) ([]*Batch, error) {
	b, err := New(file, Config{MaxBytes: maxBytes})
	if err != nil {
		return nil, err
	}

	var out []*Batch
	for _, rec := range records {
		done, err := b.Add(rec)
		if err != nil {
			return out, err
		}
		if done != nil {
			out = append(out, done)
		}
	}
	if last := b.Flush(); last != nil {
		out = append(out, last)
	}
	return out, nil
}
