package batch

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360studio/rdfpub/codec"
	"github.com/multiformats/go-varint"
)

// PreparedExt is the file extension of prepared batch files.
const PreparedExt = ".rdfb"

const preparedVersion byte = 1

var preparedMagic = []byte("RDFB")

// ErrNotPrepared is returned when a file is not a prepared batch file.
var ErrNotPrepared = errors.New("not a prepared batch file")

// IsPrepared reports whether path names a prepared batch file.
func IsPrepared(path string) bool {
	return strings.EqualFold(filepath.Ext(path), PreparedExt)
}

// PreparedName returns the file name of the n-th prepared file (1-based).
func PreparedName(n int) string {
	return fmt.Sprintf("prepared.%06d%s", n, PreparedExt)
}

// MarshalPrepared serializes a batch into the prepared file format.
func MarshalPrepared(b *Batch) []byte {
	out := make([]byte, 0, len(preparedMagic)+1+varint.UvarintSize(uint64(b.Count))+len(b.Payload))
	out = append(out, preparedMagic...)
	out = append(out, preparedVersion)
	out = append(out, varint.ToUvarint(uint64(b.Count))...)
	return append(out, b.Payload...)
}

// UnmarshalPrepared parses a prepared file. The record count in the header must
// match the records in the body.
func UnmarshalPrepared(data []byte) (*Batch, error) {
	if !bytes.HasPrefix(data, preparedMagic) {
		return nil, ErrNotPrepared
	}
	data = data[len(preparedMagic):]

	if len(data) == 0 || data[0] != preparedVersion {
		return nil, fmt.Errorf("%w: unsupported version", ErrNotPrepared)
	}
	data = data[1:]

	count, n, err := varint.FromUvarint(data)
	if err != nil {
		return nil, fmt.Errorf("%w: record count: %v", ErrNotPrepared, err)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrNotPrepared)
	}
	payload := data[n:]

	records, err := codec.Split(payload)
	if err != nil {
		return nil, err
	}
	if uint64(len(records)) != count {
		return nil, fmt.Errorf("%w: header declares %d records, found %d", ErrNotPrepared, count, len(records))
	}

	return &Batch{Payload: payload, Count: len(records)}, nil
}

// WriteFile writes a batch to path in the prepared file format.
func WriteFile(path string, b *Batch) error {
	if err := os.WriteFile(path, MarshalPrepared(b), 0644); err != nil {
		return fmt.Errorf("write prepared file: %w", err)
	}
	return nil
}

// ReadFile loads a prepared file as a single batch. Files whose payload
// exceeds maxBytes are rejected with a *RecordTooLargeError so they are
// reported like any other oversized input.
func ReadFile(path string, maxBytes int) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prepared file: %w", err)
	}

	b, err := UnmarshalPrepared(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if maxBytes > 0 && b.Size() > maxBytes {
		return nil, &RecordTooLargeError{File: path, Size: b.Size(), MaxBytes: maxBytes}
	}

	b.File = path
	b.Prepared = path
	return b, nil
}
