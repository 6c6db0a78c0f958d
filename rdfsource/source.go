// Package rdfsource reads RDF statements lazily from input files.
package rdfsource

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/geoknoesis/rdf-go/rdf"
)

// ParseError reports malformed input. It is scoped to one file.
type ParseError struct {
	// File is the input path.
	File string
	// Line and Column are 1-based, or 0 when the parser could not tell.
	Line   int
	Column int
	// Offset is the byte offset of the failure within the file.
	Offset int64
	// Err is the underlying parser error.
	Err error
}

func (e *ParseError) Error() string {
	switch {
	case e.Line > 0 && e.Column > 0:
		return fmt.Sprintf("%s:%d:%d: %v", e.File, e.Line, e.Column, e.Err)
	case e.Line > 0:
		return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
	default:
		return fmt.Sprintf("%s (offset %d): %v", e.File, e.Offset, e.Err)
	}
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Source yields the statements of one file in document order.
type Source struct {
	path   string
	file   *os.File
	count  *countingReader
	reader rdf.Reader
	read   int
	done   bool
}

// Open opens path and prepares a streaming reader for format. Use
// ResolveFormat to pick a format from a declared name or the extension.
func Open(ctx context.Context, path string, format rdf.Format) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}

	counter := &countingReader{r: f}
	reader, err := rdf.NewReader(bufio.NewReaderSize(counter, 64*1024), format, rdf.OptContext(ctx))
	if err != nil {
		f.Close()
		if errors.Is(err, rdf.ErrUnsupportedFormat) {
			return nil, &ParseError{File: path, Err: fmt.Errorf("%w: cannot determine format", ErrUnknownFormat)}
		}
		return nil, wrapParseError(path, counter.n, err)
	}

	return &Source{path: path, file: f, count: counter, reader: reader}, nil
}

// Next returns the next statement, io.EOF after the last one, or a
// *ParseError. After an error Next keeps returning io.EOF.
func (s *Source) Next() (rdf.Statement, error) {
	if s.done {
		return rdf.Statement{}, io.EOF
	}

	stmt, err := s.reader.Next()
	if err != nil {
		s.done = true
		if errors.Is(err, io.EOF) {
			return rdf.Statement{}, io.EOF
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return rdf.Statement{}, err
		}
		return rdf.Statement{}, wrapParseError(s.path, s.count.n, err)
	}

	s.read++
	return stmt, nil
}

// Statements returns the number of statements read so far.
func (s *Source) Statements() int { return s.read }

// BytesRead returns the number of input bytes consumed so far.
func (s *Source) BytesRead() int64 { return s.count.n }

// Close releases the underlying file.
func (s *Source) Close() error {
	rerr := s.reader.Close()
	ferr := s.file.Close()
	if rerr != nil {
		return rerr
	}
	return ferr
}

func wrapParseError(path string, consumed int64, err error) error {
	pe := &ParseError{File: path, Offset: consumed, Err: err}

	var rdfErr *rdf.ParseError
	if errors.As(err, &rdfErr) {
		pe.Line = rdfErr.Line
		pe.Column = rdfErr.Column
		if rdfErr.Offset > 0 {
			pe.Offset = int64(rdfErr.Offset)
		}
		if rdfErr.Err != nil {
			pe.Err = rdfErr.Err
		}
	}
	return pe
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
