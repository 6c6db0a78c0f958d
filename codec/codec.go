// Package codec converts RDF statements to and from self-delimiting binary records.
//
// A record is a uvarint body length followed by the body. The body holds the
// subject, predicate and object terms, then a graph flag byte optionally
// followed by the graph term. Each term starts with a tag byte; strings are
// uvarint length prefixed. Records can be concatenated and split again without
// any outside framing.
package codec

import (
	"errors"
	"fmt"

	"github.com/geoknoesis/rdf-go/rdf"
	"github.com/multiformats/go-varint"
)

// Term tags.
const (
	tagIRI     byte = 1
	tagBlank   byte = 2
	tagLiteral byte = 3
	tagTriple  byte = 4
)

// Graph flags.
const (
	graphDefault byte = 0
	graphNamed   byte = 1
)

// maxDepth bounds nesting of quoted triples during decode.
const maxDepth = 64

var (
	// ErrInvalidStatement is returned when a statement cannot be encoded.
	ErrInvalidStatement = errors.New("invalid statement")

	// ErrMalformedRecord is returned when bytes do not form a valid record.
	ErrMalformedRecord = errors.New("malformed record")
)

// Record is one encoded statement including its length prefix.
type Record []byte

// Len returns the size of the record in bytes.
func (r Record) Len() int { return len(r) }

// Encode converts a statement into a record.
func Encode(s rdf.Statement) (Record, error) {
	body, err := appendStatement(nil, s)
	if err != nil {
		return nil, err
	}
	rec := make([]byte, 0, varint.UvarintSize(uint64(len(body)))+len(body))
	rec = append(rec, varint.ToUvarint(uint64(len(body)))...)
	rec = append(rec, body...)
	return rec, nil
}

// Decode reads the first record in data and returns the statement and the
// number of bytes consumed.
func Decode(data []byte) (rdf.Statement, int, error) {
	size, n, err := varint.FromUvarint(data)
	if err != nil {
		return rdf.Statement{}, 0, fmt.Errorf("%w: length prefix: %v", ErrMalformedRecord, err)
	}
	if size > uint64(len(data)-n) {
		return rdf.Statement{}, 0, fmt.Errorf("%w: body of %d bytes exceeds remaining %d", ErrMalformedRecord, size, len(data)-n)
	}
	end := n + int(size)

	d := &decoder{buf: data[n:end]}
	s, err := d.statement()
	if err != nil {
		return rdf.Statement{}, 0, err
	}
	if len(d.buf) != 0 {
		return rdf.Statement{}, 0, fmt.Errorf("%w: %d trailing bytes", ErrMalformedRecord, len(d.buf))
	}
	return s, end, nil
}

// Split cuts a concatenation of records into the individual records without
// decoding their bodies.
func Split(payload []byte) ([]Record, error) {
	var records []Record
	for len(payload) > 0 {
		size, n, err := varint.FromUvarint(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrMalformedRecord, len(records), err)
		}
		if size > uint64(len(payload)-n) {
			return nil, fmt.Errorf("%w: record %d truncated", ErrMalformedRecord, len(records))
		}
		end := n + int(size)
		records = append(records, Record(payload[:end:end]))
		payload = payload[end:]
	}
	return records, nil
}

// DecodeAll decodes every record in a concatenated payload.
func DecodeAll(payload []byte) ([]rdf.Statement, error) {
	var out []rdf.Statement
	for len(payload) > 0 {
		s, n, err := Decode(payload)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", len(out), err)
		}
		out = append(out, s)
		payload = payload[n:]
	}
	return out, nil
}

func appendStatement(dst []byte, s rdf.Statement) ([]byte, error) {
	if s.S == nil || s.O == nil || s.P.Value == "" {
		return nil, fmt.Errorf("%w: subject, predicate and object are required", ErrInvalidStatement)
	}

	var err error
	if dst, err = appendTerm(dst, s.S); err != nil {
		return nil, err
	}
	dst = appendString(dst, s.P.Value)
	if dst, err = appendTerm(dst, s.O); err != nil {
		return nil, err
	}

	if s.G == nil {
		return append(dst, graphDefault), nil
	}
	dst = append(dst, graphNamed)
	return appendTerm(dst, s.G)
}

func appendTerm(dst []byte, t rdf.Term) ([]byte, error) {
	switch v := t.(type) {
	case rdf.IRI:
		dst = append(dst, tagIRI)
		return appendString(dst, v.Value), nil
	case rdf.BlankNode:
		dst = append(dst, tagBlank)
		return appendString(dst, v.ID), nil
	case rdf.Literal:
		dst = append(dst, tagLiteral)
		dst = appendString(dst, v.Lexical)
		dst = appendString(dst, v.Datatype.Value)
		return appendString(dst, v.Lang), nil
	case rdf.TripleTerm:
		if v.S == nil || v.O == nil {
			return nil, fmt.Errorf("%w: quoted triple is incomplete", ErrInvalidStatement)
		}
		dst = append(dst, tagTriple)
		var err error
		if dst, err = appendTerm(dst, v.S); err != nil {
			return nil, err
		}
		dst = appendString(dst, v.P.Value)
		return appendTerm(dst, v.O)
	case nil:
		return nil, fmt.Errorf("%w: nil term", ErrInvalidStatement)
	default:
		return nil, fmt.Errorf("%w: unsupported term %T", ErrInvalidStatement, t)
	}
}

func appendString(dst []byte, s string) []byte {
	dst = append(dst, varint.ToUvarint(uint64(len(s)))...)
	return append(dst, s...)
}

type decoder struct {
	buf   []byte
	depth int
}

func (d *decoder) statement() (rdf.Statement, error) {
	var s rdf.Statement
	var err error

	if s.S, err = d.term(); err != nil {
		return rdf.Statement{}, err
	}
	p, err := d.readString()
	if err != nil {
		return rdf.Statement{}, err
	}
	s.P = rdf.IRI{Value: p}
	if s.O, err = d.term(); err != nil {
		return rdf.Statement{}, err
	}

	flag, err := d.readByte()
	if err != nil {
		return rdf.Statement{}, err
	}
	switch flag {
	case graphDefault:
	case graphNamed:
		if s.G, err = d.term(); err != nil {
			return rdf.Statement{}, err
		}
	default:
		return rdf.Statement{}, fmt.Errorf("%w: unknown graph flag %d", ErrMalformedRecord, flag)
	}
	return s, nil
}

func (d *decoder) term() (rdf.Term, error) {
	tag, err := d.readByte()
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagIRI:
		v, err := d.readString()
		if err != nil {
			return nil, err
		}
		return rdf.IRI{Value: v}, nil
	case tagBlank:
		v, err := d.readString()
		if err != nil {
			return nil, err
		}
		return rdf.BlankNode{ID: v}, nil
	case tagLiteral:
		lex, err := d.readString()
		if err != nil {
			return nil, err
		}
		dt, err := d.readString()
		if err != nil {
			return nil, err
		}
		lang, err := d.readString()
		if err != nil {
			return nil, err
		}
		return rdf.Literal{Lexical: lex, Datatype: rdf.IRI{Value: dt}, Lang: lang}, nil
	case tagTriple:
		d.depth++
		if d.depth > maxDepth {
			return nil, fmt.Errorf("%w: quoted triples nested deeper than %d", ErrMalformedRecord, maxDepth)
		}
		defer func() { d.depth-- }()

		s, err := d.term()
		if err != nil {
			return nil, err
		}
		p, err := d.readString()
		if err != nil {
			return nil, err
		}
		o, err := d.term()
		if err != nil {
			return nil, err
		}
		return rdf.TripleTerm{S: s, P: rdf.IRI{Value: p}, O: o}, nil
	default:
		return nil, fmt.Errorf("%w: unknown term tag %d", ErrMalformedRecord, tag)
	}
}

func (d *decoder) readByte() (byte, error) {
	if len(d.buf) == 0 {
		return 0, fmt.Errorf("%w: unexpected end of record", ErrMalformedRecord)
	}
	b := d.buf[0]
	d.buf = d.buf[1:]
	return b, nil
}

func (d *decoder) readString() (string, error) {
	size, n, err := varint.FromUvarint(d.buf)
	if err != nil {
		return "", fmt.Errorf("%w: string length: %v", ErrMalformedRecord, err)
	}
	if size > uint64(len(d.buf)-n) {
		return "", fmt.Errorf("%w: string of %d bytes exceeds record", ErrMalformedRecord, size)
	}
	end := n + int(size)
	s := string(d.buf[n:end])
	d.buf = d.buf[end:]
	return s, nil
}
