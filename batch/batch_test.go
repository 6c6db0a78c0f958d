package batch

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/c360studio/rdfpub/codec"
	"github.com/geoknoesis/rdf-go/rdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeRecords encodes n statements that all encode to the same size.
func makeRecords(t *testing.T, n int) []codec.Record {
	t.Helper()
	out := make([]codec.Record, 0, n)
	for i := range n {
		rec, err := codec.Encode(rdf.Statement{
			S: rdf.IRI{Value: fmt.Sprintf("http://example.org/s%03d", i)},
			P: rdf.IRI{Value: "http://example.org/p"},
			O: rdf.Literal{Lexical: fmt.Sprintf("value %03d", i)},
		})
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func concat(records []codec.Record) []byte {
	var out []byte
	for _, r := range records {
		out = append(out, r...)
	}
	return out
}

func TestPackGreedy(t *testing.T) {
	records := makeRecords(t, 5)
	size := records[0].Len()

	tests := []struct {
		name     string
		maxBytes int
		want     []int
	}{
		{name: "one per batch", maxBytes: size, want: []int{1, 1, 1, 1, 1}},
		{name: "two per batch", maxBytes: 2*size + size/2, want: []int{2, 2, 1}},
		{name: "exact fit", maxBytes: 5 * size, want: []int{5}},
		{name: "roomy", maxBytes: 100 * size, want: []int{5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches, err := Pack("a.nt", records, tt.maxBytes)
			require.NoError(t, err)
			require.Len(t, batches, len(tt.want))

			for i, b := range batches {
				assert.Equal(t, tt.want[i], b.Count)
				assert.Equal(t, i, b.Seq)
				assert.Equal(t, "a.nt", b.File)
				assert.LessOrEqual(t, b.Size(), tt.maxBytes)
			}
		})
	}
}

func TestPackPreservesRecords(t *testing.T) {
	// Records of varying size exercise the packing boundary.
	var records []codec.Record
	for i := range 40 {
		rec, err := codec.Encode(rdf.Statement{
			S: rdf.IRI{Value: "http://example.org/s"},
			P: rdf.IRI{Value: "http://example.org/p"},
			O: rdf.Literal{Lexical: string(bytes.Repeat([]byte("x"), i*7%53))},
		})
		require.NoError(t, err)
		records = append(records, rec)
	}

	for _, maxBytes := range []int{128, 257, 1000, 4096} {
		batches, err := Pack("f", records, maxBytes)
		require.NoError(t, err)

		var joined []byte
		var got []codec.Record
		for _, b := range batches {
			assert.LessOrEqual(t, b.Size(), maxBytes)
			assert.NotZero(t, b.Count)
			joined = append(joined, b.Payload...)

			recs, err := b.Records()
			require.NoError(t, err)
			assert.Len(t, recs, b.Count)
			got = append(got, recs...)
		}
		assert.Equal(t, concat(records), joined, "max %d", maxBytes)
		assert.Equal(t, len(records), len(got))
	}
}

func TestPackEmpty(t *testing.T) {
	batches, err := Pack("empty.nt", nil, 100)
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestRecordTooLarge(t *testing.T) {
	records := makeRecords(t, 3)
	big, err := codec.Encode(rdf.Statement{
		S: rdf.IRI{Value: "http://example.org/big"},
		P: rdf.IRI{Value: "http://example.org/p"},
		O: rdf.Literal{Lexical: string(bytes.Repeat([]byte("y"), 500))},
	})
	require.NoError(t, err)

	input := []codec.Record{records[0], records[1], big, records[2]}
	maxBytes := 3 * records[0].Len()

	batches, err := Pack("big.ttl", input, maxBytes)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRecordTooLarge)
	assert.Empty(t, batches, "batch holding earlier records is not complete yet")

	var tooLarge *RecordTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, "big.ttl", tooLarge.File)
	assert.Equal(t, 2, tooLarge.Index)
	assert.Equal(t, big.Len(), tooLarge.Size)
	assert.Equal(t, maxBytes, tooLarge.MaxBytes)
}

func TestBatcherStreaming(t *testing.T) {
	records := makeRecords(t, 3)
	b, err := New("stream.nt", Config{MaxBytes: 2 * records[0].Len()})
	require.NoError(t, err)

	done, err := b.Add(records[0])
	require.NoError(t, err)
	assert.Nil(t, done)

	done, err = b.Add(records[1])
	require.NoError(t, err)
	assert.Nil(t, done)

	done, err = b.Add(records[2])
	require.NoError(t, err)
	require.NotNil(t, done)
	assert.Equal(t, 2, done.Count)
	assert.Equal(t, 0, done.Seq)

	last := b.Flush()
	require.NotNil(t, last)
	assert.Equal(t, 1, last.Count)
	assert.Equal(t, 1, last.Seq)
	assert.Nil(t, b.Flush())
	assert.Equal(t, 2, b.Batches())
}

func TestConfigValidate(t *testing.T) {
	_, err := New("x", Config{MaxBytes: -1})
	assert.Error(t, err)

	b, err := New("x", Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxBytes, b.config.MaxBytes)
}

func TestBatchIdentity(t *testing.T) {
	records := makeRecords(t, 2)
	batches, err := Pack("id.nt", records, 1000)
	require.NoError(t, err)
	require.Len(t, batches, 1)

	c1, err := batches[0].CID()
	require.NoError(t, err)
	c2, err := batches[0].CID()
	require.NoError(t, err)
	assert.Equal(t, c1, c2)

	other, err := Pack("id.nt", records[:1], 1000)
	require.NoError(t, err)
	c3, err := other[0].CID()
	require.NoError(t, err)
	assert.NotEqual(t, c1, c3)
}

func TestPreparedRoundTrip(t *testing.T) {
	records := makeRecords(t, 4)
	batches, err := Pack("in.nt", records, 1000)
	require.NoError(t, err)
	require.Len(t, batches, 1)

	path := filepath.Join(t.TempDir(), PreparedName(1))
	assert.Equal(t, "prepared.000001.rdfb", filepath.Base(path))
	assert.True(t, IsPrepared(path))
	assert.False(t, IsPrepared("data.ttl"))

	require.NoError(t, WriteFile(path, batches[0]))

	loaded, err := ReadFile(path, 1000)
	require.NoError(t, err)
	assert.Equal(t, batches[0].Payload, loaded.Payload)
	assert.Equal(t, 4, loaded.Count)
	assert.Equal(t, path, loaded.File)
	assert.Equal(t, path, loaded.Prepared)

	_, err = ReadFile(path, 10)
	assert.ErrorIs(t, err, ErrRecordTooLarge)
}

func TestUnmarshalPreparedRejectsGarbage(t *testing.T) {
	_, err := UnmarshalPrepared([]byte("not a batch"))
	assert.ErrorIs(t, err, ErrNotPrepared)

	data := MarshalPrepared(&Batch{Payload: concat(makeRecords(t, 2)), Count: 3})
	_, err = UnmarshalPrepared(data)
	assert.ErrorIs(t, err, ErrNotPrepared)
}

func TestUnmarshalPreparedRejectsEmptyBatch(t *testing.T) {
	_, err := UnmarshalPrepared(MarshalPrepared(&Batch{}))
	assert.ErrorIs(t, err, ErrNotPrepared)
	assert.ErrorContains(t, err, "empty batch")

	path := filepath.Join(t.TempDir(), PreparedName(1))
	require.NoError(t, WriteFile(path, &Batch{}))
	_, err = ReadFile(path, DefaultMaxBytes)
	assert.ErrorIs(t, err, ErrNotPrepared)
}
