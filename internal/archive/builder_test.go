package archive

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	genoerrors "github.com/genostore/genostore/internal/errors"
	"github.com/genostore/genostore/internal/keys"
)

func TestBuildSlices_SplitsAcrossBuckets(t *testing.T) {
	meta := FileMeta{FileID: 3, SampleIDs: []int{1, 2}}
	calls := []Call{
		{Chrom: "chr1", Start: 95, End: 205, Ref: "N", Type: TypeNoVariation, Filter: "PASS",
			Samples: []SampleCall{{SampleID: 1, Genotype: "0/0"}, {SampleID: 2, Genotype: "0/0"}}},
		{Chrom: "1", Start: 250, End: 250, Ref: "A", Alt: "C", Type: TypeSNV, Filter: "PASS",
			Samples: []SampleCall{{SampleID: 2, Genotype: "0/1", Filter: "LowGQ"}}},
		{Chrom: "X", Start: 10, End: 10, Ref: "G", Alt: "T", Type: TypeSNV, Filter: "PASS",
			Samples: []SampleCall{{SampleID: 1, Genotype: "1/1"}, {SampleID: 2, Genotype: "0/0"}}},
	}

	slices, err := BuildSlices(calls, meta, 100)
	require.NoError(t, err)
	require.Len(t, slices, 4)
	assert.Equal(t, []int{0, 100, 200, 0}, []int{slices[0].Start, slices[1].Start, slices[2].Start, slices[3].Start})
	assert.Equal(t, "X", slices[3].Chrom)

	// The reference block is repeated in every bucket it touches.
	assert.Equal(t, 95, slices[0].Records[0].RelStart)
	assert.Equal(t, -5, slices[1].Records[0].RelStart)
	assert.Equal(t, -105, slices[2].Records[0].RelStart)
	assert.Equal(t, 5, slices[2].Records[0].RelEnd)

	got, err := Decode(slices[2], meta)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 95, got[0].Start)
	assert.Equal(t, 205, got[0].End)
	assert.Equal(t, SampleCall{SampleID: 1, Genotype: ".", Filter: "PASS"}, got[1].Samples[0], "absent sample is a no-call")
	assert.Equal(t, SampleCall{SampleID: 2, Genotype: "0/1", Filter: "LowGQ"}, got[1].Samples[1])
}

func TestBuildSlices_UnknownSample(t *testing.T) {
	calls := []Call{snvCall(5, "0/1", "0/1")}
	_, err := BuildSlices(calls, FileMeta{FileID: 1, SampleIDs: []int{1}}, 100)
	assert.ErrorIs(t, err, genoerrors.ErrMissingSample)
}

func TestTransformedFile_RoundTrip(t *testing.T) {
	meta := FileMeta{FileID: 9, SampleIDs: []int{1, 2}}
	slices, err := BuildSlices([]Call{snvCall(5, "0/1", "1/1"), snvCall(1500, "0/0", "0/1")}, meta, keys.DefaultBucketSize)
	require.NoError(t, err)

	var buf bytes.Buffer
	h := Header{FileID: 9, FileName: "s.g.vcf.gz", SampleNames: []string{"NA1", "NA2"}, BucketSize: keys.DefaultBucketSize}
	tw, err := NewTransformedWriter(&buf, h)
	require.NoError(t, err)
	for _, s := range slices {
		require.NoError(t, tw.WriteSlice(s))
	}
	require.NoError(t, tw.Close())
	assert.Equal(t, 2, tw.Count())

	tr, err := NewTransformedReader(&buf)
	require.NoError(t, err)
	assert.Equal(t, h, tr.Header)

	var read []*Slice
	for {
		s, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		read = append(read, s)
	}
	require.Len(t, read, 2)
	assert.Equal(t, 1000, read[1].Start)
}

func TestTransformedFile_Rejects(t *testing.T) {
	_, err := NewTransformedReader(bytes.NewReader([]byte("not a transformed file")))
	assert.ErrorIs(t, err, genoerrors.ErrCorruptSlice)

	var buf bytes.Buffer
	tw, err := NewTransformedWriter(&buf, Header{FileID: 1, BucketSize: 100})
	require.NoError(t, err)
	assert.Error(t, tw.WriteSlice(&Slice{Chrom: "1", Start: 150}), "unaligned slice")
	require.NoError(t, tw.WriteSlice(&Slice{Chrom: "1", Start: 100}))
	require.NoError(t, tw.Close())

	truncated := buf.Bytes()[:buf.Len()-1]
	tr, err := NewTransformedReader(bytes.NewReader(truncated))
	require.NoError(t, err)
	_, err = tr.Next()
	assert.ErrorIs(t, err, genoerrors.ErrCorruptSlice)
}
