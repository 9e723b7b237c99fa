package studyrow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	genoerrors "github.com/genostore/genostore/internal/errors"
	"github.com/genostore/genostore/internal/keys"
)

var variant = keys.Variant{Chrom: "1", Pos: 100, Ref: "A", Alt: "G"}

func TestMergeIn_Groups(t *testing.T) {
	r := New(1, variant)
	require.NoError(t, r.MergeIn(10, []Call{
		{SampleID: 1, Genotype: "0/1", Filter: "PASS"},
		{SampleID: 2, Genotype: "0/0", Filter: "PASS"},
		{SampleID: 3, Genotype: "./.", Filter: "LowQual"},
	}))
	require.NoError(t, r.MergeIn(11, []Call{
		{SampleID: 4, Genotype: "1/1", Filter: "PASS"},
		{SampleID: 5, Genotype: "0|0", Filter: ""},
	}))

	assert.Equal(t, 2, r.HomRefCount)
	assert.Equal(t, map[string]IntSet{"0/1": NewIntSet(1), "1/1": NewIntSet(4), ".": NewIntSet(3)}, r.Groups)
	assert.Equal(t, map[string]IntSet{"LowQual": NewIntSet(3), ".": NewIntSet(5)}, r.Filters)
	assert.Equal(t, 3, r.PassCount)
	assert.Equal(t, 4, r.CallCount)
	assert.Equal(t, NewIntSet(10, 11), r.Files)
	assert.Equal(t, 5, r.SampleCount())
	assert.True(t, r.HasAltCarriers())
}

func TestMergeIn_DuplicateSample(t *testing.T) {
	tests := []struct {
		name  string
		first []Call
		file  int
		again []Call
	}{
		{"same group", []Call{{SampleID: 1, Genotype: "0/1"}}, 2, []Call{{SampleID: 1, Genotype: "0/1"}}},
		{"other group", []Call{{SampleID: 1, Genotype: "0/1"}}, 2, []Call{{SampleID: 1, Genotype: "1/1"}}},
		{"filtered reference", []Call{{SampleID: 1, Genotype: "0/0", Filter: "LowGQ"}}, 2, []Call{{SampleID: 1, Genotype: "0/0"}}},
		{"twice in one file", nil, 2, []Call{{SampleID: 2, Genotype: "0/1"}, {SampleID: 2, Genotype: "1/1"}}},
		{"same file twice", []Call{{SampleID: 1, Genotype: "0/0", Filter: "PASS"}}, 1, []Call{{SampleID: 1, Genotype: "0/0", Filter: "PASS"}}},
		{"same file without calls", []Call{{SampleID: 1, Genotype: "0/1"}}, 1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(1, variant)
			require.NoError(t, r.MergeIn(1, tt.first))
			before := r.Clone()

			err := r.MergeIn(tt.file, tt.again)
			require.Error(t, err)
			assert.ErrorIs(t, err, genoerrors.ErrDuplicateSample)
			assert.True(t, genoerrors.IsCorruption(err))
			assert.Equal(t, before, r, "failed merge must not modify the row")
		})
	}
}

func TestMergeIn_SameFileKeepsCounts(t *testing.T) {
	r := New(1, variant)
	calls := []Call{{SampleID: 1, Genotype: "0/0", Filter: "PASS"}}
	require.NoError(t, r.MergeIn(7, calls))
	require.Error(t, r.MergeIn(7, calls))
	assert.Equal(t, 1, r.HomRefCount)
	assert.Equal(t, 1, r.PassCount)
	assert.Equal(t, 1, r.CallCount)

	require.NoError(t, r.RemoveFile(7, []int{1}))
	require.NoError(t, r.MergeIn(7, calls), "a removed file merges again")
	assert.Equal(t, 1, r.HomRefCount)
}

func TestRemoveSample(t *testing.T) {
	r := New(1, variant)
	require.NoError(t, r.MergeIn(1, []Call{
		{SampleID: 1, Genotype: "0/1", Filter: "PASS"},
		{SampleID: 2, Genotype: "0/0", Filter: "PASS"},
		{SampleID: 3, Genotype: ".", Filter: "LowQual"},
	}))

	require.NoError(t, r.RemoveSample(1))
	assert.NotContains(t, r.Groups, "0/1", "empty groups are dropped")
	assert.Equal(t, 1, r.PassCount)
	assert.Equal(t, 1, r.CallCount)

	require.NoError(t, r.RemoveSample(3))
	assert.Empty(t, r.Filters)
	assert.Equal(t, 1, r.CallCount, "no-call samples were never counted as calls")

	require.NoError(t, r.RemoveSample(2))
	assert.Equal(t, 0, r.HomRefCount)
	assert.Equal(t, 0, r.PassCount)
	assert.Equal(t, 0, r.CallCount)

	err := r.RemoveSample(2)
	assert.ErrorIs(t, err, genoerrors.ErrRowInconsistency)
}

func TestRemoveFile_Idempotent(t *testing.T) {
	r := New(1, variant)
	require.NoError(t, r.MergeIn(1, []Call{{SampleID: 1, Genotype: "0/1", Filter: "PASS"}}))
	require.NoError(t, r.MergeIn(2, []Call{{SampleID: 2, Genotype: "1/1", Filter: "PASS"}}))

	require.NoError(t, r.RemoveFile(1, []int{1}))
	require.NoError(t, r.RemoveFile(1, []int{1}))
	assert.Equal(t, map[string]IntSet{"1/1": NewIntSet(2)}, r.Groups)
	assert.Equal(t, NewIntSet(2), r.Files)
	assert.True(t, r.HasAltCarriers())

	require.NoError(t, r.RemoveFile(2, []int{2}))
	assert.False(t, r.HasAltCarriers())
}

func TestHasAltCarriers(t *testing.T) {
	tests := []struct {
		gt   string
		want bool
	}{
		{"0/1", true},
		{"1|2", true},
		{"./1", true},
		{".", false},
		{"?", false},
		{"0/0", false},
	}
	for _, tt := range tests {
		r := New(1, variant)
		require.NoError(t, r.MergeIn(1, []Call{{SampleID: 1, Genotype: tt.gt}}))
		assert.Equal(t, tt.want, r.HasAltCarriers(), tt.gt)
	}
}

func TestValidate(t *testing.T) {
	r := New(1, variant)
	require.NoError(t, r.MergeIn(1, []Call{{SampleID: 1, Genotype: "0/1"}, {SampleID: 2, Genotype: "0/0"}}))
	assert.NoError(t, r.Validate(2))
	assert.ErrorIs(t, r.Validate(1), genoerrors.ErrRowInconsistency)
}

func TestSnapshot_RoundTrip(t *testing.T) {
	a := New(3, variant)
	require.NoError(t, a.MergeIn(1, []Call{{SampleID: 1, Genotype: "0/1", Filter: "PASS"}, {SampleID: 2, Genotype: "0/0", Filter: "q10"}}))
	b := New(3, keys.Variant{Chrom: "1", Pos: 150, Ref: "C", Alt: "T"})
	require.NoError(t, b.MergeIn(1, []Call{{SampleID: 1, Genotype: "1/1", Filter: "PASS"}}))

	bucket := keys.Bucket{Chrom: "1", Index: 0}
	data, err := EncodeSnapshot(3, bucket, []*Row{a, b})
	require.NoError(t, err)

	gotBucket, rows, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, bucket, gotBucket)
	require.Len(t, rows, 2)
	assert.Equal(t, a, rows[0])
	assert.Equal(t, b, rows[1])

	_, _, err = DecodeSnapshot([]byte{0xc1})
	assert.Error(t, err)
}
