package keys

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketSize(t *testing.T) {
	s := BucketSize(1000)

	tests := []struct {
		pos, bucket, start int
	}{
		{0, 0, 0},
		{999, 0, 0},
		{1000, 1, 1000},
		{123456, 123, 123000},
	}
	for _, tt := range tests {
		if got := s.BucketOf(tt.pos); got != tt.bucket {
			t.Errorf("BucketOf(%d) = %d, want %d", tt.pos, got, tt.bucket)
		}
		if got := s.BucketStart(tt.bucket); got != tt.start {
			t.Errorf("BucketStart(%d) = %d, want %d", tt.bucket, got, tt.start)
		}
		if got := s.AlignDown(tt.pos); got != tt.start {
			t.Errorf("AlignDown(%d) = %d, want %d", tt.pos, got, tt.start)
		}
	}
	assert.Equal(t, 2000, s.BucketEnd(1))
	assert.Error(t, BucketSize(0).Validate())
	assert.NoError(t, s.Validate())
}

func TestBucketKey_RoundTrip(t *testing.T) {
	for _, b := range []Bucket{{"1", 0}, {"X", 155270}, {"M", 16}, {"GL000192.1", 3}} {
		key, err := EncodeBucketKey(b)
		require.NoError(t, err)
		got, err := DecodeBucketKey(key)
		require.NoError(t, err)
		assert.Equal(t, b, got)
	}
}

func TestBucketKey_OrderAndContainment(t *testing.T) {
	s := BucketSize(1000)
	b := Bucket{Chrom: "2", Index: s.BucketOf(1500)}
	start, err := EncodeBucketKey(b)
	require.NoError(t, err)
	end, err := EncodeBucketKey(Bucket{Chrom: "2", Index: b.Index + 1})
	require.NoError(t, err)

	// Bucket keys and variant keys share the position prefix, so a bucket's
	// variant rows scan as [bucketKey(i), bucketKey(i+1)) once the index is
	// scaled back to a position.
	v, err := EncodeVariantKey("2", 1500, "A", "T")
	require.NoError(t, err)
	lo := PositionPrefix("2", s.BucketStart(b.Index))
	hi := PositionPrefix("2", s.BucketEnd(b.Index))
	assert.True(t, bytes.Compare(lo, v) <= 0 && bytes.Compare(v, hi) < 0)
	assert.True(t, bytes.Compare(start, end) < 0)
}

func TestDecodeBucketKey_Malformed(t *testing.T) {
	_, err := DecodeBucketKey([]byte{1, 0, 0})
	assert.Error(t, err)
	_, err = DecodeBucketKey([]byte{1, 0, 0, 0, 0, 9})
	assert.Error(t, err)
}

func TestBucketID(t *testing.T) {
	b := Bucket{Chrom: "chr12", Index: 44}
	assert.Equal(t, "12_44", b.ID())

	got, err := ParseBucketID("Un_gl000220_7")
	require.NoError(t, err)
	assert.Equal(t, Bucket{Chrom: "Un_gl000220", Index: 7}, got)

	_, err = ParseBucketID("12")
	assert.Error(t, err)
	_, err = ParseBucketID("12_x")
	assert.Error(t, err)
}
