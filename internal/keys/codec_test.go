package keys

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	genoerrors "github.com/genostore/genostore/internal/errors"
)

func TestNormalizeChromosome(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"1", "1"},
		{"chr1", "1"},
		{"CHR22", "22"},
		{"01", "1"},
		{"chrX", "X"},
		{"x", "X"},
		{"chrM", "M"},
		{"mt", "M"},
		{"chrMT", "M"},
		{"chrchr1", "1"},
		{"chrchrUn_gl000220", "Un_gl000220"},
		{"chr", "chr"},
		{"GL000192.1", "GL000192.1"},
		{"chrUn_gl000220", "Un_gl000220"},
	}
	for _, tt := range tests {
		if got := NormalizeChromosome(tt.in); got != tt.want {
			t.Errorf("NormalizeChromosome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEncodeVariantKey_RoundTrip(t *testing.T) {
	variants := []Variant{
		{"1", 100, "A", "G"},
		{"2", 1, "", "T"},
		{"10", 123456789, "ACGT", ""},
		{"22", MaxPosition, "C", "CTT"},
		{"X", 5, "G", "<DEL>"},
		{"Y", 2781479, "T", "A"},
		{"M", 16569, "A", "G"},
		{"GL000192.1", 77, "N", "A"},
	}
	for _, v := range variants {
		key, err := v.Key()
		require.NoError(t, err, v.String())
		got, err := DecodeVariantKey(key)
		require.NoError(t, err, v.String())
		assert.Equal(t, v, got)
	}
}

func TestEncodeVariantKey_GenomicOrder(t *testing.T) {
	// Listed in genomic order.
	ordered := []Variant{
		{"1", 100, "A", "G"},
		{"1", 100, "AC", "A"},
		{"1", 101, "A", "C"},
		{"2", 5, "T", "A"},
		{"9", 10, "C", "G"},
		{"10", 1, "A", "T"},
		{"22", 50, "A", "T"},
		{"X", 1, "A", "T"},
		{"Y", 1, "A", "T"},
		{"M", 1, "A", "T"},
		{"GL000192.1", 1, "A", "T"},
		{"GL000193.1", 1, "A", "T"},
	}
	for i := 1; i < len(ordered); i++ {
		a, err := ordered[i-1].Key()
		require.NoError(t, err)
		b, err := ordered[i].Key()
		require.NoError(t, err)
		if bytes.Compare(a, b) >= 0 {
			t.Errorf("key(%s) should sort before key(%s)", ordered[i-1], ordered[i])
		}
		if ordered[i-1].Compare(ordered[i]) >= 0 {
			t.Errorf("Compare(%s, %s) should be negative", ordered[i-1], ordered[i])
		}
	}
}

func TestEncodeVariantKey_NormalizesChromosome(t *testing.T) {
	a, err := EncodeVariantKey("chr7", 10, "A", "T")
	require.NoError(t, err)
	b, err := EncodeVariantKey("7", 10, "A", "T")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEncodeVariantKey_Invalid(t *testing.T) {
	_, err := EncodeVariantKey("1", -1, "A", "T")
	assert.Error(t, err)
	_, err = EncodeVariantKey("", 1, "A", "T")
	assert.Error(t, err)
	_, err = EncodeVariantKey("1", 1, "A\x00", "T")
	assert.Error(t, err)
}

func TestDecodeVariantKey_Malformed(t *testing.T) {
	good, err := EncodeVariantKey("3", 42, "A", "T")
	require.NoError(t, err)
	other, err := EncodeVariantKey("HLA-A*01", 42, "A", "T")
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":               {},
		"unknown rank":        {230, 0, 0, 0, 1, 'A', 0, 'T'},
		"truncated position":  good[:3],
		"missing separator":   good[:6],
		"unterminated contig": other[:5],
	}
	for name, key := range cases {
		_, err := DecodeVariantKey(key)
		if !genoerrors.IsCorruption(err) || genoerrors.GetCode(err) != genoerrors.CodeKeyDecode {
			t.Errorf("%s: expected KEY_DECODE error, got %v", name, err)
		}
	}
}

func TestPositionPrefixRanges(t *testing.T) {
	key, err := EncodeVariantKey("4", 150, "A", "T")
	require.NoError(t, err)

	assert.True(t, bytes.Compare(PositionPrefix("4", 150), key) <= 0)
	assert.True(t, bytes.Compare(key, PositionPrefix("4", 151)) < 0)
	assert.True(t, bytes.Compare(key, ChromosomeEnd("4")) < 0)

	next, err := EncodeVariantKey("5", 0, "", "")
	require.NoError(t, err)
	assert.True(t, bytes.Compare(ChromosomeEnd("4"), next) <= 0)

	contig, err := EncodeVariantKey("GL1", 9, "A", "T")
	require.NoError(t, err)
	assert.True(t, bytes.Compare(contig, ChromosomeEnd("GL1")) < 0)
	after, err := EncodeVariantKey("GL10", 0, "", "")
	require.NoError(t, err)
	assert.True(t, bytes.Compare(ChromosomeEnd("GL1"), after) <= 0)
}

func TestCompareChromosomes(t *testing.T) {
	assert.Negative(t, CompareChromosomes("2", "10"))
	assert.Negative(t, CompareChromosomes("22", "X"))
	assert.Negative(t, CompareChromosomes("X", "Y"))
	assert.Negative(t, CompareChromosomes("Y", "MT"))
	assert.Zero(t, CompareChromosomes("MT", "chrM"))
	assert.Zero(t, CompareChromosomes("chr1", "1"))
	assert.Positive(t, CompareChromosomes("GL2", "GL1"))
}

func TestEncodeVariantKey_ChromosomeAliases(t *testing.T) {
	tests := []struct {
		in, canonical string
	}{
		{"MT", "M"},
		{"chrMT", "M"},
		{"chrchr1", "1"},
		{"CHRchr22", "22"},
	}
	for _, tt := range tests {
		key, err := EncodeVariantKey(tt.in, 10, "A", "G")
		require.NoError(t, err, tt.in)
		want, err := EncodeVariantKey(tt.canonical, 10, "A", "G")
		require.NoError(t, err, tt.in)
		assert.Equal(t, want, key, tt.in)

		got, err := DecodeVariantKey(key)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.canonical, got.Chrom, tt.in)
		rekey, err := got.Key()
		require.NoError(t, err, tt.in)
		assert.Equal(t, key, rekey, "decoded %s re-encodes to the same key", tt.in)
	}
}
