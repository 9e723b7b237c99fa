package keys

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	genoerrors "github.com/genostore/genostore/internal/errors"
)

// DefaultBucketSize is the archive chunk size in bases.
const DefaultBucketSize = 1000

// BucketSize is the width of a genomic bucket. Both the raw slices and the
// merged rows are sharded on bucket boundaries derived from it.
type BucketSize int

// BucketOf returns the index of the bucket holding pos.
func (s BucketSize) BucketOf(pos int) int {
	return pos / int(s)
}

// BucketStart returns the first position of bucket idx.
func (s BucketSize) BucketStart(idx int) int {
	return idx * int(s)
}

// BucketEnd returns the first position past bucket idx.
func (s BucketSize) BucketEnd(idx int) int {
	return (idx + 1) * int(s)
}

// AlignDown floors pos to a bucket boundary.
func (s BucketSize) AlignDown(pos int) int {
	return s.BucketStart(s.BucketOf(pos))
}

// Validate rejects non-positive sizes.
func (s BucketSize) Validate() error {
	if s <= 0 {
		return genoerrors.NewValidationError(genoerrors.CodeInvalidConfig,
			fmt.Sprintf("keys: bucket size must be positive, got %d", s))
	}
	return nil
}

// Bucket addresses one genomic window.
type Bucket struct {
	Chrom string
	Index int
}

// ID renders the bucket in the chrom_index text form used for object names and logs.
func (b Bucket) ID() string {
	return NormalizeChromosome(b.Chrom) + "_" + strconv.Itoa(b.Index)
}

// ParseBucketID is the inverse of Bucket.ID.
func ParseBucketID(id string) (Bucket, error) {
	i := strings.LastIndexByte(id, '_')
	if i <= 0 {
		return Bucket{}, genoerrors.NewKeyDecodeError("keys: bucket id without separator", []byte(id))
	}
	idx, err := strconv.Atoi(id[i+1:])
	if err != nil || idx < 0 {
		return Bucket{}, genoerrors.NewKeyDecodeError("keys: bad bucket index", []byte(id))
	}
	return Bucket{Chrom: NormalizeChromosome(id[:i]), Index: idx}, nil
}

// EncodeBucketKey builds the archive row key of a bucket. It shares the
// chromosome prefix with variant keys and sorts in genomic order.
func EncodeBucketKey(b Bucket) ([]byte, error) {
	if b.Index < 0 || b.Index > MaxPosition {
		return nil, genoerrors.NewValidationError(genoerrors.CodeInvalidArgument,
			fmt.Sprintf("keys: bucket index %d out of range", b.Index))
	}
	buf := appendChromosome(nil, b.Chrom)
	if buf == nil {
		return nil, genoerrors.NewValidationError(genoerrors.CodeInvalidArgument,
			fmt.Sprintf("keys: invalid chromosome %q", b.Chrom))
	}
	return binary.BigEndian.AppendUint32(buf, uint32(b.Index)), nil
}

// DecodeBucketKey is the inverse of EncodeBucketKey.
func DecodeBucketKey(key []byte) (Bucket, error) {
	chrom, rest, err := readChromosome(key)
	if err != nil {
		return Bucket{}, err
	}
	if len(rest) != 4 {
		return Bucket{}, genoerrors.NewKeyDecodeError("keys: bucket key must end with a 4 byte index", key)
	}
	return Bucket{Chrom: chrom, Index: int(binary.BigEndian.Uint32(rest))}, nil
}

// BucketPrefix is EncodeBucketKey without validation, for range bounds.
func BucketPrefix(chrom string, idx int) []byte {
	return PositionPrefix(chrom, idx)
}
