// Package keys implements the order-preserving row keys of the archive and
// index tables.
//
// A variant key is laid out as
//
//	[chromosome][position uint32 BE][reference] 0x00 [alternate]
//
// where the chromosome is a single rank byte, or rankOther followed by the
// contig name and a 0x00 terminator. Byte order of two keys equals genomic
// order of the variants they encode.
package keys

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	genoerrors "github.com/genostore/genostore/internal/errors"
)

const separator byte = 0x00

// MaxPosition is the largest position a key can hold.
const MaxPosition = math.MaxUint32

// Variant identifies a variant by its coordinates and alleles.
type Variant struct {
	Chrom string
	Pos   int
	Ref   string
	Alt   string
}

// String renders the variant as chrom:pos:ref:alt.
func (v Variant) String() string {
	return fmt.Sprintf("%s:%d:%s:%s", v.Chrom, v.Pos, v.Ref, v.Alt)
}

// Key encodes the variant.
func (v Variant) Key() ([]byte, error) {
	return EncodeVariantKey(v.Chrom, v.Pos, v.Ref, v.Alt)
}

// Compare orders variants by genomic position, then alleles.
func (v Variant) Compare(o Variant) int {
	if c := CompareChromosomes(v.Chrom, o.Chrom); c != 0 {
		return c
	}
	switch {
	case v.Pos < o.Pos:
		return -1
	case v.Pos > o.Pos:
		return 1
	}
	if c := strings.Compare(v.Ref, o.Ref); c != 0 {
		return c
	}
	return strings.Compare(v.Alt, o.Alt)
}

// EncodeVariantKey builds the row key of a variant. The chromosome is
// normalized first, so "chr1" and "1" produce the same key.
func EncodeVariantKey(chrom string, pos int, ref, alt string) ([]byte, error) {
	if pos < 0 || pos > MaxPosition {
		return nil, genoerrors.NewValidationError(genoerrors.CodeInvalidArgument,
			fmt.Sprintf("keys: position %d out of range", pos))
	}
	if strings.IndexByte(ref, separator) >= 0 || strings.IndexByte(alt, separator) >= 0 {
		return nil, genoerrors.NewValidationError(genoerrors.CodeInvalidArgument,
			"keys: alleles must not contain a zero byte")
	}
	buf := appendChromosome(make([]byte, 0, 8+len(chrom)+len(ref)+len(alt)), chrom)
	if buf == nil {
		return nil, genoerrors.NewValidationError(genoerrors.CodeInvalidArgument,
			fmt.Sprintf("keys: invalid chromosome %q", chrom))
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(pos))
	buf = append(buf, ref...)
	buf = append(buf, separator)
	buf = append(buf, alt...)
	return buf, nil
}

// DecodeVariantKey is the inverse of EncodeVariantKey. Malformed input
// fails with a KEY_DECODE error.
func DecodeVariantKey(key []byte) (Variant, error) {
	chrom, rest, err := readChromosome(key)
	if err != nil {
		return Variant{}, err
	}
	if len(rest) < 4 {
		return Variant{}, genoerrors.NewKeyDecodeError("keys: truncated position", key)
	}
	pos := binary.BigEndian.Uint32(rest[:4])
	rest = rest[4:]
	i := bytes.IndexByte(rest, separator)
	if i < 0 {
		return Variant{}, genoerrors.NewKeyDecodeError("keys: missing allele separator", key)
	}
	return Variant{
		Chrom: chrom,
		Pos:   int(pos),
		Ref:   string(rest[:i]),
		Alt:   string(rest[i+1:]),
	}, nil
}

// PositionPrefix returns the smallest key of any variant at chrom:pos.
// Ranges [PositionPrefix(c, a), PositionPrefix(c, b)) cover positions a..b-1.
func PositionPrefix(chrom string, pos int) []byte {
	buf := appendChromosome(nil, chrom)
	if pos < 0 {
		pos = 0
	}
	if pos > MaxPosition {
		pos = MaxPosition
	}
	return binary.BigEndian.AppendUint32(buf, uint32(pos))
}

// ChromosomeEnd returns the first key past every key of chrom.
func ChromosomeEnd(chrom string) []byte {
	prefix := appendChromosome(nil, chrom)
	if prefix[0] != rankOther {
		return []byte{prefix[0] + 1}
	}
	// Names end with the 0x00 terminator; bumping it to 0x01 skips the contig.
	prefix[len(prefix)-1] = 0x01
	return prefix
}

func appendChromosome(buf []byte, chrom string) []byte {
	canonical := NormalizeChromosome(chrom)
	if canonical == "" || strings.IndexByte(canonical, separator) >= 0 {
		return nil
	}
	rank := chromosomeRank(canonical)
	buf = append(buf, rank)
	if rank == rankOther {
		buf = append(buf, canonical...)
		buf = append(buf, separator)
	}
	return buf
}

func readChromosome(key []byte) (string, []byte, error) {
	if len(key) == 0 {
		return "", nil, genoerrors.NewKeyDecodeError("keys: empty key", key)
	}
	rank := key[0]
	if rank != rankOther {
		name, ok := rankName(rank)
		if !ok {
			return "", nil, genoerrors.NewKeyDecodeError(fmt.Sprintf("keys: unknown chromosome rank %d", rank), key)
		}
		return name, key[1:], nil
	}
	end := bytes.IndexByte(key[1:], separator)
	if end <= 0 {
		return "", nil, genoerrors.NewKeyDecodeError("keys: unterminated contig name", key)
	}
	return string(key[1 : 1+end]), key[2+end:], nil
}
