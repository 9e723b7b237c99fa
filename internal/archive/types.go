// Package archive holds the raw slice format of the archive table: one
// immutable blob per (file, genomic bucket) with the calls that file made
// in that bucket, and the decoding of slices back into variant calls.
package archive

import (
	"strconv"

	"github.com/genostore/genostore/internal/keys"
)

// VariantType classifies a record by its alleles.
type VariantType int32

const (
	TypeUnknown VariantType = iota
	TypeSNV
	TypeMNV
	TypeIndel
	TypeSymbolic
	// TypeNoVariation marks reference blocks.
	TypeNoVariation
	// TypeNoCall marks regions whose calls could not be resolved.
	TypeNoCall
)

func (t VariantType) String() string {
	switch t {
	case TypeSNV:
		return "SNV"
	case TypeMNV:
		return "MNV"
	case TypeIndel:
		return "INDEL"
	case TypeSymbolic:
		return "SYMBOLIC"
	case TypeNoVariation:
		return "NO_VARIATION"
	case TypeNoCall:
		return "NO_CALL"
	}
	return "UNKNOWN"
}

// InferType derives the variant type from the alleles of a call.
func InferType(ref, alt string) VariantType {
	switch {
	case alt == "" || alt == "." || alt == "<*>" || alt == "<NON_REF>":
		return TypeNoVariation
	case len(alt) > 0 && (alt[0] == '<' || alt[0] == '[' || alt[0] == ']'):
		return TypeSymbolic
	case len(ref) == 1 && len(alt) == 1:
		return TypeSNV
	case len(ref) == len(alt):
		return TypeMNV
	}
	return TypeIndel
}

// Record is one call of a slice. Offsets are relative to the slice start
// and RelEnd is inclusive, so a record spans more than one base when
// RelEnd != RelStart. A record overlapping several buckets is repeated in
// each of them and may start before the slice start.
type Record struct {
	RelStart    int
	RelEnd      int
	Ref         string
	Alt         string
	Type        VariantType
	FilterIndex int
	FormatIndex int
	// Samples holds one value list per sample, laid out as the format at
	// FormatIndex describes, in the sample order of the file.
	Samples [][]string
}

// Slice is the raw content of one file for one bucket.
type Slice struct {
	Chrom string
	Start int
	// Formats are colon separated field layouts, e.g. "GT:FT".
	Formats []string
	// Filters is the dictionary referenced by Record.FilterIndex.
	Filters []string
	Records []Record
}

// Bucket returns the bucket the slice belongs to.
func (s *Slice) Bucket(size keys.BucketSize) keys.Bucket {
	return keys.Bucket{Chrom: s.Chrom, Index: size.BucketOf(s.Start)}
}

// SampleCall is the genotype of one sample in a call.
type SampleCall struct {
	SampleID int
	Genotype string
	Filter   string
}

// Call is a decoded record: a positioned variant and its per-sample calls.
// End is inclusive.
type Call struct {
	Chrom   string
	Start   int
	End     int
	Ref     string
	Alt     string
	Type    VariantType
	Filter  string
	Samples []SampleCall
}

// Variant returns the coordinates and alleles of the call.
func (c *Call) Variant() keys.Variant {
	return keys.Variant{Chrom: c.Chrom, Pos: c.Start, Ref: c.Ref, Alt: c.Alt}
}

// Covers reports whether pos falls inside the call.
func (c *Call) Covers(pos int) bool {
	return c.Start <= pos && pos <= c.End
}

func (c *Call) String() string {
	return c.Chrom + ":" + strconv.Itoa(c.Start) + "-" + strconv.Itoa(c.End) + ":" + c.Ref + ":" + c.Alt
}

// FileMeta is what the decoder needs to know about the file a slice came
// from: the study sample IDs in the column order of the file.
type FileMeta struct {
	FileID    int
	SampleIDs []int
}
