package archive

import (
	"fmt"
	"strings"

	genoerrors "github.com/genostore/genostore/internal/errors"
	"github.com/genostore/genostore/internal/genotype"
)

// Format field keys understood by the decoder.
const (
	FormatGenotype = "GT"
	FormatFilter   = "FT"
)

type layout struct {
	width int
	gt    int
	ft    int
}

func parseLayout(format string) layout {
	l := layout{gt: -1, ft: -1}
	if format == "" {
		return l
	}
	fields := strings.Split(format, ":")
	l.width = len(fields)
	for i, f := range fields {
		switch f {
		case FormatGenotype:
			l.gt = i
		case FormatFilter:
			l.ft = i
		}
	}
	return l
}

// Decode expands a slice into the calls of the file described by meta, in
// record order. Every structural inconsistency between the slice and the
// file metadata is reported as a CORRUPT_SLICE error.
func Decode(s *Slice, meta FileMeta) ([]Call, error) {
	layouts := make([]layout, len(s.Formats))
	for i, f := range s.Formats {
		layouts[i] = parseLayout(f)
	}

	calls := make([]Call, 0, len(s.Records))
	for i := range s.Records {
		r := &s.Records[i]
		call, err := decodeRecord(s, r, layouts, meta)
		if err != nil {
			return nil, genoerrors.NewCorruptSliceError(
				fmt.Sprintf("archive: file %d slice %s:%d record %d", meta.FileID, s.Chrom, s.Start, i), err)
		}
		calls = append(calls, call)
	}
	return calls, nil
}

func decodeRecord(s *Slice, r *Record, layouts []layout, meta FileMeta) (Call, error) {
	if r.RelEnd < r.RelStart {
		return Call{}, fmt.Errorf("end %d before start %d", r.RelEnd, r.RelStart)
	}
	if len(r.Samples) != len(meta.SampleIDs) {
		return Call{}, fmt.Errorf("%d sample columns for %d samples", len(r.Samples), len(meta.SampleIDs))
	}

	filter := genotype.FilterMissing
	if len(s.Filters) > 0 || r.FilterIndex != 0 {
		if r.FilterIndex < 0 || r.FilterIndex >= len(s.Filters) {
			return Call{}, fmt.Errorf("filter index %d out of range", r.FilterIndex)
		}
		filter = genotype.NormalizeFilter(s.Filters[r.FilterIndex])
	}

	l := layout{gt: -1, ft: -1}
	if len(s.Formats) > 0 || r.FormatIndex != 0 {
		if r.FormatIndex < 0 || r.FormatIndex >= len(layouts) {
			return Call{}, fmt.Errorf("format index %d out of range", r.FormatIndex)
		}
		l = layouts[r.FormatIndex]
	}

	typ := r.Type
	if typ == TypeUnknown {
		typ = InferType(r.Ref, r.Alt)
	}

	call := Call{
		Chrom:   s.Chrom,
		Start:   s.Start + r.RelStart,
		End:     s.Start + r.RelEnd,
		Ref:     r.Ref,
		Alt:     r.Alt,
		Type:    typ,
		Filter:  filter,
		Samples: make([]SampleCall, len(r.Samples)),
	}
	for i, values := range r.Samples {
		if len(values) > l.width {
			return Call{}, fmt.Errorf("sample %d has %d values for a %d field layout", i, len(values), l.width)
		}
		sc := SampleCall{SampleID: meta.SampleIDs[i], Genotype: genotype.NoCall, Filter: filter}
		if l.gt >= 0 && l.gt < len(values) {
			sc.Genotype = genotype.Normalize(values[l.gt])
		}
		if l.ft >= 0 && l.ft < len(values) && values[l.ft] != "" {
			sc.Filter = genotype.NormalizeFilter(values[l.ft])
		}
		call.Samples[i] = sc
	}
	return call, nil
}
