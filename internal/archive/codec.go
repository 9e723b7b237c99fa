package archive

import (
	"fmt"

	"github.com/golang/snappy"
	"google.golang.org/protobuf/encoding/protowire"

	genoerrors "github.com/genostore/genostore/internal/errors"
)

// Wire field numbers of the slice payload.
const (
	fieldSliceChrom   protowire.Number = 1
	fieldSliceStart   protowire.Number = 2
	fieldSliceFormats protowire.Number = 3
	fieldSliceFilters protowire.Number = 4
	fieldSliceRecords protowire.Number = 5

	fieldRecordRelStart    protowire.Number = 1
	fieldRecordRelEnd      protowire.Number = 2
	fieldRecordRef         protowire.Number = 3
	fieldRecordAlt         protowire.Number = 4
	fieldRecordType        protowire.Number = 5
	fieldRecordFilterIndex protowire.Number = 6
	fieldRecordFormatIndex protowire.Number = 7
	fieldRecordSamples     protowire.Number = 8

	fieldSampleValues protowire.Number = 1
)

// MarshalSlice encodes a slice as a snappy-compressed protobuf payload.
func MarshalSlice(s *Slice) ([]byte, error) {
	if s.Start < 0 {
		return nil, genoerrors.NewValidationError(genoerrors.CodeInvalidArgument,
			fmt.Sprintf("archive: negative slice start %d", s.Start))
	}
	return snappy.Encode(nil, appendSlice(nil, s)), nil
}

// UnmarshalSlice decodes a payload written by MarshalSlice. Any framing or
// wire error is reported as a CORRUPT_SLICE error.
func UnmarshalSlice(data []byte) (*Slice, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, genoerrors.NewCorruptSliceError("archive: failed to decompress slice", err)
	}
	s, err := parseSlice(raw)
	if err != nil {
		return nil, genoerrors.NewCorruptSliceError("archive: failed to parse slice", err)
	}
	return s, nil
}

func appendSlice(b []byte, s *Slice) []byte {
	b = appendString(b, fieldSliceChrom, s.Chrom)
	b = protowire.AppendTag(b, fieldSliceStart, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Start))
	for _, f := range s.Formats {
		b = protowire.AppendTag(b, fieldSliceFormats, protowire.BytesType)
		b = protowire.AppendString(b, f)
	}
	for _, f := range s.Filters {
		b = protowire.AppendTag(b, fieldSliceFilters, protowire.BytesType)
		b = protowire.AppendString(b, f)
	}
	for i := range s.Records {
		b = protowire.AppendTag(b, fieldSliceRecords, protowire.BytesType)
		b = protowire.AppendBytes(b, appendRecord(nil, &s.Records[i]))
	}
	return b
}

func appendRecord(b []byte, r *Record) []byte {
	b = appendSint(b, fieldRecordRelStart, r.RelStart)
	b = appendSint(b, fieldRecordRelEnd, r.RelEnd)
	b = appendString(b, fieldRecordRef, r.Ref)
	b = appendString(b, fieldRecordAlt, r.Alt)
	b = appendVarint(b, fieldRecordType, uint64(r.Type))
	b = appendVarint(b, fieldRecordFilterIndex, uint64(r.FilterIndex))
	b = appendVarint(b, fieldRecordFormatIndex, uint64(r.FormatIndex))
	for _, values := range r.Samples {
		var sb []byte
		for _, v := range values {
			sb = protowire.AppendTag(sb, fieldSampleValues, protowire.BytesType)
			sb = protowire.AppendString(sb, v)
		}
		b = protowire.AppendTag(b, fieldRecordSamples, protowire.BytesType)
		b = protowire.AppendBytes(b, sb)
	}
	return b
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendSint(b []byte, num protowire.Number, v int) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(int64(v)))
}

// fieldVisitor handles one decoded field. It returns the number of bytes
// consumed from b, or a negative protowire error code.
type fieldVisitor func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func walkFields(b []byte, visit fieldVisitor) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := visit(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

func parseSlice(raw []byte) (*Slice, error) {
	s := &Slice{}
	err := walkFields(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldSliceChrom && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			s.Chrom = v
			return n, nil
		case num == fieldSliceStart && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			s.Start = int(v)
			return n, nil
		case num == fieldSliceFormats && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			s.Formats = append(s.Formats, v)
			return n, nil
		case num == fieldSliceFilters && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			s.Filters = append(s.Filters, v)
			return n, nil
		case num == fieldSliceRecords && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			r, err := parseRecord(v)
			if err != nil {
				return 0, fmt.Errorf("record %d: %w", len(s.Records), err)
			}
			s.Records = append(s.Records, *r)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func parseRecord(raw []byte) (*Record, error) {
	r := &Record{}
	err := walkFields(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return n, nil
			}
			switch num {
			case fieldRecordRelStart:
				r.RelStart = int(protowire.DecodeZigZag(v))
			case fieldRecordRelEnd:
				r.RelEnd = int(protowire.DecodeZigZag(v))
			case fieldRecordType:
				r.Type = VariantType(v)
			case fieldRecordFilterIndex:
				r.FilterIndex = int(v)
			case fieldRecordFormatIndex:
				r.FormatIndex = int(v)
			}
			return n, nil
		}
		switch {
		case num == fieldRecordRef && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			r.Ref = v
			return n, nil
		case num == fieldRecordAlt && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			r.Alt = v
			return n, nil
		case num == fieldRecordSamples && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			values, err := parseSampleValues(v)
			if err != nil {
				return 0, fmt.Errorf("sample %d: %w", len(r.Samples), err)
			}
			r.Samples = append(r.Samples, values)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func parseSampleValues(raw []byte) ([]string, error) {
	values := []string{}
	err := walkFields(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == fieldSampleValues && typ == protowire.BytesType {
			v, n := protowire.ConsumeString(b)
			values = append(values, v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return values, err
}
