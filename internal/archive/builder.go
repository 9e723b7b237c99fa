package archive

import (
	"fmt"
	"sort"

	genoerrors "github.com/genostore/genostore/internal/errors"
	"github.com/genostore/genostore/internal/genotype"
	"github.com/genostore/genostore/internal/keys"
)

// BuildSlices groups the calls of one file into per-bucket slices, the
// inverse of Decode. A call spanning several buckets is written into each
// of them with offsets relative to that bucket. Samples are laid out in the
// order of meta.SampleIDs; a sample missing from a call is written as a
// no-call. Slices are returned in genomic order.
func BuildSlices(calls []Call, meta FileMeta, size keys.BucketSize) ([]*Slice, error) {
	if err := size.Validate(); err != nil {
		return nil, err
	}
	column := make(map[int]int, len(meta.SampleIDs))
	for i, id := range meta.SampleIDs {
		column[id] = i
	}

	builders := make(map[keys.Bucket]*sliceBuilder)
	for i := range calls {
		c := &calls[i]
		if c.Start < 0 || c.End < c.Start {
			return nil, genoerrors.NewValidationError(genoerrors.CodeInvalidArgument,
				fmt.Sprintf("archive: invalid call range %s", c.String()))
		}
		chrom := keys.NormalizeChromosome(c.Chrom)
		for idx := size.BucketOf(c.Start); idx <= size.BucketOf(c.End); idx++ {
			b := keys.Bucket{Chrom: chrom, Index: idx}
			sb, ok := builders[b]
			if !ok {
				sb = newSliceBuilder(chrom, size.BucketStart(idx))
				builders[b] = sb
			}
			if err := sb.add(c, column); err != nil {
				return nil, err
			}
		}
	}

	out := make([]*Slice, 0, len(builders))
	for _, sb := range builders {
		out = append(out, sb.slice)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := keys.CompareChromosomes(out[i].Chrom, out[j].Chrom); c != 0 {
			return c < 0
		}
		return out[i].Start < out[j].Start
	})
	return out, nil
}

type sliceBuilder struct {
	slice   *Slice
	filters map[string]int
	formats map[string]int
}

func newSliceBuilder(chrom string, start int) *sliceBuilder {
	return &sliceBuilder{
		slice:   &Slice{Chrom: chrom, Start: start},
		filters: make(map[string]int),
		formats: make(map[string]int),
	}
}

func (b *sliceBuilder) add(c *Call, column map[int]int) error {
	filter := genotype.NormalizeFilter(c.Filter)
	values := make([][]string, len(column))
	perSampleFilter := false
	for _, s := range c.Samples {
		if s.Filter != "" && genotype.NormalizeFilter(s.Filter) != filter {
			perSampleFilter = true
			break
		}
	}
	for _, s := range c.Samples {
		i, ok := column[s.SampleID]
		if !ok {
			return genoerrors.NewMergeError(genoerrors.CodeMissingSample,
				fmt.Sprintf("archive: sample %d is not part of file", s.SampleID))
		}
		v := []string{genotype.Normalize(s.Genotype)}
		if perSampleFilter {
			f := s.Filter
			if f == "" {
				f = filter
			}
			v = append(v, genotype.NormalizeFilter(f))
		}
		values[i] = v
	}
	for i := range values {
		if values[i] == nil {
			values[i] = []string{genotype.NoCall}
		}
	}

	format := FormatGenotype
	if perSampleFilter {
		format = FormatGenotype + ":" + FormatFilter
	}
	b.slice.Records = append(b.slice.Records, Record{
		RelStart:    c.Start - b.slice.Start,
		RelEnd:      c.End - b.slice.Start,
		Ref:         c.Ref,
		Alt:         c.Alt,
		Type:        c.Type,
		FilterIndex: intern(&b.slice.Filters, b.filters, filter),
		FormatIndex: intern(&b.slice.Formats, b.formats, format),
		Samples:     values,
	})
	return nil
}

func intern(dict *[]string, index map[string]int, v string) int {
	if i, ok := index[v]; ok {
		return i
	}
	i := len(*dict)
	*dict = append(*dict, v)
	index[v] = i
	return i
}
