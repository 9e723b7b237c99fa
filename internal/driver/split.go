// Package driver runs load, delete and export jobs as sets of independent
// tasks, one per bucket-aligned coordinate range of the archive table.
package driver

import (
	"fmt"

	"github.com/genostore/genostore/internal/archive"
	"github.com/genostore/genostore/internal/keys"
)

// Split is a half-open coordinate range [Start, End) of one chromosome.
type Split struct {
	Chrom string
	Start int
	End   int
}

func (s Split) String() string {
	return fmt.Sprintf("%s:[%d,%d)", s.Chrom, s.Start, s.End)
}

// Buckets returns the bucket index range [first, last) covered by an
// aligned split.
func (s Split) Buckets(size keys.BucketSize) (first, last int) {
	return size.BucketOf(s.Start), size.BucketOf(s.End)
}

// AlignSplit moves both bounds of s down to a bucket boundary so no two
// tasks share a bucket. ok is false when the aligned split is empty; the
// neighbouring split covers that range.
func AlignSplit(s Split, size keys.BucketSize) (Split, bool) {
	aligned := Split{Chrom: s.Chrom, Start: size.AlignDown(s.Start), End: size.AlignDown(s.End)}
	return aligned, aligned.Start < aligned.End
}

// AlignSplits aligns every split and drops the empty ones.
func AlignSplits(splits []Split, size keys.BucketSize) []Split {
	out := make([]Split, 0, len(splits))
	for _, s := range splits {
		if a, ok := AlignSplit(s, size); ok {
			out = append(out, a)
		}
	}
	return out
}

// PlanSplits cuts the bucket span of every chromosome into perChromosome
// equal-width ranges and aligns them. Spans come from the archive table;
// the last split of a chromosome always ends past its last bucket.
func PlanSplits(spans []archive.Span, size keys.BucketSize, perChromosome int) []Split {
	if perChromosome < 1 {
		perChromosome = 1
	}
	var raw []Split
	for _, span := range spans {
		start := size.BucketStart(span.First)
		end := size.BucketEnd(span.Last)
		width := end - start
		n := perChromosome
		if buckets := span.Last - span.First + 1; n > buckets {
			n = buckets
		}
		for i := 0; i < n; i++ {
			raw = append(raw, Split{
				Chrom: span.Chrom,
				Start: start + i*width/n,
				End:   start + (i+1)*width/n,
			})
		}
	}
	return AlignSplits(raw, size)
}
