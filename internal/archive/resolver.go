package archive

import (
	"sort"

	"github.com/genostore/genostore/internal/genotype"
)

// Resolve collapses overlapping calls of a single file. Calls are ordered
// by start; whenever a call starts at or before the end of the running
// call, the running call is kept, its end is extended to the larger of the
// two ends and every sample is forced to a no-call. The collapsed call is
// typed TypeNoCall and filtered as a site conflict. The input is not
// modified.
func Resolve(calls []Call) []Call {
	if len(calls) == 0 {
		return nil
	}
	sorted := make([]Call, len(calls))
	copy(sorted, calls)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	out := make([]Call, 0, len(sorted))
	cur := sorted[0]
	for _, next := range sorted[1:] {
		if next.Chrom == cur.Chrom && next.Start <= cur.End {
			cur = collapse(cur, next)
			continue
		}
		out = append(out, cur)
		cur = next
	}
	return append(out, cur)
}

func collapse(kept, next Call) Call {
	if next.End > kept.End {
		kept.End = next.End
	}
	if kept.Type == TypeNoCall {
		return kept
	}
	kept.Type = TypeNoCall
	kept.Filter = genotype.FilterSiteConflict
	samples := make([]SampleCall, len(kept.Samples))
	for i, s := range kept.Samples {
		samples[i] = SampleCall{SampleID: s.SampleID, Genotype: genotype.NoCall, Filter: genotype.FilterSiteConflict}
	}
	kept.Samples = samples
	return kept
}

// Covering returns the first call of a resolved, start-ordered list that
// covers pos, or nil.
func Covering(calls []Call, pos int) *Call {
	// Resolved calls do not overlap, so the candidate is the last call
	// starting at or before pos.
	i := sort.Search(len(calls), func(i int) bool { return calls[i].Start > pos })
	if i == 0 {
		return nil
	}
	if c := &calls[i-1]; c.Covers(pos) {
		return c
	}
	return nil
}
