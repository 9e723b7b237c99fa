// Package studyrow implements the per-study, per-variant aggregate: which
// samples carry which genotype at one variant, plus pass, call, filter and
// file bookkeeping. Rows are merged file by file and un-merged sample by
// sample; a sample may be accounted for at most once.
package studyrow

import (
	"fmt"
	"sort"

	genoerrors "github.com/genostore/genostore/internal/errors"
	"github.com/genostore/genostore/internal/genotype"
	"github.com/genostore/genostore/internal/keys"
)

// IntSet is a set of sample or file IDs.
type IntSet map[int]struct{}

// NewIntSet builds a set from ids.
func NewIntSet(ids ...int) IntSet {
	s := make(IntSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s IntSet) Has(id int) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in ascending order.
func (s IntSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func (s IntSet) clone() IntSet {
	cp := make(IntSet, len(s))
	for id := range s {
		cp[id] = struct{}{}
	}
	return cp
}

// Call is the genotype and filter of one sample, as merged into a row.
type Call struct {
	SampleID int
	Genotype string
	Filter   string
}

// Row is the study row of one variant. Homozygous reference samples are
// only counted; every other sample is listed in the group of its genotype.
// Samples whose filter is not PASS are listed under that filter, the others
// are counted in PassCount.
type Row struct {
	StudyID     int
	Chrom       string
	Pos         int
	Ref         string
	Alt         string
	HomRefCount int
	PassCount   int
	CallCount   int
	Groups      map[string]IntSet
	Filters     map[string]IntSet
	Files       IntSet
}

// New returns an empty row for variant v.
func New(studyID int, v keys.Variant) *Row {
	return &Row{
		StudyID: studyID,
		Chrom:   keys.NormalizeChromosome(v.Chrom),
		Pos:     v.Pos,
		Ref:     v.Ref,
		Alt:     v.Alt,
		Groups:  make(map[string]IntSet),
		Filters: make(map[string]IntSet),
		Files:   make(IntSet),
	}
}

// Variant returns the coordinates and alleles of the row.
func (r *Row) Variant() keys.Variant {
	return keys.Variant{Chrom: r.Chrom, Pos: r.Pos, Ref: r.Ref, Alt: r.Alt}
}

// Clone returns a deep copy.
func (r *Row) Clone() *Row {
	cp := *r
	cp.Groups = make(map[string]IntSet, len(r.Groups))
	for gt, s := range r.Groups {
		cp.Groups[gt] = s.clone()
	}
	cp.Filters = make(map[string]IntSet, len(r.Filters))
	for f, s := range r.Filters {
		cp.Filters[f] = s.clone()
	}
	cp.Files = r.Files.clone()
	return &cp
}

// SampleCount is the number of samples accounted for: the reference count
// plus every listed sample.
func (r *Row) SampleCount() int {
	n := r.HomRefCount
	for _, s := range r.Groups {
		n += len(s)
	}
	return n
}

// GenotypeOf returns the group holding sampleID, if any.
func (r *Row) GenotypeOf(sampleID int) (string, bool) {
	for gt, s := range r.Groups {
		if s.Has(sampleID) {
			return gt, true
		}
	}
	return "", false
}

func (r *Row) filterOf(sampleID int) (string, bool) {
	for f, s := range r.Filters {
		if s.Has(sampleID) {
			return f, true
		}
	}
	return "", false
}

// HasAltCarriers reports whether a sample is listed under a genotype naming
// a non-reference allele. Rows without carriers are removed from the index.
func (r *Row) HasAltCarriers() bool {
	for gt, s := range r.Groups {
		if len(s) > 0 && genotype.HasAlt(gt) {
			return true
		}
	}
	return false
}

// MergeIn adds the calls of fileID to the row. A file that was already
// merged, a sample that is already listed in a genotype group or a filter
// set, or a sample that appears twice in calls fails the whole merge with a
// DUPLICATE_SAMPLE error and leaves the row untouched.
func (r *Row) MergeIn(fileID int, calls []Call) error {
	if r.Files.Has(fileID) {
		return genoerrors.NewMergeError(genoerrors.CodeDuplicateSample,
			fmt.Sprintf("studyrow: file %d is already merged into %s", fileID, r.Variant()))
	}
	seen := make(IntSet, len(calls))
	for _, c := range calls {
		if seen.Has(c.SampleID) {
			return r.duplicate(c.SampleID, "appears twice in file "+fmt.Sprint(fileID))
		}
		seen[c.SampleID] = struct{}{}
		if gt, ok := r.GenotypeOf(c.SampleID); ok {
			return r.duplicate(c.SampleID, "already in group "+gt)
		}
		if f, ok := r.filterOf(c.SampleID); ok {
			return r.duplicate(c.SampleID, "already under filter "+f)
		}
	}

	for _, c := range calls {
		gt := genotype.Normalize(c.Genotype)
		if genotype.IsHomRef(gt) {
			r.HomRefCount++
		} else {
			add(r.Groups, gt, c.SampleID)
		}
		if gt != genotype.NoCall {
			r.CallCount++
		}
		if f := genotype.NormalizeFilter(c.Filter); f == genotype.FilterPass {
			r.PassCount++
		} else {
			add(r.Filters, f, c.SampleID)
		}
	}
	r.Files[fileID] = struct{}{}
	return nil
}

// RemoveSample undoes the contribution of one sample. A sample not listed
// in any group is taken to be homozygous reference; removing it from a row
// whose reference count is already zero is a ROW_INCONSISTENCY error.
func (r *Row) RemoveSample(sampleID int) error {
	gt, listed := r.GenotypeOf(sampleID)
	if !listed && r.HomRefCount == 0 {
		return genoerrors.NewMergeError(genoerrors.CodeRowInconsistency,
			fmt.Sprintf("studyrow: sample %d is not accounted for in %s", sampleID, r.Variant()))
	}
	f, filtered := r.filterOf(sampleID)
	if !filtered && r.PassCount == 0 {
		return genoerrors.NewMergeError(genoerrors.CodeRowInconsistency,
			fmt.Sprintf("studyrow: sample %d has no filter in %s", sampleID, r.Variant()))
	}

	if listed {
		remove(r.Groups, gt, sampleID)
	} else {
		r.HomRefCount--
	}
	if filtered {
		remove(r.Filters, f, sampleID)
	} else {
		r.PassCount--
	}
	if !listed || gt != genotype.NoCall {
		r.CallCount--
	}
	return nil
}

// RemoveFile removes every sample of fileID and forgets the file. Rows that
// do not list the file are left as they are, so removal is idempotent.
func (r *Row) RemoveFile(fileID int, sampleIDs []int) error {
	if !r.Files.Has(fileID) {
		return nil
	}
	for _, id := range sampleIDs {
		if err := r.RemoveSample(id); err != nil {
			return err
		}
	}
	delete(r.Files, fileID)
	return nil
}

// Validate checks the row against the number of indexed samples of the study.
func (r *Row) Validate(indexedSamples int) error {
	if r.HomRefCount < 0 || r.PassCount < 0 || r.CallCount < 0 {
		return genoerrors.NewMergeError(genoerrors.CodeRowInconsistency,
			fmt.Sprintf("studyrow: negative counter in %s", r.Variant()))
	}
	if n := r.SampleCount(); n > indexedSamples {
		return genoerrors.NewMergeError(genoerrors.CodeRowInconsistency,
			fmt.Sprintf("studyrow: %s accounts for %d samples but only %d are indexed", r.Variant(), n, indexedSamples))
	}
	return nil
}

func (r *Row) duplicate(sampleID int, reason string) error {
	return genoerrors.NewMergeError(genoerrors.CodeDuplicateSample,
		fmt.Sprintf("studyrow: sample %d %s at %s", sampleID, reason, r.Variant())).
		WithDetails(map[string]interface{}{"study": r.StudyID, "sample": sampleID})
}

func add(sets map[string]IntSet, key string, id int) {
	s, ok := sets[key]
	if !ok {
		s = make(IntSet)
		sets[key] = s
	}
	s[id] = struct{}{}
}

func remove(sets map[string]IntSet, key string, id int) {
	s := sets[key]
	delete(s, id)
	if len(s) == 0 {
		delete(sets, key)
	}
}
