package projection

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	genoerrors "github.com/genostore/genostore/internal/errors"
	"github.com/genostore/genostore/internal/genotype"
	"github.com/genostore/genostore/internal/keys"
	"github.com/genostore/genostore/internal/store"
	"github.com/genostore/genostore/internal/studyrow"
)

// Project returns the study columns of r. Counters are always present;
// array columns are written only for non-empty sets.
func Project(r *studyrow.Row) (map[string][]byte, error) {
	cols := map[string][]byte{
		HomRefColumn(r.StudyID): EncodeCounter(r.HomRefCount),
		PassColumn(r.StudyID):   EncodeCounter(r.PassCount),
		CallsColumn(r.StudyID):  EncodeCounter(r.CallCount),
	}
	for gt, samples := range r.Groups {
		if len(samples) == 0 {
			continue
		}
		if reservedGenotype(gt) {
			return nil, genoerrors.NewValidationError(genoerrors.CodeInvalidArgument,
				fmt.Sprintf("projection: genotype %q collides with a reserved column", gt))
		}
		ids, err := EncodeIDs(samples.Sorted())
		if err != nil {
			return nil, err
		}
		cols[GenotypeColumn(r.StudyID, gt)] = ids
	}
	for f, samples := range r.Filters {
		if len(samples) == 0 {
			continue
		}
		ids, err := EncodeIDs(samples.Sorted())
		if err != nil {
			return nil, err
		}
		cols[FilterColumn(r.StudyID, f)] = ids
	}
	if len(r.Files) > 0 {
		ids, err := EncodeIDs(r.Files.Sorted())
		if err != nil {
			return nil, err
		}
		cols[FilesColumn(r.StudyID)] = ids
	}
	return cols, nil
}

// FromColumns rebuilds the study row of studyID stored in cells. ok is
// false when the row holds no column of the study.
func FromColumns(studyID int, v keys.Variant, cells store.Row) (*studyrow.Row, bool, error) {
	r := studyrow.New(studyID, v)
	found := false
	for q, value := range cells {
		kind, name, ok := ParseColumn(studyID, q)
		if !ok {
			continue
		}
		found = true
		var err error
		switch kind {
		case KindHomRef:
			r.HomRefCount, err = DecodeCounter(value)
		case KindPass:
			r.PassCount, err = DecodeCounter(value)
		case KindCalls:
			r.CallCount, err = DecodeCounter(value)
		case KindFiles:
			var ids []int
			if ids, err = DecodeIDs(value); err == nil {
				r.Files = studyrow.NewIntSet(ids...)
			}
		case KindFilter:
			var ids []int
			if ids, err = DecodeIDs(value); err == nil {
				r.Filters[name] = studyrow.NewIntSet(ids...)
			}
		case KindGenotype:
			var ids []int
			if ids, err = DecodeIDs(value); err == nil {
				r.Groups[name] = studyrow.NewIntSet(ids...)
			}
		}
		if err != nil {
			return nil, true, fmt.Errorf("%s column %s: %w", v, q, err)
		}
	}
	return r, found, nil
}

// StudyColumns returns the qualifiers of studyID present in cells.
func StudyColumns(studyID int, cells store.Row) []string {
	var out []string
	for q := range cells {
		if _, _, ok := ParseColumn(studyID, q); ok {
			out = append(out, q)
		}
	}
	sort.Strings(out)
	return out
}

// Diff returns the mutation turning the study columns old into next: a put
// of the changed columns and a delete of the vanished ones. A nil mutation
// means nothing changed.
func Diff(studyID int, old store.Row, next map[string][]byte) *store.Mutation {
	m := &store.Mutation{Put: make(map[string][]byte)}
	for q, v := range next {
		if cur, ok := old[q]; !ok || !bytes.Equal(cur, v) {
			m.Put[q] = v
		}
	}
	for _, q := range StudyColumns(studyID, old) {
		if _, ok := next[q]; !ok {
			m.Delete = append(m.Delete, q)
		}
	}
	if m.Empty() {
		return nil
	}
	return m
}

// DeleteAll returns the mutation removing every column of studyID. When the
// study owns every column of the row, the whole row is deleted.
func DeleteAll(studyID int, cells store.Row) *store.Mutation {
	cols := StudyColumns(studyID, cells)
	if len(cols) == 0 {
		return nil
	}
	if len(cols) == len(cells) {
		return &store.Mutation{DeleteRow: true}
	}
	return &store.Mutation{Delete: cols}
}

// StudyView is the read-only study metadata needed to expand a row.
type StudyView struct {
	StudyID int
	// IndexedSamples are the samples of every indexed file.
	IndexedSamples []int
}

// SampleGenotype is the genotype of one sample in an expanded variant.
type SampleGenotype struct {
	SampleID int
	Genotype string
}

// Variant is a fully expanded index row.
type Variant struct {
	keys.Variant
	StudyID int
	// Samples lists every indexed sample in ascending ID order.
	Samples []SampleGenotype
}

// Genotype returns the genotype of sampleID.
func (v *Variant) Genotype(sampleID int) (string, bool) {
	i := sort.Search(len(v.Samples), func(i int) bool { return v.Samples[i].SampleID >= sampleID })
	if i < len(v.Samples) && v.Samples[i].SampleID == sampleID {
		return v.Samples[i].Genotype, true
	}
	return "", false
}

// Unprojector expands index rows into per-sample genotypes.
type Unprojector struct {
	view    StudyView
	indexed studyrow.IntSet
	lenient bool
	logger  logrus.FieldLogger
}

// NewUnprojector creates an Unprojector. In lenient mode consistency
// failures are logged as warnings instead of returned.
func NewUnprojector(view StudyView, lenient bool, logger logrus.FieldLogger) *Unprojector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Unprojector{
		view:    view,
		indexed: studyrow.NewIntSet(view.IndexedSamples...),
		lenient: lenient,
		logger:  logger.WithField("study", view.StudyID),
	}
}

// Unproject expands the study columns of one index row. Samples not listed
// in any group are filled in as homozygous reference; the number filled in
// must match the stored reference counter, otherwise a ROW_INCONSISTENCY
// error is returned. ok is false when the row holds no study column.
func (u *Unprojector) Unproject(v keys.Variant, cells store.Row) (*Variant, bool, error) {
	r, ok, err := FromColumns(u.view.StudyID, v, cells)
	if err != nil || !ok {
		return nil, ok, err
	}

	out := &Variant{Variant: r.Variant(), StudyID: u.view.StudyID}
	listed := make(studyrow.IntSet)
	var problems []string
	for gt, samples := range r.Groups {
		for id := range samples {
			if !u.indexed.Has(id) {
				problems = append(problems, fmt.Sprintf("sample %d in group %s is not indexed", id, gt))
				continue
			}
			listed[id] = struct{}{}
			out.Samples = append(out.Samples, SampleGenotype{SampleID: id, Genotype: gt})
		}
	}
	filled := 0
	for id := range u.indexed {
		if !listed.Has(id) {
			out.Samples = append(out.Samples, SampleGenotype{SampleID: id, Genotype: genotype.HomRef})
			filled++
		}
	}
	sort.Slice(out.Samples, func(i, j int) bool { return out.Samples[i].SampleID < out.Samples[j].SampleID })

	if filled != r.HomRefCount {
		problems = append(problems, fmt.Sprintf("reference count %d but %d samples filled as reference", r.HomRefCount, filled))
	}
	if len(problems) > 0 {
		err := genoerrors.NewMergeError(genoerrors.CodeRowInconsistency,
			fmt.Sprintf("projection: inconsistent row %s: %v", v, problems))
		if !u.lenient {
			return nil, true, err
		}
		u.logger.WithField("variant", v.String()).Warn(err.Error())
	}
	return out, true, nil
}

// FindBySampleGenotype calls fn for every variant of the index table where
// sampleID has genotype gt in studyID, reading only projected columns. For
// a homozygous reference gt, a sample matches when the study holds the row
// and the sample is listed in no group.
func FindBySampleGenotype(ctx context.Context, table *store.Table, studyID, sampleID int, gt string,
	fn func(keys.Variant) error) error {
	gt = genotype.Normalize(gt)
	homRef := genotype.IsHomRef(gt)
	column := GenotypeColumn(studyID, gt)

	return table.Scan(ctx, nil, nil, func(key []byte, cells store.Row) error {
		match := false
		if homRef {
			if _, ok := cells[HomRefColumn(studyID)]; ok {
				match = true
				for q, value := range cells {
					kind, _, ok := ParseColumn(studyID, q)
					if ok && kind == KindGenotype && ContainsID(value, sampleID) {
						match = false
						break
					}
				}
			}
		} else if value, ok := cells[column]; ok {
			match = ContainsID(value, sampleID)
		}
		if !match {
			return nil
		}
		v, err := keys.DecodeVariantKey(key)
		if err != nil {
			return err
		}
		return fn(v)
	})
}
