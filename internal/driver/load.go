package driver

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/genostore/genostore/internal/archive"
	genoerrors "github.com/genostore/genostore/internal/errors"
	"github.com/genostore/genostore/internal/genotype"
	"github.com/genostore/genostore/internal/keys"
	"github.com/genostore/genostore/internal/projection"
	"github.com/genostore/genostore/internal/store"
	"github.com/genostore/genostore/internal/studyrow"
)

// LoadBucket merges the batch files of tc into the study rows of one
// archive bucket. The targets are the study rows already in the bucket
// plus every SNV a batch file calls in it. Existing rows receive only the
// batch files; new rows receive every indexed file as well, so each row
// accounts for every indexed sample.
func LoadBucket(ctx context.Context, tc *TaskContext, br *archive.BucketRow, counters *Counters) error {
	size := tc.BucketSize()
	bucketStart, bucketEnd := size.BucketStart(br.Bucket.Index), size.BucketEnd(br.Bucket.Index)

	fileCalls, err := decodeBucket(tc, br, counters)
	if err != nil {
		return err
	}

	targets := make(map[string]keys.Variant)
	start, end := tc.bucketRange(br.Bucket)
	err = tc.Index.Scan(ctx, start, end, func(key []byte, cells store.Row) error {
		if len(projection.StudyColumns(tc.StudyID, cells)) == 0 {
			return nil
		}
		v, err := keys.DecodeVariantKey(key)
		if err != nil {
			return err
		}
		targets[string(key)] = v
		return nil
	})
	if err != nil {
		return err
	}
	for _, id := range tc.Files {
		for i := range fileCalls[id] {
			c := &fileCalls[id][i]
			if c.Type != archive.TypeSNV || c.Start < bucketStart || c.Start >= bucketEnd {
				continue
			}
			v := c.Variant()
			v.Chrom = keys.NormalizeChromosome(v.Chrom)
			key, err := v.Key()
			if err != nil {
				return err
			}
			if _, ok := targets[string(key)]; !ok {
				targets[string(key)] = v
			}
		}
	}

	ordered := make([]string, 0, len(targets))
	for k := range targets {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	for _, k := range ordered {
		if err := ctx.Err(); err != nil {
			return err
		}
		v := targets[k]
		if err := loadRow(ctx, tc, []byte(k), v, fileCalls, counters); err != nil {
			return err
		}
		if !covered(fileCalls, v.Pos) {
			counters.Add(CounterUncoveredRows, 1)
			tc.Logger.WithFields(logrus.Fields{
				"variant": v.String(),
				"bucket":  br.Bucket.ID(),
			}).Error("driver: row is not covered by any archived call")
		}
	}
	return writeSnapshot(ctx, tc, br.Bucket)
}

// decodeBucket decodes and resolves the slices of every indexed or batch
// file of the bucket.
func decodeBucket(tc *TaskContext, br *archive.BucketRow, counters *Counters) (map[int][]archive.Call, error) {
	indexed := studyrow.NewIntSet(tc.IndexedFiles...)
	out := make(map[int][]archive.Call)
	for _, id := range br.FileIDs() {
		batch := tc.IsBatchFile(id)
		if !batch && !indexed.Has(id) {
			continue
		}
		samples, err := tc.samplesOf(id)
		if err != nil {
			return nil, err
		}
		s, _, err := br.Slice(id)
		if err != nil {
			return nil, fmt.Errorf("file %d bucket %s: %w", id, br.Bucket.ID(), err)
		}
		calls, err := archive.Decode(s, archive.FileMeta{FileID: id, SampleIDs: samples})
		if err != nil {
			return nil, fmt.Errorf("file %d bucket %s: %w", id, br.Bucket.ID(), err)
		}
		if batch {
			counters.Add(CounterArchiveVariants, int64(len(calls)))
		}
		out[id] = archive.Resolve(calls)
	}
	return out, nil
}

func loadRow(ctx context.Context, tc *TaskContext, key []byte, v keys.Variant, fileCalls map[int][]archive.Call, counters *Counters) error {
	var counter string
	written := false
	err := tc.Index.Mutate(ctx, key, func(cells store.Row) (*store.Mutation, error) {
		r, found, err := projection.FromColumns(tc.StudyID, v, cells)
		if err != nil {
			return nil, err
		}

		var files []int
		if found {
			files = tc.Files
			counter = CounterMissingVariants
			for _, id := range tc.Files {
				if sameVariant(archive.Covering(fileCalls[id], v.Pos), v) {
					counter = CounterSameVariants
					break
				}
			}
			for _, id := range tc.Files {
				if !r.Files.Has(id) {
					continue
				}
				if !tc.Reset {
					return nil, genoerrors.NewMergeError(genoerrors.CodeDuplicateSample,
						fmt.Sprintf("driver: file %d is already merged into %s", id, v))
				}
				if err := r.RemoveFile(id, tc.FileSamples[id]); err != nil {
					return nil, err
				}
			}
		} else {
			r = studyrow.New(tc.StudyID, v)
			files = append(append([]int(nil), tc.IndexedFiles...), tc.Files...)
			sort.Ints(files)
			counter = CounterNewVariants
		}

		for _, id := range files {
			samples, err := tc.samplesOf(id)
			if err != nil {
				return nil, err
			}
			if err := r.MergeIn(id, genotypesAt(fileCalls[id], samples, v)); err != nil {
				return nil, err
			}
		}
		if err := r.Validate(tc.IndexedSampleCount); err != nil {
			return nil, err
		}
		cols, err := projection.Project(r)
		if err != nil {
			return nil, err
		}
		m := projection.Diff(tc.StudyID, cells, cols)
		written = m != nil
		return m, nil
	})
	if err != nil {
		return err
	}
	counters.Add(counter, 1)
	if written {
		counters.Add(CounterAnalysisVariants, 1)
	}
	return nil
}

// genotypesAt returns what a file says about each of its samples at the
// position of v: the sample genotype when the file calls v itself, 0/0
// inside a reference block, a no-call inside a no-call region or where the
// file has nothing, and the other-allele marker under a different variant.
func genotypesAt(calls []archive.Call, samples []int, v keys.Variant) []studyrow.Call {
	c := archive.Covering(calls, v.Pos)
	out := make([]studyrow.Call, len(samples))
	var byID map[int]archive.SampleCall
	if c != nil {
		byID = make(map[int]archive.SampleCall, len(c.Samples))
		for _, sc := range c.Samples {
			byID[sc.SampleID] = sc
		}
	}
	for i, id := range samples {
		call := studyrow.Call{SampleID: id, Genotype: genotype.NoCall, Filter: genotype.FilterMissing}
		if sc, ok := byID[id]; ok {
			call.Filter = sc.Filter
			switch {
			case genotype.IsNoCall(sc.Genotype):
			case c.Type == archive.TypeNoVariation:
				call.Genotype = genotype.HomRef
			case c.Type == archive.TypeNoCall:
			case sameVariant(c, v):
				call.Genotype = sc.Genotype
			default:
				call.Genotype = genotype.Other
			}
		}
		out[i] = call
	}
	return out
}

func sameVariant(c *archive.Call, v keys.Variant) bool {
	return c != nil && c.Start == v.Pos && c.Ref == v.Ref && c.Alt == v.Alt
}

func covered(fileCalls map[int][]archive.Call, pos int) bool {
	for _, calls := range fileCalls {
		if archive.Covering(calls, pos) != nil {
			return true
		}
	}
	return false
}

// writeSnapshot stores the current study rows of bucket b in the archive
// row.
func writeSnapshot(ctx context.Context, tc *TaskContext, b keys.Bucket) error {
	var rows []*studyrow.Row
	start, end := tc.bucketRange(b)
	err := tc.Index.Scan(ctx, start, end, func(key []byte, cells store.Row) error {
		v, err := keys.DecodeVariantKey(key)
		if err != nil {
			return err
		}
		r, ok, err := projection.FromColumns(tc.StudyID, v, cells)
		if err != nil || !ok {
			return err
		}
		rows = append(rows, r)
		return nil
	})
	if err != nil {
		return err
	}
	data, err := studyrow.EncodeSnapshot(tc.StudyID, b, rows)
	if err != nil {
		return err
	}
	return tc.Archive.PutSnapshot(ctx, b, data)
}
