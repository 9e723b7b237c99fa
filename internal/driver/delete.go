package driver

import (
	"context"
	"errors"

	"github.com/genostore/genostore/internal/archive"
	genoerrors "github.com/genostore/genostore/internal/errors"
	"github.com/genostore/genostore/internal/keys"
	"github.com/genostore/genostore/internal/projection"
	"github.com/genostore/genostore/internal/store"
)

// DeleteBucket removes the samples of the batch files from the study rows
// of one bucket, then drops the raw slices of those files. Only rows that
// list a batch file are touched, so a re-run after a partial delete is
// safe. A row left without alternate allele carriers loses every column of
// the study. In lenient mode a row that does not account for a removed
// sample is logged and left as it is.
func DeleteBucket(ctx context.Context, tc *TaskContext, br *archive.BucketRow, counters *Counters) error {
	var targets [][]byte
	start, end := tc.bucketRange(br.Bucket)
	filesColumn := projection.FilesColumn(tc.StudyID)
	err := tc.Index.Scan(ctx, start, end, func(key []byte, cells store.Row) error {
		files, ok := cells[filesColumn]
		if !ok {
			return nil
		}
		for _, id := range tc.Files {
			if projection.ContainsID(files, id) {
				targets = append(targets, append([]byte(nil), key...))
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, key := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := deleteRow(ctx, tc, key, counters); err != nil {
			return err
		}
	}

	if err := tc.Archive.RemoveFiles(ctx, br.Bucket, tc.Files); err != nil {
		return err
	}
	remaining, err := tc.Archive.ReadBucket(ctx, br.Bucket)
	if err != nil {
		return err
	}
	if len(remaining.Slices) == 0 {
		return nil
	}
	return writeSnapshot(ctx, tc, br.Bucket)
}

func deleteRow(ctx context.Context, tc *TaskContext, key []byte, counters *Counters) error {
	v, err := keys.DecodeVariantKey(key)
	if err != nil {
		return err
	}
	var counter string
	err = tc.Index.Mutate(ctx, key, func(cells store.Row) (*store.Mutation, error) {
		counter = ""
		r, ok, err := projection.FromColumns(tc.StudyID, v, cells)
		if err != nil || !ok {
			return nil, err
		}
		changed := false
		for _, id := range tc.Files {
			if !r.Files.Has(id) {
				continue
			}
			if err := r.RemoveFile(id, tc.FileSamples[id]); err != nil {
				if !tc.Lenient || !errors.Is(err, genoerrors.ErrRowInconsistency) {
					return nil, err
				}
				tc.Logger.WithError(err).WithField("variant", v.String()).Warn("driver: leaving inconsistent row untouched")
				return nil, nil
			}
			changed = true
		}
		if !changed {
			return nil, nil
		}
		if !r.HasAltCarriers() {
			counter = CounterRowsDeleted
			return projection.DeleteAll(tc.StudyID, cells), nil
		}
		cols, err := projection.Project(r)
		if err != nil {
			return nil, err
		}
		counter = CounterRowsUpdated
		return projection.Diff(tc.StudyID, cells, cols), nil
	})
	if err != nil {
		return err
	}
	if counter != "" {
		counters.Add(counter, 1)
	}
	return nil
}
