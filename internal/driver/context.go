package driver

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/genostore/genostore/internal/archive"
	genoerrors "github.com/genostore/genostore/internal/errors"
	"github.com/genostore/genostore/internal/keys"
	"github.com/genostore/genostore/internal/ledger"
	"github.com/genostore/genostore/internal/store"
	"github.com/genostore/genostore/internal/studyrow"
)

// TaskContext is the read-only state every task of a job shares, built once
// from the study metadata during job setup. Tasks never mutate it; each
// attempt gets its own Counters.
type TaskContext struct {
	StudyID int
	// Files are the files of the batch, ascending.
	Files   []int
	fileSet studyrow.IntSet
	// FileSamples maps every file of the study to its sample IDs.
	FileSamples map[int][]int
	// IndexedFiles are the files already indexed before this batch.
	IndexedFiles []int
	// IndexedSampleCount is the number of samples a row may account for
	// once the batch is applied.
	IndexedSampleCount int

	Archive *archive.Table
	Index   *store.Table
	// Reset removes the samples of batch files from rows that already list
	// them before merging again.
	Reset   bool
	Lenient bool
	Logger  logrus.FieldLogger
}

// NewTaskContext builds the task context of a batch over files. For a load
// the batch files count as indexed; for a delete they are indexed already.
func NewTaskContext(meta *ledger.StudyMetadata, files []int, load bool, archiveTable *archive.Table,
	index *store.Table, logger logrus.FieldLogger) (*TaskContext, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	tc := &TaskContext{
		StudyID:     meta.StudyID,
		Files:       append([]int(nil), files...),
		fileSet:     studyrow.NewIntSet(files...),
		FileSamples: make(map[int][]int, len(meta.FileSamples)),
		Archive:     archiveTable,
		Index:       index,
		Logger:      logger.WithField("study", meta.StudyID),
	}
	for id, samples := range meta.FileSamples {
		tc.FileSamples[id] = append([]int(nil), samples...)
	}
	for _, id := range files {
		if _, err := meta.SamplesOf(id); err != nil {
			return nil, err
		}
	}

	samples := studyrow.NewIntSet(meta.IndexedSamples()...)
	for _, id := range meta.IndexedFileIDs() {
		if !tc.fileSet.Has(id) {
			tc.IndexedFiles = append(tc.IndexedFiles, id)
		}
	}
	if load {
		for _, id := range files {
			for _, s := range tc.FileSamples[id] {
				samples[s] = struct{}{}
			}
		}
	}
	tc.IndexedSampleCount = len(samples)
	return tc, nil
}

// IsBatchFile reports whether fileID belongs to the batch.
func (tc *TaskContext) IsBatchFile(fileID int) bool {
	return tc.fileSet.Has(fileID)
}

// BucketSize returns the bucket width of the archive table.
func (tc *TaskContext) BucketSize() keys.BucketSize {
	return tc.Archive.BucketSize()
}

// bucketRange returns the index key range of bucket b.
func (tc *TaskContext) bucketRange(b keys.Bucket) (start, end []byte) {
	size := tc.BucketSize()
	return keys.PositionPrefix(b.Chrom, size.BucketStart(b.Index)),
		keys.PositionPrefix(b.Chrom, size.BucketEnd(b.Index))
}

func (tc *TaskContext) samplesOf(fileID int) ([]int, error) {
	samples, ok := tc.FileSamples[fileID]
	if !ok {
		return nil, genoerrors.New(genoerrors.ErrCategoryArchive, genoerrors.CodeMissingFile,
			fmt.Sprintf("driver: file %d is not registered in study %d", fileID, tc.StudyID))
	}
	return samples, nil
}
