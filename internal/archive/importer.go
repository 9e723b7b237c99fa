package archive

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	genoerrors "github.com/genostore/genostore/internal/errors"
	"github.com/genostore/genostore/internal/storage"
)

// ImportResult describes one transformed file written to the archive.
type ImportResult struct {
	ObjectPath string
	Header     Header
	Slices     int
}

// Importer loads transformed files from object storage into the archive
// table.
type Importer struct {
	table      *Table
	downloader *storage.BatchDownloader
	logger     logrus.FieldLogger
}

// NewImporter creates an importer that stages downloads in workDir.
func NewImporter(table *Table, objects storage.ObjectStorage, workDir string, concurrency int, logger logrus.FieldLogger) *Importer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Importer{
		table:      table,
		downloader: storage.NewBatchDownloader(objects, concurrency, workDir, logger),
		logger:     logger,
	}
}

// Import downloads objectPaths and writes every slice they contain. Files
// that fail are reported in the aggregated error; the others are imported
// and returned.
func (im *Importer) Import(ctx context.Context, objectPaths []string) ([]ImportResult, error) {
	batch, err := im.downloader.Download(ctx, objectPaths)
	var errs *multierror.Error
	if err != nil {
		errs = multierror.Append(errs, err)
	}

	var results []ImportResult
	for _, p := range objectPaths {
		local, ok := batch.LocalPaths[p]
		if !ok {
			continue
		}
		res, err := im.ImportFile(ctx, local)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		res.ObjectPath = p
		results = append(results, res)
	}
	return results, errs.ErrorOrNil()
}

// ImportFile writes the slices of a local transformed file.
func (im *Importer) ImportFile(ctx context.Context, localPath string) (ImportResult, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return ImportResult{}, genoerrors.NewStorageError(genoerrors.CodeIOFailed, "archive: failed to open transformed file", err)
	}
	defer f.Close()

	tr, err := NewTransformedReader(f)
	if err != nil {
		return ImportResult{}, err
	}
	if tr.Header.BucketSize != im.table.BucketSize() {
		return ImportResult{}, genoerrors.NewValidationError(genoerrors.CodeInvalidArgument,
			fmt.Sprintf("archive: file %d was transformed with chunk size %d, table uses %d",
				tr.Header.FileID, tr.Header.BucketSize, im.table.BucketSize()))
	}

	res := ImportResult{Header: tr.Header}
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		s, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, err
		}
		if err := im.table.PutSlice(ctx, tr.Header.FileID, s); err != nil {
			return res, err
		}
		res.Slices++
	}
	im.logger.WithFields(logrus.Fields{
		"file_id": tr.Header.FileID,
		"file":    tr.Header.FileName,
		"samples": len(tr.Header.SampleNames),
		"slices":  res.Slices,
	}).Info("archive: imported transformed file")
	return res, nil
}
