package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// BatchDownloader fetches many objects in parallel into a local cache
// directory. Objects already present in the cache are not downloaded again.
type BatchDownloader struct {
	storage     ObjectStorage
	concurrency int
	cacheDir    string
	logger      logrus.FieldLogger
}

// BatchResult maps object paths to their local copies.
type BatchResult struct {
	LocalPaths map[string]string
	CacheHits  int
	Downloads  int
}

// NewBatchDownloader creates a downloader writing into cacheDir.
func NewBatchDownloader(storage ObjectStorage, concurrency int, cacheDir string, logger logrus.FieldLogger) *BatchDownloader {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &BatchDownloader{
		storage:     storage,
		concurrency: concurrency,
		cacheDir:    cacheDir,
		logger:      logger,
	}
}

// Download fetches objectPaths. Successful downloads are always reported in
// the result; failures are aggregated into the returned error.
func (b *BatchDownloader) Download(ctx context.Context, objectPaths []string) (*BatchResult, error) {
	result := &BatchResult{LocalPaths: make(map[string]string, len(objectPaths))}
	if err := os.MkdirAll(b.cacheDir, 0o755); err != nil {
		return result, downloadError(b.cacheDir, err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs *multierror.Error
		sem  = semaphore.NewWeighted(int64(b.concurrency))
	)
	for _, p := range objectPaths {
		local := b.LocalPath(p)
		if _, err := os.Stat(local); err == nil {
			result.LocalPaths[p] = local
			result.CacheHits++
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			errs = multierror.Append(errs, err)
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func(objectPath, local string) {
			defer wg.Done()
			defer sem.Release(1)

			err := b.storage.Download(ctx, objectPath, local)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierror.Append(errs, err)
				return
			}
			result.LocalPaths[objectPath] = local
			result.Downloads++
		}(p, local)
	}
	wg.Wait()

	b.logger.WithFields(logrus.Fields{
		"requested":  len(objectPaths),
		"downloads":  result.Downloads,
		"cache_hits": result.CacheHits,
	}).Debug("storage: batch download finished")
	return result, errs.ErrorOrNil()
}

// LocalPath returns the cache path of an object. Directory separators are
// flattened so distinct objects never collide.
func (b *BatchDownloader) LocalPath(objectPath string) string {
	flat := strings.ReplaceAll(strings.Trim(objectPath, "/"), "/", "__")
	return filepath.Join(b.cacheDir, flat)
}
