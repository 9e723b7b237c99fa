package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/genostore/genostore/internal/archive"
	genoerrors "github.com/genostore/genostore/internal/errors"
	"github.com/genostore/genostore/internal/ledger"
	"github.com/genostore/genostore/internal/store"
)

// Options control how a job runs.
type Options struct {
	// Workers is the number of tasks run at once.
	Workers int
	// TaskRetries is how often a task failing with a retryable error is
	// run again from scratch.
	TaskRetries int
	// JobTimeout bounds the whole job.
	JobTimeout time.Duration
	// PollInterval is the interval between progress reports.
	PollInterval time.Duration
	// SplitsPerChromosome is the number of tasks per chromosome.
	SplitsPerChromosome int
	// Resume restarts a batch whose operation is still RUNNING.
	Resume bool
	// Lenient downgrades row inconsistencies found while reading to warnings.
	Lenient bool
}

// DefaultOptions returns the default job options.
func DefaultOptions() Options {
	return Options{
		Workers:             4,
		TaskRetries:         3,
		JobTimeout:          time.Hour,
		PollInterval:        10 * time.Second,
		SplitsPerChromosome: 4,
	}
}

// Tracker is told about every task so shutdown can wait for them.
type Tracker interface {
	TrackTask() bool
	UntrackTask()
}

// Report summarizes a finished job.
type Report struct {
	RunID     string
	StudyID   int
	Operation string
	Timestamp int64
	Files     []int
	Splits    int
	Counters  map[string]int64
	Duration  time.Duration
}

// bucketFunc is the body of a task, run once per archive bucket.
type bucketFunc func(ctx context.Context, tc *TaskContext, br *archive.BucketRow, counters *Counters) error

type jobKind struct {
	name string
	typ  ledger.OperationType
	load bool
	body bucketFunc
}

var (
	loadJob   = jobKind{name: ledger.OperationLoad, typ: ledger.TypeLoad, load: true, body: LoadBucket}
	deleteJob = jobKind{name: ledger.OperationRemove, typ: ledger.TypeRemove, load: false, body: DeleteBucket}
)

// Runner runs load and delete jobs of one archive table and one index
// table.
type Runner struct {
	ledger  *ledger.Ledger
	archive *archive.Table
	index   *store.Table
	opts    Options
	metrics *Metrics
	tracker Tracker
	logger  logrus.FieldLogger
}

// NewRunner creates a runner. metrics and logger may be nil.
func NewRunner(l *ledger.Ledger, archiveTable *archive.Table, index *store.Table, opts Options,
	metrics *Metrics, logger logrus.FieldLogger) *Runner {
	defaults := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = defaults.Workers
	}
	if opts.TaskRetries < 0 {
		opts.TaskRetries = 0
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = defaults.JobTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.SplitsPerChromosome <= 0 {
		opts.SplitsPerChromosome = defaults.SplitsPerChromosome
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runner{
		ledger:  l,
		archive: archiveTable,
		index:   index,
		opts:    opts,
		metrics: metrics,
		logger:  logger,
	}
}

// SetTracker registers the tracker told about every task.
func (r *Runner) SetTracker(t Tracker) {
	r.tracker = t
}

// Load merges the samples of fileIDs into the index table.
func (r *Runner) Load(ctx context.Context, studyID int, fileIDs []int) (*Report, error) {
	return r.run(ctx, loadJob, studyID, fileIDs)
}

// Delete removes the samples of fileIDs from the index table and their
// slices from the archive table.
func (r *Runner) Delete(ctx context.Context, studyID int, fileIDs []int) (*Report, error) {
	return r.run(ctx, deleteJob, studyID, fileIDs)
}

func (r *Runner) run(ctx context.Context, kind jobKind, studyID int, fileIDs []int) (*Report, error) {
	started := time.Now()
	op, tc, err := r.setup(ctx, kind, studyID, fileIDs)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := r.logger.WithFields(logrus.Fields{
		"job":       runID,
		"study":     studyID,
		"operation": op.Name,
		"timestamp": op.Timestamp,
		"files":     op.FileIDs,
	})
	tc.Logger = logger
	report := &Report{RunID: runID, StudyID: studyID, Operation: op.Name, Timestamp: op.Timestamp, Files: op.FileIDs}

	jobCtx, cancel := context.WithTimeout(ctx, r.opts.JobTimeout)
	defer cancel()

	counters := NewCounters(kind.name, r.metrics)
	splits, err := r.execute(jobCtx, kind, tc, counters, logger)
	report.Splits = splits
	report.Counters = counters.Snapshot()
	report.Duration = time.Since(started)
	if err != nil {
		err = r.classify(ctx, jobCtx, err)
		r.fail(studyID, op, err, logger)
		r.metrics.Jobs.WithLabelValues(kind.name, string(ledger.StatusError)).Inc()
		return report, err
	}

	err = r.ledger.LockAndUpdate(ctx, studyID, func(tx *ledger.Tx, _ *ledger.StudyMetadata) error {
		if err := tx.SetIndexed(op.FileIDs, kind.load); err != nil {
			return err
		}
		_, err := tx.SetStatus(op.Timestamp, ledger.StatusReady, "")
		return err
	})
	if err != nil {
		r.fail(studyID, op, err, logger)
		r.metrics.Jobs.WithLabelValues(kind.name, string(ledger.StatusError)).Inc()
		return report, err
	}
	r.metrics.Jobs.WithLabelValues(kind.name, string(ledger.StatusReady)).Inc()
	logger.WithFields(logrus.Fields{
		"splits":   splits,
		"duration": report.Duration.String(),
		"counters": report.Counters,
	}).Info("driver: job finished")
	return report, nil
}

// setup registers the operation in the ledger and builds the task context
// from the metadata read under the study lock.
func (r *Runner) setup(ctx context.Context, kind jobKind, studyID int, fileIDs []int) (*ledger.BatchOperation, *TaskContext, error) {
	var (
		op *ledger.BatchOperation
		tc *TaskContext
	)
	err := r.ledger.LockAndUpdate(ctx, studyID, func(tx *ledger.Tx, meta *ledger.StudyMetadata) error {
		for _, id := range fileIDs {
			if _, err := meta.SamplesOf(id); err != nil {
				return err
			}
			switch {
			case kind.load && meta.IndexedFiles[id] && !r.opts.Resume:
				return genoerrors.NewValidationError(genoerrors.CodeInvalidArgument,
					fmt.Sprintf("driver: file %d is already loaded in study %d", id, studyID))
			case !kind.load && !meta.IndexedFiles[id]:
				return genoerrors.NewValidationError(genoerrors.CodeInvalidArgument,
					fmt.Sprintf("driver: file %d is not loaded in study %d", id, studyID))
			}
		}

		var err error
		op, err = tx.AddBatchOperation(kind.name, kind.typ, fileIDs, r.opts.Resume)
		if err != nil {
			return err
		}
		tc, err = NewTaskContext(meta, op.FileIDs, kind.load, r.archive, r.index, r.logger)
		if err != nil {
			return err
		}
		// A resumed operation may have written rows already.
		tc.Reset = r.opts.Resume || len(op.History) > 1
		tc.Lenient = r.opts.Lenient
		return nil
	})
	return op, tc, err
}

// execute runs one task per split and waits for all of them. Task errors
// are aggregated; the first one cancels the tasks still running.
func (r *Runner) execute(ctx context.Context, kind jobKind, tc *TaskContext, counters *Counters, logger logrus.FieldLogger) (int, error) {
	spans, err := r.archive.Spans(ctx)
	if err != nil {
		return 0, err
	}
	splits := PlanSplits(spans, r.archive.BucketSize(), r.opts.SplitsPerChromosome)
	logger.WithField("splits", len(splits)).Info("driver: job started")

	var (
		done   int64
		mu     sync.Mutex
		result *multierror.Error
	)
	stop := make(chan struct{})
	go r.poll(stop, &done, len(splits), counters, logger)
	defer close(stop)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for _, s := range splits {
		s := s
		g.Go(func() error {
			defer atomic.AddInt64(&done, 1)
			err := r.runTask(gctx, kind, tc, s, counters, logger)
			if err == nil {
				return nil
			}
			if gctx.Err() == nil || !isContextError(err) {
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("task %s: %w", s, err))
				mu.Unlock()
			}
			return err
		})
	}
	waitErr := g.Wait()

	if err := result.ErrorOrNil(); err != nil {
		return len(splits), err
	}
	if waitErr != nil {
		return len(splits), waitErr
	}
	return len(splits), ctx.Err()
}

func (r *Runner) poll(stop <-chan struct{}, done *int64, total int, counters *Counters, logger logrus.FieldLogger) {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			logger.WithFields(logrus.Fields{
				"done":     atomic.LoadInt64(done),
				"total":    total,
				"counters": counters.Snapshot(),
			}).Info("driver: job progress")
		}
	}
}

// runTask runs one split with retries. Every attempt starts from scratch
// with fresh counters; attempts after the first reset rows the failed
// attempt may have written.
func (r *Runner) runTask(ctx context.Context, kind jobKind, tc *TaskContext, s Split, counters *Counters, logger logrus.FieldLogger) error {
	if r.tracker != nil {
		if !r.tracker.TrackTask() {
			return genoerrors.NewDriverError(genoerrors.CodeCancelled, "driver: shutting down", context.Canceled)
		}
		defer r.tracker.UntrackTask()
	}

	taskLogger := logger.WithField("split", s.String())
	attempt := 0
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		task := *tc
		task.Reset = tc.Reset || attempt > 0
		attempt++

		local := NewCounters(kind.name, nil)
		started := time.Now()
		err := r.runSplit(ctx, kind, &task, s, local)
		r.metrics.TaskDuration.WithLabelValues(kind.name).Observe(time.Since(started).Seconds())
		if err == nil {
			counters.merge(local)
			r.metrics.Tasks.WithLabelValues(kind.name, "success").Inc()
			return nil
		}
		if !genoerrors.IsRetryable(err) {
			r.metrics.Tasks.WithLabelValues(kind.name, "error").Inc()
			return backoff.Permanent(err)
		}
		r.metrics.Tasks.WithLabelValues(kind.name, "retry").Inc()
		taskLogger.WithError(err).WithField("attempt", attempt).Warn("driver: task failed, retrying")
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = 0
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.opts.TaskRetries)), ctx))
	if err != nil {
		taskLogger.WithError(err).Error("driver: task failed")
	}
	return err
}

func (r *Runner) runSplit(ctx context.Context, kind jobKind, tc *TaskContext, s Split, counters *Counters) error {
	first, last := s.Buckets(tc.BucketSize())
	return tc.Archive.ScanBuckets(ctx, s.Chrom, first, last, func(br *archive.BucketRow) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		counters.Add(CounterBuckets, 1)
		return kind.body(ctx, tc, br, counters)
	})
}

// classify turns a context error of the job into a timeout or cancellation
// error.
func (r *Runner) classify(parent, job context.Context, err error) error {
	switch {
	case parent.Err() != nil:
		return genoerrors.NewDriverError(genoerrors.CodeCancelled, "driver: job cancelled", err)
	case errors.Is(job.Err(), context.DeadlineExceeded):
		return genoerrors.NewDriverError(genoerrors.CodeJobTimeout,
			fmt.Sprintf("driver: job exceeded %s", r.opts.JobTimeout), err)
	}
	var ge *genoerrors.GenoError
	if errors.As(err, &ge) && !isMulti(err) {
		return err
	}
	return genoerrors.NewDriverError(genoerrors.CodeTaskFailed, "driver: tasks failed", err)
}

// fail marks the operation ERROR. It uses its own context since the job
// context may be gone.
func (r *Runner) fail(studyID int, op *ledger.BatchOperation, cause error, logger logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.ledger.SetStatus(ctx, studyID, op.Timestamp, ledger.StatusError, cause.Error()); err != nil {
		logger.WithError(err).Error("driver: failed to mark operation as ERROR")
	}
	logger.WithError(cause).Error("driver: job failed")
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func isMulti(err error) bool {
	var me *multierror.Error
	return errors.As(err, &me)
}
