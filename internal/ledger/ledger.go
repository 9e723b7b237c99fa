package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	genoerrors "github.com/genostore/genostore/internal/errors"
)

// Options tune the study lock.
type Options struct {
	// LockTimeout bounds the wait for a study lock.
	LockTimeout time.Duration
	// LockLease is how long a lock row stays valid without being released.
	// A crashed holder blocks the study for at most this long.
	LockLease time.Duration
	// PollInterval is the wait between lock attempts.
	PollInterval time.Duration
	Logger       logrus.FieldLogger
}

// DefaultOptions returns the default lock settings.
func DefaultOptions() Options {
	return Options{
		LockTimeout:  time.Minute,
		LockLease:    10 * time.Minute,
		PollInterval: 100 * time.Millisecond,
	}
}

// Ledger is the SQLite backed study metadata and batch operation ledger.
type Ledger struct {
	db     *sql.DB
	path   string
	owner  string
	opts   Options
	logger logrus.FieldLogger

	locksMu sync.Mutex
	locks   map[int]chan struct{}
}

// Open opens the ledger at endpoint, a SQLite path optionally prefixed with
// sqlite://. The ledger may share the file with the wide-column store.
func Open(endpoint string, opts Options) (*Ledger, error) {
	path := strings.TrimPrefix(endpoint, "sqlite://")
	if path == "" {
		return nil, genoerrors.NewValidationError(genoerrors.CodeInvalidConfig, "ledger: empty endpoint")
	}
	defaults := DefaultOptions()
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaults.LockTimeout
	}
	if opts.LockLease <= 0 {
		opts.LockLease = defaults.LockLease
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range AllSchemaSQL() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("ledger: failed to initialize schema: %w", err)
		}
	}

	return &Ledger{
		db:     db,
		path:   path,
		owner:  uuid.NewString(),
		opts:   opts,
		logger: opts.Logger,
		locks:  make(map[int]chan struct{}),
	}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// CreateStudy registers a study. Creating an existing study with the same
// name is a no-op.
func (l *Ledger) CreateStudy(ctx context.Context, studyID int, name string) error {
	if studyID <= 0 || name == "" {
		return genoerrors.NewValidationError(genoerrors.CodeInvalidArgument,
			fmt.Sprintf("ledger: invalid study %d %q", studyID, name))
	}
	var existing string
	err := l.db.QueryRowContext(ctx, `SELECT name FROM studies WHERE study_id = ?`, studyID).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		if _, err := l.db.ExecContext(ctx,
			`INSERT INTO studies (study_id, name, created_at) VALUES (?, ?, ?)`,
			studyID, name, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("ledger: failed to create study %d: %w", studyID, err)
		}
		l.logger.WithFields(logrus.Fields{"study": studyID, "name": name}).Info("ledger: study created")
		return nil
	case err != nil:
		return fmt.Errorf("ledger: failed to read study %d: %w", studyID, err)
	case existing != name:
		return genoerrors.NewValidationError(genoerrors.CodeInvalidArgument,
			fmt.Sprintf("ledger: study %d already exists as %q", studyID, existing))
	}
	return nil
}

// Study reads the metadata of a study without locking it.
func (l *Ledger) Study(ctx context.Context, studyID int) (*StudyMetadata, error) {
	tx, err := l.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to begin read: %w", err)
	}
	defer tx.Rollback()
	return loadStudy(ctx, tx, studyID)
}

// LockAndUpdate runs fn under the study lock inside one transaction. The
// metadata passed to fn is read after the lock is taken; fn mutates the
// ledger through tx. Nothing is written when fn fails.
func (l *Ledger) LockAndUpdate(ctx context.Context, studyID int, fn func(tx *Tx, meta *StudyMetadata) error) error {
	release, err := l.lock(ctx, studyID)
	if err != nil {
		return err
	}
	defer release()

	sqlTx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	meta, err := loadStudy(ctx, sqlTx, studyID)
	if err != nil {
		return err
	}
	if err := fn(&Tx{tx: sqlTx, ctx: ctx, meta: meta}, meta); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("ledger: failed to commit study %d: %w", studyID, err)
	}
	return nil
}

// lock takes the in-process study lock, then the lock row. Both waits are
// bounded by the lock timeout.
func (l *Ledger) lock(ctx context.Context, studyID int) (func(), error) {
	deadline := time.Now().Add(l.opts.LockTimeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	local := l.localLock(studyID)
	select {
	case local <- struct{}{}:
	case <-ctx.Done():
		return nil, l.lockError(ctx, studyID)
	}

	ticker := time.NewTicker(l.opts.PollInterval)
	defer ticker.Stop()
	for {
		ok, err := l.tryLockRow(ctx, studyID)
		if err != nil {
			<-local
			return nil, err
		}
		if ok {
			return func() {
				if err := l.unlockRow(studyID); err != nil {
					l.logger.WithError(err).WithField("study", studyID).Warn("ledger: failed to release study lock")
				}
				<-local
			}, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			<-local
			return nil, l.lockError(ctx, studyID)
		}
	}
}

func (l *Ledger) lockError(ctx context.Context, studyID int) error {
	if ctx.Err() == context.DeadlineExceeded {
		return genoerrors.NewLedgerError(genoerrors.CodeLockTimeout,
			fmt.Sprintf("ledger: study %d is locked by another operation (waited %s)", studyID, l.opts.LockTimeout),
			genoerrors.ErrOperationConflict)
	}
	return ctx.Err()
}

func (l *Ledger) localLock(studyID int) chan struct{} {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()
	ch, ok := l.locks[studyID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[studyID] = ch
	}
	return ch
}

func (l *Ledger) tryLockRow(ctx context.Context, studyID int) (bool, error) {
	now := time.Now()
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO study_locks (study_id, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (study_id) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE study_locks.expires_at < ? OR study_locks.owner = excluded.owner`,
		studyID, l.owner, now.Add(l.opts.LockLease).UnixMilli(), now.UnixMilli())
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("ledger: failed to take study lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ledger: failed to take study lock: %w", err)
	}
	return n == 1, nil
}

func (l *Ledger) unlockRow(studyID int) error {
	_, err := l.db.Exec(`DELETE FROM study_locks WHERE study_id = ? AND owner = ?`, studyID, l.owner)
	return err
}
