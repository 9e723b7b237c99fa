package ledger

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spaolacci/murmur3"

	genoerrors "github.com/genostore/genostore/internal/errors"
)

// OperationType is the kind of a batch operation.
type OperationType string

const (
	TypeLoad   OperationType = "LOAD"
	TypeRemove OperationType = "REMOVE"
)

// Operation names used by the drivers.
const (
	OperationLoad   = "load"
	OperationRemove = "remove"
)

// Status is the state of a batch operation.
type Status string

const (
	StatusRunning Status = "RUNNING"
	StatusReady   Status = "READY"
	StatusError   Status = "ERROR"
)

// StatusEvent is one entry of the status history.
type StatusEvent struct {
	Status  Status
	At      time.Time
	Message string
}

// BatchOperation is one load or remove attempt for a set of files.
type BatchOperation struct {
	StudyID     int
	Timestamp   int64
	Name        string
	Type        OperationType
	FileIDs     []int
	Fingerprint uint64
	History     []StatusEvent
}

// Status returns the latest status.
func (op *BatchOperation) Status() Status {
	if len(op.History) == 0 {
		return ""
	}
	return op.History[len(op.History)-1].Status
}

// SameFiles reports whether fileIDs is exactly the file set of op.
func (op *BatchOperation) SameFiles(fileIDs []int) bool {
	sorted := normalizeFiles(fileIDs)
	if Fingerprint(sorted) != op.Fingerprint || len(sorted) != len(op.FileIDs) {
		return false
	}
	for i := range sorted {
		if sorted[i] != op.FileIDs[i] {
			return false
		}
	}
	return true
}

// Fingerprint hashes a sorted, de-duplicated file set.
func Fingerprint(sortedFileIDs []int) uint64 {
	buf := make([]byte, 0, 8*len(sortedFileIDs))
	for _, id := range sortedFileIDs {
		buf = binary.BigEndian.AppendUint64(buf, uint64(id))
	}
	return murmur3.Sum64(buf)
}

func normalizeFiles(fileIDs []int) []int {
	out := append([]int(nil), fileIDs...)
	sort.Ints(out)
	n := 0
	for i, id := range out {
		if i == 0 || id != out[n-1] {
			out[n] = id
			n++
		}
	}
	return out[:n]
}

// AddBatchOperation registers the start of an operation and returns it with
// status RUNNING. Against the most recent operation of the study:
//   - none, or READY: a new operation is appended with the next timestamp;
//   - RUNNING: allowed only with resume for the same name and file set, in
//     which case the running operation is reused;
//   - ERROR: the same name and file set is resumed in place, anything else
//     is a conflict.
func (t *Tx) AddBatchOperation(name string, typ OperationType, fileIDs []int, resume bool) (*BatchOperation, error) {
	files := normalizeFiles(fileIDs)
	if len(files) == 0 {
		return nil, genoerrors.NewValidationError(genoerrors.CodeInvalidArgument, "ledger: empty file set")
	}

	if last := t.meta.LastOperation(); last != nil {
		same := last.Name == name && last.SameFiles(files)
		switch last.Status() {
		case StatusRunning:
			if !resume || !same {
				return nil, t.conflict(last, "is still running")
			}
			return last, nil
		case StatusError:
			if !same {
				return nil, t.conflict(last, "failed and must be resumed first")
			}
			return last, t.appendStatus(last, StatusRunning, "resumed")
		}
	}

	var ts int64 = 1
	if last := t.meta.LastOperation(); last != nil {
		ts = last.Timestamp + 1
	}
	encoded, err := json.Marshal(files)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to encode file set: %w", err)
	}
	op := &BatchOperation{
		StudyID:     t.meta.StudyID,
		Timestamp:   ts,
		Name:        name,
		Type:        typ,
		FileIDs:     files,
		Fingerprint: Fingerprint(files),
	}
	if _, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO batch_operations (study_id, timestamp, name, type, file_ids, fingerprint) VALUES (?, ?, ?, ?, ?, ?)`,
		op.StudyID, op.Timestamp, op.Name, string(op.Type), string(encoded), int64(op.Fingerprint)); err != nil {
		return nil, fmt.Errorf("ledger: failed to add operation: %w", err)
	}
	t.meta.Operations = append(t.meta.Operations, op)
	return op, t.appendStatus(op, StatusRunning, "")
}

// SetStatus appends status to the history of the operation at timestamp.
func (t *Tx) SetStatus(timestamp int64, status Status, message string) (*BatchOperation, error) {
	for _, op := range t.meta.Operations {
		if op.Timestamp == timestamp {
			return op, t.appendStatus(op, status, message)
		}
	}
	return nil, genoerrors.NewLedgerError(genoerrors.CodeOperationNotFound,
		fmt.Sprintf("ledger: study %d has no operation %d", t.meta.StudyID, timestamp), nil)
}

func (t *Tx) appendStatus(op *BatchOperation, status Status, message string) error {
	ev := StatusEvent{Status: status, At: time.Now(), Message: message}
	if _, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO batch_status (study_id, timestamp, seq, status, changed_at, message) VALUES (?, ?, ?, ?, ?, ?)`,
		op.StudyID, op.Timestamp, len(op.History), string(status), ev.At.UnixMilli(), message); err != nil {
		return fmt.Errorf("ledger: failed to record status %s: %w", status, err)
	}
	op.History = append(op.History, ev)
	return nil
}

func (t *Tx) conflict(last *BatchOperation, reason string) error {
	return genoerrors.NewLedgerError(genoerrors.CodeOperationConflict,
		fmt.Sprintf("ledger: operation %q on files %v of study %d %s", last.Name, last.FileIDs, t.meta.StudyID, reason), nil).
		WithDetails(map[string]interface{}{"timestamp": last.Timestamp, "status": string(last.Status())})
}

// SetStatus records the outcome of an operation under the study lock.
func (l *Ledger) SetStatus(ctx context.Context, studyID int, timestamp int64, status Status, message string) error {
	return l.LockAndUpdate(ctx, studyID, func(tx *Tx, _ *StudyMetadata) error {
		_, err := tx.SetStatus(timestamp, status, message)
		return err
	})
}

func loadOperations(ctx context.Context, q querier, studyID int) ([]*BatchOperation, error) {
	var ops []*BatchOperation
	byTS := make(map[int64]*BatchOperation)
	err := eachRow(ctx, q,
		`SELECT timestamp, name, type, file_ids, fingerprint FROM batch_operations WHERE study_id = ? ORDER BY timestamp`,
		studyID, func(rows *sql.Rows) error {
			op := &BatchOperation{StudyID: studyID}
			var typ, files string
			var fp int64
			if err := rows.Scan(&op.Timestamp, &op.Name, &typ, &files, &fp); err != nil {
				return err
			}
			op.Type = OperationType(typ)
			op.Fingerprint = uint64(fp)
			if err := json.Unmarshal([]byte(files), &op.FileIDs); err != nil {
				return err
			}
			ops = append(ops, op)
			byTS[op.Timestamp] = op
			return nil
		})
	if err != nil {
		return nil, err
	}

	err = eachRow(ctx, q,
		`SELECT timestamp, status, changed_at, message FROM batch_status WHERE study_id = ? ORDER BY timestamp, seq`,
		studyID, func(rows *sql.Rows) error {
			var ts, at int64
			var status, message string
			if err := rows.Scan(&ts, &status, &at, &message); err != nil {
				return err
			}
			if op, ok := byTS[ts]; ok {
				op.History = append(op.History, StatusEvent{Status: Status(status), At: time.UnixMilli(at), Message: message})
			}
			return nil
		})
	return ops, err
}
