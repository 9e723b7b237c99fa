package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	genoerrors "github.com/genostore/genostore/internal/errors"
)

// StudyMetadata is the state of one study as read from the ledger.
type StudyMetadata struct {
	StudyID int
	Name    string
	// SampleIDs maps sample names to study sample IDs.
	SampleIDs map[string]int
	// FileSamples lists the sample IDs of each registered file in the
	// column order of the file.
	FileSamples map[int][]int
	FileNames   map[int]string
	// IndexedFiles are the files whose samples are merged into the index.
	IndexedFiles map[int]bool
	// Operations are the batch operations in timestamp order.
	Operations []*BatchOperation
}

// SamplesOf returns the sample IDs of fileID.
func (m *StudyMetadata) SamplesOf(fileID int) ([]int, error) {
	ids, ok := m.FileSamples[fileID]
	if !ok {
		return nil, genoerrors.New(genoerrors.ErrCategoryArchive, genoerrors.CodeMissingFile,
			fmt.Sprintf("ledger: file %d is not registered in study %d", fileID, m.StudyID))
	}
	return ids, nil
}

// IndexedFileIDs returns the indexed files in ascending order.
func (m *StudyMetadata) IndexedFileIDs() []int {
	ids := make([]int, 0, len(m.IndexedFiles))
	for id, ok := range m.IndexedFiles {
		if ok {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// IndexedSamples returns the samples of every indexed file, ascending and
// without duplicates.
func (m *StudyMetadata) IndexedSamples() []int {
	seen := make(map[int]bool)
	var out []int
	for _, f := range m.IndexedFileIDs() {
		for _, id := range m.FileSamples[f] {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	sort.Ints(out)
	return out
}

// LastOperation returns the most recent batch operation, or nil.
func (m *StudyMetadata) LastOperation() *BatchOperation {
	if len(m.Operations) == 0 {
		return nil
	}
	return m.Operations[len(m.Operations)-1]
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func loadStudy(ctx context.Context, q querier, studyID int) (*StudyMetadata, error) {
	m := &StudyMetadata{
		StudyID:      studyID,
		SampleIDs:    make(map[string]int),
		FileSamples:  make(map[int][]int),
		FileNames:    make(map[int]string),
		IndexedFiles: make(map[int]bool),
	}
	err := q.QueryRowContext(ctx, `SELECT name FROM studies WHERE study_id = ?`, studyID).Scan(&m.Name)
	if err == sql.ErrNoRows {
		return nil, genoerrors.NewMergeError(genoerrors.CodeMissingStudy,
			fmt.Sprintf("ledger: study %d does not exist", studyID))
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to read study %d: %w", studyID, err)
	}

	if err := eachRow(ctx, q, `SELECT name, sample_id FROM samples WHERE study_id = ?`, studyID,
		func(rows *sql.Rows) error {
			var name string
			var id int
			if err := rows.Scan(&name, &id); err != nil {
				return err
			}
			m.SampleIDs[name] = id
			return nil
		}); err != nil {
		return nil, err
	}

	if err := eachRow(ctx, q, `SELECT file_id, name, indexed FROM files WHERE study_id = ?`, studyID,
		func(rows *sql.Rows) error {
			var id int
			var name string
			var indexed bool
			if err := rows.Scan(&id, &name, &indexed); err != nil {
				return err
			}
			m.FileNames[id] = name
			m.FileSamples[id] = []int{}
			if indexed {
				m.IndexedFiles[id] = true
			}
			return nil
		}); err != nil {
		return nil, err
	}

	if err := eachRow(ctx, q, `SELECT file_id, sample_id FROM file_samples WHERE study_id = ? ORDER BY file_id, position`, studyID,
		func(rows *sql.Rows) error {
			var fileID, sampleID int
			if err := rows.Scan(&fileID, &sampleID); err != nil {
				return err
			}
			m.FileSamples[fileID] = append(m.FileSamples[fileID], sampleID)
			return nil
		}); err != nil {
		return nil, err
	}

	ops, err := loadOperations(ctx, q, studyID)
	if err != nil {
		return nil, err
	}
	m.Operations = ops
	return m, nil
}

func eachRow(ctx context.Context, q querier, query string, studyID int, fn func(*sql.Rows) error) error {
	rows, err := q.QueryContext(ctx, query, studyID)
	if err != nil {
		return fmt.Errorf("ledger: query failed: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return fmt.Errorf("ledger: failed to scan row: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("ledger: error iterating rows: %w", err)
	}
	return nil
}

// Tx is the handle fn receives in LockAndUpdate. Its methods write through
// the study transaction and keep the metadata snapshot in sync.
type Tx struct {
	tx   *sql.Tx
	ctx  context.Context
	meta *StudyMetadata
}

// RegisterFile records fileID with its sample names, assigning study sample
// IDs to new names. Registering a file again with the same samples returns
// the existing IDs; different samples are rejected.
func (t *Tx) RegisterFile(fileID int, fileName string, sampleNames []string) ([]int, error) {
	if fileID < 0 {
		return nil, genoerrors.NewValidationError(genoerrors.CodeInvalidArgument,
			fmt.Sprintf("ledger: invalid file id %d", fileID))
	}
	if existing, ok := t.meta.FileSamples[fileID]; ok {
		if !sameSamples(t.meta, existing, sampleNames) {
			return nil, genoerrors.NewValidationError(genoerrors.CodeInvalidArgument,
				fmt.Sprintf("ledger: file %d is already registered with other samples", fileID))
		}
		return existing, nil
	}

	seen := make(map[string]bool, len(sampleNames))
	for _, name := range sampleNames {
		if name == "" || seen[name] {
			return nil, genoerrors.NewValidationError(genoerrors.CodeInvalidArgument,
				fmt.Sprintf("ledger: file %d has an empty or repeated sample name %q", fileID, name))
		}
		seen[name] = true
	}

	next := 0
	for _, id := range t.meta.SampleIDs {
		if id > next {
			next = id
		}
	}
	ids, added, err := t.insertFile(fileID, fileName, sampleNames, next)
	if err != nil {
		return nil, err
	}
	for name, id := range added {
		t.meta.SampleIDs[name] = id
	}
	t.meta.FileSamples[fileID] = ids
	t.meta.FileNames[fileID] = fileName
	return ids, nil
}

// insertFile writes the rows of one file registration inside a savepoint,
// so a failed registration leaves nothing behind in the transaction.
func (t *Tx) insertFile(fileID int, fileName string, sampleNames []string, next int) (ids []int, added map[string]int, err error) {
	if _, err := t.tx.ExecContext(t.ctx, `SAVEPOINT register_file`); err != nil {
		return nil, nil, fmt.Errorf("ledger: failed to open savepoint: %w", err)
	}
	defer func() {
		if err != nil {
			_, _ = t.tx.ExecContext(t.ctx, `ROLLBACK TO register_file`)
		}
		if _, relErr := t.tx.ExecContext(t.ctx, `RELEASE register_file`); relErr != nil && err == nil {
			err = fmt.Errorf("ledger: failed to release savepoint: %w", relErr)
		}
	}()

	added = make(map[string]int)
	ids = make([]int, len(sampleNames))
	for i, name := range sampleNames {
		id, ok := t.meta.SampleIDs[name]
		if !ok {
			next++
			id = next
			if _, err := t.tx.ExecContext(t.ctx,
				`INSERT INTO samples (study_id, sample_id, name) VALUES (?, ?, ?)`,
				t.meta.StudyID, id, name); err != nil {
				return nil, nil, fmt.Errorf("ledger: failed to add sample %q: %w", name, err)
			}
			added[name] = id
		}
		ids[i] = id
		if _, err := t.tx.ExecContext(t.ctx,
			`INSERT INTO file_samples (study_id, file_id, position, sample_id) VALUES (?, ?, ?, ?)`,
			t.meta.StudyID, fileID, i, id); err != nil {
			return nil, nil, fmt.Errorf("ledger: failed to map file %d sample %q: %w", fileID, name, err)
		}
	}
	if _, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO files (study_id, file_id, name, indexed) VALUES (?, ?, ?, 0)`,
		t.meta.StudyID, fileID, fileName); err != nil {
		return nil, nil, fmt.Errorf("ledger: failed to register file %d: %w", fileID, err)
	}
	return ids, added, nil
}

func sameSamples(m *StudyMetadata, ids []int, names []string) bool {
	if len(ids) != len(names) {
		return false
	}
	for i, name := range names {
		if id, ok := m.SampleIDs[name]; !ok || id != ids[i] {
			return false
		}
	}
	return true
}

// SetIndexed marks files as indexed or not.
func (t *Tx) SetIndexed(fileIDs []int, indexed bool) error {
	for _, id := range fileIDs {
		if _, ok := t.meta.FileSamples[id]; !ok {
			return genoerrors.New(genoerrors.ErrCategoryArchive, genoerrors.CodeMissingFile,
				fmt.Sprintf("ledger: file %d is not registered in study %d", id, t.meta.StudyID))
		}
		if _, err := t.tx.ExecContext(t.ctx,
			`UPDATE files SET indexed = ? WHERE study_id = ? AND file_id = ?`,
			indexed, t.meta.StudyID, id); err != nil {
			return fmt.Errorf("ledger: failed to update file %d: %w", id, err)
		}
		if indexed {
			t.meta.IndexedFiles[id] = true
		} else {
			delete(t.meta.IndexedFiles, id)
		}
	}
	return nil
}
