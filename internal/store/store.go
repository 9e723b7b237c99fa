package store

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	genoerrors "github.com/genostore/genostore/internal/errors"
)

const defaultPageSize = 2048

// Row is the set of cells of one row, keyed by qualifier.
type Row map[string][]byte

// Clone returns a copy of the row that shares no maps with r.
func (r Row) Clone() Row {
	cp := make(Row, len(r))
	for k, v := range r {
		cp[k] = v
	}
	return cp
}

// Mutation describes a change to a single row. DeleteRow runs first, then
// Delete, then Put, so a mutation can replace a row wholesale.
type Mutation struct {
	Put       map[string][]byte
	Delete    []string
	DeleteRow bool
}

// Empty reports whether the mutation changes nothing.
func (m *Mutation) Empty() bool {
	return m == nil || (!m.DeleteRow && len(m.Put) == 0 && len(m.Delete) == 0)
}

// Store is a set of wide-column tables in one SQLite database.
type Store struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool
	path   string
	mu     sync.Mutex // Serializes writers

	tablesMu sync.Mutex
	tables   map[string]*Table
	pageSize int
}

// Open opens or creates the store at endpoint. The endpoint is a SQLite
// file path, optionally prefixed with sqlite://.
func Open(endpoint string) (*Store, error) {
	path := strings.TrimPrefix(endpoint, "sqlite://")
	if path == "" {
		return nil, genoerrors.NewValidationError(genoerrors.CodeInvalidArgument, "store: empty endpoint")
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, genoerrors.NewStoreError("store: failed to open "+path, err)
	}

	readDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	return &Store{
		db:       db,
		readDB:   readDB,
		path:     path,
		tables:   make(map[string]*Table),
		pageSize: defaultPageSize,
	}, nil
}

// Path returns the SQLite file backing the store.
func (s *Store) Path() string {
	return s.path
}

// Table returns the named table, creating it on first use.
func (s *Store) Table(ctx context.Context, name string) (*Table, error) {
	if !tableNamePattern.MatchString(name) {
		return nil, genoerrors.NewValidationError(genoerrors.CodeInvalidArgument,
			fmt.Sprintf("store: invalid table name %q", name))
	}

	s.tablesMu.Lock()
	defer s.tablesMu.Unlock()

	if t, ok := s.tables[name]; ok {
		return t, nil
	}

	s.mu.Lock()
	_, err := s.db.ExecContext(ctx, createTableSQL(name))
	s.mu.Unlock()
	if err != nil {
		return nil, genoerrors.NewStoreError("store: failed to create table "+name, err)
	}

	t := &Table{store: s, name: name, sqlName: sqlTableName(name)}
	s.tables[name] = t
	return t, nil
}

// DropTable removes a table and all of its rows.
func (s *Store) DropTable(ctx context.Context, name string) error {
	if !tableNamePattern.MatchString(name) {
		return genoerrors.NewValidationError(genoerrors.CodeInvalidArgument,
			fmt.Sprintf("store: invalid table name %q", name))
	}
	s.tablesMu.Lock()
	defer s.tablesMu.Unlock()

	s.mu.Lock()
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS "%s"`, sqlTableName(name)))
	s.mu.Unlock()
	if err != nil {
		return genoerrors.NewStoreError("store: failed to drop table "+name, err)
	}
	delete(s.tables, name)
	return nil
}

// Close closes both connection pools.
func (s *Store) Close() error {
	var firstErr error
	if err := s.readDB.Close(); err != nil {
		firstErr = err
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Table is one ordered wide-column table.
type Table struct {
	store   *Store
	name    string
	sqlName string
}

// Name returns the logical table name.
func (t *Table) Name() string {
	return t.name
}

// Get reads one row. A missing row yields an empty, non-nil Row.
func (t *Table) Get(ctx context.Context, key []byte) (Row, error) {
	rows, err := t.store.readDB.QueryContext(ctx,
		fmt.Sprintf(`SELECT qualifier, value FROM "%s" WHERE row_key = ?`, t.sqlName), key)
	if err != nil {
		return nil, genoerrors.NewStoreError("store: failed to read row", err)
	}
	defer rows.Close()
	return scanRow(rows)
}

// Put writes the given cells, overwriting existing values.
func (t *Table) Put(ctx context.Context, key []byte, cells map[string][]byte) error {
	return t.Apply(ctx, key, &Mutation{Put: cells})
}

// DeleteColumns removes the given qualifiers from a row.
func (t *Table) DeleteColumns(ctx context.Context, key []byte, qualifiers ...string) error {
	return t.Apply(ctx, key, &Mutation{Delete: qualifiers})
}

// DeleteRow removes every cell of a row.
func (t *Table) DeleteRow(ctx context.Context, key []byte) error {
	return t.Apply(ctx, key, &Mutation{DeleteRow: true})
}

// Apply executes a mutation atomically.
func (t *Table) Apply(ctx context.Context, key []byte, m *Mutation) error {
	if m.Empty() {
		return nil
	}
	return t.Mutate(ctx, key, func(Row) (*Mutation, error) { return m, nil })
}

// Mutate performs an atomic read-modify-write of one row. fn receives the
// current row (empty if absent) and returns the mutation to apply; a nil
// mutation leaves the row untouched. Errors from fn are returned unchanged.
func (t *Table) Mutate(ctx context.Context, key []byte, fn func(Row) (*Mutation, error)) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	tx, err := t.store.db.BeginTx(ctx, nil)
	if err != nil {
		return genoerrors.NewStoreError("store: failed to begin transaction", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf(`SELECT qualifier, value FROM "%s" WHERE row_key = ?`, t.sqlName), key)
	if err != nil {
		return genoerrors.NewStoreError("store: failed to read row", err)
	}
	current, err := scanRow(rows)
	rows.Close()
	if err != nil {
		return err
	}

	m, err := fn(current)
	if err != nil {
		return err
	}
	if m.Empty() {
		return nil
	}

	if err := t.applyTx(ctx, tx, key, m); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return genoerrors.NewStoreError("store: failed to commit row mutation", err)
	}
	return nil
}

func (t *Table) applyTx(ctx context.Context, tx *sql.Tx, key []byte, m *Mutation) error {
	if m.DeleteRow {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM "%s" WHERE row_key = ?`, t.sqlName), key); err != nil {
			return genoerrors.NewStoreError("store: failed to delete row", err)
		}
	}
	for _, q := range m.Delete {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM "%s" WHERE row_key = ? AND qualifier = ?`, t.sqlName), key, q); err != nil {
			return genoerrors.NewStoreError("store: failed to delete column "+q, err)
		}
	}
	if len(m.Put) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO "%s" (row_key, qualifier, value) VALUES (?, ?, ?)
		 ON CONFLICT (row_key, qualifier) DO UPDATE SET value = excluded.value`, t.sqlName))
	if err != nil {
		return genoerrors.NewStoreError("store: failed to prepare put", err)
	}
	defer stmt.Close()
	for q, v := range m.Put {
		if v == nil {
			v = []byte{}
		}
		if _, err := stmt.ExecContext(ctx, key, q, v); err != nil {
			return genoerrors.NewStoreError("store: failed to put column "+q, err)
		}
	}
	return nil
}

type cell struct {
	key       []byte
	qualifier string
	value     []byte
}

// Scan calls fn for every row with start <= key < end, in key order. A nil
// or empty bound is open. Cells are read in pages and no cursor is held
// while fn runs, so fn may write to the store.
func (t *Table) Scan(ctx context.Context, start, end []byte, fn func(key []byte, row Row) error) error {
	var (
		after    *cell
		curKey   []byte
		cur      Row
		pageSize = t.store.pageSize
	)
	for {
		cells, err := t.page(ctx, start, end, after, pageSize)
		if err != nil {
			return err
		}
		for i := range cells {
			c := &cells[i]
			if cur != nil && !bytes.Equal(c.key, curKey) {
				if err := fn(curKey, cur); err != nil {
					return err
				}
				cur = nil
			}
			if cur == nil {
				curKey = c.key
				cur = Row{}
			}
			cur[c.qualifier] = c.value
		}
		if len(cells) < pageSize {
			break
		}
		after = &cells[len(cells)-1]
	}
	if cur != nil {
		return fn(curKey, cur)
	}
	return nil
}

func (t *Table) page(ctx context.Context, start, end []byte, after *cell, limit int) ([]cell, error) {
	var (
		where []string
		args  []interface{}
	)
	if len(start) > 0 {
		where = append(where, "row_key >= ?")
		args = append(args, start)
	}
	if len(end) > 0 {
		where = append(where, "row_key < ?")
		args = append(args, end)
	}
	if after != nil {
		where = append(where, "(row_key > ? OR (row_key = ? AND qualifier > ?))")
		args = append(args, after.key, after.key, after.qualifier)
	}
	query := fmt.Sprintf(`SELECT row_key, qualifier, value FROM "%s"`, t.sqlName)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY row_key, qualifier LIMIT ?"
	args = append(args, limit)

	rows, err := t.store.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, genoerrors.NewStoreError("store: failed to scan", err)
	}
	defer rows.Close()

	cells := make([]cell, 0, limit)
	for rows.Next() {
		var c cell
		if err := rows.Scan(&c.key, &c.qualifier, &c.value); err != nil {
			return nil, genoerrors.NewStoreError("store: failed to scan cell", err)
		}
		cells = append(cells, c)
	}
	if err := rows.Err(); err != nil {
		return nil, genoerrors.NewStoreError("store: error iterating cells", err)
	}
	return cells, nil
}

// Keys calls fn for every distinct row key with start <= key < end.
func (t *Table) Keys(ctx context.Context, start, end []byte, fn func(key []byte) error) error {
	var after []byte
	for {
		var (
			where []string
			args  []interface{}
		)
		if len(start) > 0 {
			where = append(where, "row_key >= ?")
			args = append(args, start)
		}
		if len(end) > 0 {
			where = append(where, "row_key < ?")
			args = append(args, end)
		}
		if after != nil {
			where = append(where, "row_key > ?")
			args = append(args, after)
		}
		query := fmt.Sprintf(`SELECT DISTINCT row_key FROM "%s"`, t.sqlName)
		if len(where) > 0 {
			query += " WHERE " + strings.Join(where, " AND ")
		}
		query += " ORDER BY row_key LIMIT ?"
		args = append(args, t.store.pageSize)

		keys, err := t.queryKeys(ctx, query, args)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := fn(k); err != nil {
				return err
			}
		}
		if len(keys) < t.store.pageSize {
			return nil
		}
		after = keys[len(keys)-1]
	}
}

func (t *Table) queryKeys(ctx context.Context, query string, args []interface{}) ([][]byte, error) {
	rows, err := t.store.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, genoerrors.NewStoreError("store: failed to list keys", err)
	}
	defer rows.Close()

	var keys [][]byte
	for rows.Next() {
		var k []byte
		if err := rows.Scan(&k); err != nil {
			return nil, genoerrors.NewStoreError("store: failed to scan key", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, genoerrors.NewStoreError("store: error iterating keys", err)
	}
	return keys, nil
}

// CountRows returns the number of distinct rows in the table.
func (t *Table) CountRows(ctx context.Context) (int64, error) {
	var n int64
	err := t.store.readDB.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(DISTINCT row_key) FROM "%s"`, t.sqlName)).Scan(&n)
	if err != nil {
		return 0, genoerrors.NewStoreError("store: failed to count rows", err)
	}
	return n, nil
}

func scanRow(rows *sql.Rows) (Row, error) {
	row := Row{}
	for rows.Next() {
		var q string
		var v []byte
		if err := rows.Scan(&q, &v); err != nil {
			return nil, genoerrors.NewStoreError("store: failed to scan cell", err)
		}
		row[q] = v
	}
	if err := rows.Err(); err != nil {
		return nil, genoerrors.NewStoreError("store: error iterating row", err)
	}
	return row, nil
}
