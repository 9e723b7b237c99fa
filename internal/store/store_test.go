package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTable_PutGetDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tbl, err := s.Table(ctx, "archive")
	require.NoError(t, err)

	key := []byte{1, 0, 0, 0, 7}
	require.NoError(t, tbl.Put(ctx, key, map[string][]byte{"F1": []byte("a"), "F2": []byte("b")}))

	row, err := tbl.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, Row{"F1": []byte("a"), "F2": []byte("b")}, row)

	require.NoError(t, tbl.Put(ctx, key, map[string][]byte{"F1": []byte("c")}))
	require.NoError(t, tbl.DeleteColumns(ctx, key, "F2"))
	row, err = tbl.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, Row{"F1": []byte("c")}, row)

	require.NoError(t, tbl.DeleteRow(ctx, key))
	row, err = tbl.Get(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, row)
}

func TestStore_InvalidTableName(t *testing.T) {
	s := openTestStore(t)
	for _, name := range []string{"", "1abc", "a-b", `x"; DROP TABLE y; --`} {
		if _, err := s.Table(context.Background(), name); err == nil {
			t.Errorf("expected error for table name %q", name)
		}
	}
}

func TestTable_ScanOrderAndPaging(t *testing.T) {
	s := openTestStore(t)
	s.pageSize = 3
	ctx := context.Background()

	tbl, err := s.Table(ctx, "variants")
	require.NoError(t, err)

	// 5 rows with 2 cells each, written out of order.
	for _, k := range []byte{4, 1, 3, 0, 2} {
		require.NoError(t, tbl.Put(ctx, []byte{k}, map[string][]byte{
			"a": {k},
			"b": {k, k},
		}))
	}

	var seen []byte
	err = tbl.Scan(ctx, []byte{1}, []byte{4}, func(key []byte, row Row) error {
		seen = append(seen, key[0])
		assert.Len(t, row, 2)
		assert.Equal(t, []byte{key[0]}, row["a"])
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, seen)

	var all int
	require.NoError(t, tbl.Scan(ctx, nil, nil, func([]byte, Row) error { all++; return nil }))
	assert.Equal(t, 5, all)

	var keys []byte
	require.NoError(t, tbl.Keys(ctx, nil, nil, func(k []byte) error { keys = append(keys, k[0]); return nil }))
	assert.Equal(t, []byte{0, 1, 2, 3, 4}, keys)

	n, err := tbl.CountRows(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestTable_ScanCallbackMayWrite(t *testing.T) {
	s := openTestStore(t)
	s.pageSize = 2
	ctx := context.Background()

	tbl, err := s.Table(ctx, "t")
	require.NoError(t, err)
	for i := byte(0); i < 6; i++ {
		require.NoError(t, tbl.Put(ctx, []byte{i}, map[string][]byte{"v": {i}}))
	}

	err = tbl.Scan(ctx, nil, nil, func(key []byte, row Row) error {
		if key[0]%2 == 0 {
			return tbl.DeleteRow(ctx, key)
		}
		return nil
	})
	require.NoError(t, err)

	n, err := tbl.CountRows(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestTable_ScanStopsOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tbl, err := s.Table(ctx, "t")
	require.NoError(t, err)
	require.NoError(t, tbl.Put(ctx, []byte{1}, map[string][]byte{"v": {1}}))
	require.NoError(t, tbl.Put(ctx, []byte{2}, map[string][]byte{"v": {2}}))

	stop := errors.New("stop")
	calls := 0
	err = tbl.Scan(ctx, nil, nil, func([]byte, Row) error { calls++; return stop })
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestTable_MutateIsAtomicPerRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tbl, err := s.Table(ctx, "counters")
	require.NoError(t, err)

	key := []byte("row")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := tbl.Mutate(ctx, key, func(r Row) (*Mutation, error) {
				n := 0
				if v, ok := r["n"]; ok {
					fmt.Sscanf(string(v), "%d", &n)
				}
				return &Mutation{Put: map[string][]byte{"n": []byte(fmt.Sprint(n + 1))}}, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	row, err := tbl.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "20", string(row["n"]))
}

func TestTable_MutateErrorLeavesRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tbl, err := s.Table(ctx, "t")
	require.NoError(t, err)
	require.NoError(t, tbl.Put(ctx, []byte("k"), map[string][]byte{"a": []byte("1")}))

	boom := errors.New("boom")
	err = tbl.Mutate(ctx, []byte("k"), func(Row) (*Mutation, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	err = tbl.Mutate(ctx, []byte("k"), func(Row) (*Mutation, error) {
		return &Mutation{DeleteRow: true, Put: map[string][]byte{"b": []byte("2")}}, nil
	})
	require.NoError(t, err)
	row, err := tbl.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, Row{"b": []byte("2")}, row)
}

func TestStore_DropTable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tbl, err := s.Table(ctx, "gone")
	require.NoError(t, err)
	require.NoError(t, tbl.Put(ctx, []byte("k"), map[string][]byte{"a": []byte("1")}))
	require.NoError(t, s.DropTable(ctx, "gone"))

	tbl, err = s.Table(ctx, "gone")
	require.NoError(t, err)
	n, err := tbl.CountRows(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
