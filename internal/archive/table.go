package archive

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	genoerrors "github.com/genostore/genostore/internal/errors"
	"github.com/genostore/genostore/internal/keys"
	"github.com/genostore/genostore/internal/store"
)

// ColumnSnapshot holds the merged rows of a bucket after its last load.
const ColumnSnapshot = "V"

const fileColumnPrefix = "F"

// FileColumn returns the archive column holding the slices of fileID.
func FileColumn(fileID int) string {
	return fileColumnPrefix + strconv.Itoa(fileID)
}

// ParseFileColumn returns the file ID of a slice column.
func ParseFileColumn(qualifier string) (int, bool) {
	if !strings.HasPrefix(qualifier, fileColumnPrefix) {
		return 0, false
	}
	id, err := strconv.Atoi(qualifier[len(fileColumnPrefix):])
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

// BucketRow is one archive row: the raw slices of every archived file plus
// the optional snapshot of merged rows.
type BucketRow struct {
	Bucket   keys.Bucket
	Slices   map[int][]byte
	Snapshot []byte
}

// FileIDs returns the archived files of the row in ascending order.
func (r *BucketRow) FileIDs() []int {
	ids := make([]int, 0, len(r.Slices))
	for id := range r.Slices {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Slice decodes the slice of fileID. ok is false when the file has no
// slice in this bucket.
func (r *BucketRow) Slice(fileID int) (s *Slice, ok bool, err error) {
	data, ok := r.Slices[fileID]
	if !ok {
		return nil, false, nil
	}
	s, err = UnmarshalSlice(data)
	if err != nil {
		return nil, true, err
	}
	return s, true, nil
}

// Table is the archive table: one row per bucket, one column per file.
type Table struct {
	t    *store.Table
	size keys.BucketSize
}

// NewTable wraps a store table as an archive table of the given bucket size.
func NewTable(t *store.Table, size keys.BucketSize) *Table {
	return &Table{t: t, size: size}
}

// Name returns the underlying table name.
func (a *Table) Name() string { return a.t.Name() }

// BucketSize returns the bucket width of the table.
func (a *Table) BucketSize() keys.BucketSize { return a.size }

// PutSlice stores the slice of fileID in its bucket row, replacing any
// earlier slice of the same file.
func (a *Table) PutSlice(ctx context.Context, fileID int, s *Slice) error {
	if s.Start != a.size.AlignDown(s.Start) {
		return genoerrors.NewValidationError(genoerrors.CodeInvalidArgument,
			fmt.Sprintf("archive: slice start %d is not aligned to %d", s.Start, a.size))
	}
	key, err := keys.EncodeBucketKey(s.Bucket(a.size))
	if err != nil {
		return err
	}
	data, err := MarshalSlice(s)
	if err != nil {
		return err
	}
	return a.t.Put(ctx, key, map[string][]byte{FileColumn(fileID): data})
}

// PutSnapshot stores the merged-row snapshot of a bucket.
func (a *Table) PutSnapshot(ctx context.Context, b keys.Bucket, data []byte) error {
	key, err := keys.EncodeBucketKey(b)
	if err != nil {
		return err
	}
	return a.t.Put(ctx, key, map[string][]byte{ColumnSnapshot: data})
}

// ReadBucket returns the archive row of b. A missing row yields an empty
// BucketRow.
func (a *Table) ReadBucket(ctx context.Context, b keys.Bucket) (*BucketRow, error) {
	key, err := keys.EncodeBucketKey(b)
	if err != nil {
		return nil, err
	}
	row, err := a.t.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return toBucketRow(b, row), nil
}

// ScanBuckets calls fn for every non-empty bucket of chrom with an index in
// [from, to).
func (a *Table) ScanBuckets(ctx context.Context, chrom string, from, to int, fn func(*BucketRow) error) error {
	start := keys.BucketPrefix(chrom, from)
	end := keys.BucketPrefix(chrom, to)
	return a.t.Scan(ctx, start, end, func(key []byte, row store.Row) error {
		b, err := keys.DecodeBucketKey(key)
		if err != nil {
			return err
		}
		return fn(toBucketRow(b, row))
	})
}

// RemoveFiles drops the slices of fileIDs from bucket b. The row is deleted
// once no slice is left, snapshot or not.
func (a *Table) RemoveFiles(ctx context.Context, b keys.Bucket, fileIDs []int) error {
	key, err := keys.EncodeBucketKey(b)
	if err != nil {
		return err
	}
	return a.t.Mutate(ctx, key, func(row store.Row) (*store.Mutation, error) {
		m := &store.Mutation{}
		for _, id := range fileIDs {
			if _, ok := row[FileColumn(id)]; ok {
				m.Delete = append(m.Delete, FileColumn(id))
			}
		}
		if len(m.Delete) == 0 {
			return nil, nil
		}
		remaining := 0
		for q := range row {
			if _, ok := ParseFileColumn(q); ok {
				remaining++
			}
		}
		if remaining == len(m.Delete) {
			return &store.Mutation{DeleteRow: true}, nil
		}
		return m, nil
	})
}

// Span is the range of bucket indexes present for one chromosome.
type Span struct {
	Chrom string
	First int
	Last  int
}

// Spans lists, in genomic order, the chromosomes present in the table with
// their first and last bucket.
func (a *Table) Spans(ctx context.Context) ([]Span, error) {
	var spans []Span
	err := a.t.Keys(ctx, nil, nil, func(key []byte) error {
		b, err := keys.DecodeBucketKey(key)
		if err != nil {
			return err
		}
		if n := len(spans); n > 0 && spans[n-1].Chrom == b.Chrom {
			spans[n-1].Last = b.Index
			return nil
		}
		spans = append(spans, Span{Chrom: b.Chrom, First: b.Index, Last: b.Index})
		return nil
	})
	return spans, err
}

func toBucketRow(b keys.Bucket, row store.Row) *BucketRow {
	br := &BucketRow{Bucket: b, Slices: make(map[int][]byte, len(row))}
	for q, v := range row {
		if q == ColumnSnapshot {
			br.Snapshot = v
			continue
		}
		if id, ok := ParseFileColumn(q); ok {
			br.Slices[id] = v
		}
	}
	return br
}
