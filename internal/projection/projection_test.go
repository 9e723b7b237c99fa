package projection

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	genoerrors "github.com/genostore/genostore/internal/errors"
	"github.com/genostore/genostore/internal/keys"
	"github.com/genostore/genostore/internal/store"
	"github.com/genostore/genostore/internal/studyrow"
)

var variant = keys.Variant{Chrom: "1", Pos: 100, Ref: "A", Alt: "G"}

func buildRow(t *testing.T) *studyrow.Row {
	t.Helper()
	r := studyrow.New(2, variant)
	require.NoError(t, r.MergeIn(1, []studyrow.Call{
		{SampleID: 1, Genotype: "0/1", Filter: "PASS"},
		{SampleID: 2, Genotype: "0/0", Filter: "PASS"},
	}))
	require.NoError(t, r.MergeIn(2, []studyrow.Call{
		{SampleID: 3, Genotype: "1/1", Filter: "LowQual"},
		{SampleID: 4, Genotype: ".", Filter: "PASS"},
	}))
	return r
}

func TestParseColumn(t *testing.T) {
	tests := []struct {
		q    string
		kind ColumnKind
		name string
		ok   bool
	}{
		{"2_REF", KindHomRef, "", true},
		{"2_P", KindPass, "", true},
		{"2_C", KindCalls, "", true},
		{"2_FILES", KindFiles, "", true},
		{"2_F:LowQual", KindFilter, "LowQual", true},
		{"2_0/1", KindGenotype, "0/1", true},
		{"2_", KindUnknown, "", false},
		{"22_REF", KindUnknown, "", false},
		{"V", KindUnknown, "", false},
	}
	for _, tt := range tests {
		kind, name, ok := ParseColumn(2, tt.q)
		assert.Equal(t, tt.kind, kind, tt.q)
		assert.Equal(t, tt.name, name, tt.q)
		assert.Equal(t, tt.ok, ok, tt.q)
	}
}

func TestEncoding(t *testing.T) {
	n, err := DecodeCounter(EncodeCounter(-3))
	require.NoError(t, err)
	assert.Equal(t, -3, n)

	b, err := EncodeIDs([]int{9, 2, 70000})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 2, 0, 0, 0, 9, 0, 1, 0x11, 0x70}, b)
	ids, err := DecodeIDs(b)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 9, 70000}, ids)
	assert.True(t, ContainsID(b, 9))
	assert.False(t, ContainsID(b, 3))

	_, err = DecodeIDs([]byte{1, 2, 3})
	assert.True(t, genoerrors.IsCorruption(err))
	_, err = DecodeCounter([]byte{1})
	assert.Error(t, err)
	_, err = EncodeIDs([]int{-1})
	assert.Error(t, err)
}

func TestProject_Columns(t *testing.T) {
	cols, err := Project(buildRow(t))
	require.NoError(t, err)

	keysOf := make([]string, 0, len(cols))
	for q := range cols {
		keysOf = append(keysOf, q)
	}
	assert.ElementsMatch(t, []string{"2_REF", "2_P", "2_C", "2_0/1", "2_1/1", "2_.", "2_F:LowQual", "2_FILES"}, keysOf)
	assert.Equal(t, EncodeCounter(1), cols["2_REF"])
	assert.Equal(t, EncodeCounter(3), cols["2_P"])
	assert.Equal(t, EncodeCounter(3), cols["2_C"])
}

func TestProject_RoundTrip(t *testing.T) {
	row := buildRow(t)
	cols, err := Project(row)
	require.NoError(t, err)

	back, ok, err := FromColumns(2, variant, cols)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, row, back)

	u := NewUnprojector(StudyView{StudyID: 2, IndexedSamples: []int{1, 2, 3, 4}}, false, nil)
	v, ok, err := u.Unproject(variant, cols)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []SampleGenotype{
		{SampleID: 1, Genotype: "0/1"},
		{SampleID: 2, Genotype: "0/0"},
		{SampleID: 3, Genotype: "1/1"},
		{SampleID: 4, Genotype: "."},
	}, v.Samples)
	gt, ok := v.Genotype(3)
	assert.True(t, ok)
	assert.Equal(t, "1/1", gt)
}

func TestUnproject_Inconsistent(t *testing.T) {
	cols, err := Project(buildRow(t))
	require.NoError(t, err)
	// Sample 5 is indexed but the row only counts one reference sample.
	view := StudyView{StudyID: 2, IndexedSamples: []int{1, 2, 3, 4, 5}}

	_, _, err = NewUnprojector(view, false, nil).Unproject(variant, cols)
	require.Error(t, err)
	assert.ErrorIs(t, err, genoerrors.ErrRowInconsistency)

	logger, hook := test.NewNullLogger()
	v, ok, err := NewUnprojector(view, true, logger).Unproject(variant, cols)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, v.Samples, 5)
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestUnproject_OtherStudy(t *testing.T) {
	cols, err := Project(buildRow(t))
	require.NoError(t, err)
	_, ok, err := NewUnprojector(StudyView{StudyID: 3}, false, nil).Unproject(variant, cols)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDiffAndDeleteAll(t *testing.T) {
	row := buildRow(t)
	oldCols, err := Project(row)
	require.NoError(t, err)
	old := store.Row(oldCols).Clone()
	old["7_REF"] = EncodeCounter(4)
	require.Len(t, old, len(oldCols)+1)

	assert.Nil(t, Diff(2, old, oldCols), "identical projection needs no write")
	changed := store.Row(oldCols).Clone()
	changed["2_C"] = EncodeCounter(99)
	assert.NotNil(t, Diff(2, old, changed))

	next := row.Clone()
	require.NoError(t, next.RemoveFile(2, []int{3, 4}))
	newCols, err := Project(next)
	require.NoError(t, err)

	m := Diff(2, old, newCols)
	require.NotNil(t, m)
	assert.ElementsMatch(t, []string{"2_1/1", "2_.", "2_F:LowQual"}, m.Delete)
	assert.Contains(t, m.Put, "2_C")
	assert.Contains(t, m.Put, "2_FILES")
	assert.NotContains(t, m.Put, "2_0/1", "unchanged columns are not rewritten")

	del := DeleteAll(2, old)
	assert.False(t, del.DeleteRow, "columns of other studies survive")
	assert.NotContains(t, del.Delete, "7_REF")
	assert.Len(t, del.Delete, len(oldCols))

	delete(old, "7_REF")
	assert.True(t, DeleteAll(2, old).DeleteRow)
	assert.Nil(t, DeleteAll(9, old))
}

func TestFindBySampleGenotype(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer s.Close()
	table, err := s.Table(ctx, "variants")
	require.NoError(t, err)

	put := func(v keys.Variant, calls ...studyrow.Call) {
		r := studyrow.New(2, v)
		require.NoError(t, r.MergeIn(1, calls))
		cols, err := Project(r)
		require.NoError(t, err)
		key, err := v.Key()
		require.NoError(t, err)
		require.NoError(t, table.Put(ctx, key, cols))
	}
	v1 := variant
	v2 := keys.Variant{Chrom: "2", Pos: 5, Ref: "C", Alt: "T"}
	put(v1, studyrow.Call{SampleID: 1, Genotype: "1/1"}, studyrow.Call{SampleID: 2, Genotype: "0/1"})
	put(v2, studyrow.Call{SampleID: 1, Genotype: "0/0"}, studyrow.Call{SampleID: 2, Genotype: "1/1"})

	find := func(sample int, gt string) []keys.Variant {
		var out []keys.Variant
		require.NoError(t, FindBySampleGenotype(ctx, table, 2, sample, gt, func(v keys.Variant) error {
			out = append(out, v)
			return nil
		}))
		return out
	}
	assert.Equal(t, []keys.Variant{v1}, find(1, "1/1"))
	assert.Equal(t, []keys.Variant{v2}, find(2, "1/1"))
	assert.Equal(t, []keys.Variant{v2}, find(1, "0/0"))
	assert.Empty(t, find(3, "0/1"))
}
