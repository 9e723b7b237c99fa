package studyrow

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	genoerrors "github.com/genostore/genostore/internal/errors"
	"github.com/genostore/genostore/internal/keys"
)

type snapshotRow struct {
	Pos     int              `msgpack:"p"`
	Ref     string           `msgpack:"r"`
	Alt     string           `msgpack:"a"`
	HomRef  int              `msgpack:"h"`
	Pass    int              `msgpack:"ps"`
	Calls   int              `msgpack:"c"`
	Groups  map[string][]int `msgpack:"g,omitempty"`
	Filters map[string][]int `msgpack:"f,omitempty"`
	Files   []int            `msgpack:"fi,omitempty"`
}

type snapshot struct {
	StudyID int           `msgpack:"s"`
	Chrom   string        `msgpack:"chr"`
	Bucket  int           `msgpack:"b"`
	Rows    []snapshotRow `msgpack:"rows"`
}

// EncodeSnapshot serializes the merged rows of one bucket. It is stored
// next to the raw slices so a bucket can be inspected without the index.
func EncodeSnapshot(studyID int, b keys.Bucket, rows []*Row) ([]byte, error) {
	snap := snapshot{StudyID: studyID, Chrom: keys.NormalizeChromosome(b.Chrom), Bucket: b.Index,
		Rows: make([]snapshotRow, 0, len(rows))}
	for _, r := range rows {
		snap.Rows = append(snap.Rows, snapshotRow{
			Pos:     r.Pos,
			Ref:     r.Ref,
			Alt:     r.Alt,
			HomRef:  r.HomRefCount,
			Pass:    r.PassCount,
			Calls:   r.CallCount,
			Groups:  flatten(r.Groups),
			Filters: flatten(r.Filters),
			Files:   r.Files.Sorted(),
		})
	}
	return msgpack.Marshal(&snap)
}

// DecodeSnapshot is the inverse of EncodeSnapshot.
func DecodeSnapshot(data []byte) (keys.Bucket, []*Row, error) {
	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return keys.Bucket{}, nil, genoerrors.NewCorruptSliceError("studyrow: malformed bucket snapshot", err)
	}
	b := keys.Bucket{Chrom: snap.Chrom, Index: snap.Bucket}
	rows := make([]*Row, 0, len(snap.Rows))
	for _, sr := range snap.Rows {
		if sr.Pos < 0 {
			return b, nil, genoerrors.NewCorruptSliceError(fmt.Sprintf("studyrow: negative position %d in snapshot", sr.Pos), nil)
		}
		r := New(snap.StudyID, keys.Variant{Chrom: snap.Chrom, Pos: sr.Pos, Ref: sr.Ref, Alt: sr.Alt})
		r.HomRefCount, r.PassCount, r.CallCount = sr.HomRef, sr.Pass, sr.Calls
		r.Groups = expand(sr.Groups)
		r.Filters = expand(sr.Filters)
		r.Files = NewIntSet(sr.Files...)
		rows = append(rows, r)
	}
	return b, rows, nil
}

func flatten(sets map[string]IntSet) map[string][]int {
	if len(sets) == 0 {
		return nil
	}
	out := make(map[string][]int, len(sets))
	for k, s := range sets {
		out[k] = s.Sorted()
	}
	return out
}

func expand(flat map[string][]int) map[string]IntSet {
	out := make(map[string]IntSet, len(flat))
	for k, ids := range flat {
		out[k] = NewIntSet(ids...)
	}
	return out
}
