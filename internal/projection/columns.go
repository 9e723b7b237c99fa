// Package projection maps study rows to the columns of the index table and
// back. Every study owns the qualifiers starting with "{studyId}_": a
// homozygous reference counter, pass and call counters, and one sorted
// sample array per genotype and per non-PASS filter.
package projection

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	genoerrors "github.com/genostore/genostore/internal/errors"
)

// Column suffixes of a study.
const (
	SuffixHomRef = "REF"
	SuffixPass   = "P"
	SuffixCalls  = "C"
	SuffixFiles  = "FILES"
	filterMarker = "F:"
	separator    = "_"
)

// ColumnKind tells what a study qualifier holds.
type ColumnKind int

const (
	KindUnknown ColumnKind = iota
	KindHomRef
	KindPass
	KindCalls
	KindFiles
	KindFilter
	KindGenotype
)

// Prefix returns the qualifier prefix of a study.
func Prefix(studyID int) string {
	return strconv.Itoa(studyID) + separator
}

func HomRefColumn(studyID int) string { return Prefix(studyID) + SuffixHomRef }
func PassColumn(studyID int) string   { return Prefix(studyID) + SuffixPass }
func CallsColumn(studyID int) string  { return Prefix(studyID) + SuffixCalls }
func FilesColumn(studyID int) string  { return Prefix(studyID) + SuffixFiles }

// GenotypeColumn returns the sample array column of a genotype group.
func GenotypeColumn(studyID int, gt string) string {
	return Prefix(studyID) + gt
}

// FilterColumn returns the sample array column of a filter.
func FilterColumn(studyID int, filter string) string {
	return Prefix(studyID) + filterMarker + filter
}

// ParseColumn classifies a qualifier of studyID. ok is false for
// qualifiers of other studies and foreign columns.
func ParseColumn(studyID int, qualifier string) (kind ColumnKind, name string, ok bool) {
	prefix := Prefix(studyID)
	if !strings.HasPrefix(qualifier, prefix) {
		return KindUnknown, "", false
	}
	rest := qualifier[len(prefix):]
	switch {
	case rest == SuffixHomRef:
		return KindHomRef, "", true
	case rest == SuffixPass:
		return KindPass, "", true
	case rest == SuffixCalls:
		return KindCalls, "", true
	case rest == SuffixFiles:
		return KindFiles, "", true
	case strings.HasPrefix(rest, filterMarker):
		return KindFilter, rest[len(filterMarker):], true
	case rest == "":
		return KindUnknown, "", false
	}
	return KindGenotype, rest, true
}

func reservedGenotype(gt string) bool {
	switch gt {
	case "", SuffixHomRef, SuffixPass, SuffixCalls, SuffixFiles:
		return true
	}
	return strings.HasPrefix(gt, filterMarker)
}

// EncodeCounter encodes a counter as an 8 byte big-endian integer.
func EncodeCounter(n int) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(int64(n)))
}

// DecodeCounter is the inverse of EncodeCounter.
func DecodeCounter(b []byte) (int, error) {
	if len(b) != 8 {
		return 0, malformed(fmt.Sprintf("counter of %d bytes", len(b)))
	}
	return int(int64(binary.BigEndian.Uint64(b))), nil
}

// EncodeIDs encodes ids as sorted 4 byte big-endian unsigned integers.
func EncodeIDs(ids []int) ([]byte, error) {
	sorted := append([]int(nil), ids...)
	sort.Ints(sorted)
	buf := make([]byte, 0, 4*len(sorted))
	for _, id := range sorted {
		if id < 0 || id > math.MaxUint32 {
			return nil, genoerrors.NewValidationError(genoerrors.CodeInvalidArgument,
				fmt.Sprintf("projection: id %d out of range", id))
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(id))
	}
	return buf, nil
}

// DecodeIDs is the inverse of EncodeIDs.
func DecodeIDs(b []byte) ([]int, error) {
	if len(b)%4 != 0 {
		return nil, malformed(fmt.Sprintf("id array of %d bytes", len(b)))
	}
	ids := make([]int, len(b)/4)
	for i := range ids {
		ids[i] = int(binary.BigEndian.Uint32(b[4*i:]))
	}
	return ids, nil
}

// ContainsID reports whether an encoded id array holds id.
func ContainsID(b []byte, id int) bool {
	n := len(b) / 4
	i := sort.Search(n, func(i int) bool { return int(binary.BigEndian.Uint32(b[4*i:])) >= id })
	return i < n && int(binary.BigEndian.Uint32(b[4*i:])) == id
}

func malformed(what string) error {
	return genoerrors.New(genoerrors.ErrCategoryProjection, genoerrors.CodeRowInconsistency, "projection: malformed "+what)
}
