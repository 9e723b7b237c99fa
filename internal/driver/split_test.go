package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/genostore/genostore/internal/archive"
)

func TestAlignSplit(t *testing.T) {
	tests := []struct {
		name string
		in   Split
		want Split
		ok   bool
	}{
		{"already aligned", Split{"1", 100, 200}, Split{"1", 100, 200}, true},
		{"both bounds floored", Split{"1", 115, 205}, Split{"1", 110, 200}, true},
		{"inside one bucket", Split{"1", 123, 127}, Split{"1", 120, 120}, false},
		{"empty", Split{"1", 50, 50}, Split{"1", 50, 50}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := AlignSplit(tt.in, 10)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAlignSplits_DropsEmpty(t *testing.T) {
	got := AlignSplits([]Split{{"1", 0, 115}, {"1", 115, 119}, {"1", 119, 300}}, 10)
	assert.Equal(t, []Split{{"1", 0, 110}, {"1", 110, 300}}, got)
}

func TestSplit_Buckets(t *testing.T) {
	first, last := Split{"1", 200, 500}.Buckets(100)
	assert.Equal(t, 2, first)
	assert.Equal(t, 5, last)
}

func TestPlanSplits(t *testing.T) {
	spans := []archive.Span{
		{Chrom: "1", First: 0, Last: 9},
		{Chrom: "2", First: 2, Last: 3},
		{Chrom: "X", First: 7, Last: 7},
	}
	got := PlanSplits(spans, 100, 4)
	want := []Split{
		{"1", 0, 200}, {"1", 200, 500}, {"1", 500, 700}, {"1", 700, 1000},
		{"2", 200, 300}, {"2", 300, 400},
		{"X", 700, 800},
	}
	assert.Equal(t, want, got)
}

func TestPlanSplits_TilesEveryBucket(t *testing.T) {
	spans := []archive.Span{{Chrom: "7", First: 3, Last: 61}}
	for _, per := range []int{0, 1, 2, 3, 5, 7, 64, 100} {
		splits := PlanSplits(spans, 1000, per)
		next := 3
		for _, s := range splits {
			first, last := s.Buckets(1000)
			assert.Equal(t, next, first, "per=%d split %s", per, s)
			assert.Less(t, first, last)
			next = last
		}
		assert.Equal(t, 62, next, "per=%d", per)
	}
}
