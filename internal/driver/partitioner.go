package driver

import (
	"fmt"
	"sort"

	genoerrors "github.com/genostore/genostore/internal/errors"
	"github.com/genostore/genostore/internal/keys"
)

// Contig is a chromosome and its length in bases.
type Contig struct {
	Name   string
	Length int
}

// GRCh38 lists the primary assembly contigs in genomic order.
var GRCh38 = []Contig{
	{"1", 248956422}, {"2", 242193529}, {"3", 198295559}, {"4", 190214555},
	{"5", 181538259}, {"6", 170805979}, {"7", 159345973}, {"8", 145138636},
	{"9", 138394717}, {"10", 133797422}, {"11", 135086622}, {"12", 133275309},
	{"13", 114364328}, {"14", 107043718}, {"15", 101991189}, {"16", 90338345},
	{"17", 83257441}, {"18", 80373285}, {"19", 58617616}, {"20", 64444167},
	{"21", 46709983}, {"22", 50818468}, {"X", 156040895}, {"Y", 57227415},
	{"M", 16569},
}

// Point is a genomic coordinate.
type Point struct {
	Chrom string
	Pos   int
}

func (p Point) compare(chrom string, pos int) int {
	if c := keys.CompareChromosomes(p.Chrom, chrom); c != 0 {
		return c
	}
	switch {
	case p.Pos < pos:
		return -1
	case p.Pos > pos:
		return 1
	}
	return 0
}

// Partitioner routes coordinates to one of n genomically contiguous
// partitions. Partition i holds every coordinate from split point i up to,
// but excluding, split point i+1.
type Partitioner struct {
	points []Point
}

// NewPartitioner places n split points at equal distances along the
// concatenated assembly. The first point is the start of the first contig.
func NewPartitioner(n int, assembly []Contig) (*Partitioner, error) {
	if n < 1 {
		return nil, genoerrors.NewValidationError(genoerrors.CodeInvalidArgument,
			fmt.Sprintf("driver: partition count must be positive, got %d", n))
	}
	if len(assembly) == 0 {
		return nil, genoerrors.NewValidationError(genoerrors.CodeInvalidArgument, "driver: empty assembly")
	}
	total := 0
	for _, c := range assembly {
		total += c.Length
	}

	points := make([]Point, 0, n)
	contig, base := 0, 0
	for i := 0; i < n; i++ {
		offset := int(int64(i) * int64(total) / int64(n))
		for contig < len(assembly)-1 && offset >= base+assembly[contig].Length {
			base += assembly[contig].Length
			contig++
		}
		p := Point{Chrom: keys.NormalizeChromosome(assembly[contig].Name), Pos: offset - base}
		if len(points) > 0 && points[len(points)-1] == p {
			continue
		}
		points = append(points, p)
	}
	return &Partitioner{points: points}, nil
}

// Len returns the number of partitions.
func (p *Partitioner) Len() int { return len(p.points) }

// Points returns the split points in order.
func (p *Partitioner) Points() []Point {
	return append([]Point(nil), p.points...)
}

// Partition returns the partition whose split point is the floor of
// chrom:pos. Coordinates before the first point fall into partition 0 and
// contigs outside the assembly into the partition their sort order places
// them in.
func (p *Partitioner) Partition(chrom string, pos int) int {
	i := sort.Search(len(p.points), func(i int) bool {
		return p.points[i].compare(chrom, pos) > 0
	})
	if i == 0 {
		return 0
	}
	return i - 1
}
