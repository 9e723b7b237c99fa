package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	genoerrors "github.com/genostore/genostore/internal/errors"
)

func TestNewPartitioner_Invalid(t *testing.T) {
	_, err := NewPartitioner(0, GRCh38)
	assert.Equal(t, genoerrors.CodeInvalidArgument, genoerrors.GetCode(err))
	_, err = NewPartitioner(3, nil)
	assert.Error(t, err)
}

func TestPartitioner_SmallAssembly(t *testing.T) {
	p, err := NewPartitioner(4, []Contig{{"1", 100}, {"2", 100}})
	require.NoError(t, err)
	assert.Equal(t, []Point{{"1", 0}, {"1", 50}, {"2", 0}, {"2", 50}}, p.Points())

	tests := []struct {
		chrom string
		pos   int
		want  int
	}{
		{"1", 0, 0},
		{"1", 49, 0},
		{"1", 50, 1},
		{"chr1", 99, 1},
		{"2", 0, 2},
		{"2", 99, 3},
		{"X", 5, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Partition(tt.chrom, tt.pos), "%s:%d", tt.chrom, tt.pos)
	}
}

func TestPartitioner_SkipsDuplicatePoints(t *testing.T) {
	p, err := NewPartitioner(300, []Contig{{"1", 100}, {"2", 100}})
	require.NoError(t, err)
	assert.Equal(t, 200, p.Len())
}

func TestPartitioner_GRCh38(t *testing.T) {
	p, err := NewPartitioner(4, GRCh38)
	require.NoError(t, err)
	require.Equal(t, 4, p.Len())
	assert.Equal(t, Point{"1", 0}, p.Points()[0])
	assert.Equal(t, Point{"4", 82626090}, p.Points()[1])

	assert.Equal(t, 0, p.Partition("4", 82626089))
	assert.Equal(t, 1, p.Partition("4", 82626090))
	assert.Equal(t, 3, p.Partition("MT", 100))

	prev := 0
	for _, c := range GRCh38 {
		part := p.Partition(c.Name, c.Length/2)
		assert.GreaterOrEqual(t, part, prev, "partitions follow genomic order at %s", c.Name)
		prev = part
	}
}
