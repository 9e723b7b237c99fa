package keys

import (
	"strconv"
	"strings"
)

// Chromosome ranks occupy the first key byte. Numbered chromosomes keep
// their number as rank, followed by the sex and mitochondrial contigs.
// Any other contig gets rankOther and its name is written out in full,
// so unplaced contigs sort after the assembled genome in name order.
const (
	maxNumberedRank = 200
	rankX           = 201
	rankY           = 202
	rankM           = 203
	rankOther       = 255
)

// NormalizeChromosome returns the canonical contig name. Every leading
// "chr" prefix is dropped so the result is stable under renormalization.
// Numbered chromosomes lose leading zeros, the sex contigs are upper-cased
// and MT is an alias of M.
func NormalizeChromosome(chrom string) string {
	c := chrom
	for len(c) > 3 && strings.EqualFold(c[:3], "chr") {
		c = c[3:]
	}
	if n, ok := numbered(c); ok {
		return strconv.Itoa(n)
	}
	switch strings.ToUpper(c) {
	case "X", "Y", "M":
		return strings.ToUpper(c)
	case "MT":
		return "M"
	}
	return c
}

// chromosomeRank returns the ordering rank of a canonical contig name.
func chromosomeRank(canonical string) byte {
	if n, ok := numbered(canonical); ok && n >= 1 && n <= maxNumberedRank {
		return byte(n)
	}
	switch canonical {
	case "X":
		return rankX
	case "Y":
		return rankY
	case "M":
		return rankM
	}
	return rankOther
}

func rankName(rank byte) (string, bool) {
	switch {
	case rank >= 1 && rank <= maxNumberedRank:
		return strconv.Itoa(int(rank)), true
	case rank == rankX:
		return "X", true
	case rank == rankY:
		return "Y", true
	case rank == rankM:
		return "M", true
	}
	return "", false
}

func numbered(s string) (int, bool) {
	if s == "" || len(s) > 4 {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n == 0 {
		return 0, false
	}
	return n, true
}

// CompareChromosomes orders two contig names in genomic order.
func CompareChromosomes(a, b string) int {
	ca, cb := NormalizeChromosome(a), NormalizeChromosome(b)
	ra, rb := chromosomeRank(ca), chromosomeRank(cb)
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	case ra == rankOther:
		return strings.Compare(ca, cb)
	}
	return 0
}
