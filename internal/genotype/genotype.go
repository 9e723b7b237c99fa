// Package genotype holds the genotype vocabulary shared by the archive
// decoder, the study-row merge engine and the projection layer.
package genotype

import (
	"strconv"
	"strings"
)

// Genotype strings with a fixed meaning.
const (
	NoCall  = "."
	HomRef  = "0/0"
	HetRef  = "0/1"
	HomVar  = "1/1"
	Other   = "?"
	Unknown = ""
)

// Filter values.
const (
	FilterPass         = "PASS"
	FilterSiteConflict = "SiteConflict"
	FilterMissing      = "."
)

// Zygosity classifies a genotype call.
type Zygosity int

const (
	ZygosityUnknown Zygosity = iota
	ZygosityNoCall
	ZygosityHomRef
	ZygosityHet
	ZygosityHomAlt
)

func (z Zygosity) String() string {
	switch z {
	case ZygosityNoCall:
		return "NO_CALL"
	case ZygosityHomRef:
		return "HOMOZYGOUS_REFERENCE"
	case ZygosityHet:
		return "HETEROZYGOUS"
	case ZygosityHomAlt:
		return "HOMOZYGOUS_ALTERNATE"
	default:
		return "UNKNOWN"
	}
}

// Alleles splits a genotype into allele indexes. Missing alleles are -1.
// ok is false when an allele is neither a number nor ".".
func Alleles(gt string) (alleles []int, phased bool, ok bool) {
	phased = strings.Contains(gt, "|")
	parts := strings.FieldsFunc(gt, func(r rune) bool { return r == '/' || r == '|' })
	if len(parts) == 0 {
		return nil, phased, false
	}
	alleles = make([]int, len(parts))
	for i, p := range parts {
		if p == "." {
			alleles[i] = -1
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, phased, false
		}
		alleles[i] = n
	}
	return alleles, phased, true
}

// Classify returns the zygosity of a genotype string. Haploid calls are
// classified by their single allele.
func Classify(gt string) Zygosity {
	alleles, _, ok := Alleles(gt)
	if !ok {
		return ZygosityUnknown
	}
	missing, ref, alt := 0, 0, map[int]bool{}
	for _, a := range alleles {
		switch {
		case a < 0:
			missing++
		case a == 0:
			ref++
		default:
			alt[a] = true
		}
	}
	switch {
	case missing == len(alleles):
		return ZygosityNoCall
	case len(alt) == 0 && missing == 0:
		return ZygosityHomRef
	case len(alt) == 1 && ref == 0 && missing == 0:
		return ZygosityHomAlt
	case len(alt) == 0:
		// Partially missing reference calls such as "./0".
		return ZygosityUnknown
	}
	return ZygosityHet
}

// IsHomRef reports whether gt is a homozygous reference call.
func IsHomRef(gt string) bool {
	return Classify(gt) == ZygosityHomRef
}

// IsNoCall reports whether gt carries no allele information.
func IsNoCall(gt string) bool {
	return gt == "" || Classify(gt) == ZygosityNoCall
}

// HasAlt reports whether gt names at least one non-reference allele.
func HasAlt(gt string) bool {
	alleles, _, ok := Alleles(gt)
	if !ok {
		return false
	}
	for _, a := range alleles {
		if a > 0 {
			return true
		}
	}
	return false
}

// Normalize maps every spelling of a no-call to NoCall and trims spaces.
// Other genotypes are returned verbatim; phase is significant.
func Normalize(gt string) string {
	gt = strings.TrimSpace(gt)
	if IsNoCall(gt) {
		return NoCall
	}
	return gt
}

// NormalizeFilter maps blank and "-" filters to FilterMissing.
func NormalizeFilter(filter string) string {
	filter = strings.TrimSpace(filter)
	if filter == "" || filter == "-" {
		return FilterMissing
	}
	return filter
}
