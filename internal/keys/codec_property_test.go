package keys

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var canonicalChromosomes = []string{
	"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11", "12", "13", "14", "15", "16",
	"17", "18", "19", "20", "21", "22", "X", "Y", "M", "GL000192.1", "HLA-A*01",
}

func genVariant() gopter.Gen {
	alleles := gen.SliceOfN(3, gen.IntRange(0, 3))
	return gopter.CombineGens(
		gen.IntRange(0, len(canonicalChromosomes)-1),
		gen.IntRange(0, 250000000),
		alleles,
		gen.IntRange(0, 3),
		gen.IntRange(0, 3),
	).Map(func(vals []interface{}) Variant {
		seq := ""
		for _, b := range vals[2].([]int) {
			seq += string("ACGT"[b])
		}
		return Variant{
			Chrom: canonicalChromosomes[vals[0].(int)],
			Pos:   vals[1].(int),
			Ref:   seq[:vals[3].(int)],
			Alt:   seq[vals[4].(int):],
		}
	})
}

// Decoding an encoded variant returns the same variant.
func TestProperty_VariantKeyRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("decode(encode(v)) == v", prop.ForAll(
		func(v Variant) bool {
			key, err := v.Key()
			if err != nil {
				return false
			}
			got, err := DecodeVariantKey(key)
			return err == nil && got == v
		},
		genVariant(),
	))

	properties.TestingRun(t)
}

// Byte order of keys equals genomic order of variants.
func TestProperty_VariantKeyOrdering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("sign(compare(key(a), key(b))) == sign(a.Compare(b))", prop.ForAll(
		func(a, b Variant) bool {
			ka, err := a.Key()
			if err != nil {
				return false
			}
			kb, err := b.Key()
			if err != nil {
				return false
			}
			return sign(bytes.Compare(ka, kb)) == sign(a.Compare(b))
		},
		genVariant(),
		genVariant(),
	))

	properties.Property("same chromosome, lower position sorts first", prop.ForAll(
		func(a Variant, delta int) bool {
			b := a
			b.Pos = a.Pos + delta
			ka, _ := a.Key()
			kb, _ := b.Key()
			return bytes.Compare(ka, kb) < 0
		},
		genVariant(),
		gen.IntRange(1, 1000000),
	))

	properties.TestingRun(t)
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}
