package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/genostore/genostore/internal/keys"
	"github.com/genostore/genostore/internal/projection"
)

// parseVariant parses chrom:pos:ref:alt.
func parseVariant(s string) (keys.Variant, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return keys.Variant{}, fmt.Errorf("variant %q is not chrom:pos:ref:alt", s)
	}
	pos, err := strconv.Atoi(parts[1])
	if err != nil || pos < 0 {
		return keys.Variant{}, fmt.Errorf("invalid position in %q", s)
	}
	return keys.Variant{Chrom: keys.NormalizeChromosome(parts[0]), Pos: pos, Ref: parts[2], Alt: parts[3]}, nil
}

func variantCommand() *cli.Command {
	return &cli.Command{
		Name:      "variant",
		Usage:     "print the genotype of every indexed sample at one variant",
		ArgsUsage: "<store-endpoint> <index-table> <studyId> <chrom:pos:ref:alt> [<key> <value>]...",
		Action: func(c *cli.Context) error {
			if c.NArg() < 4 {
				return usageError(c, "expected at least 4 arguments, got %d", c.NArg())
			}
			args := c.Args().Slice()
			studyID, err := parseStudyID(args[2])
			if err != nil {
				return usageError(c, "%v", err)
			}
			v, err := parseVariant(args[3])
			if err != nil {
				return usageError(c, "%v", err)
			}
			e, ctx, cancel, err := setup(c, args[0], args[4:])
			if err != nil {
				return err
			}
			defer e.close()
			defer cancel()

			meta, err := e.ledger.Study(ctx, studyID)
			if err != nil {
				return err
			}
			index, err := e.store.Table(ctx, args[1])
			if err != nil {
				return err
			}
			key, err := v.Key()
			if err != nil {
				return err
			}
			cells, err := index.Get(ctx, key)
			if err != nil {
				return err
			}
			u := projection.NewUnprojector(projection.StudyView{StudyID: studyID, IndexedSamples: meta.IndexedSamples()},
				e.cfg.Driver.Lenient, e.logger)
			expanded, ok, err := u.Unproject(v, cells)
			if err != nil {
				return err
			}
			if !ok {
				return cli.Exit(fmt.Sprintf("variant %s is not indexed in study %d", v, studyID), 1)
			}
			names := make(map[int]string, len(meta.SampleIDs))
			for name, id := range meta.SampleIDs {
				names[id] = name
			}
			for _, s := range expanded.Samples {
				fmt.Fprintf(c.App.Writer, "%s\t%d\t%s\n", names[s.SampleID], s.SampleID, s.Genotype)
			}
			return nil
		},
	}
}

func genotypesCommand() *cli.Command {
	return &cli.Command{
		Name:      "genotypes",
		Usage:     "list the variants where a sample has a genotype",
		ArgsUsage: "<store-endpoint> <index-table> <studyId> <sampleId> <genotype>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 5 {
				return usageError(c, "expected 5 arguments, got %d", c.NArg())
			}
			args := c.Args().Slice()
			studyID, err := parseStudyID(args[2])
			if err != nil {
				return usageError(c, "%v", err)
			}
			sampleID, err := strconv.Atoi(args[3])
			if err != nil || sampleID <= 0 {
				return usageError(c, "invalid sample id %q", args[3])
			}
			e, ctx, cancel, err := setup(c, args[0], nil)
			if err != nil {
				return err
			}
			defer e.close()
			defer cancel()

			index, err := e.store.Table(ctx, args[1])
			if err != nil {
				return err
			}
			return projection.FindBySampleGenotype(ctx, index, studyID, sampleID, args[4], func(v keys.Variant) error {
				_, err := fmt.Fprintln(c.App.Writer, v.String())
				return err
			})
		},
	}
}
