package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/genostore/genostore/internal/archive"
	"github.com/genostore/genostore/internal/config"
	"github.com/genostore/genostore/internal/driver"
	"github.com/genostore/genostore/internal/keys"
	"github.com/genostore/genostore/internal/ledger"
	"github.com/genostore/genostore/internal/logging"
	"github.com/genostore/genostore/internal/server"
	"github.com/genostore/genostore/internal/storage"
	"github.com/genostore/genostore/internal/store"
)

// env is what every command runs with.
type env struct {
	cfg      *config.Config
	logger   *logrus.Logger
	shutdown *server.ShutdownManager
	metrics  *driver.Metrics
	store    *store.Store
	ledger   *ledger.Ledger
}

// setup builds the configuration from file, environment, global flags and
// the trailing key/value options, then opens the store and the ledger at
// endpoint.
func setup(c *cli.Context, endpoint string, options []string) (*env, context.Context, context.CancelFunc, error) {
	cfg := config.DefaultConfig()
	if path := c.String("config"); path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, nil, nil, err
		}
		cfg = loaded
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, nil, nil, err
	}
	if v := c.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := c.String("log-format"); v != "" {
		cfg.Log.Format = v
	}
	if err := config.ApplyOptions(cfg, options); err != nil {
		return nil, nil, nil, err
	}
	if endpoint != "" {
		cfg.Store.Endpoint = endpoint
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, nil, err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, nil, err
	}
	sm := server.NewShutdownManager(server.ShutdownConfig{Logger: logger})
	e := &env{cfg: cfg, logger: logger, shutdown: sm}

	reg := prometheus.NewRegistry()
	e.metrics = driver.NewMetrics(reg)
	if cfg.Metrics.Addr != "" {
		sm.ServeMetrics(cfg.Metrics.Addr, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	s, err := store.Open(cfg.Store.Endpoint)
	if err != nil {
		e.close()
		return nil, nil, nil, err
	}
	sm.RegisterCloser(s)
	e.store = s

	l, err := ledger.Open(cfg.Store.Endpoint, ledger.Options{LockTimeout: cfg.Driver.LockTimeout, Logger: logger})
	if err != nil {
		e.close()
		return nil, nil, nil, err
	}
	sm.RegisterCloser(l)
	e.ledger = l

	ctx, cancel := sm.JobContext(c.Context)
	return e, ctx, cancel, nil
}

func (e *env) close() {
	if err := e.shutdown.Shutdown(context.Background(), "command finished"); err != nil {
		e.logger.WithError(err).Warn("genostore: shutdown failed")
	}
}

func (e *env) objects(ctx context.Context) (storage.ObjectStorage, error) {
	return storage.Open(ctx, e.cfg.StorageLocation(), e.cfg.Storage.S3)
}

func (e *env) archiveTable(ctx context.Context, name string) (*archive.Table, error) {
	t, err := e.store.Table(ctx, name)
	if err != nil {
		return nil, err
	}
	return archive.NewTable(t, keys.BucketSize(e.cfg.Archive.ChunkSize)), nil
}

func (e *env) runner(ctx context.Context, archiveName, indexName string) (*driver.Runner, error) {
	a, err := e.archiveTable(ctx, archiveName)
	if err != nil {
		return nil, err
	}
	index, err := e.store.Table(ctx, indexName)
	if err != nil {
		return nil, err
	}
	d := e.cfg.Driver
	r := driver.NewRunner(e.ledger, a, index, driver.Options{
		Workers:             d.Workers,
		TaskRetries:         d.TaskRetries,
		JobTimeout:          d.JobTimeout,
		PollInterval:        d.PollInterval,
		SplitsPerChromosome: d.SplitsPerChromosome,
		Resume:              d.Resume,
		Lenient:             d.Lenient,
	}, e.metrics, e.logger)
	r.SetTracker(e.shutdown)
	return r, nil
}

func usageError(c *cli.Context, format string, args ...interface{}) error {
	return cli.Exit(fmt.Sprintf("%s: %s\nusage: genostore %s %s", c.Command.Name,
		fmt.Sprintf(format, args...), c.Command.Name, c.Command.ArgsUsage), 2)
}

func parseStudyID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid study id %q", s)
	}
	return id, nil
}

// parseFileIDs parses a comma separated list of file IDs.
func parseFileIDs(s string) ([]int, error) {
	var ids []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid file id %q", part)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no file ids in %q", s)
	}
	return ids, nil
}

func sortedCounters(counters map[string]int64) []string {
	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func studyCommand() *cli.Command {
	return &cli.Command{
		Name:      "study",
		Usage:     "create study metadata",
		ArgsUsage: "<store-endpoint> <studyId> <name>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 3 {
				return usageError(c, "expected 3 arguments, got %d", c.NArg())
			}
			studyID, err := parseStudyID(c.Args().Get(1))
			if err != nil {
				return usageError(c, "%v", err)
			}
			e, ctx, cancel, err := setup(c, c.Args().Get(0), nil)
			if err != nil {
				return err
			}
			defer e.close()
			defer cancel()

			if err := e.ledger.CreateStudy(ctx, studyID, c.Args().Get(2)); err != nil {
				return err
			}
			e.logger.WithFields(logrus.Fields{"study": studyID, "name": c.Args().Get(2)}).Info("genostore: study created")
			return nil
		},
	}
}

func archiveCommand() *cli.Command {
	return &cli.Command{
		Name:      "archive",
		Usage:     "import transformed files into an archive table and register their samples",
		ArgsUsage: "<store-endpoint> <archive-table> <studyId> <object-path>...",
		Action: func(c *cli.Context) error {
			if c.NArg() < 4 {
				return usageError(c, "expected at least 4 arguments, got %d", c.NArg())
			}
			args := c.Args().Slice()
			studyID, err := parseStudyID(args[2])
			if err != nil {
				return usageError(c, "%v", err)
			}
			e, ctx, cancel, err := setup(c, args[0], nil)
			if err != nil {
				return err
			}
			defer e.close()
			defer cancel()

			objects, err := e.objects(ctx)
			if err != nil {
				return err
			}
			table, err := e.archiveTable(ctx, args[1])
			if err != nil {
				return err
			}
			im := archive.NewImporter(table, objects, e.cfg.Archive.WorkDir, e.cfg.Archive.Concurrency, e.logger)
			results, importErr := im.Import(ctx, args[3:])

			err = e.ledger.LockAndUpdate(ctx, studyID, func(tx *ledger.Tx, _ *ledger.StudyMetadata) error {
				for _, res := range results {
					ids, err := tx.RegisterFile(res.Header.FileID, res.Header.FileName, res.Header.SampleNames)
					if err != nil {
						return err
					}
					e.logger.WithFields(logrus.Fields{
						"study":   studyID,
						"file":    res.Header.FileID,
						"samples": ids,
						"slices":  res.Slices,
					}).Info("genostore: file archived")
				}
				return nil
			})
			if err != nil {
				return err
			}
			return importErr
		},
	}
}

func jobCommand(name, usage string, run func(context.Context, *driver.Runner, int, []int) (*driver.Report, error)) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<store-endpoint> <archive-table> <index-table> <studyId> <fileIds> [<key> <value>]...",
		Action: func(c *cli.Context) error {
			if c.NArg() < 5 {
				return usageError(c, "expected at least 5 arguments, got %d", c.NArg())
			}
			args := c.Args().Slice()
			studyID, err := parseStudyID(args[3])
			if err != nil {
				return usageError(c, "%v", err)
			}
			fileIDs, err := parseFileIDs(args[4])
			if err != nil {
				return usageError(c, "%v", err)
			}
			e, ctx, cancel, err := setup(c, args[0], args[5:])
			if err != nil {
				return err
			}
			defer e.close()
			defer cancel()

			r, err := e.runner(ctx, args[1], args[2])
			if err != nil {
				return err
			}
			report, err := run(ctx, r, studyID, fileIDs)
			if err != nil {
				return err
			}
			for _, counter := range sortedCounters(report.Counters) {
				fmt.Fprintf(c.App.Writer, "%s\t%d\n", counter, report.Counters[counter])
			}
			return nil
		},
	}
}

func loadCommand() *cli.Command {
	return jobCommand("load", "merge the samples of archived files into the study index",
		func(ctx context.Context, r *driver.Runner, studyID int, files []int) (*driver.Report, error) {
			return r.Load(ctx, studyID, files)
		})
}

func deleteCommand() *cli.Command {
	return jobCommand("delete", "remove the samples of loaded files from the study index and the archive",
		func(ctx context.Context, r *driver.Runner, studyID int, files []int) (*driver.Report, error) {
			return r.Delete(ctx, studyID, files)
		})
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "write the index table to object storage in coordinate partitions",
		ArgsUsage: "<store-endpoint> <index-table> <partitions> <prefix>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 4 {
				return usageError(c, "expected 4 arguments, got %d", c.NArg())
			}
			args := c.Args().Slice()
			partitions, err := strconv.Atoi(args[2])
			if err != nil || partitions <= 0 {
				return usageError(c, "invalid partition count %q", args[2])
			}
			e, ctx, cancel, err := setup(c, args[0], nil)
			if err != nil {
				return err
			}
			defer e.close()
			defer cancel()

			objects, err := e.objects(ctx)
			if err != nil {
				return err
			}
			index, err := e.store.Table(ctx, args[1])
			if err != nil {
				return err
			}
			ex, err := driver.NewExporter(index, objects, partitions, e.cfg.Archive.WorkDir, e.metrics, e.logger)
			if err != nil {
				return err
			}
			result, err := ex.Export(ctx, args[3])
			if err != nil {
				return err
			}
			for _, s := range result.Shards {
				fmt.Fprintf(c.App.Writer, "%s\t%d\n", s.ObjectPath, s.Records)
			}
			return nil
		},
	}
}
