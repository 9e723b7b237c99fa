package driver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	genoerrors "github.com/genostore/genostore/internal/errors"
	"github.com/genostore/genostore/internal/keys"
	"github.com/genostore/genostore/internal/storage"
	"github.com/genostore/genostore/internal/store"
)

// ExportRecord is one index row in an export shard.
type ExportRecord struct {
	Chrom   string            `msgpack:"c"`
	Pos     int               `msgpack:"p"`
	Ref     string            `msgpack:"r"`
	Alt     string            `msgpack:"a"`
	Columns map[string][]byte `msgpack:"v"`
}

// Shard is one uploaded export file.
type Shard struct {
	Partition  int
	ObjectPath string
	Records    int
}

// ExportResult summarizes an export.
type ExportResult struct {
	RunID    string
	Shards   []Shard
	Records  int
	Duration time.Duration
}

// Exporter re-shards the index table into coordinate partitions.
type Exporter struct {
	index       *store.Table
	objects     storage.ObjectStorage
	partitioner *Partitioner
	workDir     string
	metrics     *Metrics
	logger      logrus.FieldLogger
}

// NewExporter creates an exporter writing n partitions of the GRCh38
// assembly to objects. Shards are staged in workDir.
func NewExporter(index *store.Table, objects storage.ObjectStorage, n int, workDir string,
	metrics *Metrics, logger logrus.FieldLogger) (*Exporter, error) {
	p, err := NewPartitioner(n, GRCh38)
	if err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Exporter{
		index:       index,
		objects:     objects,
		partitioner: p,
		workDir:     workDir,
		metrics:     metrics,
		logger:      logger,
	}, nil
}

type shardWriter struct {
	file    *os.File
	buf     *bufio.Writer
	snappy  *snappy.Writer
	enc     *msgpack.Encoder
	records int
}

func (w *shardWriter) close() error {
	if err := w.snappy.Close(); err != nil {
		w.file.Close()
		return err
	}
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// Export writes every index row to the shard of its partition and uploads
// the non-empty shards as {prefix}/part-NNNNN-{run}.msgpack.sz.
func (e *Exporter) Export(ctx context.Context, prefix string) (*ExportResult, error) {
	started := time.Now()
	runID := uuid.NewString()
	logger := e.logger.WithFields(logrus.Fields{"job": runID, "partitions": e.partitioner.Len()})

	dir, err := os.MkdirTemp(e.workDir, "export-")
	if err != nil {
		return nil, genoerrors.NewStoreError("driver: cannot create export directory", err)
	}
	defer os.RemoveAll(dir)

	counters := NewCounters("export", e.metrics)
	writers := make(map[int]*shardWriter)
	closeAll := func() {
		for _, w := range writers {
			w.file.Close()
		}
	}

	err = e.index.Scan(ctx, nil, nil, func(key []byte, cells store.Row) error {
		v, err := keys.DecodeVariantKey(key)
		if err != nil {
			return err
		}
		part := e.partitioner.Partition(v.Chrom, v.Pos)
		w, ok := writers[part]
		if !ok {
			if w, err = newShardWriter(filepath.Join(dir, fmt.Sprintf("part-%05d", part))); err != nil {
				return err
			}
			writers[part] = w
		}
		rec := ExportRecord{Chrom: v.Chrom, Pos: v.Pos, Ref: v.Ref, Alt: v.Alt, Columns: cells}
		if err := w.enc.Encode(&rec); err != nil {
			return genoerrors.NewStoreError("driver: cannot write export record", err)
		}
		w.records++
		counters.Add(CounterExportedRecords, 1)
		return nil
	})
	if err != nil {
		closeAll()
		return nil, err
	}

	result := &ExportResult{RunID: runID}
	for part := 0; part < e.partitioner.Len(); part++ {
		w, ok := writers[part]
		if !ok {
			continue
		}
		if err := w.close(); err != nil {
			closeAll()
			return nil, genoerrors.NewStoreError("driver: cannot finish export shard", err)
		}
		objectPath := path.Join(prefix, fmt.Sprintf("part-%05d-%s.msgpack.sz", part, runID))
		if err := e.objects.Upload(ctx, w.file.Name(), objectPath); err != nil {
			return nil, err
		}
		result.Shards = append(result.Shards, Shard{Partition: part, ObjectPath: objectPath, Records: w.records})
		result.Records += w.records
	}
	result.Duration = time.Since(started)
	logger.WithFields(logrus.Fields{
		"shards":   len(result.Shards),
		"records":  result.Records,
		"duration": result.Duration.String(),
	}).Info("driver: export finished")
	return result, nil
}

func newShardWriter(name string) (*shardWriter, error) {
	f, err := os.Create(name)
	if err != nil {
		return nil, genoerrors.NewStoreError("driver: cannot create export shard", err)
	}
	buf := bufio.NewWriter(f)
	sw := snappy.NewBufferedWriter(buf)
	return &shardWriter{file: f, buf: buf, snappy: sw, enc: msgpack.NewEncoder(sw)}, nil
}

// ReadShard decodes every record of an export shard.
func ReadShard(r io.Reader) ([]ExportRecord, error) {
	dec := msgpack.NewDecoder(snappy.NewReader(bufio.NewReader(r)))
	var out []ExportRecord
	for {
		var rec ExportRecord
		err := dec.Decode(&rec)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, genoerrors.NewCorruptSliceError("driver: bad export shard", err)
		}
		out = append(out, rec)
	}
}
