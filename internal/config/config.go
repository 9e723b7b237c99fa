// Package config provides unified configuration for the genostore jobs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	genoerrors "github.com/genostore/genostore/internal/errors"
	"github.com/genostore/genostore/internal/storage"
)

// EnvPrefix is the prefix of every environment variable read by LoadFromEnv.
const EnvPrefix = "GENOSTORE"

// Config holds the configuration shared by all genostore commands.
type Config struct {
	// DataDir is the base directory for local state
	DataDir string `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir" split_words:"true"`

	// Store configuration
	Store StoreConfig `json:"store" yaml:"store" mapstructure:"store"`

	// Archive table configuration
	Archive ArchiveConfig `json:"archive" yaml:"archive" mapstructure:"archive"`

	// Driver configuration
	Driver DriverConfig `json:"driver" yaml:"driver" mapstructure:"driver"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage" mapstructure:"storage"`

	// Log configuration
	Log LogConfig `json:"log" yaml:"log" mapstructure:"log"`

	// Metrics configuration
	Metrics MetricsConfig `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
}

// StoreConfig holds the wide-column store configuration.
type StoreConfig struct {
	// Endpoint is the SQLite file backing the tables and the ledger
	Endpoint string `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
}

// ArchiveConfig holds the raw slice archive configuration.
type ArchiveConfig struct {
	// ChunkSize is the bucket width in base pairs
	ChunkSize int `json:"chunk_size" yaml:"chunk_size" mapstructure:"chunk_size" split_words:"true"`

	// WorkDir is the directory transformed files are downloaded to
	WorkDir string `json:"work_dir" yaml:"work_dir" mapstructure:"work_dir" split_words:"true"`

	// Concurrency is the number of parallel transformed file imports
	Concurrency int `json:"concurrency" yaml:"concurrency" mapstructure:"concurrency"`
}

// DriverConfig holds batch job configuration.
type DriverConfig struct {
	// Workers is the number of tasks run in parallel
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`

	// TaskRetries is the number of retries of a task failing with a retryable error
	TaskRetries int `json:"task_retries" yaml:"task_retries" mapstructure:"task_retries" split_words:"true"`

	// JobTimeout bounds the whole job
	JobTimeout time.Duration `json:"job_timeout" yaml:"job_timeout" mapstructure:"job_timeout" split_words:"true"`

	// PollInterval is the interval between progress reports
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval" mapstructure:"poll_interval" split_words:"true"`

	// LockTimeout bounds the wait for the study lock
	LockTimeout time.Duration `json:"lock_timeout" yaml:"lock_timeout" mapstructure:"lock_timeout" split_words:"true"`

	// Resume allows restarting a batch whose operation is still RUNNING
	Resume bool `json:"resume" yaml:"resume" mapstructure:"resume"`

	// Lenient downgrades row inconsistencies to warnings
	Lenient bool `json:"lenient" yaml:"lenient" mapstructure:"lenient"`

	// SplitsPerChromosome is the number of coordinate splits per chromosome
	SplitsPerChromosome int `json:"splits_per_chromosome" yaml:"splits_per_chromosome" mapstructure:"splits_per_chromosome" split_words:"true"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type" mapstructure:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path" mapstructure:"path"`

	// Bucket is the S3 bucket name (for s3 type)
	Bucket string `json:"bucket" yaml:"bucket" mapstructure:"bucket"`

	// S3 client configuration (for s3 type)
	S3 storage.S3Config `json:"s3" yaml:"s3" mapstructure:"s3"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	// Level is a logrus level name
	Level string `json:"level" yaml:"level" mapstructure:"level"`

	// Format is text or json
	Format string `json:"format" yaml:"format" mapstructure:"format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Addr is the listen address of the metrics endpoint; empty disables it
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"`
}

// DefaultConfig returns the default configuration for local runs.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/genostore",
		Archive: ArchiveConfig{
			ChunkSize:   1000,
			Concurrency: 4,
		},
		Driver: DriverConfig{
			Workers:             4,
			TaskRetries:         3,
			JobTimeout:          time.Hour,
			PollInterval:        10 * time.Second,
			LockTimeout:         time.Minute,
			SplitsPerChromosome: 4,
		},
		Storage: StorageConfig{
			Type: "local",
			S3:   storage.DefaultS3Config(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/genostore"
	}
	if c.Store.Endpoint == "" {
		c.Store.Endpoint = filepath.Join(c.DataDir, "genostore.db")
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "objects")
	}
	if c.Archive.WorkDir == "" {
		c.Archive.WorkDir = filepath.Join(c.DataDir, "work")
	}
}

// StorageLocation returns the object storage location understood by
// storage.Open.
func (c *Config) StorageLocation() string {
	if c.Storage.Type == "s3" {
		return "s3://" + c.Storage.Bucket
	}
	return c.Storage.Path
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return invalid("data_dir is required")
	}
	if c.Archive.ChunkSize <= 0 {
		return invalid(fmt.Sprintf("archive.chunk_size must be positive, got %d", c.Archive.ChunkSize))
	}
	if c.Archive.Concurrency <= 0 {
		return invalid(fmt.Sprintf("archive.concurrency must be positive, got %d", c.Archive.Concurrency))
	}
	if c.Driver.Workers <= 0 {
		return invalid(fmt.Sprintf("driver.workers must be positive, got %d", c.Driver.Workers))
	}
	if c.Driver.TaskRetries < 0 {
		return invalid(fmt.Sprintf("driver.task_retries must not be negative, got %d", c.Driver.TaskRetries))
	}
	if c.Driver.JobTimeout <= 0 || c.Driver.PollInterval <= 0 || c.Driver.LockTimeout <= 0 {
		return invalid("driver timeouts and intervals must be positive")
	}
	if c.Driver.SplitsPerChromosome <= 0 {
		return invalid(fmt.Sprintf("driver.splits_per_chromosome must be positive, got %d", c.Driver.SplitsPerChromosome))
	}
	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return invalid(fmt.Sprintf("invalid storage type: %s (must be local or s3)", c.Storage.Type))
	}
	if c.Storage.Type == "s3" && c.Storage.Bucket == "" {
		return invalid("storage.bucket is required when storage type is s3")
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return invalid(fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}
	return nil
}

func invalid(msg string) error {
	return genoerrors.NewValidationError(genoerrors.CodeInvalidConfig, "config: "+msg)
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse JSON config: %w", err)
		}
	default:
		return nil, invalid(fmt.Sprintf("unsupported config file format: %s", ext))
	}

	return cfg, nil
}

// LoadFromEnv overlays GENOSTORE_* environment variables onto cfg, for
// example GENOSTORE_DRIVER_WORKERS or GENOSTORE_ARCHIVE_CHUNK_SIZE.
func LoadFromEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return invalid(err.Error())
	}
	return nil
}

// optionKeys maps job option keys to their config paths.
var optionKeys = map[string]string{
	"chunk_size":                 "archive.chunk_size",
	"opencga.archive.chunk_size": "archive.chunk_size",
	"workers":                    "driver.workers",
	"task_retries":               "driver.task_retries",
	"job_timeout":                "driver.job_timeout",
	"poll_interval":              "driver.poll_interval",
	"lock_timeout":               "driver.lock_timeout",
	"resume":                     "driver.resume",
	"lenient":                    "driver.lenient",
	"splits_per_chromosome":      "driver.splits_per_chromosome",
	"log_level":                  "log.level",
}

// ApplyOptions decodes the trailing "<key> <value>" pairs of a job command
// line onto cfg. Values are weakly typed: "true", "8" and "90s" decode into
// bool, int and duration fields.
func ApplyOptions(cfg *Config, args []string) error {
	if len(args)%2 != 0 {
		return invalid(fmt.Sprintf("options must be key value pairs, got %d arguments", len(args)))
	}
	tree := make(map[string]interface{})
	for i := 0; i < len(args); i += 2 {
		path, ok := optionKeys[args[i]]
		if !ok {
			return invalid(fmt.Sprintf("unknown option %q", args[i]))
		}
		section, field, _ := strings.Cut(path, ".")
		sub, _ := tree[section].(map[string]interface{})
		if sub == nil {
			sub = make(map[string]interface{})
			tree[section] = sub
		}
		sub[field] = args[i+1]
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(mapstructure.StringToTimeDurationHookFunc(), emptyBoolHook),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cfg,
	})
	if err != nil {
		return fmt.Errorf("config: failed to build decoder: %w", err)
	}
	if err := dec.Decode(tree); err != nil {
		return invalid(err.Error())
	}
	return nil
}

// emptyBoolHook lets a bare flag-like value such as "resume yes" decode.
func emptyBoolHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Bool {
		return data, nil
	}
	switch strings.ToLower(data.(string)) {
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	}
	return data, nil
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.Archive.WorkDir,
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}
	if c.Store.Endpoint != "" {
		dirs = append(dirs, filepath.Dir(c.Store.Endpoint))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("config: failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
