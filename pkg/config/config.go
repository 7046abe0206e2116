package config

import (
	"runtime"

	"github.com/ajitpratap0/strata/pkg/column"
	"github.com/ajitpratap0/strata/pkg/compression"
	"github.com/ajitpratap0/strata/pkg/logger"
	"github.com/ajitpratap0/strata/pkg/observability"
	"github.com/ajitpratap0/strata/pkg/rwlock"
	"github.com/ajitpratap0/strata/pkg/scan"
	"github.com/ajitpratap0/strata/pkg/strataerrors"
	"github.com/ajitpratap0/strata/pkg/table"
	"github.com/ajitpratap0/strata/pkg/txn"
)

// Config is the configuration of a strata process. It is organized into
// sections that map onto the storage packages.
type Config struct {
	// Storage controls where tables live and how writers persist them
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Compression selects the codec used for cold columns
	Compression CompressionConfig `yaml:"compression" json:"compression"`

	// Locking selects the lock guarding table metadata
	Locking LockingConfig `yaml:"locking" json:"locking"`

	// Scan tunes aggregate scans
	Scan ScanConfig `yaml:"scan" json:"scan"`

	// Observability configures logging, metrics and tracing
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// StorageConfig contains catalog and writer settings.
type StorageConfig struct {
	// Root is the catalog directory
	Root string `yaml:"root" json:"root"`
	// AppendPageSize is the step by which column files grow while a writer
	// is open, in bytes
	AppendPageSize int64 `yaml:"append_page_size" json:"append_page_size"`
	// SyncCommit waits for msync on every commit
	SyncCommit bool `yaml:"sync_commit" json:"sync_commit"`
	// ScoreboardEntries bounds how many txns scans may pin at once (power of two)
	ScoreboardEntries int `yaml:"scoreboard_entries" json:"scoreboard_entries"`
}

// CompressionConfig contains codec settings.
type CompressionConfig struct {
	// Enabled compresses columns after ingest
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Algorithm is one of none, lz4, zstd, s2, snappy, gzip, deflate
	Algorithm string `yaml:"algorithm" json:"algorithm"`
	// Level is one of fastest, default, better, best
	Level string `yaml:"level" json:"level"`
	// RemoveRaw deletes raw column files once their artifacts are verified
	RemoveRaw bool `yaml:"remove_raw" json:"remove_raw"`
	// Workers bounds how many columns are compressed at once (0 = GOMAXPROCS)
	Workers int `yaml:"workers" json:"workers"`
}

// LockingConfig selects the metadata lock.
type LockingConfig struct {
	// Kind is one of std, simple, biased, xbiased, tlbiased
	Kind string `yaml:"kind" json:"kind"`
}

// ScanConfig contains scan settings.
type ScanConfig struct {
	// Workers is the number of row ranges folded in parallel
	Workers int `yaml:"workers" json:"workers"`
	// ColdRead evicts the page cache of source files before each scan
	ColdRead bool `yaml:"cold_read" json:"cold_read"`
	// SequentialAdvice sets madvise(MADV_SEQUENTIAL) on raw column mappings
	SequentialAdvice bool `yaml:"sequential_advice" json:"sequential_advice"`
	// PreferCompressed reads artifacts even when raw files are present
	PreferCompressed bool `yaml:"prefer_compressed" json:"prefer_compressed"`
}

// ObservabilityConfig contains logging, metrics and tracing settings.
type ObservabilityConfig struct {
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogEncoding is json or console
	LogEncoding string `yaml:"log_encoding" json:"log_encoding"`
	// MetricsAddr serves Prometheus metrics on this address when set
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	// EnableTracing exports spans to stdout
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing"`
	// TracingSampleRate controls trace sampling (0.0-1.0)
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
	// ServiceName is reported as the OpenTelemetry service name
	ServiceName string `yaml:"service_name" json:"service_name"`
}

// NewDefaultConfig returns a configuration with defaults that suit a
// single-node benchmark run.
func NewDefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Root:              "/tmp/strata",
			AppendPageSize:    column.DefaultAppendPageSize,
			SyncCommit:        true,
			ScoreboardEntries: txn.DefaultEntries,
		},
		Compression: CompressionConfig{
			Enabled:   false,
			Algorithm: string(compression.LZ4),
			Level:     compression.Default.String(),
			RemoveRaw: false,
		},
		Locking: LockingConfig{
			Kind: string(rwlock.KindBiased),
		},
		Scan: ScanConfig{
			Workers: runtime.NumCPU(),
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogEncoding:       "console",
			TracingSampleRate: 1.0,
			ServiceName:       "strata",
		},
	}
}

func invalid(format string, args ...interface{}) error {
	return strataerrors.Newf(strataerrors.ErrorTypeConfig, format, args...)
}

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	if c.Storage.Root == "" {
		return invalid("storage.root is required")
	}
	if c.Storage.AppendPageSize <= 0 {
		return invalid("storage.append_page_size must be positive")
	}
	if n := c.Storage.ScoreboardEntries; n <= 0 || n&(n-1) != 0 {
		return invalid("storage.scoreboard_entries must be a positive power of two, got %d", n)
	}
	if _, err := c.Compression.CodecConfig(); err != nil {
		return err
	}
	if c.Compression.Workers < 0 {
		return invalid("compression.workers cannot be negative")
	}
	if _, err := rwlock.ParseKind(c.Locking.Kind); err != nil {
		return err
	}
	if c.Scan.Workers < 0 {
		return invalid("scan.workers cannot be negative")
	}
	switch c.Observability.LogEncoding {
	case "json", "console":
	default:
		return invalid("observability.log_encoding must be json or console, got %q", c.Observability.LogEncoding)
	}
	if r := c.Observability.TracingSampleRate; r < 0 || r > 1 {
		return invalid("observability.tracing_sample_rate must be within [0, 1], got %v", r)
	}
	return nil
}

// CodecConfig converts the section into a codec configuration.
func (c *CompressionConfig) CodecConfig() (*compression.Config, error) {
	alg, err := compression.ParseAlgorithm(c.Algorithm)
	if err != nil {
		return nil, strataerrors.Wrap(err, strataerrors.ErrorTypeConfig, "invalid compression.algorithm")
	}
	level, err := compression.ParseLevel(c.Level)
	if err != nil {
		return nil, strataerrors.Wrap(err, strataerrors.ErrorTypeConfig, "invalid compression.level")
	}
	return &compression.Config{Algorithm: alg, Level: level}, nil
}

// CompressOptions converts the section into table compression options.
func (c *CompressionConfig) CompressOptions() table.CompressOptions {
	return table.CompressOptions{RemoveRaw: c.RemoveRaw, Workers: c.Workers}
}

// TableOptions converts the storage and locking sections into catalog
// options.
func (c *Config) TableOptions() (table.Options, error) {
	kind, err := rwlock.ParseKind(c.Locking.Kind)
	if err != nil {
		return table.Options{}, err
	}
	return table.Options{
		LockKind:          kind,
		AppendPageSize:    c.Storage.AppendPageSize,
		SyncCommit:        c.Storage.SyncCommit,
		ScoreboardEntries: c.Storage.ScoreboardEntries,
	}, nil
}

// ScanOptions converts the scan section into aggregator options.
func (s *ScanConfig) ScanOptions() []scan.Option {
	workers := s.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return []scan.Option{
		scan.WithWorkers(workers),
		scan.WithColdRead(s.ColdRead),
		scan.WithAdvice(s.SequentialAdvice),
		scan.PreferCompressed(s.PreferCompressed),
	}
}

// LoggerConfig converts the section into a logger configuration.
func (o *ObservabilityConfig) LoggerConfig() logger.Config {
	return logger.Config{
		Level:    o.LogLevel,
		Encoding: o.LogEncoding,
	}
}

// TracingConfig converts the section into a tracing configuration.
func (o *ObservabilityConfig) TracingConfig(version string) observability.Config {
	cfg := observability.DefaultConfig()
	cfg.Tracing.Enabled = o.EnableTracing
	cfg.Tracing.ServiceName = o.ServiceName
	cfg.Tracing.ServiceVersion = version
	cfg.Tracing.SamplingRate = o.TracingSampleRate
	cfg.Tracing.Exporter = observability.ExporterStdout
	return cfg
}
