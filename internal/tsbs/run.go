package tsbs

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/pkg/compression"
	"github.com/ajitpratap0/strata/pkg/logger"
	"github.com/ajitpratap0/strata/pkg/performance"
	"github.com/ajitpratap0/strata/pkg/scan"
	"github.com/ajitpratap0/strata/pkg/strataerrors"
	"github.com/ajitpratap0/strata/pkg/table"
)

// RunOptions selects the layout and the machinery a run uses.
type RunOptions struct {
	Catalog *table.Catalog
	// Codec is required when Compress is set.
	Codec    *compression.Codec
	Compress bool
	// CompressOptions applies when Compress is set; Columns is ignored.
	CompressOptions table.CompressOptions
	// SubPartition stores only the filtered symbol's rows.
	SubPartition bool
	ScanOptions  []scan.Option
	// Profiler records the phases; a nil profiler creates one.
	Profiler *performance.Profiler
	// Table defaults to "tsbs".
	Table string
	// Logger defaults to the global logger with the table and partition
	// taken from the context.
	Logger *zap.Logger
}

// Report is the outcome of a run.
type Report struct {
	Table     string
	Written   Stats
	Result    scan.Aggregate
	Artifacts []compression.Artifact
	Phases    []performance.Phase
}

// Run drops and recreates the table, loads the data set, optionally
// compresses it, runs the filter query and checks the answer against what
// was written.
func Run(ctx context.Context, cfg Config, opts RunOptions) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Catalog == nil {
		return nil, strataerrors.New(strataerrors.ErrorTypeValidation, "catalog is required")
	}
	if opts.Compress && opts.Codec == nil {
		return nil, strataerrors.New(strataerrors.ErrorTypeValidation, "compression requested without a codec")
	}
	name := opts.Table
	if name == "" {
		name = "tsbs"
	}
	prof := opts.Profiler
	if prof == nil {
		prof = performance.NewProfiler("tsbs")
	}
	ctx = context.WithValue(ctx, logger.TableKey, name)

	if err := opts.Catalog.Drop(name); err != nil && !strataerrors.IsType(err, strataerrors.ErrorTypeNotFound) {
		return nil, err
	}
	cols := Columns()
	if opts.SubPartition {
		cols = SubPartitionColumns()
	}
	tbl, err := opts.Catalog.Create(name, cols)
	if err != nil {
		return nil, err
	}
	ctx = context.WithValue(ctx, logger.PartitionKey, filepath.Base(tbl.PartitionDir()))
	log := opts.Logger
	if log == nil {
		log = logger.WithContext(ctx).Named("tsbs")
	} else {
		log = log.With(zap.String("table", name))
	}

	report := &Report{Table: name}
	if _, err := prof.Measure("write", func() (int64, int64, error) {
		w, err := tbl.NewWriter()
		if err != nil {
			return 0, 0, err
		}
		defer w.Close()
		if opts.SubPartition {
			report.Written, err = WriteSubPartition(ctx, w, cfg)
		} else {
			report.Written, err = Write(ctx, w, cfg)
		}
		return report.Written.Rows, report.Written.Bytes(cols), err
	}); err != nil {
		return nil, err
	}

	if opts.Compress {
		if _, err := prof.Measure("compress", func() (int64, int64, error) {
			copts := opts.CompressOptions
			copts.Columns = nil
			report.Artifacts, err = tbl.Compress(ctx, opts.Codec, copts)
			return report.Written.Rows, report.Written.Bytes(cols), err
		}); err != nil {
			return nil, err
		}
	}

	scanOpts := append([]scan.Option{scan.WithLogger(log)}, opts.ScanOptions...)
	if opts.Compress {
		scanOpts = append(scanOpts, scan.PreferCompressed(true))
	}
	agg, err := scan.NewAggregator(tbl, opts.Codec, scanOpts...)
	if err != nil {
		return nil, err
	}
	defer agg.Close()

	req := Request(cfg)
	if opts.SubPartition {
		req = SubPartitionRequest()
	}
	if _, err := prof.Measure("scan", func() (int64, int64, error) {
		report.Result, err = agg.Scan(ctx, req)
		return report.Result.Scanned, report.Result.Scanned * 8 * int64(len(req.Columns)), err
	}); err != nil {
		return nil, err
	}
	report.Phases = prof.Phases()

	if report.Result.Sum != report.Written.Sum || report.Result.Matched != report.Written.Matching {
		return report, strataerrors.Newf(strataerrors.ErrorTypeState,
			"scan of %s returned sum %d over %d rows, expected %d over %d",
			name, report.Result.Sum, report.Result.Matched, report.Written.Sum, report.Written.Matching)
	}
	log.Info("tsbs run verified",
		zap.Int64("rows", report.Written.Rows),
		zap.Int64("matched", report.Result.Matched),
		zap.Int64("sum", report.Result.Sum),
		zap.Bool("compressed", opts.Compress),
		zap.Bool("sub_partition", opts.SubPartition))
	return report, nil
}
