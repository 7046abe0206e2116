package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/internal/tsbs"
	"github.com/ajitpratap0/strata/pkg/compression"
	"github.com/ajitpratap0/strata/pkg/logger"
	"github.com/ajitpratap0/strata/pkg/performance"
)

func newTSBSCommand(a *app) *cobra.Command {
	cfg := tsbs.DefaultConfig()
	var (
		tableName    string
		subPartition bool
		compress     bool
	)

	cmd := &cobra.Command{
		Use:   "tsbs",
		Short: "Load the TSBS data set and run the filtered sum scan",
		Long: `Create a table, append generated rows, optionally compress the columns and
sum both long columns over the rows of one symbol. The scan result is checked
against the sum computed while writing.

Example:
  strata tsbs --rows 10000000 --compress
  strata tsbs --rows 10000000 --sub-partition --compress`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("compress") {
				a.cfg.Compression.Enabled = compress
			}
			c, err := a.catalog()
			if err != nil {
				return err
			}

			var codec *compression.Codec
			if a.cfg.Compression.Enabled {
				if codec, err = a.codec(); err != nil {
					return err
				}
			}

			ctx := context.WithValue(cmd.Context(), logger.OperationKey, "tsbs")
			prof := performance.NewProfiler("tsbs")
			report, err := tsbs.Run(ctx, cfg, tsbs.RunOptions{
				Catalog:         c,
				Codec:           codec,
				Compress:        a.cfg.Compression.Enabled,
				CompressOptions: a.cfg.Compression.CompressOptions(),
				SubPartition:    subPartition,
				ScanOptions:     a.cfg.Scan.ScanOptions(),
				Profiler:        prof,
				Table:           tableName,
			})
			if err != nil {
				return err
			}

			fmt.Printf("table %s: %d rows written, %d matched, sum %d\n",
				report.Table, report.Written.Rows, report.Result.Matched, report.Result.Sum)
			for _, art := range report.Artifacts {
				fmt.Printf("  %s: %s %.2fx\n", art.Path, art.Algorithm, art.Ratio())
			}
			logger.WithContext(ctx).Debug("tsbs phases", zap.Int("phases", len(report.Phases)))
			return prof.WriteReport(os.Stdout)
		},
	}

	f := cmd.Flags()
	f.Int64Var(&cfg.Rows, "rows", cfg.Rows, "Number of generated rows")
	f.Int32Var(&cfg.DistinctSymbols, "symbols", cfg.DistinctSymbols, "Number of distinct symbols")
	f.Int32Var(&cfg.FilteredSymbol, "filtered", cfg.FilteredSymbol, "Symbol selected by the scan")
	f.Int64Var(&cfg.LongUpperBound, "upper-bound", cfg.LongUpperBound, "Upper bound of the cycling long values")
	f.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "Generator seed")
	f.StringVar(&tableName, "table", "tsbs", "Table name; an existing table is dropped")
	f.BoolVar(&subPartition, "sub-partition", false, "Store only the rows of the filtered symbol")
	f.BoolVar(&compress, "compress", false, "Compress the columns before scanning (compression.enabled)")
	return cmd
}
