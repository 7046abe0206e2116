package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/internal/lockbench"
	"github.com/ajitpratap0/strata/pkg/logger"
	"github.com/ajitpratap0/strata/pkg/rwlock"
)

func newLockBenchCommand() *cobra.Command {
	cfg := lockbench.DefaultConfig()
	var kinds []string

	cmd := &cobra.Command{
		Use:   "lockbench",
		Short: "Compare the metadata lock variants under mixed read/write load",
		Long: `Run every selected lock kind at every read/write ratio. With ratio N one
operation in N takes the write lock on average.

Example:
  strata lockbench --ratios 1000,100000 --goroutines 16 --duration 2s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(kinds) > 0 {
				cfg.Kinds = cfg.Kinds[:0]
				for _, k := range kinds {
					kind, err := rwlock.ParseKind(k)
					if err != nil {
						return err
					}
					cfg.Kinds = append(cfg.Kinds, kind)
				}
			}

			ctx := context.WithValue(cmd.Context(), logger.OperationKey, "lockbench")
			start := time.Now()
			results, err := lockbench.Run(ctx, cfg)
			if err != nil {
				return err
			}
			logger.WithContext(ctx).Info("lock benchmark finished",
				zap.Int("runs", len(results)),
				zap.Duration("elapsed", time.Since(start)))
			return lockbench.WriteReport(os.Stdout, results)
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&kinds, "kinds", nil, "Lock kinds to run (default all)")
	f.IntSliceVar(&cfg.Ratios, "ratios", cfg.Ratios, "Read/write ratios")
	f.IntVar(&cfg.Goroutines, "goroutines", cfg.Goroutines, "Concurrent goroutines")
	f.DurationVar(&cfg.Duration, "duration", cfg.Duration, "Duration of each run")
	f.IntVar(&cfg.Spins, "spins", cfg.Spins, "Random numbers drawn while holding the lock")
	f.BoolVar(&cfg.Baseline, "baseline", cfg.Baseline, "Also run the work without a lock")
	return cmd
}
