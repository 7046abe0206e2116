package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/pkg/compression"
	"github.com/ajitpratap0/strata/pkg/config"
	"github.com/ajitpratap0/strata/pkg/logger"
	"github.com/ajitpratap0/strata/pkg/observability"
	"github.com/ajitpratap0/strata/pkg/table"
)

var version = "0.1.0"

// app carries what every subcommand needs once flags are parsed.
type app struct {
	v          *viper.Viper
	configFile string

	cfg     *config.Config
	log     *zap.Logger
	metrics *http.Server
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	a := &app{v: viper.New()}
	a.v.SetEnvPrefix("STRATA")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "strata",
		Short: "Strata - columnar time-series storage core",
		Long: `Strata stores tables as memory-mapped fixed-width column files, compresses
cold columns into checksummed artifacts and answers filtered sum scans in
parallel. The commands here drive its ingest, compression and lock workloads.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configFile, "config", "c", "", "Path to a YAML configuration file")
	pf.String("root", "", "Catalog directory (storage.root)")
	pf.String("lock", "", "Metadata lock kind: std, simple, biased, xbiased, tlbiased")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	pf.Bool("tracing", false, "Export spans to stdout")
	for key, flag := range map[string]string{
		"storage.root":                 "root",
		"locking.kind":                 "lock",
		"observability.log_level":      "log-level",
		"observability.metrics_addr":   "metrics-addr",
		"observability.enable_tracing": "tracing",
	} {
		_ = a.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Strata v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
	root.AddCommand(newTSBSCommand(a))
	root.AddCommand(newLockBenchCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// setup loads the configuration, applies environment and flag overrides and
// starts the logger, tracing and the metrics endpoint.
func (a *app) setup() error {
	cfg := config.NewDefaultConfig()
	if a.configFile != "" {
		if err := config.Load(a.configFile, cfg); err != nil {
			return err
		}
	}
	applyOverrides(a.v, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	if err := logger.Init(cfg.Observability.LoggerConfig()); err != nil {
		return err
	}
	a.log = logger.Get()

	if err := observability.Initialize(cfg.Observability.TracingConfig(version)); err != nil {
		return err
	}

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		a.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("metrics server failed", zap.String("addr", addr), zap.Error(err))
			}
		}()
		a.log.Info("serving metrics", zap.String("addr", addr))
	}
	return nil
}

func (a *app) teardown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if a.metrics != nil {
		errs = append(errs, a.metrics.Shutdown(ctx))
	}
	errs = append(errs, observability.Shutdown(ctx))
	_ = logger.Sync()
	return errors.Join(errs...)
}

// applyOverrides copies settings given as STRATA_* variables or flags over
// the file configuration.
func applyOverrides(v *viper.Viper, cfg *config.Config) {
	str := func(key string, dst *string) {
		if v.IsSet(key) && v.GetString(key) != "" {
			*dst = v.GetString(key)
		}
	}
	boolean := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}
	integer := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}

	str("storage.root", &cfg.Storage.Root)
	boolean("storage.sync_commit", &cfg.Storage.SyncCommit)
	str("locking.kind", &cfg.Locking.Kind)
	boolean("compression.enabled", &cfg.Compression.Enabled)
	str("compression.algorithm", &cfg.Compression.Algorithm)
	str("compression.level", &cfg.Compression.Level)
	boolean("compression.remove_raw", &cfg.Compression.RemoveRaw)
	integer("scan.workers", &cfg.Scan.Workers)
	boolean("scan.cold_read", &cfg.Scan.ColdRead)
	boolean("scan.prefer_compressed", &cfg.Scan.PreferCompressed)
	str("observability.log_level", &cfg.Observability.LogLevel)
	str("observability.log_encoding", &cfg.Observability.LogEncoding)
	str("observability.metrics_addr", &cfg.Observability.MetricsAddr)
	boolean("observability.enable_tracing", &cfg.Observability.EnableTracing)
}

// catalog opens the configured catalog.
func (a *app) catalog() (*table.Catalog, error) {
	opts, err := a.cfg.TableOptions()
	if err != nil {
		return nil, err
	}
	opts.Logger = a.log
	return table.NewCatalog(a.cfg.Storage.Root, opts)
}

// codec creates the configured codec.
func (a *app) codec() (*compression.Codec, error) {
	cc, err := a.cfg.Compression.CodecConfig()
	if err != nil {
		return nil, err
	}
	return compression.NewCodec(cc, a.log)
}
