// Package config holds the YAML configuration of a strata process.
//
// The configuration is organized into sections that map onto the storage
// packages:
//   - Storage: catalog root, append page size, commit durability
//   - Compression: codec algorithm and level, raw file retirement
//   - Locking: the lock variant guarding table metadata
//   - Scan: parallelism and cold-read behaviour
//   - Observability: logging, Prometheus and tracing
//
// Each section converts itself into the options of the package it
// configures, so callers never translate field by field:
//
//	cfg := config.NewDefaultConfig()
//	if err := config.Load("strata.yaml", cfg); err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//	opts, _ := cfg.TableOptions()
//	catalog, err := table.NewCatalog(cfg.Storage.Root, opts)
//
// Values of the form ${VAR} in the file are replaced with environment
// variables before parsing:
//
//	storage:
//	  root: ${STRATA_ROOT}
//	compression:
//	  enabled: true
//	  algorithm: zstd
//	  level: better
//
// The CLI layers flags and STRATA_* environment variables on top of the
// file through viper.
package config
