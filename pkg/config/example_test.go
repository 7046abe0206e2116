package config_test

import (
	"fmt"
	"log"

	"github.com/ajitpratap0/strata/pkg/config"
)

// ExampleNewDefaultConfig shows the defaults a process starts from.
func ExampleNewDefaultConfig() {
	cfg := config.NewDefaultConfig()

	fmt.Printf("Lock: %s\n", cfg.Locking.Kind)
	fmt.Printf("Codec: %s/%s\n", cfg.Compression.Algorithm, cfg.Compression.Level)
	fmt.Printf("Sync commit: %v\n", cfg.Storage.SyncCommit)

	// Output:
	// Lock: biased
	// Codec: lz4/default
	// Sync commit: true
}

// ExampleConfig_Validate shows how to validate a configuration before
// opening a catalog with it.
func ExampleConfig_Validate() {
	cfg := config.NewDefaultConfig()
	cfg.Locking.Kind = "tlbiased"
	cfg.Compression.Algorithm = "zstd"
	cfg.Compression.Level = "best"

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	opts, err := cfg.TableOptions()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(opts.LockKind)

	// Output:
	// tlbiased
}
