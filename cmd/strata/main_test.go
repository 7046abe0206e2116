package main

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/strata/pkg/config"
)

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("STRATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func TestApplyOverridesFromEnv(t *testing.T) {
	t.Setenv("STRATA_STORAGE_ROOT", "/data/strata")
	t.Setenv("STRATA_LOCKING_KIND", "tlbiased")
	t.Setenv("STRATA_COMPRESSION_ENABLED", "true")
	t.Setenv("STRATA_SCAN_WORKERS", "3")

	cfg := config.NewDefaultConfig()
	applyOverrides(newViper(), cfg)

	assert.Equal(t, "/data/strata", cfg.Storage.Root)
	assert.Equal(t, "tlbiased", cfg.Locking.Kind)
	assert.True(t, cfg.Compression.Enabled)
	assert.Equal(t, 3, cfg.Scan.Workers)
	require.NoError(t, cfg.Validate())
}

func TestApplyOverridesKeepsFileValues(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Storage.Root = "/from/file"
	cfg.Storage.SyncCommit = false

	applyOverrides(newViper(), cfg)
	assert.Equal(t, "/from/file", cfg.Storage.Root)
	assert.False(t, cfg.Storage.SyncCommit)
}

func TestApplyOverridesInvalidKindFailsValidation(t *testing.T) {
	t.Setenv("STRATA_LOCKING_KIND", "spin")
	cfg := config.NewDefaultConfig()
	applyOverrides(newViper(), cfg)
	assert.Error(t, cfg.Validate())
}
