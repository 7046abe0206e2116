package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/strata/pkg/compression"
	"github.com/ajitpratap0/strata/pkg/rwlock"
	"github.com/ajitpratap0/strata/pkg/strataerrors"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, NewDefaultConfig().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"empty root", func(c *Config) { c.Storage.Root = "" }},
		{"zero page size", func(c *Config) { c.Storage.AppendPageSize = 0 }},
		{"scoreboard not power of two", func(c *Config) { c.Storage.ScoreboardEntries = 1000 }},
		{"unknown algorithm", func(c *Config) { c.Compression.Algorithm = "brotli" }},
		{"unknown level", func(c *Config) { c.Compression.Level = "max" }},
		{"negative compression workers", func(c *Config) { c.Compression.Workers = -1 }},
		{"unknown lock", func(c *Config) { c.Locking.Kind = "spin" }},
		{"negative scan workers", func(c *Config) { c.Scan.Workers = -2 }},
		{"bad encoding", func(c *Config) { c.Observability.LogEncoding = "xml" }},
		{"bad sample rate", func(c *Config) { c.Observability.TracingSampleRate = 1.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, strataerrors.IsType(err, strataerrors.ErrorTypeConfig), err.Error())
		})
	}
}

func TestLoadSubstitutesEnvironment(t *testing.T) {
	t.Setenv("STRATA_TEST_ROOT", "/data/strata")
	path := filepath.Join(t.TempDir(), "strata.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  root: ${STRATA_TEST_ROOT}
  sync_commit: false
compression:
  enabled: true
  algorithm: zstd
  level: better
locking:
  kind: xbiased
`), 0o600))

	cfg := NewDefaultConfig()
	require.NoError(t, Load(path, cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/data/strata", cfg.Storage.Root)
	assert.False(t, cfg.Storage.SyncCommit)
	// untouched fields keep their defaults
	assert.Equal(t, NewDefaultConfig().Storage.AppendPageSize, cfg.Storage.AppendPageSize)

	codec, err := cfg.Compression.CodecConfig()
	require.NoError(t, err)
	assert.Equal(t, &compression.Config{Algorithm: compression.Zstd, Level: compression.Better}, codec)

	opts, err := cfg.TableOptions()
	require.NoError(t, err)
	assert.Equal(t, rwlock.KindExchangeBiased, opts.LockKind)
	assert.False(t, opts.SyncCommit)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := NewDefaultConfig()
	cfg.Scan.ColdRead = true
	cfg.Compression.RemoveRaw = true
	require.NoError(t, Save(path, cfg))

	loaded := &Config{}
	require.NoError(t, Load(path, loaded))
	assert.Equal(t, cfg, loaded)
}

func TestLoadErrors(t *testing.T) {
	err := Load(filepath.Join(t.TempDir(), "missing.yaml"), NewDefaultConfig())
	assert.True(t, strataerrors.IsType(err, strataerrors.ErrorTypeConfig))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage: ["), 0o600))
	err = Load(path, NewDefaultConfig())
	assert.True(t, strataerrors.IsType(err, strataerrors.ErrorTypeConfig))
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("A", "x")
	t.Setenv("B", "y")
	assert.Equal(t, "x-y-", substituteEnvVars("${A}-${B}-${STRATA_UNSET_VAR}"))
	assert.Equal(t, "no vars", substituteEnvVars("no vars"))
	assert.Equal(t, "open ${A", substituteEnvVars("open ${A"))
}

func TestScanOptions(t *testing.T) {
	s := ScanConfig{Workers: 0, ColdRead: true}
	assert.Len(t, s.ScanOptions(), 4)
}
