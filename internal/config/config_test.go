package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	t.Setenv("ANTHROPIC_API_KEY", "")

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "CA", cfg.Jurisdiction)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "/home/tester/.local/share/ledgerline/ledgerline.db", cfg.Storage.Path)
	assert.Equal(t, 80, cfg.Engine.Cascade.Floors.Exact)
	assert.InDelta(t, 0.82, cfg.Engine.Cascade.FuzzyThreshold, 1e-9)
	assert.Equal(t, 20, cfg.Engine.Validate.Penalty)
	assert.Equal(t, 30*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, "anthropic", cfg.Remote.Provider)
	assert.Empty(t, cfg.Remote.APIKey)
	assert.True(t, cfg.SeedDefaults)
}

func TestLoad_FileOverrides(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
jurisdiction: us
storage:
  backend: bolt
  path: /tmp/ledgerline.bolt
remote:
  provider: openai
  timeout: 5s
engine:
  workers: 8
  cache_ttl: 10m
  cascade:
    fuzzy_threshold: 0.9
    floors:
      keyword: 75
  validate:
    fee_words: [FEE, LEVY]
`)))

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "US", cfg.Jurisdiction)
	assert.Equal(t, "bolt", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/ledgerline.bolt", cfg.Storage.Path)
	assert.Equal(t, "openai", cfg.Remote.Provider)
	assert.Equal(t, 5*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, 10*time.Minute, cfg.Engine.CacheTTL)
	assert.InDelta(t, 0.9, cfg.Engine.Cascade.FuzzyThreshold, 1e-9)
	assert.Equal(t, 75, cfg.Engine.Cascade.Floors.Keyword)
	assert.Equal(t, 80, cfg.Engine.Cascade.Floors.Exact, "untouched keys keep defaults")
	assert.Equal(t, []string{"FEE", "LEVY"}, cfg.Engine.Validate.FeeWords)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("LEDGERLINE_REMOTE_MODEL", "claude-test")
	t.Setenv("LEDGERLINE_ENGINE_WORKERS", "2")
	t.Setenv("ANTHROPIC_API_KEY", "sk-from-env")

	v := viper.New()
	BindEnv(v)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "claude-test", cfg.Remote.Model)
	assert.Equal(t, 2, cfg.Engine.Workers)
	assert.Equal(t, "sk-from-env", cfg.Remote.APIKey)
}

func TestLoad_ConfiguredKeyWinsOverProviderEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")

	v := viper.New()
	v.Set("remote.provider", "openai")
	v.Set("remote.api_key", "sk-config")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "sk-config", cfg.Remote.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		mutate func(*Config)
		name   string
		want   string
	}{
		{name: "bad backend", mutate: func(c *Config) { c.Storage.Backend = "postgres" }, want: "storage.backend"},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, want: "logging.level"},
		{name: "bad log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, want: "logging.format"},
		{name: "floor above 100", mutate: func(c *Config) { c.Engine.Cascade.Floors.Fuzzy = 120 }, want: "floors.fuzzy"},
		{name: "zero threshold", mutate: func(c *Config) { c.Engine.Cascade.FuzzyThreshold = 0 }, want: "fuzzy_threshold"},
		{name: "no workers", mutate: func(c *Config) { c.Engine.Workers = 0 }, want: "engine.workers"},
		{name: "no timeout", mutate: func(c *Config) { c.Remote.Timeout = 0 }, want: "remote.timeout"},
		{name: "empty jurisdiction", mutate: func(c *Config) { c.Jurisdiction = "" }, want: "jurisdiction"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestExpandPath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	t.Setenv("LEDGER_DIR", "/data")

	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "~", want: "/home/tester"},
		{in: "~/rules.db", want: filepath.Join("/home/tester", "rules.db")},
		{in: "$LEDGER_DIR/rules.db", want: "/data/rules.db"},
		{in: "/abs/path", want: "/abs/path"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandPath(tt.in))
		})
	}
}
