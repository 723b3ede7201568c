package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/engine"
	"github.com/Veraticus/ledgerline/internal/remote"
	"github.com/Veraticus/ledgerline/internal/storage"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. LEDGERLINE_REMOTE_MODEL.
const EnvPrefix = "LEDGERLINE"

// DefaultStoragePath is where rules and corrections live unless configured.
const DefaultStoragePath = "$HOME/.local/share/ledgerline/ledgerline.db"

// Config is the full application configuration.
type Config struct {
	Jurisdiction string        `mapstructure:"jurisdiction"`
	ChartsDir    string        `mapstructure:"charts_dir"`
	Logging      LoggingConfig `mapstructure:"logging"`
	Storage      StorageConfig `mapstructure:"storage"`
	Server       ServerConfig  `mapstructure:"server"`
	Remote       remote.Config `mapstructure:"remote"`
	Engine       engine.Config `mapstructure:"engine"`
	SeedDefaults bool          `mapstructure:"seed_defaults"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BodyLimit    int           `mapstructure:"body_limit"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Jurisdiction: "CA",
		SeedDefaults: true,
		Logging:      LoggingConfig{Level: "info", Format: "console"},
		Storage:      StorageConfig{Backend: storage.BackendSQLite, Path: DefaultStoragePath},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 60 * time.Second,
			BodyLimit:    4 * 1024 * 1024,
		},
		Remote: remote.DefaultConfig(),
		Engine: engine.DefaultConfig(),
	}
}

// SetDefaults registers every default with v so that environment variables
// can override keys that appear in no config file.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("jurisdiction", d.Jurisdiction)
	v.SetDefault("charts_dir", d.ChartsDir)
	v.SetDefault("seed_defaults", d.SeedDefaults)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.path", d.Storage.Path)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.body_limit", d.Server.BodyLimit)

	v.SetDefault("remote.provider", d.Remote.Provider)
	v.SetDefault("remote.api_key", d.Remote.APIKey)
	v.SetDefault("remote.model", d.Remote.Model)
	v.SetDefault("remote.base_url", d.Remote.BaseURL)
	v.SetDefault("remote.temperature", d.Remote.Temperature)
	v.SetDefault("remote.max_tokens", d.Remote.MaxTokens)
	v.SetDefault("remote.timeout", d.Remote.Timeout)
	v.SetDefault("remote.chat_timeout", d.Remote.ChatTimeout)
	v.SetDefault("remote.max_retries", d.Remote.MaxRetries)
	v.SetDefault("remote.retry_delay", d.Remote.RetryDelay)
	v.SetDefault("remote.rate_limit", d.Remote.RateLimit)

	v.SetDefault("engine.cascade.floors.exact", d.Engine.Cascade.Floors.Exact)
	v.SetDefault("engine.cascade.floors.keyword", d.Engine.Cascade.Floors.Keyword)
	v.SetDefault("engine.cascade.floors.learned", d.Engine.Cascade.Floors.Learned)
	v.SetDefault("engine.cascade.floors.fuzzy", d.Engine.Cascade.Floors.Fuzzy)
	v.SetDefault("engine.cascade.fuzzy_threshold", d.Engine.Cascade.FuzzyThreshold)
	v.SetDefault("engine.cascade.learned_confidence", d.Engine.Cascade.LearnedConfidence)
	v.SetDefault("engine.validate.fee_words", d.Engine.Validate.FeeWords)
	v.SetDefault("engine.validate.fuel_words", d.Engine.Validate.FuelWords)
	v.SetDefault("engine.validate.penalty", d.Engine.Validate.Penalty)
	v.SetDefault("engine.validate.min_confidence", d.Engine.Validate.MinConfidence)
	v.SetDefault("engine.cache_ttl", d.Engine.CacheTTL)
	v.SetDefault("engine.result_cache_size", d.Engine.ResultCacheSize)
	v.SetDefault("engine.pattern_cache_size", d.Engine.PatternCacheSize)
	v.SetDefault("engine.workers", d.Engine.Workers)
	v.SetDefault("engine.fallback_confidence", d.Engine.FallbackConfidence)
}

// BindEnv enables LEDGERLINE_* overrides for nested keys.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes, expands and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}

	cfg.Storage.Path = ExpandPath(cfg.Storage.Path)
	cfg.ChartsDir = ExpandPath(cfg.ChartsDir)
	cfg.Jurisdiction = strings.ToUpper(strings.TrimSpace(cfg.Jurisdiction))

	// Provider-specific environment variables fill in a missing key.
	if cfg.Remote.APIKey == "" {
		cfg.Remote.APIKey = providerKeyFromEnv(cfg.Remote.Provider)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func providerKeyFromEnv(provider string) string {
	switch strings.ToLower(provider) {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic", "":
		return os.Getenv("ANTHROPIC_API_KEY")
	default:
		return ""
	}
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.Jurisdiction != "", "jurisdiction is required")

	_, err := common.ParseLevel(c.Logging.Level)
	check(err == nil, "logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	check(c.Logging.Format == "console" || c.Logging.Format == "json",
		"logging.format %q is not console or json", c.Logging.Format)

	backend := strings.ToLower(c.Storage.Backend)
	check(backend == storage.BackendSQLite || backend == storage.BackendBolt,
		"storage.backend %q is not sqlite or bolt", c.Storage.Backend)
	check(c.Storage.Path != "", "storage.path is required")

	floors := c.Engine.Cascade.Floors
	for name, floor := range map[string]int{
		"exact": floors.Exact, "keyword": floors.Keyword, "learned": floors.Learned, "fuzzy": floors.Fuzzy,
	} {
		check(floor >= 0 && floor <= 100, "engine.cascade.floors.%s must be within 0-100, got %d", name, floor)
	}
	check(c.Engine.Cascade.FuzzyThreshold > 0 && c.Engine.Cascade.FuzzyThreshold <= 1,
		"engine.cascade.fuzzy_threshold must be within (0, 1], got %v", c.Engine.Cascade.FuzzyThreshold)
	check(c.Engine.Validate.Penalty >= 0, "engine.validate.penalty must not be negative")
	check(c.Engine.FallbackConfidence >= 0 && c.Engine.FallbackConfidence <= 100,
		"engine.fallback_confidence must be within 0-100")
	check(c.Engine.ResultCacheSize > 0, "engine.result_cache_size must be positive")
	check(c.Engine.PatternCacheSize > 0, "engine.pattern_cache_size must be positive")
	check(c.Engine.CacheTTL > 0, "engine.cache_ttl must be positive")
	check(c.Engine.Workers > 0, "engine.workers must be positive")

	check(c.Remote.Timeout > 0, "remote.timeout must be positive")
	check(c.Remote.MaxRetries >= 0, "remote.max_retries must not be negative")
	check(c.Remote.RateLimit > 0, "remote.rate_limit must be positive")

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", common.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
