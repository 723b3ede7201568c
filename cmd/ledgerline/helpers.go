package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Veraticus/ledgerline/internal/config"
	"github.com/Veraticus/ledgerline/internal/engine"
	"github.com/Veraticus/ledgerline/internal/registry"
	"github.com/Veraticus/ledgerline/internal/remote"
	"github.com/Veraticus/ledgerline/internal/rules"
	"github.com/Veraticus/ledgerline/internal/storage"
	"github.com/spf13/viper"
)

// runtime bundles everything a command needs to classify transactions.
type runtime struct {
	store  storage.Storage
	remote *remote.Adapter
	engine *engine.Engine
	logger *slog.Logger
	cfg    config.Config
}

// loadConfig decodes and validates the global viper configuration.
func loadConfig() (config.Config, error) {
	return config.Load(viper.GetViper())
}

// initStorage opens and migrates the configured rule database.
func initStorage(ctx context.Context, cfg config.Config) (storage.Storage, error) {
	store, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Storage.Backend, err)
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// newRuntime wires registry, persistence, rules, remote adapter and engine.
func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := slog.Default()

	reg := registry.New(ctx, registry.EmbeddedSource{Dir: cfg.ChartsDir}, cfg.Jurisdiction, logger)
	if err := reg.Wait(ctx); err != nil {
		return nil, err
	}

	db, err := initStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ruleStore := rules.NewStore(
		rules.WithPersister(db),
		rules.WithLogger(logger),
		rules.WithCodeValidator(func(jurisdiction, code string) bool {
			set, err := reg.Load(ctx, jurisdiction)
			return err == nil && set.Exists(code)
		}),
	)
	if cfg.SeedDefaults {
		jurisdictions, err := reg.Jurisdictions(ctx)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if _, err := ruleStore.SeedDefaults(jurisdictions...); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	// Persisted records override seeded builtins, including tombstones.
	if err := ruleStore.Load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	var provider remote.Provider
	if cfg.Remote.APIKey != "" {
		provider, err = remote.NewProvider(cfg.Remote)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create %s provider: %w", cfg.Remote.Provider, err)
		}
	} else {
		logger.Debug("No remote API key configured, classifying locally only")
	}
	adapter := remote.NewAdapter(cfg.Remote, provider, logger)

	eng, err := engine.New(reg, ruleStore, adapter, cfg.Engine, logger)
	if err != nil {
		adapter.Close()
		_ = db.Close()
		return nil, err
	}

	return &runtime{
		cfg:    cfg,
		store:  db,
		remote: adapter,
		engine: eng,
		logger: logger,
	}, nil
}

// Close releases the database and the remote adapter.
func (r *runtime) Close() {
	r.remote.Close()
	if err := r.store.Close(); err != nil {
		r.logger.Error("Failed to close database", "error", err)
	}
}
