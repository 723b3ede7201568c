// Package engine orchestrates transaction categorization: cache, local
// matching cascade, remote classification and validation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Veraticus/ledgerline/internal/cache"
	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/Veraticus/ledgerline/internal/pattern"
	"github.com/Veraticus/ledgerline/internal/registry"
	"github.com/Veraticus/ledgerline/internal/rules"
	"github.com/Veraticus/ledgerline/internal/validate"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// RemoteClassifier is the remote classification adapter as seen by the engine.
type RemoteClassifier interface {
	Classify(ctx context.Context, txn model.Transaction, set *registry.AccountSet) (model.CategorizationResult, error)
	Available() bool
}

// Config holds engine policy.
type Config struct {
	Cascade            pattern.Config  `mapstructure:"cascade"`
	Validate           validate.Config `mapstructure:"validate"`
	CacheTTL           time.Duration   `mapstructure:"cache_ttl"`
	ResultCacheSize    int             `mapstructure:"result_cache_size"`
	PatternCacheSize   int             `mapstructure:"pattern_cache_size"`
	Workers            int             `mapstructure:"workers"`
	FallbackConfidence int             `mapstructure:"fallback_confidence"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Cascade:            pattern.DefaultConfig(),
		Validate:           validate.DefaultConfig(),
		CacheTTL:           cache.DefaultTTL,
		ResultCacheSize:    cache.DefaultResultCapacity,
		PatternCacheSize:   cache.DefaultPatternCapacity,
		Workers:            4,
		FallbackConfidence: 10,
	}
}

// Request is one classification request.
type Request struct {
	Date         time.Time       `json:"date,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Description  string          `json:"description"`
	Jurisdiction string          `json:"jurisdiction,omitempty"`
	User         string          `json:"user,omitempty"`
	ForceRemote  bool            `json:"force_remote,omitempty"`
	BypassCache  bool            `json:"bypass_cache,omitempty"`
	LocalOnly    bool            `json:"local_only,omitempty"`
}

// cachedResult remembers which rule store version produced a result so
// rule changes make it stale.
type cachedResult struct {
	result       model.CategorizationResult
	rulesVersion uint64
}

// Engine classifies transactions. It is safe for concurrent use.
type Engine struct {
	registry  *registry.Registry
	rules     *rules.Store
	cascade   *pattern.Cascade
	remote    RemoteClassifier
	corrector *validate.Corrector
	results   *cache.LRU[cachedResult]
	patterns  *cache.LRU[pattern.Outcome]
	logger    *slog.Logger
	group     singleflight.Group
	cfg       Config

	remoteCalls    atomic.Uint64
	remoteFailures atomic.Uint64
	corrections    atomic.Uint64
}

// New wires an engine. remote may be nil for local-only operation.
func New(reg *registry.Registry, store *rules.Store, remote RemoteClassifier, cfg Config, logger *slog.Logger) (*Engine, error) {
	logger = common.LoggerOrDefault(logger)

	patterns, err := pattern.DefaultSystemPatterns()
	if err != nil {
		return nil, err
	}
	detector, err := pattern.NewDetector(patterns)
	if err != nil {
		return nil, fmt.Errorf("failed to compile system patterns: %w", err)
	}

	results, err := cache.New[cachedResult](cfg.ResultCacheSize, cfg.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}
	patternCache, err := cache.New[pattern.Outcome](cfg.PatternCacheSize, cfg.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern cache: %w", err)
	}

	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	return &Engine{
		registry:  reg,
		rules:     store,
		cascade:   pattern.NewCascade(detector, store, cfg.Cascade, logger),
		remote:    remote,
		corrector: validate.NewCorrector(cfg.Validate, logger),
		results:   results,
		patterns:  patternCache,
		logger:    logger,
		cfg:       cfg,
	}, nil
}

// Registry returns the account registry the engine classifies against.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Rules returns the engine's rule store.
func (e *Engine) Rules() *rules.Store { return e.rules }

// ParseAmount parses a signed decimal amount, rejecting anything non-numeric.
func ParseAmount(raw string) (decimal.Decimal, error) {
	cleaned := strings.NewReplacer(",", "", "$", "", " ", "").Replace(strings.TrimSpace(raw))
	if cleaned == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: amount is required", common.ErrInvalidRequest)
	}
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: amount %q is not a number", common.ErrInvalidRequest, raw)
	}
	return amount, nil
}

// Classify returns a categorization for one transaction. Only structurally
// invalid requests return an error; every other failure degrades to a
// lower-confidence result.
func (e *Engine) Classify(ctx context.Context, req Request) (model.CategorizationResult, error) {
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return model.CategorizationResult{}, fmt.Errorf("%w: description is required", common.ErrInvalidRequest)
	}

	set, err := e.registry.Load(ctx, req.Jurisdiction)
	if err != nil {
		if !errors.Is(err, common.ErrUnknownJurisdiction) || set == nil {
			return model.CategorizationResult{}, fmt.Errorf("failed to load accounts: %w", err)
		}
		e.logger.Warn("Unknown jurisdiction", "error", err, "jurisdiction", set.Jurisdiction())
	}

	txn := model.Transaction{
		Date:        req.Date,
		Amount:      req.Amount,
		Description: description,
	}
	key := e.cacheKey(req, set)

	if !req.ForceRemote && !req.BypassCache {
		if cached, ok := e.results.Get(key); ok && cached.rulesVersion == e.rules.Version() {
			return cached.result, nil
		}
	}

	flightKey := fmt.Sprintf("%s|%t|%t|%t", key, req.ForceRemote, req.BypassCache, req.LocalOnly)
	v, err, _ := e.group.Do(flightKey, func() (any, error) {
		version := e.rules.Version()
		if !req.ForceRemote && !req.BypassCache {
			// A flight for this key may have finished between our read and Do.
			if cached, ok := e.results.Get(key); ok && cached.rulesVersion == version {
				return cached.result, nil
			}
		}
		result := e.classify(ctx, txn, set, req)
		e.results.Set(key, cachedResult{result: result, rulesVersion: version})
		return result, nil
	})
	if err != nil {
		return model.CategorizationResult{}, err
	}
	return v.(model.CategorizationResult), nil
}

func (e *Engine) classify(ctx context.Context, txn model.Transaction, set *registry.AccountSet, req Request) model.CategorizationResult {
	var candidate model.CategorizationResult

	if req.ForceRemote {
		remoteResult, err := e.callRemote(ctx, txn, set)
		if err != nil {
			return e.finish(e.localResult(txn, set), txn, set)
		}
		candidate = remoteResult
	} else {
		outcome := e.runCascade(txn, set)
		switch {
		case outcome.Matched:
			candidate = outcome.Result
		case req.LocalOnly || e.remote == nil || !e.remote.Available():
			candidate = e.bestOrFallback(outcome, txn, set)
		default:
			remoteResult, err := e.callRemote(ctx, txn, set)
			if err != nil {
				candidate = e.bestOrFallback(outcome, txn, set)
			} else {
				candidate = remoteResult
			}
		}
	}

	return e.finish(candidate, txn, set)
}

// finish validates a candidate. A code missing from the chart, or a result
// the corrector cannot make sign-consistent, discards the candidate and
// reruns local matching only.
func (e *Engine) finish(candidate model.CategorizationResult, txn model.Transaction, set *registry.AccountSet) model.CategorizationResult {
	result, state, err := e.corrector.Check(candidate, txn, set)
	if err != nil {
		e.logger.Warn("Discarding unusable result",
			"error", err,
			"source", candidate.Source,
			"jurisdiction", set.Jurisdiction())

		local := e.localResult(txn, set)
		result, state, err = e.corrector.Check(local, txn, set)
		if err != nil {
			// Local results only carry chart codes; this guards a broken chart.
			result = e.fallback(txn, set)
			state = validate.StateValid
		}
	}

	result.Jurisdiction = set.Jurisdiction()
	e.logger.Debug("Classified transaction",
		"source", result.Source,
		"account_code", result.AccountCode,
		"confidence", result.Confidence,
		"state", state,
		"jurisdiction", result.Jurisdiction)
	return result
}

func (e *Engine) callRemote(ctx context.Context, txn model.Transaction, set *registry.AccountSet) (model.CategorizationResult, error) {
	if e.remote == nil {
		return model.CategorizationResult{}, fmt.Errorf("%w: no remote classifier", common.ErrRemoteUnavailable)
	}
	e.remoteCalls.Add(1)
	result, err := e.remote.Classify(ctx, txn, set)
	if err != nil {
		e.remoteFailures.Add(1)
		e.logger.Warn("Remote classification unavailable, using local result",
			"error", err,
			"jurisdiction", set.Jurisdiction())
		return model.CategorizationResult{}, err
	}
	return result, nil
}

// runCascade runs local matching through the pattern cache. The key carries
// the rule store version so rule changes never serve stale outcomes.
func (e *Engine) runCascade(txn model.Transaction, set *registry.AccountSet) pattern.Outcome {
	key := fmt.Sprintf("%s\x1f%s\x1f%s\x1f%d",
		common.Normalize(txn.Description), set.Jurisdiction(), txn.Direction(), e.rules.Version())
	if outcome, ok := e.patterns.Get(key); ok {
		return outcome
	}
	outcome := e.cascade.Run(txn, set)
	e.patterns.Set(key, outcome)
	return outcome
}

// localResult is the cascade answer, its best sub-floor candidate, or the fallback.
func (e *Engine) localResult(txn model.Transaction, set *registry.AccountSet) model.CategorizationResult {
	outcome := e.runCascade(txn, set)
	if outcome.Matched {
		return outcome.Result
	}
	return e.bestOrFallback(outcome, txn, set)
}

func (e *Engine) bestOrFallback(outcome pattern.Outcome, txn model.Transaction, set *registry.AccountSet) model.CategorizationResult {
	if outcome.HasBest {
		return outcome.Best
	}
	return e.fallback(txn, set)
}

// fallback is the neutral low-confidence default for a transaction's direction.
func (e *Engine) fallback(txn model.Transaction, set *registry.AccountSet) model.CategorizationResult {
	role := registry.RoleTransfer
	switch txn.Direction() {
	case model.DirectionOutflow:
		role = registry.RoleGeneralExpense
	case model.DirectionInflow:
		role = registry.RoleOtherRevenue
	}

	acct, _ := set.Role(role)
	return model.CategorizationResult{
		AccountCode:  acct.Code,
		AccountName:  acct.Name,
		Confidence:   model.ClampConfidence(e.cfg.FallbackConfidence),
		Reasoning:    fmt.Sprintf("No confident match; defaulted to %s", acct.Name),
		Source:       model.SourceFallback,
		Jurisdiction: set.Jurisdiction(),
	}
}

func (e *Engine) cacheKey(req Request, set *registry.AccountSet) string {
	return cache.Fingerprint(cache.FingerprintInput{
		Date:         req.Date,
		Amount:       req.Amount,
		Description:  req.Description,
		Jurisdiction: set.Jurisdiction(),
		User:         req.User,
	})
}
