package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/Veraticus/ledgerline/internal/registry"
)

// State is the adapter's provider availability.
type State int32

// Adapter states.
const (
	StateUninitialized State = iota
	StateReady
	StateKeyInvalid
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateKeyInvalid:
		return "key-invalid"
	default:
		return "uninitialized"
	}
}

// Adapter builds prompts, calls the provider under a timeout and parses replies.
// Every failure it returns wraps common.ErrRemoteUnavailable.
type Adapter struct {
	provider Provider
	limiter  *rateLimiter
	logger   *slog.Logger
	cfg      Config
	state    atomic.Int32
}

// NewAdapter wraps a provider. A nil provider leaves the adapter
// uninitialized so every call fails fast.
func NewAdapter(cfg Config, provider Provider, logger *slog.Logger) *Adapter {
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.ChatTimeout <= 0 {
		cfg.ChatTimeout = defaults.ChatTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaults.RetryDelay
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	a := &Adapter{
		provider: provider,
		logger:   common.LoggerOrDefault(logger),
		cfg:      cfg,
	}
	if provider != nil {
		a.limiter = newRateLimiter(cfg.RateLimit)
		a.state.Store(int32(StateReady))
	}
	return a
}

// State returns the current provider availability.
func (a *Adapter) State() State {
	return State(a.state.Load())
}

// Available reports whether calls will reach the provider.
func (a *Adapter) Available() bool {
	return a.State() == StateReady
}

// Classify asks the provider for an account code. The returned result has
// source remote and has not been validated against the chart.
func (a *Adapter) Classify(ctx context.Context, txn model.Transaction, set *registry.AccountSet) (model.CategorizationResult, error) {
	reply, err := a.complete(ctx, a.cfg.Timeout, BuildPrompt(txn, set))
	if err != nil {
		return model.CategorizationResult{}, err
	}

	parsed, err := ParseReply(reply)
	if err != nil {
		a.logger.Warn("Unparseable remote reply",
			"error", err,
			"jurisdiction", set.Jurisdiction())
		return model.CategorizationResult{}, fmt.Errorf("%w: %w", common.ErrRemoteUnavailable, err)
	}

	result := model.CategorizationResult{
		AccountCode:      parsed.AccountCode,
		Confidence:       parsed.Confidence,
		Reasoning:        parsed.Reasoning,
		SuggestedKeyword: parsed.Keyword,
		Source:           model.SourceRemote,
		Jurisdiction:     set.Jurisdiction(),
	}
	if acct, ok := set.Get(parsed.AccountCode); ok {
		result.AccountName = acct.Name
	}

	a.logger.Debug("Remote classification",
		"account_code", result.AccountCode,
		"confidence", result.Confidence,
		"jurisdiction", result.Jurisdiction)

	return result, nil
}

// Ask sends a conversational question under the shorter chat timeout.
func (a *Adapter) Ask(ctx context.Context, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", fmt.Errorf("%w: question is empty", common.ErrInvalidRequest)
	}
	reply, err := a.complete(ctx, a.cfg.ChatTimeout, chatPrompt(question))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// Close releases the rate limiter.
func (a *Adapter) Close() {
	if a.limiter != nil {
		a.limiter.close()
	}
}

func (a *Adapter) complete(ctx context.Context, timeout time.Duration, prompt string) (string, error) {
	switch state := a.State(); state {
	case StateReady:
	case StateKeyInvalid:
		return "", fmt.Errorf("%w: %w", common.ErrRemoteUnavailable, common.ErrProviderKeyInvalid)
	default:
		return "", fmt.Errorf("%w: provider not configured", common.ErrRemoteUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reply string
	err := common.WithRetry(ctx, func() error {
		if err := a.limiter.wait(ctx); err != nil {
			return err
		}
		var callErr error
		reply, callErr = a.provider.Complete(ctx, prompt)
		return callErr
	}, common.RetryOptions{
		MaxAttempts:  a.cfg.MaxRetries + 1,
		InitialDelay: a.cfg.RetryDelay,
		MaxDelay:     timeout,
		Multiplier:   2.0,
	})
	if err != nil {
		if errors.Is(err, common.ErrProviderKeyInvalid) {
			a.state.Store(int32(StateKeyInvalid))
			a.logger.Error("Remote provider rejected the API key, disabling remote classification", "error", err)
		} else {
			a.logger.Warn("Remote call failed", "error", err, "timeout", timeout)
		}
		return "", fmt.Errorf("%w: %w", common.ErrRemoteUnavailable, err)
	}
	return reply, nil
}
