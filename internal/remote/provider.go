// Package remote classifies transactions through an external text-completion
// provider when local matching is not confident enough.
package remote

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Provider sends a prompt to a completion service and returns its text reply.
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config holds provider and call policy settings.
type Config struct {
	Provider    string        `mapstructure:"provider"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	ChatTimeout time.Duration `mapstructure:"chat_timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	RateLimit   int           `mapstructure:"rate_limit"`
}

// DefaultConfig returns the standard remote call policy.
func DefaultConfig() Config {
	return Config{
		Provider:    "anthropic",
		Temperature: 0.1,
		MaxTokens:   300,
		Timeout:     30 * time.Second,
		ChatTimeout: 10 * time.Second,
		MaxRetries:  2,
		RetryDelay:  500 * time.Millisecond,
		RateLimit:   50,
	}
}

// NewProvider creates the provider named in cfg.
func NewProvider(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "anthropic", "":
		return newAnthropicProvider(cfg)
	case "openai":
		return newOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported remote provider: %s", cfg.Provider)
	}
}
