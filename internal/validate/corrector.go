// Package validate checks classification results against the chart of
// accounts and the transaction sign, correcting results that disagree.
package validate

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/Veraticus/ledgerline/internal/registry"
)

// State is the validation outcome.
type State string

// Validation states.
const (
	StateValid     State = "VALID"
	StateCorrected State = "CORRECTED"
)

// Config tunes corrections.
type Config struct {
	FeeWords      []string `mapstructure:"fee_words"`
	FuelWords     []string `mapstructure:"fuel_words"`
	Penalty       int      `mapstructure:"penalty"`
	MinConfidence int      `mapstructure:"min_confidence"`
}

// DefaultConfig returns the standard correction policy.
func DefaultConfig() Config {
	return Config{
		Penalty:       20,
		MinConfidence: 10,
		FeeWords:      []string{"FEE", "CHARGE", "SERVICE", "INTEREST", "NSF", "OVERDRAFT", "PENALTY"},
		FuelWords:     []string{"GAS", "FUEL", "PETRO", "ESSO", "SHELL", "CHEVRON", "EXXON", "PARKING"},
	}
}

// Corrector validates results and replaces sign-inconsistent account codes.
type Corrector struct {
	logger    *slog.Logger
	feeWords  []string
	fuelWords []string
	cfg       Config
}

// NewCorrector creates a corrector.
func NewCorrector(cfg Config, logger *slog.Logger) *Corrector {
	return &Corrector{
		logger:    common.LoggerOrDefault(logger),
		feeWords:  normalizeWords(cfg.FeeWords),
		fuelWords: normalizeWords(cfg.FuelWords),
		cfg:       cfg,
	}
}

// Check validates result for txn in set. A code missing from the chart
// returns common.ErrInvalidAccountCode and no result. A sign mismatch
// returns a new, corrected result; the input is never modified. If the chart
// offers no sign-consistent replacement, Check returns common.ErrSignMismatch
// rather than a result that contradicts the transaction.
func (c *Corrector) Check(result model.CategorizationResult, txn model.Transaction, set *registry.AccountSet) (model.CategorizationResult, State, error) {
	acct, ok := set.Get(result.AccountCode)
	if !ok {
		return model.CategorizationResult{}, "", fmt.Errorf("%w: %q is not in the %s chart",
			common.ErrInvalidAccountCode, result.AccountCode, set.Jurisdiction())
	}

	result.AccountCode = acct.Code
	result.AccountName = acct.Name
	result.Jurisdiction = set.Jurisdiction()

	direction := txn.Direction()
	if acct.Type.Allows(direction) {
		return result, StateValid, nil
	}

	mismatch := fmt.Errorf("%w: %s account %s for %s", common.ErrSignMismatch, acct.Type.Label(), acct.Code, direction)

	replacement, role, ok := c.replacement(txn, set)
	if !ok {
		return model.CategorizationResult{}, "", mismatch
	}

	corrected := result
	corrected.AccountCode = replacement.Code
	corrected.AccountName = replacement.Name
	corrected.Confidence = c.penalize(result.Confidence)
	corrected.Source = result.Source.Corrected()
	corrected.Reasoning = strings.TrimSpace(fmt.Sprintf("%s [corrected from %s %s: %s cannot be booked to a %s account]",
		result.Reasoning, acct.Code, acct.Name, direction, acct.Type.Label()))

	c.logger.Info("Corrected sign mismatch",
		"from", acct.Code,
		"to", replacement.Code,
		"role", role,
		"source", corrected.Source,
		"confidence", corrected.Confidence,
		"jurisdiction", set.Jurisdiction())

	return corrected, StateCorrected, nil
}

// replacement finds a sign-consistent account, trying the role picked from
// the description, then the transfer role.
func (c *Corrector) replacement(txn model.Transaction, set *registry.AccountSet) (model.Account, registry.Role, bool) {
	direction := txn.Direction()
	for _, role := range []registry.Role{c.replacementRole(txn), registry.RoleTransfer} {
		if acct, ok := set.Role(role); ok && acct.Type.Allows(direction) {
			return acct, role, true
		}
	}
	return model.Account{}, "", false
}

// replacementRole picks a sign-consistent role from the description.
func (c *Corrector) replacementRole(txn model.Transaction) registry.Role {
	if txn.IsInflow() {
		return registry.RoleSalesRevenue
	}
	words := common.Tokens(common.Normalize(txn.Description))
	switch {
	case containsAny(words, c.feeWords):
		return registry.RoleBankFees
	case containsAny(words, c.fuelWords):
		return registry.RoleVehicleExpense
	default:
		return registry.RoleGeneralExpense
	}
}

func (c *Corrector) penalize(confidence int) int {
	adjusted := confidence - c.cfg.Penalty
	if adjusted < c.cfg.MinConfidence {
		adjusted = c.cfg.MinConfidence
	}
	return model.ClampConfidence(adjusted)
}

// containsAny reports whether any description word starts with a listed word,
// so "FEES" and "PETROCAN" still count.
func containsAny(words, list []string) bool {
	for _, w := range words {
		for _, candidate := range list {
			if strings.HasPrefix(w, candidate) {
				return true
			}
		}
	}
	return false
}

func normalizeWords(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if n := common.Normalize(w); n != "" {
			out = append(out, n)
		}
	}
	return out
}
