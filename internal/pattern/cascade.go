package pattern

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/Veraticus/ledgerline/internal/registry"
	"github.com/Veraticus/ledgerline/internal/rules"
)

// Floors are the minimum confidences at which each stage's result is accepted.
type Floors struct {
	Exact   int `mapstructure:"exact"`
	Keyword int `mapstructure:"keyword"`
	Learned int `mapstructure:"learned"`
	Fuzzy   int `mapstructure:"fuzzy"`
}

// Config tunes the cascade.
type Config struct {
	Floors            Floors  `mapstructure:"floors"`
	FuzzyThreshold    float64 `mapstructure:"fuzzy_threshold"`
	LearnedConfidence int     `mapstructure:"learned_confidence"`
}

// DefaultConfig returns the standard cascade policy.
func DefaultConfig() Config {
	return Config{
		Floors: Floors{
			Exact:   80,
			Keyword: 70,
			Learned: 60,
			Fuzzy:   70,
		},
		FuzzyThreshold:    0.82,
		LearnedConfidence: 95,
	}
}

// RuleSource is the part of the rule store the cascade reads.
type RuleSource interface {
	FindExact(text, jurisdiction string) (*rules.Match, bool)
	FindMatch(text, jurisdiction string) (*rules.Match, bool)
	FindCorrection(text, jurisdiction string) (model.Correction, bool)
	Merchants(jurisdiction string) []model.Rule
}

// Outcome is the result of one cascade run. Best holds the strongest
// candidate that fell below its stage floor, for use when nothing else works.
type Outcome struct {
	Result  model.CategorizationResult
	Best    model.CategorizationResult
	Matched bool
	HasBest bool
}

// Cascade runs the local matching stages in strict priority order.
type Cascade struct {
	detector *Detector
	rules    RuleSource
	fuzzy    *FuzzyMatcher
	logger   *slog.Logger
	cfg      Config
}

// NewCascade wires a cascade over a detector and a rule source.
func NewCascade(detector *Detector, src RuleSource, cfg Config, logger *slog.Logger) *Cascade {
	return &Cascade{
		detector: detector,
		rules:    src,
		fuzzy:    NewFuzzyMatcher(cfg.FuzzyThreshold),
		logger:   common.LoggerOrDefault(logger),
		cfg:      cfg,
	}
}

type stage struct {
	run   func(model.Transaction, *registry.AccountSet) []model.CategorizationResult
	name  string
	floor int
}

// Run classifies a transaction locally. It stops at the first stage that
// produces a result at or above that stage's floor. Learned corrections are
// checked before merchant and keyword rules so user feedback overrides them;
// system patterns still come first.
func (c *Cascade) Run(txn model.Transaction, set *registry.AccountSet) Outcome {
	stages := []stage{
		{name: "system", floor: c.cfg.Floors.Exact, run: c.system},
		{name: "learned", floor: c.cfg.Floors.Learned, run: c.learned},
		{name: "merchant", floor: c.cfg.Floors.Exact, run: c.merchant},
		{name: "keyword", floor: c.cfg.Floors.Keyword, run: c.keyword},
		{name: "fuzzy", floor: c.cfg.Floors.Fuzzy, run: c.fuzzyMatch},
	}

	var out Outcome
	for _, st := range stages {
		for _, candidate := range st.run(txn, set) {
			if candidate.Confidence >= st.floor {
				out.Result = candidate
				out.Matched = true
				c.logger.Debug("Local match",
					"stage", st.name,
					"account_code", candidate.AccountCode,
					"confidence", candidate.Confidence)
				return out
			}
			if !out.HasBest || candidate.Confidence > out.Best.Confidence {
				out.Best = candidate
				out.HasBest = true
			}
		}
	}
	return out
}

func (c *Cascade) system(txn model.Transaction, set *registry.AccountSet) []model.CategorizationResult {
	if c.detector == nil {
		return nil
	}

	var candidates []model.CategorizationResult
	for _, hit := range c.detector.Detect(txn.Description) {
		acct, ok := set.Role(hit.Pattern.Role)
		if !ok {
			continue
		}
		candidates = append(candidates, model.CategorizationResult{
			AccountCode: acct.Code,
			AccountName: acct.Name,
			Confidence:  hit.Pattern.Confidence,
			Reasoning:   fmt.Sprintf("%q matches the %s pattern", hit.Text, hit.Pattern.Name),
			Source:      model.SourceExactRule,
		})
	}
	return candidates
}

func (c *Cascade) merchant(txn model.Transaction, set *registry.AccountSet) []model.CategorizationResult {
	m, ok := c.rules.FindExact(txn.Description, set.Jurisdiction())
	if !ok {
		return nil
	}
	r, valid := c.fromRule(m.Rule, m.Confidence, set)
	if !valid {
		return nil
	}
	r.Reasoning = fmt.Sprintf("Merchant %q has an exact rule for %s", m.Keyword, r.AccountName)
	r.SuggestedKeyword = m.Keyword
	r.Source = model.SourceExactRule
	return []model.CategorizationResult{r}
}

func (c *Cascade) keyword(txn model.Transaction, set *registry.AccountSet) []model.CategorizationResult {
	m, ok := c.rules.FindMatch(txn.Description, set.Jurisdiction())
	if !ok {
		return nil
	}
	r, valid := c.fromRule(m.Rule, m.Confidence, set)
	if !valid {
		return nil
	}
	r.Reasoning = fmt.Sprintf("Description contains %q", m.Keyword)
	if m.Rule.Note != "" {
		r.Reasoning += " (" + m.Rule.Note + ")"
	}
	r.SuggestedKeyword = m.Keyword
	r.Source = model.SourceKeywordRule
	return []model.CategorizationResult{r}
}

func (c *Cascade) learned(txn model.Transaction, set *registry.AccountSet) []model.CategorizationResult {
	corr, ok := c.rules.FindCorrection(txn.Description, set.Jurisdiction())
	if !ok {
		return nil
	}
	acct, exists := set.Get(corr.AccountCode)
	if !exists {
		c.logger.Warn("Learned correction points at unknown account",
			"pattern", corr.Pattern,
			"account_code", corr.AccountCode,
			"jurisdiction", set.Jurisdiction())
		return nil
	}
	reasoning := fmt.Sprintf("Previously corrected to %s for %q", acct.Name, corr.Pattern)
	if corr.Note != "" {
		reasoning += " (" + corr.Note + ")"
	}
	return []model.CategorizationResult{{
		AccountCode:      acct.Code,
		AccountName:      acct.Name,
		Confidence:       model.ClampConfidence(c.cfg.LearnedConfidence),
		Reasoning:        reasoning,
		SuggestedKeyword: corr.Pattern,
		Source:           model.SourceLearned,
	}}
}

func (c *Cascade) fuzzyMatch(txn model.Transaction, set *registry.AccountSet) []model.CategorizationResult {
	m, ok := c.fuzzy.Best(txn.Description, c.rules.Merchants(set.Jurisdiction()))
	if !ok {
		return nil
	}
	confidence := int(math.Round(m.Similarity * float64(m.Rule.Confidence)))
	r, valid := c.fromRule(m.Rule, confidence, set)
	if !valid {
		return nil
	}
	r.Reasoning = fmt.Sprintf("%q resembles merchant %q (similarity %.2f)", m.Window, m.Rule.Keywords[0], m.Similarity)
	r.SuggestedKeyword = m.Rule.Keywords[0]
	r.Source = model.SourceFuzzy
	return []model.CategorizationResult{r}
}

// fromRule builds a result for a rule, skipping rules whose code is not in the chart.
func (c *Cascade) fromRule(rule model.Rule, confidence int, set *registry.AccountSet) (model.CategorizationResult, bool) {
	acct, ok := set.Get(rule.AccountCode)
	if !ok {
		c.logger.Warn("Rule points at unknown account",
			"rule", rule.ID,
			"account_code", rule.AccountCode,
			"jurisdiction", set.Jurisdiction())
		return model.CategorizationResult{}, false
	}
	return model.CategorizationResult{
		AccountCode: acct.Code,
		AccountName: acct.Name,
		Confidence:  model.ClampConfidence(confidence),
	}, true
}
