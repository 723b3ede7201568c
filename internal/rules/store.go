// Package rules holds exact merchant rules, keyword rules and learned corrections.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/google/uuid"
)

// Default confidences applied when a rule is added without one.
const (
	DefaultExactConfidence   = 95
	DefaultKeywordConfidence = 85
)

// Batch groups records that must be persisted together.
type Batch struct {
	Rules       []model.Rule
	Corrections []model.Correction
}

// Persister stores rules and corrections across sessions.
type Persister interface {
	LoadRules(ctx context.Context) ([]model.Rule, error)
	LoadCorrections(ctx context.Context) ([]model.Correction, error)
	Save(ctx context.Context, batch Batch) error
	DeleteRule(ctx context.Context, id string) error
	DeleteCorrection(ctx context.Context, id string) error
}

// CodeValidator reports whether an account code exists in a jurisdiction.
type CodeValidator func(jurisdiction, code string) bool

// Option configures a Store.
type Option func(*Store)

// WithPersister enables write-through persistence.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithCodeValidator rejects rules whose account code is unknown.
func WithCodeValidator(v CodeValidator) Option {
	return func(s *Store) { s.validCode = v }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// RuleSpec describes a rule to add.
type RuleSpec struct {
	AccountCode  string
	Note         string
	Jurisdiction string
	Keywords     []string
	Confidence   int
}

// RulePatch lists the fields Update may change. Nil fields are left alone.
type RulePatch struct {
	Keywords    []string
	AccountCode *string
	Note        *string
	Confidence  *int
	Disabled    *bool
}

// Filter narrows List results.
type Filter struct {
	Jurisdiction    string
	Kind            model.RuleKind
	IncludeDisabled bool
}

// Store is the in-memory rule store. All mutations are atomic.
type Store struct {
	persister   Persister
	validCode   CodeValidator
	now         func() time.Time
	logger      *slog.Logger
	rules       map[string]model.Rule
	corrections map[string]model.Correction
	version     atomic.Uint64
	seq         int64
	mu          sync.RWMutex
}

// NewStore creates an empty rule store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		rules:       make(map[string]model.Rule),
		corrections: make(map[string]model.Correction),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = common.LoggerOrDefault(s.logger)
	return s
}

// Load reads persisted rules and corrections. Persisted records replace
// seeded rules with the same ID.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}

	rules, err := s.persister.LoadRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	corrections, err := s.persister.LoadCorrections(ctx)
	if err != nil {
		return fmt.Errorf("failed to load corrections: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rules {
		if r.Seq == 0 {
			s.seq++
			r.Seq = s.seq
		} else if r.Seq > s.seq {
			s.seq = r.Seq
		}
		s.rules[r.ID] = r
	}
	for _, c := range corrections {
		s.corrections[c.ID] = c
	}
	s.version.Add(1)

	s.logger.Debug("Loaded persisted rules", "rules", len(rules), "corrections", len(corrections))
	return nil
}

// Version increments on every mutation.
func (s *Store) Version() uint64 {
	return s.version.Load()
}

// AddKeyword adds a single-keyword rule.
func (s *Store) AddKeyword(ctx context.Context, spec RuleSpec) (model.Rule, error) {
	if len(spec.Keywords) != 1 {
		return model.Rule{}, fmt.Errorf("%w: keyword rule needs exactly one keyword", common.ErrInvalidRule)
	}
	return s.add(ctx, model.RuleKindKeyword, spec)
}

// AddRule adds a keyword rule, or a multi-keyword rule when more than one keyword is given.
func (s *Store) AddRule(ctx context.Context, spec RuleSpec) (model.Rule, error) {
	kind := model.RuleKindKeyword
	if len(normalizeKeywords(spec.Keywords)) > 1 {
		kind = model.RuleKindMulti
	}
	return s.add(ctx, kind, spec)
}

// AddExact adds an exact merchant rule.
func (s *Store) AddExact(ctx context.Context, spec RuleSpec) (model.Rule, error) {
	if len(spec.Keywords) != 1 {
		return model.Rule{}, fmt.Errorf("%w: exact rule needs exactly one merchant phrase", common.ErrInvalidRule)
	}
	return s.add(ctx, model.RuleKindExact, spec)
}

func (s *Store) add(ctx context.Context, kind model.RuleKind, spec RuleSpec) (model.Rule, error) {
	now := s.now()
	rule := model.Rule{
		ID:           uuid.NewString(),
		Kind:         kind,
		Keywords:     normalizeKeywords(spec.Keywords),
		AccountCode:  spec.AccountCode,
		Confidence:   spec.Confidence,
		Note:         spec.Note,
		Jurisdiction: spec.Jurisdiction,
		Origin:       model.RuleOriginUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	applyRuleDefaults(&rule)

	if err := s.validateRule(rule); err != nil {
		return model.Rule{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	rule.Seq = s.seq

	if err := s.persist(ctx, Batch{Rules: []model.Rule{rule}}); err != nil {
		s.seq--
		return model.Rule{}, err
	}

	s.rules[rule.ID] = rule
	s.version.Add(1)

	s.logger.Info("Rule added",
		"id", rule.ID,
		"kind", rule.Kind,
		"keywords", rule.Label(),
		"account_code", rule.AccountCode,
		"jurisdiction", rule.Jurisdiction)

	return rule, nil
}

// Update applies a patch to an existing rule.
func (s *Store) Update(ctx context.Context, id string, patch RulePatch) (model.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[id]
	if !ok {
		return model.Rule{}, fmt.Errorf("%w: %s", common.ErrRuleNotFound, id)
	}

	if patch.Keywords != nil {
		rule.Keywords = normalizeKeywords(patch.Keywords)
		if rule.Kind != model.RuleKindExact {
			rule.Kind = model.RuleKindKeyword
			if len(rule.Keywords) > 1 {
				rule.Kind = model.RuleKindMulti
			}
		}
	}
	if patch.AccountCode != nil {
		rule.AccountCode = *patch.AccountCode
	}
	if patch.Note != nil {
		rule.Note = *patch.Note
	}
	if patch.Confidence != nil {
		rule.Confidence = *patch.Confidence
	}
	if patch.Disabled != nil {
		rule.Disabled = *patch.Disabled
	}
	rule.UpdatedAt = s.now()

	if err := s.validateRule(rule); err != nil {
		return model.Rule{}, err
	}
	if err := s.persist(ctx, Batch{Rules: []model.Rule{rule}}); err != nil {
		return model.Rule{}, err
	}

	s.rules[id] = rule
	s.version.Add(1)
	return rule, nil
}

// Remove deletes a rule. Builtin rules are disabled instead, so re-seeding
// at startup does not bring them back.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[id]
	if !ok || rule.Disabled {
		return fmt.Errorf("%w: %s", common.ErrRuleNotFound, id)
	}

	if rule.Origin == model.RuleOriginBuiltin {
		rule.Disabled = true
		rule.UpdatedAt = s.now()
		if err := s.persist(ctx, Batch{Rules: []model.Rule{rule}}); err != nil {
			return err
		}
		s.rules[id] = rule
	} else {
		if s.persister != nil {
			if err := s.persister.DeleteRule(ctx, id); err != nil {
				return fmt.Errorf("failed to delete rule: %w", err)
			}
		}
		delete(s.rules, id)
	}

	s.version.Add(1)
	s.logger.Info("Rule removed", "id", id, "keywords", rule.Label())
	return nil
}

// Get returns a rule by ID.
func (s *Store) Get(id string) (model.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[id]
	if !ok {
		return model.Rule{}, fmt.Errorf("%w: %s", common.ErrRuleNotFound, id)
	}
	return cloneRule(rule), nil
}

// List returns rules matching the filter, oldest first.
func (s *Store) List(filter Filter) []model.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jurisdiction := normalizeJurisdiction(filter.Jurisdiction)
	out := make([]model.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		if r.Disabled && !filter.IncludeDisabled {
			continue
		}
		if jurisdiction != "" && r.Jurisdiction != jurisdiction {
			continue
		}
		if filter.Kind != "" && r.Kind != filter.Kind {
			continue
		}
		out = append(out, cloneRule(r))
	}
	sortRules(out)
	return out
}

func (s *Store) persist(ctx context.Context, batch Batch) error {
	if s.persister == nil {
		return nil
	}
	if err := s.persister.Save(ctx, batch); err != nil {
		return fmt.Errorf("failed to persist rules: %w", err)
	}
	return nil
}

func (s *Store) validateRule(r model.Rule) error {
	if err := validateRule(r); err != nil {
		return err
	}
	if s.validCode != nil && !s.validCode(r.Jurisdiction, r.AccountCode) {
		return fmt.Errorf("%w: account code %s does not exist in %s",
			common.ErrInvalidAccountCode, r.AccountCode, r.Jurisdiction)
	}
	return nil
}

func validateRule(r model.Rule) error {
	if _, err := uuid.Parse(r.ID); err != nil {
		return fmt.Errorf("%w: id %q is not a UUID", common.ErrInvalidRule, r.ID)
	}

	switch r.Kind {
	case model.RuleKindExact, model.RuleKindKeyword:
		if len(r.Keywords) != 1 {
			return fmt.Errorf("%w: %s rule needs exactly one keyword", common.ErrInvalidRule, r.Kind)
		}
	case model.RuleKindMulti:
		if len(r.Keywords) < 2 {
			return fmt.Errorf("%w: multi-keyword rule needs at least two keywords", common.ErrInvalidRule)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", common.ErrInvalidRule, r.Kind)
	}

	for _, kw := range r.Keywords {
		if kw == "" {
			return fmt.Errorf("%w: empty keyword", common.ErrInvalidRule)
		}
	}
	if r.AccountCode == "" {
		return fmt.Errorf("%w: account code is required", common.ErrInvalidRule)
	}
	if r.Jurisdiction == "" {
		return fmt.Errorf("%w: jurisdiction is required", common.ErrInvalidRule)
	}
	if r.Confidence < 1 || r.Confidence > 100 {
		return fmt.Errorf("%w: confidence %d out of range", common.ErrInvalidRule, r.Confidence)
	}
	return nil
}

func applyRuleDefaults(r *model.Rule) {
	r.Jurisdiction = normalizeJurisdiction(r.Jurisdiction)
	if r.Confidence == 0 {
		r.Confidence = DefaultKeywordConfidence
		if r.Kind == model.RuleKindExact {
			r.Confidence = DefaultExactConfidence
		}
	}
	if r.Origin == "" {
		r.Origin = model.RuleOriginImport
	}
}

func cloneRule(r model.Rule) model.Rule {
	r.Keywords = append([]string(nil), r.Keywords...)
	return r
}

func sortRules(rules []model.Rule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Seq != rules[j].Seq {
			return rules[i].Seq < rules[j].Seq
		}
		return rules[i].ID < rules[j].ID
	})
}
