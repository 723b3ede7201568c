package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/model"
)

// AccountSet is the read-only chart of accounts for one jurisdiction.
type AccountSet struct {
	byCode       map[string]int
	roles        map[Role]string
	jurisdiction string
	name         string
	currency     string
	accounts     []model.Account
	guidance     []string
}

func newAccountSet(chart Chart) *AccountSet {
	set := &AccountSet{
		jurisdiction: chart.Jurisdiction,
		name:         chart.Name,
		currency:     chart.Currency,
		byCode:       make(map[string]int, len(chart.Accounts)),
		roles:        make(map[Role]string, len(chart.Roles)),
		accounts:     make([]model.Account, len(chart.Accounts)),
		guidance:     append([]string(nil), chart.Guidance...),
	}
	for i, acct := range chart.Accounts {
		acct.Code = strings.TrimSpace(acct.Code)
		set.accounts[i] = acct
		set.byCode[acct.Code] = i
	}
	for role, code := range chart.Roles {
		set.roles[role] = code
	}
	return set
}

// Jurisdiction returns the jurisdiction code of the set.
func (s *AccountSet) Jurisdiction() string { return s.jurisdiction }

// Name returns the display name of the jurisdiction.
func (s *AccountSet) Name() string { return s.name }

// Currency returns the jurisdiction's currency code.
func (s *AccountSet) Currency() string { return s.currency }

// Exists reports whether code is a valid account in this jurisdiction.
func (s *AccountSet) Exists(code string) bool {
	_, ok := s.byCode[strings.TrimSpace(code)]
	return ok
}

// Get returns the account for code.
func (s *AccountSet) Get(code string) (model.Account, bool) {
	i, ok := s.byCode[strings.TrimSpace(code)]
	if !ok {
		return model.Account{}, false
	}
	return s.accounts[i], true
}

// All returns the accounts in chart order.
func (s *AccountSet) All() []model.Account {
	return append([]model.Account(nil), s.accounts...)
}

// Role returns the account mapped to a role.
func (s *AccountSet) Role(role Role) (model.Account, bool) {
	code, ok := s.roles[role]
	if !ok {
		return model.Account{}, false
	}
	return s.Get(code)
}

// Guidance returns the jurisdiction's disambiguation notes.
func (s *AccountSet) Guidance() []string {
	return append([]string(nil), s.guidance...)
}

// Len returns the number of accounts.
func (s *AccountSet) Len() int { return len(s.accounts) }

// Registry serves account sets once its source has finished loading.
// Every accessor blocks until loading completes.
type Registry struct {
	err                 error
	sets                map[string]*AccountSet
	ready               chan struct{}
	logger              *slog.Logger
	defaultJurisdiction string
	jurisdictions       []string
}

// New starts loading charts from src in the background.
func New(ctx context.Context, src Source, defaultJurisdiction string, logger *slog.Logger) *Registry {
	r := &Registry{
		defaultJurisdiction: NormalizeJurisdiction(defaultJurisdiction),
		ready:               make(chan struct{}),
		logger:              common.LoggerOrDefault(logger),
	}
	go r.load(ctx, src)
	return r
}

func (r *Registry) load(ctx context.Context, src Source) {
	defer close(r.ready)

	charts, err := src.Charts(ctx)
	if err != nil {
		r.err = fmt.Errorf("failed to load charts of accounts: %w", err)
		return
	}

	sets := make(map[string]*AccountSet, len(charts))
	jurisdictions := make([]string, 0, len(charts))
	for _, chart := range charts {
		sets[chart.Jurisdiction] = newAccountSet(chart)
		jurisdictions = append(jurisdictions, chart.Jurisdiction)
	}
	sort.Strings(jurisdictions)

	if _, ok := sets[r.defaultJurisdiction]; !ok {
		r.err = fmt.Errorf("%w: default jurisdiction %q has no chart", common.ErrInvalidConfig, r.defaultJurisdiction)
		return
	}

	r.sets = sets
	r.jurisdictions = jurisdictions
	r.logger.Debug("Chart of accounts loaded", "jurisdictions", jurisdictions)
}

// Wait blocks until loading has finished and reports any load failure.
func (r *Registry) Wait(ctx context.Context) error {
	select {
	case <-r.ready:
		return r.err
	case <-ctx.Done():
		return fmt.Errorf("waiting for account registry: %w", ctx.Err())
	}
}

// Load returns the account set for a jurisdiction. An empty jurisdiction
// selects the default. An unknown jurisdiction also returns the default set,
// together with an error wrapping common.ErrUnknownJurisdiction.
func (r *Registry) Load(ctx context.Context, jurisdiction string) (*AccountSet, error) {
	if err := r.Wait(ctx); err != nil {
		return nil, err
	}

	code := NormalizeJurisdiction(jurisdiction)
	if code == "" {
		return r.sets[r.defaultJurisdiction], nil
	}
	if set, ok := r.sets[code]; ok {
		return set, nil
	}

	return r.sets[r.defaultJurisdiction], fmt.Errorf("%w: %q, using %s",
		common.ErrUnknownJurisdiction, jurisdiction, r.defaultJurisdiction)
}

// Jurisdictions lists the supported jurisdiction codes.
func (r *Registry) Jurisdictions(ctx context.Context) ([]string, error) {
	if err := r.Wait(ctx); err != nil {
		return nil, err
	}
	return append([]string(nil), r.jurisdictions...), nil
}

// Default returns the fallback jurisdiction code.
func (r *Registry) Default() string {
	return r.defaultJurisdiction
}

// Supports reports whether a jurisdiction has a chart. It does not block.
func (r *Registry) Supports(jurisdiction string) bool {
	select {
	case <-r.ready:
	default:
		return false
	}
	_, ok := r.sets[NormalizeJurisdiction(jurisdiction)]
	return ok
}
