package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/ledgerline/internal/cache"
	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/model"
)

// RecordCorrection learns that req's description belongs to accountCode. Both
// caches are emptied because the new pattern can change answers for other
// descriptions with the same wording.
func (e *Engine) RecordCorrection(ctx context.Context, req Request, accountCode, note string) (model.Correction, error) {
	if strings.TrimSpace(req.Description) == "" {
		return model.Correction{}, fmt.Errorf("%w: description is required", common.ErrInvalidRequest)
	}

	set, err := e.registry.Load(ctx, req.Jurisdiction)
	if err != nil && (!errors.Is(err, common.ErrUnknownJurisdiction) || set == nil) {
		return model.Correction{}, fmt.Errorf("failed to load accounts: %w", err)
	}
	if !set.Exists(accountCode) {
		return model.Correction{}, fmt.Errorf("%w: %q is not in the %s chart",
			common.ErrInvalidAccountCode, accountCode, set.Jurisdiction())
	}

	correction, err := e.rules.Learn(ctx, req.Description, strings.TrimSpace(accountCode), note, set.Jurisdiction())
	if err != nil {
		return model.Correction{}, err
	}

	e.ClearCaches()
	e.corrections.Add(1)

	return correction, nil
}

// Stats is a snapshot of engine activity.
type Stats struct {
	ResultCache    cache.Stats `json:"result_cache"`
	PatternCache   cache.Stats `json:"pattern_cache"`
	RemoteCalls    uint64      `json:"remote_calls"`
	RemoteFailures uint64      `json:"remote_failures"`
	Corrections    uint64      `json:"corrections"`
	RulesVersion   uint64      `json:"rules_version"`
}

// Stats returns current counters.
func (e *Engine) Stats() Stats {
	return Stats{
		ResultCache:    e.results.Stats(),
		PatternCache:   e.patterns.Stats(),
		RemoteCalls:    e.remoteCalls.Load(),
		RemoteFailures: e.remoteFailures.Load(),
		Corrections:    e.corrections.Load(),
		RulesVersion:   e.rules.Version(),
	}
}

// Sweep drops expired cache entries and returns how many were removed.
func (e *Engine) Sweep() int {
	return e.results.Sweep() + e.patterns.Sweep()
}

// ClearCaches empties both caches.
func (e *Engine) ClearCaches() {
	e.results.Clear()
	e.patterns.Clear()
}
