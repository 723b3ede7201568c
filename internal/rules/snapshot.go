package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/google/uuid"
)

// SnapshotVersion is the only snapshot format Import accepts.
const SnapshotVersion = 1

// Snapshot is a serializable copy of every rule and correction, keyed by ID.
type Snapshot struct {
	ExportedAt  time.Time                   `json:"exported_at"`
	Rules       map[string]model.Rule       `json:"rules"`
	Corrections map[string]model.Correction `json:"corrections"`
	Version     int                         `json:"version"`
}

// ImportReport summarizes an import.
type ImportReport struct {
	Errors   []string `json:"errors,omitempty"`
	Added    int      `json:"added"`
	Updated  int      `json:"updated"`
	Rejected int      `json:"rejected"`
}

// Export snapshots the store, disabled builtin rules included.
func (s *Store) Export() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Version:     SnapshotVersion,
		ExportedAt:  s.now().UTC(),
		Rules:       make(map[string]model.Rule, len(s.rules)),
		Corrections: make(map[string]model.Correction, len(s.corrections)),
	}
	for id, r := range s.rules {
		snap.Rules[id] = cloneRule(r)
	}
	for id, c := range s.corrections {
		snap.Corrections[id] = c
	}
	return snap
}

// Import validates every record and merges the valid ones in one step.
// Invalid records are rejected individually; a persistence failure applies nothing.
func (s *Store) Import(ctx context.Context, snap Snapshot) (ImportReport, error) {
	var report ImportReport

	if snap.Version != SnapshotVersion {
		return report, fmt.Errorf("%w: %d", common.ErrUnsupportedSnapshot, snap.Version)
	}

	var batch Batch
	for _, key := range sortedKeys(snap.Rules) {
		r := snap.Rules[key]
		if r.ID == "" {
			r.ID = key
		}
		r.Keywords = normalizeKeywords(r.Keywords)
		applyRuleDefaults(&r)

		err := s.validateRule(r)
		if err == nil && r.ID != key {
			err = fmt.Errorf("%w: key %s does not match id %s", common.ErrInvalidRule, key, r.ID)
		}
		if err != nil {
			report.Rejected++
			report.Errors = append(report.Errors, fmt.Sprintf("rule %s: %v", key, err))
			continue
		}
		batch.Rules = append(batch.Rules, r)
	}

	for _, key := range sortedKeys(snap.Corrections) {
		c := snap.Corrections[key]
		if c.ID == "" {
			c.ID = key
		}
		c.Jurisdiction = normalizeJurisdiction(c.Jurisdiction)

		if err := s.validateCorrection(c, key); err != nil {
			report.Rejected++
			report.Errors = append(report.Errors, fmt.Sprintf("correction %s: %v", key, err))
			continue
		}
		batch.Corrections = append(batch.Corrections, c)
	}

	var superseded []model.Correction
	batch.Corrections, superseded = dedupeCorrections(batch.Corrections)
	for _, c := range superseded {
		report.Rejected++
		report.Errors = append(report.Errors,
			fmt.Sprintf("correction %s: superseded by a newer correction for %q", c.ID, c.Pattern))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A correction for wording the store already knows under another ID
	// updates that record, the same way Learn does.
	kept := batch.Corrections[:0]
	for _, c := range batch.Corrections {
		if existing, ok := s.correctionFor(c.Pattern, c.Jurisdiction); ok && existing.ID != c.ID {
			if newerCorrection(existing, c) {
				report.Rejected++
				report.Errors = append(report.Errors,
					fmt.Sprintf("correction %s: superseded by existing correction %s", c.ID, existing.ID))
				continue
			}
			existing.AccountCode = c.AccountCode
			existing.Note = c.Note
			existing.UpdatedAt = c.UpdatedAt
			existing.UseCount = max(existing.UseCount, c.UseCount)
			c = existing
		}
		kept = append(kept, c)
	}
	batch.Corrections = kept

	now := s.now()
	for i := range batch.Rules {
		r := &batch.Rules[i]
		if r.Seq == 0 {
			s.seq++
			r.Seq = s.seq
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = now
		}
	}

	if err := s.persist(ctx, batch); err != nil {
		return ImportReport{}, err
	}

	for _, r := range batch.Rules {
		if _, exists := s.rules[r.ID]; exists {
			report.Updated++
		} else {
			report.Added++
		}
		if r.Seq > s.seq {
			s.seq = r.Seq
		}
		s.rules[r.ID] = r
	}
	for _, c := range batch.Corrections {
		if _, exists := s.corrections[c.ID]; exists {
			report.Updated++
		} else {
			report.Added++
		}
		s.corrections[c.ID] = c
	}
	s.version.Add(1)

	s.logger.Info("Imported rule snapshot",
		"added", report.Added,
		"updated", report.Updated,
		"rejected", report.Rejected)

	return report, nil
}

func (s *Store) validateCorrection(c model.Correction, key string) error {
	if _, err := uuid.Parse(c.ID); err != nil {
		return fmt.Errorf("%w: id %q is not a UUID", common.ErrInvalidRule, c.ID)
	}
	if c.ID != key {
		return fmt.Errorf("%w: key %s does not match id %s", common.ErrInvalidRule, key, c.ID)
	}
	if c.Pattern == "" || c.AccountCode == "" || c.Jurisdiction == "" {
		return fmt.Errorf("%w: pattern, account code and jurisdiction are required", common.ErrInvalidRule)
	}
	if s.validCode != nil && !s.validCode(c.Jurisdiction, c.AccountCode) {
		return fmt.Errorf("%w: account code %s does not exist in %s",
			common.ErrInvalidAccountCode, c.AccountCode, c.Jurisdiction)
	}
	return nil
}

// dedupeCorrections keeps the newest correction per pattern and jurisdiction.
func dedupeCorrections(in []model.Correction) (kept, dropped []model.Correction) {
	type key struct{ pattern, jurisdiction string }
	index := make(map[key]int, len(in))
	for _, c := range in {
		k := key{c.Pattern, c.Jurisdiction}
		i, seen := index[k]
		if !seen {
			index[k] = len(kept)
			kept = append(kept, c)
			continue
		}
		if newerCorrection(c, kept[i]) {
			dropped = append(dropped, kept[i])
			kept[i] = c
		} else {
			dropped = append(dropped, c)
		}
	}
	return kept, dropped
}

// WriteSnapshot encodes a snapshot as indented JSON.
func WriteSnapshot(w io.Writer, snap Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot decodes a JSON snapshot.
func ReadSnapshot(r io.Reader) (Snapshot, error) {
	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
