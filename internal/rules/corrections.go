package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/google/uuid"
)

// LearnedPattern reduces a description to the wording a correction keys on:
// normalized, with store numbers and reference codes dropped.
func LearnedPattern(description string) string {
	normalized := common.Normalize(description)
	fields := strings.Fields(normalized)

	kept := make([]string, 0, len(fields))
	for _, f := range fields {
		if isReferenceToken(f) {
			continue
		}
		kept = append(kept, f)
	}
	if len(kept) == 0 {
		return normalized
	}
	return strings.Join(kept, " ")
}

func isReferenceToken(tok string) bool {
	hasLetter := false
	for _, r := range tok {
		if unicode.IsDigit(r) {
			return true
		}
		if unicode.IsLetter(r) {
			hasLetter = true
		}
	}
	return !hasLetter
}

// Learn records a user correction for a description. Learning the same
// wording again replaces the earlier account code.
func (s *Store) Learn(ctx context.Context, description, accountCode, note, jurisdiction string) (model.Correction, error) {
	pattern := LearnedPattern(description)
	jurisdiction = normalizeJurisdiction(jurisdiction)

	if pattern == "" {
		return model.Correction{}, fmt.Errorf("%w: description is empty", common.ErrInvalidRule)
	}
	if accountCode == "" || jurisdiction == "" {
		return model.Correction{}, fmt.Errorf("%w: account code and jurisdiction are required", common.ErrInvalidRule)
	}
	if s.validCode != nil && !s.validCode(jurisdiction, accountCode) {
		return model.Correction{}, fmt.Errorf("%w: account code %s does not exist in %s",
			common.ErrInvalidAccountCode, accountCode, jurisdiction)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	correction := model.Correction{
		ID:           uuid.NewString(),
		Pattern:      pattern,
		Jurisdiction: jurisdiction,
		CreatedAt:    now,
	}
	if existing, ok := s.correctionFor(pattern, jurisdiction); ok {
		correction = existing
	}
	correction.AccountCode = accountCode
	correction.Note = note
	correction.UseCount++
	correction.UpdatedAt = now

	if err := s.persist(ctx, Batch{Corrections: []model.Correction{correction}}); err != nil {
		return model.Correction{}, err
	}

	s.corrections[correction.ID] = correction
	s.version.Add(1)

	s.logger.Info("Learned correction",
		"pattern", pattern,
		"account_code", accountCode,
		"jurisdiction", jurisdiction)

	return correction, nil
}

// FindCorrection returns the learned correction for a description. An exact
// wording match wins; otherwise the longest learned pattern contained in the
// description as whole words.
func (s *Store) FindCorrection(text, jurisdiction string) (model.Correction, bool) {
	pattern := LearnedPattern(text)
	jurisdiction = normalizeJurisdiction(jurisdiction)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var best model.Correction
	found, exact := false, false
	for _, c := range s.corrections {
		if c.Jurisdiction != jurisdiction {
			continue
		}
		isExact := c.Pattern == pattern
		if !isExact && (exact || !containsPhrase(pattern, c.Pattern)) {
			continue
		}
		if !found || (isExact && !exact) || len(c.Pattern) > len(best.Pattern) ||
			(len(c.Pattern) == len(best.Pattern) && newerCorrection(c, best)) {
			best = c
			found = true
			exact = exact || isExact
		}
	}
	return best, found
}

// newerCorrection orders corrections by UpdatedAt, then ID, so ties resolve
// the same way every time.
func newerCorrection(a, b model.Correction) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID > b.ID
}

// correctionFor returns the stored correction for a pattern. Callers hold s.mu.
func (s *Store) correctionFor(pattern, jurisdiction string) (model.Correction, bool) {
	for _, c := range s.corrections {
		if c.Pattern == pattern && c.Jurisdiction == jurisdiction {
			return c, true
		}
	}
	return model.Correction{}, false
}

// RemoveCorrection deletes a learned correction.
func (s *Store) RemoveCorrection(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.corrections[id]; !ok {
		return fmt.Errorf("%w: correction %s", common.ErrRuleNotFound, id)
	}
	if s.persister != nil {
		if err := s.persister.DeleteCorrection(ctx, id); err != nil {
			return fmt.Errorf("failed to delete correction: %w", err)
		}
	}
	delete(s.corrections, id)
	s.version.Add(1)
	return nil
}

// Corrections lists learned corrections, optionally for one jurisdiction.
func (s *Store) Corrections(jurisdiction string) []model.Correction {
	jurisdiction = normalizeJurisdiction(jurisdiction)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Correction, 0, len(s.corrections))
	for _, c := range s.corrections {
		if jurisdiction != "" && c.Jurisdiction != jurisdiction {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pattern != out[j].Pattern {
			return out[i].Pattern < out[j].Pattern
		}
		return out[i].Jurisdiction < out[j].Jurisdiction
	})
	return out
}
