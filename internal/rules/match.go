package rules

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/model"
)

// Match is a rule that matched a description.
type Match struct {
	Rule       model.Rule
	Keyword    string
	Confidence int
}

// FindExact returns the exact merchant rule whose phrase appears as a
// whole-word run in text. The longest phrase wins; ties go to the newest rule.
func (s *Store) FindExact(text, jurisdiction string) (*Match, bool) {
	normalized := common.Normalize(text)
	jurisdiction = normalizeJurisdiction(jurisdiction)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *model.Rule
	for id := range s.rules {
		r := s.rules[id]
		if r.Kind != model.RuleKindExact || !s.applies(r, jurisdiction) {
			continue
		}
		if !containsPhrase(normalized, r.Keywords[0]) {
			continue
		}
		if best == nil || better(r, *best) {
			candidate := r
			best = &candidate
		}
	}

	if best == nil {
		return nil, false
	}
	return &Match{Rule: cloneRule(*best), Keyword: best.Label(), Confidence: best.Confidence}, true
}

// FindMatch returns the keyword or multi-keyword rule matching text.
// Single keywords match by case-insensitive substring containment; every
// keyword of a multi-keyword rule must be present. The most specific rule
// wins; ties go to the most recently added rule.
func (s *Store) FindMatch(text, jurisdiction string) (*Match, bool) {
	normalized := common.Normalize(text)
	jurisdiction = normalizeJurisdiction(jurisdiction)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *model.Rule
	for id := range s.rules {
		r := s.rules[id]
		if r.Kind == model.RuleKindExact || !s.applies(r, jurisdiction) {
			continue
		}
		if !containsAll(normalized, r.Keywords) {
			continue
		}
		if best == nil || better(r, *best) {
			candidate := r
			best = &candidate
		}
	}

	if best == nil {
		return nil, false
	}
	return &Match{Rule: cloneRule(*best), Keyword: best.Label(), Confidence: best.Confidence}, true
}

// Merchants returns the enabled exact merchant rules of a jurisdiction, the
// reference table for fuzzy matching.
func (s *Store) Merchants(jurisdiction string) []model.Rule {
	return s.List(Filter{Jurisdiction: jurisdiction, Kind: model.RuleKindExact})
}

func (s *Store) applies(r model.Rule, jurisdiction string) bool {
	return !r.Disabled && r.Jurisdiction == jurisdiction
}

// better reports whether a beats b: higher specificity first, then newer.
func better(a, b model.Rule) bool {
	sa, sb := a.Specificity(), b.Specificity()
	if sa != sb {
		return sa > sb
	}
	if a.Seq != b.Seq {
		return a.Seq > b.Seq
	}
	return a.ID > b.ID
}

func containsAll(text string, keywords []string) bool {
	for _, kw := range keywords {
		if !strings.Contains(text, kw) {
			return false
		}
	}
	return len(keywords) > 0
}

// containsPhrase reports whether phrase occurs in text bounded by
// non-alphanumeric characters or the ends of text.
func containsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	offset := 0
	for {
		i := strings.Index(text[offset:], phrase)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(phrase)

		before, _ := utf8.DecodeLastRuneInString(text[:start])
		after, _ := utf8.DecodeRuneInString(text[end:])
		if (start == 0 || !isWordRune(before)) && (end == len(text) || !isWordRune(after)) {
			return true
		}
		offset = start + 1
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func normalizeKeywords(keywords []string) []string {
	seen := make(map[string]bool, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		n := common.Normalize(kw)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func normalizeJurisdiction(j string) string {
	return strings.ToUpper(strings.TrimSpace(j))
}
