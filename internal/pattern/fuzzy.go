package pattern

import (
	"strings"
	"unicode/utf8"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/agnivade/levenshtein"
)

// minFuzzyLength keeps very short merchant names like "BP" out of fuzzy matching.
const minFuzzyLength = 4

// FuzzyMatch is the closest merchant found for a description.
type FuzzyMatch struct {
	Rule       model.Rule
	Window     string
	Similarity float64
}

// FuzzyMatcher finds approximate merchant matches above a similarity threshold.
type FuzzyMatcher struct {
	threshold float64
}

// NewFuzzyMatcher creates a matcher. Threshold is a similarity ratio in (0, 1].
func NewFuzzyMatcher(threshold float64) *FuzzyMatcher {
	return &FuzzyMatcher{threshold: threshold}
}

// Similarity returns 1 minus the edit distance normalized by the longer string.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// Best compares every run of description words against each merchant phrase
// and returns the most similar merchant at or above the threshold.
func (f *FuzzyMatcher) Best(description string, merchants []model.Rule) (FuzzyMatch, bool) {
	words := common.Tokens(common.Normalize(description))
	if len(words) == 0 {
		return FuzzyMatch{}, false
	}

	var best FuzzyMatch
	found := false
	for _, m := range merchants {
		if len(m.Keywords) == 0 {
			continue
		}
		phraseWords := common.Tokens(m.Keywords[0])
		phrase := strings.Join(phraseWords, " ")
		if utf8.RuneCountInString(phrase) < minFuzzyLength {
			continue
		}

		for size := len(phraseWords) - 1; size <= len(phraseWords)+1; size++ {
			if size < 1 || size > len(words) {
				continue
			}
			for start := 0; start+size <= len(words); start++ {
				window := strings.Join(words[start:start+size], " ")
				sim := Similarity(window, phrase)
				if sim < f.threshold {
					continue
				}
				if !found || sim > best.Similarity ||
					(sim == best.Similarity && m.Specificity() > best.Rule.Specificity()) {
					best = FuzzyMatch{Rule: m, Window: window, Similarity: sim}
					found = true
				}
			}
		}
	}
	return best, found
}
