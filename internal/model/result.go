package model

import "strings"

// Source tags which stage of the engine produced a result.
type Source string

// Source constants.
const (
	SourceExactRule       Source = "exact-rule"
	SourceKeywordRule     Source = "keyword-rule"
	SourceLearned         Source = "learned"
	SourceFuzzy           Source = "fuzzy"
	SourceRemote          Source = "remote"
	SourceRemoteCorrected Source = "remote-corrected"
	SourceFallback        Source = "fallback"
)

const correctedSuffix = "-corrected"

// Corrected returns the source annotated as corrected by validation.
func (s Source) Corrected() Source {
	if s.IsCorrected() {
		return s
	}
	return s + correctedSuffix
}

// IsCorrected reports whether validation adjusted the result.
func (s Source) IsCorrected() bool {
	return strings.HasSuffix(string(s), correctedSuffix)
}

// Base strips the correction suffix.
func (s Source) Base() Source {
	return Source(strings.TrimSuffix(string(s), correctedSuffix))
}

// IsLocal reports whether the source came from local matching rather than the remote provider.
func (s Source) IsLocal() bool {
	return s.Base() != SourceRemote
}

// CategorizationResult is the outcome of classifying one transaction.
// Results are values; corrections produce a new result.
type CategorizationResult struct {
	AccountCode      string `json:"account_code"`
	AccountName      string `json:"account_name"`
	Reasoning        string `json:"reasoning"`
	SuggestedKeyword string `json:"suggested_keyword,omitempty"`
	Source           Source `json:"source"`
	Jurisdiction     string `json:"jurisdiction"`
	Confidence       int    `json:"confidence"`
}

// ClampConfidence bounds a confidence value to the 0..100 range.
func ClampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
