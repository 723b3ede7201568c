package model

import (
	"strings"
	"time"
)

// RuleKind distinguishes how a rule is matched against a description.
type RuleKind string

// Rule kind constants.
const (
	// RuleKindExact matches a merchant phrase as a whole-word run.
	RuleKindExact RuleKind = "exact"
	// RuleKindKeyword matches a single keyword by substring containment.
	RuleKindKeyword RuleKind = "keyword"
	// RuleKindMulti requires every keyword to be present.
	RuleKindMulti RuleKind = "multi"
)

// RuleOrigin records who created a rule.
type RuleOrigin string

// Rule origin constants.
const (
	RuleOriginBuiltin RuleOrigin = "builtin"
	RuleOriginUser    RuleOrigin = "user"
	RuleOriginImport  RuleOrigin = "import"
)

// Rule maps one or more keywords to an account code.
type Rule struct {
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ID           string     `json:"id"`
	Kind         RuleKind   `json:"kind"`
	AccountCode  string     `json:"account_code"`
	Note         string     `json:"note,omitempty"`
	Jurisdiction string     `json:"jurisdiction"`
	Origin       RuleOrigin `json:"origin"`
	Keywords     []string   `json:"keywords"`
	Seq          int64      `json:"seq"`
	Confidence   int        `json:"confidence"`
	Disabled     bool       `json:"disabled,omitempty"`
}

// Specificity scores how specific a rule is; longer keywords are more specific.
func (r Rule) Specificity() int {
	total := 0
	for _, kw := range r.Keywords {
		total += len([]rune(kw))
	}
	return total
}

// Label renders the rule keywords for display.
func (r Rule) Label() string {
	return strings.Join(r.Keywords, " + ")
}

// Correction is a learned mapping from a description wording to an account code.
type Correction struct {
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	ID           string    `json:"id"`
	Pattern      string    `json:"pattern"`
	AccountCode  string    `json:"account_code"`
	Jurisdiction string    `json:"jurisdiction"`
	Note         string    `json:"note,omitempty"`
	UseCount     int       `json:"use_count"`
}
