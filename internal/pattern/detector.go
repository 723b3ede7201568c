// Package pattern implements the local matching cascade: system patterns,
// merchant and keyword rules, learned corrections and fuzzy similarity.
package pattern

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/registry"
	"gopkg.in/yaml.v3"
)

//go:embed system_patterns.yaml
var systemPatternsYAML []byte

// SystemPattern maps description wording onto an account role.
type SystemPattern struct {
	Name       string        `yaml:"name"`
	Role       registry.Role `yaml:"role"`
	Regex      string        `yaml:"regex"`
	Priority   int           `yaml:"priority"`   // Higher priority patterns are checked first
	Confidence int           `yaml:"confidence"` // Confidence assigned on match (0-100)
}

// DefaultSystemPatterns returns the builtin transfer and fee patterns.
func DefaultSystemPatterns() ([]SystemPattern, error) {
	var doc struct {
		Patterns []SystemPattern `yaml:"patterns"`
	}
	if err := yaml.Unmarshal(systemPatternsYAML, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse system patterns: %w", err)
	}
	return doc.Patterns, nil
}

type compiledPattern struct {
	re *regexp.Regexp
	SystemPattern
}

// Detector checks descriptions against system patterns in priority order.
type Detector struct {
	patterns []compiledPattern
}

// Hit is a system pattern that matched.
type Hit struct {
	Pattern SystemPattern
	Text    string
}

// NewDetector compiles the given patterns.
func NewDetector(patterns []SystemPattern) (*Detector, error) {
	compiled := make([]compiledPattern, 0, len(patterns))

	for _, p := range patterns {
		if p.Role == "" {
			return nil, fmt.Errorf("pattern %s has no role", p.Name)
		}
		if p.Confidence < 0 || p.Confidence > 100 {
			return nil, fmt.Errorf("pattern %s confidence %d out of range", p.Name, p.Confidence)
		}
		re, err := common.CompileFold(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("failed to compile pattern %s: %w", p.Name, err)
		}
		compiled = append(compiled, compiledPattern{SystemPattern: p, re: re})
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Priority > compiled[j].Priority
	})

	return &Detector{patterns: compiled}, nil
}

// Detect returns every pattern matching text, highest priority first.
func (d *Detector) Detect(text string) []Hit {
	var hits []Hit
	for _, p := range d.patterns {
		if m := p.re.FindString(text); m != "" {
			hits = append(hits, Hit{Pattern: p.SystemPattern, Text: m})
		}
	}
	return hits
}

// Len returns the number of loaded patterns.
func (d *Detector) Len() int {
	return len(d.patterns)
}
