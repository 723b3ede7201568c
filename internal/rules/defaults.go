package rules

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

//go:embed defaults/*.yaml
var defaultRules embed.FS

// builtinNamespace seeds deterministic IDs so builtin rules keep their ID across restarts.
var builtinNamespace = uuid.MustParse("6f1c2a8e-4b7d-4c1e-9a55-3d2f8b0e7c41")

type defaultsFile struct {
	Jurisdiction string `yaml:"jurisdiction"`
	Exact        []struct {
		Merchant   string `yaml:"merchant"`
		Code       string `yaml:"code"`
		Note       string `yaml:"note"`
		Confidence int    `yaml:"confidence"`
	} `yaml:"exact"`
	Keywords []struct {
		Code       string   `yaml:"code"`
		Note       string   `yaml:"note"`
		Keywords   []string `yaml:"keywords"`
		Confidence int      `yaml:"confidence"`
	} `yaml:"keywords"`
}

// SeedDefaults loads the builtin rule tables for the given jurisdictions,
// or for every jurisdiction when none are named. Seeded rules are not
// persisted until they are modified.
func (s *Store) SeedDefaults(jurisdictions ...string) (int, error) {
	wanted := make(map[string]bool, len(jurisdictions))
	for _, j := range jurisdictions {
		wanted[normalizeJurisdiction(j)] = true
	}

	files, err := fs.Glob(defaultRules, "defaults/*.yaml")
	if err != nil {
		return 0, fmt.Errorf("failed to list default rules: %w", err)
	}

	var seeded []model.Rule
	for _, name := range files {
		data, err := defaultRules.ReadFile(name)
		if err != nil {
			return 0, fmt.Errorf("failed to read %s: %w", name, err)
		}
		var file defaultsFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return 0, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		j := normalizeJurisdiction(file.Jurisdiction)
		if len(wanted) > 0 && !wanted[j] {
			continue
		}

		for _, e := range file.Exact {
			seeded = append(seeded, builtinRule(j, model.RuleKindExact, []string{e.Merchant}, e.Code, e.Confidence, e.Note))
		}
		for _, k := range file.Keywords {
			kind := model.RuleKindKeyword
			if len(k.Keywords) > 1 {
				kind = model.RuleKindMulti
			}
			seeded = append(seeded, builtinRule(j, kind, k.Keywords, k.Code, k.Confidence, k.Note))
		}
	}

	for _, r := range seeded {
		if err := s.validateRule(r); err != nil {
			return 0, fmt.Errorf("builtin rule %s: %w", r.Label(), err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, r := range seeded {
		if _, exists := s.rules[r.ID]; exists {
			continue
		}
		s.seq++
		r.Seq = s.seq
		r.CreatedAt = now
		r.UpdatedAt = now
		s.rules[r.ID] = r
	}
	s.version.Add(1)

	s.logger.Debug("Seeded builtin rules", "count", len(seeded))
	return len(seeded), nil
}

func builtinRule(jurisdiction string, kind model.RuleKind, keywords []string, code string, confidence int, note string) model.Rule {
	normalized := normalizeKeywords(keywords)
	key := strings.Join([]string{jurisdiction, string(kind), strings.Join(normalized, "|")}, "/")

	r := model.Rule{
		ID:           uuid.NewSHA1(builtinNamespace, []byte(key)).String(),
		Kind:         kind,
		Keywords:     normalized,
		AccountCode:  code,
		Confidence:   confidence,
		Note:         note,
		Jurisdiction: jurisdiction,
		Origin:       model.RuleOriginBuiltin,
	}
	applyRuleDefaults(&r)
	return r
}
