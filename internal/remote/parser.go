package remote

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/Veraticus/ledgerline/internal/model"
)

// Reply is a parsed four-line provider answer.
type Reply struct {
	AccountCode string
	Reasoning   string
	Keyword     string
	Confidence  int
}

var (
	errMissingField  = errors.New("reply is missing a required line")
	errBadConfidence = errors.New("reply confidence is not a number")
	errBadCode       = errors.New("reply account code is not recognizable")
	errUnexpected    = errors.New("reply has an unexpected line")
)

var accountCodePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9.\-]{0,15}$`)

// ParseReply reads the labelled ACCOUNT_CODE, CONFIDENCE, REASONING and
// KEYWORD lines. Labels are case-insensitive and may appear in any order.
// Blank lines are skipped; any other line, or a repeated label, fails.
func ParseReply(content string) (Reply, error) {
	fields := make(map[string]string, 4)

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "*`"))
		if line == "" {
			continue
		}
		label, value, ok := strings.Cut(line, ":")
		label = strings.ToUpper(strings.TrimSpace(strings.Trim(label, "*`")))
		switch label {
		case "ACCOUNT_CODE", "CONFIDENCE", "REASONING", "KEYWORD":
		default:
			ok = false
		}
		if !ok {
			return Reply{}, fmt.Errorf("%w: %q", errUnexpected, line)
		}
		if _, seen := fields[label]; seen {
			return Reply{}, fmt.Errorf("%w: repeated %s", errUnexpected, label)
		}
		fields[label] = strings.TrimSpace(strings.Trim(strings.TrimSpace(value), "*`"))
	}

	for _, label := range []string{"ACCOUNT_CODE", "CONFIDENCE", "REASONING", "KEYWORD"} {
		if _, ok := fields[label]; !ok {
			return Reply{}, fmt.Errorf("%w: %s", errMissingField, label)
		}
	}

	code := strings.Trim(fields["ACCOUNT_CODE"], `"'`)
	if !accountCodePattern.MatchString(code) {
		return Reply{}, fmt.Errorf("%w: %q", errBadCode, fields["ACCOUNT_CODE"])
	}

	confidence, err := parseConfidence(fields["CONFIDENCE"])
	if err != nil {
		return Reply{}, err
	}

	keyword := fields["KEYWORD"]
	if strings.EqualFold(keyword, "NONE") || strings.EqualFold(keyword, "N/A") {
		keyword = ""
	}

	return Reply{
		AccountCode: code,
		Confidence:  confidence,
		Reasoning:   fields["REASONING"],
		Keyword:     keyword,
	}, nil
}

// parseConfidence accepts "85", "85%" and "0.85".
func parseConfidence(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", errBadConfidence, raw)
	}
	if !percent && v > 0 && v <= 1 && strings.Contains(s, ".") {
		v *= 100
	}
	return model.ClampConfidence(int(math.Round(v))), nil
}
