package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/Veraticus/ledgerline/internal/model"
)

// RenderResult formats one categorization as a boxed summary.
func RenderResult(description string, result model.CategorizationResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", BoldStyle.Render("Account:"), result.AccountCode+" "+result.AccountName)
	fmt.Fprintf(&b, "%s %s\n", BoldStyle.Render("Confidence:"),
		ConfidenceStyle(result.Confidence).Render(fmt.Sprintf("%d%%", result.Confidence)))
	fmt.Fprintf(&b, "%s %s\n", BoldStyle.Render("Source:"), sourceLabel(result.Source))
	fmt.Fprintf(&b, "%s %s", BoldStyle.Render("Jurisdiction:"), result.Jurisdiction)
	if result.SuggestedKeyword != "" {
		fmt.Fprintf(&b, "\n%s %s", BoldStyle.Render("Suggested keyword:"), result.SuggestedKeyword)
	}
	if result.Reasoning != "" {
		fmt.Fprintf(&b, "\n\n%s", SubtleStyle.Render(result.Reasoning))
	}
	return RenderBox(description, b.String())
}

func sourceLabel(source model.Source) string {
	label := string(source)
	if source.Base() == model.SourceRemote {
		label = RobotIcon + " " + label
	}
	if source.IsCorrected() {
		return WarningStyle.Render(label)
	}
	return label
}

// WriteAccounts prints a chart of accounts as an aligned table.
func WriteAccounts(w io.Writer, accounts []model.Account) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
		HeaderStyle.Render("Code"),
		HeaderStyle.Render("Name"),
		HeaderStyle.Render("Type"),
		HeaderStyle.Render("Tax"))
	for _, a := range accounts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.Code, a.Name, a.Type.Label(), a.TaxCode)
	}
	return tw.Flush()
}

// WriteRules prints rules as an aligned table.
func WriteRules(w io.Writer, rules []model.Rule) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
		HeaderStyle.Render("ID"),
		HeaderStyle.Render("Kind"),
		HeaderStyle.Render("Keywords"),
		HeaderStyle.Render("Account"),
		HeaderStyle.Render("Jurisdiction"),
		HeaderStyle.Render("Origin"))
	for _, r := range rules {
		origin := string(r.Origin)
		if r.Disabled {
			origin += " (disabled)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Kind, r.Label(), r.AccountCode, r.Jurisdiction, origin)
	}
	return tw.Flush()
}
