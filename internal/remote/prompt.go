package remote

import (
	"fmt"
	"strings"

	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/Veraticus/ledgerline/internal/registry"
)

// BuildPrompt renders the categorization request for one transaction.
func BuildPrompt(txn model.Transaction, set *registry.AccountSet) string {
	var accounts strings.Builder
	for _, acct := range set.All() {
		fmt.Fprintf(&accounts, "- %s | %s | %s", acct.Code, acct.Name, acct.Type.Label())
		if acct.TaxCode != "" {
			fmt.Fprintf(&accounts, " | tax %s", acct.TaxCode)
		}
		accounts.WriteString("\n")
	}

	var guidance strings.Builder
	for _, line := range set.Guidance() {
		fmt.Fprintf(&guidance, "- %s\n", line)
	}
	if guidance.Len() == 0 {
		guidance.WriteString("- None\n")
	}

	transactionDetails := fmt.Sprintf("Description: %s\nAmount: %s %s (%s)",
		txn.Description,
		txn.Amount.StringFixed(2),
		set.Currency(),
		directionLabel(txn.Direction()))
	if !txn.Date.IsZero() {
		transactionDetails += fmt.Sprintf("\nDate: %s", txn.Date.Format("2006-01-02"))
	}

	return fmt.Sprintf(`Assign this bank transaction to exactly one account from the %s (%s) chart of accounts.

Transaction:
%s

Sign convention: OUTFLOW means money left the business account, INFLOW means money arrived.
Revenue accounts never receive OUTFLOWS. Expense and cost of goods sold accounts never receive INFLOWS.

Valid accounts (code | name | type):
%s
Business rules:
%s
Reply with exactly these four lines and nothing else:
ACCOUNT_CODE: <one code from the list above>
CONFIDENCE: <0-100>
REASONING: <one sentence>
KEYWORD: <a short merchant keyword for future matching, or NONE>`,
		set.Name(), set.Jurisdiction(),
		transactionDetails,
		accounts.String(),
		guidance.String())
}

// chatPrompt frames a free-form bookkeeping question.
func chatPrompt(question string) string {
	return fmt.Sprintf("Answer this bookkeeping question briefly and plainly.\n\nQuestion: %s", strings.TrimSpace(question))
}

func directionLabel(d model.Direction) string {
	switch d {
	case model.DirectionInflow:
		return "INFLOW"
	case model.DirectionOutflow:
		return "OUTFLOW"
	default:
		return "ZERO"
	}
}
