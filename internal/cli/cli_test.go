package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/engine"
	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadTransactions(t *testing.T) {
	input := `description,amount,date
SEND E-TFR FEE,-4.99,2024-03-01
"FEDERAL PAYMENT, CANADA","2,500.00",
TIM HORTONS #123,-3.45,2024-03-02,us
`
	reqs, err := ReadTransactions(strings.NewReader(input), "CA")
	require.NoError(t, err)
	require.Len(t, reqs, 3)

	assert.Equal(t, "SEND E-TFR FEE", reqs[0].Description)
	assert.True(t, reqs[0].Amount.Equal(decimal.RequireFromString("-4.99")))
	assert.Equal(t, 2024, reqs[0].Date.Year())
	assert.Equal(t, "CA", reqs[0].Jurisdiction)

	assert.Equal(t, "FEDERAL PAYMENT, CANADA", reqs[1].Description)
	assert.True(t, reqs[1].Amount.Equal(decimal.NewFromInt(2500)))
	assert.True(t, reqs[1].Date.IsZero())

	assert.Equal(t, "us", reqs[2].Jurisdiction)
}

func TestReadTransactions_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "missing amount", input: "COFFEE\n"},
		{name: "bad amount", input: "COFFEE,abc\n"},
		{name: "bad date", input: "COFFEE,-3,03/01/2024\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadTransactions(strings.NewReader(tt.input), "CA")
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrInvalidRequest)
			assert.Contains(t, err.Error(), "line 1")
		})
	}
}

func TestWriteResults(t *testing.T) {
	reqs := []engine.Request{
		{Description: "SEND E-TFR FEE", Amount: decimal.RequireFromString("-4.99")},
		{Description: " ", Amount: decimal.NewFromInt(-1)},
	}
	items := []engine.BatchItem{
		{Result: model.CategorizationResult{AccountCode: "404", AccountName: "Bank Fees", Confidence: 95, Source: model.SourceExactRule}},
		{Err: errors.New("description is required")},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteResults(&buf, reqs, items))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "SEND E-TFR FEE,-4.99,404,Bank Fees,95,exact-rule,", lines[1])
	assert.Contains(t, lines[2], "description is required")
}

func TestRenderResult(t *testing.T) {
	out := RenderResult("SEND E-TFR FEE", model.CategorizationResult{
		AccountCode:      "404",
		AccountName:      "Bank Fees",
		Confidence:       70,
		Source:           model.SourceRemoteCorrected,
		Jurisdiction:     "CA",
		SuggestedKeyword: "E-TFR FEE",
		Reasoning:        "Interac fee",
	})

	for _, want := range []string{"404 Bank Fees", "70%", "remote-corrected", "E-TFR FEE", "Interac fee"} {
		assert.Contains(t, out, want)
	}
}

func TestWriteTables(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAccounts(&buf, []model.Account{
		{Code: "404", Name: "Bank Fees", Type: model.AccountTypeExpense, TaxCode: "Exempt"},
	}))
	assert.Contains(t, buf.String(), "Bank Fees")
	assert.Contains(t, buf.String(), "Expense")

	buf.Reset()
	require.NoError(t, WriteRules(&buf, []model.Rule{
		{ID: "r1", Kind: model.RuleKindKeyword, Keywords: []string{"PAYROLL"}, AccountCode: "477", Jurisdiction: "CA", Origin: model.RuleOriginBuiltin, Disabled: true},
	}))
	assert.Contains(t, buf.String(), "PAYROLL")
	assert.Contains(t, buf.String(), "builtin (disabled)")
}

func TestFormatMessages(t *testing.T) {
	tests := []struct {
		name   string
		format func(string) string
		icon   string
	}{
		{"success", FormatSuccess, SuccessIcon},
		{"error", FormatError, ErrorIcon},
		{"warning", FormatWarning, WarningIcon},
		{"info", FormatInfo, InfoIcon},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := tt.format("rules saved")
			assert.Contains(t, out, tt.icon)
			assert.Contains(t, out, "rules saved")
		})
	}
}

func TestConfidenceStyle(t *testing.T) {
	assert.Equal(t, SuccessStyle.GetForeground(), ConfidenceStyle(95).GetForeground())
	assert.Equal(t, WarningStyle.GetForeground(), ConfidenceStyle(60).GetForeground())
	assert.Equal(t, ErrorStyle.GetForeground(), ConfidenceStyle(10).GetForeground())
}

func TestProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, 3)
	p.Update(1, 3)
	p.Update(3, 3)
	assert.True(t, p.Done())
}
