package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupViper(t *testing.T, backend string) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("ANTHROPIC_API_KEY", "")

	viper.Set("jurisdiction", "CA")
	viper.Set("storage.backend", backend)
	viper.Set("storage.path", filepath.Join(t.TempDir(), "rules.db"))
	viper.Set("logging.level", "error")
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.ExecuteContext(context.Background()), out.String())
	return out.String()
}

func classifyJSON(t *testing.T, description, amount string) model.CategorizationResult {
	t.Helper()
	out := execute(t, classifyCmd(), "--json", description, amount)

	var result model.CategorizationResult
	require.NoError(t, json.Unmarshal([]byte(out), &result), out)
	return result
}

func TestClassifyCommand(t *testing.T) {
	for _, backend := range []string{"sqlite", "bolt"} {
		t.Run(backend, func(t *testing.T) {
			setupViper(t, backend)

			result := classifyJSON(t, "SEND E-TFR FEE", "-4.99")
			assert.Equal(t, "404", result.AccountCode)
			assert.Equal(t, model.SourceExactRule, result.Source)

			out := execute(t, classifyCmd(), "FEDERAL PAYMENT CANADA", "2500")
			assert.Contains(t, out, "200")
		})
	}
}

func TestClassifyCommand_InvalidAmount(t *testing.T) {
	setupViper(t, "sqlite")

	cmd := classifyCmd()
	cmd.SetArgs([]string{"COFFEE", "abc"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.ExecuteContext(context.Background()))
}

func TestCorrectCommandPersists(t *testing.T) {
	setupViper(t, "sqlite")

	out := execute(t, correctCmd(), "JOE'S DINER #1234", "-18.50", "420")
	assert.Contains(t, out, "420")

	// A fresh runtime reloads the correction from the database.
	result := classifyJSON(t, "JOE'S DINER #99", "-12.00")
	assert.Equal(t, "420", result.AccountCode)
	assert.Equal(t, model.SourceLearned, result.Source)
}

func TestRulesCommands(t *testing.T) {
	setupViper(t, "bolt")

	out := execute(t, rulesCmd(), "add", "zoomcall", "--account", "489")
	assert.Contains(t, out, "ZOOMCALL")

	out = execute(t, rulesCmd(), "list", "--kind", "keyword")
	assert.Contains(t, out, "ZOOMCALL")

	exportPath := filepath.Join(t.TempDir(), "rules.json")
	out = execute(t, rulesCmd(), "export", exportPath)
	assert.Contains(t, out, "Exported")
	data, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ZOOMCALL")

	result := classifyJSON(t, "ZOOMCALL 5521", "-15")
	assert.Equal(t, "489", result.AccountCode)
}

func TestBatchCommand(t *testing.T) {
	setupViper(t, "sqlite")

	dir := t.TempDir()
	input := filepath.Join(dir, "in.csv")
	output := filepath.Join(dir, "out.csv")
	require.NoError(t, os.WriteFile(input, []byte("description,amount\nSEND E-TFR FEE,-4.99\nFEDERAL PAYMENT CANADA,2500\n"), 0o600))

	execute(t, batchCmd(), input, "--no-progress", "-o", output)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], ",404,")
	assert.Contains(t, lines[2], ",200,")
}

func TestAccountsCommand(t *testing.T) {
	setupViper(t, "sqlite")

	out := execute(t, accountsCmd(), "uk")
	assert.Contains(t, out, "GBP")
	assert.Contains(t, out, "404")
}

func TestMigrateCommand(t *testing.T) {
	setupViper(t, "sqlite")

	execute(t, migrateCmd())
	out := execute(t, migrateCmd(), "--status")
	assert.Contains(t, out, "Schema version 3 (latest 3)")
}

func TestVersionCommand(t *testing.T) {
	out := execute(t, versionCmd())
	assert.Equal(t, "ledgerline dev\n", out)
}
