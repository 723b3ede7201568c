package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/ledgerline/internal/cli"
	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/engine"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify DESCRIPTION AMOUNT",
		Short: "Categorize a single transaction",
		Long: `Categorize one bank statement line against the chart of accounts.

Negative amounts are money leaving the account, positive amounts money coming in.
Flags go before the description so that negative amounts are not read as flags.

Examples:
  ledgerline classify "SEND E-TFR FEE" -4.99
  ledgerline classify --date 2024-03-01 "FEDERAL PAYMENT CANADA" 2500
  ledgerline classify --force-remote "ACME CONSULTING" -1200`,
		Args: cobra.ExactArgs(2),
		RunE: runClassify,
	}

	// Flags
	cmd.Flags().String("date", "", "transaction date (YYYY-MM-DD)")
	cmd.Flags().Bool("force-remote", false, "ask the remote model even when a local rule matches")
	cmd.Flags().Bool("bypass-cache", false, "skip the result cache for this request")
	cmd.Flags().Bool("local-only", false, "never call the remote model")
	cmd.Flags().Bool("json", false, "print the result as JSON")
	cmd.Flags().SetInterspersed(false)

	_ = viper.BindPFlag("classify.local_only", cmd.Flags().Lookup("local-only"))

	return cmd
}

func runClassify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	req, err := buildRequest(cmd, args[0], args[1])
	if err != nil {
		return err
	}
	req.ForceRemote, _ = cmd.Flags().GetBool("force-remote")
	req.BypassCache, _ = cmd.Flags().GetBool("bypass-cache")
	req.LocalOnly = viper.GetBool("classify.local_only")

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	result, err := rt.engine.Classify(ctx, req)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderResult(req.Description, result))
	return nil
}

// buildRequest turns positional description and amount arguments into a request.
func buildRequest(cmd *cobra.Command, description, rawAmount string) (engine.Request, error) {
	amount, err := engine.ParseAmount(rawAmount)
	if err != nil {
		return engine.Request{}, common.NewUserError(fmt.Sprintf("%q is not an amount", rawAmount), err)
	}

	req := engine.Request{
		Description:  strings.TrimSpace(description),
		Amount:       amount,
		Jurisdiction: viper.GetString("jurisdiction"),
	}

	if cmd.Flags().Lookup("date") != nil {
		if raw, _ := cmd.Flags().GetString("date"); raw != "" {
			date, err := time.Parse("2006-01-02", raw)
			if err != nil {
				return engine.Request{}, common.NewUserError(fmt.Sprintf("invalid --date %q: use YYYY-MM-DD", raw), err)
			}
			req.Date = date
		}
	}
	return req, nil
}
