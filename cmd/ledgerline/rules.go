package main

import (
	"fmt"
	"os"

	"github.com/Veraticus/ledgerline/internal/cli"
	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/Veraticus/ledgerline/internal/rules"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage categorization rules",
		Long:  `List, add, remove, export and import the exact and keyword rules used for local matching.`,
	}

	cmd.AddCommand(listRulesCmd())
	cmd.AddCommand(addRuleCmd())
	cmd.AddCommand(removeRuleCmd())
	cmd.AddCommand(exportRulesCmd())
	cmd.AddCommand(importRulesCmd())

	return cmd
}

func listRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules for the current jurisdiction",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			kind, _ := cmd.Flags().GetString("kind")
			all, _ := cmd.Flags().GetBool("all")
			list := rt.engine.Rules().List(rules.Filter{
				Jurisdiction:    viper.GetString("jurisdiction"),
				Kind:            model.RuleKind(kind),
				IncludeDisabled: all,
			})

			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No rules found. Use 'ledgerline rules add' to create one."))
				return nil
			}
			return cli.WriteRules(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().String("kind", "", "only show rules of this kind (exact, keyword, multi)")
	cmd.Flags().Bool("all", false, "include disabled builtin rules")
	return cmd
}

func addRuleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add KEYWORD...",
		Short: "Add a rule",
		Long: `Add a keyword rule. Several keywords make a rule that needs all of them.
With --exact the single argument is a merchant name matched as a whole phrase.

Examples:
  ledgerline rules add PAYROLL --account 477
  ledgerline rules add GOOGLE ADS --account 400
  ledgerline rules add "TIM HORTONS" --exact --account 420`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, _ := cmd.Flags().GetString("account")
			note, _ := cmd.Flags().GetString("note")
			confidence, _ := cmd.Flags().GetInt("confidence")
			exact, _ := cmd.Flags().GetBool("exact")

			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			spec := rules.RuleSpec{
				AccountCode:  code,
				Note:         note,
				Jurisdiction: rt.cfg.Jurisdiction,
				Keywords:     args,
				Confidence:   confidence,
			}
			var rule model.Rule
			if exact {
				rule, err = rt.engine.Rules().AddExact(cmd.Context(), spec)
			} else {
				rule, err = rt.engine.Rules().AddRule(cmd.Context(), spec)
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(
				fmt.Sprintf("Added %s rule %s → %s (%s)", rule.Kind, rule.Label(), rule.AccountCode, rule.ID)))
			return nil
		},
	}
	cmd.Flags().StringP("account", "a", "", "account code the rule assigns")
	cmd.Flags().String("note", "", "note shown as the result's reasoning")
	cmd.Flags().Int("confidence", 0, "confidence for matches (default by rule kind)")
	cmd.Flags().Bool("exact", false, "match the merchant name as a whole phrase")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func removeRuleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID",
		Short: "Remove a rule",
		Long:  `Remove a rule by ID. Builtin rules are disabled rather than deleted.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.engine.Rules().Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Removed rule "+args[0]))
			return nil
		},
	}
}

func exportRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [FILE]",
		Short: "Export rules and corrections as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			snap := rt.engine.Rules().Export()
			if len(args) == 0 {
				return rules.WriteSnapshot(cmd.OutOrStdout(), snap)
			}

			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", args[0], err)
			}
			defer func() { _ = f.Close() }()
			if err := rules.WriteSnapshot(f, snap); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.SuccessStyle.Render(fmt.Sprintf("%s Exported %d rules and %d corrections to %s",
				cli.FolderIcon, len(snap.Rules), len(snap.Corrections), args[0])))
			return nil
		},
	}
}

func importRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Import rules and corrections from a JSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer func() { _ = f.Close() }()

			snap, err := rules.ReadSnapshot(f)
			if err != nil {
				return err
			}

			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			report, err := rt.engine.Rules().Import(cmd.Context(), snap)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(
				fmt.Sprintf("Imported %d new and %d updated records", report.Added, report.Updated)))
			if report.Rejected > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatWarning(fmt.Sprintf("%d records rejected:", report.Rejected)))
				for _, msg := range report.Errors {
					fmt.Fprintln(cmd.OutOrStdout(), "  "+cli.SubtleStyle.Render(msg))
				}
			}
			return nil
		},
	}
}
