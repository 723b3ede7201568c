package main

import (
	"fmt"

	"github.com/Veraticus/ledgerline/internal/cli"
	"github.com/spf13/cobra"
)

func correctCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "correct DESCRIPTION AMOUNT ACCOUNT_CODE",
		Short: "Teach the engine the right account for a transaction",
		Long: `Record a correction. Later transactions with the same wording, ignoring
store numbers and reference codes, are assigned ACCOUNT_CODE.

Example:
  ledgerline correct "JOE'S DINER #1234" -18.50 420`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildRequest(cmd, args[0], args[1])
			if err != nil {
				return err
			}
			note, _ := cmd.Flags().GetString("note")

			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			correction, err := rt.engine.RecordCorrection(cmd.Context(), req, args[2], note)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(
				fmt.Sprintf("Learned %q → %s in %s", correction.Pattern, correction.AccountCode, correction.Jurisdiction)))
			return nil
		},
	}
	cmd.Flags().String("note", "", "why this account is right")
	cmd.Flags().SetInterspersed(false)
	return cmd
}
