package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/Veraticus/ledgerline/internal/cli"
	"github.com/Veraticus/ledgerline/internal/config"
	"github.com/Veraticus/ledgerline/internal/registry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func accountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts [JURISDICTION]",
		Short: "Show a jurisdiction's chart of accounts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			chartsDir := config.ExpandPath(viper.GetString("charts_dir"))
			jurisdiction := viper.GetString("jurisdiction")
			if len(args) == 1 {
				jurisdiction = args[0]
			}

			// The chart does not need the rule database, so skip the full runtime.
			reg := registry.New(ctx, registry.EmbeddedSource{Dir: chartsDir}, config.Default().Jurisdiction, nil)
			return printAccounts(ctx, cmd, reg, jurisdiction)
		},
	}
}

func printAccounts(ctx context.Context, cmd *cobra.Command, reg *registry.Registry, jurisdiction string) error {
	set, err := reg.Load(ctx, jurisdiction)
	if err != nil {
		supported, _ := reg.Jurisdictions(ctx)
		return fmt.Errorf("%w (supported: %s)", err, strings.Join(supported, ", "))
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatTitle(fmt.Sprintf("%s (%s, %s)", set.Name(), set.Jurisdiction(), set.Currency())))
	return cli.WriteAccounts(cmd.OutOrStdout(), set.All())
}
