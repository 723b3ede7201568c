package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Veraticus/ledgerline/internal/cli"
	"github.com/Veraticus/ledgerline/internal/engine"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Categorize a CSV of transactions",
		Long: `Categorize every row of a CSV file with columns
description,amount[,date[,jurisdiction]]. Use - to read from stdin.

Results are written as CSV to stdout or to --output.`,
		Args: cobra.ExactArgs(1),
		RunE: runBatch,
	}

	// Flags
	cmd.Flags().StringP("output", "o", "", "write results to this file instead of stdout")
	cmd.Flags().IntP("workers", "w", 0, "concurrent classifications (default from config)")
	cmd.Flags().Bool("local-only", false, "never call the remote model")
	cmd.Flags().Bool("no-progress", false, "hide the progress bar")

	_ = viper.BindPFlag("engine.workers", cmd.Flags().Lookup("workers"))

	return cmd
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var in io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	reqs, err := cli.ReadTransactions(in, viper.GetString("jurisdiction"))
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), cli.FormatWarning("No transactions found"))
		return nil
	}
	if localOnly, _ := cmd.Flags().GetBool("local-only"); localOnly {
		for i := range reqs {
			reqs[i].LocalOnly = true
		}
	}

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	var opts []engine.BatchOption
	if hide, _ := cmd.Flags().GetBool("no-progress"); !hide {
		progress := cli.NewProgress(cmd.ErrOrStderr(), len(reqs))
		opts = append(opts, engine.WithProgress(progress.Update))
	}

	items, err := rt.engine.ClassifyBatch(ctx, reqs, rt.cfg.Engine.Workers, opts...)
	if err != nil {
		return fmt.Errorf("batch interrupted: %w", err)
	}

	var out io.Writer = cmd.OutOrStdout()
	if path, _ := cmd.Flags().GetString("output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		defer func() {
			if closeErr := f.Close(); closeErr != nil {
				slog.Error("Failed to close output file", "error", closeErr)
			}
		}()
		out = f
	}
	if err := cli.WriteResults(out, reqs, items); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}

	failed := 0
	for _, item := range items {
		if item.Err != nil {
			failed++
		}
	}
	stats := rt.engine.Stats()
	fmt.Fprintln(cmd.ErrOrStderr(), cli.FormatSuccess(
		fmt.Sprintf("Classified %d transactions (%d failed)", len(items)-failed, failed)))
	fmt.Fprintln(cmd.ErrOrStderr(), cli.SubtleStyle.Render(
		fmt.Sprintf("%s %d remote calls, %d cache hits", cli.ChartIcon, stats.RemoteCalls, stats.ResultCache.Hits)))
	return nil
}
