package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"melodist/internal/pitch"
	"melodist/pkg/melodist"
)

func newRunsCmd(opts *cliOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List persisted runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.settings(cmd, nil)
			if err != nil {
				return err
			}
			client, err := opts.client(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			items, err := client.Runs(cmd.Context(), melodist.RunsRequest{Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "no runs")
				return nil
			}
			for _, item := range items {
				fmt.Fprintf(out, "run_id=%s created_at=%s input=%s bpm=%d divisions=%d population=%d generations=%d seed=%d best=%s interrupted=%t\n",
					item.RunID,
					item.CreatedAtUTC,
					item.InputPath,
					item.BPM,
					item.Divisions,
					item.Population,
					item.Generations,
					item.Seed,
					humanize.Comma(item.FinalBestFitness),
					item.Interrupted)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	return cmd
}

func newHistoryCmd(opts *cliOptions) *cobra.Command {
	var (
		latest bool
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Print per-generation diagnostics of a run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.settings(cmd, nil)
			if err != nil {
				return err
			}
			client, err := opts.client(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			diagnostics, err := client.History(cmd.Context(), melodist.HistoryRequest{
				RunID:  firstArg(args),
				Latest: latest,
				Limit:  limit,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range diagnostics {
				fmt.Fprintf(out, "generation=%d best=%s mean=%s worst=%s population=%d elapsed=%s\n",
					d.Generation,
					humanize.Comma(d.BestFitness),
					humanize.Commaf(d.MeanFitness),
					humanize.Comma(d.WorstFitness),
					d.PopulationSize,
					d.Elapsed.Round(time.Millisecond))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&latest, "latest", false, "use the most recent run")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of generations to print (0 = all)")
	return cmd
}

func newTopCmd(opts *cliOptions) *cobra.Command {
	var (
		latest bool
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "top [run-id]",
		Short: "Print the best chromosomes of a run's final generation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.settings(cmd, nil)
			if err != nil {
				return err
			}
			client, err := opts.client(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			top, err := client.Top(cmd.Context(), melodist.TopRequest{RunID: firstArg(args), Latest: latest, Limit: limit})
			if err != nil {
				return err
			}
			table := pitch.Standard()
			out := cmd.OutOrStdout()
			for i, item := range top {
				notes := make([]string, len(item.Chromosome))
				for j, gene := range item.Chromosome {
					notes[j] = table.Nearest(gene.Frequency).Name
				}
				fmt.Fprintf(out, "rank=%d fitness=%s notes=%s\n", i+1, humanize.Comma(item.Fitness), strings.Join(notes, " "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&latest, "latest", false, "use the most recent run")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of chromosomes to print (0 = all)")
	return cmd
}

func newExportCmd(opts *cliOptions) *cobra.Command {
	var (
		latest bool
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "export [run-id]",
		Short: "Copy a run's artifacts into another directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.settings(cmd, nil)
			if err != nil {
				return err
			}
			client, err := opts.client(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			exported, err := client.Export(cmd.Context(), melodist.ExportRequest{RunID: firstArg(args), Latest: latest, OutDir: outDir})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported run_id=%s dir=%s\n", exported.RunID, exported.Directory)
			return nil
		},
	}
	cmd.Flags().BoolVar(&latest, "latest", false, "use the most recent run")
	cmd.Flags().StringVar(&outDir, "out", "exports", "destination directory")
	return cmd
}

func newPitchesCmd(_ *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pitches",
		Short: "Print the pitch table genes are drawn from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			for _, p := range pitch.Standard().Pitches() {
				fmt.Fprintf(out, "%-4s %9.2f Hz  midi=%d\n", p.Name, p.Frequency, p.MIDIKey)
			}
			return nil
		},
	}
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
