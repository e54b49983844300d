package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentrelay/engine"
)

func newListCmd(g *globalFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted runs, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := g.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.Runs(limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tARTIFACTS\tUPDATED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", r.RunID, r.Artifacts, r.UpdatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs (0 for all)")
	return cmd
}

func newShowCmd(g *globalFlags) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print a persisted artifact of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := g.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			data, err := store.Get(args[0], name)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&name, "artifact", "a", engine.ReportArtifact, "Artifact name ("+engine.ReportArtifact+" or "+engine.FinalArtifact+")")
	return cmd
}
