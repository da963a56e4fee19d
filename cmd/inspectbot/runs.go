package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"inspectbot/internal/config"
	"inspectbot/internal/history"

	"github.com/spf13/cobra"
)

func runsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent inspection job runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.History.Enabled {
				return fmt.Errorf("history is disabled in %s", cfgPath)
			}

			store, err := history.NewStore(cfg.History.DBPath, logger)
			if err != nil {
				return fmt.Errorf("history store: %w", err)
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			runs, err := store.RecentRuns(ctx, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No runs recorded yet.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tPLATFORM\tPARTICIPANT\tSTATUS\tDURATION\tFLOW")
			for _, r := range runs {
				dur := "-"
				if r.Status != history.RunRunning {
					dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
				}
				flow := r.Params.IntegrationFlow
				if flow == "" {
					flow = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.StartedAt.Local().Format("2006-01-02 15:04:05"),
					r.Platform, r.Participant, r.Status, dur, flow)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to show")
	return cmd
}
