package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"hiddenprotocol/internal/config"
	"hiddenprotocol/internal/domain"
	"hiddenprotocol/internal/store"
)

func historyCmd() *cobra.Command {
	var (
		limit int
		since time.Duration
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently processed links",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(resolveConfigPath(), configPath == "")
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.History.Enabled {
				return fmt.Errorf("delivery history is disabled (history.enabled=false)")
			}

			s, err := store.NewSQLiteStore(cfg.History.DBPath, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			deliveries, err := s.RecentDeliveries(ctx, limit)
			if err != nil {
				return err
			}
			printDeliveries(deliveries)

			counts, err := s.CountByOutcome(ctx, time.Now().Add(-since))
			if err != nil {
				return err
			}
			fmt.Printf("\nLast %s: %d delivered, %d failed, %d rejected\n", since,
				counts[domain.OutcomeDelivered], counts[domain.OutcomeFailed], counts[domain.OutcomeRejected])
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "window for the outcome summary")
	return cmd
}

func printDeliveries(deliveries []domain.Delivery) {
	if len(deliveries) == 0 {
		fmt.Println("No deliveries recorded yet.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tOUTCOME\tROUTE\tSENDER\tSIZE\tURL")
	for _, d := range deliveries {
		outcome := string(d.Outcome)
		if d.Category != "" && d.Outcome == domain.OutcomeFailed {
			outcome += " (" + string(d.Category) + ")"
		}
		size := "-"
		if d.Bytes > 0 {
			size = humanize.Bytes(uint64(d.Bytes))
		}
		route := string(d.RouteTag)
		if route == "" {
			route = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			humanize.Time(d.CreatedAt), outcome, route, d.Sender, size, d.URL)
	}
	w.Flush()
}
