// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/adiadia/event-aggregator/internal/app"
	"github.com/adiadia/event-aggregator/internal/config"
	"github.com/adiadia/event-aggregator/internal/domain"
	"github.com/spf13/cobra"
)

func newStatsCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the aggregate counters of a running aggregator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := client().Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), s)
		},
	}
}

func newEventsCmd(client func() *apiClient) *cobra.Command {
	var topic string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List events processed since the aggregator started",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			views, err := client().Events(cmd.Context(), topic)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), views)
			}
			return printViews(cmd.OutOrStdout(), views)
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "only show this topic")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

// newLedgerCmd reads the durable ledger directly, using the same
// configuration as the aggregator.
func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the durable dedup ledger",
	}

	withBackend := func(run func(cmd *cobra.Command, backend app.Backend, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cfg.AutoMigrate = false

			backend, err := app.OpenBackend(cmd.Context(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
			if err != nil {
				return err
			}
			defer backend.Close()
			return run(cmd, backend, args)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "count",
			Short: "Number of unique events ever processed",
			Args:  cobra.NoArgs,
			RunE: withBackend(func(cmd *cobra.Command, backend app.Backend, _ []string) error {
				n, err := backend.Ledger.CountProcessed(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "topics",
			Short: "Topics with at least one processed event",
			Args:  cobra.NoArgs,
			RunE: withBackend(func(cmd *cobra.Command, backend app.Backend, _ []string) error {
				topics, err := backend.Ledger.ListTopics(cmd.Context())
				if err != nil {
					return err
				}
				for _, t := range topics {
					fmt.Fprintln(cmd.OutOrStdout(), t)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "events <topic>",
			Short: "Ledger entries of a topic ordered by processed_at",
			Args:  cobra.ExactArgs(1),
			RunE: withBackend(func(cmd *cobra.Command, backend app.Backend, args []string) error {
				entries, err := backend.Ledger.ListEventsForTopic(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printEntries(cmd.OutOrStdout(), entries)
			}),
		},
	)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printViews(w io.Writer, views []domain.ProcessedEvent) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTOPIC\tEVENT_ID\tSOURCE\tPROCESSED_AT")
	for _, v := range views {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", v.Seq, v.Topic, v.EventID, v.Source, v.ProcessedAt.Format(time.RFC3339Nano))
	}
	return tw.Flush()
}

func printEntries(w io.Writer, entries []domain.LedgerEntry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EVENT_ID\tPROCESSED_AT")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\n", e.EventID, e.ProcessedAt.Format(time.RFC3339Nano))
	}
	return tw.Flush()
}
