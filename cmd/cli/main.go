// SPDX-License-Identifier: Apache-2.0

// Command aggctl publishes events to the aggregator and inspects its state.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "aggctl",
		Short:         "Event aggregator CLI",
		Long:          "Publish events to the aggregator, read its stats and inspect the dedup ledger.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	var apiURL string
	root.PersistentFlags().StringVar(&apiURL, "api", envOr("AGG_API_URL", "http://localhost:8080"), "aggregator API base URL")

	client := func() *apiClient { return newAPIClient(apiURL) }

	root.AddCommand(
		newPublishCmd(client),
		newStatsCmd(client),
		newEventsCmd(client),
		newLedgerCmd(),
		newValidateCmd(),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
