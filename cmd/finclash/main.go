// finclash serves cached market data and the paper-trading competition.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "finclash",
		Short: "Market-data cache and paper-trading game server",
		Long: `finclash fronts the Finnhub API with a rate-limited TTL/LRU cache
and runs a paper-trading competition priced from live quotes.`,
		SilenceUsage: true,
	}

	root.AddCommand(versionCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(quoteCmd())
	root.AddCommand(cacheCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "finclash version %s\n", version)
		},
	}
}
