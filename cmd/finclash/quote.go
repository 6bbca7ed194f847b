package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"
)

func quoteCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "quote SYMBOL",
		Short: "Fetch one quote through the cache and print it as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig("finclash-cli")
			if err != nil {
				return err
			}
			a, err := buildApp(cfg, log, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if _, err := a.cache.Restore(ctx); err != nil {
				log.Warn("durable cache restore failed", "err", err)
			}
			q, err := a.market.GetQuote(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(q)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "overall request timeout")
	return cmd
}
