package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"finclash/internal/cache"

	"github.com/spf13/cobra"
)

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the durable cache mirror",
	}
	cmd.AddCommand(cacheStatsCmd())
	return cmd
}

func cacheStatsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Restore the durable mirror and print cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig("finclash-cli")
			if err != nil {
				return err
			}
			a, err := buildApp(cfg, log, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.cache.Restore(cmd.Context())
			if err != nil {
				return fmt.Errorf("restore: %w", err)
			}
			st := a.cache.Stats()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			printStats(out, n, st)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print stats as JSON")
	return cmd
}

func printStats(w io.Writer, restored int, st cache.Stats) {
	fmt.Fprintf(w, "restored:   %d\n", restored)
	fmt.Fprintf(w, "entries:    %d\n", st.Count)
	types := make([]string, 0, len(st.ByType))
	for t := range st.ByType {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(w, "  %-13s %d\n", t, st.ByType[cache.DataType(t)])
	}
	if st.Count > 0 {
		fmt.Fprintf(w, "oldest age: %s\n", st.OldestAge)
		fmt.Fprintf(w, "newest age: %s\n", st.NewestAge)
	}
}
