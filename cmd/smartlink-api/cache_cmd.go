package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCommand() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the resolution cache",
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			built, err := openComponents(cmd.Context())
			if err != nil {
				return err
			}
			defer built.Close()
			stats, statsErr := built.cache.Stats(cmd.Context())
			if err := writeJSON(cmd, stats); err != nil {
				return err
			}
			return statsErr
		},
	})

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			built, err := openComponents(cmd.Context())
			if err != nil {
				return err
			}
			defer built.Close()
			removed, err := built.cache.CleanupExpired(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired entries\n", removed)
			return err
		},
	})

	var popularLimit int
	popularCmd := &cobra.Command{
		Use:   "popular",
		Short: "List the most requested cached tracks",
		RunE: func(cmd *cobra.Command, args []string) error {
			built, err := openComponents(cmd.Context())
			if err != nil {
				return err
			}
			defer built.Close()
			entries, err := built.cache.Popular(cmd.Context(), popularLimit)
			if err != nil {
				return err
			}
			return writeJSON(cmd, entries)
		},
	}
	popularCmd.Flags().IntVar(&popularLimit, "limit", 10, "Number of entries to list")
	cacheCmd.AddCommand(popularCmd)

	return cacheCmd
}

func writeJSON(cmd *cobra.Command, value interface{}) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
