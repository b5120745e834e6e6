package main

import (
	"fmt"
	"time"

	"github.com/rcourtman/puppetdb-inventory/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inventory cache commands",
	Long:  `Inspect or remove the cached --list inventory`,
}

var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the inventory cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer logging.Shutdown()

		svc, err := newService(cfg, nil)
		if err != nil {
			return err
		}
		st := svc.CacheStatus()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Cache file: %s\n", st.Path)
		if !st.Enabled {
			fmt.Fprintln(out, "Caching:    disabled (cache_duration is 0)")
		} else {
			fmt.Fprintf(out, "Caching:    %s\n", st.TTL)
		}
		if !st.Exists {
			fmt.Fprintln(out, "State:      missing")
			return nil
		}
		state := "fresh"
		if st.Stale {
			state = "stale"
		}
		fmt.Fprintf(out, "State:      %s\n", state)
		fmt.Fprintf(out, "Size:       %d bytes\n", st.Size)
		fmt.Fprintf(out, "Modified:   %s\n", st.Modified.Format(time.RFC3339))
		if st.Enabled {
			fmt.Fprintf(out, "Expires:    %s\n", st.Expires.Format(time.RFC3339))
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the inventory cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer logging.Shutdown()

		svc, err := newService(cfg, nil)
		if err != nil {
			return err
		}
		if err := svc.ClearCache(); err != nil {
			return err
		}
		log.Info().Str("path", cfg.CacheFile).Msg("Cleared inventory cache")
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", cfg.CacheFile)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatusCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
