package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the applied patch cache",
	}

	cacheCmd.AddCommand(newCacheListCommand(ctx))
	cacheCmd.AddCommand(newCacheResetCommand(ctx))

	return cacheCmd
}

func newCacheListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show applied patches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := ctx.manager()
			if err != nil {
				return err
			}
			records, err := manager.AppliedPatches(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No patches applied")
				return nil
			}
			const stampLayout = "2006-01-02 15:04"
			rows := make([][]string, 0, len(records))
			for _, rec := range records {
				applied := ""
				if !rec.AppliedAt.IsZero() {
					applied = rec.AppliedAt.Local().Format(stampLayout)
				}
				rows = append(rows, []string{strconv.Itoa(rec.Index), rec.Filename, applied, rec.SessionID})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Index", "Filename", "Applied At", "Session"},
				rows,
				[]columnAlignment{alignRight},
				fmt.Sprintf("%d applied", len(records)),
			))
			return nil
		},
	}
}

func newCacheResetCommand(ctx *commandContext) *cobra.Command {
	var hard bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget applied patches so the next update reapplies them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := ctx.manager()
			if err != nil {
				return err
			}
			removed, err := manager.ResetCache(cmd.Context(), hard)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if hard {
				cfg, _ := ctx.ensureConfig()
				fmt.Fprintf(out, "Deleted applied patch cache %s\n", cfg.Paths.CachePath)
				return nil
			}
			fmt.Fprintf(out, "Cleared %d applied patch record(s)\n", removed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&hard, "hard", false, "Delete the cache database file (recovers from schema mismatches)")
	return cmd
}
