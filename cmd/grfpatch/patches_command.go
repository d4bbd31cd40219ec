package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"grfpatch/internal/patchcache"
	"grfpatch/internal/patchlist"
)

func newPatchesCommand(ctx *commandContext) *cobra.Command {
	var pendingOnly bool

	cmd := &cobra.Command{
		Use:   "patches",
		Short: "List the server's patches and whether each is applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			server, ok := cfg.PatchServer()
			if !ok {
				return errors.New("no patch server configured (add a [[web.patch_servers]] entry)")
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			manager, err := ctx.manager()
			if err != nil {
				return err
			}

			fetcher := patchlist.NewFetcher(time.Duration(cfg.Patching.ListTimeout)*time.Second, logger)
			patches, err := fetcher.Fetch(cmd.Context(), server.PlistURL)
			if err != nil {
				return fmt.Errorf("fetch patch list: %w", err)
			}
			records, err := manager.AppliedPatches(cmd.Context())
			if err != nil {
				return fmt.Errorf("read applied patch cache: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(patches) == 0 {
				fmt.Fprintf(out, "%s publishes no patches\n", server.Name)
				return nil
			}
			rows, pending := patchRows(patches, records, pendingOnly)
			if len(rows) == 0 {
				fmt.Fprintln(out, "No pending patches")
				return nil
			}
			footer := fmt.Sprintf("%d listed, %d pending (server %s)", len(patches), pending, server.Name)
			fmt.Fprintln(out, renderTable(
				[]string{"Index", "Filename", "Applied", "Applied At"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
				footer,
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&pendingOnly, "pending", false, "Only show patches that are not applied")
	return cmd
}

func patchRows(patches []patchlist.Patch, records []patchcache.Record, pendingOnly bool) ([][]string, int) {
	applied := make(map[int]patchcache.Record, len(records))
	for _, rec := range records {
		applied[rec.Index] = rec
	}
	rows := make([][]string, 0, len(patches))
	pending := 0
	for _, p := range patches {
		rec, ok := applied[p.Index]
		if !ok {
			pending++
		} else if pendingOnly {
			continue
		}
		appliedAt := ""
		if ok && !rec.AppliedAt.IsZero() {
			appliedAt = rec.AppliedAt.Local().Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{strconv.Itoa(p.Index), p.Filename, yesNo(ok), appliedAt})
	}
	return rows, pending
}
