package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"grfpatch/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check directories, archive, and patch server readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			manager, err := ctx.manager()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := isTerminal(out)
			failed := 0

			for _, line := range renderSectionHeader("Preflight", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, result := range preflight.RunAll(cmd.Context(), cfg) {
				kind := statusOK
				if !result.Passed {
					kind = statusError
					failed++
				}
				fmt.Fprintln(out, renderStatusLine(result.Name, kind, result.Detail, colorize))
			}

			fmt.Fprintln(out)
			for _, line := range renderSectionHeader("Stages", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, health := range manager.Health(cmd.Context()) {
				kind := statusOK
				if !health.Ready {
					kind = statusWarn
				}
				fmt.Fprintln(out, renderStatusLine(health.Name, kind, health.Detail, colorize))
			}

			fmt.Fprintln(out)
			for _, line := range renderSectionHeader("Cache", colorize) {
				fmt.Fprintln(out, line)
			}
			records, err := manager.AppliedPatches(cmd.Context())
			if err != nil {
				failed++
				fmt.Fprintln(out, renderStatusLine("Applied patches", statusError, err.Error(), colorize))
			} else {
				detail := fmt.Sprintf("%d recorded in %s", len(records), cfg.Paths.CachePath)
				if len(records) > 0 {
					last := records[len(records)-1]
					detail = fmt.Sprintf("%s, latest #%d %s", detail, last.Index, last.Filename)
				}
				fmt.Fprintln(out, renderStatusLine("Applied patches", statusInfo, detail, colorize))
			}

			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}
