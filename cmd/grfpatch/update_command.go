package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"grfpatch/internal/thor"
	"grfpatch/internal/workflow"
)

func newUpdateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Download and apply every pending patch",
		Long: "Fetch the patch list from the configured server and apply each patch\n" +
			"that is not yet recorded in the applied patch cache. Interrupting the\n" +
			"command cancels the session after the current chunk.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := ctx.manager()
			if err != nil {
				return err
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, renderErr := runSession(cmd.OutOrStdout(), manager, func() workflow.Result {
				return manager.StartUpdate(runCtx)
			})
			if err := sessionOutcome(result); err != nil {
				return err
			}
			return renderErr
		},
	}
}

func newApplyCommand(ctx *commandContext) *cobra.Command {
	var listOnly bool

	cmd := &cobra.Command{
		Use:   "apply <package>",
		Short: "Apply a local patch package",
		Long: "Apply a single .thor or zip patch package to the game directory outside\n" +
			"the patch list. The applied patch cache is not changed.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if listOnly {
				names, err := thor.List(args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, name := range names {
					fmt.Fprintln(out, name)
				}
				fmt.Fprintf(out, "%d entries\n", len(names))
				return nil
			}
			manager, err := ctx.manager()
			if err != nil {
				return err
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, renderErr := runSession(cmd.OutOrStdout(), manager, func() workflow.Result {
				return manager.ManualPatch(runCtx, args[0])
			})
			if err := sessionOutcome(result); err != nil {
				return err
			}
			return renderErr
		},
	}
	cmd.Flags().BoolVar(&listOnly, "list", false, "Print the package entries without applying them")
	return cmd
}

// sessionOutcome maps a session result to the command's exit status.
// Cancellation is not a failure.
func sessionOutcome(result workflow.Result) error {
	if result.Success || result.Cancelled {
		return nil
	}
	if result.Message != "" {
		return errors.New(result.Message)
	}
	return result.Error
}
