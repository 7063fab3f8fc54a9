package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MayankTamakuwala/HERMES/internal/preflight"
)

func newCheckCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "check [path]",
		Short: "Run preflight checks (disk space, memory, permissions, embedder model)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) == 1 {
				path = args[0]
			}
			return runCheck(cmd.Context(), path, verbose)
		},
	}

	cmd.Flags().BoolVar(&verbose, "verbose", false, "show check details")

	return cmd
}

func runCheck(ctx context.Context, path string, verbose bool) error {
	checker := preflight.New(preflight.WithVerbose(verbose), preflight.WithOutput(os.Stdout))
	results := checker.RunAll(ctx, path)
	checker.PrintResults(results)

	if checker.HasCriticalFailures(results) {
		return fmt.Errorf("preflight checks failed")
	}
	return nil
}
