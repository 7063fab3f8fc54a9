package cmd

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/MayankTamakuwala/HERMES/internal/logging"
)

func newLogsCmd() *cobra.Command {
	var (
		follow  bool
		lines   int
		level   string
		pattern string
		noColor bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View hermes's debug log file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogs(cmd.Context(), follow, lines, level, pattern, noColor)
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "follow the log file for new entries")
	cmd.Flags().IntVarP(&lines, "lines", "n", 100, "number of recent lines to show")
	cmd.Flags().StringVar(&level, "level", "", "minimum level to show (debug, info, warn, error)")
	cmd.Flags().StringVar(&pattern, "grep", "", "regular expression to filter entries")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")

	return cmd
}

func runLogs(ctx context.Context, follow bool, lines int, level, pattern string, noColor bool) error {
	var re *regexp.Regexp
	if pattern != "" {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("invalid --grep pattern: %w", err)
		}
	}

	v := logging.NewViewer(logging.ViewerConfig{
		Level:   level,
		Pattern: re,
		NoColor: noColor,
	}, os.Stdout)

	path, err := logging.FindLogFile("")
	if err != nil {
		return err
	}

	entries, err := v.Tail(path, lines)
	if err != nil {
		return err
	}
	v.Print(entries)

	if !follow {
		return nil
	}

	stream := make(chan logging.LogEntry, 64)
	errCh := make(chan error, 1)
	go func() {
		errCh <- v.Follow(ctx, path, stream)
	}()

	for {
		select {
		case entry, ok := <-stream:
			if !ok {
				return <-errCh
			}
			v.Print([]logging.LogEntry{entry})
		case <-ctx.Done():
			return nil
		}
	}
}
