// Package cmd provides the CLI commands for hermes.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MayankTamakuwala/HERMES/internal/logging"
	"github.com/MayankTamakuwala/HERMES/internal/profiling"
)

var (
	debugMode    bool
	configDir    string
	loggingClose func()

	profileCPU   string
	profileMem   string
	profileTrace string
	profiler     = profiling.NewProfiler()
	cpuCleanup   func()
	traceCleanup func()
)

// NewRootCmd creates the root command for the hermes CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hermes",
		Short: "Local semantic code search engine",
		Long: `HERMES indexes a codebase into dense and sparse artifacts and serves
hybrid (BM25 + embedding) search with cross-encoder reranking over HTTP.

Run 'hermes index <path>' to build an index, then 'hermes serve' to expose
the search API.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "directory to load hermes.yaml from")
	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "write execution trace to file")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg := logging.DefaultConfig()
		if debugMode {
			cfg = logging.DebugConfig()
		}
		logger, cleanup, err := logging.Setup(cfg)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		loggingClose = cleanup

		if profileCPU != "" {
			c, err := profiler.StartCPU(profileCPU)
			if err != nil {
				return err
			}
			cpuCleanup = c
		}
		if profileTrace != "" {
			c, err := profiler.StartTrace(profileTrace)
			if err != nil {
				return err
			}
			traceCleanup = c
		}
		return nil
	}
	cmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if cpuCleanup != nil {
			cpuCleanup()
		}
		if traceCleanup != nil {
			traceCleanup()
		}
		if profileMem != "" {
			if err := profiler.WriteHeap(profileMem); err != nil {
				slog.Warn("failed to write memory profile", slog.String("error", err.Error()))
			}
		}
		if loggingClose != nil {
			loggingClose()
		}
		return nil
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
