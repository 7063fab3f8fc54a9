package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MayankTamakuwala/HERMES/internal/config"
	"github.com/MayankTamakuwala/HERMES/internal/embed"
	"github.com/MayankTamakuwala/HERMES/internal/index"
	"github.com/MayankTamakuwala/HERMES/internal/output"
	"github.com/MayankTamakuwala/HERMES/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var offline bool
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch <repo-path>",
		Short: "Rebuild the index whenever files under repo-path change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), args[0], offline, debounce)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "use static embeddings instead of downloading a model")
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "time to coalesce bursts of file events before reindexing")

	return cmd
}

func runWatch(ctx context.Context, repoPath string, offline bool, debounce time.Duration) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}

	embedder, err := newEmbedder(ctx, cfg, offline)
	if err != nil {
		return err
	}
	biencoder := embed.NewBiencoder(embedder)

	orch := index.New(cfg.General.ArtifactsDir, biencoder, index.Config{
		ChunkMaxChars:     cfg.Chunk.MaxChars,
		ChunkOverlapLines: cfg.Chunk.OverlapLines,
		ChunkMinChars:     cfg.Chunk.MinChars,
		EmbedBatchSize:    cfg.Embed.BiencoderBatchSize,
		UseIVF:            cfg.Index.FaissUseIVF,
		IVFNlist:          cfg.Index.FaissIVFNlist,
		IVFNprobe:         cfg.Index.FaissNprobe,
	})

	w, err := watcher.NewHybridWatcher(watcher.Options{DebounceWindow: debounce})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := w.Start(ctx, repoPath); err != nil {
		return err
	}
	defer w.Stop()

	out := output.New(os.Stdout)

	if err := orch.StartIndex(ctx, repoPath); err != nil {
		return err
	}
	out.Statusf("→", "watching %s, initial index started", repoPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-sigCh:
			return nil
		case err := <-w.Errors():
			out.Warningf("watcher error: %s", err)
		case events := <-w.Events():
			if len(events) == 0 {
				continue
			}
			state, _, _, _ := orch.Status()
			if state == index.StateIndexing {
				slog.Info("watch: index build already running, change will be picked up next cycle")
				continue
			}
			out.Statusf("→", "change detected (%d events), reindexing", len(events))
			if err := orch.StartIndex(ctx, repoPath); err != nil {
				out.Warningf("failed to start reindex: %s", err)
			}
		}
	}
}
