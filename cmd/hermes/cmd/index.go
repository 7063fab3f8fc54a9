package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MayankTamakuwala/HERMES/internal/config"
	"github.com/MayankTamakuwala/HERMES/internal/embed"
	"github.com/MayankTamakuwala/HERMES/internal/index"
	"github.com/MayankTamakuwala/HERMES/internal/output"
)

func newIndexCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "index <repo-path>",
		Short: "Build search artifacts for a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), args[0], offline)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "use static embeddings instead of downloading a model")

	return cmd
}

func runIndex(ctx context.Context, repoPath string, offline bool) error {
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

	out := output.New(os.Stdout)
	out.Statusf("→", "indexing %s", repoPath)

	if err := orch.StartIndex(ctx, repoPath); err != nil {
		out.Errorf("failed to start indexing: %s", err)
		return err
	}

	for {
		state, _, summary, message := orch.Status()
		switch state {
		case index.StateDone:
			out.Successf("indexed %d files into %d chunks in %s", summary.Files, summary.Chunks, summary.Duration)
			return nil
		case index.StateError:
			out.Errorf("indexing failed: %s", message)
			return fmt.Errorf("indexing failed: %s", message)
		}
		time.Sleep(200 * time.Millisecond)
	}
}
