package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MayankTamakuwala/HERMES/internal/config"
	"github.com/MayankTamakuwala/HERMES/internal/embed"
	"github.com/MayankTamakuwala/HERMES/internal/hermes"
	"github.com/MayankTamakuwala/HERMES/internal/index"
	"github.com/MayankTamakuwala/HERMES/internal/pipeline"
	"github.com/MayankTamakuwala/HERMES/internal/server"
)

func newServeCmd() *cobra.Command {
	var addr string
	var offline bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HERMES search API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), addr, offline)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	cmd.Flags().BoolVar(&offline, "offline", false, "use static embeddings instead of downloading a model")

	return cmd
}

func runServe(ctx context.Context, addr string, offline bool) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}

	embedder, err := newEmbedder(ctx, cfg, offline)
	if err != nil {
		return err
	}
	biencoder := embed.NewBiencoder(embedder)
	queryCache := embed.NewQueryCache(biencoder, cfg.Embed.QueryCacheSize)
	crossEncoder := embed.NewLexicalCrossEncoder()

	orch := index.New(cfg.General.ArtifactsDir, biencoder, index.Config{
		ChunkMaxChars:     cfg.Chunk.MaxChars,
		ChunkOverlapLines: cfg.Chunk.OverlapLines,
		ChunkMinChars:     cfg.Chunk.MinChars,
		EmbedBatchSize:    cfg.Embed.BiencoderBatchSize,
		UseIVF:            cfg.Index.FaissUseIVF,
		IVFNlist:          cfg.Index.FaissIVFNlist,
		IVFNprobe:         cfg.Index.FaissNprobe,
	})

	reloadable := &pipeline.Reloadable{}
	pcfg := pipeline.Config{
		TopKRetrieve:        cfg.Search.TopKRetrieve,
		TopKRerank:          cfg.Search.TopKRerank,
		MaxRerankCandidates: cfg.Search.MaxRerankCandidates,
		RerankTimeout:       cfg.Search.RerankTimeout(),
		RRFConstant:         cfg.Search.RRFK,
		RetrievalMode:       hermes.RetrievalMode(cfg.Search.RetrievalMode),
	}
	orch.OnComplete = func(meta hermes.MetadataStore, dense hermes.DenseIndex, sparse hermes.SparseIndex) {
		reloadable.Set(pipeline.New(meta, dense, sparse, queryCache, crossEncoder, pcfg))
		slog.Info("reloaded pipeline after index build")
	}

	if meta, dense, sparse, err := index.LoadArtifacts(cfg.General.ArtifactsDir, cfg.Index.FaissNprobe); err == nil {
		reloadable.Set(pipeline.New(meta, dense, sparse, queryCache, crossEncoder, pcfg))
		slog.Info("loaded existing index artifacts", slog.String("dir", cfg.General.ArtifactsDir))
	} else {
		slog.Warn("no index artifacts found yet; waiting for POST /index", slog.String("error", err.Error()))
	}

	srv := server.New(reloadable, orch)
	httpServer := &http.Server{Addr: addr, Handler: srv}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("hermes serving", slog.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		slog.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// newEmbedder resolves the configured embedding provider into a concrete,
// cached Embedder. With --offline it always returns the static embedder.
// Otherwise it defers to embed.NewEmbedder's provider auto-detection
// (Ollama by default), first making sure an Ollama-backed provider is
// actually reachable.
func newEmbedder(ctx context.Context, cfg *config.Config, offline bool) (embed.Embedder, error) {
	if offline {
		return embed.NewCachedEmbedderWithDefaults(embed.NewStaticEmbedder768()), nil
	}

	provider := embed.ParseProvider(cfg.Embed.Provider)
	if provider == embed.ProviderOllama {
		if err := ensureOllamaReady(ctx, cfg.Embed.BiencoderModel); err != nil {
			slog.Warn("ollama not ready, falling back to static embeddings", slog.String("error", err.Error()))
			return embed.NewCachedEmbedderWithDefaults(embed.NewStaticEmbedder768()), nil
		}
	}

	inner, err := embed.NewEmbedder(ctx, provider, cfg.Embed.BiencoderModel)
	if err != nil {
		return nil, err
	}
	return embed.NewCachedEmbedderWithDefaults(inner), nil
}
