package cmd

import (
	"context"

	"github.com/MayankTamakuwala/HERMES/internal/lifecycle"
)

// ensureOllamaReady makes sure an Ollama daemon is installed, running, and
// has model pulled, starting it and pulling the model if needed.
func ensureOllamaReady(ctx context.Context, model string) error {
	mgr := lifecycle.NewOllamaManager()
	opts := lifecycle.DefaultEnsureOpts()
	return mgr.EnsureReady(ctx, model, opts)
}
