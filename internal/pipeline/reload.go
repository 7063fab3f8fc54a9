package pipeline

import (
	"context"
	"sync/atomic"

	hermeserrors "github.com/MayankTamakuwala/HERMES/internal/errors"
)

// Reloadable holds the Serving Surface's single pipeline instance behind
// an atomic pointer. Reload swaps the active pipeline without blocking
// in-flight requests, which complete against whatever instance they
// started with.
type Reloadable struct {
	ref atomic.Pointer[Pipeline]
}

// Set installs p as the active pipeline, replacing any previous one.
func (r *Reloadable) Set(p *Pipeline) {
	r.ref.Store(p)
}

// Loaded reports whether a pipeline has been set.
func (r *Reloadable) Loaded() bool {
	return r.ref.Load() != nil
}

// Get returns the active pipeline, or a NoIndexLoaded error if none has
// been loaded yet.
func (r *Reloadable) Get() (*Pipeline, error) {
	p := r.ref.Load()
	if p == nil {
		return nil, hermeserrors.NoIndexLoadedError()
	}
	return p, nil
}

// Search runs req against whichever pipeline is active at call time.
func (r *Reloadable) Search(ctx context.Context, req Request) (Response, error) {
	p, err := r.Get()
	if err != nil {
		return Response{}, err
	}
	return p.Search(ctx, req)
}
