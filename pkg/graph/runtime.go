package graph

import (
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Runtime owns the process-singleton executor. The compiled graph holds a
// checkpoint store handle, so provider or model configuration changes must
// invalidate the runtime; the next request rebuilds it.
type Runtime[S any] struct {
	build func() (*Executor[S], error)

	mu       sync.Mutex
	executor *Executor[S]
	group    singleflight.Group
}

// NewRuntime creates a runtime around a build function.
func NewRuntime[S any](build func() (*Executor[S], error)) *Runtime[S] {
	return &Runtime[S]{build: build}
}

// Get returns the singleton executor, building it on first use. Concurrent
// callers share a single build.
func (r *Runtime[S]) Get() (*Executor[S], error) {
	r.mu.Lock()
	if r.executor != nil {
		ex := r.executor
		r.mu.Unlock()
		return ex, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do("build", func() (any, error) {
		ex, err := r.build()
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.executor = ex
		r.mu.Unlock()
		return ex, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Executor[S]), nil
}

// Invalidate drops the singleton and closes its checkpoint handle. The next
// Get rebuilds from current configuration.
func (r *Runtime[S]) Invalidate() {
	r.mu.Lock()
	ex := r.executor
	r.executor = nil
	r.mu.Unlock()

	if ex != nil {
		if err := ex.Store().Close(); err != nil {
			slog.Warn("Failed to close checkpoint handle on invalidate", "error", err)
		}
		slog.Debug("Graph runtime invalidated")
	}
}
