// Package lifecycle is the explicit shutdown registry: process-wide
// resources register a closer, and main closes them in reverse order when a
// shutdown signal arrives.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// CloseFunc releases a resource. It should honour ctx for its deadline.
type CloseFunc func(ctx context.Context) error

type entry struct {
	name string
	fn   CloseFunc
}

// Registry collects closers. The zero value is ready to use.
type Registry struct {
	mu      sync.Mutex
	entries []entry
	closed  bool
	log     zerolog.Logger
}

func New(log zerolog.Logger) *Registry { return &Registry{log: log} }

// Register adds fn under name. Registering after Close runs fn immediately.
func (r *Registry) Register(name string, fn CloseFunc) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = fn(context.Background())
		return
	}
	r.entries = append(r.entries, entry{name: name, fn: fn})
	r.mu.Unlock()
}

// Close runs every closer once, last registered first, and joins errors.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	entries := r.entries
	r.entries = nil
	r.mu.Unlock()

	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if err := e.fn(ctx); err != nil {
			r.log.Error().Err(err).Str("resource", e.name).Msg("close failed")
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
			continue
		}
		r.log.Debug().Str("resource", e.name).Msg("closed")
	}
	return errors.Join(errs...)
}
