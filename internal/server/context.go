package server

import (
	"context"
	"sort"
	"sync"
)

// CheckFunc reports whether a dependency is usable.
type CheckFunc func(ctx context.Context) error

// ServerContext holds the lifetime of the server and the dependency checks
// that gate readiness.
type ServerContext struct {
	ctx      context.Context
	cancel   context.CancelFunc
	checks   map[string]CheckFunc
	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext creates a new server context derived from ctx.
func NewServerContext(ctx context.Context) *ServerContext {
	shutdownCtx, cancel := context.WithCancel(ctx)
	return &ServerContext{
		ctx:    shutdownCtx,
		cancel: cancel,
		checks: make(map[string]CheckFunc),
	}
}

// Context returns the server context. It is cancelled on Shutdown.
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// AddCheck registers a readiness check under name, replacing any previous one.
func (sc *ServerContext) AddCheck(name string, check CheckFunc) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.checks[name] = check
}

// CheckNames returns the registered check names in order.
func (sc *ServerContext) CheckNames() []string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	names := make([]string, 0, len(sc.checks))
	for name := range sc.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunChecks runs every registered check. The result has one entry per check,
// nil for healthy dependencies.
func (sc *ServerContext) RunChecks(ctx context.Context) map[string]error {
	sc.mu.RLock()
	checks := make(map[string]CheckFunc, len(sc.checks))
	for name, check := range sc.checks {
		checks[name] = check
	}
	sc.mu.RUnlock()

	results := make(map[string]error, len(checks))
	for name, check := range checks {
		results[name] = check(ctx)
	}
	return results
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown shuts down the server context
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	sc.cancel()
	return nil
}
