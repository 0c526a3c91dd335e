package rebalance

import (
	"context"
	"sync"
)

// SyncFutureProvider is implemented by anything OrderingGate can wait on —
// in practice another cache's Demander, exposed via its SyncFuture method.
type SyncFutureProvider interface {
	SyncFuture() *RebalanceFuture
}

// OrderingGate enforces rebalance-before dependencies across caches: a
// dependent cache's demand cycle must not start until every prerequisite
// cache has finished its own current rebalance round successfully. This
// exists because a cache like "orders" may reference rows in a
// "customers" cache and must not observe a partially rebalanced
// dependency mid-transfer.
//
// OrderingGate itself holds no per-cache state beyond the registry; the
// decision of what to do when a wait fails (cancel the dependent's own
// future) belongs to the caller, since only the caller owns that future.
type OrderingGate struct {
	mu       sync.RWMutex
	registry map[string]SyncFutureProvider
}

// NewOrderingGate creates an empty gate.
func NewOrderingGate() *OrderingGate {
	return &OrderingGate{registry: make(map[string]SyncFutureProvider)}
}

// Register makes a cache's demander available as a prerequisite under
// name. Re-registering a name replaces the previous provider.
func (g *OrderingGate) Register(name string, provider SyncFutureProvider) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.registry[name] = provider
}

// Unregister removes a cache from the registry, e.g. on cache shutdown.
func (g *OrderingGate) Unregister(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.registry, name)
}

// Await waits, in order, for every name in beforeCaches to finish its
// current future successfully. It returns (true, nil) once all
// prerequisites have succeeded, (false, nil) as soon as one prerequisite's
// future resolves unsuccessfully (the caller should cancel its own future
// without sending anything further), or (false, err) if ctx is cancelled
// while waiting.
//
// A name with no registered provider is treated as vacuously satisfied:
// the dependency graph is configured by cache name, and a prerequisite
// that has not started up yet should not permanently block its
// dependents.
func (g *OrderingGate) Await(ctx context.Context, beforeCaches []string) (bool, error) {
	for _, name := range beforeCaches {
		g.mu.RLock()
		provider, ok := g.registry[name]
		g.mu.RUnlock()

		if !ok {
			continue
		}

		succeeded, err := provider.SyncFuture().Wait(ctx)
		if err != nil {
			return false, err
		}

		if !succeeded {
			return false, nil
		}
	}

	return true, nil
}
