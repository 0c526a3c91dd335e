package rebalance

import (
	"context"
	"sync/atomic"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/parti/types"
)

// KVAffinity implements Affinity over the shared assignment KV bucket the
// Manager/Calculator layer already publishes to (see
// internal/assignment.AssignmentPublisher). It holds a single most-recent
// AssignmentSnapshot behind an atomic pointer so IsLocal/TopologyVersion
// are lock-free reads; Refresh is called by whatever watches the bucket
// for changes (typically the same watch loop that feeds the Demander new
// assignment batches).
type KVAffinity struct {
	kv       jetstream.KeyValue
	prefix   string
	localID  SupplierID
	logger   types.Logger
	snapshot atomic.Pointer[AssignmentSnapshot]
}

var _ Affinity = (*KVAffinity)(nil)

// NewKVAffinity creates a KVAffinity with an empty snapshot; call Refresh
// at least once before relying on IsLocal/TopologyVersion.
func NewKVAffinity(kv jetstream.KeyValue, prefix string, localID SupplierID, logger types.Logger) *KVAffinity {
	return &KVAffinity{kv: kv, prefix: prefix, localID: localID, logger: logger}
}

// Refresh re-reads the assignment bucket and atomically replaces the
// current snapshot.
func (a *KVAffinity) Refresh(ctx context.Context) error {
	snap, err := FetchSnapshot(ctx, a.kv, a.prefix)
	if err != nil {
		if a.logger != nil {
			a.logger.Warn("failed to refresh affinity snapshot", "error", err)
		}

		return err
	}

	a.snapshot.Store(&snap)

	return nil
}

// IsLocal reports whether p is owned by this node's own SupplierID at the
// snapshot version matching ver. A mismatched ver is treated as stale and
// answered false, consistent with the rest of the package treating
// topology drift as "no longer applicable" rather than an error.
func (a *KVAffinity) IsLocal(p PartitionID, ver TopologyVersion) bool {
	snap := a.snapshot.Load()
	if snap == nil || snap.Version != ver {
		return false
	}

	owner, ok := snap.Owner[p]

	return ok && owner == a.localID
}

// TopologyVersion returns the version of the most recently refreshed
// snapshot, or the zero TopologyVersion if Refresh has never succeeded.
func (a *KVAffinity) TopologyVersion() TopologyVersion {
	snap := a.snapshot.Load()
	if snap == nil {
		return TopologyVersion{}
	}

	return snap.Version
}

// OwnerOf returns the current supplier for p, if known.
func (a *KVAffinity) OwnerOf(p PartitionID) (SupplierID, bool) {
	snap := a.snapshot.Load()
	if snap == nil {
		return "", false
	}

	owner, ok := snap.Owner[p]

	return owner, ok
}
