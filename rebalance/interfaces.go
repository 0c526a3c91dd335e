package rebalance

import (
	"context"
	"time"
)

// Transport is the ordered point-to-point message channel the Demander
// sends demand messages over and receives supply messages from. Callers
// are responsible for building a topic that names exactly the one node it
// is meant to reach (see Demander.rebalanceTopic); Transport itself
// enforces no addressing beyond what topic already encodes. A single
// (supplier, topic) pair delivers messages in send order; there is no
// ordering guarantee across topics or suppliers.
type Transport interface {
	// SendOrdered delivers payload to node on topic, honoring timeout.
	// Implementations must preserve per-(node, topic) send order.
	SendOrdered(ctx context.Context, node SupplierID, topic string, payload []byte, timeout time.Duration) error

	// Subscribe registers handler for messages arriving on topic from any
	// sender. It returns an unsubscribe function.
	Subscribe(topic string, handler func(from SupplierID, payload []byte)) (unsubscribe func(), err error)
}

// PartitionHandle is a scoped lease on a single local partition, following
// a reserve+lock discipline: Reserve must be called (and released) around
// any read of state that could otherwise race with eviction, and
// Lock/Unlock guard the entry-application section.
type PartitionHandle interface {
	// State returns the partition's current transfer state.
	State() PartitionState

	// Reserve bumps a counter that prevents eviction while held. Returns
	// false if the partition is no longer eligible for reservation (e.g.
	// already evicted).
	Reserve() bool

	// Release undoes a successful Reserve. Must be called exactly once
	// per successful Reserve, on every exit path.
	Release()

	// Lock acquires the partition's per-partition mutex.
	Lock()

	// Unlock releases the partition's per-partition mutex.
	Unlock()

	// PreloadingPermitted reports whether an incoming rebalance entry for
	// key at version may still be applied, i.e. the partition has not
	// since observed a newer local write for that key.
	PreloadingPermitted(key []byte, version int64) bool

	// InitialValue applies a rebalanced entry for key. installed is true
	// if the value was actually written (as opposed to skipped as stale).
	InitialValue(key, value []byte, version int64, ttlMillis, expireAtMs int64) (installed bool, err error)
}

// PartitionTable is the local partition store: it hands out scoped handles
// and finalizes ownership transfer.
type PartitionTable interface {
	// LocalPartition returns a handle to partition p at topology version
	// ver, creating the local partition record if create is true and it
	// does not yet exist.
	LocalPartition(ctx context.Context, p PartitionID, ver TopologyVersion, create bool) (PartitionHandle, error)

	// Own transitions p from MOVING to OWNING after the last supply
	// message for that partition has been applied.
	Own(ctx context.Context, p PartitionID) (bool, error)
}

// Affinity is the deterministic partition-to-node mapping function.
type Affinity interface {
	// IsLocal reports whether partition p is assigned to this node at
	// topology version ver.
	IsLocal(p PartitionID, ver TopologyVersion) bool

	// TopologyVersion returns the current affinity topology version. This
	// may be ahead of a given RebalanceFuture's version if the cluster
	// topology has moved on since the future was created.
	TopologyVersion() TopologyVersion
}

// ExchangeCoordinator is the external collaborator that produces
// assignments and topology stamps, and can be asked to force a new
// exchange round.
type ExchangeCoordinator interface {
	// HasPendingExchange reports whether a topology exchange is already
	// in flight; a new assignment arriving during a pending exchange is
	// obsolete and should be discarded.
	HasPendingExchange() bool

	// ForcePreloadExchange asks the exchange layer to run a new exchange
	// round even though no membership change has occurred, e.g. because
	// a deferred assignment's timer expired.
	ForcePreloadExchange(ctx context.Context) error

	// ForceDummyExchange asks the exchange layer to run a synthetic
	// exchange round solely to reassign the given missed partitions.
	ForceDummyExchange(ctx context.Context, missed PartitionSet) error

	// ScheduleResendPartitions asks the exchange layer to republish the
	// current partition map, used after a future completes successfully
	// with no missed partitions.
	ScheduleResendPartitions(ctx context.Context)

	// CurrentTopologyVersion returns the exchange layer's current
	// topology version.
	CurrentTopologyVersion() TopologyVersion
}

// EventSink receives rebalance lifecycle events for observability. An
// embedding application typically implements it with a combination of
// types.Hooks and a RebalanceMetricsCollector; when a Demander is attached
// to a Manager via WithRebalanceDemander, Manager only feeds it assignment
// batches off the shared assignment KV bucket (see frommanager.go) and
// leaves event sinking to whatever the caller passed into NewDemander.
type EventSink interface {
	// PartLoaded fires once a supplier's last entry for a partition has
	// been applied and the partition is settled with respect to that
	// supplier.
	PartLoaded(supplier SupplierID, p PartitionID)

	// ObjectLoaded fires once per entry successfully installed via
	// PartitionHandle.InitialValue.
	ObjectLoaded(p PartitionID)

	// RebalanceStopped fires once when a RebalanceFuture reaches a
	// terminal state.
	RebalanceStopped(succeeded bool, ver TopologyVersion)
}
