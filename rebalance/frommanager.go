package rebalance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/zeebo/xxh3"

	"github.com/arloliu/parti/types"
)

// AssignmentSnapshot is the rebalance-domain view of the shared assignment
// KV bucket the Manager/Calculator layer already maintains: which
// SupplierID currently owns each PartitionID, at what topology version.
//
// PartitionID is derived from types.Partition.ID() by hashing rather than
// carried natively, since the surrounding assignment layer identifies
// partitions by an arbitrary key sequence (see types.Partition) while the
// wire protocol here needs a compact, fixed-width identifier.
type AssignmentSnapshot struct {
	Version TopologyVersion
	Owner   map[PartitionID]SupplierID
}

// PartitionIDForKey deterministically maps a partition's dot-joined key
// sequence to a PartitionID, using the same hash family
// (internal/hash/ring.go) already relied on elsewhere in this module for
// stable, well-distributed identifiers.
func PartitionIDForKey(key string) PartitionID {
	return PartitionID(uint32(xxh3.HashString(key)))
}

// FetchSnapshot lists every key under prefix in kv, parses each as a
// types.Assignment, and folds them into a single partition ownership map.
// It mirrors AssignmentPublisher.DiscoverHighestVersion's key-scanning
// pattern but retains the per-worker partition lists instead of only the
// highest version number.
func FetchSnapshot(ctx context.Context, kv jetstream.KeyValue, prefix string) (AssignmentSnapshot, error) {
	snap := AssignmentSnapshot{Owner: make(map[PartitionID]SupplierID)}

	keys, err := kv.Keys(ctx)
	if err != nil {
		return snap, fmt.Errorf("list assignment keys: %w", err)
	}

	keyPrefix := prefix + "."

	for _, key := range keys {
		if !strings.HasPrefix(key, keyPrefix) {
			continue
		}

		workerID := SupplierID(strings.TrimPrefix(key, keyPrefix))

		entry, err := kv.Get(ctx, key)
		if err != nil {
			continue
		}

		var asgn types.Assignment
		if err := json.Unmarshal(entry.Value(), &asgn); err != nil {
			continue
		}

		if uint64(asgn.Version) > snap.Version.Order {
			snap.Version.Order = uint64(asgn.Version)
		}

		for _, part := range asgn.Partitions {
			snap.Owner[PartitionIDForKey(part.ID())] = workerID
		}
	}

	return snap, nil
}

// DiffAssignments computes the AssignmentBatch localID must issue demand
// messages for in order to move from old to new: every partition now
// owned by localID that was owned by a different, known supplier before.
// Partitions with no prior owner (cold-start, never assigned) are
// excluded — there is nothing to fetch, and the local partition becomes
// OWNING immediately without a rebalance round.
func DiffAssignments(old, newer AssignmentSnapshot, localID SupplierID, exchangeID string) AssignmentBatch {
	perSupplier := make(map[SupplierID]PartitionSet)

	for p, owner := range newer.Owner {
		if owner != localID {
			continue
		}

		prevOwner, hadPrev := old.Owner[p]
		if !hadPrev || prevOwner == localID {
			continue
		}

		set, ok := perSupplier[prevOwner]
		if !ok {
			set = NewPartitionSet()
			perSupplier[prevOwner] = set
		}

		set.Add(p)
	}

	return NewAssignmentBatch(newer.Version, exchangeID, perSupplier)
}
