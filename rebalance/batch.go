package rebalance

// AssignmentBatch is the immutable input to Demander.AddAssignments: a
// supplier-to-partitions map for one topology version, plus a handle back
// to the exchange round that produced it.
//
// AssignmentBatch is borrowed immutably by the Demander; nothing in this
// package mutates a batch after construction.
type AssignmentBatch struct {
	topologyVersion TopologyVersion
	exchangeID      string
	perSupplier     map[SupplierID]PartitionSet
}

// NewAssignmentBatch constructs an AssignmentBatch. The perSupplier map is
// copied defensively so the caller's map may be reused or mutated afterward.
func NewAssignmentBatch(topologyVersion TopologyVersion, exchangeID string, perSupplier map[SupplierID]PartitionSet) AssignmentBatch {
	cp := make(map[SupplierID]PartitionSet, len(perSupplier))
	for supplier, parts := range perSupplier {
		cp[supplier] = parts.Clone()
	}

	return AssignmentBatch{
		topologyVersion: topologyVersion,
		exchangeID:      exchangeID,
		perSupplier:     cp,
	}
}

// TopologyVersion returns the topology version this batch was computed for.
func (b AssignmentBatch) TopologyVersion() TopologyVersion {
	return b.topologyVersion
}

// ExchangeID returns the opaque exchange-round handle used for event
// emission back to the exchange coordinator.
func (b AssignmentBatch) ExchangeID() string {
	return b.exchangeID
}

// IsEmpty reports whether the batch carries no suppliers, or only suppliers
// with empty partition sets. An empty batch causes an immediate no-op
// completion in Demander.AddAssignments.
func (b AssignmentBatch) IsEmpty() bool {
	for _, parts := range b.perSupplier {
		if len(parts) > 0 {
			return false
		}
	}

	return true
}

// ForEachSupplier invokes fn once per (supplier, partitions) pair. Iteration
// order is unspecified, matching spec: "keys unique, iteration order
// irrelevant".
func (b AssignmentBatch) ForEachSupplier(fn func(SupplierID, PartitionSet)) {
	for supplier, parts := range b.perSupplier {
		fn(supplier, parts)
	}
}

// SupplierCount returns the number of suppliers in the batch.
func (b AssignmentBatch) SupplierCount() int {
	return len(b.perSupplier)
}
