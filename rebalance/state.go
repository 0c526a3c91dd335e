package rebalance

// PartitionState mirrors the external local-partition store's transfer
// state. The demander only reads MOVING and writes OWNING (via
// PartitionTable.Own); RENTING and EVICTED are observed but never
// transitioned by this package.
type PartitionState int

const (
	// PartitionMoving indicates the partition is receiving rebalanced
	// entries and accepts writes from the demander.
	PartitionMoving PartitionState = iota

	// PartitionOwning indicates the partition is eligible for reads.
	PartitionOwning

	// PartitionRenting indicates the partition is being evicted after a
	// backup demotion.
	PartitionRenting

	// PartitionEvicted is the terminal state after eviction completes.
	PartitionEvicted
)

// String returns the human-readable state name.
func (s PartitionState) String() string {
	switch s {
	case PartitionMoving:
		return "MOVING"
	case PartitionOwning:
		return "OWNING"
	case PartitionRenting:
		return "RENTING"
	case PartitionEvicted:
		return "EVICTED"
	default:
		return "UNKNOWN"
	}
}
