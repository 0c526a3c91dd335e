package rebalance

import (
	"context"
	"sync"
	"sync/atomic"
)

// MemPartitionTable is a default, in-process PartitionTable suitable for
// tests and for embedders that have not yet wired an external local
// partition store. It keeps entries in memory, applying the same
// reserve/lock discipline and version-based preloading check that a real
// storage engine's implementation would enforce.
type MemPartitionTable struct {
	mu         sync.RWMutex
	partitions map[PartitionID]*memPartition
}

// NewMemPartitionTable creates an empty table.
func NewMemPartitionTable() *MemPartitionTable {
	return &MemPartitionTable{partitions: make(map[PartitionID]*memPartition)}
}

var _ PartitionTable = (*MemPartitionTable)(nil)

// LocalPartition returns (creating if needed and permitted) the handle for
// partition p. ver is accepted for interface compatibility with stores
// that key partitions per topology version; this in-memory table keeps a
// single partition record across versions.
func (t *MemPartitionTable) LocalPartition(_ context.Context, p PartitionID, _ TopologyVersion, create bool) (PartitionHandle, error) {
	t.mu.RLock()
	part, ok := t.partitions[p]
	t.mu.RUnlock()

	if ok {
		return part, nil
	}

	if !create {
		return nil, ErrInvalidPartition
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	part, ok = t.partitions[p]
	if ok {
		return part, nil
	}

	part = &memPartition{
		state:    PartitionMoving,
		versions: make(map[string]int64),
		values:   make(map[string][]byte),
	}
	t.partitions[p] = part

	return part, nil
}

// Own transitions p from MOVING to OWNING. It returns false if p is
// unknown or was not in MOVING.
func (t *MemPartitionTable) Own(_ context.Context, p PartitionID) (bool, error) {
	t.mu.RLock()
	part, ok := t.partitions[p]
	t.mu.RUnlock()

	if !ok {
		return false, ErrInvalidPartition
	}

	part.mu.Lock()
	defer part.mu.Unlock()

	if part.state != PartitionMoving {
		return false, nil
	}

	part.state = PartitionOwning

	return true, nil
}

// memPartition is the in-memory PartitionHandle implementation.
type memPartition struct {
	reserveCount atomic.Int32

	mu       sync.Mutex
	state    PartitionState
	versions map[string]int64
	values   map[string][]byte
}

var _ PartitionHandle = (*memPartition)(nil)

// State returns the partition's current state. It does not require the
// partition to be locked or reserved; callers race-tolerant of a state
// observed a moment ago should call this outside the lock.
func (p *memPartition) State() PartitionState {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// Reserve bumps the eviction-prevention counter. Always succeeds for this
// in-memory table, which never evicts.
func (p *memPartition) Reserve() bool {
	p.reserveCount.Add(1)

	return true
}

// Release undoes a Reserve.
func (p *memPartition) Release() {
	p.reserveCount.Add(-1)
}

// Lock acquires the partition's entry-application mutex.
func (p *memPartition) Lock() { p.mu.Lock() }

// Unlock releases the partition's entry-application mutex.
func (p *memPartition) Unlock() { p.mu.Unlock() }

// PreloadingPermitted reports whether an entry at version may still be
// applied for key: false if a local write has already recorded an equal
// or newer version. Callers hold the partition lock across this check and
// the following InitialValue call.
func (p *memPartition) PreloadingPermitted(key []byte, version int64) bool {
	existing, ok := p.versions[string(key)]

	return !ok || version > existing
}

// InitialValue writes value for key if version is newer than what is
// stored, returning installed=true when the write happened.
func (p *memPartition) InitialValue(key, value []byte, version int64, _, _ int64) (bool, error) {
	if p.state != PartitionMoving {
		return false, ErrInvalidPartition
	}

	existing, ok := p.versions[string(key)]
	if ok && version <= existing {
		return false, nil
	}

	p.versions[string(key)] = version
	p.values[string(key)] = value

	return true, nil
}
