package strategy

import (
	"errors"

	"github.com/arloliu/parti/internal/hash"
	"github.com/arloliu/parti/types"
)

// ConsistentHash implements consistent hashing with virtual nodes.
type ConsistentHash struct {
	virtualNodes int
	hashSeed     uint64
}

var _ types.AssignmentStrategy = (*ConsistentHash)(nil)

// ConsistentHashOption configures a ConsistentHash strategy.
type ConsistentHashOption func(*ConsistentHash)

// NewConsistentHash creates a new consistent hash strategy.
//
// The strategy uses a hash ring with virtual nodes to distribute partitions
// evenly across workers while minimizing partition movement during scaling.
// Achieves >80% cache affinity during rebalancing.
//
// Parameters:
//   - opts: Optional configuration (WithVirtualNodes, WithHashSeed)
//
// Returns:
//   - *ConsistentHash: Initialized consistent hash strategy
//
// Example:
//
//	strategy := strategy.NewConsistentHash(
//	    strategy.WithVirtualNodes(300),
//	)
//	mgr, err := parti.NewManager(&cfg, conn, src, strategy)
func NewConsistentHash(opts ...ConsistentHashOption) *ConsistentHash {
	ch := &ConsistentHash{
		virtualNodes: 150, // default
		hashSeed:     0,
	}

	for _, opt := range opts {
		opt(ch)
	}

	return ch
}

// WithVirtualNodes sets the number of virtual nodes per worker.
//
// Higher values provide better distribution but increase memory usage.
// Recommended range: 100-300 (default: 150).
//
// Parameters:
//   - nodes: Number of virtual nodes per worker
//
// Returns:
//   - ConsistentHashOption: Configuration option
func WithVirtualNodes(nodes int) ConsistentHashOption {
	return func(ch *ConsistentHash) {
		ch.virtualNodes = nodes
	}
}

// WithHashSeed sets a custom hash seed for consistent hashing.
//
// Parameters:
//   - seed: Hash seed value
//
// Returns:
//   - ConsistentHashOption: Configuration option
func WithHashSeed(seed uint64) ConsistentHashOption {
	return func(ch *ConsistentHash) {
		ch.hashSeed = seed
	}
}

// Assign calculates partition assignments using consistent hashing.
//
// The algorithm:
//  1. Build hash ring with virtual nodes for each worker
//  2. Place each partition on ring based on hash of partition keys
//  3. Assign partition to nearest clockwise virtual node
//
// Partition weights are not used.
//
// Parameters:
//   - workers: List of worker IDs (e.g., ["worker-0", "worker-1"])
//   - partitions: List of partitions to assign
//
// Returns:
//   - map[string][]types.Partition: Map from workerID to assigned partitions
//   - error: Assignment error (e.g., no workers available)
//
// Example:
//
//	assignments, err := strategy.Assign(
//	    []string{"worker-0", "worker-1"},
//	    partitions,
//	)
func (ch *ConsistentHash) Assign(workers []string, partitions []types.Partition) (map[string][]types.Partition, error) {
	if len(workers) == 0 {
		return nil, ErrNoWorkers
	}

	// Create hash ring with all workers
	ring := hash.NewRing(workers, ch.virtualNodes, ch.hashSeed)

	// Initialize assignments map
	assignments := make(map[string][]types.Partition)
	for _, w := range workers {
		assignments[w] = []types.Partition{}
	}

	// Assign each partition to a worker using consistent hashing
	for _, partition := range partitions {
		worker := ring.GetNodeForPartition(partition)
		if worker == "" {
			// This shouldn't happen if workers were added successfully
			return nil, errors.New("consistent hash returned empty worker")
		}
		assignments[worker] = append(assignments[worker], partition)
	}

	return assignments, nil
}
