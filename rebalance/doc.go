// Package rebalance implements the demander side of partition rebalancing:
// given a per-topology-version assignment of partitions to suppliers, it
// drives the demand/supply message protocol, tracks completion per supplier
// and per partition, enforces ordering against topology changes and
// sibling-cache dependencies, and applies received entries into a local
// partition table.
//
// The package does not implement a supplier. It consumes four narrow
// external interfaces (Transport, Affinity, PartitionTable,
// ExchangeCoordinator) so it can be driven against either the NATS-backed
// implementations in this package or test fakes in rebalancetest.
package rebalance
