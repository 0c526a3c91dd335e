// Package rebalancemetrics provides RebalanceMetricsCollector
// implementations, mirroring the no-op/Prometheus pairing in
// internal/metrics for the top-level MetricsCollector.
package rebalancemetrics

import "github.com/arloliu/parti/rebalance"

// NopCollector discards every metric. Useful for tests or when the
// embedding application wires its own collection.
type NopCollector struct{}

var _ rebalance.RebalanceMetricsCollector = (*NopCollector)(nil)

// NewNop creates a new no-op collector.
func NewNop() *NopCollector {
	return &NopCollector{}
}

// RecordFutureCreated discards the event.
func (n *NopCollector) RecordFutureCreated(_ bool) {}

// RecordFutureDone discards the event.
func (n *NopCollector) RecordFutureDone(_ bool, _ float64) {}

// RecordPartitionRebalanced discards the event.
func (n *NopCollector) RecordPartitionRebalanced(_ string) {}

// RecordPartitionMissed discards the event.
func (n *NopCollector) RecordPartitionMissed(_ string) {}

// RecordDemandSent discards the event.
func (n *NopCollector) RecordDemandSent(_ string, _ int) {}

// RecordSupplyReceived discards the event.
func (n *NopCollector) RecordSupplyReceived(_ string, _ int) {}

// SetActiveSuppliers discards the gauge update.
func (n *NopCollector) SetActiveSuppliers(_ int) {}

// RecordDummyExchangeForced discards the event.
func (n *NopCollector) RecordDummyExchangeForced() {}
