package rebalance

// RebalanceMetricsCollector defines the metrics recorded by the demander
// side of a rebalance. Implementations must be non-blocking and safe for
// concurrent use, matching the convention of types.MetricsCollector.
type RebalanceMetricsCollector interface {
	// RecordFutureCreated is called once when a RebalanceFuture is
	// constructed, before any demand message is sent.
	RecordFutureCreated(initial bool)

	// RecordFutureDone is called once when a RebalanceFuture reaches a
	// terminal state, with the wall-clock duration since creation.
	RecordFutureDone(succeeded bool, durationSeconds float64)

	// RecordPartitionRebalanced is called once per (supplier, partition)
	// pair that finishes successfully.
	RecordPartitionRebalanced(supplier string)

	// RecordPartitionMissed is called once per (supplier, partition) pair
	// reported missing by a supply message.
	RecordPartitionMissed(supplier string)

	// RecordDemandSent is called once per demand message sent successfully.
	// The Demander does not retry sends and always passes 0 for attempt.
	RecordDemandSent(supplier string, attempt int)

	// RecordSupplyReceived is called once per supply message accepted for
	// processing, after the protocol and staleness checks pass.
	RecordSupplyReceived(supplier string, entryCount int)

	// SetActiveSuppliers reports the number of suppliers with a live
	// future entry, as a gauge.
	SetActiveSuppliers(count int)

	// RecordDummyExchangeForced is called each time a completed future's
	// missed partitions trigger a forced dummy exchange.
	RecordDummyExchangeForced()
}
