package rebalance

import (
	"context"

	"github.com/arloliu/parti/internal/assignment"
	"github.com/arloliu/parti/types"
)

// CalculatorExchangeCoordinator adapts an *assignment.Calculator (and the
// KVAffinity reading the same assignment bucket) into an
// ExchangeCoordinator. The Calculator's assignment algorithm operates at
// coarser granularity than the per-partition dummy exchange the original
// design describes: it recomputes and republishes a full worker→partitions
// map rather than patching in just the partitions named by a forced dummy
// exchange. ForceDummyExchange therefore triggers the same full
// TriggerRebalance as ForcePreloadExchange; the next AssignmentSnapshot
// diff naturally re-covers any partitions still missing, since affinity
// deterministically assigns them to this node again if nothing changed
// about cluster membership in between.
type CalculatorExchangeCoordinator struct {
	calc     *assignment.Calculator
	affinity *KVAffinity
	logger   types.Logger
}

var _ ExchangeCoordinator = (*CalculatorExchangeCoordinator)(nil)

// NewCalculatorExchangeCoordinator wraps calc and affinity, which must
// read the same assignment KV bucket for CurrentTopologyVersion to agree
// with the version calc last published.
func NewCalculatorExchangeCoordinator(calc *assignment.Calculator, affinity *KVAffinity, logger types.Logger) *CalculatorExchangeCoordinator {
	return &CalculatorExchangeCoordinator{calc: calc, affinity: affinity, logger: logger}
}

// HasPendingExchange reports whether the calculator is anywhere other than
// idle: a scaling stabilization window, an active rebalance, or an
// emergency response all mean a fresh assignment is imminent, making any
// batch computed right now likely to be obsolete on arrival.
func (c *CalculatorExchangeCoordinator) HasPendingExchange() bool {
	return c.calc.GetState() != types.CalcStateIdle
}

// ForcePreloadExchange asks the calculator to run a new assignment round
// immediately, bypassing its normal cooldown/stabilization window.
func (c *CalculatorExchangeCoordinator) ForcePreloadExchange(ctx context.Context) error {
	return c.calc.TriggerRebalance(ctx)
}

// ForceDummyExchange asks for a new assignment round to cover missed. See
// the type doc comment: the calculator has no concept of a per-partition
// patch round, so this is currently equivalent to ForcePreloadExchange.
func (c *CalculatorExchangeCoordinator) ForceDummyExchange(ctx context.Context, missed PartitionSet) error {
	if c.logger != nil {
		c.logger.Info("forcing full re-exchange to cover missed partitions", "count", len(missed))
	}

	return c.calc.TriggerRebalance(ctx)
}

// ScheduleResendPartitions is a no-op in this wiring: the calculator's
// AssignmentPublisher has already published the current partition map as
// part of the round that produced the batch this future was tracking, so
// there is nothing further to resend.
func (c *CalculatorExchangeCoordinator) ScheduleResendPartitions(_ context.Context) {}

// CurrentTopologyVersion returns the version of the affinity snapshot,
// which tracks the same assignment bucket the calculator publishes to.
func (c *CalculatorExchangeCoordinator) CurrentTopologyVersion() TopologyVersion {
	return c.affinity.TopologyVersion()
}
