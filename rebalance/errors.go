package rebalance

import (
	"errors"

	"github.com/arloliu/parti/internal/natsutil"
)

// Sentinel errors returned by the rebalance package.
//
// All components use these for known error conditions and wrap external
// errors with context using fmt.Errorf("%s: %w", msg, err), following the
// convention in types/errors.go.
var (
	// ErrInvalidConfig is returned when a Config fails validation.
	ErrInvalidConfig = errors.New("invalid rebalance configuration")

	// ErrFutureNotActive is returned by RebalanceFuture.PartitionDone when
	// called on a future that has already reached a terminal state.
	// Callers can generally ignore it: terminal-state mutations are
	// defined as no-ops (see RebalanceFuture invariants), it just
	// distinguishes that no-op from an actual bookkeeping update.
	ErrFutureNotActive = errors.New("rebalance future is not active")

	// ErrSupplierUnknown is returned when a caller references a supplier
	// that was never registered via AppendPartitions.
	ErrSupplierUnknown = errors.New("supplier not registered on this future")

	// ErrDemanderDisabled is returned by AddAssignments/ForcePreload when
	// the Demander was constructed with Config.Mode == RebalanceModeNone.
	ErrDemanderDisabled = errors.New("rebalancing is disabled")

	// ErrStaleTopology is returned by Demander.HandleSupplyMessage when it
	// observes that the exchange layer's topology version has advanced
	// past the future the supply message was addressed to.
	ErrStaleTopology = errors.New("topology has advanced past this operation")

	// ErrProtocolMismatch is returned when a supply message advertises a
	// protocol version lower than RebalanceProtocolVersion.
	ErrProtocolMismatch = errors.New("supply message protocol version mismatch")

	// ErrSendFailure wraps a transport send error; the wrapped error is
	// available via errors.Unwrap.
	ErrSendFailure = errors.New("failed to send rebalance message")

	// ErrClassError is returned when a supply message carries a non-empty
	// ClassError field, indicating a supplier-side deserialization failure.
	ErrClassError = errors.New("supply message reported a class-loading error")

	// ErrInvalidPartition is returned when an entry is applied to a
	// partition the local table does not consider MOVING.
	ErrInvalidPartition = errors.New("partition is not in MOVING state")
)

// IsNodeGone reports whether err represents a supplier that left the
// cluster mid-transfer, as opposed to a generic send failure. It delegates
// to internal/natsutil's connection-error classification, the same
// mechanism the Manager layer uses to distinguish transient errors from
// membership changes. A protocol version mismatch is classified the same
// way: a supplier running an incompatible build is, for rebalancing
// purposes, as unusable as one that has actually left the cluster.
func IsNodeGone(err error) bool {
	return natsutil.IsTopologyError(err) || errors.Is(err, ErrProtocolMismatch)
}
