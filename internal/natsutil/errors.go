package natsutil

import (
	"errors"
	"strings"

	"github.com/arloliu/parti/types"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// IsConnectivityError checks if an error is caused by connectivity issues.
//
// This includes NATS timeouts, connection refused, disconnections, etc.
// Used to determine when to enter degraded mode and use cached data.
//
// Kept in internal/natsutil to avoid importing NATS dependencies in types/ package.
//
// Parameters:
//   - err: Error to check
//
// Returns:
//   - bool: true if error indicates connectivity issue
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}

	// Check for known connectivity error types
	return errors.Is(err, types.ErrConnectivity) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrDisconnected) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "i/o timeout")
}

// IsTopologyError checks if an error indicates that the remote side of a
// point-to-point exchange is gone rather than merely slow.
//
// nats.ErrNoResponders fires when a core-NATS request has no subscriber at
// all, which is the signal a supplier left the cluster mid-transfer.
// nats.ErrTimeout on its own is ambiguous (could be a slow supplier), so it
// is intentionally excluded here; callers that want the broader connectivity
// check should use IsConnectivityError instead.
//
// Parameters:
//   - err: Error to check
//
// Returns:
//   - bool: true if error indicates the remote node is gone
func IsTopologyError(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, nats.ErrNoResponders) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrDisconnected)
}
