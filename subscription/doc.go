// Package subscription provides utilities for managing NATS subscriptions.
//
// The package includes:
//
//   - Helper: Automatic subscription reconciliation and retry logic
//
// The subscription helper simplifies partition-based subscription management
// by handling failures, retries, and periodic reconciliation automatically.
package subscription
