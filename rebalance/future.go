package rebalance

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/parti/types"
)

// futureState is the terminal-state tag for a RebalanceFuture, matching the
// four-value state described for the future's data model: an outstanding
// future is Active; a hard-stopped one (superseded before it ever ran, or
// invalidated wholesale) is Cancelled; a finished one is DoneTrue or
// DoneFalse depending on whether it had to report missed partitions.
//
// Cancel and CancelSupplier are NOT the same operation despite the shared
// name: Cancel is a hard stop that bypasses the missed-partition accounting
// entirely (used when a future is invalidated before or during a run, e.g.
// a newer topology superseding it outright). CancelSupplier instead folds
// the supplier's still-outstanding partitions into missed and defers to
// checkIsDone, so a supplier disappearing mid-transfer still produces a
// DoneFalse future carrying the right missed set for the next dummy
// exchange to pick up, rather than silently losing those partitions.
type futureState int32

const (
	futureActive futureState = iota
	futureCancelled
	futureDoneFalse
	futureDoneTrue
)

func (s futureState) String() string {
	switch s {
	case futureActive:
		return "active"
	case futureCancelled:
		return "cancelled"
	case futureDoneFalse:
		return "failed"
	case futureDoneTrue:
		return "succeeded"
	default:
		return "unknown"
	}
}

// supplierProgress tracks one supplier's outstanding partitions within a
// RebalanceFuture.
type supplierProgress struct {
	startedAt time.Time
	remaining PartitionSet
}

// RebalanceFuture tracks completion of a demand round: the set of
// partitions requested from each supplier, which of those have been
// applied, and which were reported missing. It resolves exactly once, to
// either success or failure, and notifies registered listeners on the
// resolving goroutine.
//
// A RebalanceFuture never sends a demand message itself; the Demander owns
// message construction and dispatch, calling into the future only to
// record outcomes.
type RebalanceFuture struct {
	updateSeq       int64
	topologyVersion TopologyVersion
	exchangeRef     string
	isInitial       bool
	sendStoppedEvt  bool
	partitioned     bool
	createdAt       time.Time

	mu        sync.Mutex
	remaining map[SupplierID]*supplierProgress
	missed    map[SupplierID]PartitionSet

	state atomic.Int32

	listenerMu sync.Mutex
	listeners  []func(succeeded bool)

	affinity Affinity
	exchange ExchangeCoordinator
	events   EventSink
	metrics  RebalanceMetricsCollector
	logger   types.Logger
}

// futureDeps bundles the external collaborators a RebalanceFuture needs to
// resolve itself, avoiding a constructor with an ever-growing parameter
// list as the specification's collaborator surface grows.
type futureDeps struct {
	affinity    Affinity
	exchange    ExchangeCoordinator
	events      EventSink
	metrics     RebalanceMetricsCollector
	logger      types.Logger
	partitioned bool
}

// newRebalanceFuture constructs a future for the given topology stamp. The
// future starts empty; callers add suppliers via AppendPartitions before
// any demand message referencing it is sent.
func newRebalanceFuture(updateSeq int64, ver TopologyVersion, exchangeRef string, isInitial, sendStoppedEvt bool, deps futureDeps) *RebalanceFuture {
	f := &RebalanceFuture{
		updateSeq:       updateSeq,
		topologyVersion: ver,
		exchangeRef:     exchangeRef,
		isInitial:       isInitial,
		sendStoppedEvt:  sendStoppedEvt,
		partitioned:     deps.partitioned,
		createdAt:       time.Now(),
		remaining:       make(map[SupplierID]*supplierProgress),
		missed:          make(map[SupplierID]PartitionSet),
		affinity:        deps.affinity,
		exchange:        deps.exchange,
		events:          deps.events,
		metrics:         deps.metrics,
		logger:          deps.logger,
	}

	if f.metrics != nil {
		f.metrics.RecordFutureCreated(isInitial)
	}

	return f
}

// UpdateSeq returns the exchange update sequence this future was created
// for, the sole discriminant used to tell a stale demand/supply exchange
// from a current one (see IsActual).
func (f *RebalanceFuture) UpdateSeq() int64 { return f.updateSeq }

// TopologyVersion returns the topology version this future is rebalancing
// toward.
func (f *RebalanceFuture) TopologyVersion() TopologyVersion { return f.topologyVersion }

// IsInitial reports whether this is the dummy placeholder future a
// Demander hands out before its first real assignment arrives.
func (f *RebalanceFuture) IsInitial() bool { return f.isInitial }

// IsDone reports whether the future has reached a terminal state.
func (f *RebalanceFuture) IsDone() bool {
	return futureState(f.state.Load()) != futureActive
}

// State returns the future's current terminal-state tag as a
// human-readable string, for logging and tests.
func (f *RebalanceFuture) State() string {
	return futureState(f.state.Load()).String()
}

// IsActual reports whether seq matches the update sequence this future was
// created for. A HandleSupplyMessage call whose message carries a
// mismatched updateSeq belongs to a superseded exchange and must be
// dropped without mutating this future.
func (f *RebalanceFuture) IsActual(seq int64) bool {
	return seq == f.updateSeq
}

// AppendPartitions registers supplier as owing the given partitions. It is
// only valid before the future starts resolving; callers add every
// supplier up front, then issue demand messages.
func (f *RebalanceFuture) AppendPartitions(supplier SupplierID, parts PartitionSet) {
	if f.IsDone() || len(parts) == 0 {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	sp, ok := f.remaining[supplier]
	if !ok {
		sp = &supplierProgress{startedAt: time.Now(), remaining: NewPartitionSet()}
		f.remaining[supplier] = sp
	}

	for p := range parts {
		sp.remaining.Add(p)
	}
}

// SupplierCount returns the number of suppliers with outstanding work.
func (f *RebalanceFuture) SupplierCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.remaining)
}

// PartitionDone records that a supplier's entry for partition p has been
// applied. It returns ErrFutureNotActive if the future is already terminal
// (a no-op callers may ignore: bookkeeping for a finished future is moot)
// and ErrSupplierUnknown if the supplier was never registered via
// AppendPartitions.
func (f *RebalanceFuture) PartitionDone(ctx context.Context, supplier SupplierID, p PartitionID) error {
	if f.IsDone() {
		return ErrFutureNotActive
	}

	f.mu.Lock()
	sp, ok := f.remaining[supplier]
	if !ok {
		f.mu.Unlock()
		return ErrSupplierUnknown
	}

	sp.remaining.Remove(p)
	if len(sp.remaining) == 0 {
		delete(f.remaining, supplier)
	}
	f.mu.Unlock()

	if f.events != nil {
		f.events.PartLoaded(supplier, p)
	}

	f.checkIsDone(ctx)

	return nil
}

// PartitionMissed records that a supplier reported partition p as missing
// from its local store. Missed partitions do not fail the future by
// themselves; they are only surfaced once the future would otherwise
// finish, at which point they trigger a forced dummy exchange instead of a
// clean success.
func (f *RebalanceFuture) PartitionMissed(supplier SupplierID, p PartitionID) {
	if f.IsDone() {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	set, ok := f.missed[supplier]
	if !ok {
		set = NewPartitionSet()
		f.missed[supplier] = set
	}
	set.Add(p)

	if f.metrics != nil {
		f.metrics.RecordPartitionMissed(string(supplier))
	}
}

// Cancel hard-stops the future: it drops all outstanding work and
// transitions directly to Cancelled without consulting missed-partition
// accounting or asking the exchange layer for anything. Used when the
// future is invalidated wholesale — a pending exchange made it obsolete
// before requestPartitions ever ran, or a newer topology superseded it.
func (f *RebalanceFuture) Cancel(_ context.Context) {
	if !f.state.CompareAndSwap(int32(futureActive), int32(futureCancelled)) {
		return
	}

	f.mu.Lock()
	f.remaining = make(map[SupplierID]*supplierProgress)
	f.mu.Unlock()

	if f.metrics != nil {
		f.metrics.RecordFutureDone(false, time.Since(f.createdAt).Seconds())
	}

	f.fireListeners(false)
}

// CancelSupplier drops a single supplier from the future after it is
// detected gone mid-transfer. Unlike Cancel, this is not itself a terminal
// transition: the supplier's still-outstanding partitions are folded into
// missed so the normal checkIsDone accounting picks them up, producing a
// DoneFalse future with the right missed set once all suppliers have been
// accounted for (see end-to-end scenario for a supplier disconnecting
// mid-transfer).
func (f *RebalanceFuture) CancelSupplier(ctx context.Context, supplier SupplierID) {
	if f.IsDone() {
		return
	}

	f.mu.Lock()
	if sp, ok := f.remaining[supplier]; ok {
		set, ok := f.missed[supplier]
		if !ok {
			set = NewPartitionSet()
			f.missed[supplier] = set
		}

		for p := range sp.remaining {
			set.Add(p)
		}

		delete(f.remaining, supplier)
	}
	f.mu.Unlock()

	f.checkIsDone(ctx)
}

// checkIsDone implements the same policy as the original demander's
// checkIsDone: once remaining is empty, decide between a clean success, a
// forced dummy exchange for missed partitions, or a deferred success if
// the topology has already moved on. resolve() is called before any
// external ForceDummyExchange call so that IsDone() and the future's
// public state are consistent for any concurrent observer racing the
// exchange call.
func (f *RebalanceFuture) checkIsDone(ctx context.Context) {
	f.mu.Lock()
	empty := len(f.remaining) == 0
	f.mu.Unlock()

	if !empty {
		return
	}

	topologyAdvanced := f.affinity != nil && f.affinity.TopologyVersion() != f.topologyVersion

	f.mu.Lock()
	missedSet := NewPartitionSet()
	for _, set := range f.missed {
		for p := range set {
			missedSet.Add(p)
		}
	}
	f.mu.Unlock()

	succeeded := topologyAdvanced || len(missedSet) == 0

	if f.events != nil && (f.partitioned || f.sendStoppedEvt) {
		f.events.RebalanceStopped(succeeded, f.topologyVersion)
	}

	if topologyAdvanced {
		// Topology has already moved on; this future's outcome no
		// longer matters to the exchange layer, but callers waiting
		// on it still deserve a result.
		f.resolve(true)

		return
	}

	if len(missedSet) > 0 {
		f.resolve(false)

		if f.exchange != nil {
			if f.metrics != nil {
				f.metrics.RecordDummyExchangeForced()
			}

			if err := f.exchange.ForceDummyExchange(ctx, missedSet); err != nil && f.logger != nil {
				f.logger.Warn("failed to force dummy exchange for missed partitions", "error", err, "count", len(missedSet))
			}
		}

		return
	}

	if f.exchange != nil {
		f.exchange.ScheduleResendPartitions(ctx)
	}

	f.resolve(true)
}

// DoneIfEmpty runs the completion check without requiring a partition
// event, used by the Demander when a batch arrives with zero partitions
// assigned to any supplier (a legitimate, immediately-successful case).
func (f *RebalanceFuture) DoneIfEmpty(ctx context.Context) {
	f.checkIsDone(ctx)
}

// resolve performs the Active -> {DoneTrue,DoneFalse} transition exactly
// once and invokes listeners outside of any lock. Subsequent calls are
// no-ops, including after a Cancel has already moved the future to
// Cancelled.
func (f *RebalanceFuture) resolve(succeeded bool) {
	next := futureDoneFalse
	if succeeded {
		next = futureDoneTrue
	}

	if !f.state.CompareAndSwap(int32(futureActive), int32(next)) {
		return
	}

	if f.metrics != nil {
		f.metrics.RecordFutureDone(succeeded, time.Since(f.createdAt).Seconds())
	}

	f.fireListeners(succeeded)
}

// fireListeners drains the listener slice and invokes each with succeeded,
// outside of any lock.
func (f *RebalanceFuture) fireListeners(succeeded bool) {
	f.listenerMu.Lock()
	listeners := f.listeners
	f.listeners = nil
	f.listenerMu.Unlock()

	for _, l := range listeners {
		l(succeeded)
	}
}

// Listen registers fn to be called once the future resolves, with the
// success/failure outcome. If the future is already terminal, fn is
// invoked synchronously before Listen returns.
func (f *RebalanceFuture) Listen(fn func(succeeded bool)) {
	if fn == nil {
		return
	}

	state := futureState(f.state.Load())
	if state != futureActive {
		fn(state == futureDoneTrue)

		return
	}

	f.listenerMu.Lock()
	// Re-check under the listener lock: resolve()/Cancel() drain listeners
	// while holding it, so this closes the race where state flips between
	// the load above and acquiring the lock.
	state = futureState(f.state.Load())
	if state != futureActive {
		f.listenerMu.Unlock()
		fn(state == futureDoneTrue)

		return
	}

	f.listeners = append(f.listeners, fn)
	f.listenerMu.Unlock()
}

// Wait blocks until the future resolves or ctx is cancelled, returning the
// resolved success value.
func (f *RebalanceFuture) Wait(ctx context.Context) (bool, error) {
	done := make(chan bool, 1)
	f.Listen(func(succeeded bool) {
		select {
		case done <- succeeded:
		default:
		}
	})

	select {
	case succeeded := <-done:
		return succeeded, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
