package rebalance

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/zeebo/xxh3"

	"github.com/arloliu/parti/types"
)

// DemanderDeps bundles the external collaborators a Demander needs. All
// but Transport, Table, Affinity and Exchange are optional and default to
// no-op implementations, following the functional-options convention used
// by the surrounding Manager (see options.go) at the field-default level
// instead: this package is constructed directly rather than via an
// options slice, since its collaborator surface is fixed by the
// specification rather than open-ended.
type DemanderDeps struct {
	Transport Transport
	Table     PartitionTable
	Affinity  Affinity
	Exchange  ExchangeCoordinator
	Events    EventSink
	Metrics   RebalanceMetricsCollector
	Logger    types.Logger

	// Ordering, if set, is consulted for BeforeCaches dependencies before
	// requestPartitions runs.
	Ordering *OrderingGate

	// BeforeCaches lists prerequisite cache names, awaited in order via
	// Ordering before this cache issues any demand message.
	BeforeCaches []string
}

// Demander is the per-cache driver of the rebalancing protocol: it turns
// an AssignmentBatch into demand messages split across worker lanes,
// applies incoming supply messages, and advances a RebalanceFuture to
// completion.
type Demander struct {
	cacheID uint32
	localID SupplierID
	cfg     Config

	seqCounter atomic.Int64

	futureMu sync.Mutex
	current  *RebalanceFuture
	initial  *RebalanceFuture

	retryTimer *RetryTimer
	demandLock *DemandLock
	ordering   *OrderingGate
	before     []string

	transport Transport
	table     PartitionTable
	affinity  Affinity
	exchange  ExchangeCoordinator
	events    EventSink
	metrics   RebalanceMetricsCollector
	logger    types.Logger

	laneSubs *xsync.Map[int, func()]
}

// NewDemander constructs a Demander for cacheID, identifying itself as
// localID on the wire. cfg must already have SetDefaults applied and pass
// Validate; NewDemander returns the Validate error unchanged if not.
func NewDemander(cfg Config, cacheID uint32, localID SupplierID, deps DemanderDeps) (*Demander, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if deps.Events == nil {
		deps.Events = nopEventSink{}
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Ordering == nil {
		deps.Ordering = NewOrderingGate()
	}

	d := &Demander{
		cacheID:    cacheID,
		localID:    localID,
		cfg:        cfg,
		retryTimer: NewRetryTimer(),
		demandLock: NewDemandLock(),
		ordering:   deps.Ordering,
		before:     deps.BeforeCaches,
		transport:  deps.Transport,
		table:      deps.Table,
		affinity:   deps.Affinity,
		exchange:   deps.Exchange,
		events:     deps.Events,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		laneSubs:   xsync.NewMap[int, func()](),
	}

	initial := newRebalanceFuture(0, TopologyVersion{}, "", true, false, d.futureDeps())
	if cfg.Mode == RebalanceModeNone {
		initial.resolve(true)
	}
	d.initial = initial
	d.current = initial

	return d, nil
}

func (d *Demander) futureDeps() futureDeps {
	return futureDeps{
		affinity: d.affinity,
		exchange: d.exchange,
		events:   d.events,
		metrics:  d.metrics,
		logger:   d.logger,
		// PARTITIONED is the common cache mode; without a distributed
		// cache-mode collaborator in scope, every future is treated as
		// partitioned so RebalanceStopped always fires (matching the
		// "cache is partitioned OR sendStoppedEvent" disjunction with
		// the partitioned side always true).
		partitioned: true,
	}
}

// rebalanceTopic returns the deterministic subject a given node owns for
// lane, derived from cacheID so multiple caches sharing a transport
// connection do not collide. Every node — demander or supplier — listens
// on the subject naming itself and publishes to the subject naming its
// peer, so a node never subscribes to a subject it also publishes on and
// an outbound send can only reach the one peer it names, even when other
// nodes share the same lane.
func (d *Demander) rebalanceTopic(lane int, node SupplierID) string {
	return fmt.Sprintf("parti.rebalance.%d.lane.%d.%s", d.cacheID, lane, node)
}

// Start subscribes one handler per configured lane. It must be called
// once before any supply message can be received.
func (d *Demander) Start(_ context.Context) error {
	if d.cfg.Mode == RebalanceModeNone {
		return nil
	}

	for lane := 0; lane < int(d.cfg.ThreadPoolSize); lane++ {
		lane := lane

		unsubscribe, err := d.transport.Subscribe(d.rebalanceTopic(lane, d.localID), func(from SupplierID, payload []byte) {
			msg, err := decodeSupplyMessage(payload)
			if err != nil {
				if d.logger != nil {
					d.logger.Warn("failed to decode supply message", "error", err, "lane", lane, "from", from)
				}

				if IsNodeGone(err) {
					d.SyncFuture().CancelSupplier(context.Background(), from)
				}

				return
			}

			if err := d.HandleSupplyMessage(context.Background(), lane, from, msg); err != nil && d.logger != nil {
				d.logger.Debug("supply message handling error", "error", err, "lane", lane, "from", from)
			}
		})
		if err != nil {
			d.Stop()

			return fmt.Errorf("subscribe lane %d: %w", lane, err)
		}

		d.laneSubs.Store(lane, unsubscribe)
	}

	return nil
}

// Stop unsubscribes every lane, cancels any pending retry timer, and
// blocks until any in-flight HandleSupplyMessage call has finished
// applying its entries.
func (d *Demander) Stop() {
	d.retryTimer.Cancel()

	d.laneSubs.Range(func(lane int, unsubscribe func()) bool {
		unsubscribe()
		d.laneSubs.Delete(lane)

		return true
	})

	d.demandLock.Quiesce()
	d.demandLock.Resume()
}

// SyncFuture returns the current future: the dummy initial future before
// the first assignment, or the most recently constructed real future
// afterward.
func (d *Demander) SyncFuture() *RebalanceFuture {
	d.futureMu.Lock()
	defer d.futureMu.Unlock()

	return d.current
}

// ForcePreload cancels any pending delayed-assignment timer and asks the
// exchange layer to run a new round immediately.
func (d *Demander) ForcePreload(ctx context.Context) error {
	if d.cfg.Mode == RebalanceModeNone {
		return ErrDemanderDisabled
	}

	d.retryTimer.Cancel()

	return d.exchange.ForcePreloadExchange(ctx)
}

// AddAssignments accepts a new assignment batch. If the batch is honored
// immediately (delay == 0 or force), it returns the RebalanceFuture
// created for it (which may already be terminal by the time this
// function returns, e.g. an empty batch resolves synchronously) and
// launches the ordering-gate wait and requestPartitions in the
// background. If the assignment is deferred, it returns the (still
// current) previous future and arms the retry timer instead.
func (d *Demander) AddAssignments(ctx context.Context, batch AssignmentBatch, force bool) (*RebalanceFuture, error) {
	if d.cfg.Mode == RebalanceModeNone {
		return nil, ErrDemanderDisabled
	}

	if d.cfg.Delay > 0 && !force {
		d.retryTimer.Set(d.cfg.Delay, func() {
			_ = d.ForcePreload(context.Background())
		})

		return d.SyncFuture(), nil
	}

	d.futureMu.Lock()
	oldFut := d.current
	seq := d.seqCounter.Add(1)
	fut := newRebalanceFuture(seq, batch.TopologyVersion(), batch.ExchangeID(), false, false, d.futureDeps())

	if !oldFut.IsInitial() {
		oldFut.Cancel(ctx)
	} else {
		oldFut.chainFrom(fut)
	}

	d.current = fut
	d.futureMu.Unlock()

	if d.exchange.HasPendingExchange() {
		fut.Cancel(ctx)

		return fut, nil
	}

	if batch.IsEmpty() {
		fut.DoneIfEmpty(ctx)

		return fut, nil
	}

	if d.topologyChanged(fut) {
		fut.Cancel(ctx)

		return fut, nil
	}

	go func() {
		succeeded, err := d.ordering.Await(ctx, d.before)
		if err != nil {
			fut.Cancel(ctx)

			return
		}

		if !succeeded {
			fut.Cancel(ctx)

			return
		}

		if fut.IsDone() {
			return
		}

		d.requestPartitions(ctx, fut, batch)
	}()

	return fut, nil
}

// topologyChanged reports whether the exchange layer's current version
// has moved past fut's.
func (d *Demander) topologyChanged(fut *RebalanceFuture) bool {
	return d.exchange.CurrentTopologyVersion() != fut.TopologyVersion()
}

// requestPartitions splits each supplier's partition set across
// configured lanes and dispatches one demand message per non-empty lane.
//
// A send failure on any lane cancels fut and stops dispatching entirely,
// rather than only skipping the remaining lanes for that one supplier:
// once fut is cancelled its bookkeeping is wiped, so any further sends
// this call might still issue would have nothing left to record against.
func (d *Demander) requestPartitions(ctx context.Context, fut *RebalanceFuture, batch AssignmentBatch) {
	lanes := int(d.cfg.ThreadPoolSize)

	var sendFailed bool

	batch.ForEachSupplier(func(supplier SupplierID, parts PartitionSet) {
		if sendFailed || fut.IsDone() {
			return
		}

		if d.topologyChanged(fut) {
			fut.Cancel(ctx)
			sendFailed = true

			return
		}

		fut.AppendPartitions(supplier, parts)

		byLane := make([]PartitionSet, lanes)
		for i := range byLane {
			byLane[i] = NewPartitionSet()
		}

		for p := range parts {
			lane := laneFor(p, lanes)
			byLane[lane].Add(p)
		}

		for lane, laneParts := range byLane {
			if len(laneParts) == 0 {
				continue
			}

			msg := DemandMessage{
				CacheID:         d.cacheID,
				TopologyVersion: fut.TopologyVersion(),
				UpdateSeq:       fut.UpdateSeq(),
				TimeoutMillis:   d.cfg.Timeout.Milliseconds(),
				Partitions:      laneParts.Slice(),
			}

			payload, err := encodeDemandMessage(msg)
			if err != nil {
				continue
			}

			if err := d.transport.SendOrdered(ctx, supplier, d.rebalanceTopic(lane, supplier), payload, d.cfg.Timeout); err != nil {
				if d.logger != nil {
					d.logger.Warn("failed to send demand message", "error", err, "supplier", supplier, "lane", lane)
				}

				fut.Cancel(ctx)
				sendFailed = true

				return
			}

			d.metrics.RecordDemandSent(string(supplier), 0)
		}
	})

	d.metrics.SetActiveSuppliers(fut.SupplierCount())
	fut.Listen(func(bool) { d.metrics.SetActiveSuppliers(0) })
}

// laneFor deterministically assigns p to one of lanes lanes via a
// well-distributed hash, following internal/hash/ring.go's use of xxh3
// for lane/shard assignment rather than a plain modulo of the raw ID.
func laneFor(p PartitionID, lanes int) int {
	if lanes <= 1 {
		return 0
	}

	var buf [4]byte
	buf[0] = byte(p)
	buf[1] = byte(p >> 8)
	buf[2] = byte(p >> 16)
	buf[3] = byte(p >> 24)

	return int(xxh3.Hash(buf[:]) % uint64(lanes))
}

// HandleSupplyMessage processes one supply message arriving on laneIndex
// from supplier.
func (d *Demander) HandleSupplyMessage(ctx context.Context, laneIndex int, supplier SupplierID, msg SupplyMessage) error {
	d.demandLock.BeginDemand()
	defer d.demandLock.EndDemand()

	fut := d.SyncFuture()

	if !fut.IsActual(msg.UpdateSeq) {
		return nil
	}

	if d.topologyChanged(fut) {
		fut.Cancel(ctx)

		return ErrStaleTopology
	}

	if msg.HasClassError() {
		fut.CancelSupplier(ctx, supplier)

		return fmt.Errorf("%w: %s", ErrClassError, msg.ClassError)
	}

	last := msg.lastSet()
	entryCount := 0

	for p, entries := range msg.PerPartition {
		entryCount += len(entries)

		if err := d.applyPartitionEntries(ctx, fut, supplier, p, entries, last.Contains(p)); err != nil {
			if d.logger != nil {
				d.logger.Debug("failed applying partition entries", "error", err, "partition", p, "supplier", supplier)
			}
		}
	}

	d.metrics.RecordSupplyReceived(string(supplier), entryCount)

	for _, p := range msg.Missed {
		if !d.affinity.IsLocal(p, fut.TopologyVersion()) {
			continue
		}

		fut.PartitionMissed(supplier, p)
		_ = fut.PartitionDone(ctx, supplier, p)
	}

	if fut.IsDone() || d.topologyChanged(fut) {
		return nil
	}

	ack := DemandMessage{
		CacheID:         d.cacheID,
		TopologyVersion: fut.TopologyVersion(),
		UpdateSeq:       fut.UpdateSeq(),
		TimeoutMillis:   d.cfg.Timeout.Milliseconds(),
	}

	payload, err := encodeDemandMessage(ack)
	if err != nil {
		return err
	}

	if err := d.transport.SendOrdered(ctx, supplier, d.rebalanceTopic(laneIndex, supplier), payload, d.cfg.Timeout); err != nil {
		fut.CancelSupplier(ctx, supplier)

		return fmt.Errorf("%w: ack to %s: %w", ErrSendFailure, supplier, err)
	}

	return nil
}

// applyPartitionEntries applies one partition's worth of entries from a
// supply message, then marks the partition done if it was the last batch
// for that supplier.
func (d *Demander) applyPartitionEntries(ctx context.Context, fut *RebalanceFuture, supplier SupplierID, p PartitionID, entries []WireEntry, isLast bool) error {
	if !d.affinity.IsLocal(p, fut.TopologyVersion()) {
		return fut.PartitionDone(ctx, supplier, p)
	}

	handle, err := d.table.LocalPartition(ctx, p, fut.TopologyVersion(), true)
	if err != nil {
		return fut.PartitionDone(ctx, supplier, p)
	}

	if handle.State() != PartitionMoving {
		return fut.PartitionDone(ctx, supplier, p)
	}

	if !handle.Reserve() {
		return fut.PartitionDone(ctx, supplier, p)
	}
	defer handle.Release()

	handle.Lock()
	func() {
		defer handle.Unlock()

		for _, e := range entries {
			if !handle.PreloadingPermitted(e.Key, e.Version) {
				continue
			}

			installed, err := handle.InitialValue(e.Key, e.Value, e.Version, e.TTLMillis, e.ExpireAtMs)
			if err != nil {
				break
			}

			if installed {
				d.events.ObjectLoaded(p)
			}
		}
	}()

	if isLast {
		if _, err := d.table.Own(ctx, p); err != nil && d.logger != nil {
			d.logger.Warn("failed to own partition after last supply", "error", err, "partition", p)
		}

		d.metrics.RecordPartitionRebalanced(string(supplier))

		return fut.PartitionDone(ctx, supplier, p)
	}

	return nil
}

// chainFrom registers a listener on target so that when target resolves,
// f (the initial dummy future) resolves to the same outcome. This is how
// a RebalanceMode: Sync caller blocked on the initial future observes the
// first real round's result instead of an immediate false completion.
func (f *RebalanceFuture) chainFrom(target *RebalanceFuture) {
	target.Listen(func(succeeded bool) {
		f.resolve(succeeded)
	})
}

// nopEventSink and nopMetrics are package-local fallbacks for
// NewDemander's optional dependencies. They cannot live in the
// rebalancemetrics package (the natural home, mirroring
// internal/metrics's Nop/Prometheus pairing) because that package
// imports rebalance for the collector interface; importing it back here
// would cycle. Callers who want the shared rebalancemetrics.NopCollector
// for symmetry with a Prometheus collector elsewhere may still pass it in
// explicitly via DemanderDeps.Metrics.
type nopEventSink struct{}

func (nopEventSink) PartLoaded(SupplierID, PartitionID)     {}
func (nopEventSink) ObjectLoaded(PartitionID)                {}
func (nopEventSink) RebalanceStopped(bool, TopologyVersion) {}

type nopMetrics struct{}

func (nopMetrics) RecordFutureCreated(bool)         {}
func (nopMetrics) RecordFutureDone(bool, float64)   {}
func (nopMetrics) RecordPartitionRebalanced(string) {}
func (nopMetrics) RecordPartitionMissed(string)     {}
func (nopMetrics) RecordDemandSent(string, int)     {}
func (nopMetrics) RecordSupplyReceived(string, int) {}
func (nopMetrics) SetActiveSuppliers(int)           {}
func (nopMetrics) RecordDummyExchangeForced()       {}
