// Package rebalancetest provides in-memory fakes for rebalance's external
// collaborator interfaces (Transport, PartitionTable, Affinity,
// ExchangeCoordinator, EventSink), following the same hand-written mock
// style as internal/assignment/testing_helpers.go rather than a generated
// mock library. They are exported so downstream packages can exercise a
// real Demander end to end without a NATS server.
package rebalancetest

import (
	"context"
	"sync"
	"time"

	"github.com/arloliu/parti/rebalance"
)

// Transport is an in-process fake of rebalance.Transport: SendOrdered on
// one instance delivers directly to the Subscribe handlers registered on
// whichever peer instance shares the same Network.
type Transport struct {
	net  *Network
	self rebalance.SupplierID

	mu   sync.Mutex
	fail map[string]error
}

// Network is the shared in-memory bus a set of Transport fakes attach to,
// modeling a single NATS subject namespace. Zero value is ready to use.
type Network struct {
	mu   sync.Mutex
	subs map[string][]func(from rebalance.SupplierID, payload []byte)
}

// NewTransport creates a Transport identifying itself as self, attached
// to net.
func NewTransport(net *Network, self rebalance.SupplierID) *Transport {
	return &Transport{net: net, self: self, fail: make(map[string]error)}
}

var _ rebalance.Transport = (*Transport)(nil)

// FailNextSendTo makes the next SendOrdered call to node return err
// instead of delivering, simulating a supplier gone mid-transfer.
func (t *Transport) FailNextSendTo(node rebalance.SupplierID, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fail[string(node)] = err
}

// SendOrdered delivers payload synchronously to every handler subscribed
// to topic on net, exactly as core NATS fans a publish out to every
// subscriber of a subject — the node argument identifies the intended
// recipient for error reporting only, it plays no part in delivery. A
// topic that fails to scope itself to one recipient will, just as on a
// real NATS connection, be echoed to every subscriber of that subject
// including the sender itself.
func (t *Transport) SendOrdered(_ context.Context, node rebalance.SupplierID, topic string, payload []byte, _ time.Duration) error {
	t.mu.Lock()
	if err, ok := t.fail[string(node)]; ok {
		delete(t.fail, string(node))
		t.mu.Unlock()

		return err
	}
	t.mu.Unlock()

	t.net.deliver(topic, t.self, payload)

	return nil
}

// Subscribe registers handler for every message published to topic on
// net, regardless of sender or of which Transport instance published it.
func (t *Transport) Subscribe(topic string, handler func(from rebalance.SupplierID, payload []byte)) (func(), error) {
	return t.net.subscribe(topic, handler), nil
}

func (n *Network) subscribe(topic string, handler func(from rebalance.SupplierID, payload []byte)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.subs == nil {
		n.subs = make(map[string][]func(from rebalance.SupplierID, payload []byte))
	}

	n.subs[topic] = append(n.subs[topic], handler)
	idx := len(n.subs[topic]) - 1

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()

		handlers := n.subs[topic]
		if idx < len(handlers) {
			handlers[idx] = nil
		}
	}
}

func (n *Network) deliver(topic string, from rebalance.SupplierID, payload []byte) {
	n.mu.Lock()
	handlers := append([]func(from rebalance.SupplierID, payload []byte){}, n.subs[topic]...)
	n.mu.Unlock()

	for _, h := range handlers {
		if h != nil {
			h(from, payload)
		}
	}
}

// Affinity is a fake rebalance.Affinity backed by a plain map, swappable
// wholesale via SetSnapshot to simulate a topology change mid-test.
type Affinity struct {
	mu      sync.RWMutex
	version rebalance.TopologyVersion
	owner   map[rebalance.PartitionID]rebalance.SupplierID
	local   rebalance.SupplierID
}

// NewAffinity creates an Affinity that treats local as the owning node
// for IsLocal purposes.
func NewAffinity(local rebalance.SupplierID) *Affinity {
	return &Affinity{owner: make(map[rebalance.PartitionID]rebalance.SupplierID), local: local}
}

var _ rebalance.Affinity = (*Affinity)(nil)

// SetSnapshot replaces the current version and ownership map.
func (a *Affinity) SetSnapshot(ver rebalance.TopologyVersion, owner map[rebalance.PartitionID]rebalance.SupplierID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.version = ver
	a.owner = owner
}

// IsLocal reports whether p is owned by the local node at ver.
func (a *Affinity) IsLocal(p rebalance.PartitionID, ver rebalance.TopologyVersion) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.version != ver {
		return false
	}

	return a.owner[p] == a.local
}

// TopologyVersion returns the current fake topology version.
func (a *Affinity) TopologyVersion() rebalance.TopologyVersion {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.version
}

// ExchangeCoordinator is a fake rebalance.ExchangeCoordinator recording
// every call for assertions.
type ExchangeCoordinator struct {
	mu sync.Mutex

	pending  bool
	version  rebalance.TopologyVersion
	preloads int
	dummies  []rebalance.PartitionSet
	resends  int
}

// NewExchangeCoordinator creates an idle fake at the zero TopologyVersion.
func NewExchangeCoordinator() *ExchangeCoordinator {
	return &ExchangeCoordinator{}
}

var _ rebalance.ExchangeCoordinator = (*ExchangeCoordinator)(nil)

// SetPending controls the value HasPendingExchange returns.
func (e *ExchangeCoordinator) SetPending(pending bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = pending
}

// SetVersion sets the value CurrentTopologyVersion returns.
func (e *ExchangeCoordinator) SetVersion(ver rebalance.TopologyVersion) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.version = ver
}

// HasPendingExchange reports the value last set via SetPending.
func (e *ExchangeCoordinator) HasPendingExchange() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.pending
}

// ForcePreloadExchange records the call.
func (e *ExchangeCoordinator) ForcePreloadExchange(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.preloads++

	return nil
}

// ForceDummyExchange records missed for later inspection via Dummies.
func (e *ExchangeCoordinator) ForceDummyExchange(_ context.Context, missed rebalance.PartitionSet) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dummies = append(e.dummies, missed)

	return nil
}

// ScheduleResendPartitions records the call.
func (e *ExchangeCoordinator) ScheduleResendPartitions(_ context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resends++
}

// CurrentTopologyVersion returns the value last set via SetVersion.
func (e *ExchangeCoordinator) CurrentTopologyVersion() rebalance.TopologyVersion {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.version
}

// Preloads returns the number of ForcePreloadExchange calls observed.
func (e *ExchangeCoordinator) Preloads() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.preloads
}

// Dummies returns every PartitionSet passed to ForceDummyExchange, in
// call order.
func (e *ExchangeCoordinator) Dummies() []rebalance.PartitionSet {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]rebalance.PartitionSet(nil), e.dummies...)
}

// Resends returns the number of ScheduleResendPartitions calls observed.
func (e *ExchangeCoordinator) Resends() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.resends
}

// EventSink is a fake rebalance.EventSink recording every call.
type EventSink struct {
	mu           sync.Mutex
	partLoaded   int
	objectLoaded int
	stopped      []bool
}

// NewEventSink creates an empty EventSink.
func NewEventSink() *EventSink {
	return &EventSink{}
}

var _ rebalance.EventSink = (*EventSink)(nil)

// PartLoaded increments the part-loaded counter.
func (s *EventSink) PartLoaded(rebalance.SupplierID, rebalance.PartitionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partLoaded++
}

// ObjectLoaded increments the object-loaded counter.
func (s *EventSink) ObjectLoaded(rebalance.PartitionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objectLoaded++
}

// RebalanceStopped records the succeeded value of each call.
func (s *EventSink) RebalanceStopped(succeeded bool, _ rebalance.TopologyVersion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = append(s.stopped, succeeded)
}

// PartLoadedCount returns the number of PartLoaded calls observed.
func (s *EventSink) PartLoadedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.partLoaded
}

// ObjectLoadedCount returns the number of ObjectLoaded calls observed.
func (s *EventSink) ObjectLoadedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.objectLoaded
}

// StoppedOutcomes returns the succeeded value of every RebalanceStopped
// call, in call order.
func (s *EventSink) StoppedOutcomes() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]bool(nil), s.stopped...)
}
