package rebalance

import "sync"

// DemandLock coordinates a cache's demand cycle with external
// collaborators that must quiesce rebalancing entirely. A demand cycle
// holds the read side for the duration of applying one supply message's
// entries, not for the lifetime of the whole future; a state dump or
// cache shutdown acquires the write side, which blocks until every
// in-flight entry application has released its read hold and prevents new
// ones from starting until released.
//
// This is a thin naming wrapper over sync.RWMutex: the type exists so call
// sites read as domain operations (BeginDemand/EndDemand vs Lock/Unlock on
// an unlabeled mutex) rather than to add behavior beyond what RWMutex
// already provides.
type DemandLock struct {
	mu sync.RWMutex
}

// NewDemandLock creates an unlocked DemandLock.
func NewDemandLock() *DemandLock {
	return &DemandLock{}
}

// BeginDemand acquires the read side, held for the duration of applying
// one supply message's entries.
func (l *DemandLock) BeginDemand() {
	l.mu.RLock()
}

// EndDemand releases the read side acquired by BeginDemand.
func (l *DemandLock) EndDemand() {
	l.mu.RUnlock()
}

// Quiesce acquires the write side, blocking until all in-flight demand
// cycles have called EndDemand, and preventing new ones from starting
// until Resume is called.
func (l *DemandLock) Quiesce() {
	l.mu.Lock()
}

// Resume releases the write side acquired by Quiesce.
func (l *DemandLock) Resume() {
	l.mu.Unlock()
}
