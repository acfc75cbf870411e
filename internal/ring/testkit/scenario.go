// Package testkit holds the test-only capabilities that never ride on
// the production discovery surface: force-next-node-failure,
// break-connection, and injected message listener hooks, plus a
// reproducible seeded chaos harness driving the membership invariants
// over an in-memory topology model.
package testkit

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"ringmesh/internal/ring/topology"
)

// Scenario models a set of nodes sharing one coordinator-applied
// topology stream, the way every live ring member eventually converges
// on the same sequence of ensure-delivery events.
type Scenario struct {
	mu       sync.Mutex
	snapshot topology.Snapshot
	everSeen map[uuid.UUID]bool // joined at least once (P5 "ghost membership")
	removed  map[uuid.UUID]bool // has since left/failed
	nextOrd  uint64
	brokers  map[uuid.UUID]*topology.Broker // per-node observer, all fed in lockstep
}

// NewScenario returns an empty scenario with no members.
func NewScenario() *Scenario {
	return &Scenario{
		snapshot: topology.Empty,
		everSeen: make(map[uuid.UUID]bool),
		removed:  make(map[uuid.UUID]bool),
		brokers:  make(map[uuid.UUID]*topology.Broker),
	}
}

// Join admits a new node, publishing the resulting snapshot to every
// existing observer — the in-memory analogue of NodeAdded +
// NodeAddedFinished landing at every live member.
func (s *Scenario) Join(id uuid.UUID) topology.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextOrd++
	node := topology.Node{ID: id, Order: s.nextOrd}
	s.snapshot = s.snapshot.WithAdded(node)
	s.everSeen[id] = true
	delete(s.removed, id)

	b := topology.NewBroker()
	s.brokers[id] = b
	s.publishLocked()
	return s.snapshot
}

// Leave removes id from the live set via WithRemoved. It stands for a
// detected failure as well as a voluntary departure, since the
// membership model draws no distinction between them; only the emitted
// message differs.
func (s *Scenario) Leave(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.snapshot.Live(id) {
		return
	}
	s.snapshot = s.snapshot.WithRemoved(id)
	s.removed[id] = true
	delete(s.brokers, id)
	s.publishLocked()
}

// CustomEvent advances the version without changing membership,
// modeling CustomEventAck's position in the topology-version stream.
func (s *Scenario) CustomEvent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = s.snapshot.WithVersionBump()
	s.publishLocked()
}

func (s *Scenario) publishLocked() {
	for _, b := range s.brokers {
		b.Publish(s.snapshot)
	}
}

// Snapshot returns the current shared view.
func (s *Scenario) Snapshot() topology.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Members returns the live node ids.
func (s *Scenario) Members() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uuid.UUID, len(s.snapshot.Nodes))
	for i, n := range s.snapshot.Nodes {
		out[i] = n.ID
	}
	return out
}

// CheckNoGhostMembership verifies that every live member was
// admitted via Join (produced a NodeAddedFinished observation, here
// everSeen) and has not since left/failed.
func (s *Scenario) CheckNoGhostMembership() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.snapshot.Nodes {
		if !s.everSeen[n.ID] {
			return fmt.Errorf("node %s is live but was never observed joining", n.ID)
		}
		if s.removed[n.ID] {
			return fmt.Errorf("node %s is live but was already marked removed", n.ID)
		}
	}
	return nil
}

// CheckSingleCoordinator verifies that every per-node broker
// agrees on the smallest-order live node.
func (s *Scenario) CheckSingleCoordinator() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	want, ok := s.snapshot.Coordinator()
	for id, b := range s.brokers {
		got, gotOK := b.Current().Coordinator()
		if ok != gotOK || (ok && got.ID != want.ID) {
			return fmt.Errorf("node %s observes coordinator %v, want %v", id, got.ID, want.ID)
		}
	}
	return nil
}
