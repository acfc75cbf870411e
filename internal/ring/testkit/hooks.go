package testkit

import (
	"context"
	"fmt"
	"sync"

	"ringmesh/internal/ring/wire"
)

// Hooks is the test-only capability for faults and observation that
// must never ride on the production SPI surface: breaking the outbound
// ring connection, forcing the next neighbor to be declared failed, and
// intercepting every message the node's worker processes. A node binds
// the fault injectors at construction when (and only when) a test hands
// it a Hooks instance.
type Hooks struct {
	mu        sync.Mutex
	breakConn func()
	forceFail func(ctx context.Context) error
	listeners []func(wire.Envelope)
}

// NewHooks returns an unbound Hooks; a discovery node binds the
// injectors when constructed with it.
func NewHooks() *Hooks {
	return &Hooks{}
}

// BindBreakConnection is called by the node under test to supply the
// connection-break injector.
func (h *Hooks) BindBreakConnection(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.breakConn = fn
}

// BindForceNextNodeFailure is called by the node under test to supply
// the forced-failure injector.
func (h *Hooks) BindForceNextNodeFailure(fn func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forceFail = fn
}

// BreakConnection drops the node's outbound ring socket, simulating a
// broken link; the writer's retry and skip logic takes over from there.
func (h *Hooks) BreakConnection() error {
	h.mu.Lock()
	fn := h.breakConn
	h.mu.Unlock()
	if fn == nil {
		return fmt.Errorf("testkit: no node bound to hooks")
	}
	fn()
	return nil
}

// ForceNextNodeFailure makes the node declare its current next
// neighbor failed without waiting out the heartbeat budget.
func (h *Hooks) ForceNextNodeFailure(ctx context.Context) error {
	h.mu.Lock()
	fn := h.forceFail
	h.mu.Unlock()
	if fn == nil {
		return fmt.Errorf("testkit: no node bound to hooks")
	}
	return fn(ctx)
}

// AddMessageListener registers fn to observe every envelope the node's
// message worker processes, returning a removal function. Listeners run
// on the worker goroutine and must not block.
func (h *Hooks) AddMessageListener(fn func(wire.Envelope)) (remove func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
	idx := len(h.listeners) - 1
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if idx < len(h.listeners) {
			h.listeners[idx] = nil
		}
	}
}

// ObserveMessage fans env out to the registered listeners; called by
// the bound node's handler chain.
func (h *Hooks) ObserveMessage(env wire.Envelope) {
	h.mu.Lock()
	listeners := make([]func(wire.Envelope), len(h.listeners))
	copy(listeners, h.listeners)
	h.mu.Unlock()
	for _, fn := range listeners {
		if fn != nil {
			fn(env)
		}
	}
}
