package main

import (
	"sync"

	"github.com/moonshinevfx/4drec-go/pkg/bus"
)

// busRouter tracks one Endpoint per connected slave and implements the two
// delivery shapes the Master side needs: Broadcast (recorder.Dispatcher,
// supervisor.FactoryReset-equivalent on the slave side has no analogue
// here) and Send to one named slave (registry image pushes, per-camera
// GET_SHOT_IMAGE requests).
type busRouter struct {
	mu        sync.RWMutex
	endpoints map[string]bus.Endpoint
}

func newBusRouter() *busRouter {
	return &busRouter{endpoints: make(map[string]bus.Endpoint)}
}

func (r *busRouter) onConnect(slaveName string, ep bus.Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[slaveName] = ep
}

func (r *busRouter) onDisconnect(slaveName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.endpoints, slaveName)
}

// Broadcast sends msg to every currently connected slave.
func (r *busRouter) Broadcast(msg *bus.Message) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ep := range r.endpoints {
		_ = ep.Send(msg)
	}
}

// Send delivers msg to one named slave. Unknown slaves are a silent no-op;
// the caller (e.g. a stale GET_SHOT_IMAGE request after a disconnect) has
// nothing better to do with the failure than log it, which the caller
// already does via the bus ProtocolViolation/TransientIO handling.
func (r *busRouter) Send(slaveName string, msg *bus.Message) error {
	r.mu.RLock()
	ep, ok := r.endpoints[slaveName]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return ep.Send(msg)
}
