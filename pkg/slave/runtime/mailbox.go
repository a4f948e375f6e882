package runtime

import "sync"

// liveViewMailbox is the single-slot "newest wins" buffer from the
// concurrency model (§5): publish replaces the slot and wakes one waiter;
// consume blocks while empty, then takes and clears. It is not a queue —
// dropping intermediate frames under load is intentional.
type liveViewMailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  *RawFrame
	closed bool
}

func newLiveViewMailbox() *liveViewMailbox {
	m := &liveViewMailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Publish replaces the slot's contents, dropping whatever was pending.
func (m *liveViewMailbox) Publish(f RawFrame) {
	m.mu.Lock()
	m.frame = &f
	m.mu.Unlock()
	m.cond.Signal()
}

// Consume blocks until a frame is available (or the mailbox is closed),
// then returns it, clearing the slot.
func (m *liveViewMailbox) Consume() (RawFrame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.frame == nil && !m.closed {
		m.cond.Wait()
	}
	if m.frame == nil {
		return RawFrame{}, false
	}
	f := *m.frame
	m.frame = nil
	return f, true
}

// Close wakes any blocked consumer permanently.
func (m *liveViewMailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cond.Broadcast()
}
