package services

import (
	"sync"
	"time"

	"pharmacy-delivery/internal/tracking-service/core/domain/model"
)

// trackState is the in-process throttle state of one delivery. It is soft state:
// losing it on restart only lets one extra sample through.
type trackState struct {
	mu           sync.Mutex
	loaded       bool
	lastCaptured time.Time
	lastStored   time.Time
	lastSeen     time.Time
	pending      *model.LocationSample
	evicted      bool
}

// coalescer hands out per-delivery track states.
type coalescer struct {
	mu     sync.Mutex
	states map[string]*trackState
}

func newCoalescer() *coalescer {
	return &coalescer{states: make(map[string]*trackState)}
}

func (c *coalescer) state(deliveryID string) *trackState {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[deliveryID]
	if !ok {
		st = &trackState{}
		c.states[deliveryID] = st
	}
	return st
}

// lock returns the delivery's state with its mutex held.
func (c *coalescer) lock(deliveryID string) *trackState {
	for {
		st := c.state(deliveryID)
		st.mu.Lock()
		if !st.evicted {
			return st
		}
		st.mu.Unlock()
	}
}

// snapshot returns the delivery ids currently tracked.
func (c *coalescer) snapshot() map[string]*trackState {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]*trackState, len(c.states))
	for id, st := range c.states {
		out[id] = st
	}
	return out
}

// forget drops a state. The caller holds st.mu.
func (c *coalescer) forget(deliveryID string, st *trackState) {
	st.evicted = true
	st.pending = nil

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.states[deliveryID] == st {
		delete(c.states, deliveryID)
	}
}

func (c *coalescer) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.states)
}
