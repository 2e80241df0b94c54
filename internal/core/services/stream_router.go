package services

import (
	"sync"

	"roomcast/internal/core/domain"
)

// StreamRouter assigns inbound streams to the screen and camera display slots.
//
// Streams named by the latest metadata go to their announced slot. Any other stream
// fills the first empty slot in domain.SlotPriority, in arrival order. Routing is
// recomputed from scratch on every change, so a fallback guess is replaced as soon as
// metadata names the stream.
type StreamRouter struct {
	mu       sync.RWMutex
	meta     domain.StreamMetadata
	hasMeta  bool
	arrivals []string
	known    map[string]struct{}
	slots    map[domain.StreamRole]string

	observers []func(slots map[domain.StreamRole]string)
}

// NewStreamRouter creates a router with empty slots.
func NewStreamRouter() *StreamRouter {
	return &StreamRouter{
		known: make(map[string]struct{}),
		slots: make(map[domain.StreamRole]string),
	}
}

// AddStream registers an inbound stream id. Repeated ids are ignored.
func (r *StreamRouter) AddStream(id string) bool {
	if id == "" {
		return false
	}
	r.mu.Lock()
	if _, ok := r.known[id]; ok {
		r.mu.Unlock()
		return false
	}
	r.known[id] = struct{}{}
	r.arrivals = append(r.arrivals, id)
	changed, slots := r.rerouteLocked()
	r.mu.Unlock()

	if changed {
		r.publish(slots)
	}
	return changed
}

// RemoveStream forgets a stream, e.g. when its connection is replaced.
func (r *StreamRouter) RemoveStream(id string) bool {
	r.mu.Lock()
	if _, ok := r.known[id]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.known, id)
	for i, a := range r.arrivals {
		if a == id {
			r.arrivals = append(r.arrivals[:i], r.arrivals[i+1:]...)
			break
		}
	}
	changed, slots := r.rerouteLocked()
	r.mu.Unlock()

	if changed {
		r.publish(slots)
	}
	return changed
}

// ApplyMetadata installs the latest stream metadata and reports whether routing changed.
// Applying the same metadata twice is a no-op.
func (r *StreamRouter) ApplyMetadata(meta domain.StreamMetadata) bool {
	r.mu.Lock()
	if r.hasMeta && r.meta == meta {
		r.mu.Unlock()
		return false
	}
	r.meta = meta
	r.hasMeta = true
	changed, slots := r.rerouteLocked()
	r.mu.Unlock()

	if changed {
		r.publish(slots)
	}
	return changed
}

// Reset drops every stream and the metadata.
func (r *StreamRouter) Reset() {
	r.mu.Lock()
	r.meta = domain.StreamMetadata{}
	r.hasMeta = false
	r.arrivals = nil
	r.known = make(map[string]struct{})
	changed, slots := r.rerouteLocked()
	r.mu.Unlock()

	if changed {
		r.publish(slots)
	}
}

// Slot returns the stream routed to role.
func (r *StreamRouter) Slot(role domain.StreamRole) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.slots[role]
	return id, ok
}

// RoleOf returns the slot a stream is currently routed to.
func (r *StreamRouter) RoleOf(id string) (domain.StreamRole, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for role, sid := range r.slots {
		if sid == id {
			return role, true
		}
	}
	return "", false
}

func (r *StreamRouter) Metadata() domain.StreamMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.meta
}

// Slots returns a copy of the current routing.
func (r *StreamRouter) Slots() map[domain.StreamRole]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copySlots(r.slots)
}

// Subscribe registers fn for routing changes.
func (r *StreamRouter) Subscribe(fn func(slots map[domain.StreamRole]string)) {
	r.mu.Lock()
	r.observers = append(r.observers, fn)
	r.mu.Unlock()
}

func (r *StreamRouter) rerouteLocked() (bool, map[domain.StreamRole]string) {
	next := make(map[domain.StreamRole]string, len(domain.SlotPriority))
	placed := make(map[string]bool, len(r.arrivals))

	for _, id := range r.arrivals {
		if role, ok := r.meta.RoleFor(id); ok {
			next[role] = id
			placed[id] = true
		}
	}
	for _, id := range r.arrivals {
		if placed[id] {
			continue
		}
		for _, role := range domain.SlotPriority {
			if _, taken := next[role]; taken {
				continue
			}
			next[role] = id
			placed[id] = true
			break
		}
	}

	if equalSlots(next, r.slots) {
		return false, nil
	}
	r.slots = next
	return true, copySlots(next)
}

func (r *StreamRouter) publish(slots map[domain.StreamRole]string) {
	r.mu.RLock()
	observers := append([]func(map[domain.StreamRole]string){}, r.observers...)
	r.mu.RUnlock()
	for _, fn := range observers {
		fn(slots)
	}
}

func equalSlots(a, b map[domain.StreamRole]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func copySlots(in map[domain.StreamRole]string) map[domain.StreamRole]string {
	out := make(map[domain.StreamRole]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
