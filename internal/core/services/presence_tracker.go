package services

import (
	"sort"
	"sync"

	"roomcast/internal/core/domain"
)

// RosterChange describes the difference between two roster snapshots.
type RosterChange struct {
	Added   []domain.Participant
	Removed []domain.Participant
	Roster  []domain.Participant
}

// PresenceTracker keeps the current roster of a room. Snapshots replace it wholesale;
// join/leave notices are surfaced to observers but never change the roster.
type PresenceTracker struct {
	mu           sync.RWMutex
	participants map[domain.ConnID]domain.Participant
	order        []domain.ConnID

	observers []func(RosterChange)
	notices   []func(joined bool, p domain.Participant)
}

// NewPresenceTracker creates an empty tracker.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		participants: make(map[domain.ConnID]domain.Participant),
	}
}

// ReplaceRoster installs a full roster snapshot and returns the diff against the previous one.
func (t *PresenceTracker) ReplaceRoster(roster []domain.Participant) RosterChange {
	t.mu.Lock()
	next := make(map[domain.ConnID]domain.Participant, len(roster))
	order := make([]domain.ConnID, 0, len(roster))
	var change RosterChange

	for _, p := range roster {
		if p.ConnID == "" {
			continue
		}
		if _, dup := next[p.ConnID]; dup {
			continue
		}
		next[p.ConnID] = p
		order = append(order, p.ConnID)
		if _, existed := t.participants[p.ConnID]; !existed {
			change.Added = append(change.Added, p)
		}
	}
	for _, id := range t.order {
		if _, kept := next[id]; !kept {
			change.Removed = append(change.Removed, t.participants[id])
		}
	}

	t.participants = next
	t.order = order
	change.Roster = t.snapshotLocked()
	observers := append([]func(RosterChange){}, t.observers...)
	t.mu.Unlock()

	for _, fn := range observers {
		fn(change)
	}
	return change
}

// NoteJoin forwards an incremental join notice to observers without touching the roster.
func (t *PresenceTracker) NoteJoin(p domain.Participant) {
	t.notify(true, p)
}

// NoteLeave forwards an incremental leave notice to observers without touching the roster.
func (t *PresenceTracker) NoteLeave(p domain.Participant) {
	t.notify(false, p)
}

func (t *PresenceTracker) notify(joined bool, p domain.Participant) {
	t.mu.RLock()
	notices := append([]func(bool, domain.Participant){}, t.notices...)
	t.mu.RUnlock()
	for _, fn := range notices {
		fn(joined, p)
	}
}

// Participants returns the participants in the order of the last roster.
func (t *PresenceTracker) Participants() []domain.Participant {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

func (t *PresenceTracker) Get(id domain.ConnID) (domain.Participant, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.participants[id]
	return p, ok
}

// ByRole returns the participants holding role.
func (t *PresenceTracker) ByRole(role domain.Role) []domain.Participant {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []domain.Participant
	for _, id := range t.order {
		if p := t.participants[id]; p.Role == role {
			out = append(out, p)
		}
	}
	return out
}

// ViewerConns returns the connection ids of every participant with role viewer, sorted.
func (t *PresenceTracker) ViewerConns() []domain.ConnID {
	viewers := t.ByRole(domain.RoleViewer)
	ids := make([]domain.ConnID, 0, len(viewers))
	for _, p := range viewers {
		ids = append(ids, p.ConnID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (t *PresenceTracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}

// Clear drops the roster, e.g. after the transport is lost.
func (t *PresenceTracker) Clear() {
	t.ReplaceRoster(nil)
}

// Subscribe registers fn for roster snapshots.
func (t *PresenceTracker) Subscribe(fn func(RosterChange)) {
	t.mu.Lock()
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

// SubscribeNotices registers fn for join/leave notices.
func (t *PresenceTracker) SubscribeNotices(fn func(joined bool, p domain.Participant)) {
	t.mu.Lock()
	t.notices = append(t.notices, fn)
	t.mu.Unlock()
}

func (t *PresenceTracker) snapshotLocked() []domain.Participant {
	out := make([]domain.Participant, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.participants[id])
	}
	return out
}
