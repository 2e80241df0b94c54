package memory

import (
	"context"
	"sync"
	"time"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
)

// SessionStore keeps rooms in process memory. Returned rooms are copies.
type SessionStore struct {
	rooms map[domain.RoomID]*domain.Room
	mu    sync.RWMutex
	now   func() time.Time
}

var _ ports.SessionStore = (*SessionStore)(nil)

// NewSessionStore creates an in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		rooms: make(map[domain.RoomID]*domain.Room),
		now:   time.Now,
	}
}

func (s *SessionStore) Get(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, exists := s.rooms[id]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}
	copied := *room
	return &copied, nil
}

func (s *SessionStore) Save(ctx context.Context, room *domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *room
	copied.UpdatedAt = s.now()
	s.rooms[room.ID] = &copied
	return nil
}

func (s *SessionStore) Transition(ctx context.Context, id domain.RoomID, next domain.RoomStatus) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, exists := s.rooms[id]
	if !exists {
		room = domain.NewRoom(id, s.now())
	}
	updated := *room
	if err := updated.Transition(next, s.now()); err != nil {
		return nil, err
	}
	s.rooms[id] = &updated

	copied := updated
	return &copied, nil
}

func (s *SessionStore) SetRecordingURL(ctx context.Context, id domain.RoomID, url string) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, exists := s.rooms[id]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}
	updated := *room
	updated.RecordingURL = url
	updated.UpdatedAt = s.now()
	s.rooms[id] = &updated

	copied := updated
	return &copied, nil
}
