package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
	"roomcast/pkg/tracing"

	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 5

// SessionStore keeps each room as a JSON document. Transitions run in a WATCH
// transaction so concurrent relay instances cannot apply conflicting moves.
type SessionStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ ports.SessionStore = (*SessionStore)(nil)

// NewSessionStore stores rooms under "roomcast:room:<id>". Completed rooms expire after ttl
// when ttl is positive.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client: client,
		prefix: "roomcast:room:",
		ttl:    ttl,
	}
}

func (s *SessionStore) roomKey(id domain.RoomID) string {
	return s.prefix + string(id)
}

func (s *SessionStore) Get(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	ctx, span := tracing.TraceStoreOperation(ctx, "get", "redis")
	defer span.End()

	return s.get(ctx, s.client, id)
}

func (s *SessionStore) get(ctx context.Context, c redis.Cmdable, id domain.RoomID) (*domain.Room, error) {
	data, err := c.Get(ctx, s.roomKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room from Redis: %w", err)
	}

	var room domain.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}
	return &room, nil
}

func (s *SessionStore) Save(ctx context.Context, room *domain.Room) error {
	ctx, span := tracing.TraceStoreOperation(ctx, "save", "redis")
	defer span.End()

	room.UpdatedAt = time.Now()
	return s.put(ctx, s.client, room)
}

func (s *SessionStore) put(ctx context.Context, c redis.Cmdable, room *domain.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}

	var ttl time.Duration
	if room.Status == domain.RoomCompleted {
		ttl = s.ttl
	}
	if err := c.Set(ctx, s.roomKey(room.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set room in Redis: %w", err)
	}
	return nil
}

func (s *SessionStore) Transition(ctx context.Context, id domain.RoomID, next domain.RoomStatus) (*domain.Room, error) {
	ctx, span := tracing.TraceStoreOperation(ctx, "transition", "redis")
	defer span.End()

	return s.update(ctx, id, true, func(room *domain.Room) error {
		return room.Transition(next, time.Now())
	})
}

func (s *SessionStore) SetRecordingURL(ctx context.Context, id domain.RoomID, url string) (*domain.Room, error) {
	ctx, span := tracing.TraceStoreOperation(ctx, "set_recording_url", "redis")
	defer span.End()

	return s.update(ctx, id, false, func(room *domain.Room) error {
		room.RecordingURL = url
		room.UpdatedAt = time.Now()
		return nil
	})
}

// update applies fn to the stored room inside an optimistic transaction.
func (s *SessionStore) update(ctx context.Context, id domain.RoomID, create bool, fn func(*domain.Room) error) (*domain.Room, error) {
	key := s.roomKey(id)
	var result *domain.Room

	txf := func(tx *redis.Tx) error {
		room, err := s.get(ctx, tx, id)
		if errors.Is(err, domain.ErrRoomNotFound) && create {
			room, err = domain.NewRoom(id, time.Now()), nil
		}
		if err != nil {
			return err
		}
		if err := fn(room); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return s.put(ctx, pipe, room)
		})
		if err == nil {
			result = room
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			tracing.RecordError(ctx, err)
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("room %s: too many concurrent updates", id)
}
