package domain

import (
	"fmt"
	"time"
)

type RoomID string

type RoomStatus string

const (
	RoomScheduled RoomStatus = "SCHEDULED"
	RoomOngoing   RoomStatus = "ONGOING"
	RoomCompleted RoomStatus = "COMPLETED"
)

// Valid reports whether s is one of the known statuses.
func (s RoomStatus) Valid() bool {
	switch s {
	case RoomScheduled, RoomOngoing, RoomCompleted:
		return true
	}
	return false
}

// CanTransitionTo allows only forward moves: SCHEDULED -> ONGOING -> COMPLETED.
func (s RoomStatus) CanTransitionTo(next RoomStatus) bool {
	switch s {
	case RoomScheduled:
		return next == RoomOngoing
	case RoomOngoing:
		return next == RoomCompleted
	}
	return false
}

type Room struct {
	ID           RoomID     `json:"id"`
	Title        string     `json:"title,omitempty"`
	Status       RoomStatus `json:"status"`
	RecordingURL string     `json:"recordingUrl,omitempty"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// SessionUpdate is the body of the "update session" collaborator call.
type SessionUpdate struct {
	RecordingURL string     `json:"recordingUrl,omitempty"`
	Status       RoomStatus `json:"status,omitempty"`
}

// Transition moves the room to next and stamps the matching timestamp.
func (r *Room) Transition(next RoomStatus, at time.Time) error {
	if !r.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, next)
	}
	r.Status = next
	r.UpdatedAt = at
	switch next {
	case RoomOngoing:
		r.StartedAt = &at
	case RoomCompleted:
		r.EndedAt = &at
	}
	return nil
}

// NewRoom returns a SCHEDULED room.
func NewRoom(id RoomID, at time.Time) *Room {
	return &Room{ID: id, Status: RoomScheduled, UpdatedAt: at}
}
