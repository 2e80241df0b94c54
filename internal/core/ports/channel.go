package ports

import "roomcast/internal/core/domain"

// MessageHandler is invoked synchronously, in arrival order, for each received frame.
type MessageHandler func(env *domain.Envelope)

// RoomChannel exchanges typed messages with the signaling relay.
type RoomChannel interface {
	ConnID() domain.ConnID
	Join(roomID domain.RoomID) error
	Leave(roomID domain.RoomID) error
	Send(t domain.MessageType, payload interface{}) error
	On(t domain.MessageType, handler MessageHandler) (unsubscribe func())
}
