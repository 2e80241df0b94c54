package testutils

import (
	"encoding/json"
	"sync"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
)

// SentMessage is one frame a FakeChannel was asked to send.
type SentMessage struct {
	Type    domain.MessageType
	Payload interface{}
}

// FakeChannel is an in-memory ports.RoomChannel. Deliver dispatches synchronously,
// like the websocket client's read pump.
type FakeChannel struct {
	mu       sync.Mutex
	conn     domain.ConnID
	joins    []domain.RoomID
	leaves   []domain.RoomID
	sent     []SentMessage
	handlers map[domain.MessageType]map[int]ports.MessageHandler
	nextID   int
	SendErr  error
}

func NewFakeChannel(conn domain.ConnID) *FakeChannel {
	return &FakeChannel{
		conn:     conn,
		handlers: make(map[domain.MessageType]map[int]ports.MessageHandler),
	}
}

func (c *FakeChannel) ConnID() domain.ConnID { return c.conn }

func (c *FakeChannel) Join(roomID domain.RoomID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joins = append(c.joins, roomID)
	return nil
}

func (c *FakeChannel) Leave(roomID domain.RoomID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaves = append(c.leaves, roomID)
	return nil
}

func (c *FakeChannel) Send(t domain.MessageType, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	c.sent = append(c.sent, SentMessage{Type: t, Payload: payload})
	return nil
}

func (c *FakeChannel) On(t domain.MessageType, handler ports.MessageHandler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers[t] == nil {
		c.handlers[t] = make(map[int]ports.MessageHandler)
	}
	id := c.nextID
	c.nextID++
	c.handlers[t][id] = handler
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[t], id)
	}
}

// Deliver encodes payload as a relay frame from sender and dispatches it.
func (c *FakeChannel) Deliver(t domain.MessageType, from domain.ConnID, payload interface{}) error {
	frame, err := domain.EncodeMessage(t, payload)
	if err != nil {
		return err
	}
	if from != "" {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(frame, &fields); err != nil {
			return err
		}
		fields["from"], _ = json.Marshal(from)
		if frame, err = json.Marshal(fields); err != nil {
			return err
		}
	}

	var env domain.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return err
	}

	c.mu.Lock()
	handlers := make([]ports.MessageHandler, 0, len(c.handlers[t]))
	for id := 0; id < c.nextID; id++ {
		if h, ok := c.handlers[t][id]; ok {
			handlers = append(handlers, h)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(&env)
	}
	return nil
}

// HandlerCount returns how many handlers are registered for t.
func (c *FakeChannel) HandlerCount(t domain.MessageType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[t])
}

func (c *FakeChannel) Joins() []domain.RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.RoomID(nil), c.joins...)
}

func (c *FakeChannel) Leaves() []domain.RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.RoomID(nil), c.leaves...)
}

// Sent returns the sent frames of type t, or all frames when t is empty.
func (c *FakeChannel) Sent(t domain.MessageType) []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []SentMessage
	for _, m := range c.sent {
		if t == "" || m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (c *FakeChannel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}
