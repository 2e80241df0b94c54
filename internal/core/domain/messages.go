package domain

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	MsgJoin          MessageType = "join"
	MsgLeave         MessageType = "leave"
	MsgRoster        MessageType = "roster"
	MsgOffer         MessageType = "offer"
	MsgAnswer        MessageType = "answer"
	MsgICE           MessageType = "ice"
	MsgStreamMeta    MessageType = "stream-meta"
	MsgChat          MessageType = "chat"
	MsgResourceShare MessageType = "resource-share"
	MsgPollCreate    MessageType = "poll-create"
	MsgPollVote      MessageType = "poll-vote"
	MsgSessionStart  MessageType = "session-start"
	MsgSessionEnd    MessageType = "session-end"
	MsgError         MessageType = "error"
)

// Relayed reports whether the type is delegated verbatim to chat/resource/poll collaborators.
func (t MessageType) Relayed() bool {
	switch t {
	case MsgChat, MsgResourceShare, MsgPollCreate, MsgPollVote:
		return true
	}
	return false
}

// Addressed reports whether the type is peer-to-peer and carries a "to" field.
func (t MessageType) Addressed() bool {
	return t == MsgOffer || t == MsgAnswer || t == MsgICE
}

// Envelope is the JSON frame exchanged with the relay. Payload fields sit at the top
// level next to "type", so the envelope keeps the raw frame for typed decoding.
type Envelope struct {
	Type   MessageType `json:"type"`
	RoomID RoomID      `json:"roomId,omitempty"`
	From   ConnID      `json:"from,omitempty"`
	To     ConnID      `json:"to,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Decode unmarshals the full frame into v.
func (e *Envelope) Decode(v interface{}) error {
	return json.Unmarshal(e.Raw, v)
}

type RoomMessage struct {
	RoomID RoomID `json:"roomId"`
}

type RosterMessage struct {
	RoomID       RoomID        `json:"roomId,omitempty"`
	Status       RoomStatus    `json:"status,omitempty"`
	Participants []Participant `json:"participants"`
}

type PresenceMessage struct {
	RoomID      RoomID      `json:"roomId,omitempty"`
	Participant Participant `json:"participant"`
}

// SDPMessage carries an offer or answer. NegotiationID is echoed by the answerer so a
// presenter can discard answers and candidates that belong to a link it already rebuilt.
type SDPMessage struct {
	To            ConnID `json:"to"`
	From          ConnID `json:"from,omitempty"`
	SDP           string `json:"sdp"`
	NegotiationID string `json:"negotiationId,omitempty"`
}

type ICEMessage struct {
	To            ConnID          `json:"to"`
	From          ConnID          `json:"from,omitempty"`
	Candidate     json.RawMessage `json:"candidate"`
	NegotiationID string          `json:"negotiationId,omitempty"`
}

type StreamMetaMessage struct {
	StreamMetadata
	From ConnID `json:"from,omitempty"`
}

type SessionMessage struct {
	RoomID RoomID     `json:"roomId,omitempty"`
	Status RoomStatus `json:"status,omitempty"`
	At     time.Time  `json:"at,omitempty"`
}

type ChatMessage struct {
	Message string `json:"message"`
	From    ConnID `json:"from,omitempty"`
}

type ResourceShareMessage struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
	From  ConnID `json:"from,omitempty"`
}

type PollCreateMessage struct {
	PollID   string   `json:"pollId"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
	From     ConnID   `json:"from,omitempty"`
}

type PollVoteMessage struct {
	PollID string `json:"pollId"`
	Option int    `json:"option"`
	From   ConnID `json:"from,omitempty"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	type envelope Envelope
	var decoded envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*e = Envelope(decoded)
	e.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// EncodeMessage flattens payload into a frame carrying "type" at the top level.
func EncodeMessage(t MessageType, payload interface{}) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, err
		}
	}
	typ, _ := json.Marshal(t)
	fields["type"] = typ
	return json.Marshal(fields)
}
