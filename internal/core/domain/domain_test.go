package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoom_Transition(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	room := NewRoom("room-1", start)
	assert.Equal(t, RoomScheduled, room.Status)

	err := room.Transition(RoomCompleted, start)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, RoomScheduled, room.Status)

	live := start.Add(time.Minute)
	require.NoError(t, room.Transition(RoomOngoing, live))
	require.NotNil(t, room.StartedAt)
	assert.Equal(t, live, *room.StartedAt)

	end := live.Add(time.Hour)
	require.NoError(t, room.Transition(RoomCompleted, end))
	require.NotNil(t, room.EndedAt)
	assert.Equal(t, end, room.UpdatedAt)

	assert.ErrorIs(t, room.Transition(RoomOngoing, end), ErrInvalidTransition)
	assert.ErrorIs(t, room.Transition(RoomCompleted, end), ErrInvalidTransition)
}

func TestRoleAndStatus(t *testing.T) {
	assert.True(t, RolePresenter.CanControlSession())
	assert.True(t, RoleModerator.CanControlSession())
	assert.False(t, RoleViewer.CanControlSession())
	assert.False(t, Role("admin").Valid())

	assert.True(t, RoomOngoing.Valid())
	assert.False(t, RoomStatus("PAUSED").Valid())
}

func TestDeriveMode(t *testing.T) {
	assert.Equal(t, ModeIdle, DeriveMode(false, false))
	assert.Equal(t, ModeCameraOnly, DeriveMode(true, false))
	assert.Equal(t, ModeScreenOnly, DeriveMode(false, true))
	assert.Equal(t, ModeCameraScreen, DeriveMode(true, true))

	assert.Equal(t, "screen", ModeCameraScreen.Label())
	assert.Equal(t, "camera", ModeCameraOnly.Label())
	assert.Equal(t, "none", ModeIdle.Label())
}

func TestStreamMetadata(t *testing.T) {
	meta := StreamMetadata{ScreenStreamID: "s1", CameraStreamID: "c1"}

	role, ok := meta.RoleFor("c1")
	assert.True(t, ok)
	assert.Equal(t, StreamCamera, role)

	_, ok = meta.RoleFor("")
	assert.False(t, ok)
	_, ok = StreamMetadata{}.RoleFor("")
	assert.False(t, ok)

	assert.Equal(t, "s1", meta.StreamFor(StreamScreen))
}

func TestEncodeMessage_FlattensPayload(t *testing.T) {
	frame, err := EncodeMessage(MsgOffer, SDPMessage{To: "c2", SDP: "v=0", NegotiationID: "n1"})
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(frame, &fields))
	assert.Equal(t, "offer", fields["type"])
	assert.Equal(t, "c2", fields["to"])
	assert.Equal(t, "v=0", fields["sdp"])

	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, MsgOffer, env.Type)
	assert.Equal(t, ConnID("c2"), env.To)

	var msg SDPMessage
	require.NoError(t, env.Decode(&msg))
	assert.Equal(t, "n1", msg.NegotiationID)

	frame, err = EncodeMessage(MsgLeave, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"leave"}`, string(frame))
}

func TestMessageTypeClasses(t *testing.T) {
	assert.True(t, MsgPollVote.Relayed())
	assert.False(t, MsgOffer.Relayed())
	assert.True(t, MsgICE.Addressed())
	assert.False(t, MsgChat.Addressed())
}

func TestArtifact(t *testing.T) {
	a := &Artifact{MimeType: "video/x-matroska;codecs=avc1", StartedAt: time.Unix(0, 0), StoppedAt: time.Unix(90, 0)}
	assert.Equal(t, ".mkv", a.Extension())
	assert.Equal(t, 90*time.Second, a.Duration())

	a.MimeType = "video/webm;codecs=vp8"
	assert.Equal(t, ".webm", a.Extension())
	assert.True(t, IsDeviceError(ErrDeviceBusy))
	assert.ErrorIs(t, ErrAlreadyRecording, ErrPreconditionFailed)
}
