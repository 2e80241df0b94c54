package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/services"
	"roomcast/internal/infrastructure/monitoring"
	"roomcast/internal/infrastructure/repositories/memory"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var watchedTypes = []domain.MessageType{
	domain.MsgRoster, domain.MsgJoin, domain.MsgLeave,
	domain.MsgOffer, domain.MsgAnswer, domain.MsgICE,
	domain.MsgStreamMeta, domain.MsgChat,
	domain.MsgSessionStart, domain.MsgSessionEnd, domain.MsgError,
}

type inbox struct {
	frames chan *domain.Envelope
}

func watch(c *ChannelClient) *inbox {
	in := &inbox{frames: make(chan *domain.Envelope, 128)}
	for _, t := range watchedTypes {
		c.On(t, func(env *domain.Envelope) {
			select {
			case in.frames <- env:
			default:
			}
		})
	}
	return in
}

// expect skips frames until one of type typ satisfies match.
func (in *inbox) expect(t *testing.T, typ domain.MessageType, match func(*domain.Envelope) bool) *domain.Envelope {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case env := <-in.frames:
			if env.Type == typ && (match == nil || match(env)) {
				return env
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
			return nil
		}
	}
}

func rosterSize(n int) func(*domain.Envelope) bool {
	return func(env *domain.Envelope) bool {
		var roster domain.RosterMessage
		return env.Decode(&roster) == nil && len(roster.Participants) == n
	}
}

type relayFixture struct {
	relay *RelayServer
	store *memory.SessionStore
	url   string
}

func newRelayFixture(t *testing.T, cfg RelayConfig, auth services.AuthService) *relayFixture {
	t.Helper()
	cfg.PongTimeout = 5 * time.Second
	cfg.WriteTimeout = time.Second

	store := memory.NewSessionStore()
	relay := NewRelayServer(cfg, store, auth,
		monitoring.NewRelayCollector(prometheus.NewRegistry()), zap.NewNop().Sugar())
	srv := httptest.NewServer(http.HandlerFunc(relay.HandleWebSocket))
	t.Cleanup(func() {
		relay.Shutdown()
		srv.Close()
	})

	return &relayFixture{
		relay: relay,
		store: store,
		url:   "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func (f *relayFixture) connect(t *testing.T, id string, role domain.Role) (*ChannelClient, *inbox) {
	t.Helper()
	client := NewChannelClient(ClientConfig{
		URL:           f.url,
		ParticipantID: domain.ParticipantID(id),
		Name:          strings.ToUpper(id),
		Role:          role,
	}, zap.NewNop().Sugar())
	in := watch(client)

	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { client.Close() })
	return client, in
}

func (f *relayFixture) joined(t *testing.T, room domain.RoomID, id string, role domain.Role, size int) (*ChannelClient, *inbox) {
	t.Helper()
	client, in := f.connect(t, id, role)
	require.NoError(t, client.Join(room))
	in.expect(t, domain.MsgRoster, rosterSize(size))
	return client, in
}

func TestRelay_JoinBroadcastsRoster(t *testing.T) {
	f := newRelayFixture(t, RelayConfig{}, nil)

	presenter, pIn := f.joined(t, "room-1", "alice", domain.RolePresenter, 1)
	viewer, _ := f.joined(t, "room-1", "bob", domain.RoleViewer, 2)

	joinEnv := pIn.expect(t, domain.MsgJoin, nil)
	var presence domain.PresenceMessage
	require.NoError(t, joinEnv.Decode(&presence))
	assert.Equal(t, viewer.ConnID(), presence.Participant.ConnID)
	assert.Equal(t, domain.RoleViewer, presence.Participant.Role)

	rosterEnv := pIn.expect(t, domain.MsgRoster, rosterSize(2))
	var roster domain.RosterMessage
	require.NoError(t, rosterEnv.Decode(&roster))
	assert.Equal(t, domain.RoomID("room-1"), roster.RoomID)
	assert.Equal(t, domain.RoomScheduled, roster.Status)
	assert.Equal(t, presenter.ConnID(), roster.Participants[0].ConnID)
	assert.Equal(t, "ALICE", roster.Participants[0].Name)
	assert.Equal(t, viewer.ConnID(), roster.Participants[1].ConnID)

	conns, rooms := f.relay.Stats()
	assert.Equal(t, 2, conns)
	assert.Equal(t, 1, rooms)
}

func TestRelay_LeaveUpdatesRoster(t *testing.T) {
	f := newRelayFixture(t, RelayConfig{}, nil)

	_, pIn := f.joined(t, "room-1", "alice", domain.RolePresenter, 1)
	viewer, _ := f.joined(t, "room-1", "bob", domain.RoleViewer, 2)
	pIn.expect(t, domain.MsgRoster, rosterSize(2))

	require.NoError(t, viewer.Close())

	leaveEnv := pIn.expect(t, domain.MsgLeave, nil)
	var presence domain.PresenceMessage
	require.NoError(t, leaveEnv.Decode(&presence))
	assert.Equal(t, viewer.ConnID(), presence.Participant.ConnID)
	pIn.expect(t, domain.MsgRoster, rosterSize(1))

	assert.Len(t, f.relay.Roster("room-1"), 1)
}

func TestRelay_ForwardsAddressedFrames(t *testing.T) {
	f := newRelayFixture(t, RelayConfig{}, nil)

	presenter, pIn := f.joined(t, "room-1", "alice", domain.RolePresenter, 1)
	viewer, vIn := f.joined(t, "room-1", "bob", domain.RoleViewer, 2)
	pIn.expect(t, domain.MsgRoster, rosterSize(2))

	require.NoError(t, presenter.Send(domain.MsgOffer, domain.SDPMessage{
		To:            viewer.ConnID(),
		SDP:           "v=0",
		NegotiationID: "n1",
	}))

	offerEnv := vIn.expect(t, domain.MsgOffer, nil)
	var offer domain.SDPMessage
	require.NoError(t, offerEnv.Decode(&offer))
	assert.Equal(t, presenter.ConnID(), offer.From)
	assert.Equal(t, "v=0", offer.SDP)
	assert.Equal(t, "n1", offer.NegotiationID)
	assert.Equal(t, domain.RoomID("room-1"), offerEnv.RoomID)

	require.NoError(t, viewer.Send(domain.MsgAnswer, domain.SDPMessage{To: presenter.ConnID(), SDP: "v=0 answer"}))
	answerEnv := pIn.expect(t, domain.MsgAnswer, nil)
	assert.Equal(t, viewer.ConnID(), answerEnv.From)

	require.NoError(t, presenter.Send(domain.MsgICE, domain.ICEMessage{To: "nobody", Candidate: []byte(`{}`)}))
	errEnv := pIn.expect(t, domain.MsgError, nil)
	var msg domain.ErrorMessage
	require.NoError(t, errEnv.Decode(&msg))
	assert.Contains(t, msg.Message, "nobody")
}

func TestRelay_FeedAndStreamMetaFanOut(t *testing.T) {
	f := newRelayFixture(t, RelayConfig{}, nil)

	presenter, pIn := f.joined(t, "room-1", "alice", domain.RolePresenter, 1)
	viewer, vIn := f.joined(t, "room-1", "bob", domain.RoleViewer, 2)
	pIn.expect(t, domain.MsgRoster, rosterSize(2))

	require.NoError(t, viewer.Send(domain.MsgChat, domain.ChatMessage{Message: "hello"}))
	for _, in := range []*inbox{pIn, vIn} {
		env := in.expect(t, domain.MsgChat, nil)
		var chat domain.ChatMessage
		require.NoError(t, env.Decode(&chat))
		assert.Equal(t, "hello", chat.Message)
		assert.Equal(t, viewer.ConnID(), chat.From)
	}

	meta := domain.StreamMetaMessage{StreamMetadata: domain.StreamMetadata{ScreenStreamID: "s1"}}
	require.NoError(t, presenter.Send(domain.MsgStreamMeta, meta))
	env := vIn.expect(t, domain.MsgStreamMeta, nil)
	assert.Equal(t, presenter.ConnID(), env.From)

	require.NoError(t, viewer.Send(domain.MsgStreamMeta, meta))
	vIn.expect(t, domain.MsgError, nil)
}

func TestRelay_SessionControl(t *testing.T) {
	f := newRelayFixture(t, RelayConfig{}, nil)

	presenter, pIn := f.joined(t, "room-1", "alice", domain.RolePresenter, 1)
	viewer, vIn := f.joined(t, "room-1", "bob", domain.RoleViewer, 2)
	pIn.expect(t, domain.MsgRoster, rosterSize(2))

	require.NoError(t, viewer.Send(domain.MsgSessionStart, domain.SessionMessage{}))
	vIn.expect(t, domain.MsgError, nil)

	require.NoError(t, presenter.Send(domain.MsgSessionStart, domain.SessionMessage{}))
	for _, in := range []*inbox{pIn, vIn} {
		env := in.expect(t, domain.MsgSessionStart, nil)
		var msg domain.SessionMessage
		require.NoError(t, env.Decode(&msg))
		assert.Equal(t, domain.RoomOngoing, msg.Status)
	}

	room, err := f.store.Get(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomOngoing, room.Status)
	assert.NotNil(t, room.StartedAt)

	require.NoError(t, presenter.Send(domain.MsgSessionEnd, domain.SessionMessage{}))
	vIn.expect(t, domain.MsgSessionEnd, nil)

	require.NoError(t, presenter.Send(domain.MsgSessionStart, domain.SessionMessage{}))
	errEnv := pIn.expect(t, domain.MsgError, nil)
	var msg domain.ErrorMessage
	require.NoError(t, errEnv.Decode(&msg))
	assert.Contains(t, msg.Message, "invalid room status transition")
}

func TestRelay_RosterCarriesPersistedStatus(t *testing.T) {
	f := newRelayFixture(t, RelayConfig{}, nil)
	_, err := f.store.Transition(context.Background(), "room-1", domain.RoomOngoing)
	require.NoError(t, err)

	client, in := f.connect(t, "carol", domain.RoleViewer)
	require.NoError(t, client.Join("room-1"))

	env := in.expect(t, domain.MsgRoster, nil)
	var roster domain.RosterMessage
	require.NoError(t, env.Decode(&roster))
	assert.Equal(t, domain.RoomOngoing, roster.Status)
}

func TestRelay_ApplyStatusFromOtherInstance(t *testing.T) {
	f := newRelayFixture(t, RelayConfig{}, nil)
	_, in := f.joined(t, "room-1", "bob", domain.RoleViewer, 1)

	f.relay.ApplyStatus("room-1", domain.RoomCompleted)

	env := in.expect(t, domain.MsgSessionEnd, nil)
	var msg domain.SessionMessage
	require.NoError(t, env.Decode(&msg))
	assert.Equal(t, domain.RoomCompleted, msg.Status)
}

func TestRelay_RejectsUnknownTypeAndMissingRoom(t *testing.T) {
	f := newRelayFixture(t, RelayConfig{}, nil)
	client, in := f.connect(t, "bob", domain.RoleViewer)

	require.NoError(t, client.Send(domain.MsgChat, domain.ChatMessage{Message: "hi"}))
	env := in.expect(t, domain.MsgError, nil)
	var msg domain.ErrorMessage
	require.NoError(t, env.Decode(&msg))
	assert.Equal(t, domain.ErrNotJoined.Error(), msg.Message)

	require.NoError(t, client.Send("bogus", nil))
	env = in.expect(t, domain.MsgError, nil)
	require.NoError(t, env.Decode(&msg))
	assert.Contains(t, msg.Message, "unknown message type")
}

func TestRelay_RateLimit(t *testing.T) {
	f := newRelayFixture(t, RelayConfig{RateLimit: true, MessagesPerSecond: 0.1, Burst: 2}, nil)
	client, in := f.connect(t, "bob", domain.RoleViewer)

	require.NoError(t, client.Join("room-1"))
	in.expect(t, domain.MsgRoster, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, client.Send(domain.MsgChat, domain.ChatMessage{Message: "spam"}))
	}

	env := in.expect(t, domain.MsgError, nil)
	var msg domain.ErrorMessage
	require.NoError(t, env.Decode(&msg))
	assert.Equal(t, "rate limit exceeded", msg.Message)
}

func TestRelay_RequiresTokenWhenAuthEnabled(t *testing.T) {
	auth := services.NewAuthService("test-secret", time.Hour)
	f := newRelayFixture(t, RelayConfig{}, auth)

	anonymous := NewChannelClient(ClientConfig{URL: f.url, Role: domain.RolePresenter}, zap.NewNop().Sugar())
	err := anonymous.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	token, err := auth.GenerateToken(domain.Participant{ID: "alice", Name: "Alice", Role: domain.RoleModerator})
	require.NoError(t, err)

	client := NewChannelClient(ClientConfig{URL: f.url, Token: token}, zap.NewNop().Sugar())
	in := watch(client)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Join("room-1"))

	env := in.expect(t, domain.MsgRoster, nil)
	var roster domain.RosterMessage
	require.NoError(t, env.Decode(&roster))
	require.Len(t, roster.Participants, 1)
	assert.Equal(t, domain.ParticipantID("alice"), roster.Participants[0].ID)
	assert.Equal(t, "Alice", roster.Participants[0].Name)
	assert.Equal(t, domain.RoleModerator, roster.Participants[0].Role)
}

func TestChannelClient_ReconnectKeepsHandlersAndConnID(t *testing.T) {
	f := newRelayFixture(t, RelayConfig{}, nil)
	client, in := f.joined(t, "room-1", "bob", domain.RoleViewer, 1)
	connID := client.ConnID()

	lost := make(chan error, 1)
	client.OnDisconnect(func(err error) { lost <- err })

	f.relay.Shutdown()
	select {
	case <-lost:
	case <-time.After(3 * time.Second):
		t.Fatal("disconnect not reported")
	}
	assert.False(t, client.Connected())
	assert.ErrorIs(t, client.Send(domain.MsgChat, domain.ChatMessage{}), ErrNotConnected)

	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Join("room-1"))
	env := in.expect(t, domain.MsgRoster, rosterSize(1))
	var roster domain.RosterMessage
	require.NoError(t, env.Decode(&roster))
	assert.Equal(t, connID, roster.Participants[0].ConnID)
}

func TestChannelRegistry_SharesConnections(t *testing.T) {
	f := newRelayFixture(t, RelayConfig{}, nil)
	registry := NewChannelRegistry(zap.NewNop().Sugar())
	cfg := ClientConfig{URL: f.url, ParticipantID: "alice", Role: domain.RolePresenter}

	first, err := registry.Acquire(context.Background(), cfg)
	require.NoError(t, err)
	second, err := registry.Acquire(context.Background(), cfg)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, registry.Len())

	other, err := registry.Acquire(context.Background(), ClientConfig{URL: f.url, ParticipantID: "bob", Role: domain.RoleViewer})
	require.NoError(t, err)
	assert.NotSame(t, first, other)
	assert.Equal(t, 2, registry.Len())

	require.NoError(t, registry.Release(first))
	assert.True(t, second.Connected())
	require.NoError(t, registry.Release(second))
	assert.False(t, second.Connected())
	assert.Equal(t, 1, registry.Len())

	require.NoError(t, registry.Release(other))
	assert.Equal(t, 0, registry.Len())
}
