package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
	"roomcast/internal/core/services"
	"roomcast/internal/infrastructure/monitoring"
	"roomcast/pkg/config"
	"roomcast/pkg/tracing"
	"roomcast/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const relaySendBuffer = 256

// RelayConfig holds the relay's websocket limits.
type RelayConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64

	RateLimit         bool
	MessagesPerSecond float64
	Burst             int

	AllowedOrigins []string
}

// RelayConfigFrom reads the relay settings from cfg.
func RelayConfigFrom(cfg *config.Config) RelayConfig {
	return RelayConfig{
		PingInterval:      cfg.Signal.PingInterval,
		PongTimeout:       cfg.Signal.PongTimeout,
		WriteTimeout:      cfg.Signal.WriteTimeout,
		MaxMessageSize:    cfg.Signal.MaxMessageSize,
		RateLimit:         cfg.RateLimiting.Enabled,
		MessagesPerSecond: cfg.RateLimiting.WebSocket.MessagesPerSecond,
		Burst:             cfg.RateLimiting.WebSocket.Burst,
		AllowedOrigins:    cfg.Auth.AllowedOrigins,
	}
}

// StatusPublisher propagates applied transitions to other relay instances.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, roomID domain.RoomID, status domain.RoomStatus) error
}

type relayConn struct {
	id          domain.ConnID
	participant domain.Participant
	ws          *websocket.Conn
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	limiter     *rate.Limiter
	connectedAt time.Time

	// room is guarded by RelayServer.mu.
	room domain.RoomID
}

func (c *relayConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// enqueue never blocks the sender: a peer that cannot keep up is disconnected.
func (c *relayConn) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.close()
		return false
	}
}

// RelayServer is the signaling relay: it tracks room membership, broadcasts rosters,
// forwards addressed negotiation frames and applies session control.
type RelayServer struct {
	cfg       RelayConfig
	store     ports.SessionStore
	auth      services.AuthService
	metrics   *monitoring.RelayCollector
	publisher StatusPublisher
	upgrader  websocket.Upgrader
	logger    *zap.SugaredLogger

	mu    sync.RWMutex
	conns map[domain.ConnID]*relayConn
	rooms map[domain.RoomID]map[domain.ConnID]*relayConn
}

// NewRelayServer builds a relay. auth may be nil, in which case identity comes from
// query parameters; metrics may be nil.
func NewRelayServer(cfg RelayConfig, store ports.SessionStore, auth services.AuthService, metrics *monitoring.RelayCollector, logger *zap.SugaredLogger) *RelayServer {
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongTimeout {
		cfg.PingInterval = (cfg.PongTimeout * 9) / 10
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 64 * 1024
	}

	s := &RelayServer{
		cfg:     cfg,
		store:   store,
		auth:    auth,
		metrics: metrics,
		logger:  logger,
		conns:   make(map[domain.ConnID]*relayConn),
		rooms:   make(map[domain.RoomID]map[domain.ConnID]*relayConn),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	return s
}

// SetPublisher wires cross-instance status propagation.
func (s *RelayServer) SetPublisher(p StatusPublisher) {
	s.publisher = p
}

func (s *RelayServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (s *RelayServer) identify(r *http.Request) (domain.Participant, error) {
	q := r.URL.Query()

	if s.auth != nil {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = q.Get("token")
		}
		if token == "" {
			return domain.Participant{}, errors.New("token required")
		}
		claims, err := s.auth.ValidateToken(token)
		if err != nil {
			return domain.Participant{}, err
		}
		return claims.Participant(), nil
	}

	p := domain.Participant{
		ID:   domain.ParticipantID(q.Get("participant_id")),
		Name: q.Get("name"),
		Role: domain.Role(q.Get("role")),
	}
	if p.Role == "" {
		p.Role = domain.RoleViewer
	}
	if !p.Role.Valid() {
		return domain.Participant{}, fmt.Errorf("unknown role %q", p.Role)
	}
	if p.ID != "" {
		if err := validation.ValidateParticipantID(string(p.ID)); err != nil {
			return domain.Participant{}, err
		}
	}
	return p, nil
}

// HandleWebSocket upgrades the request and serves one participant connection.
func (s *RelayServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	connID := domain.ConnID(r.URL.Query().Get("conn_id"))
	if connID == "" {
		http.Error(w, "conn_id is required", http.StatusBadRequest)
		return
	}
	participant, err := s.identify(r)
	if err != nil {
		s.logger.Infow("rejecting websocket", "conn_id", connID, "error", err)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	participant.ConnID = connID
	if participant.ID == "" {
		participant.ID = domain.ParticipantID(connID)
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	c := &relayConn{
		id:          connID,
		participant: participant,
		ws:          ws,
		send:        make(chan []byte, relaySendBuffer),
		done:        make(chan struct{}),
		connectedAt: time.Now(),
	}
	if s.cfg.RateLimit {
		c.limiter = rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.Burst)
	}

	s.mu.Lock()
	existing, isReconnect := s.conns[connID]
	s.conns[connID] = c
	s.mu.Unlock()

	if isReconnect {
		s.logger.Infow("closing old connection for reconnecting participant", "conn_id", connID)
		existing.close()
	}
	if s.metrics != nil {
		s.metrics.RecordConnected(participant.Role)
	}
	s.logger.Infow("participant connected",
		"conn_id", connID,
		"participant_id", participant.ID,
		"role", participant.Role,
		"reconnect", isReconnect,
	)

	go s.writePump(c)
	s.readPump(c)
}

func (s *RelayServer) readPump(c *relayConn) {
	defer s.disconnect(c)

	c.ws.SetReadLimit(s.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading message from participant", "conn_id", c.id, "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		if c.limiter != nil && !c.limiter.Allow() {
			s.dropped("rate_limited")
			s.sendError(c, "rate limit exceeded")
			continue
		}

		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.dropped("malformed")
			s.sendError(c, "malformed frame")
			continue
		}
		if s.metrics != nil {
			s.metrics.RecordMessage(env.Type, len(data))
		}

		if err := s.handleMessage(context.Background(), c, &env); err != nil {
			s.logger.Infow("error handling message from participant",
				"conn_id", c.id,
				"type", env.Type,
				"error", err,
			)
			s.sendError(c, err.Error())
		}
	}
}

func (s *RelayServer) writePump(c *relayConn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debugw("error sending ping", "conn_id", c.id, "error", err)
				return
			}

		case <-c.done:
			return
		}
	}
}

func (s *RelayServer) disconnect(c *relayConn) {
	c.close()
	s.leaveRoom(c)

	s.mu.Lock()
	if s.conns[c.id] == c {
		delete(s.conns, c.id)
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordDisconnected(c.participant.Role, time.Since(c.connectedAt))
	}
	s.logger.Infow("participant disconnected", "conn_id", c.id)
}

func (s *RelayServer) handleMessage(ctx context.Context, c *relayConn, env *domain.Envelope) error {
	if env.Type == "" {
		return fmt.Errorf("message type is required")
	}

	ctx, span := tracing.TraceRelayMessage(ctx, string(env.Type), string(s.roomOf(c)), string(c.id))
	defer span.End()

	var err error
	switch {
	case env.Type == domain.MsgJoin:
		err = s.handleJoin(ctx, c, env)
	case env.Type == domain.MsgLeave:
		s.leaveRoom(c)
	case env.Type.Addressed():
		err = s.forward(c, env)
	case env.Type == domain.MsgStreamMeta:
		err = s.handleStreamMeta(c, env)
	case env.Type.Relayed():
		err = s.broadcastFrom(c, env, true)
	case env.Type == domain.MsgSessionStart, env.Type == domain.MsgSessionEnd:
		err = s.handleSession(ctx, c, env)
	default:
		err = fmt.Errorf("unknown message type: %s", env.Type)
	}
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

func (s *RelayServer) roomOf(c *relayConn) domain.RoomID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return c.room
}

func (s *RelayServer) handleJoin(ctx context.Context, c *relayConn, env *domain.Envelope) error {
	var msg domain.RoomMessage
	if err := env.Decode(&msg); err != nil {
		return fmt.Errorf("invalid join payload: %w", err)
	}
	if err := validation.ValidateRoomID(string(msg.RoomID)); err != nil {
		return err
	}

	if current := s.roomOf(c); current != "" && current != msg.RoomID {
		s.leaveRoom(c)
	}

	s.mu.Lock()
	members := s.rooms[msg.RoomID]
	if members == nil {
		members = make(map[domain.ConnID]*relayConn)
		s.rooms[msg.RoomID] = members
	}
	existing, rejoin := members[c.id]
	rejoin = rejoin && existing == c
	if !rejoin {
		c.participant.JoinedAt = time.Now().UTC()
	}
	members[c.id] = c
	c.room = msg.RoomID
	roomCount := len(s.rooms)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SetRooms(roomCount)
	}
	s.logger.Infow("participant joined room",
		"room_id", msg.RoomID,
		"conn_id", c.id,
		"role", c.participant.Role,
	)

	if !rejoin {
		s.broadcast(msg.RoomID, domain.MsgJoin, domain.PresenceMessage{RoomID: msg.RoomID, Participant: c.participant}, c.id)
	}
	s.sendRoster(ctx, msg.RoomID)
	return nil
}

func (s *RelayServer) leaveRoom(c *relayConn) {
	s.mu.Lock()
	roomID := c.room
	members := s.rooms[roomID]
	if roomID == "" || members[c.id] != c {
		s.mu.Unlock()
		return
	}
	delete(members, c.id)
	c.room = ""
	if len(members) == 0 {
		delete(s.rooms, roomID)
	}
	roomCount := len(s.rooms)
	remaining := len(members)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SetRooms(roomCount)
	}
	s.logger.Infow("participant left room", "room_id", roomID, "conn_id", c.id)

	if remaining > 0 {
		s.broadcast(roomID, domain.MsgLeave, domain.PresenceMessage{RoomID: roomID, Participant: c.participant}, "")
		s.sendRoster(context.Background(), roomID)
	}
}

// Roster returns the room's participants in join order.
func (s *RelayServer) Roster(roomID domain.RoomID) []domain.Participant {
	s.mu.RLock()
	members := s.rooms[roomID]
	roster := make([]domain.Participant, 0, len(members))
	for _, m := range members {
		roster = append(roster, m.participant)
	}
	s.mu.RUnlock()

	sort.SliceStable(roster, func(i, j int) bool {
		if roster[i].JoinedAt.Equal(roster[j].JoinedAt) {
			return roster[i].ConnID < roster[j].ConnID
		}
		return roster[i].JoinedAt.Before(roster[j].JoinedAt)
	})
	return roster
}

func (s *RelayServer) roomStatus(ctx context.Context, roomID domain.RoomID) domain.RoomStatus {
	room, err := s.store.Get(ctx, roomID)
	if err != nil {
		if !errors.Is(err, domain.ErrRoomNotFound) {
			s.logger.Warnw("failed to read room status", "room_id", roomID, "error", err)
		}
		return domain.RoomScheduled
	}
	return room.Status
}

func (s *RelayServer) sendRoster(ctx context.Context, roomID domain.RoomID) {
	msg := domain.RosterMessage{
		RoomID:       roomID,
		Status:       s.roomStatus(ctx, roomID),
		Participants: s.Roster(roomID),
	}
	s.broadcast(roomID, domain.MsgRoster, msg, "")
}

// forward delivers an offer, answer or candidate to the participant named in "to".
func (s *RelayServer) forward(c *relayConn, env *domain.Envelope) error {
	if env.To == "" {
		return fmt.Errorf("%s requires a target", env.Type)
	}

	s.mu.RLock()
	roomID := c.room
	target := s.rooms[roomID][env.To]
	s.mu.RUnlock()

	if roomID == "" {
		return domain.ErrNotJoined
	}
	if target == nil {
		return fmt.Errorf("target %s is not in room %s", env.To, roomID)
	}

	frame, err := stamp(env, c.id, roomID)
	if err != nil {
		return err
	}
	s.logger.Debugw("routing frame",
		"type", env.Type,
		"from", c.id,
		"to", env.To,
		"room_id", roomID,
	)
	target.enqueue(frame)
	return nil
}

func (s *RelayServer) handleStreamMeta(c *relayConn, env *domain.Envelope) error {
	if c.participant.Role != domain.RolePresenter {
		return fmt.Errorf("%w: only presenters announce streams", domain.ErrPreconditionFailed)
	}
	return s.broadcastFrom(c, env, false)
}

// broadcastFrom stamps env and sends it to the sender's room.
func (s *RelayServer) broadcastFrom(c *relayConn, env *domain.Envelope, includeSelf bool) error {
	roomID := s.roomOf(c)
	if roomID == "" {
		return domain.ErrNotJoined
	}
	frame, err := stamp(env, c.id, roomID)
	if err != nil {
		return err
	}
	exclude := c.id
	if includeSelf {
		exclude = ""
	}
	s.broadcastFrame(roomID, frame, exclude)
	return nil
}

func (s *RelayServer) handleSession(ctx context.Context, c *relayConn, env *domain.Envelope) error {
	roomID := s.roomOf(c)
	if roomID == "" {
		return domain.ErrNotJoined
	}
	if !c.participant.Role.CanControlSession() {
		return fmt.Errorf("%w: %s requires presenter or moderator", domain.ErrPreconditionFailed, env.Type)
	}

	next := domain.RoomOngoing
	if env.Type == domain.MsgSessionEnd {
		next = domain.RoomCompleted
	}

	room, err := s.store.Transition(ctx, roomID, next)
	if err != nil {
		return fmt.Errorf("session %s: %w", roomID, err)
	}
	s.logger.Infow("room status changed",
		"room_id", roomID,
		"status", room.Status,
		"by", c.participant.ID,
	)
	s.AnnounceStatus(ctx, roomID, room.Status)
	return nil
}

// AnnounceStatus delivers a transition already persisted in the store to local
// participants and to the other relay instances.
func (s *RelayServer) AnnounceStatus(ctx context.Context, roomID domain.RoomID, status domain.RoomStatus) {
	if s.metrics != nil {
		s.metrics.RecordTransition(status)
	}
	s.ApplyStatus(roomID, status)
	if s.publisher != nil {
		if err := s.publisher.PublishStatus(ctx, roomID, status); err != nil {
			s.logger.Warnw("failed to publish status change", "room_id", roomID, "error", err)
		}
	}
}

// ApplyStatus tells the room's local participants that the session changed state.
// Transitions applied by another relay instance arrive here through the event bus.
func (s *RelayServer) ApplyStatus(roomID domain.RoomID, status domain.RoomStatus) {
	t := domain.MsgSessionStart
	if status == domain.RoomCompleted {
		t = domain.MsgSessionEnd
	}
	s.broadcast(roomID, t, domain.SessionMessage{RoomID: roomID, Status: status, At: time.Now().UTC()}, "")
}

func (s *RelayServer) broadcast(roomID domain.RoomID, t domain.MessageType, payload interface{}, exclude domain.ConnID) {
	frame, err := domain.EncodeMessage(t, payload)
	if err != nil {
		s.logger.Errorw("failed to encode broadcast", "type", t, "error", err)
		return
	}
	s.broadcastFrame(roomID, frame, exclude)
}

func (s *RelayServer) broadcastFrame(roomID domain.RoomID, frame []byte, exclude domain.ConnID) {
	s.mu.RLock()
	targets := make([]*relayConn, 0, len(s.rooms[roomID]))
	for id, m := range s.rooms[roomID] {
		if id != exclude {
			targets = append(targets, m)
		}
	}
	s.mu.RUnlock()

	for _, m := range targets {
		if !m.enqueue(frame) {
			s.dropped("slow_consumer")
		}
	}
}

func (s *RelayServer) sendError(c *relayConn, message string) {
	frame, err := domain.EncodeMessage(domain.MsgError, domain.ErrorMessage{Message: message})
	if err != nil {
		return
	}
	c.enqueue(frame)
}

func (s *RelayServer) dropped(reason string) {
	if s.metrics != nil {
		s.metrics.RecordDropped(reason)
	}
}

// stamp rewrites a frame with the relay-assigned sender and room.
func stamp(env *domain.Envelope, from domain.ConnID, roomID domain.RoomID) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(env.Raw, &fields); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", env.Type, err)
	}
	fields["from"], _ = json.Marshal(from)
	fields["roomId"], _ = json.Marshal(roomID)
	return json.Marshal(fields)
}

// Stats reports the number of open connections and active rooms.
func (s *RelayServer) Stats() (connections, rooms int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns), len(s.rooms)
}

// Shutdown closes every connection.
func (s *RelayServer) Shutdown() {
	s.mu.RLock()
	conns := make([]*relayConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"),
			time.Now().Add(s.cfg.WriteTimeout))
		c.close()
	}
}
