package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrNotConnected = errors.New("channel not connected")
	ErrClosed       = errors.New("channel closed")
)

const sendBuffer = 256

// ClientConfig identifies the relay endpoint and the participant behind the connection.
// With Token set the relay takes identity from the JWT; otherwise from the query.
type ClientConfig struct {
	URL   string
	Token string

	ParticipantID domain.ParticipantID
	Name          string
	Role          domain.Role

	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
}

func (c *ClientConfig) setDefaults() {
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = (c.PongWait * 9) / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
}

// credentials keys the registry: the token when present, the query identity otherwise.
func (c ClientConfig) credentials() string {
	if c.Token != "" {
		return "token:" + c.Token
	}
	return fmt.Sprintf("anon:%s:%s:%s", c.ParticipantID, c.Role, c.Name)
}

// ChannelClient is the websocket implementation of ports.RoomChannel. Frames are
// dispatched from the read pump, one at a time, in arrival order. It never reconnects
// by itself; callers watch OnDisconnect and call Connect again.
type ChannelClient struct {
	cfg    ClientConfig
	dialer *websocket.Dialer
	connID domain.ConnID
	logger *zap.SugaredLogger

	mu           sync.Mutex
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closed       bool
	handlers     map[domain.MessageType]map[int]ports.MessageHandler
	nextID       int
	onDisconnect []func(error)
}

var _ ports.RoomChannel = (*ChannelClient)(nil)

// NewChannelClient creates a disconnected client.
func NewChannelClient(cfg ClientConfig, logger *zap.SugaredLogger) *ChannelClient {
	cfg.setDefaults()
	connID := domain.ConnID(uuid.NewString())
	return &ChannelClient{
		cfg:      cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		connID:   connID,
		logger:   logger.With("conn_id", connID),
		handlers: make(map[domain.MessageType]map[int]ports.MessageHandler),
	}
}

// ConnID stays the same across reconnects so the relay can replace the stale socket.
func (c *ChannelClient) ConnID() domain.ConnID { return c.connID }

func (c *ChannelClient) dialURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid relay url: %w", err)
	}
	q := u.Query()
	q.Set("conn_id", string(c.connID))
	if c.cfg.Token == "" {
		q.Set("participant_id", string(c.cfg.ParticipantID))
		q.Set("name", c.cfg.Name)
		q.Set("role", string(c.cfg.Role))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials the relay and starts the pumps. Registered handlers survive reconnects.
func (c *ChannelClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	target, err := c.dialURL()
	if err != nil {
		return err
	}
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial relay: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial relay: %w", err)
	}

	conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	send := make(chan []byte, sendBuffer)
	done := make(chan struct{})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn, c.send, c.done = conn, send, done
	c.mu.Unlock()

	go c.writePump(conn, send, done)
	go c.readPump(conn, done)

	c.logger.Infow("Connected to relay", "url", c.cfg.URL)
	return nil
}

func (c *ChannelClient) Join(roomID domain.RoomID) error {
	return c.Send(domain.MsgJoin, domain.RoomMessage{RoomID: roomID})
}

func (c *ChannelClient) Leave(roomID domain.RoomID) error {
	return c.Send(domain.MsgLeave, domain.RoomMessage{RoomID: roomID})
}

// Send writes a frame of type t. It fails when the client is not connected.
func (c *ChannelClient) Send(t domain.MessageType, payload interface{}) error {
	frame, err := domain.EncodeMessage(t, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", t, err)
	}

	c.mu.Lock()
	send, done := c.send, c.done
	c.mu.Unlock()
	if send == nil {
		return ErrNotConnected
	}

	select {
	case send <- frame:
		return nil
	case <-done:
		return ErrNotConnected
	default:
		return fmt.Errorf("send buffer full, dropping %s", t)
	}
}

// On registers handler for frames of type t and returns a function removing it.
func (c *ChannelClient) On(t domain.MessageType, handler ports.MessageHandler) func() {
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

// OnDisconnect registers fn for unexpected connection loss. It is not called after Close.
func (c *ChannelClient) OnDisconnect(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = append(c.onDisconnect, fn)
}

// Connected reports whether a socket is currently open.
func (c *ChannelClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close shuts the connection down for good. It waits for the read pump, so it must
// not be called from a message handler.
func (c *ChannelClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn, done := c.conn, c.done
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.cfg.WriteWait))
	err := conn.Close()
	<-done
	return err
}

func (c *ChannelClient) handlersFor(t domain.MessageType) []ports.MessageHandler {
	c.mu.Lock()
	defer c.mu.Unlock()

	registered := c.handlers[t]
	handlers := make([]ports.MessageHandler, 0, len(registered))
	for id := 0; id < c.nextID; id++ {
		if h, ok := registered[id]; ok {
			handlers = append(handlers, h)
		}
	}
	return handlers
}

func (c *ChannelClient) readPump(conn *websocket.Conn, done chan struct{}) {
	var readErr error
	defer func() {
		c.disconnected(conn, done, readErr)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			return
		}

		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warnw("Dropping malformed frame", "error", err)
			continue
		}

		c.dispatch(&env)
	}
}

func (c *ChannelClient) dispatch(env *domain.Envelope) {
	for _, h := range c.handlersFor(env.Type) {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Errorw("Message handler panicked", "type", env.Type, "panic", r)
				}
			}()
			h(env)
		}()
	}
}

func (c *ChannelClient) disconnected(conn *websocket.Conn, done chan struct{}, err error) {
	conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn, c.send, c.done = nil, nil, nil
	}
	closed := c.closed
	callbacks := append([]func(error){}, c.onDisconnect...)
	c.mu.Unlock()
	close(done)

	if closed {
		c.logger.Infow("Relay connection closed")
		return
	}

	if err == nil {
		err = ErrNotConnected
	}
	c.logger.Warnw("Relay connection lost", "error", err)
	for _, fn := range callbacks {
		fn(err)
	}
}

func (c *ChannelClient) writePump(conn *websocket.Conn, send chan []byte, done chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Warnw("Relay write failed", "error", err)
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}
