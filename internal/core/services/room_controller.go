package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// TrackPump reads packets from an inbound track until it ends.
type TrackPump func(ctx context.Context, track ports.InboundTrack, deliver func(*rtp.Packet) error)

type RoomControllerConfig struct {
	RoomID domain.RoomID
	// SessionID identifies this mount; together with RoomID it keys the join guard.
	SessionID string
	Self      domain.Participant
	// InitialStatus is the status loaded with the session, SCHEDULED when empty.
	InitialStatus domain.RoomStatus
	Compositor    CompositorConfig
}

// RoomControllerDeps are the collaborators a controller drives. Presenter-only and
// viewer-only entries may be nil on the other side.
type RoomControllerDeps struct {
	Channel     ports.RoomChannel
	PeerFactory ports.PeerConnectionFactory

	Captures ports.CaptureProvider
	Encoders ports.StreamEncoderFactory
	Uploader ports.Uploader
	OnSender func(peer domain.ConnID, sender *webrtc.RTPSender)

	Display ports.DisplaySink
	Pump    TrackPump

	Sessions ports.SessionUpdater
	Feed     ports.RoomFeed
	Notifier ports.Notifier
	Metrics  ports.ClientMetrics
}

// Snapshot is the derived room state observers render from.
type Snapshot struct {
	RoomID       domain.RoomID
	Self         domain.Participant
	Status       domain.RoomStatus
	Participants []domain.Participant
	Mode         domain.BroadcastMode
	Metadata     domain.StreamMetadata
	Slots        map[domain.StreamRole]string
	Recorder     domain.RecorderState
	Muted        bool
	Links        int
	Joined       bool
}

// RoomController binds presence, peers, stream routing, capture state and recording to
// one room and gates presenter actions on the room status.
type RoomController struct {
	cfg    RoomControllerConfig
	deps   RoomControllerDeps
	logger *zap.SugaredLogger

	presence  *PresenceTracker
	router    *StreamRouter
	broadcast *BroadcastState
	peers     *PeerManager
	recorder  *Compositor

	mu          sync.Mutex
	status      domain.RoomStatus
	mountedKey  string
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe []func()
	inbound     map[domain.ConnID][]string
	observers   []func(Snapshot)
	// finishing is closed once the session-end cleanup has persisted the recording.
	finishing chan struct{}
}

// NewRoomController creates a controller for one room. Nothing happens until Mount.
func NewRoomController(cfg RoomControllerConfig, deps RoomControllerDeps, logger *zap.SugaredLogger) *RoomController {
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if cfg.InitialStatus == "" {
		cfg.InitialStatus = domain.RoomScheduled
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.Compositor.Width == 0 {
		cfg.Compositor = DefaultCompositorConfig()
	}

	c := &RoomController{
		cfg:      cfg,
		deps:     deps,
		logger:   logger.With("room_id", cfg.RoomID, "role", cfg.Self.Role),
		presence: NewPresenceTracker(),
		router:   NewStreamRouter(),
		status:   cfg.InitialStatus,
		inbound:  make(map[domain.ConnID][]string),
	}
	c.broadcast = NewBroadcastState(deps.Captures, deps.Notifier, c.logger)
	c.peers = NewPeerManager(deps.PeerFactory, deps.Channel, PeerManagerOptions{
		Tracks:   c.broadcast.Tracks,
		Inbound:  c,
		OnSender: deps.OnSender,
		Metrics:  deps.Metrics,
	}, c.logger)
	c.recorder = NewCompositor(cfg.Compositor, deps.Encoders, deps.Uploader, deps.Metrics, c.logger)

	c.broadcast.Subscribe(c.onBroadcastChange)
	c.router.Subscribe(c.onSlotsChange)
	c.recorder.Subscribe(func(domain.RecorderState) { c.publish() })
	c.recorder.OnAbort(func(err error) {
		c.notify(ports.NotifyError, "Recording stopped because of an error", err)
	})
	c.presence.SubscribeNotices(func(joined bool, p domain.Participant) {
		verb := "left"
		if joined {
			verb = "joined"
		}
		c.notify(ports.NotifyInfo, fmt.Sprintf("%s %s", p.Name, verb), nil)
	})
	return c
}

func (c *RoomController) Presence() *PresenceTracker { return c.presence }
func (c *RoomController) Router() *StreamRouter      { return c.router }
func (c *RoomController) Broadcast() *BroadcastState { return c.broadcast }
func (c *RoomController) Peers() *PeerManager        { return c.peers }
func (c *RoomController) Recorder() *Compositor      { return c.recorder }
func (c *RoomController) Self() domain.Participant   { return c.cfg.Self }
func (c *RoomController) isPresenter() bool          { return c.cfg.Self.Role == domain.RolePresenter }
func (c *RoomController) selfConn() domain.ConnID    { return c.deps.Channel.ConnID() }

// Mount registers the message handlers and joins the room. Mounting the same room and
// session twice is a no-op, so handlers are never registered more than once.
func (c *RoomController) Mount(ctx context.Context) error {
	key := string(c.cfg.RoomID) + "/" + c.cfg.SessionID

	c.mu.Lock()
	if c.mountedKey == key {
		c.mu.Unlock()
		return nil
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.unsubscribe = c.registerHandlers()
	c.mountedKey = key
	c.mu.Unlock()

	if err := c.deps.Channel.Join(c.cfg.RoomID); err != nil {
		c.teardownHandlers()
		return fmt.Errorf("join room %s: %w", c.cfg.RoomID, err)
	}

	c.logger.Infow("Room mounted", "session_id", c.cfg.SessionID)
	c.publish()
	return nil
}

// Unmount finalizes any recording, releases captures and links, and leaves the room.
// A recording still being saved after session end is waited for until ctx is done.
func (c *RoomController) Unmount(ctx context.Context) error {
	if !c.joined() {
		return nil
	}
	c.waitFinishing(ctx)

	if c.recorder.State() == domain.RecorderRecording {
		if _, err := c.StopRecording(ctx); err != nil {
			c.logger.Warnw("Failed to finalize recording on unmount", "error", err)
		}
	}
	c.broadcast.StopAll()
	c.peers.CloseAll()

	err := c.deps.Channel.Leave(c.cfg.RoomID)
	c.teardownHandlers()
	c.presence.Clear()
	c.router.Reset()

	c.logger.Infow("Room unmounted")
	c.publish()
	if err != nil {
		return fmt.Errorf("leave room %s: %w", c.cfg.RoomID, err)
	}
	return nil
}

// Resync recovers after the transport reconnected: links are dropped, the room is
// rejoined, and the next roster snapshot rebuilds presence and presenter links.
func (c *RoomController) Resync(ctx context.Context) error {
	if !c.joined() {
		return domain.ErrNotJoined
	}

	c.peers.CloseAll()
	c.presence.Clear()
	c.router.Reset()

	if err := c.deps.Channel.Join(c.cfg.RoomID); err != nil {
		return fmt.Errorf("rejoin room %s: %w", c.cfg.RoomID, err)
	}
	c.logger.Infow("Room resynced")
	c.publish()
	return nil
}

func (c *RoomController) waitFinishing(ctx context.Context) {
	c.mu.Lock()
	finishing := c.finishing
	c.mu.Unlock()
	if finishing == nil {
		return
	}

	select {
	case <-finishing:
	case <-ctx.Done():
		c.logger.Warnw("Left the room before the recording was saved", "error", ctx.Err())
	}
}

func (c *RoomController) teardownHandlers() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mountedKey = ""
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
}

func (c *RoomController) registerHandlers() []func() {
	ch := c.deps.Channel
	return []func(){
		ch.On(domain.MsgRoster, c.handleRoster),
		ch.On(domain.MsgJoin, c.handlePresence(true)),
		ch.On(domain.MsgLeave, c.handlePresence(false)),
		ch.On(domain.MsgOffer, c.handleOffer),
		ch.On(domain.MsgAnswer, c.handleAnswer),
		ch.On(domain.MsgICE, c.handleICE),
		ch.On(domain.MsgStreamMeta, c.handleStreamMeta),
		ch.On(domain.MsgChat, c.handleFeed),
		ch.On(domain.MsgResourceShare, c.handleFeed),
		ch.On(domain.MsgPollCreate, c.handleFeed),
		ch.On(domain.MsgPollVote, c.handleFeed),
		ch.On(domain.MsgSessionStart, c.handleSession),
		ch.On(domain.MsgSessionEnd, c.handleSession),
		ch.On(domain.MsgError, c.handleError),
	}
}

func (c *RoomController) joined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mountedKey != ""
}

func (c *RoomController) runContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

func (c *RoomController) handleRoster(env *domain.Envelope) {
	var msg domain.RosterMessage
	if err := env.Decode(&msg); err != nil {
		c.logger.Warnw("Malformed roster", "error", err)
		return
	}
	if msg.Status.Valid() {
		c.mirrorStatus(msg.Status)
	}

	change := c.presence.ReplaceRoster(msg.Participants)
	c.publish()

	if !c.isPresenter() {
		for _, p := range change.Removed {
			if p.Role == domain.RolePresenter {
				c.peers.ClosePeer(p.ConnID)
			}
		}
		return
	}

	ctx := c.runContext()
	if err := c.peers.SyncViewers(ctx, c.presence.ViewerConns()); err != nil {
		c.logger.Warnw("Failed to sync viewer links", "error", err)
	}
	// Late joiners need the current mapping to route the streams they are about to get.
	if len(change.Added) > 0 && c.broadcast.Active() {
		c.sendMetadata(c.broadcast.Metadata())
	}
}

func (c *RoomController) handlePresence(joined bool) ports.MessageHandler {
	return func(env *domain.Envelope) {
		var msg domain.PresenceMessage
		if err := env.Decode(&msg); err != nil || msg.Participant.ConnID == c.selfConn() {
			return
		}
		if joined {
			c.presence.NoteJoin(msg.Participant)
		} else {
			c.presence.NoteLeave(msg.Participant)
		}
	}
}

func (c *RoomController) handleOffer(env *domain.Envelope) {
	if c.isPresenter() {
		return
	}
	var msg domain.SDPMessage
	if err := env.Decode(&msg); err != nil {
		c.logger.Warnw("Malformed offer", "error", err)
		return
	}
	msg.From = env.From
	c.signalingResult(c.peers.HandleOffer(c.runContext(), msg))
}

func (c *RoomController) handleAnswer(env *domain.Envelope) {
	if !c.isPresenter() {
		return
	}
	var msg domain.SDPMessage
	if err := env.Decode(&msg); err != nil {
		c.logger.Warnw("Malformed answer", "error", err)
		return
	}
	msg.From = env.From
	c.signalingResult(c.peers.HandleAnswer(msg))
}

func (c *RoomController) handleICE(env *domain.Envelope) {
	var msg domain.ICEMessage
	if err := env.Decode(&msg); err != nil {
		c.logger.Warnw("Malformed candidate", "error", err)
		return
	}
	msg.From = env.From
	c.signalingResult(c.peers.HandleICE(msg))
}

// signalingResult keeps peer-level failures local to that peer.
func (c *RoomController) signalingResult(err error) {
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrPeerNotFound):
		c.logger.Debugw("Signaling for unknown peer", "error", err)
	case errors.Is(err, domain.ErrSignalingApplyFailed):
		c.notify(ports.NotifyWarning, "A viewer connection failed and will be recreated", err)
	default:
		c.logger.Warnw("Signaling error", "error", err)
	}
	c.publish()
}

func (c *RoomController) handleStreamMeta(env *domain.Envelope) {
	if c.isPresenter() {
		return
	}
	var msg domain.StreamMetaMessage
	if err := env.Decode(&msg); err != nil {
		c.logger.Warnw("Malformed stream metadata", "error", err)
		return
	}
	c.router.ApplyMetadata(msg.StreamMetadata)
}

func (c *RoomController) handleFeed(env *domain.Envelope) {
	if c.deps.Feed != nil {
		c.deps.Feed.Deliver(env)
	}
}

func (c *RoomController) handleError(env *domain.Envelope) {
	var msg domain.ErrorMessage
	if err := env.Decode(&msg); err != nil {
		c.logger.Warnw("Malformed error frame", "error", err)
		return
	}
	c.notify(ports.NotifyWarning, msg.Message, nil)
}

func (c *RoomController) handleSession(env *domain.Envelope) {
	next := domain.RoomOngoing
	if env.Type == domain.MsgSessionEnd {
		next = domain.RoomCompleted
	}

	c.mu.Lock()
	current := c.status
	if !current.CanTransitionTo(next) {
		c.mu.Unlock()
		c.logger.Debugw("Ignoring session transition", "from", current, "to", next)
		return
	}
	c.status = next
	var done chan struct{}
	if next == domain.RoomCompleted {
		done = make(chan struct{})
		c.finishing = done
	}
	c.mu.Unlock()

	c.logger.Infow("Room status changed", "from", current, "to", next)
	c.publish()

	if done != nil {
		// Finalizing uploads the recording, which must not hold up message dispatch.
		// Unmount waits for it rather than cancelling the upload.
		ctx := context.WithoutCancel(c.runContext())
		go func() {
			defer close(done)
			c.finishSession(ctx)
		}()
	}
}

// finishSession runs when the room completes: recording is finalized and persisted,
// captures are released and every link is closed.
func (c *RoomController) finishSession(ctx context.Context) {
	if c.recorder.State() == domain.RecorderRecording {
		if _, err := c.StopRecording(ctx); err != nil {
			c.logger.Errorw("Failed to finalize recording at session end", "error", err)
		}
	}
	c.broadcast.StopAll()
	c.peers.CloseAll()
	c.publish()
}

func (c *RoomController) mirrorStatus(status domain.RoomStatus) {
	c.mu.Lock()
	changed := c.status != status
	c.status = status
	c.mu.Unlock()
	if changed {
		c.logger.Infow("Room status mirrored from roster", "status", status)
	}
}

func (c *RoomController) onBroadcastChange(change BroadcastChange) {
	c.logger.Infow("Broadcast changed",
		"reason", change.Reason,
		"mode", change.Mode,
		"tracks", len(change.Tracks),
	)
	if c.joined() {
		c.sendMetadata(change.Metadata)
		if err := c.peers.RebuildAll(c.runContext()); err != nil {
			c.logger.Warnw("Rebuild finished with errors", "error", err)
		}
	}
	c.publish()
}

func (c *RoomController) sendMetadata(meta domain.StreamMetadata) {
	err := c.deps.Channel.Send(domain.MsgStreamMeta, domain.StreamMetaMessage{StreamMetadata: meta})
	if err != nil {
		c.logger.Warnw("Failed to send stream metadata", "error", err)
	}
}

func (c *RoomController) onSlotsChange(slots map[domain.StreamRole]string) {
	if c.deps.Display != nil {
		for _, role := range domain.SlotPriority {
			c.deps.Display.Route(role, slots[role])
		}
	}
	c.publish()
}

// TrackAdded routes an inbound track and starts pumping it to the display.
func (c *RoomController) TrackAdded(peer domain.ConnID, track ports.InboundTrack) {
	streamID := track.StreamID()

	c.mu.Lock()
	c.inbound[peer] = appendUnique(c.inbound[peer], streamID)
	c.mu.Unlock()

	c.router.AddStream(streamID)

	if c.deps.Pump == nil || c.deps.Display == nil {
		return
	}
	kind := track.Kind()
	go c.deps.Pump(c.runContext(), track, func(pkt *rtp.Packet) error {
		role, ok := c.router.RoleOf(streamID)
		if !ok {
			return nil
		}
		return c.deps.Display.WriteRTP(role, kind, pkt)
	})
}

// LinkClosed forgets the streams an inbound link carried.
func (c *RoomController) LinkClosed(peer domain.ConnID, streamIDs []string) {
	c.mu.Lock()
	delete(c.inbound, peer)
	c.mu.Unlock()

	for _, id := range streamIDs {
		c.router.RemoveStream(id)
	}
}

func (c *RoomController) requirePresenterLive() error {
	if !c.isPresenter() {
		return fmt.Errorf("%w: presenter role required", domain.ErrPreconditionFailed)
	}
	if !c.joined() {
		return domain.ErrNotJoined
	}
	if status := c.Status(); status != domain.RoomOngoing {
		return fmt.Errorf("%w: room is %s", domain.ErrPreconditionFailed, status)
	}
	return nil
}

// ToggleCamera starts or stops the camera. The room must be ONGOING.
func (c *RoomController) ToggleCamera(ctx context.Context) error {
	if err := c.requirePresenterLive(); err != nil {
		c.notify(ports.NotifyWarning, "Camera can only be used while the session is live", err)
		return err
	}
	var err error
	if c.broadcast.Camera() != nil {
		err = c.broadcast.StopCamera(ctx)
	} else {
		err = c.broadcast.StartCamera(ctx)
	}
	if err != nil {
		c.notifyCapture("camera", err)
	}
	return err
}

// ToggleScreenShare starts or stops screen sharing. The room must be ONGOING.
func (c *RoomController) ToggleScreenShare(ctx context.Context) error {
	if err := c.requirePresenterLive(); err != nil {
		c.notify(ports.NotifyWarning, "Screen sharing is only available while the session is live", err)
		return err
	}
	var err error
	if c.broadcast.Screen() != nil {
		err = c.broadcast.StopScreenShare(ctx)
	} else {
		err = c.broadcast.StartScreenShare(ctx)
	}
	if err != nil {
		c.notifyCapture("screen", err)
	}
	return err
}

// SetMuted mutes or unmutes the transmitted audio.
func (c *RoomController) SetMuted(muted bool) error {
	if !c.isPresenter() {
		return fmt.Errorf("%w: presenter role required", domain.ErrPreconditionFailed)
	}
	c.broadcast.SetMuted(muted)
	c.publish()
	return nil
}

// StartRecording starts compositing the active captures. The room must be ONGOING.
func (c *RoomController) StartRecording(ctx context.Context) error {
	if err := c.requirePresenterLive(); err != nil {
		c.notify(ports.NotifyWarning, "Recording is only available while the session is live", err)
		return err
	}
	if err := c.recorder.Start(c.cfg.RoomID, c.broadcast); err != nil {
		c.notify(ports.NotifyError, "Could not start recording", err)
		return err
	}
	return nil
}

// StopRecording finalizes the recording, uploads it and stores its URL on the session.
func (c *RoomController) StopRecording(ctx context.Context) (*RecordingResult, error) {
	result, err := c.recorder.Stop(ctx)
	if err != nil {
		c.notify(ports.NotifyError, "Could not save the recording", err)
		return nil, err
	}

	if c.deps.Sessions != nil {
		update := domain.SessionUpdate{RecordingURL: result.URL}
		if err := c.deps.Sessions.UpdateSession(ctx, c.cfg.RoomID, update); err != nil {
			c.notify(ports.NotifyError, "Recording uploaded but the session could not be updated", err)
			return result, fmt.Errorf("update session: %w", err)
		}
	}
	c.notify(ports.NotifyInfo, "Recording saved", nil)
	return result, nil
}

// StartSession asks the relay to move the room to ONGOING. The local status follows
// the session-start message, never this call.
func (c *RoomController) StartSession(ctx context.Context) error {
	return c.sendSessionControl(domain.MsgSessionStart, domain.RoomScheduled)
}

// EndSession asks the relay to complete the room.
func (c *RoomController) EndSession(ctx context.Context) error {
	return c.sendSessionControl(domain.MsgSessionEnd, domain.RoomOngoing)
}

func (c *RoomController) sendSessionControl(t domain.MessageType, required domain.RoomStatus) error {
	if !c.cfg.Self.Role.CanControlSession() {
		return fmt.Errorf("%w: %s requires presenter or moderator", domain.ErrPreconditionFailed, t)
	}
	if !c.joined() {
		return domain.ErrNotJoined
	}
	if status := c.Status(); status != required {
		err := fmt.Errorf("%w: room is %s", domain.ErrPreconditionFailed, status)
		c.notify(ports.NotifyWarning, "The session cannot change state right now", err)
		return err
	}
	return c.deps.Channel.Send(t, domain.SessionMessage{RoomID: c.cfg.RoomID, At: time.Now().UTC()})
}

// SendChat sends a chat message to the room.
func (c *RoomController) SendChat(text string) error {
	return c.sendRoom(domain.MsgChat, domain.ChatMessage{Message: text})
}

// ShareResource shares a link with the room.
func (c *RoomController) ShareResource(url, title string) error {
	return c.sendRoom(domain.MsgResourceShare, domain.ResourceShareMessage{URL: url, Title: title})
}

// CreatePoll sends a new poll and returns its id.
func (c *RoomController) CreatePoll(question string, options []string) (string, error) {
	if len(options) < 2 {
		return "", fmt.Errorf("%w: a poll needs at least two options", domain.ErrPreconditionFailed)
	}
	id := uuid.NewString()
	return id, c.sendRoom(domain.MsgPollCreate, domain.PollCreateMessage{PollID: id, Question: question, Options: options})
}

// VotePoll votes for option of a poll.
func (c *RoomController) VotePoll(pollID string, option int) error {
	return c.sendRoom(domain.MsgPollVote, domain.PollVoteMessage{PollID: pollID, Option: option})
}

func (c *RoomController) sendRoom(t domain.MessageType, payload interface{}) error {
	if !c.joined() {
		return domain.ErrNotJoined
	}
	if err := c.deps.Channel.Send(t, payload); err != nil {
		c.notify(ports.NotifyError, "Message could not be sent", err)
		return err
	}
	return nil
}

// Status returns the room status as last seen from the relay.
func (c *RoomController) Status() domain.RoomStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Snapshot returns the current derived room state.
func (c *RoomController) Snapshot() Snapshot {
	self := c.cfg.Self
	self.ConnID = c.selfConn()
	return Snapshot{
		RoomID:       c.cfg.RoomID,
		Self:         self,
		Status:       c.Status(),
		Participants: c.presence.Participants(),
		Mode:         c.broadcast.Mode(),
		Metadata:     c.currentMetadata(),
		Slots:        c.router.Slots(),
		Recorder:     c.recorder.State(),
		Muted:        c.broadcast.Muted(),
		Links:        c.peers.Count(),
		Joined:       c.joined(),
	}
}

func (c *RoomController) currentMetadata() domain.StreamMetadata {
	if c.isPresenter() {
		return c.broadcast.Metadata()
	}
	return c.router.Metadata()
}

// Subscribe registers fn for every snapshot change.
func (c *RoomController) Subscribe(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

func (c *RoomController) publish() {
	c.mu.Lock()
	observers := append(([]func(Snapshot))(nil), c.observers...)
	c.mu.Unlock()
	if len(observers) == 0 {
		return
	}
	snap := c.Snapshot()
	for _, fn := range observers {
		fn(snap)
	}
}

func (c *RoomController) notify(level ports.NotificationLevel, message string, err error) {
	switch level {
	case ports.NotifyError:
		c.logger.Errorw(message, "error", err)
	case ports.NotifyWarning:
		c.logger.Warnw(message, "error", err)
	}
	c.deps.Notifier.Notify(ports.Notification{
		Level:   level,
		Message: message,
		Err:     err,
		At:      time.Now(),
	})
}

func (c *RoomController) notifyCapture(device string, err error) {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		c.notify(ports.NotifyWarning, fmt.Sprintf("Allow %s access to continue", device), err)
	case errors.Is(err, domain.ErrDeviceUnavailable):
		c.notify(ports.NotifyWarning, fmt.Sprintf("No %s was found", device), err)
	case errors.Is(err, domain.ErrDeviceBusy):
		c.notify(ports.NotifyWarning, fmt.Sprintf("The %s is in use by another application", device), err)
	default:
		c.notify(ports.NotifyError, fmt.Sprintf("Could not toggle %s", device), err)
	}
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
