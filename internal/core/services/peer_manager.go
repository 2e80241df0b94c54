package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
	"roomcast/pkg/tracing"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// LinkInfo is a read-only view of one peer link.
type LinkInfo struct {
	Peer          domain.ConnID
	Outbound      bool
	NegotiationID string
	TrackIDs      []string
	StreamIDs     []string
	State         webrtc.PeerConnectionState
	CreatedAt     time.Time
}

type peerLink struct {
	mu sync.Mutex

	peer          domain.ConnID
	pc            ports.PeerConnection
	outbound      bool
	negotiationID string
	trackIDs      []string
	streamIDs     []string
	state         webrtc.PeerConnectionState
	createdAt     time.Time

	remoteSet bool
	pending   []webrtc.ICECandidateInit
	closed    bool
}

// PeerManagerOptions wires the optional collaborators of a PeerManager.
type PeerManagerOptions struct {
	// Tracks returns the presenter's current outbound track set.
	Tracks func() []webrtc.TrackLocal
	// Inbound receives the tracks of viewer-side links.
	Inbound ports.InboundTrackHandler
	// OnSender is called for every RTP sender of a presenter link.
	OnSender func(peer domain.ConnID, sender *webrtc.RTPSender)
	Metrics  ports.ClientMetrics
}

// PeerManager owns every peer link of this participant. Presenters hold one outbound
// link per viewer, viewers one inbound link per presenter. Links are only ever created,
// replaced wholesale, or closed.
type PeerManager struct {
	factory ports.PeerConnectionFactory
	channel ports.RoomChannel
	opts    PeerManagerOptions
	logger  *zap.SugaredLogger

	mu       sync.Mutex
	links    map[domain.ConnID]*peerLink
	viewers  []domain.ConnID
	rebuilds int
}

// NewPeerManager creates a peer manager that signals over channel.
func NewPeerManager(factory ports.PeerConnectionFactory, channel ports.RoomChannel, opts PeerManagerOptions, logger *zap.SugaredLogger) *PeerManager {
	if opts.Tracks == nil {
		opts.Tracks = func() []webrtc.TrackLocal { return nil }
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	return &PeerManager{
		factory: factory,
		channel: channel,
		opts:    opts,
		logger:  logger,
		links:   make(map[domain.ConnID]*peerLink),
	}
}

// SyncViewers reconciles presenter links with the viewer set: new viewers get a link
// carrying the current tracks, departed viewers lose theirs, others are left untouched.
func (m *PeerManager) SyncViewers(ctx context.Context, viewers []domain.ConnID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.viewers = append([]domain.ConnID(nil), viewers...)
	wanted := make(map[domain.ConnID]bool, len(viewers))
	for _, v := range viewers {
		wanted[v] = true
	}

	for peer, link := range m.links {
		if link.outbound && !wanted[peer] {
			m.closeLocked(link, "viewer left")
		}
	}

	tracks := m.opts.Tracks()
	if len(tracks) == 0 {
		return nil
	}

	var firstErr error
	for _, viewer := range m.viewers {
		if _, exists := m.links[viewer]; exists {
			continue
		}
		if err := m.offerLocked(ctx, viewer, tracks); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RebuildAll tears down every presenter link and recreates one per viewer with the full
// current track set. Calling it again without a capture change yields the same end state.
func (m *PeerManager) RebuildAll(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "peers.rebuild_all")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.rebuilds++
	m.opts.Metrics.RebuildCycle()

	for _, link := range m.links {
		if link.outbound {
			m.closeLocked(link, "rebuild")
		}
	}

	tracks := m.opts.Tracks()
	span.SetAttributes(
		attribute.Int("peers.viewers", len(m.viewers)),
		attribute.Int("peers.tracks", len(tracks)),
	)
	if len(tracks) == 0 {
		return nil
	}

	var firstErr error
	for _, viewer := range m.viewers {
		if err := m.offerLocked(ctx, viewer, tracks); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		tracing.RecordError(ctx, firstErr)
	}
	return firstErr
}

// offerLocked creates an outbound link to viewer and sends its offer.
func (m *PeerManager) offerLocked(ctx context.Context, viewer domain.ConnID, tracks []webrtc.TrackLocal) error {
	_, span := tracing.TraceWebRTC(ctx, "offer", string(viewer), "")
	defer span.End()

	pc, err := m.factory.NewPeerConnection()
	if err != nil {
		return fmt.Errorf("create peer connection for %s: %w", viewer, err)
	}

	link := &peerLink{
		peer:          viewer,
		pc:            pc,
		outbound:      true,
		negotiationID: uuid.NewString(),
		state:         webrtc.PeerConnectionStateNew,
		createdAt:     time.Now(),
	}

	streams := map[string]bool{}
	for _, track := range tracks {
		sender, err := pc.AddTrack(track)
		if err != nil {
			pc.Close()
			return fmt.Errorf("add track %s for %s: %w", track.ID(), viewer, err)
		}
		link.trackIDs = append(link.trackIDs, track.ID())
		if !streams[track.StreamID()] {
			streams[track.StreamID()] = true
			link.streamIDs = append(link.streamIDs, track.StreamID())
		}
		if sender != nil && m.opts.OnSender != nil {
			m.opts.OnSender(viewer, sender)
		}
	}

	m.watch(link)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create offer for %s: %w", viewer, err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return fmt.Errorf("set local offer for %s: %w", viewer, err)
	}

	m.links[viewer] = link
	m.opts.Metrics.LinkOpened()

	if err := m.channel.Send(domain.MsgOffer, domain.SDPMessage{
		To:            viewer,
		SDP:           offer.SDP,
		NegotiationID: link.negotiationID,
	}); err != nil {
		return fmt.Errorf("send offer to %s: %w", viewer, err)
	}

	m.logger.Debugw("Offer sent",
		"peer_id", viewer,
		"negotiation_id", link.negotiationID,
		"tracks", len(link.trackIDs),
	)
	return nil
}

// HandleAnswer applies a viewer's answer to the matching presenter link.
func (m *PeerManager) HandleAnswer(msg domain.SDPMessage) error {
	link := m.lookup(msg.From)
	if link == nil || !link.outbound {
		return fmt.Errorf("answer from %s: %w", msg.From, domain.ErrPeerNotFound)
	}

	link.mu.Lock()
	defer link.mu.Unlock()

	if link.closed || !sameNegotiation(link, msg.NegotiationID) {
		m.logger.Debugw("Dropping stale answer", "peer_id", msg.From)
		return nil
	}

	err := link.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP})
	if err != nil {
		return m.failLinkLocked(link, "apply answer", err)
	}
	link.remoteSet = true
	return m.flushLocked(link)
}

// HandleOffer creates or replaces the inbound link for a presenter and answers it.
func (m *PeerManager) HandleOffer(ctx context.Context, msg domain.SDPMessage) error {
	_, span := tracing.TraceWebRTC(ctx, "answer", string(msg.From), "")
	defer span.End()

	// The previous link goes first so its streams are released before new tracks arrive.
	m.mu.Lock()
	old := m.links[msg.From]
	delete(m.links, msg.From)
	m.mu.Unlock()
	if old != nil {
		old.mu.Lock()
		m.shutdown(old)
		old.mu.Unlock()
	}

	pc, err := m.factory.NewPeerConnection()
	if err != nil {
		return fmt.Errorf("create peer connection for %s: %w", msg.From, err)
	}
	link := &peerLink{
		peer:          msg.From,
		pc:            pc,
		negotiationID: msg.NegotiationID,
		state:         webrtc.PeerConnectionStateNew,
		createdAt:     time.Now(),
	}
	m.mu.Lock()
	m.links[msg.From] = link
	m.opts.Metrics.LinkOpened()

	// Hold the link lock before publishing it so candidates queue behind the answer.
	link.mu.Lock()
	defer link.mu.Unlock()
	m.mu.Unlock()

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		m.trackArrived(link, track)
	})
	m.watch(link)

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}); err != nil {
		return m.failLinkLocked(link, "apply offer", err)
	}
	link.remoteSet = true

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return m.failLinkLocked(link, "create answer", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return m.failLinkLocked(link, "set local answer", err)
	}

	if err := m.channel.Send(domain.MsgAnswer, domain.SDPMessage{
		To:            msg.From,
		SDP:           answer.SDP,
		NegotiationID: msg.NegotiationID,
	}); err != nil {
		return fmt.Errorf("send answer to %s: %w", msg.From, err)
	}
	return m.flushLocked(link)
}

// HandleICE applies a remote candidate, buffering it until the remote description is set.
func (m *PeerManager) HandleICE(msg domain.ICEMessage) error {
	link := m.lookup(msg.From)
	if link == nil {
		return fmt.Errorf("candidate from %s: %w", msg.From, domain.ErrPeerNotFound)
	}

	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(msg.Candidate, &candidate); err != nil {
		link.mu.Lock()
		defer link.mu.Unlock()
		return m.failLinkLocked(link, "decode candidate", err)
	}

	link.mu.Lock()
	defer link.mu.Unlock()

	if link.closed || !sameNegotiation(link, msg.NegotiationID) {
		return nil
	}
	if !link.remoteSet {
		link.pending = append(link.pending, candidate)
		return nil
	}
	if err := link.pc.AddICECandidate(candidate); err != nil {
		return m.failLinkLocked(link, "add candidate", err)
	}
	return nil
}

func (m *PeerManager) flushLocked(link *peerLink) error {
	pending := link.pending
	link.pending = nil
	for _, candidate := range pending {
		if err := link.pc.AddICECandidate(candidate); err != nil {
			return m.failLinkLocked(link, "flush candidate", err)
		}
	}
	return nil
}

// failLinkLocked drops one link after a signaling error. Other links are untouched and
// the presenter recreates it on the next capture change or roster update.
func (m *PeerManager) failLinkLocked(link *peerLink, step string, cause error) error {
	err := fmt.Errorf("%w: %s for %s: %v", domain.ErrSignalingApplyFailed, step, link.peer, cause)
	m.logger.Warnw("Signaling apply failed, dropping link",
		"peer_id", link.peer,
		"step", step,
		"error", cause,
	)
	m.opts.Metrics.SignalingFailure()

	m.mu.Lock()
	if current, ok := m.links[link.peer]; ok && current == link {
		delete(m.links, link.peer)
	}
	m.mu.Unlock()

	m.shutdown(link)
	return err
}

func (m *PeerManager) watch(link *peerLink) {
	link.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		if err := m.channel.Send(domain.MsgICE, domain.ICEMessage{
			To:            link.peer,
			Candidate:     raw,
			NegotiationID: link.negotiationID,
		}); err != nil {
			m.logger.Warnw("Failed to send candidate", "peer_id", link.peer, "error", err)
		}
	})

	link.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		link.mu.Lock()
		link.state = state
		link.mu.Unlock()
		m.logger.Infow("Peer connection state changed",
			"peer_id", link.peer,
			"state", state.String(),
		)
	})
}

func (m *PeerManager) trackArrived(link *peerLink, track *webrtc.TrackRemote) {
	link.mu.Lock()
	if link.closed {
		link.mu.Unlock()
		return
	}
	known := false
	for _, id := range link.streamIDs {
		if id == track.StreamID() {
			known = true
		}
	}
	if !known {
		link.streamIDs = append(link.streamIDs, track.StreamID())
	}
	link.trackIDs = append(link.trackIDs, track.ID())
	link.mu.Unlock()

	m.logger.Infow("Inbound track",
		"peer_id", link.peer,
		"track_id", track.ID(),
		"stream_id", track.StreamID(),
		"kind", track.Kind().String(),
	)
	if m.opts.Inbound != nil {
		m.opts.Inbound.TrackAdded(link.peer, track)
	}
}

func (m *PeerManager) lookup(peer domain.ConnID) *peerLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[peer]
}

// ClosePeer closes the link to one participant before returning.
func (m *PeerManager) ClosePeer(peer domain.ConnID) {
	m.mu.Lock()
	link, ok := m.links[peer]
	delete(m.links, peer)
	m.mu.Unlock()

	if ok {
		link.mu.Lock()
		m.shutdown(link)
		link.mu.Unlock()
	}
}

// CloseAll closes every link and forgets the viewer set.
func (m *PeerManager) CloseAll() {
	m.mu.Lock()
	links := make([]*peerLink, 0, len(m.links))
	for _, link := range m.links {
		links = append(links, link)
	}
	m.links = make(map[domain.ConnID]*peerLink)
	m.viewers = nil
	m.mu.Unlock()

	for _, link := range links {
		link.mu.Lock()
		m.shutdown(link)
		link.mu.Unlock()
	}
}

// closeLocked unpublishes a link and shuts it down asynchronously, since a signaling
// handler may hold the link while waiting for m.mu.
func (m *PeerManager) closeLocked(link *peerLink, reason string) {
	delete(m.links, link.peer)
	m.logger.Debugw("Closing peer link", "peer_id", link.peer, "reason", reason)
	go func() {
		link.mu.Lock()
		defer link.mu.Unlock()
		m.shutdown(link)
	}()
}

// shutdown must be called with link.mu held.
func (m *PeerManager) shutdown(link *peerLink) {
	if link.closed {
		return
	}
	link.closed = true
	link.pending = nil
	if err := link.pc.Close(); err != nil {
		m.logger.Debugw("Peer connection close failed", "peer_id", link.peer, "error", err)
	}
	m.opts.Metrics.LinkClosed()
	if !link.outbound && m.opts.Inbound != nil {
		m.opts.Inbound.LinkClosed(link.peer, append([]string(nil), link.streamIDs...))
	}
}

// Links returns a snapshot of the live links sorted by peer id.
func (m *PeerManager) Links() []LinkInfo {
	m.mu.Lock()
	links := make([]*peerLink, 0, len(m.links))
	for _, link := range m.links {
		links = append(links, link)
	}
	m.mu.Unlock()

	infos := make([]LinkInfo, 0, len(links))
	for _, link := range links {
		link.mu.Lock()
		infos = append(infos, LinkInfo{
			Peer:          link.peer,
			Outbound:      link.outbound,
			NegotiationID: link.negotiationID,
			TrackIDs:      append([]string(nil), link.trackIDs...),
			StreamIDs:     append([]string(nil), link.streamIDs...),
			State:         link.state,
			CreatedAt:     link.createdAt,
		})
		link.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Peer < infos[j].Peer })
	return infos
}

// Count returns the number of open links.
func (m *PeerManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links)
}

// Rebuilds returns the number of rebuild cycles run so far.
func (m *PeerManager) Rebuilds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rebuilds
}

func sameNegotiation(link *peerLink, id string) bool {
	return id == "" || link.negotiationID == "" || id == link.negotiationID
}
