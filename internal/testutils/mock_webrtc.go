package testutils

import (
	"errors"
	"sync"

	"roomcast/internal/core/ports"

	"github.com/pion/webrtc/v3"
)

// ErrMockApply is returned by a MockPeerConnection told to reject descriptions.
var ErrMockApply = errors.New("mock: description rejected")

// MockPeerConnection records everything the peer manager does to a connection.
type MockPeerConnection struct {
	mu sync.Mutex

	Tracks     []webrtc.TrackLocal
	Local      *webrtc.SessionDescription
	Remote     *webrtc.SessionDescription
	Candidates []webrtc.ICECandidateInit
	Closed     bool

	RejectRemote    bool
	RejectCandidate bool

	OnTrackHandler func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	OnICEHandler   func(*webrtc.ICECandidate)
	OnStateHandler func(webrtc.PeerConnectionState)
}

var _ ports.PeerConnection = (*MockPeerConnection)(nil)

func (m *MockPeerConnection) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Tracks = append(m.Tracks, track)
	return nil, nil
}

func (m *MockPeerConnection) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  "mock-offer-sdp",
	}, nil
}

func (m *MockPeerConnection) CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  "mock-answer-sdp",
	}, nil
}

func (m *MockPeerConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Local = &desc
	return nil
}

func (m *MockPeerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RejectRemote {
		return ErrMockApply
	}
	m.Remote = &desc
	return nil
}

func (m *MockPeerConnection) RemoteDescription() *webrtc.SessionDescription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Remote
}

func (m *MockPeerConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RejectCandidate {
		return ErrMockApply
	}
	if m.Remote == nil {
		return errors.New("mock: remote description not set")
	}
	m.Candidates = append(m.Candidates, candidate)
	return nil
}

func (m *MockPeerConnection) OnICECandidate(f func(*webrtc.ICECandidate)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OnICEHandler = f
}

func (m *MockPeerConnection) OnTrack(handler func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OnTrackHandler = handler
}

func (m *MockPeerConnection) OnConnectionStateChange(handler func(webrtc.PeerConnectionState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OnStateHandler = handler
}

func (m *MockPeerConnection) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

func (m *MockPeerConnection) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Closed
}

// TrackIDs returns the ids of the tracks attached so far.
func (m *MockPeerConnection) TrackIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.Tracks))
	for _, t := range m.Tracks {
		ids = append(ids, t.ID())
	}
	return ids
}

func (m *MockPeerConnection) CandidateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Candidates)
}

// MockPeerFactory hands out MockPeerConnections and remembers them.
type MockPeerFactory struct {
	mu          sync.Mutex
	Connections []*MockPeerConnection
	// Prepare, when set, configures each connection before it is returned.
	Prepare func(pc *MockPeerConnection)
	Err     error
}

func (f *MockPeerFactory) NewPeerConnection() (ports.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	pc := &MockPeerConnection{}
	if f.Prepare != nil {
		f.Prepare(pc)
	}
	f.Connections = append(f.Connections, pc)
	return pc, nil
}

func (f *MockPeerFactory) Created() []*MockPeerConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*MockPeerConnection(nil), f.Connections...)
}

// Open returns the connections that have not been closed.
func (f *MockPeerFactory) Open() []*MockPeerConnection {
	var open []*MockPeerConnection
	for _, pc := range f.Created() {
		if !pc.IsClosed() {
			open = append(open, pc)
		}
	}
	return open
}
