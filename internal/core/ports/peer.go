package ports

import (
	"roomcast/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// PeerConnection is the subset of *webrtc.PeerConnection the manager drives.
type PeerConnection interface {
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	Close() error
}

type PeerConnectionFactory interface {
	NewPeerConnection() (PeerConnection, error)
}

// InboundTrack is the identity of a remote track; *webrtc.TrackRemote satisfies it.
type InboundTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// InboundTrackHandler receives the tracks and link teardowns of viewer-side links.
type InboundTrackHandler interface {
	TrackAdded(peer domain.ConnID, track InboundTrack)
	LinkClosed(peer domain.ConnID, streamIDs []string)
}
