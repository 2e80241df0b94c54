package ports

import (
	"context"
	"image"
	"io"
	"time"

	"roomcast/internal/core/domain"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

// Capture is a live capture handle: a camera, a screen share or a microphone.
type Capture interface {
	// ID is the stream id viewers see on every track of this capture.
	ID() string
	Kind() domain.CaptureKind
	VideoTrack() webrtc.TrackLocal
	AudioTrack() webrtc.TrackLocal
	// Frame returns the latest preview frame, nil for audio-only captures.
	Frame() image.Image
	// SubscribeAudio streams encoded Opus samples; the channel is nil without audio.
	SubscribeAudio() (<-chan media.Sample, func())
	SetAudioEnabled(enabled bool)
	// Ended is closed when the capture stops, including stops outside our control.
	Ended() <-chan struct{}
	Stop()
}

type CaptureProvider interface {
	AcquireCamera(ctx context.Context) (Capture, error)
	AcquireScreen(ctx context.Context) (Capture, error)
	// AcquireMicrophone returns an audio-only capture whose track joins streamID.
	AcquireMicrophone(ctx context.Context, streamID string) (Capture, error)
}

// DisplaySink renders inbound media on a viewer.
type DisplaySink interface {
	Route(role domain.StreamRole, streamID string)
	WriteRTP(role domain.StreamRole, kind webrtc.RTPCodecType, pkt *rtp.Packet) error
	Close() error
}

type EncodeSpec struct {
	Width     int
	Height    int
	FrameRate float64
	// MimeTypes is the ordered preference list.
	MimeTypes []string
	Audio     bool
}

// StreamEncoder encodes composited frames and audio into a container written to w.
type StreamEncoder interface {
	MimeType() string
	EncodeFrame(img image.Image, ts time.Duration) error
	WriteAudio(data []byte, ts time.Duration) error
	// Close flushes buffered output into the writer.
	Close() error
}

type StreamEncoderFactory interface {
	NewStreamEncoder(w io.Writer, spec EncodeSpec) (StreamEncoder, error)
}
