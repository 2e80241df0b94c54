package testutils

import (
	"context"
	"image"
	"image/color"
	"io"
	"sync"
	"time"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

// FakeCapture is a capture backed by real local tracks and a solid preview frame.
type FakeCapture struct {
	id    string
	kind  domain.CaptureKind
	video webrtc.TrackLocal
	audio webrtc.TrackLocal
	frame image.Image

	mu           sync.Mutex
	audioEnabled bool
	stopped      bool
	ended        chan struct{}
	subscribers  []chan media.Sample
}

// NewFakeCapture builds a capture. Microphones only get audio; withAudio adds an audio
// track to camera and screen captures.
func NewFakeCapture(kind domain.CaptureKind, streamID string, withAudio bool) *FakeCapture {
	if streamID == "" {
		streamID = uuid.NewString()
	}
	c := &FakeCapture{
		id:           streamID,
		kind:         kind,
		audioEnabled: true,
		ended:        make(chan struct{}),
	}
	if kind != domain.CaptureMicrophone {
		c.video, _ = webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			string(kind)+"-video", streamID,
		)
		fill := color.NRGBA{R: 0x20, G: 0x80, B: 0xc0, A: 0xff}
		if kind == domain.CaptureScreen {
			fill = color.NRGBA{R: 0xf0, G: 0xf0, B: 0xf0, A: 0xff}
		}
		c.frame = imaging.New(320, 180, fill)
	}
	if kind == domain.CaptureMicrophone || withAudio {
		c.audio, _ = webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
			string(kind)+"-audio", streamID,
		)
	}
	return c
}

func (c *FakeCapture) ID() string                    { return c.id }
func (c *FakeCapture) Kind() domain.CaptureKind      { return c.kind }
func (c *FakeCapture) VideoTrack() webrtc.TrackLocal { return c.video }
func (c *FakeCapture) AudioTrack() webrtc.TrackLocal { return c.audio }
func (c *FakeCapture) Frame() image.Image            { return c.frame }
func (c *FakeCapture) Ended() <-chan struct{}        { return c.ended }

func (c *FakeCapture) SubscribeAudio() (<-chan media.Sample, func()) {
	if c.audio == nil {
		return nil, func() {}
	}
	ch := make(chan media.Sample, 16)
	c.mu.Lock()
	c.subscribers = append(c.subscribers, ch)
	c.mu.Unlock()
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subscribers {
			if s == ch {
				c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
				return
			}
		}
	}
}

// EmitAudio pushes a sample to every audio subscriber.
func (c *FakeCapture) EmitAudio(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- media.Sample{Data: data, Duration: 20 * time.Millisecond}:
		default:
		}
	}
}

func (c *FakeCapture) SetAudioEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audioEnabled = enabled
}

func (c *FakeCapture) AudioEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audioEnabled
}

func (c *FakeCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.ended)
}

func (c *FakeCapture) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// FakeCaptureProvider hands out FakeCaptures. Set an error per kind to simulate a
// refused or missing device.
type FakeCaptureProvider struct {
	mu sync.Mutex

	CameraAudio bool
	ScreenAudio bool
	Errs        map[domain.CaptureKind]error

	Acquired []*FakeCapture
}

func NewFakeCaptureProvider() *FakeCaptureProvider {
	return &FakeCaptureProvider{CameraAudio: true, Errs: map[domain.CaptureKind]error{}}
}

func (p *FakeCaptureProvider) acquire(kind domain.CaptureKind, streamID string, audio bool) (ports.Capture, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.Errs[kind]; err != nil {
		return nil, err
	}
	c := NewFakeCapture(kind, streamID, audio)
	p.Acquired = append(p.Acquired, c)
	return c, nil
}

func (p *FakeCaptureProvider) AcquireCamera(ctx context.Context) (ports.Capture, error) {
	return p.acquire(domain.CaptureCamera, "", p.CameraAudio)
}

func (p *FakeCaptureProvider) AcquireScreen(ctx context.Context) (ports.Capture, error) {
	return p.acquire(domain.CaptureScreen, "", p.ScreenAudio)
}

func (p *FakeCaptureProvider) AcquireMicrophone(ctx context.Context, streamID string) (ports.Capture, error) {
	return p.acquire(domain.CaptureMicrophone, streamID, true)
}

// Last returns the most recent capture of kind.
func (p *FakeCaptureProvider) Last(kind domain.CaptureKind) *FakeCapture {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.Acquired) - 1; i >= 0; i-- {
		if p.Acquired[i].kind == kind {
			return p.Acquired[i]
		}
	}
	return nil
}

// FakeEncoderFactory creates encoders that write a fixed-size block per frame.
type FakeEncoderFactory struct {
	MimeType string
	Err      error
	// FrameErr makes EncodeFrame fail after this many frames when positive.
	FrameErr int

	mu       sync.Mutex
	Encoders []*FakeEncoder
}

func (f *FakeEncoderFactory) NewStreamEncoder(w io.Writer, spec ports.EncodeSpec) (ports.StreamEncoder, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	mime := f.MimeType
	if mime == "" {
		mime = "video/x-matroska;codecs=mjpeg,opus"
	}
	enc := &FakeEncoder{w: w, mime: mime, spec: spec, failAfter: f.FrameErr}
	f.mu.Lock()
	f.Encoders = append(f.Encoders, enc)
	f.mu.Unlock()
	return enc, nil
}

type FakeEncoder struct {
	mu        sync.Mutex
	w         io.Writer
	mime      string
	spec      ports.EncodeSpec
	failAfter int

	Frames      int
	AudioFrames int
	LastFrame   image.Image
	Closed      bool
}

func (e *FakeEncoder) MimeType() string { return e.mime }

func (e *FakeEncoder) EncodeFrame(img image.Image, ts time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failAfter > 0 && e.Frames >= e.failAfter {
		return io.ErrClosedPipe
	}
	e.Frames++
	e.LastFrame = imaging.Clone(img)
	_, err := e.w.Write([]byte("frame"))
	return err
}

func (e *FakeEncoder) WriteAudio(data []byte, ts time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.AudioFrames++
	_, err := e.w.Write(data)
	return err
}

func (e *FakeEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Closed = true
	_, err := e.w.Write([]byte("trailer"))
	return err
}

func (e *FakeEncoder) Snapshot() (frames int, last image.Image) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Frames, e.LastFrame
}
