package capture

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
	"roomcast/pkg/config"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"
)

// Source is one file-backed device.
type Source struct {
	Video  string
	Audio  string
	Poster string
	// Loop restarts playback at end of file; otherwise the capture ends by itself.
	Loop bool
}

type ProviderConfig struct {
	Camera     Source
	Screen     Source
	Microphone Source
}

// ProviderConfigFrom reads the capture sources from cfg.
func ProviderConfigFrom(cfg *config.Config) ProviderConfig {
	return ProviderConfig{
		Camera: Source{
			Video:  cfg.Capture.CameraVideo,
			Audio:  cfg.Capture.CameraAudio,
			Poster: cfg.Capture.CameraPoster,
			Loop:   true,
		},
		Screen: Source{
			Video:  cfg.Capture.ScreenVideo,
			Audio:  cfg.Capture.ScreenAudio,
			Poster: cfg.Capture.ScreenPoster,
		},
		Microphone: Source{Audio: cfg.Capture.Microphone, Loop: true},
	}
}

// FileProvider hands out file-backed captures. Each kind can be held once at a time.
type FileProvider struct {
	cfg    ProviderConfig
	logger *zap.SugaredLogger

	mu     sync.Mutex
	active map[domain.CaptureKind]*FileCapture
}

var _ ports.CaptureProvider = (*FileProvider)(nil)

// NewFileProvider creates a provider playing the configured files.
func NewFileProvider(cfg ProviderConfig, logger *zap.SugaredLogger) *FileProvider {
	return &FileProvider{
		cfg:    cfg,
		logger: logger,
		active: make(map[domain.CaptureKind]*FileCapture),
	}
}

func (p *FileProvider) AcquireCamera(ctx context.Context) (ports.Capture, error) {
	return p.acquire(ctx, domain.CaptureCamera, p.cfg.Camera, "")
}

func (p *FileProvider) AcquireScreen(ctx context.Context) (ports.Capture, error) {
	return p.acquire(ctx, domain.CaptureScreen, p.cfg.Screen, "")
}

func (p *FileProvider) AcquireMicrophone(ctx context.Context, streamID string) (ports.Capture, error) {
	src := p.cfg.Microphone
	src.Video, src.Poster = "", ""
	return p.acquire(ctx, domain.CaptureMicrophone, src, streamID)
}

func (p *FileProvider) acquire(ctx context.Context, kind domain.CaptureKind, src Source, streamID string) (ports.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if src.Video == "" && src.Audio == "" {
		return nil, fmt.Errorf("%w: no %s source configured", domain.ErrDeviceUnavailable, kind)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.active[kind]; busy {
		return nil, fmt.Errorf("%w: %s already in use", domain.ErrDeviceBusy, kind)
	}

	if streamID == "" {
		streamID = uuid.NewString()
	}
	logger := p.logger.With("capture", kind, "stream_id", streamID)

	c := &FileCapture{
		id:           streamID,
		kind:         kind,
		logger:       logger,
		ended:        make(chan struct{}),
		audioEnabled: true,
		subscribers:  make(map[int]chan media.Sample),
	}

	if src.Video != "" {
		header, err := openIVF(src.Video)
		if err != nil {
			return nil, err
		}
		mimeType, err := videoMimeType(header.FourCC)
		if err != nil {
			return nil, err
		}
		if c.video, err = webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: mimeType},
			string(kind)+"-video", streamID,
		); err != nil {
			return nil, err
		}

		if c.frame, err = loadPoster(src.Poster, kind); err != nil {
			return nil, err
		}
		c.decodeKeyframes = mimeType == webrtc.MimeTypeVP8
	}
	if src.Audio != "" {
		if err := openOgg(src.Audio); err != nil {
			return nil, err
		}
		var err error
		if c.audio, err = webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
			string(kind)+"-audio", streamID,
		); err != nil {
			return nil, err
		}
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.onStop = func() { p.release(kind, c) }
	p.active[kind] = c

	if c.video != nil {
		go c.playVideo(src.Video, src.Loop)
	}
	if c.audio != nil {
		go c.playAudio(src.Audio, src.Loop)
	}

	logger.Infow("capture started", "video", src.Video, "audio", src.Audio)
	return c, nil
}

func (p *FileProvider) release(kind domain.CaptureKind, c *FileCapture) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active[kind] == c {
		delete(p.active, kind)
	}
}

func videoMimeType(fourCC string) (string, error) {
	switch fourCC {
	case "VP80":
		return webrtc.MimeTypeVP8, nil
	case "VP90":
		return webrtc.MimeTypeVP9, nil
	}
	return "", fmt.Errorf("%w: unsupported IVF codec %q", domain.ErrDeviceUnavailable, fourCC)
}

// loadPoster returns the preview frame compositing uses for this capture.
func loadPoster(path string, kind domain.CaptureKind) (image.Image, error) {
	if path == "" {
		fill := color.NRGBA{R: 0x20, G: 0x80, B: 0xc0, A: 0xff}
		if kind == domain.CaptureScreen {
			fill = color.NRGBA{R: 0xf0, G: 0xf0, B: 0xf0, A: 0xff}
		}
		return imaging.New(1280, 720, fill), nil
	}

	file, err := openSource(path)
	if err != nil {
		return nil, err
	}
	file.Close()

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: poster %s: %v", domain.ErrDeviceUnavailable, path, err)
	}
	return img, nil
}
