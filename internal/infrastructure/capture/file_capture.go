package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"sync"
	"time"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"go.uber.org/zap"
	"golang.org/x/image/vp8"
)

const (
	oggPageDuration = 20 * time.Millisecond
	audioSubscriber = 64
)

// opusSilence is a single 20ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// FileCapture plays an IVF video file and an Ogg/Opus file into local tracks, the way
// a device capture would feed them.
type FileCapture struct {
	id     string
	kind   domain.CaptureKind
	video  *webrtc.TrackLocalStaticSample
	audio  *webrtc.TrackLocalStaticSample
	logger *zap.SugaredLogger

	// decodeKeyframes refreshes frame from the VP8 key frames being played.
	decodeKeyframes bool

	ctx      context.Context
	cancel   context.CancelFunc
	ended    chan struct{}
	stopOnce sync.Once
	onStop   func()

	mu           sync.Mutex
	frame        image.Image
	audioEnabled bool
	subscribers  map[int]chan media.Sample
	nextSub      int
}

var _ ports.Capture = (*FileCapture)(nil)

func (c *FileCapture) ID() string               { return c.id }
func (c *FileCapture) Kind() domain.CaptureKind { return c.kind }
func (c *FileCapture) Ended() <-chan struct{}   { return c.ended }

// Frame returns the latest decoded key frame, or the poster until one has decoded.
func (c *FileCapture) Frame() image.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

func (c *FileCapture) VideoTrack() webrtc.TrackLocal {
	if c.video == nil {
		return nil
	}
	return c.video
}

func (c *FileCapture) AudioTrack() webrtc.TrackLocal {
	if c.audio == nil {
		return nil
	}
	return c.audio
}

func (c *FileCapture) SetAudioEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audioEnabled = enabled
}

func (c *FileCapture) audioOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audioEnabled
}

func (c *FileCapture) SubscribeAudio() (<-chan media.Sample, func()) {
	if c.audio == nil {
		return nil, func() {}
	}

	ch := make(chan media.Sample, audioSubscriber)
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = ch
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers, id)
	}
}

// fanout drops samples for subscribers that fall behind.
func (c *FileCapture) fanout(sample media.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- sample:
		default:
		}
	}
}

// Stop ends playback. It is also called when a non-looping source runs out.
func (c *FileCapture) Stop() {
	c.stopOnce.Do(func() {
		c.cancel()
		if c.onStop != nil {
			c.onStop()
		}
		close(c.ended)
		c.logger.Infow("capture stopped")
	})
}

func frameInterval(header *ivfreader.IVFFileHeader) time.Duration {
	if header.TimebaseDenominator == 0 || header.TimebaseNumerator == 0 {
		return time.Second / 30
	}
	return time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
}

func (c *FileCapture) playVideo(path string, loop bool) {
	for {
		if err := c.playVideoOnce(path); err != nil {
			if c.ctx.Err() == nil {
				c.logger.Warnw("video playback failed", "path", path, "error", err)
				c.Stop()
			}
			return
		}
		if c.ctx.Err() != nil {
			return
		}
		if !loop {
			c.Stop()
			return
		}
	}
}

func (c *FileCapture) playVideoOnce(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader, header, err := ivfreader.NewWith(file)
	if err != nil {
		return err
	}

	interval := frameInterval(header)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		frame, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		select {
		case <-c.ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := c.video.WriteSample(media.Sample{Data: frame, Duration: interval}); err != nil {
			return err
		}
		if c.decodeKeyframes {
			c.refreshFrame(frame)
		}
	}
}

// refreshFrame replaces the composited frame with frame when it is a VP8 key frame.
// Inter frames are skipped; the last key frame stands in until the next one.
func (c *FileCapture) refreshFrame(frame []byte) {
	if len(frame) < 10 || frame[0]&0x01 != 0 {
		return
	}
	img, err := decodeVP8(frame)
	if err != nil {
		c.logger.Debugw("key frame not decoded", "error", err)
		return
	}

	c.mu.Lock()
	c.frame = img
	c.mu.Unlock()
}

func decodeVP8(frame []byte) (image.Image, error) {
	d := vp8.NewDecoder()
	d.Init(bytes.NewReader(frame), len(frame))
	if _, err := d.DecodeFrameHeader(); err != nil {
		return nil, err
	}
	return d.DecodeFrame()
}

func (c *FileCapture) playAudio(path string, loop bool) {
	for {
		if err := c.playAudioOnce(path); err != nil {
			if c.ctx.Err() == nil {
				c.logger.Warnw("audio playback failed", "path", path, "error", err)
				c.Stop()
			}
			return
		}
		if c.ctx.Err() != nil {
			return
		}
		if !loop {
			// Video, when present, decides when the capture ends.
			if c.video == nil {
				c.Stop()
			}
			return
		}
	}
}

func (c *FileCapture) playAudioOnce(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader, _, err := oggreader.NewWith(file)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		page, header, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if bytes.HasPrefix(page, []byte("OpusTags")) {
			continue
		}

		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(float64(samples) / 48000 * float64(time.Second))
		if duration <= 0 {
			duration = oggPageDuration
		}

		select {
		case <-c.ctx.Done():
			return nil
		case <-ticker.C:
		}

		data := page
		if !c.audioOn() {
			data = opusSilence
		}
		sample := media.Sample{Data: data, Duration: duration}
		if err := c.audio.WriteSample(sample); err != nil {
			return err
		}
		c.fanout(sample)
	}
}

func openIVF(path string) (*ivfreader.IVFFileHeader, error) {
	file, err := openSource(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	_, header, err := ivfreader.NewWith(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not an IVF file: %v", domain.ErrDeviceUnavailable, path, err)
	}
	return header, nil
}

func openOgg(path string) error {
	file, err := openSource(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, _, err := oggreader.NewWith(file); err != nil {
		return fmt.Errorf("%w: %s is not an Ogg file: %v", domain.ErrDeviceUnavailable, path, err)
	}
	return nil
}

// openSource maps file errors onto the capture error family.
func openSource(path string) (*os.File, error) {
	file, err := os.Open(path)
	switch {
	case err == nil:
		return file, nil
	case errors.Is(err, os.ErrPermission):
		return nil, fmt.Errorf("%w: %s", domain.ErrPermissionDenied, path)
	default:
		return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}
}
