package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"roomcast/internal/core/ports"

	"github.com/at-wat/ebml-go/mkvcore"
	"github.com/at-wat/ebml-go/webm"
	"github.com/disintegration/imaging"
)

const (
	MimeMatroskaMJPEG = "video/x-matroska;codecs=mjpeg,opus"

	muxerCloseTimeout = 5 * time.Second
)

var errEncoderClosed = errors.New("encoder closed")

// notifyCloser lets Close wait until the muxer has written its last block.
type notifyCloser struct {
	w      io.Writer
	once   sync.Once
	closed chan struct{}
}

func (n *notifyCloser) Write(p []byte) (int, error) { return n.w.Write(p) }

func (n *notifyCloser) Close() error {
	n.once.Do(func() { close(n.closed) })
	return nil
}

// MJPEGEncoder writes composited frames as JPEG blocks and Opus audio blocks into a
// Matroska stream.
type MJPEGEncoder struct {
	mu      sync.Mutex
	quality int
	sink    *notifyCloser
	video   webm.BlockWriteCloser
	audio   webm.BlockWriteCloser
	buf     bytes.Buffer
	closed  bool
}

// NewMJPEGEncoder writes a Matroska stream with MJPEG video and Opus audio to w.
func NewMJPEGEncoder(w io.Writer, spec ports.EncodeSpec, quality int) (*MJPEGEncoder, error) {
	if spec.Width <= 0 || spec.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", spec.Width, spec.Height)
	}
	if quality < 1 || quality > 100 {
		quality = 80
	}
	frameDuration := uint64(time.Second / 30)
	if spec.FrameRate > 0 {
		frameDuration = uint64(float64(time.Second) / spec.FrameRate)
	}

	tracks := []webm.TrackEntry{{
		Name:            "Video",
		TrackNumber:     1,
		TrackUID:        1,
		CodecID:         "V_MJPEG",
		TrackType:       1,
		DefaultDuration: frameDuration,
		Video: &webm.Video{
			PixelWidth:  uint64(spec.Width),
			PixelHeight: uint64(spec.Height),
		},
	}}
	if spec.Audio {
		tracks = append(tracks, webm.TrackEntry{
			Name:            "Audio",
			TrackNumber:     2,
			TrackUID:        2,
			CodecID:         "A_OPUS",
			TrackType:       2,
			DefaultDuration: uint64(20 * time.Millisecond),
			Audio: &webm.Audio{
				SamplingFrequency: 48000.0,
				Channels:          2,
			},
		})
	}

	sink := &notifyCloser{w: w, closed: make(chan struct{})}
	writers, err := webm.NewSimpleBlockWriter(sink, tracks,
		mkvcore.WithEBMLHeader(&webm.EBMLHeader{
			EBMLVersion:        1,
			EBMLReadVersion:    1,
			EBMLMaxIDLength:    4,
			EBMLMaxSizeLength:  8,
			DocType:            "matroska",
			DocTypeVersion:     4,
			DocTypeReadVersion: 2,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start matroska muxer: %w", err)
	}

	enc := &MJPEGEncoder{quality: quality, sink: sink, video: writers[0]}
	if spec.Audio {
		enc.audio = writers[1]
	}
	return enc, nil
}

func (e *MJPEGEncoder) MimeType() string { return MimeMatroskaMJPEG }

func (e *MJPEGEncoder) EncodeFrame(img image.Image, ts time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errEncoderClosed
	}

	e.buf.Reset()
	if err := imaging.Encode(&e.buf, img, imaging.JPEG, imaging.JPEGQuality(e.quality)); err != nil {
		return fmt.Errorf("jpeg encode: %w", err)
	}
	frame := append([]byte(nil), e.buf.Bytes()...)
	if _, err := e.video.Write(true, ts.Milliseconds(), frame); err != nil {
		return fmt.Errorf("write video block: %w", err)
	}
	return nil
}

// WriteAudio muxes one Opus packet. Without an audio track it is a no-op.
func (e *MJPEGEncoder) WriteAudio(data []byte, ts time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errEncoderClosed
	}
	if e.audio == nil {
		return nil
	}
	if _, err := e.audio.Write(true, ts.Milliseconds(), append([]byte(nil), data...)); err != nil {
		return fmt.Errorf("write audio block: %w", err)
	}
	return nil
}

func (e *MJPEGEncoder) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	var errs []error
	if err := e.video.Close(); err != nil {
		errs = append(errs, err)
	}
	if e.audio != nil {
		if err := e.audio.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.mu.Unlock()

	select {
	case <-e.sink.closed:
	case <-time.After(muxerCloseTimeout):
		errs = append(errs, errors.New("matroska muxer did not finish"))
	}
	return errors.Join(errs...)
}
