package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
	"roomcast/pkg/tracing"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type CompositorConfig struct {
	Width         int
	Height        int
	FrameRate     float64
	ChunkInterval time.Duration
	// MimeTypes is the ordered list of acceptable output encodings.
	MimeTypes []string
	// PiPRatio is the inset width as a fraction of the frame width.
	PiPRatio float64
}

// DefaultCompositorConfig returns a 1280x720 30fps layout with one second chunks.
func DefaultCompositorConfig() CompositorConfig {
	return CompositorConfig{
		Width:         1280,
		Height:        720,
		FrameRate:     30,
		ChunkInterval: time.Second,
		MimeTypes:     []string{"video/webm;codecs=vp9,opus", "video/webm;codecs=vp8,opus", "video/x-matroska;codecs=mjpeg,opus"},
		PiPRatio:      0.25,
	}
}

// CompositorSources exposes the live captures a recording draws from.
// *BroadcastState satisfies it.
type CompositorSources interface {
	Camera() ports.Capture
	Screen() ports.Capture
	AudioSource() ports.Capture
}

// RecordingResult is what a finished recording produced.
type RecordingResult struct {
	Artifact *domain.Artifact
	URL      string
}

var pipBorderColor = color.NRGBA{R: 0x1a, G: 0x1a, B: 0x1a, A: 0xff}

const (
	pipBorder = 4
	pipMargin = 16
)

// Compositor records the presenter's captures into a single artifact: screen full frame
// when shared, camera otherwise, and the camera as a bottom-right inset when both are live.
type Compositor struct {
	cfg      CompositorConfig
	encoders ports.StreamEncoderFactory
	uploader ports.Uploader
	metrics  ports.ClientMetrics
	logger   *zap.SugaredLogger

	mu        sync.Mutex
	state     domain.RecorderState
	active    *recording
	observers []func(domain.RecorderState)
	onAbort   func(error)
}

type recording struct {
	session *domain.RecordingSession
	sources CompositorSources
	encoder ports.StreamEncoder
	buffer  *chunkBuffer
	canvas  *image.NRGBA

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewCompositor creates an idle compositor.
func NewCompositor(cfg CompositorConfig, encoders ports.StreamEncoderFactory, uploader ports.Uploader, metrics ports.ClientMetrics, logger *zap.SugaredLogger) *Compositor {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Compositor{
		cfg:      cfg,
		encoders: encoders,
		uploader: uploader,
		metrics:  metrics,
		logger:   logger,
		state:    domain.RecorderIdle,
	}
}

// OnAbort registers the callback run when a recording fails mid-way.
func (c *Compositor) OnAbort(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAbort = fn
}

// Subscribe registers fn for every recorder state change.
func (c *Compositor) Subscribe(fn func(domain.RecorderState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// State returns the current recorder state.
func (c *Compositor) State() domain.RecorderState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the active recording session, nil when idle.
func (c *Compositor) Session() *domain.RecordingSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil
	}
	s := *c.active.session
	s.Chunks = c.active.buffer.Chunks()
	return &s
}

// Start begins a recording. Room status gating is the caller's job; Start itself
// requires an idle recorder and at least one live video capture.
func (c *Compositor) Start(roomID domain.RoomID, sources CompositorSources) error {
	c.mu.Lock()
	if c.state != domain.RecorderIdle {
		c.mu.Unlock()
		return domain.ErrAlreadyRecording
	}
	if sources.Camera() == nil && sources.Screen() == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: no active capture", domain.ErrPreconditionFailed)
	}

	buffer := newChunkBuffer()
	encoder, err := c.encoders.NewStreamEncoder(buffer, ports.EncodeSpec{
		Width:     c.cfg.Width,
		Height:    c.cfg.Height,
		FrameRate: c.cfg.FrameRate,
		MimeTypes: c.cfg.MimeTypes,
		Audio:     true,
	})
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("create stream encoder: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	rec := &recording{
		session: &domain.RecordingSession{
			ID:        uuid.NewString(),
			RoomID:    roomID,
			MimeType:  encoder.MimeType(),
			StartedAt: time.Now(),
		},
		sources: sources,
		encoder: encoder,
		buffer:  buffer,
		canvas:  image.NewNRGBA(image.Rect(0, 0, c.cfg.Width, c.cfg.Height)),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.active = rec
	c.state = domain.RecorderRecording
	observers := c.copyObserversLocked()
	c.mu.Unlock()

	c.logger.Infow("Recording started",
		"room_id", roomID,
		"recording_id", rec.session.ID,
		"mime_type", rec.session.MimeType,
	)
	notifyState(observers, domain.RecorderRecording)

	go c.run(runCtx, rec)
	return nil
}

// Stop ends the recording, flushes the encoder, assembles the artifact and uploads it.
// The recorder reports uploading until the upload returns.
func (c *Compositor) Stop(ctx context.Context) (*RecordingResult, error) {
	c.mu.Lock()
	rec := c.active
	if c.state != domain.RecorderRecording || rec == nil {
		c.mu.Unlock()
		return nil, domain.ErrNotRecording
	}
	c.state = domain.RecorderUploading
	observers := c.copyObserversLocked()
	c.mu.Unlock()
	notifyState(observers, domain.RecorderUploading)

	ctx, span := tracing.StartSpan(ctx, "recording.finalize")
	defer span.End()
	defer tracing.MeasureDuration(ctx, time.Now(), "recording.finalize")

	rec.cancel()
	<-rec.done

	result, err := c.finalize(ctx, rec)
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	c.metrics.RecordingFinished(time.Since(rec.session.StartedAt), err)

	c.mu.Lock()
	c.active = nil
	c.state = domain.RecorderIdle
	observers = c.copyObserversLocked()
	c.mu.Unlock()
	notifyState(observers, domain.RecorderIdle)

	if err != nil {
		return nil, err
	}
	tracing.AddSpanAttributes(ctx,
		tracing.MimeTypeKey.String(result.Artifact.MimeType),
		attribute.Int("recording.chunks", result.Artifact.ChunkCount),
		tracing.BytesKey.Int(len(result.Artifact.Data)),
	)
	return result, nil
}

func (c *Compositor) finalize(ctx context.Context, rec *recording) (*RecordingResult, error) {
	if rec.err != nil {
		return nil, fmt.Errorf("recording failed: %w", rec.err)
	}
	if err := rec.encoder.Close(); err != nil {
		return nil, fmt.Errorf("flush encoder: %w", err)
	}
	rec.buffer.Cut(time.Now())

	rec.session.StoppedAt = time.Now()
	rec.session.Chunks = rec.buffer.Chunks()

	artifact := assemble(rec.session)
	c.logger.Infow("Recording finalized",
		"recording_id", rec.session.ID,
		"chunks", artifact.ChunkCount,
		"bytes", len(artifact.Data),
		"duration", artifact.Duration(),
	)

	url, err := c.uploader.Upload(ctx, artifact)
	if err != nil {
		return nil, fmt.Errorf("upload recording: %w", err)
	}
	return &RecordingResult{Artifact: artifact, URL: url}, nil
}

func (c *Compositor) run(ctx context.Context, rec *recording) {
	defer close(rec.done)

	frameEvery := time.Duration(float64(time.Second) / c.cfg.FrameRate)
	frames := time.NewTicker(frameEvery)
	defer frames.Stop()
	flush := time.NewTicker(c.cfg.ChunkInterval)
	defer flush.Stop()

	var (
		audioSrc   ports.Capture
		audio      <-chan media.Sample
		unsubAudio = func() {}
	)
	defer func() { unsubAudio() }()

	start := rec.session.StartedAt
	for {
		// Audio follows the best source, which changes when the camera toggles.
		if src := rec.sources.AudioSource(); src != audioSrc {
			unsubAudio()
			audioSrc, audio, unsubAudio = src, nil, func() {}
			if src != nil {
				audio, unsubAudio = src.SubscribeAudio()
			}
		}

		select {
		case <-ctx.Done():
			return

		case <-frames.C:
			c.compose(rec)
			if err := rec.encoder.EncodeFrame(rec.canvas, time.Since(start)); err != nil {
				c.abort(rec, fmt.Errorf("encode frame: %w", err))
				return
			}

		case sample, ok := <-audio:
			if !ok {
				audio = nil
				continue
			}
			if err := rec.encoder.WriteAudio(sample.Data, time.Since(start)); err != nil {
				c.abort(rec, fmt.Errorf("encode audio: %w", err))
				return
			}

		case now := <-flush.C:
			if n := rec.buffer.Cut(now); n > 0 {
				c.metrics.ChunkFlushed(n)
			}
		}
	}
}

// abort ends a failed recording without touching the broadcast.
func (c *Compositor) abort(rec *recording, err error) {
	rec.err = err
	rec.encoder.Close()
	c.logger.Errorw("Recording aborted", "recording_id", rec.session.ID, "error", err)

	c.mu.Lock()
	if c.active != rec || c.state != domain.RecorderRecording {
		// Stop is already waiting on this recording and reports the error.
		c.mu.Unlock()
		return
	}
	c.active = nil
	c.state = domain.RecorderIdle
	onAbort := c.onAbort
	observers := c.copyObserversLocked()
	c.mu.Unlock()

	c.metrics.RecordingFinished(time.Since(rec.session.StartedAt), err)
	notifyState(observers, domain.RecorderIdle)
	if onAbort != nil {
		onAbort(err)
	}
}

// compose draws one frame onto the recording canvas.
func (c *Compositor) compose(rec *recording) {
	canvas := rec.canvas
	bounds := canvas.Bounds()
	draw.Draw(canvas, bounds, image.Black, image.Point{}, draw.Src)

	camera, screen := rec.sources.Camera(), rec.sources.Screen()
	primary := camera
	if screen != nil {
		primary = screen
	}
	if primary == nil {
		return
	}
	if frame := primary.Frame(); frame != nil {
		full := imaging.Resize(frame, bounds.Dx(), bounds.Dy(), imaging.Linear)
		draw.Draw(canvas, bounds, full, image.Point{}, draw.Src)
	}

	if camera == nil || screen == nil {
		return
	}
	frame := camera.Frame()
	if frame == nil {
		return
	}
	inset := PiPRect(bounds, c.cfg.PiPRatio)
	border := inset.Inset(-pipBorder)
	draw.Draw(canvas, border, &image.Uniform{C: pipBorderColor}, image.Point{}, draw.Src)
	thumb := imaging.Fill(frame, inset.Dx(), inset.Dy(), imaging.Center, imaging.Linear)
	draw.Draw(canvas, inset, thumb, image.Point{}, draw.Src)
}

// PiPRect returns the bottom-right 16:9 inset for a frame.
func PiPRect(frame image.Rectangle, ratio float64) image.Rectangle {
	w := int(float64(frame.Dx()) * ratio)
	h := w * 9 / 16
	corner := image.Pt(frame.Max.X-pipMargin, frame.Max.Y-pipMargin)
	return image.Rectangle{Min: corner.Sub(image.Pt(w, h)), Max: corner}
}

func (c *Compositor) copyObserversLocked() []func(domain.RecorderState) {
	return append(([]func(domain.RecorderState))(nil), c.observers...)
}

func notifyState(observers []func(domain.RecorderState), state domain.RecorderState) {
	for _, fn := range observers {
		fn(state)
	}
}

// assemble concatenates chunks in arrival order into one artifact.
func assemble(session *domain.RecordingSession) *domain.Artifact {
	size := 0
	for _, chunk := range session.Chunks {
		size += len(chunk.Data)
	}
	data := make([]byte, 0, size)
	for _, chunk := range session.Chunks {
		data = append(data, chunk.Data...)
	}
	return &domain.Artifact{
		ID:         session.ID,
		RoomID:     session.RoomID,
		MimeType:   session.MimeType,
		Data:       data,
		ChunkCount: len(session.Chunks),
		StartedAt:  session.StartedAt,
		StoppedAt:  session.StoppedAt,
	}
}

// chunkBuffer collects encoder output and cuts it into timestamped chunks.
type chunkBuffer struct {
	mu      sync.Mutex
	pending bytes.Buffer
	chunks  []domain.Chunk
}

func newChunkBuffer() *chunkBuffer {
	return &chunkBuffer{}
}

func (b *chunkBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending.Write(p)
}

// Cut moves pending bytes into a new chunk and returns its size. Empty intervals
// produce no chunk.
func (b *chunkBuffer) Cut(at time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.pending.Len()
	if n == 0 {
		return 0
	}
	data := make([]byte, n)
	copy(data, b.pending.Bytes())
	b.pending.Reset()
	b.chunks = append(b.chunks, domain.Chunk{
		Index:     len(b.chunks),
		Data:      data,
		Timestamp: at,
	})
	return n
}

func (b *chunkBuffer) Chunks() []domain.Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Chunk(nil), b.chunks...)
}
