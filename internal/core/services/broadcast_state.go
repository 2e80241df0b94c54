package services

import (
	"context"
	"fmt"
	"sync"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// BroadcastReason names the action behind a broadcast change.
type BroadcastReason string

const (
	ReasonCameraStarted BroadcastReason = "camera-started"
	ReasonCameraStopped BroadcastReason = "camera-stopped"
	ReasonScreenStarted BroadcastReason = "screen-started"
	ReasonScreenStopped BroadcastReason = "screen-stopped"
	ReasonScreenEnded   BroadcastReason = "screen-ended"
	ReasonAllStopped    BroadcastReason = "all-stopped"
)

// BroadcastChange is published after every capture transition.
type BroadcastChange struct {
	Reason   BroadcastReason
	Mode     domain.BroadcastMode
	Metadata domain.StreamMetadata
	Tracks   []webrtc.TrackLocal
}

// BroadcastState owns the presenter's captures. The mode is derived from which captures
// are live and is never stored.
type BroadcastState struct {
	provider ports.CaptureProvider
	notifier ports.Notifier
	logger   *zap.SugaredLogger

	// transition serializes start/stop actions, including the slow acquire step.
	transition sync.Mutex

	mu     sync.RWMutex
	camera ports.Capture
	screen ports.Capture
	mic    ports.Capture
	muted  bool

	observers []func(BroadcastChange)
}

// NewBroadcastState creates an idle broadcast state that acquires captures from provider.
func NewBroadcastState(provider ports.CaptureProvider, notifier ports.Notifier, logger *zap.SugaredLogger) *BroadcastState {
	return &BroadcastState{
		provider: provider,
		notifier: notifier,
		logger:   logger,
	}
}

// StartCamera acquires the camera and publishes the new track set.
func (b *BroadcastState) StartCamera(ctx context.Context) error {
	b.transition.Lock()
	defer b.transition.Unlock()

	if b.Camera() != nil {
		return nil
	}

	capture, err := b.provider.AcquireCamera(ctx)
	if err != nil {
		return fmt.Errorf("acquire camera: %w", err)
	}

	b.mu.Lock()
	b.camera = capture
	capture.SetAudioEnabled(!b.muted)
	mic := b.mic
	b.mic = nil
	b.mu.Unlock()

	// Camera carries its own audio from now on.
	if mic != nil {
		mic.Stop()
	}

	b.logger.Infow("Camera started", "stream_id", capture.ID())
	b.publish(ReasonCameraStarted)
	return nil
}

// StopCamera releases the camera and publishes the new track set.
func (b *BroadcastState) StopCamera(ctx context.Context) error {
	b.transition.Lock()
	defer b.transition.Unlock()

	b.mu.Lock()
	camera := b.camera
	b.camera = nil
	screen := b.screen
	b.mu.Unlock()

	if camera == nil {
		return nil
	}
	camera.Stop()

	if screen != nil && screen.AudioTrack() == nil {
		b.attachMicrophone(ctx, screen)
	}

	b.logger.Infow("Camera stopped", "stream_id", camera.ID())
	b.publish(ReasonCameraStopped)
	return nil
}

// StartScreenShare acquires the screen. Without a camera or screen audio it also
// attaches an auxiliary microphone.
func (b *BroadcastState) StartScreenShare(ctx context.Context) error {
	b.transition.Lock()
	defer b.transition.Unlock()

	if b.Screen() != nil {
		return nil
	}

	capture, err := b.provider.AcquireScreen(ctx)
	if err != nil {
		return fmt.Errorf("acquire screen: %w", err)
	}

	b.mu.Lock()
	b.screen = capture
	hasCamera := b.camera != nil
	b.mu.Unlock()

	if !hasCamera && capture.AudioTrack() == nil {
		b.attachMicrophone(ctx, capture)
	}

	go b.watchScreen(capture)

	b.logger.Infow("Screen share started", "stream_id", capture.ID())
	b.publish(ReasonScreenStarted)
	return nil
}

// StopScreenShare releases the screen and any auxiliary microphone.
func (b *BroadcastState) StopScreenShare(ctx context.Context) error {
	b.transition.Lock()
	defer b.transition.Unlock()

	if !b.releaseScreen(nil) {
		return nil
	}
	b.publish(ReasonScreenStopped)
	return nil
}

// StopAll releases every capture and publishes a single change.
func (b *BroadcastState) StopAll() {
	b.transition.Lock()
	defer b.transition.Unlock()

	b.mu.Lock()
	captures := []ports.Capture{b.camera, b.screen, b.mic}
	b.camera, b.screen, b.mic = nil, nil, nil
	b.mu.Unlock()

	stopped := false
	for _, c := range captures {
		if c != nil {
			c.Stop()
			stopped = true
		}
	}
	if stopped {
		b.publish(ReasonAllStopped)
	}
}

// watchScreen turns a capture that ends on its own into a regular stop.
func (b *BroadcastState) watchScreen(capture ports.Capture) {
	<-capture.Ended()

	b.transition.Lock()
	defer b.transition.Unlock()

	if !b.releaseScreen(capture) {
		return
	}
	b.logger.Infow("Screen share ended outside the app", "stream_id", capture.ID())
	b.publish(ReasonScreenEnded)
}

// releaseScreen stops the screen capture and its auxiliary microphone. When expected is
// set, nothing happens unless it is still the active screen capture.
func (b *BroadcastState) releaseScreen(expected ports.Capture) bool {
	b.mu.Lock()
	screen := b.screen
	if screen == nil || (expected != nil && screen != expected) {
		b.mu.Unlock()
		return false
	}
	mic := b.mic
	b.screen, b.mic = nil, nil
	b.mu.Unlock()

	screen.Stop()
	if mic != nil {
		mic.Stop()
	}
	return true
}

// attachMicrophone acquires the auxiliary microphone on the screen stream. Failure keeps
// the screen share running without audio.
func (b *BroadcastState) attachMicrophone(ctx context.Context, screen ports.Capture) {
	mic, err := b.provider.AcquireMicrophone(ctx, screen.ID())
	if err != nil {
		b.logger.Warnw("Failed to acquire microphone for screen share", "error", err)
		if b.notifier != nil {
			b.notifier.Notify(ports.Notification{
				Level:   ports.NotifyWarning,
				Message: "Screen share is running without audio",
				Err:     err,
			})
		}
		return
	}

	b.mu.Lock()
	mic.SetAudioEnabled(!b.muted)
	b.mic = mic
	b.mu.Unlock()
}

// SetMuted toggles the outgoing audio of the camera and the auxiliary microphone.
func (b *BroadcastState) SetMuted(muted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.muted = muted
	for _, c := range []ports.Capture{b.camera, b.mic} {
		if c != nil {
			c.SetAudioEnabled(!muted)
		}
	}
}

func (b *BroadcastState) Muted() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.muted
}

// Mode derives the broadcast mode from the active captures.
func (b *BroadcastState) Mode() domain.BroadcastMode {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return domain.DeriveMode(b.camera != nil, b.screen != nil)
}

// Active reports whether any video capture is live.
func (b *BroadcastState) Active() bool {
	return b.Mode() != domain.ModeIdle
}

func (b *BroadcastState) Camera() ports.Capture {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.camera
}

func (b *BroadcastState) Screen() ports.Capture {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.screen
}

// Metadata maps the active captures to their stream roles.
func (b *BroadcastState) Metadata() domain.StreamMetadata {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.metadataLocked()
}

func (b *BroadcastState) metadataLocked() domain.StreamMetadata {
	var meta domain.StreamMetadata
	if b.screen != nil {
		meta.ScreenStreamID = b.screen.ID()
	}
	if b.camera != nil {
		meta.CameraStreamID = b.camera.ID()
	}
	return meta
}

// Tracks returns the set of tracks every viewer link must carry right now.
func (b *BroadcastState) Tracks() []webrtc.TrackLocal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tracksLocked()
}

func (b *BroadcastState) tracksLocked() []webrtc.TrackLocal {
	var tracks []webrtc.TrackLocal
	for _, c := range []ports.Capture{b.camera, b.screen, b.mic} {
		if c == nil {
			continue
		}
		if t := c.VideoTrack(); t != nil {
			tracks = append(tracks, t)
		}
		if t := c.AudioTrack(); t != nil {
			tracks = append(tracks, t)
		}
	}
	return tracks
}

// AudioSource returns the capture the recording takes its audio from: camera audio
// when present, else the screen's own audio, else the auxiliary microphone.
func (b *BroadcastState) AudioSource() ports.Capture {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range []ports.Capture{b.camera, b.screen, b.mic} {
		if c != nil && c.AudioTrack() != nil {
			return c
		}
	}
	return nil
}

// Subscribe registers fn for every transition.
func (b *BroadcastState) Subscribe(fn func(BroadcastChange)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, fn)
}

func (b *BroadcastState) publish(reason BroadcastReason) {
	b.mu.RLock()
	change := BroadcastChange{
		Reason:   reason,
		Mode:     domain.DeriveMode(b.camera != nil, b.screen != nil),
		Metadata: b.metadataLocked(),
		Tracks:   b.tracksLocked(),
	}
	observers := append(([]func(BroadcastChange))(nil), b.observers...)
	b.mu.RUnlock()

	for _, fn := range observers {
		fn(change)
	}
}
