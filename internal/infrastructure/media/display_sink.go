package media

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"
	"go.uber.org/zap"
)

type rtpWriter interface {
	WriteRTP(pkt *rtp.Packet) error
	Close() error
}

// slotOutput holds the files one display slot writes to for its current stream.
type slotOutput struct {
	streamID string
	segment  int
	video    rtpWriter
	audio    rtpWriter

	// waitKeyframe drops video until the first keyframe so the file starts decodable.
	waitKeyframe bool
	failed       bool
}

// FileDisplaySink renders each display slot into files: VP8 video as IVF and Opus
// audio as Ogg. A new file pair starts whenever a slot is routed to another stream,
// numbered so a stream routed back into a slot never overwrites its earlier files.
type FileDisplaySink struct {
	dir       string
	videoMime string
	logger    *zap.SugaredLogger

	mu       sync.Mutex
	slots    map[domain.StreamRole]*slotOutput
	segments map[string]int
	closed   bool
}

var _ ports.DisplaySink = (*FileDisplaySink)(nil)

// NewFileDisplaySink creates a sink writing into dir.
func NewFileDisplaySink(dir string, logger *zap.SugaredLogger) (*FileDisplaySink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create display directory: %w", err)
	}
	return &FileDisplaySink{
		dir:       dir,
		videoMime: webrtc.MimeTypeVP8,
		logger:    logger,
		slots:     make(map[domain.StreamRole]*slotOutput),
		segments:  make(map[string]int),
	}, nil
}

// Route switches role to streamID, closing the files of the previous stream.
func (s *FileDisplaySink) Route(role domain.StreamRole, streamID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	current := s.slots[role]
	if current != nil && current.streamID == streamID {
		return
	}
	if current != nil {
		s.closeSlot(role, current)
	}
	if streamID == "" {
		delete(s.slots, role)
		return
	}
	key := string(role) + "/" + streamID
	s.segments[key]++
	s.slots[role] = &slotOutput{streamID: streamID, segment: s.segments[key], waitKeyframe: true}
	s.logger.Infow("display slot routed", "slot", role, "stream_id", streamID, "segment", s.segments[key])
}

// WriteRTP writes pkt to the files of the stream routed to role.
func (s *FileDisplaySink) WriteRTP(role domain.StreamRole, kind webrtc.RTPCodecType, pkt *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return os.ErrClosed
	}

	slot := s.slots[role]
	if slot == nil {
		return fmt.Errorf("slot %s is not routed", role)
	}
	if slot.failed {
		return fmt.Errorf("slot %s output failed", role)
	}

	switch kind {
	case webrtc.RTPCodecTypeVideo:
		if slot.waitKeyframe {
			if !IsKeyframe(s.videoMime, pkt) {
				return nil
			}
			slot.waitKeyframe = false
		}
		if slot.video == nil {
			w, err := ivfwriter.New(s.path(role, slot, ".ivf"))
			if err != nil {
				slot.failed = true
				return fmt.Errorf("open video output: %w", err)
			}
			slot.video = w
		}
		return slot.video.WriteRTP(pkt)

	case webrtc.RTPCodecTypeAudio:
		if slot.audio == nil {
			w, err := oggwriter.New(s.path(role, slot, ".ogg"), 48000, 2)
			if err != nil {
				slot.failed = true
				return fmt.Errorf("open audio output: %w", err)
			}
			slot.audio = w
		}
		return slot.audio.WriteRTP(pkt)
	}
	return fmt.Errorf("unsupported track kind %s", kind)
}

func (s *FileDisplaySink) path(role domain.StreamRole, slot *slotOutput, ext string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-%s-%d%s", role, slot.streamID, slot.segment, ext))
}

func (s *FileDisplaySink) closeSlot(role domain.StreamRole, slot *slotOutput) {
	for _, w := range []rtpWriter{slot.video, slot.audio} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil {
			s.logger.Warnw("failed to close display output", "slot", role, "stream_id", slot.streamID, "error", err)
		}
	}
}

func (s *FileDisplaySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for role, slot := range s.slots {
		s.closeSlot(role, slot)
	}
	s.slots = nil
	return nil
}
