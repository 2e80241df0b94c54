package domain

// StreamRole is the logical display slot a media stream belongs to.
type StreamRole string

const (
	StreamScreen StreamRole = "screen"
	StreamCamera StreamRole = "camera"
)

// SlotPriority is the order in which unmatched streams fill empty slots.
var SlotPriority = []StreamRole{StreamScreen, StreamCamera}

type CaptureKind string

const (
	CaptureCamera     CaptureKind = "camera"
	CaptureScreen     CaptureKind = "screen"
	CaptureMicrophone CaptureKind = "microphone"
)

type BroadcastMode string

const (
	ModeIdle         BroadcastMode = "idle"
	ModeCameraOnly   BroadcastMode = "camera-only"
	ModeScreenOnly   BroadcastMode = "screen-only"
	ModeCameraScreen BroadcastMode = "camera+screen"
)

// DeriveMode maps the active capture flags to a mode label. The label is informational:
// both captures may be transmitted at once.
func DeriveMode(camera, screen bool) BroadcastMode {
	switch {
	case camera && screen:
		return ModeCameraScreen
	case camera:
		return ModeCameraOnly
	case screen:
		return ModeScreenOnly
	default:
		return ModeIdle
	}
}

// Label returns the primary broadcast label: screen wins over camera.
func (m BroadcastMode) Label() string {
	switch m {
	case ModeScreenOnly, ModeCameraScreen:
		return "screen"
	case ModeCameraOnly:
		return "camera"
	default:
		return "none"
	}
}

// StreamMetadata maps logical roles to the stream ids currently carrying them.
type StreamMetadata struct {
	ScreenStreamID string `json:"screenStreamId,omitempty"`
	CameraStreamID string `json:"cameraStreamId,omitempty"`
}

// StreamFor returns the stream id announced for role.
func (m StreamMetadata) StreamFor(role StreamRole) string {
	switch role {
	case StreamScreen:
		return m.ScreenStreamID
	case StreamCamera:
		return m.CameraStreamID
	}
	return ""
}

// RoleFor returns the role whose announced stream id equals id.
func (m StreamMetadata) RoleFor(id string) (StreamRole, bool) {
	if id == "" {
		return "", false
	}
	if id == m.ScreenStreamID {
		return StreamScreen, true
	}
	if id == m.CameraStreamID {
		return StreamCamera, true
	}
	return "", false
}
