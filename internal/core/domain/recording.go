package domain

import (
	"strings"
	"time"
)

type RecorderState string

const (
	RecorderIdle      RecorderState = "idle"
	RecorderRecording RecorderState = "recording"
	RecorderUploading RecorderState = "uploading"
)

// Chunk is one flush interval worth of encoded output.
type Chunk struct {
	Index     int
	Data      []byte
	Timestamp time.Time
}

// RecordingSession lives between a start and its matching stop on the presenter.
type RecordingSession struct {
	ID        string
	RoomID    RoomID
	MimeType  string
	StartedAt time.Time
	StoppedAt time.Time
	Chunks    []Chunk
}

// Artifact is the finalized recording handed to the upload collaborator.
type Artifact struct {
	ID         string
	RoomID     RoomID
	MimeType   string
	Data       []byte
	ChunkCount int
	StartedAt  time.Time
	StoppedAt  time.Time
}

func (a *Artifact) Duration() time.Duration {
	return a.StoppedAt.Sub(a.StartedAt)
}

// Extension returns a file extension for the artifact's container.
func (a *Artifact) Extension() string {
	if strings.HasPrefix(a.MimeType, "video/x-matroska") {
		return ".mkv"
	}
	return ".webm"
}
