package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
	"roomcast/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// RecordingKey is the object key of an artifact: <prefix>/<room>/<date>/<id><ext>.
func RecordingKey(prefix string, roomID domain.RoomID, id, mimeType string, at time.Time) string {
	artifact := domain.Artifact{MimeType: mimeType}
	return path.Join(strings.Trim(prefix, "/"), string(roomID), at.UTC().Format("2006-01-02"), id+artifact.Extension())
}

// ObjectUploader uploads artifacts straight into an ObjectStore.
type ObjectUploader struct {
	store  ObjectStore
	prefix string
	logger *zap.SugaredLogger
}

var _ ports.Uploader = (*ObjectUploader)(nil)

// NewObjectUploader creates an uploader storing recordings under prefix.
func NewObjectUploader(store ObjectStore, prefix string, logger *zap.SugaredLogger) *ObjectUploader {
	return &ObjectUploader{store: store, prefix: prefix, logger: logger}
}

func (u *ObjectUploader) Upload(ctx context.Context, artifact *domain.Artifact) (string, error) {
	ctx, span := tracing.TraceRecording(ctx, "upload", string(artifact.RoomID))
	defer span.End()

	key := RecordingKey(u.prefix, artifact.RoomID, artifact.ID, artifact.MimeType, artifact.StartedAt)
	tracing.AddSpanAttributes(ctx,
		attribute.String("storage.key", key),
		tracing.MimeTypeKey.String(artifact.MimeType),
		tracing.BytesKey.Int(len(artifact.Data)),
	)

	if err := u.store.Put(ctx, key, bytes.NewReader(artifact.Data), int64(len(artifact.Data)), artifact.MimeType); err != nil {
		tracing.RecordError(ctx, err)
		return "", err
	}

	url, err := u.store.URL(ctx, key)
	if err != nil {
		tracing.RecordError(ctx, err)
		return "", fmt.Errorf("recording stored at %s but has no URL: %w", key, err)
	}

	u.logger.Infow("recording uploaded",
		"room_id", artifact.RoomID,
		"recording_id", artifact.ID,
		"key", key,
		"bytes", len(artifact.Data),
	)
	return url, nil
}
