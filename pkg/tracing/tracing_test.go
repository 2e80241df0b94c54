package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "roomcast", cfg.ServiceName)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestTraceRelayMessage_Attributes(t *testing.T) {
	recorder := withRecorder(t)

	_, span := TraceRelayMessage(context.Background(), "offer", "room-1", "conn-a")
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "relay.offer", ended[0].Name())

	attrs := map[string]string{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "room-1", attrs["room.id"])
	assert.Equal(t, "conn-a", attrs["peer.id"])
	assert.Equal(t, "offer", attrs["message.type"])
}

func TestAddSpanAttributes_RecordingSpan(t *testing.T) {
	recorder := withRecorder(t)

	ctx, span := TraceRecording(context.Background(), "finalize", "room-1")
	AddSpanAttributes(ctx, MimeTypeKey.String("video/x-matroska"), BytesKey.Int(42))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	attrs := map[string]string{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "video/x-matroska", attrs["recording.mime_type"])
	assert.Equal(t, "42", attrs["bytes"])
	assert.Equal(t, "finalize", attrs["recording.stage"])
}

func TestRecordError_SetsStatus(t *testing.T) {
	recorder := withRecorder(t)

	ctx, span := TraceRecording(context.Background(), "upload", "room-1")
	RecordError(ctx, errors.New("bucket missing"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "recording.upload", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "bucket missing", ended[0].Status().Description)
}

func TestSpanHelpers_NoProvider(t *testing.T) {
	ctx, span := TraceWebRTC(context.Background(), "offer", "peer-1", "stream-1")
	defer span.End()

	AddSpanAttributes(ctx, BytesKey.Int(12))
	RecordError(ctx, errors.New("ignored"))

	_, storeSpan := TraceStoreOperation(ctx, "get", "memory")
	storeSpan.End()
}
