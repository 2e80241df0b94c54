package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Levels(t *testing.T) {
	assert.True(t, New("debug").Core().Enabled(zapcore.DebugLevel))
	assert.False(t, New("info").Core().Enabled(zapcore.DebugLevel))
	assert.False(t, New("error").Core().Enabled(zapcore.WarnLevel))
	assert.True(t, New("bogus").Core().Enabled(zapcore.InfoLevel))
}

func TestContextLogger_AddsContextFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	cl := NewContextLogger(zap.New(core))

	ctx := WithRoomID(context.Background(), "room-1")
	ctx = WithParticipantID(ctx, "p-7")
	cl.Sugar(ctx).Infow("joined", "role", "viewer")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "room-1", fields["room_id"])
		assert.Equal(t, "p-7", fields["participant_id"])
		assert.Equal(t, "viewer", fields["role"])
		assert.NotContains(t, fields, "trace_id")
	}
}

func TestContextLogger_EmptyContext(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)
	cl := NewContextLogger(base)

	assert.Same(t, base, cl.WithContext(context.Background()))
	cl.LogRequest(context.Background(), "GET", "/health", 200, 3)
	assert.Equal(t, 1, logs.FilterMessage("http_request").Len())
}
