package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"roomcast/internal/core/domain"
	"roomcast/internal/testutils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newBroadcast(t *testing.T) (*BroadcastState, *testutils.FakeCaptureProvider, *testutils.RecordingNotifier) {
	provider := testutils.NewFakeCaptureProvider()
	notifier := &testutils.RecordingNotifier{}
	return NewBroadcastState(provider, notifier, zaptest.NewLogger(t).Sugar()), provider, notifier
}

func TestBroadcastState_ModesFollowCaptures(t *testing.T) {
	ctx := context.Background()
	state, _, _ := newBroadcast(t)

	assert.Equal(t, domain.ModeIdle, state.Mode())

	require.NoError(t, state.StartCamera(ctx))
	assert.Equal(t, domain.ModeCameraOnly, state.Mode())

	require.NoError(t, state.StartScreenShare(ctx))
	assert.Equal(t, domain.ModeCameraScreen, state.Mode())
	assert.Equal(t, "screen", state.Mode().Label())

	require.NoError(t, state.StopCamera(ctx))
	assert.Equal(t, domain.ModeScreenOnly, state.Mode())

	require.NoError(t, state.StopScreenShare(ctx))
	assert.Equal(t, domain.ModeIdle, state.Mode())
}

func TestBroadcastState_PublishesEveryTransition(t *testing.T) {
	ctx := context.Background()
	state, _, _ := newBroadcast(t)

	var reasons []BroadcastReason
	state.Subscribe(func(change BroadcastChange) {
		reasons = append(reasons, change.Reason)
	})

	require.NoError(t, state.StartCamera(ctx))
	require.NoError(t, state.StartCamera(ctx))
	require.NoError(t, state.StartScreenShare(ctx))
	require.NoError(t, state.StopCamera(ctx))

	assert.Equal(t, []BroadcastReason{ReasonCameraStarted, ReasonScreenStarted, ReasonCameraStopped}, reasons)
}

func TestBroadcastState_MetadataAndTracks(t *testing.T) {
	ctx := context.Background()
	state, provider, _ := newBroadcast(t)

	require.NoError(t, state.StartCamera(ctx))
	require.NoError(t, state.StartScreenShare(ctx))

	camera := provider.Last(domain.CaptureCamera)
	screen := provider.Last(domain.CaptureScreen)
	assert.Equal(t, domain.StreamMetadata{ScreenStreamID: screen.ID(), CameraStreamID: camera.ID()}, state.Metadata())

	// Camera video + camera audio + screen video; no auxiliary microphone.
	assert.Len(t, state.Tracks(), 3)
	assert.Nil(t, provider.Last(domain.CaptureMicrophone))
	assert.Equal(t, camera, state.AudioSource())
}

func TestBroadcastState_AuxiliaryMicrophone(t *testing.T) {
	ctx := context.Background()
	state, provider, _ := newBroadcast(t)

	require.NoError(t, state.StartScreenShare(ctx))
	screen := provider.Last(domain.CaptureScreen)
	mic := provider.Last(domain.CaptureMicrophone)
	require.NotNil(t, mic)
	assert.Equal(t, screen.ID(), mic.ID(), "microphone joins the screen stream")
	assert.Equal(t, mic, state.AudioSource())
	assert.Len(t, state.Tracks(), 2)

	// Camera carries its own audio: the microphone is released.
	require.NoError(t, state.StartCamera(ctx))
	assert.True(t, mic.Stopped())
	assert.Len(t, state.Tracks(), 3)

	// Camera gone while sharing: a new microphone is attached.
	require.NoError(t, state.StopCamera(ctx))
	mic2 := provider.Last(domain.CaptureMicrophone)
	require.NotSame(t, mic, mic2)
	assert.False(t, mic2.Stopped())

	require.NoError(t, state.StopScreenShare(ctx))
	assert.True(t, mic2.Stopped())
	assert.Empty(t, state.Tracks())
}

func TestBroadcastState_MicrophoneFailureKeepsScreen(t *testing.T) {
	ctx := context.Background()
	state, provider, notifier := newBroadcast(t)
	provider.Errs[domain.CaptureMicrophone] = domain.ErrDeviceUnavailable

	require.NoError(t, state.StartScreenShare(ctx))
	assert.Equal(t, domain.ModeScreenOnly, state.Mode())
	assert.Len(t, state.Tracks(), 1)
	assert.Equal(t, 1, notifier.Count("warning"))
}

func TestBroadcastState_CaptureErrors(t *testing.T) {
	ctx := context.Background()
	state, provider, _ := newBroadcast(t)
	provider.Errs[domain.CaptureCamera] = domain.ErrPermissionDenied

	err := state.StartCamera(ctx)
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied))
	assert.Equal(t, domain.ModeIdle, state.Mode())

	// The same action can be retried once access is granted.
	delete(provider.Errs, domain.CaptureCamera)
	require.NoError(t, state.StartCamera(ctx))
	assert.Equal(t, domain.ModeCameraOnly, state.Mode())
}

func TestBroadcastState_ScreenEndedExternally(t *testing.T) {
	ctx := context.Background()
	state, provider, _ := newBroadcast(t)

	changes := make(chan BroadcastChange, 4)
	state.Subscribe(func(change BroadcastChange) { changes <- change })

	require.NoError(t, state.StartScreenShare(ctx))
	<-changes

	// The user revokes sharing from the system UI.
	provider.Last(domain.CaptureScreen).Stop()

	select {
	case change := <-changes:
		assert.Equal(t, ReasonScreenEnded, change.Reason)
		assert.Equal(t, domain.ModeIdle, change.Mode)
		assert.Empty(t, change.Tracks)
	case <-time.After(time.Second):
		t.Fatal("screen end was not turned into a stop")
	}
	assert.True(t, provider.Last(domain.CaptureMicrophone).Stopped())
}

func TestBroadcastState_SetMuted(t *testing.T) {
	ctx := context.Background()
	state, provider, _ := newBroadcast(t)

	state.SetMuted(true)
	require.NoError(t, state.StartCamera(ctx))
	camera := provider.Last(domain.CaptureCamera)
	assert.False(t, camera.AudioEnabled())

	state.SetMuted(false)
	assert.True(t, camera.AudioEnabled())
	assert.False(t, state.Muted())
}

func TestBroadcastState_StopAll(t *testing.T) {
	ctx := context.Background()
	state, provider, _ := newBroadcast(t)

	require.NoError(t, state.StartCamera(ctx))
	require.NoError(t, state.StartScreenShare(ctx))
	state.StopAll()

	assert.Equal(t, domain.ModeIdle, state.Mode())
	for _, c := range provider.Acquired {
		assert.True(t, c.Stopped())
	}
}
