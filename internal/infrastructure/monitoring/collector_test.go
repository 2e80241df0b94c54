package monitoring

import (
	"errors"
	"testing"
	"time"

	"roomcast/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRelayCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewRelayCollector(reg)

	c.RecordConnected(domain.RolePresenter)
	c.RecordConnected(domain.RoleViewer)
	c.RecordConnected(domain.RoleViewer)
	c.RecordDisconnected(domain.RoleViewer, 3*time.Second)
	c.SetRooms(2)
	c.RecordMessage(domain.MsgOffer, 100)
	c.RecordMessage(domain.MsgOffer, 50)
	c.RecordDropped("rate_limited")
	c.RecordTransition(domain.RoomOngoing)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.participantsActive.WithLabelValues("viewer")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.connectionsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.roomsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.messagesRelayed.WithLabelValues("offer")))
	assert.Equal(t, 150.0, testutil.ToFloat64(c.bytesRelayed))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.messagesDropped.WithLabelValues("rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionTransitions.WithLabelValues("ONGOING")))
}

func TestClientCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewClientCollector(reg)

	c.LinkOpened()
	c.LinkOpened()
	c.LinkClosed()
	c.RebuildCycle()
	c.SignalingFailure()
	c.ChunkFlushed(1024)
	c.ChunkFlushed(512)
	c.RecordingFinished(time.Minute, nil)
	c.RecordingFinished(time.Second, errors.New("upload failed"))
	c.RTCPFeedback("nack", 3)
	c.RTCPFeedback("pli", 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.linksActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rebuildCycles))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.signalingFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.chunksFlushed))
	assert.Equal(t, 1536.0, testutil.ToFloat64(c.chunkBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.recordings.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.recordings.WithLabelValues("error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.rtcpFeedback.WithLabelValues("nack")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rtcpFeedback.WithLabelValues("pli")))
}
