package webrtc

import (
	"context"
	"time"

	"roomcast/internal/core/ports"
	"roomcast/internal/core/services"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// NewTrackPump returns the viewer pump: it reads RTP from a remote track and hands each
// packet to deliver until the track ends or ctx is cancelled.
func NewTrackPump(logger *zap.SugaredLogger) services.TrackPump {
	return func(ctx context.Context, track ports.InboundTrack, deliver func(*rtp.Packet) error) {
		remote, ok := track.(*webrtc.TrackRemote)
		if !ok {
			logger.Warnw("inbound track cannot be read", "track_id", track.ID())
			return
		}

		stop := context.AfterFunc(ctx, func() {
			_ = remote.SetReadDeadline(time.Now())
		})
		defer stop()

		next := func() (*rtp.Packet, error) {
			pkt, _, err := remote.ReadRTP()
			return pkt, err
		}
		n := pump(ctx, next, deliver)
		logger.Debugw("inbound track ended",
			"track_id", remote.ID(),
			"stream_id", remote.StreamID(),
			"codec", remote.Codec().MimeType,
			"packets", n,
		)
	}
}

// pump calls next until it fails and returns the number of packets delivered.
func pump(ctx context.Context, next func() (*rtp.Packet, error), deliver func(*rtp.Packet) error) int {
	delivered := 0
	for {
		if ctx.Err() != nil {
			return delivered
		}
		pkt, err := next()
		if err != nil {
			return delivered
		}
		// The sink drops what it cannot write; one bad packet must not end the track.
		if err := deliver(pkt); err == nil {
			delivered++
		}
	}
}
