package webrtc

import (
	"errors"
	"io"

	"roomcast/internal/core/domain"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// FeedbackRecorder counts RTCP feedback by kind; monitoring.ClientCollector implements it.
type FeedbackRecorder interface {
	RTCPFeedback(kind string, count int)
}

// Feedback summarizes one batch of RTCP packets received on a sender.
type Feedback struct {
	PLI     int
	FIR     int
	NACK    int
	Reports int
	// FractionLost is the worst loss fraction (out of 256) across receiver reports.
	FractionLost uint8
}

func (f Feedback) Empty() bool {
	return f.PLI == 0 && f.FIR == 0 && f.NACK == 0 && f.Reports == 0
}

// Summarize tallies keyframe requests, NACKed sequence numbers and receiver reports.
func Summarize(packets []rtcp.Packet) Feedback {
	var fb Feedback
	for _, packet := range packets {
		switch p := packet.(type) {
		case *rtcp.PictureLossIndication:
			fb.PLI++
		case *rtcp.FullIntraRequest:
			fb.FIR++
		case *rtcp.TransportLayerNack:
			for _, pair := range p.Nacks {
				fb.NACK += len(pair.PacketList())
			}
		case *rtcp.ReceiverReport:
			for _, report := range p.Reports {
				fb.Reports++
				if report.FractionLost > fb.FractionLost {
					fb.FractionLost = report.FractionLost
				}
			}
		}
	}
	return fb
}

// SenderFeedback returns a hook that drains RTCP from every presenter sender. Pion only
// runs its interceptors while somebody reads, so every sender needs a reader.
func SenderFeedback(recorder FeedbackRecorder, logger *zap.SugaredLogger) func(peer domain.ConnID, sender *webrtc.RTPSender) {
	return func(peer domain.ConnID, sender *webrtc.RTPSender) {
		go readSenderRTCP(peer, sender, recorder, logger)
	}
}

func readSenderRTCP(peer domain.ConnID, sender *webrtc.RTPSender, recorder FeedbackRecorder, logger *zap.SugaredLogger) {
	trackID := ""
	if track := sender.Track(); track != nil {
		trackID = track.ID()
	}

	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				logger.Debugw("error reading RTCP packets", "peer_id", peer, "track_id", trackID, "error", err)
			}
			return
		}

		fb := Summarize(packets)
		if fb.Empty() {
			continue
		}
		if recorder != nil {
			if fb.PLI > 0 {
				recorder.RTCPFeedback("pli", fb.PLI)
			}
			if fb.FIR > 0 {
				recorder.RTCPFeedback("fir", fb.FIR)
			}
			if fb.NACK > 0 {
				recorder.RTCPFeedback("nack", fb.NACK)
			}
		}
		if fb.PLI > 0 || fb.FIR > 0 || fb.NACK > 0 {
			logger.Debugw("received RTCP feedback",
				"peer_id", peer,
				"track_id", trackID,
				"pli", fb.PLI,
				"fir", fb.FIR,
				"nacks", fb.NACK,
				"fraction_lost", fb.FractionLost,
			)
		}
	}
}
