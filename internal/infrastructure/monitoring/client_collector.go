package monitoring

import (
	"time"

	"roomcast/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ClientCollector records presenter and viewer side metrics.
type ClientCollector struct {
	linksActive       prometheus.Gauge
	rebuildCycles     prometheus.Counter
	signalingFailures prometheus.Counter
	chunksFlushed     prometheus.Counter
	chunkBytes        prometheus.Counter
	recordings        *prometheus.CounterVec
	recordingDuration prometheus.Histogram
	rtcpFeedback      *prometheus.CounterVec
}

var _ ports.ClientMetrics = (*ClientCollector)(nil)

// NewClientCollector registers the participant metrics with reg.
func NewClientCollector(reg prometheus.Registerer) *ClientCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &ClientCollector{
		linksActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roomcast_client_peer_links_active",
			Help: "Open peer links",
		}),
		rebuildCycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomcast_client_rebuild_cycles_total",
			Help: "Full close-and-renegotiate cycles run by the presenter",
		}),
		signalingFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomcast_client_signaling_failures_total",
			Help: "Offers, answers or candidates that could not be applied",
		}),
		chunksFlushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomcast_client_recording_chunks_total",
			Help: "Recording chunks cut from the muxer output",
		}),
		chunkBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomcast_client_recording_bytes_total",
			Help: "Recording bytes produced",
		}),
		recordings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomcast_client_recordings_total",
			Help: "Finished recordings by result",
		}, []string{"result"}),
		recordingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "roomcast_client_recording_duration_seconds",
			Help:    "Length of finished recordings",
			Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200},
		}),
		rtcpFeedback: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomcast_client_rtcp_feedback_total",
			Help: "RTCP feedback received from viewers by kind",
		}, []string{"kind"}),
	}
}

func (c *ClientCollector) LinkOpened()       { c.linksActive.Inc() }
func (c *ClientCollector) LinkClosed()       { c.linksActive.Dec() }
func (c *ClientCollector) RebuildCycle()     { c.rebuildCycles.Inc() }
func (c *ClientCollector) SignalingFailure() { c.signalingFailures.Inc() }

func (c *ClientCollector) ChunkFlushed(bytes int) {
	c.chunksFlushed.Inc()
	c.chunkBytes.Add(float64(bytes))
}

func (c *ClientCollector) RecordingFinished(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.recordings.WithLabelValues(result).Inc()
	c.recordingDuration.Observe(d.Seconds())
}

// RTCPFeedback counts feedback packets (pli, nack) viewers sent back to the presenter.
func (c *ClientCollector) RTCPFeedback(kind string, count int) {
	c.rtcpFeedback.WithLabelValues(kind).Add(float64(count))
}
