// Package metrics provides Prometheus metrics for the chat server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/MegaGrindStone/genzai-web-ui/internal/chat"
)

// Metrics holds the collectors fed by the orchestrator. It implements chat.Recorder.
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	EnhancementsSkipped prometheus.Counter
	StreamChunksTotal   prometheus.Counter
}

var _ chat.Recorder = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genzai_requests_total",
				Help: "Total number of chat requests by pipeline and outcome",
			},
			[]string{"pipeline", "outcome"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "genzai_request_duration_seconds",
				Help:    "Duration of chat requests in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 40, 80},
			},
			[]string{"pipeline"},
		),
		EnhancementsSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "genzai_prompt_enhancements_skipped_total",
				Help: "Total number of image requests that fell back to the raw prompt",
			},
		),
		StreamChunksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "genzai_stream_chunks_total",
				Help: "Total number of text stream chunks received",
			},
		),
	}
}

// RequestFinished records a finished request. Successful requests are reported as "ok".
func (m *Metrics) RequestFinished(pipeline string, category chat.Category, duration time.Duration) {
	outcome := string(category)
	if category == chat.CategoryNone {
		outcome = "ok"
	}
	m.RequestsTotal.WithLabelValues(pipeline, outcome).Inc()
	m.RequestDuration.WithLabelValues(pipeline).Observe(duration.Seconds())
}

// EnhancementSkipped counts an enhancement fallback.
func (m *Metrics) EnhancementSkipped() {
	m.EnhancementsSkipped.Inc()
}

// ChunkReceived counts a text stream chunk.
func (m *Metrics) ChunkReceived() {
	m.StreamChunksTotal.Inc()
}
