package monitoring

import (
	"time"

	"sharecast/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector turns share lifecycle and liveness events into metrics.
type PrometheusCollector struct {
	sharesStarted *prometheus.CounterVec
	sharesFailed  *prometheus.CounterVec
	sharesEnded   *prometheus.CounterVec
	sharesActive  prometheus.Gauge
	viewFailures  prometheus.Counter

	shareDuration *prometheus.HistogramVec

	bitrate      *prometheus.GaugeVec
	mediaStalls  prometheus.Counter
	rtcpFeedback *prometheus.CounterVec
}

// NewPrometheusCollector registers the metrics with reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		sharesStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sharecast_shares_started_total",
			Help: "Shares that reached the active phase",
		}, []string{"content_type"}),

		sharesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sharecast_shares_failed_total",
			Help: "Shares that failed during acquisition, publish or while on air",
		}, []string{"content_type"}),

		sharesEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sharecast_shares_ended_total",
			Help: "Shares torn down after being active",
		}, []string{"content_type"}),

		sharesActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sharecast_shares_active",
			Help: "1 while this participant is sharing",
		}),

		viewFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "sharecast_view_failures_total",
			Help: "Failed attempts to view the broadcast share",
		}),

		shareDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sharecast_share_duration_seconds",
			Help:    "Time a share stayed on air",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"content_type"}),

		bitrate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sharecast_media_bitrate_bps",
			Help: "Last measured bitrate per stats kind in bits per second",
		}, []string{"kind"}),

		mediaStalls: factory.NewCounter(prometheus.CounterOpts{
			Name: "sharecast_media_stalls_total",
			Help: "Times media stopped flowing on an established peer",
		}),

		rtcpFeedback: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sharecast_rtcp_feedback_total",
			Help: "RTCP feedback packets received from the media server",
		}, []string{"type"}),
	}
}

func (p *PrometheusCollector) ShareStarted(contentType domain.ContentType) {
	p.sharesStarted.WithLabelValues(string(contentType)).Inc()
	p.sharesActive.Set(1)
}

func (p *PrometheusCollector) ShareFailed(contentType domain.ContentType, _ error) {
	p.sharesFailed.WithLabelValues(string(contentType)).Inc()
}

func (p *PrometheusCollector) ShareEnded(contentType domain.ContentType, duration time.Duration) {
	p.sharesEnded.WithLabelValues(string(contentType)).Inc()
	p.shareDuration.WithLabelValues(string(contentType)).Observe(duration.Seconds())
	p.sharesActive.Set(0)
	p.bitrate.Reset()
}

func (p *PrometheusCollector) ViewFailed() {
	p.viewFailures.Inc()
}

func (p *PrometheusCollector) BitrateObserved(kind domain.StatKind, bitsPerSecond float64) {
	p.bitrate.WithLabelValues(string(kind)).Set(bitsPerSecond)
}

func (p *PrometheusCollector) MediaStalled() {
	p.mediaStalls.Inc()
}

func (p *PrometheusCollector) RTCPReceived(packetType string) {
	p.rtcpFeedback.WithLabelValues(packetType).Inc()
}
