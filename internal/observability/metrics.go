package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Audio directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

type moduleMetrics struct {
	activeRelays    prometheus.Gauge
	relayStartTotal *prometheus.CounterVec
	relayLifetime   prometheus.Histogram

	upstreamFramesTotal  *prometheus.CounterVec
	protocolErrorsTotal  *prometheus.CounterVec
	audioChunksTotal     *prometheus.CounterVec
	audioBytesTotal      *prometheus.CounterVec
	responsesTotal       prometheus.Counter
	pushSubscribers      prometheus.Gauge
	pushDroppedTotal     prometheus.Counter
	recordingSaveTotal   *prometheus.CounterVec
	recordingSaveSeconds prometheus.Histogram
	recordingsPruned     prometheus.Counter

	loginTotal        *prometheus.CounterVec
	chatStreamTotal   *prometheus.CounterVec
	chatStreamSeconds prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeRelays: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "relay_active_sessions",
					Help: "Current number of active relay sessions.",
				},
			),
			relayStartTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "relay_start_total",
					Help: "Relay start attempts by status.",
				},
				[]string{"status"},
			),
			relayLifetime: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "relay_session_duration_seconds",
					Help:    "Lifetime of relay sessions in seconds.",
					Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
				},
			),
			upstreamFramesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "relay_upstream_frames_total",
					Help: "Inbound realtime frames by type.",
				},
				[]string{"type"},
			),
			protocolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "relay_protocol_errors_total",
					Help: "Malformed frames and upstream error frames by kind.",
				},
				[]string{"kind"},
			),
			audioChunksTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "relay_audio_chunks_total",
					Help: "Audio chunks relayed by direction.",
				},
				[]string{"direction"},
			),
			audioBytesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "relay_audio_bytes_total",
					Help: "PCM bytes relayed by direction.",
				},
				[]string{"direction"},
			),
			responsesTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "relay_responses_completed_total",
					Help: "Completed upstream responses.",
				},
			),
			pushSubscribers: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "relay_push_subscribers",
					Help: "Connected push channel clients.",
				},
			),
			pushDroppedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "relay_push_dropped_total",
					Help: "Pushes dropped because a subscriber buffer was full.",
				},
			),
			recordingSaveTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "relay_recording_save_total",
					Help: "Recording flushes by status.",
				},
				[]string{"status"},
			),
			recordingSaveSeconds: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "relay_recording_save_duration_seconds",
					Help:    "Recording flush duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			recordingsPruned: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "relay_recordings_pruned_total",
					Help: "Recordings removed by the retention janitor.",
				},
			),
			loginTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "gateway_login_total",
					Help: "Login attempts by status.",
				},
				[]string{"status"},
			),
			chatStreamTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chat_stream_total",
					Help: "Text chat streams by status.",
				},
				[]string{"status"},
			),
			chatStreamSeconds: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "chat_stream_duration_seconds",
					Help:    "Text chat stream duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
		}

		prometheus.MustRegister(
			m.activeRelays,
			m.relayStartTotal,
			m.relayLifetime,
			m.upstreamFramesTotal,
			m.protocolErrorsTotal,
			m.audioChunksTotal,
			m.audioBytesTotal,
			m.responsesTotal,
			m.pushSubscribers,
			m.pushDroppedTotal,
			m.recordingSaveTotal,
			m.recordingSaveSeconds,
			m.recordingsPruned,
			m.loginTotal,
			m.chatStreamTotal,
			m.chatStreamSeconds,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func SetActiveRelays(count int) {
	m := getMetrics()
	m.activeRelays.Set(float64(count))
}

func RecordRelayStart(status string) {
	m := getMetrics()
	m.relayStartTotal.WithLabelValues(status).Inc()
}

func RecordRelayLifetime(d time.Duration) {
	m := getMetrics()
	m.relayLifetime.Observe(d.Seconds())
}

func RecordUpstreamFrame(frameType string) {
	m := getMetrics()
	m.upstreamFramesTotal.WithLabelValues(frameType).Inc()
}

func RecordProtocolError(kind string) {
	m := getMetrics()
	m.protocolErrorsTotal.WithLabelValues(kind).Inc()
}

func RecordAudio(direction string, bytes int) {
	m := getMetrics()
	m.audioChunksTotal.WithLabelValues(direction).Inc()
	if bytes > 0 {
		m.audioBytesTotal.WithLabelValues(direction).Add(float64(bytes))
	}
}

func RecordResponseCompleted() {
	m := getMetrics()
	m.responsesTotal.Inc()
}

func SetPushSubscribers(count int) {
	m := getMetrics()
	m.pushSubscribers.Set(float64(count))
}

func RecordPushDropped(n uint64) {
	if n == 0 {
		return
	}
	m := getMetrics()
	m.pushDroppedTotal.Add(float64(n))
}

func RecordRecordingSave(duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.recordingSaveTotal.WithLabelValues(status).Inc()
	m.recordingSaveSeconds.Observe(duration.Seconds())
}

func RecordRecordingsPruned(n int) {
	if n <= 0 {
		return
	}
	m := getMetrics()
	m.recordingsPruned.Add(float64(n))
}

func RecordLogin(status string) {
	m := getMetrics()
	m.loginTotal.WithLabelValues(status).Inc()
}

func RecordChatStream(status string, duration time.Duration) {
	m := getMetrics()
	m.chatStreamTotal.WithLabelValues(status).Inc()
	m.chatStreamSeconds.Observe(duration.Seconds())
}
