// Package telemetry provides Prometheus metrics, tracing, and correlation-id aware logging helpers.
package telemetry

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesIngested    *prometheus.CounterVec // outcome
	ModerationActions   *prometheus.CounterVec // action, outcome
	ChatEventsReceived  *prometheus.CounterVec // source, kind
	ChatEventsMalformed *prometheus.CounterVec // source
	AuditWriteFailures  prometheus.Counter
	DispatchEvictions   prometheus.Counter
	DispatchPublished   *prometheus.CounterVec // kind
	HTTPRequests        *prometheus.CounterVec // route, method, status
	HTTPRateLimited     prometheus.Counter

	// Histograms (seconds)
	IngestDuration prometheus.Observer

	// Gauges
	DispatchSessions prometheus.Gauge
	ActiveChannels   prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesIngested = promauto.NewCounterVec(prometheus.CounterOpts{Name: "moderation_messages_ingested_total", Help: "Chat messages offered to the engine by admission outcome"}, []string{"outcome"})
		ModerationActions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "moderation_actions_total", Help: "Moderator actions by kind and outcome"}, []string{"action", "outcome"})
		ChatEventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_events_received_total", Help: "Raw events received from chat sources"}, []string{"source", "kind"})
		ChatEventsMalformed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_events_malformed_total", Help: "Raw events dropped during normalization"}, []string{"source"})
		AuditWriteFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "audit_write_failures_total", Help: "Audit entries that could not be persisted"})
		DispatchEvictions = promauto.NewCounter(prometheus.CounterOpts{Name: "dispatch_evictions_total", Help: "Subscriber sessions evicted for exceeding their buffer"})
		DispatchPublished = promauto.NewCounterVec(prometheus.CounterOpts{Name: "dispatch_events_published_total", Help: "Events published to channel topics"}, []string{"kind"})
		HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "http_requests_total", Help: "HTTP requests by route pattern and status"}, []string{"route", "method", "status"})
		HTTPRateLimited = promauto.NewCounter(prometheus.CounterOpts{Name: "http_rate_limited_total", Help: "Requests rejected by the per-IP limiter"})
		IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "moderation_ingest_duration_seconds", Help: "Time spent admitting and committing one chat message", Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05}})
		DispatchSessions = promauto.NewGauge(prometheus.GaugeOpts{Name: "dispatch_sessions", Help: "Currently attached subscriber sessions"})
		ActiveChannels = promauto.NewGauge(prometheus.GaugeOpts{Name: "moderation_active_channels", Help: "Channels with live session state"})
	})
}

func IncIngest(outcome string) {
	if MessagesIngested != nil {
		MessagesIngested.WithLabelValues(outcome).Inc()
	}
}

func IncModerationAction(action, outcome string) {
	if ModerationActions != nil {
		ModerationActions.WithLabelValues(action, outcome).Inc()
	}
}

func IncChatEvent(source, kind string) {
	if ChatEventsReceived != nil {
		ChatEventsReceived.WithLabelValues(source, kind).Inc()
	}
}

func IncMalformed(source string) {
	if ChatEventsMalformed != nil {
		ChatEventsMalformed.WithLabelValues(source).Inc()
	}
}

func IncAuditWriteFailure() {
	if AuditWriteFailures != nil {
		AuditWriteFailures.Inc()
	}
}

func IncDispatchEviction() {
	if DispatchEvictions != nil {
		DispatchEvictions.Inc()
	}
}

func IncDispatchPublished(kind string) {
	if DispatchPublished != nil {
		DispatchPublished.WithLabelValues(kind).Inc()
	}
}

// AddDispatchSessions adjusts the attached-session gauge by delta.
func AddDispatchSessions(delta int) {
	if DispatchSessions != nil {
		DispatchSessions.Add(float64(delta))
	}
}

func SetActiveChannels(n int) {
	if ActiveChannels != nil {
		ActiveChannels.Set(float64(n))
	}
}

func IncHTTPRequest(route, method string, status int) {
	if HTTPRequests != nil {
		HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	}
}

func IncHTTPRateLimited() {
	if HTTPRateLimited != nil {
		HTTPRateLimited.Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}
