package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lexiqai/transcribe-gateway/internal/resilience"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transcribe_gateway_active_sessions",
		Help: "Number of sessions currently recording",
	})

	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcribe_gateway_sessions_started_total",
		Help: "Total number of session start requests",
	})

	sessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcribe_gateway_sessions_ended_total",
		Help: "Sessions reaching a terminal state",
	}, []string{"status"})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "transcribe_gateway_session_duration_seconds",
		Help:    "Recording duration of finished sessions",
		Buckets: []float64{5, 30, 60, 300, 900, 1800, 3600, 7200},
	})

	// Audio path
	chunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcribe_gateway_chunks_total",
		Help: "Audio chunks handled by the transcription channel",
	}, []string{"outcome"}) // sent, dropped

	audioBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcribe_gateway_audio_bytes_total",
		Help: "Audio bytes sent to the transcription service",
	})

	recognitionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcribe_gateway_recognition_events_total",
		Help: "Recognition events received",
	}, []string{"kind"}) // final, interim, diarized, dropped

	// Best-effort remote steps
	remoteLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "transcribe_gateway_remote_latency_seconds",
		Help:    "Latency of diarization uploads and summarization calls",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"operation", "status"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcribe_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"kind", "component"})

	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "transcribe_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcribe_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// RecordSessionStart records a session start request
func RecordSessionStart() {
	sessionsStarted.Inc()
}

// RecordRecordingStarted marks a session as actively recording
func RecordRecordingStarted() {
	activeSessions.Inc()
}

// RecordSessionEnd records a terminal state. wasRecording is true when the
// session had reached Recording and therefore holds an active gauge slot.
func RecordSessionEnd(status string, wasRecording bool, recorded time.Duration) {
	sessionsEnded.WithLabelValues(status).Inc()
	if wasRecording {
		activeSessions.Dec()
		sessionDuration.Observe(recorded.Seconds())
	}
}

// RecordChunk records the outcome of one chunk send
func RecordChunk(sent bool, bytes int) {
	if !sent {
		chunksTotal.WithLabelValues("dropped").Inc()
		return
	}
	chunksTotal.WithLabelValues("sent").Inc()
	audioBytes.Add(float64(bytes))
}

// RecordRecognitionEvent counts an incoming recognition event
func RecordRecognitionEvent(kind string) {
	recognitionEvents.WithLabelValues(kind).Inc()
}

// RecordRemoteCall observes the latency of a best-effort remote operation
func RecordRemoteCall(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	remoteLatency.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}

// RecordError records an error by taxonomy kind
func RecordError(kind, component string) {
	errorsTotal.WithLabelValues(kind, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

// WatchCircuitBreaker exports a breaker's transitions as metrics and logs
func WatchCircuitBreaker(cb *resilience.CircuitBreaker) {
	UpdateCircuitBreakerState(cb.Name(), int(cb.GetState()))
	logger := ForComponent("circuit_breaker")
	cb.OnStateChange(func(name string, from, to resilience.CircuitState) {
		UpdateCircuitBreakerState(name, int(to))
		if to == resilience.StateOpen {
			IncrementCircuitBreakerFailures(name)
		}
		_, requests, failures, rate := cb.GetStats()
		logger.Warn().
			Str("service", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Int64("requests", requests).
			Int64("failures", failures).
			Float64("failure_rate", rate).
			Msg("Circuit breaker state changed")
	})
}
