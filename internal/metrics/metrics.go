package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_connections_active",
		Help: "Currently open duplex connections",
	})

	TurnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_turns_total",
		Help: "Total turns completed",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_stage_duration_seconds",
		Help:    "Per-stage latency (stt:<provider>, tts:<provider>)",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_turn_duration_seconds",
		Help:    "End-to-end latency from silence detected to first TTS audio",
		Buckets: []float64{0.1, 0.2, 0.5, 0.8, 1.0, 1.5, 2.0, 3.0, 5.0},
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_errors_total",
		Help: "Error counts by stage and error code",
	}, []string{"stage", "error_type"})

	AudioChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_audio_chunks_total",
		Help: "Total binary audio frames received",
	})

	BreakerStateChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_breaker_state_changes_total",
		Help: "Circuit breaker state transitions by breaker name and resulting state",
	}, []string{"breaker", "state"})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_rate_limited_total",
		Help: "Frames or requests dropped by a rate limiter",
	}, []string{"limiter"})

	TTSChunksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_tts_chunks_failed_total",
		Help: "TTS phrase chunks that failed synthesis across both providers",
	})
)
