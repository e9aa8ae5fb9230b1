package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters for the broadcast control plane. Registered on the default
// registry, exposed through the /metrics endpoint set up in
// shared/observability.
var (
	AudioChunksAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_audio_chunks_admitted_total",
		Help: "Audio chunks admitted past the per-connection rate limiter",
	})

	AudioChunksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_audio_chunks_dropped_total",
		Help: "Audio chunks silently dropped by the rate limiter",
	})

	RateLimitExceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_rate_limit_exceeded_total",
		Help: "One-second windows in which a connection exceeded its audio rate ceiling",
	})

	BufferOverflowBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_audio_buffer_overflow_bytes_total",
		Help: "Oldest-first bytes evicted from session audio buffers on overflow",
	})

	StreamReinitializations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_transcription_stream_inits_total",
		Help: "Transcription stream initializations, including re-initializations after close",
	})

	StreamErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_transcription_stream_errors_total",
		Help: "Terminal transcription stream errors surfaced to the speaker",
	})

	TranslationForwardDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_translation_forward_drops_total",
		Help: "Transcripts dropped after translation forwarding exhausted its retries",
	})

	FanoutFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_fanout_failures_total",
		Help: "Individual listener deliveries that failed during broadcast fan-out",
	})

	StatusPushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broadcast_status_pushes_total",
		Help: "Session status snapshots pushed to speakers, by reason",
	}, []string{"reason"})

	BreakerOpens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broadcast_circuit_breaker_opens_total",
		Help: "Circuit breaker transitions to the open state, by breaker name",
	}, []string{"name"})
)
