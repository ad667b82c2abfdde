package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Demux metrics
	packetsDemuxedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reel_demux_packets_total",
		Help: "Packets routed from the container to a packet queue",
	}, []string{"stream_type"})

	packetsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reel_demux_packets_dropped_total",
		Help: "Packets released without being queued",
	}, []string{"reason"})

	demuxRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reel_demux_retries_total",
		Help: "Transient container reads that were retried",
	})

	// Decode metrics
	framesDecodedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reel_frames_decoded_total",
		Help: "Frames produced by the decoders",
	}, []string{"stream_type"})

	decodeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reel_decode_errors_total",
		Help: "Packets or frames skipped after a decoder error",
	}, []string{"stream_type", "stage"})

	// Presentation metrics
	framesPresentedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reel_frames_presented_total",
		Help: "Frames handed to the renderer",
	}, []string{"stream_type"})

	clockCorrectionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reel_clock_correction_seconds",
		Help:    "Drift correction applied to the presentation delay",
		Buckets: prometheus.LinearBuckets(-0.1, 0.01, 21), // -100ms to +100ms
	})

	clockAnchorResetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reel_clock_anchor_resets_total",
		Help: "Times the presentation clock re-anchored after a discontinuity",
	})

	bufferedSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reel_frame_buffer_seconds",
		Help: "Duration of decoded frames waiting for presentation",
	}, []string{"stream_type"})

	playbackPosition = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reel_playback_position_seconds",
		Help: "Position of the last presented video frame",
	})

	// Audio metrics
	audioUnderrunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reel_audio_underruns_total",
		Help: "Audio reads that were padded with silence",
	})

	// Session metrics
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reel_sessions_active",
		Help: "Playback sessions currently decoding",
	})

	// Debug metrics
	goroutinesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "debug_goroutines_created_total",
		Help: "Total number of goroutines created",
	}, []string{"component"})

	goroutinesDestroyed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "debug_goroutines_destroyed_total",
		Help: "Total number of goroutines destroyed",
	}, []string{"component"})

	activeGoroutines = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "debug_goroutines_active",
		Help: "Number of active goroutines",
	}, []string{"component"})

	contextCancellations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "debug_context_cancellations_total",
		Help: "Total context cancellations by reason",
	}, []string{"component", "reason"})
)

func IncrementPacketsDemuxed(streamType string) {
	packetsDemuxedTotal.WithLabelValues(streamType).Inc()
}

// IncrementPacketsDropped counts a packet released without queueing, e.g.
// one from an unselected stream.
func IncrementPacketsDropped(reason string) {
	packetsDroppedTotal.WithLabelValues(reason).Inc()
}

func IncrementDemuxRetries() {
	demuxRetriesTotal.Inc()
}

func IncrementFramesDecoded(streamType string) {
	framesDecodedTotal.WithLabelValues(streamType).Inc()
}

// IncrementDecodeErrors counts a skipped packet or frame. stage is send,
// receive, convert or resample.
func IncrementDecodeErrors(streamType, stage string) {
	decodeErrorsTotal.WithLabelValues(streamType, stage).Inc()
}

func IncrementFramesPresented(streamType string) {
	framesPresentedTotal.WithLabelValues(streamType).Inc()
}

// RecordClockCorrection records a drift correction in seconds.
func RecordClockCorrection(seconds float64) {
	clockCorrectionSeconds.Observe(seconds)
}

func IncrementClockAnchorResets() {
	clockAnchorResetsTotal.Inc()
}

func SetBufferedDuration(streamType string, seconds float64) {
	bufferedSeconds.WithLabelValues(streamType).Set(seconds)
}

func SetPlaybackPosition(seconds float64) {
	playbackPosition.Set(seconds)
}

func IncrementAudioUnderruns() {
	audioUnderrunsTotal.Inc()
}

func IncrementActiveSessions() {
	sessionsActive.Inc()
}

func DecrementActiveSessions() {
	sessionsActive.Dec()
}

// Debug metrics functions

// IncrementGoroutineCreated increments the goroutine creation counter
func IncrementGoroutineCreated(component string) {
	goroutinesCreated.WithLabelValues(component).Inc()
	activeGoroutines.WithLabelValues(component).Inc()
}

// IncrementGoroutineDestroyed increments the goroutine destruction counter
func IncrementGoroutineDestroyed(component string) {
	goroutinesDestroyed.WithLabelValues(component).Inc()
	activeGoroutines.WithLabelValues(component).Dec()
}

// IncrementContextCancellation increments context cancellation counter
func IncrementContextCancellation(component, reason string) {
	contextCancellations.WithLabelValues(component, reason).Inc()
}
