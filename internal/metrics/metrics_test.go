package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDemuxCounters(t *testing.T) {
	initialVideo := testutil.ToFloat64(packetsDemuxedTotal.WithLabelValues("video"))
	initialDropped := testutil.ToFloat64(packetsDroppedTotal.WithLabelValues("unselected_stream"))
	initialRetries := testutil.ToFloat64(demuxRetriesTotal)

	IncrementPacketsDemuxed("video")
	IncrementPacketsDemuxed("video")
	IncrementPacketsDropped("unselected_stream")
	IncrementDemuxRetries()

	assert.Equal(t, initialVideo+2, testutil.ToFloat64(packetsDemuxedTotal.WithLabelValues("video")))
	assert.Equal(t, initialDropped+1, testutil.ToFloat64(packetsDroppedTotal.WithLabelValues("unselected_stream")))
	assert.Equal(t, initialRetries+1, testutil.ToFloat64(demuxRetriesTotal))
}

func TestDecodeCounters(t *testing.T) {
	initialFrames := testutil.ToFloat64(framesDecodedTotal.WithLabelValues("audio"))
	initialErrors := testutil.ToFloat64(decodeErrorsTotal.WithLabelValues("audio", "send"))

	IncrementFramesDecoded("audio")
	IncrementDecodeErrors("audio", "send")

	assert.Equal(t, initialFrames+1, testutil.ToFloat64(framesDecodedTotal.WithLabelValues("audio")))
	assert.Equal(t, initialErrors+1, testutil.ToFloat64(decodeErrorsTotal.WithLabelValues("audio", "send")))
}

func TestClockMetrics(t *testing.T) {
	var before dto.Metric
	require.NoError(t, clockCorrectionSeconds.Write(&before))
	initialResets := testutil.ToFloat64(clockAnchorResetsTotal)

	corrections := []float64{-0.004, 0.0, 0.002, 0.05}
	for _, c := range corrections {
		RecordClockCorrection(c)
	}
	IncrementClockAnchorResets()

	var after dto.Metric
	require.NoError(t, clockCorrectionSeconds.Write(&after))
	assert.Equal(t, before.Histogram.GetSampleCount()+uint64(len(corrections)), after.Histogram.GetSampleCount())
	assert.InDelta(t, before.Histogram.GetSampleSum()+0.048, after.Histogram.GetSampleSum(), 1e-9)
	assert.Equal(t, initialResets+1, testutil.ToFloat64(clockAnchorResetsTotal))
}

func TestGauges(t *testing.T) {
	SetBufferedDuration("video", 0.36)
	assert.Equal(t, 0.36, testutil.ToFloat64(bufferedSeconds.WithLabelValues("video")))

	SetPlaybackPosition(12.5)
	assert.Equal(t, 12.5, testutil.ToFloat64(playbackPosition))

	initial := testutil.ToFloat64(sessionsActive)
	IncrementActiveSessions()
	IncrementActiveSessions()
	DecrementActiveSessions()
	assert.Equal(t, initial+1, testutil.ToFloat64(sessionsActive))
}

func TestGoroutineTracking(t *testing.T) {
	component := "decode_loop"
	initialActive := testutil.ToFloat64(activeGoroutines.WithLabelValues(component))

	IncrementGoroutineCreated(component)
	IncrementGoroutineCreated(component)
	IncrementGoroutineDestroyed(component)

	assert.Equal(t, initialActive+1, testutil.ToFloat64(activeGoroutines.WithLabelValues(component)))

	initialCancels := testutil.ToFloat64(contextCancellations.WithLabelValues(component, "stop"))
	IncrementContextCancellation(component, "stop")
	assert.Equal(t, initialCancels+1, testutil.ToFloat64(contextCancellations.WithLabelValues(component, "stop")))
}

func TestAudioUnderruns(t *testing.T) {
	initial := testutil.ToFloat64(audioUnderrunsTotal)
	IncrementAudioUnderruns()
	assert.Equal(t, initial+1, testutil.ToFloat64(audioUnderrunsTotal))
}
