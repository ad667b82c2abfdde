package media

import "math"

// NoPTS marks a frame whose decoder reported no presentation timestamp.
const NoPTS int64 = math.MinInt64

// DefaultTimeBase is used when neither the stream nor the codec carry a
// usable time base.
const DefaultTimeBase = 0.4

// Timing is the resolved clock description of a stream.
type Timing struct {
	// TimeBase in seconds per tick.
	TimeBase float64
	FPS      float64
}

// ResolveTiming derives the time base from the stream, then the codec, then
// fallback. The frame rate comes from the average frame rate, then the real
// frame rate, then 1/TimeBase.
func ResolveTiming(info StreamInfo, codecTimeBase Rational, fallback float64) Timing {
	if fallback <= 0 {
		fallback = DefaultTimeBase
	}

	var t Timing
	switch {
	case info.TimeBase.Valid():
		t.TimeBase = info.TimeBase.Float64()
	case codecTimeBase.Valid():
		t.TimeBase = codecTimeBase.Float64()
	default:
		t.TimeBase = fallback
	}

	switch {
	case info.AvgFrameRate.Valid():
		t.FPS = info.AvgFrameRate.Float64()
	case info.RealFrameRate.Valid():
		t.FPS = info.RealFrameRate.Float64()
	default:
		t.FPS = 1.0 / t.TimeBase
	}
	return t
}

// Position converts a decoder timestamp to seconds. NoPTS maps to zero.
func (t Timing) Position(pts int64) float64 {
	if pts == NoPTS {
		return 0
	}
	return float64(pts) * t.TimeBase
}

// FrameDuration computes a frame's display duration in seconds from the
// packet duration (in ticks) and the repeat field count. Without a packet
// duration it falls back to one frame interval.
func (t Timing) FrameDuration(packetDuration int64, repeatPict int) float64 {
	var d float64
	if packetDuration > 0 {
		d = float64(packetDuration) * t.TimeBase
	} else if t.FPS > 0 {
		d = 1.0 / t.FPS
	}
	if repeatPict > 0 {
		d += float64(repeatPict) * t.TimeBase * 0.5
	}
	return d
}
