package logger

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// SampledLogger rate-limits high-frequency playback events per category.
// Uncategorised calls pass straight through to the base logger.
type SampledLogger struct {
	base          Logger
	samplers      map[string]*LogSampler
	samplersMutex *sync.RWMutex
}

// LogSampler throttles one log category. Events within the limiter's budget
// are logged; the rest are kept at sampleRate.
type LogSampler struct {
	name       string
	limiter    *rate.Limiter
	sampleRate float64

	overflow atomic.Int64 // events seen since the limiter ran dry
	total    atomic.Int64
	logged   atomic.Int64
	dropped  atomic.Int64
}

func NewSampledLogger(base Logger) *SampledLogger {
	return &SampledLogger{
		base:          OrNull(base),
		samplers:      make(map[string]*LogSampler),
		samplersMutex: &sync.RWMutex{},
	}
}

// WithSampler allows one event per interval for category, plus a burst.
// Once the budget is spent, sampleRate of the remaining events are logged.
func (s *SampledLogger) WithSampler(category string, interval time.Duration, burst int, sampleRate float64) *SampledLogger {
	s.samplersMutex.Lock()
	defer s.samplersMutex.Unlock()

	s.samplers[category] = &LogSampler{
		name:       category,
		limiter:    rate.NewLimiter(rate.Every(interval), burst),
		sampleRate: sampleRate,
	}
	return s
}

func (s *SampledLogger) sampler(category string) *LogSampler {
	s.samplersMutex.RLock()
	defer s.samplersMutex.RUnlock()
	return s.samplers[category]
}

func (s *SampledLogger) shouldLog(category string) bool {
	sampler := s.sampler(category)
	if sampler == nil {
		return true
	}
	return sampler.allow(time.Now())
}

func (ls *LogSampler) allow(now time.Time) bool {
	ls.total.Add(1)

	if ls.limiter.AllowN(now, 1) {
		ls.overflow.Store(0)
		ls.logged.Add(1)
		return true
	}

	if ls.sampleRate > 0 {
		n := ls.overflow.Add(1)
		if float64(n)*ls.sampleRate >= 1.0 {
			ls.overflow.Store(0)
			ls.logged.Add(1)
			return true
		}
	}

	ls.dropped.Add(1)
	return false
}

// LogWithCategory logs msg at level if the category's sampler allows it.
// Logged entries carry the category's running totals.
func (s *SampledLogger) LogWithCategory(level logrus.Level, category, msg string, fields map[string]interface{}) {
	if !s.shouldLog(category) {
		return
	}

	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["category"] = category
	if sampler := s.sampler(category); sampler != nil {
		if dropped := sampler.dropped.Load(); dropped > 0 {
			fields["_sampling_dropped"] = dropped
		}
	}
	s.base.WithFields(fields).Log(level, msg)
}

func (s *SampledLogger) DebugWithCategory(category, msg string, fields map[string]interface{}) {
	s.LogWithCategory(logrus.DebugLevel, category, msg, fields)
}

func (s *SampledLogger) InfoWithCategory(category, msg string, fields map[string]interface{}) {
	s.LogWithCategory(logrus.InfoLevel, category, msg, fields)
}

func (s *SampledLogger) WarnWithCategory(category, msg string, fields map[string]interface{}) {
	s.LogWithCategory(logrus.WarnLevel, category, msg, fields)
}

// ErrorWithCategory is never sampled.
func (s *SampledLogger) ErrorWithCategory(category, msg string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["category"] = category
	s.base.WithFields(fields).Error(msg)
}

// SamplerStats holds statistics for a log sampler
type SamplerStats struct {
	Name            string  `json:"name"`
	TotalMessages   int64   `json:"total_messages"`
	SampledMessages int64   `json:"sampled_messages"`
	DroppedMessages int64   `json:"dropped_messages"`
	CurrentRate     float64 `json:"current_rate"`
}

func (s *SampledLogger) GetSamplerStats() map[string]SamplerStats {
	s.samplersMutex.RLock()
	defer s.samplersMutex.RUnlock()

	stats := make(map[string]SamplerStats, len(s.samplers))
	for name, sampler := range s.samplers {
		st := SamplerStats{
			Name:            name,
			TotalMessages:   sampler.total.Load(),
			SampledMessages: sampler.logged.Load(),
			DroppedMessages: sampler.dropped.Load(),
		}
		if st.TotalMessages > 0 {
			st.CurrentRate = float64(st.SampledMessages) / float64(st.TotalMessages)
		}
		stats[name] = st
	}
	return stats
}

// Playback log categories
const (
	CategoryPacketRouting   = "packet_routing"
	CategoryDemuxRetry      = "demux_retry"
	CategoryDecodeError     = "decode_error"
	CategoryFrameDelivery   = "frame_delivery"
	CategoryClockCorrection = "clock_correction"
	CategoryAnchorReset     = "anchor_reset"
	CategoryAudioUnderrun   = "audio_underrun"
)

// NewPlaybackLogger returns a sampled logger configured for the playback
// loops.
func NewPlaybackLogger(base Logger) *SampledLogger {
	return NewSampledLogger(base).
		// per packet: 20/sec, burst 10, then 5%
		WithSampler(CategoryPacketRouting, 50*time.Millisecond, 10, 0.05).
		WithSampler(CategoryDemuxRetry, 500*time.Millisecond, 3, 0).
		// bad packets are worth seeing but can arrive in runs
		WithSampler(CategoryDecodeError, 200*time.Millisecond, 5, 0.1).
		WithSampler(CategoryFrameDelivery, 100*time.Millisecond, 5, 0.1).
		WithSampler(CategoryClockCorrection, time.Second, 2, 0).
		WithSampler(CategoryAnchorReset, time.Second, 3, 1.0).
		WithSampler(CategoryAudioUnderrun, time.Second, 1, 0)
}

// SampledLogger also satisfies Logger. Derived loggers share the samplers.

func (s *SampledLogger) derive(base Logger) *SampledLogger {
	return &SampledLogger{base: base, samplers: s.samplers, samplersMutex: s.samplersMutex}
}

func (s *SampledLogger) WithFields(fields map[string]interface{}) Logger {
	return s.derive(s.base.WithFields(fields))
}

func (s *SampledLogger) WithField(key string, value interface{}) Logger {
	return s.derive(s.base.WithField(key, value))
}

func (s *SampledLogger) WithError(err error) Logger {
	return s.derive(s.base.WithError(err))
}

// Sampled returns a sampled logger whose base carries extra fields.
func (s *SampledLogger) Sampled(fields map[string]interface{}) *SampledLogger {
	return s.derive(s.base.WithFields(fields))
}

func (s *SampledLogger) Debug(args ...interface{}) { s.base.Debug(args...) }
func (s *SampledLogger) Info(args ...interface{})  { s.base.Info(args...) }
func (s *SampledLogger) Warn(args ...interface{})  { s.base.Warn(args...) }
func (s *SampledLogger) Error(args ...interface{}) { s.base.Error(args...) }

func (s *SampledLogger) Log(level logrus.Level, args ...interface{}) {
	s.base.Log(level, args...)
}

func (s *SampledLogger) Debugf(format string, args ...interface{}) { s.base.Debugf(format, args...) }
func (s *SampledLogger) Infof(format string, args ...interface{})  { s.base.Infof(format, args...) }
func (s *SampledLogger) Warnf(format string, args ...interface{})  { s.base.Warnf(format, args...) }
func (s *SampledLogger) Errorf(format string, args ...interface{}) { s.base.Errorf(format, args...) }
