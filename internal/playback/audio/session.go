// Package audio carries decoded PCM from the audio decode loop to an output
// device. A Session is owned by one playback session; nothing here is
// process-global.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/zsiec/reel/internal/logger"
	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/metrics"
)

var ErrInactive = errors.New("audio: session inactive")

// Config describes the output format and buffering.
type Config struct {
	SampleRate int
	Channels   int
	// BufferSize in bytes of S16 PCM.
	BufferSize int
}

// Stats is a snapshot of session counters.
type Stats struct {
	Active    bool    `json:"active"`
	Buffered  float64 `json:"buffered_seconds"`
	Played    float64 `json:"played_seconds"`
	Written   uint64  `json:"written_bytes"`
	Underruns uint64  `json:"underruns"`
}

// Session buffers S16 interleaved PCM between Write (decode side) and Read
// (output device side).
type Session struct {
	format media.AudioFormat
	ring   *ring

	active atomic.Bool
	ended  atomic.Bool

	logger        logger.Logger
	sampledLogger *logger.SampledLogger

	written   atomic.Uint64
	played    atomic.Uint64
	underruns atomic.Uint64
}

func NewSession(cfg Config, log logger.Logger) *Session {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 2
	}
	frameBytes := 2 * cfg.Channels
	if cfg.BufferSize < frameBytes {
		// Half a second.
		cfg.BufferSize = cfg.SampleRate * frameBytes / 2
	}
	cfg.BufferSize -= cfg.BufferSize % frameBytes

	base := logger.WithComponent(logger.OrNull(log), "audio")
	return &Session{
		format: media.AudioFormat{
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
			Format:     media.SampleFormatS16,
		},
		ring:          newRing(cfg.BufferSize),
		logger:        base,
		sampledLogger: logger.NewPlaybackLogger(base),
	}
}

// Format is the PCM layout Write accepts.
func (s *Session) Format() media.AudioFormat { return s.format }

func (s *Session) SampleRate() int { return s.format.SampleRate }

func (s *Session) Channels() int { return s.format.Channels }

// Activate starts accepting audio.
func (s *Session) Activate() {
	s.ring.Reopen()
	s.ended.Store(false)
	s.active.Store(true)
	s.logger.WithFields(map[string]interface{}{
		"sample_rate": s.format.SampleRate,
		"channels":    s.format.Channels,
	}).Debug("Audio session activated")
}

// Deactivate stops the session and wakes a blocked writer.
func (s *Session) Deactivate() {
	if s.active.Swap(false) {
		s.logger.Debug("Audio session deactivated")
	}
	s.ring.Close()
}

func (s *Session) Active() bool { return s.active.Load() }

// Write appends the frame's samples, blocking while the buffer is full.
func (s *Session) Write(ctx context.Context, f media.Frame) error {
	if !s.active.Load() {
		return ErrInactive
	}
	if f.Kind != media.KindAudio || f.Audio == nil {
		return fmt.Errorf("audio: cannot play %s frame", f.Kind)
	}
	if f.Audio.SampleRate != s.format.SampleRate || f.Audio.Channels != s.format.Channels {
		return fmt.Errorf("audio: frame is %d Hz/%d ch, session is %d Hz/%d ch",
			f.Audio.SampleRate, f.Audio.Channels, s.format.SampleRate, s.format.Channels)
	}

	n, err := s.ring.Write(ctx, f.Audio.Samples)
	s.written.Add(uint64(n))
	if errors.Is(err, ErrRingClosed) {
		return ErrInactive
	}
	return err
}

// EndOfStream marks the input finished. Buffered samples remain readable;
// Read reports io.EOF once they are gone.
func (s *Session) EndOfStream() {
	s.ended.Store(true)
	s.ring.Close()
}

// Read fills p for the output device. Missing samples are replaced with
// silence so the device never starves; it returns io.EOF after the end of
// stream has been played out.
func (s *Session) Read(p []byte) (int, error) {
	n := s.ring.Read(p)
	s.played.Add(uint64(n))

	if n == len(p) {
		return n, nil
	}
	if s.ended.Load() || !s.active.Load() {
		if n == 0 {
			return 0, io.EOF
		}
		clear(p[n:])
		return len(p), nil
	}

	clear(p[n:])
	s.underruns.Add(1)
	metrics.IncrementAudioUnderruns()
	s.sampledLogger.WarnWithCategory(logger.CategoryAudioUnderrun, "Audio buffer underrun", map[string]interface{}{
		"wanted": len(p),
		"got":    n,
	})
	return len(p), nil
}

// Flush discards buffered samples, for seeks.
func (s *Session) Flush() {
	s.ring.Reset()
}

// Buffered returns the duration of PCM waiting to be played.
func (s *Session) Buffered() time.Duration {
	return s.bytesToDuration(uint64(s.ring.Len()))
}

// Played returns the duration of PCM handed to the device.
func (s *Session) Played() time.Duration {
	return s.bytesToDuration(s.played.Load())
}

func (s *Session) bytesToDuration(n uint64) time.Duration {
	perSecond := uint64(s.format.SampleRate * s.format.Channels * 2)
	return time.Duration(float64(n) / float64(perSecond) * float64(time.Second))
}

// Pump stands in for an output device: every period it reads one period of
// samples. It returns after the end of stream has been played out, the
// session is deactivated, or ctx ends.
func (s *Session) Pump(ctx context.Context, period time.Duration, sleep func(context.Context, time.Duration) error) error {
	frameBytes := 2 * s.format.Channels
	size := int(period.Seconds()*float64(s.format.SampleRate)) * frameBytes
	if size <= 0 {
		size = frameBytes
	}
	buf := make([]byte, size)

	for {
		if _, err := s.Read(buf); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := sleep(ctx, period); err != nil {
			return nil
		}
	}
}

func (s *Session) Stats() Stats {
	return Stats{
		Active:    s.active.Load(),
		Buffered:  s.Buffered().Seconds(),
		Played:    s.Played().Seconds(),
		Written:   s.written.Load(),
		Underruns: s.underruns.Load(),
	}
}
