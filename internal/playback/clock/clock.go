// Package clock paces decoded frames to the renderer against wall-clock
// time, correcting drift between frame timestamps and elapsed time.
package clock

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/zsiec/reel/internal/logger"
	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/metrics"
	"github.com/zsiec/reel/internal/playback/framebuffer"
)

// Renderer accepts one frame at a time and does not retain the frame's
// payload after returning. Video frames arrive from the clock goroutine and
// audio frames from the audio decode goroutine, so implementations must be
// safe for concurrent use.
type Renderer interface {
	Render(f media.Frame)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(f media.Frame)

func (fn RendererFunc) Render(f media.Frame) { fn(f) }

// Decoder is the decode side the clock asks for more material.
type Decoder interface {
	// DecodeAhead requests at least seconds of decoded frames without
	// waiting for them.
	DecodeAhead(seconds float64) bool
	// Done is closed once no more frames will be produced.
	Done() <-chan struct{}
}

// Config holds pacing parameters. Zero values take the defaults below.
type Config struct {
	LowWaterMark         time.Duration
	ColdStartDecodeAhead time.Duration
	DecodeAhead          time.Duration
	CorrectionThreshold  time.Duration
	MinDelay             time.Duration

	// Now and Sleep default to the wall clock.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	// OnPosition is called after every presented frame.
	OnPosition func(seconds float64)
}

const (
	DefaultLowWaterMark         = 200 * time.Millisecond
	DefaultColdStartDecodeAhead = 400 * time.Millisecond
	DefaultDecodeAhead          = 100 * time.Millisecond
	DefaultCorrectionThreshold  = time.Second
	DefaultMinDelay             = 10 * time.Millisecond
)

// Stats is a snapshot of clock state.
type Stats struct {
	Position       float64 `json:"position"`
	Correction     float64 `json:"correction"`
	Presented      uint64  `json:"presented"`
	AnchorResets   uint64  `json:"anchor_resets"`
	DecodeRequests uint64  `json:"decode_requests"`
	Buffered       float64 `json:"buffered_seconds"`
}

// Clock presents frames from one frame buffer.
type Clock struct {
	cfg      Config
	kind     string
	frames   *framebuffer.Buffer
	renderer Renderer
	decoder  Decoder

	logger        logger.Logger
	sampledLogger *logger.SampledLogger

	mu             sync.Mutex
	moviePosition  float64
	anchored       bool
	anchorWall     time.Time
	anchorMovie    float64
	playing        bool
	lastCorrection float64
	presented      uint64
	anchorResets   uint64
	requests       uint64
}

func New(cfg Config, kind media.Kind, frames *framebuffer.Buffer, renderer Renderer, decoder Decoder, log logger.Logger) *Clock {
	if cfg.LowWaterMark <= 0 {
		cfg.LowWaterMark = DefaultLowWaterMark
	}
	if cfg.ColdStartDecodeAhead <= 0 {
		cfg.ColdStartDecodeAhead = DefaultColdStartDecodeAhead
	}
	if cfg.DecodeAhead <= 0 {
		cfg.DecodeAhead = DefaultDecodeAhead
	}
	if cfg.CorrectionThreshold <= 0 {
		cfg.CorrectionThreshold = DefaultCorrectionThreshold
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = DefaultMinDelay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = SleepContext
	}

	base := logger.WithStreamType(logger.WithComponent(logger.OrNull(log), "clock"), kind.String())
	return &Clock{
		cfg:           cfg,
		kind:          kind.String(),
		frames:        frames,
		renderer:      renderer,
		decoder:       decoder,
		logger:        base,
		sampledLogger: logger.NewPlaybackLogger(base),
	}
}

// Tick presents the next buffered frame, if any, and returns the delay
// until the next tick.
func (c *Clock) Tick() time.Duration {
	d, _ := c.tick()
	return d
}

func (c *Clock) tick() (time.Duration, bool) {
	c.requestMore()

	f, ok := c.frames.Pop()
	if !ok {
		return c.cfg.MinDelay, false
	}

	c.mu.Lock()
	c.moviePosition = f.Position
	now := c.cfg.Now()
	if !c.anchored {
		c.anchorWall = now
		c.anchorMovie = f.Position
		c.anchored = true
	}

	correction := (c.moviePosition - c.anchorMovie) - now.Sub(c.anchorWall).Seconds()
	stale := math.Abs(correction) > c.cfg.CorrectionThreshold.Seconds()
	if stale {
		c.anchorWall = now
		c.anchorMovie = f.Position
		c.anchorResets++
		correction = 0
	}
	c.lastCorrection = correction
	c.playing = true
	c.presented++
	c.mu.Unlock()

	c.renderer.Render(f)

	metrics.IncrementFramesPresented(c.kind)
	metrics.SetPlaybackPosition(f.Position)
	metrics.RecordClockCorrection(correction)
	if stale {
		metrics.IncrementClockAnchorResets()
		c.sampledLogger.InfoWithCategory(logger.CategoryAnchorReset, "Clock anchor reset after discontinuity", map[string]interface{}{
			"position": f.Position,
		})
	} else {
		c.sampledLogger.DebugWithCategory(logger.CategoryClockCorrection, "Drift correction", map[string]interface{}{
			"position":   f.Position,
			"correction": correction,
		})
	}
	if c.cfg.OnPosition != nil {
		c.cfg.OnPosition(f.Position)
	}

	delay := time.Duration((f.Duration + correction) * float64(time.Second))
	if delay < c.cfg.MinDelay {
		delay = c.cfg.MinDelay
	}
	return delay, true
}

// requestMore asks the decoder to refill a buffer below the low-water mark.
func (c *Clock) requestMore() {
	if c.decoder == nil {
		return
	}
	if c.frames.Len() > 0 && c.frames.BufferedDuration() >= c.cfg.LowWaterMark.Seconds() {
		return
	}

	c.mu.Lock()
	amount := c.cfg.DecodeAhead
	if !c.playing {
		amount = c.cfg.ColdStartDecodeAhead
	}
	c.mu.Unlock()

	if c.decoder.DecodeAhead(amount.Seconds()) {
		c.mu.Lock()
		c.requests++
		c.mu.Unlock()
	}
}

// Run ticks until the decoder is done and the buffer is empty, or ctx ends.
func (c *Clock) Run(ctx context.Context) error {
	metrics.IncrementGoroutineCreated("clock_" + c.kind)
	defer metrics.IncrementGoroutineDestroyed("clock_" + c.kind)

	var decoderDone <-chan struct{}
	if c.decoder != nil {
		decoderDone = c.decoder.Done()
	}

	idle := time.NewTimer(c.cfg.MinDelay)
	defer idle.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}

		delay, presented := c.tick()
		if presented {
			if err := c.cfg.Sleep(ctx, delay); err != nil {
				return nil
			}
			continue
		}

		if c.finished(decoderDone) {
			c.logger.WithField("presented", c.Stats().Presented).Debug("Presentation finished")
			return nil
		}

		idle.Reset(c.cfg.MinDelay)
		select {
		case <-ctx.Done():
			return nil
		case <-c.frames.Ready():
		case <-decoderDone:
			// Re-check the buffer once more before finishing.
			decoderDone = closedChan
		case <-idle.C:
		}
	}
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func (c *Clock) finished(decoderDone <-chan struct{}) bool {
	if decoderDone == nil {
		return false
	}
	select {
	case <-decoderDone:
		return c.frames.Len() == 0
	default:
		return false
	}
}

// Reset drops the drift anchor and returns to cold start, for seeks.
func (c *Clock) Reset(position float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anchored = false
	c.playing = false
	c.moviePosition = position
	c.lastCorrection = 0
}

// Position returns the timestamp of the last presented frame.
func (c *Clock) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moviePosition
}

func (c *Clock) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Position:       c.moviePosition,
		Correction:     c.lastCorrection,
		Presented:      c.presented,
		AnchorResets:   c.anchorResets,
		DecodeRequests: c.requests,
		Buffered:       c.frames.BufferedDuration(),
	}
}

// SleepContext waits for d or until ctx ends.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
