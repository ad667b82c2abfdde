package clock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/playback/framebuffer"
)

type fakeDecoder struct {
	mu       sync.Mutex
	requests []float64
	done     chan struct{}
}

func newFakeDecoder() *fakeDecoder {
	return &fakeDecoder{done: make(chan struct{})}
}

func (d *fakeDecoder) DecodeAhead(seconds float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, seconds)
	return true
}

func (d *fakeDecoder) Done() <-chan struct{} { return d.done }

func (d *fakeDecoder) seen() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]float64(nil), d.requests...)
}

type recorder struct {
	mu     sync.Mutex
	frames []media.Frame
}

func (r *recorder) Render(f media.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func fill(b *framebuffer.Buffer, start float64, n int, duration float64) {
	for i := 0; i < n; i++ {
		b.Push(media.NewVideoFrame(start+float64(i)*duration, duration, &media.VideoPayload{}))
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func TestCorrectionStaysNearZeroAtWallClockRate(t *testing.T) {
	frames := framebuffer.New(media.KindVideo)
	fill(frames, 0, 101, 0.04)

	virtual := NewVirtual(time.Unix(1000, 0))
	c := New(Config{Now: virtual.Now}, media.KindVideo, frames, &recorder{}, nil, nil)

	for i := 0; i < 100; i++ {
		delay := c.Tick()
		assert.InDelta(t, 0, c.Stats().Correction, 1e-6, "tick %d", i)
		assert.InDelta(t, 0.04, delay.Seconds(), 1e-6)
		// Wall clock advances exactly as far as the movie did.
		virtual.Advance(seconds(0.04))
	}
	assert.Zero(t, c.Stats().AnchorResets)
	assert.Equal(t, uint64(100), c.Stats().Presented)
}

func TestDiscontinuityResetsAnchor(t *testing.T) {
	frames := framebuffer.New(media.KindVideo)
	fill(frames, 0, 10, 0.04)
	// Two seconds jump, as after a seek.
	fill(frames, 2.4, 10, 0.04)

	virtual := NewVirtual(time.Unix(1000, 0))
	c := New(Config{Now: virtual.Now}, media.KindVideo, frames, &recorder{}, nil, nil)

	for i := 0; i < 10; i++ {
		c.Tick()
		virtual.Advance(seconds(0.04))
	}

	delay := c.Tick()
	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.AnchorResets)
	assert.Zero(t, stats.Correction)
	assert.InDelta(t, 0.04, delay.Seconds(), 1e-6, "no two second wait")
	assert.InDelta(t, 2.4, c.Position(), 1e-9)

	virtual.Advance(seconds(0.04))
	c.Tick()
	assert.InDelta(t, 0, c.Stats().Correction, 1e-6, "new anchor tracks the new timeline")
}

func TestCorrectionAdjustsDelay(t *testing.T) {
	frames := framebuffer.New(media.KindVideo)
	fill(frames, 0, 10, 0.04)

	virtual := NewVirtual(time.Unix(1000, 0))
	c := New(Config{Now: virtual.Now}, media.KindVideo, frames, &recorder{}, nil, nil)

	c.Tick()
	// Presentation ran 10ms late.
	virtual.Advance(seconds(0.05))
	delay := c.Tick()
	assert.InDelta(t, -0.01, c.Stats().Correction, 1e-6)
	assert.InDelta(t, 0.03, delay.Seconds(), 1e-6)

	// Half a second behind: still under the threshold, so the delay
	// collapses to the minimum.
	virtual.Advance(seconds(0.5))
	delay = c.Tick()
	assert.Equal(t, DefaultMinDelay, delay)
	assert.Zero(t, c.Stats().AnchorResets)
}

func TestEmptyBufferReturnsMinDelay(t *testing.T) {
	frames := framebuffer.New(media.KindVideo)
	r := &recorder{}
	c := New(Config{}, media.KindVideo, frames, r, nil, nil)

	assert.Equal(t, DefaultMinDelay, c.Tick())
	assert.Zero(t, r.count())
}

func TestRebufferRequests(t *testing.T) {
	frames := framebuffer.New(media.KindVideo)
	dec := newFakeDecoder()
	virtual := NewVirtual(time.Unix(0, 0))
	c := New(Config{Now: virtual.Now}, media.KindVideo, frames, &recorder{}, dec, nil)

	// Cold start asks for the larger amount.
	c.Tick()
	require.Equal(t, []float64{0.4}, dec.seen())

	fill(frames, 0, 10, 0.04)
	c.Tick()
	assert.Len(t, dec.seen(), 1, "0.4s buffered is above the low-water mark")

	for frames.BufferedDuration() >= 0.2 {
		c.Tick()
	}
	c.Tick()
	requests := dec.seen()
	require.Len(t, requests, 2)
	assert.Equal(t, 0.1, requests[1], "steady state asks for less")

	c.Reset(5)
	frames.Flush()
	c.Tick()
	requests = dec.seen()
	assert.Equal(t, 0.4, requests[len(requests)-1], "reset returns to cold start")
	assert.Equal(t, 5.0, c.Position())
}

func TestRunPresentsUntilDecoderDone(t *testing.T) {
	frames := framebuffer.New(media.KindVideo)
	dec := newFakeDecoder()
	r := &recorder{}
	virtual := NewVirtual(time.Unix(0, 0))

	var positions []float64
	c := New(Config{
		Now:        virtual.Now,
		Sleep:      virtual.Sleep,
		OnPosition: func(s float64) { positions = append(positions, s) },
	}, media.KindVideo, frames, r, dec, nil)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	fill(frames, 0, 25, 0.04)
	require.Eventually(t, func() bool { return r.count() == 25 }, time.Second, time.Millisecond)
	fill(frames, 1, 25, 0.04)
	close(dec.done)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("clock did not finish")
	}

	assert.Equal(t, 50, r.count())
	require.Len(t, positions, 50)
	for i := 1; i < len(positions); i++ {
		assert.GreaterOrEqual(t, positions[i], positions[i-1])
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	frames := framebuffer.New(media.KindVideo)
	c := New(Config{}, media.KindVideo, frames, &recorder{}, newFakeDecoder(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("clock ignored cancellation")
	}
}

func TestRendererFunc(t *testing.T) {
	var got media.Frame
	RendererFunc(func(f media.Frame) { got = f }).Render(media.Frame{Position: 3})
	assert.Equal(t, 3.0, got.Position)
}
