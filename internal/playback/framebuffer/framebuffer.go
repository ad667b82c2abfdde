// Package framebuffer holds decoded frames between a decode loop and the
// presentation clock.
package framebuffer

import (
	"sync"

	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/metrics"
)

// Buffer is a FIFO of decoded frames with a running total of their
// durations. Frames leave in the order they were pushed.
type Buffer struct {
	kind media.Kind

	mu       sync.Mutex
	frames   []media.Frame
	buffered float64
	pushed   uint64
	dropped  uint64

	// ready receives a token after every push; it never blocks the pusher.
	ready chan struct{}
}

// Stats is a snapshot of buffer counters.
type Stats struct {
	Frames   int     `json:"frames"`
	Buffered float64 `json:"buffered_seconds"`
	Pushed   uint64  `json:"pushed"`
	Dropped  uint64  `json:"dropped"`
}

func New(kind media.Kind) *Buffer {
	return &Buffer{
		kind:  kind,
		ready: make(chan struct{}, 1),
	}
}

// Push appends a frame.
func (b *Buffer) Push(f media.Frame) {
	b.mu.Lock()
	b.frames = append(b.frames, f)
	b.buffered += f.Duration
	b.pushed++
	b.publishLocked()
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// Pop removes the oldest frame.
func (b *Buffer) Pop() (media.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.frames) == 0 {
		return media.Frame{}, false
	}
	f := b.frames[0]
	b.frames[0] = media.Frame{}
	b.frames = b.frames[1:]
	b.buffered -= f.Duration
	if len(b.frames) == 0 {
		// Clear accumulated float error along with the backing array.
		b.buffered = 0
		b.frames = nil
	}
	b.publishLocked()
	return f, true
}

// Flush drops every held frame and returns how many were dropped.
func (b *Buffer) Flush() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.frames)
	b.frames = nil
	b.buffered = 0
	b.dropped += uint64(n)
	b.publishLocked()
	return n
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// BufferedDuration returns the summed duration of held frames in seconds.
func (b *Buffer) BufferedDuration() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffered
}

// Ready signals that a frame may be available.
func (b *Buffer) Ready() <-chan struct{} {
	return b.ready
}

func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Frames:   len(b.frames),
		Buffered: b.buffered,
		Pushed:   b.pushed,
		Dropped:  b.dropped,
	}
}

func (b *Buffer) publishLocked() {
	metrics.SetBufferedDuration(b.kind.String(), b.buffered)
}
