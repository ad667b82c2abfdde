package ui

import (
	"math"
	"strings"
	"sync"

	"github.com/zsiec/reel/internal/media"
)

// ramp maps brightness to glyphs, dark to light.
const ramp = " .:-=+*#%@"

// Snapshot is what the dashboard reads from the renderer on each tick.
type Snapshot struct {
	Preview     string
	Width       int
	Height      int
	Position    float64
	VideoFrames uint64
	AudioFrames uint64
	// AudioLevel is the RMS of the last audio frame, 0..1.
	AudioLevel float64
}

// Renderer turns presented frames into a text preview. Render only keeps
// the latest summary, so it never blocks the presentation clock.
type Renderer struct {
	cols int
	rows int

	mu   sync.Mutex
	snap Snapshot
}

// NewRenderer builds a renderer producing cols x rows previews.
func NewRenderer(cols, rows int) *Renderer {
	if cols <= 0 {
		cols = 48
	}
	if rows <= 0 {
		rows = 12
	}
	return &Renderer{cols: cols, rows: rows}
}

func (r *Renderer) Render(f media.Frame) {
	switch f.Kind {
	case media.KindVideo:
		if f.Video == nil {
			return
		}
		preview := r.preview(f.Video)
		r.mu.Lock()
		r.snap.Preview = preview
		r.snap.Width = f.Video.Width
		r.snap.Height = f.Video.Height
		r.snap.Position = f.Position
		r.snap.VideoFrames++
		r.mu.Unlock()
	case media.KindAudio:
		if f.Audio == nil {
			return
		}
		level := rms(f.Audio.Samples)
		r.mu.Lock()
		r.snap.AudioLevel = level
		r.snap.AudioFrames++
		if r.snap.VideoFrames == 0 {
			r.snap.Position = f.Position
		}
		r.mu.Unlock()
	}
}

// Snapshot returns the latest frame summary.
func (r *Renderer) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

func (r *Renderer) preview(v *media.VideoPayload) string {
	if v.Width <= 0 || v.Height <= 0 || v.LineSize <= 0 {
		return ""
	}

	var b strings.Builder
	b.Grow((r.cols + 1) * r.rows)
	for row := 0; row < r.rows; row++ {
		y := row * v.Height / r.rows
		for col := 0; col < r.cols; col++ {
			x := col * v.Width / r.cols
			b.WriteByte(ramp[brightness(v, x, y)*(len(ramp)-1)/255])
		}
		if row < r.rows-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func brightness(v *media.VideoPayload, x, y int) int {
	if v.Layout == media.LayoutRGB {
		i := y*v.LineSize + x*3
		if i+2 >= len(v.RGB) {
			return 0
		}
		// Integer approximation of Rec. 601 luma.
		return (2*int(v.RGB[i]) + 5*int(v.RGB[i+1]) + int(v.RGB[i+2])) / 8
	}
	i := y*v.LineSize + x
	if i >= len(v.Luma) {
		return 0
	}
	return int(v.Luma[i])
}

// rms of signed 16-bit little-endian samples, normalized to 0..1.
func rms(samples []byte) float64 {
	n := len(samples) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(uint16(samples[2*i]) | uint16(samples[2*i+1])<<8))
		sum += s * s
	}
	return math.Sqrt(sum/float64(n)) / 32768
}
