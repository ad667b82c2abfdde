// Package synthetic provides a deterministic in-memory container and decoder
// that generate evenly spaced frames. It backs pipeline tests and lets the
// player run without a codec library installed.
package synthetic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/reel/internal/media"
)

// ErrCorruptPacket is returned by the decoder for packets marked corrupt.
var ErrCorruptPacket = errors.New("synthetic: corrupt packet")

// StreamSpec describes one generated stream.
type StreamSpec struct {
	Kind media.Kind
	// Frames is the number of packets generated for the stream.
	Frames int
	// Ticks per second of the stream time base; zero leaves it unset.
	TimeScale int
	// FrameRate leaves AvgFrameRate unset when zero.
	FrameRate       media.Rational
	Width, Height   int
	SampleRate      int
	Channels        int
	SamplesPerFrame int
	SampleFormat    media.SampleFormat
	Codec           string
	AttachedPicture bool

	// ZeroDuration makes packets and frames report no duration.
	ZeroDuration bool
	// CodecTimeBase is returned by the opened decoder.
	CodecTimeBase media.Rational
	// RepeatPict is reported on every decoded video frame.
	RepeatPict int
	// RGB makes the decoder produce packed RGB frames.
	RGB bool
	// PacketSize is the payload size reported for each packet.
	PacketSize int
	// Corrupt lists packet sequence numbers the decoder rejects.
	Corrupt map[int]bool

	// FailOpen makes OpenDecoder fail with the given error.
	FailOpen error
	// FailResampler makes NewResampler fail.
	FailResampler bool
}

// Spec describes a generated container.
type Spec struct {
	Streams []StreamSpec
	// TransientEvery injects media.ErrAgain before every n-th packet.
	TransientEvery int
	// FailAfter injects a hard read error after n packets; zero disables.
	FailAfter int
}

// VideoSpec returns a single-stream video container of the given length.
func VideoSpec(seconds float64, fps int) Spec {
	return Spec{Streams: []StreamSpec{{
		Kind:       media.KindVideo,
		Frames:     int(math.Round(seconds * float64(fps))),
		TimeScale:  fps * 1000,
		FrameRate:  media.Rational{Num: fps, Den: 1},
		Width:      64,
		Height:     36,
		Codec:      "h264",
		PacketSize: 1024,
	}}}
}

// AudioStream returns an S16 stereo stream spec lasting the given seconds.
func AudioStream(seconds float64, sampleRate int) StreamSpec {
	const samplesPerFrame = 1024
	return StreamSpec{
		Kind:            media.KindAudio,
		Frames:          int(math.Ceil(seconds * float64(sampleRate) / samplesPerFrame)),
		TimeScale:       sampleRate,
		SampleRate:      sampleRate,
		Channels:        2,
		SamplesPerFrame: samplesPerFrame,
		SampleFormat:    media.SampleFormatS16,
		Codec:           "pcm_s16le",
		PacketSize:      samplesPerFrame * 4,
	}
}

// Source opens synthetic containers. Paths are looked up in Files; an
// unknown path fails like a missing file.
type Source struct {
	Files map[string]Spec

	mu     sync.Mutex
	opened []*Container
}

// NewSource returns a source serving the given files.
func NewSource(files map[string]Spec) *Source {
	return &Source{Files: files}
}

// Open implements media.Source.
func (s *Source) Open(ctx context.Context, path string) (media.Container, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	spec, ok := s.Files[path]
	if !ok {
		return nil, fmt.Errorf("synthetic: open %s: %w", path, errNotExist)
	}
	c := NewContainer(spec)

	s.mu.Lock()
	s.opened = append(s.opened, c)
	s.mu.Unlock()
	return c, nil
}

// Opened returns every container handed out so far.
func (s *Source) Opened() []*Container {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Container(nil), s.opened...)
}

var errNotExist = errors.New("no such file")

// Container is an in-memory media.Container.
type Container struct {
	spec  Spec
	infos []media.StreamInfo

	mu      sync.Mutex
	cursor  []int // next frame per stream
	reads   int
	pending bool // transient error already reported for the current read

	closed     atomic.Int32
	liveRefs   atomic.Int64
	decoders   []*Decoder
	seekCalled atomic.Int32
}

// NewContainer builds a container from a spec.
func NewContainer(spec Spec) *Container {
	c := &Container{spec: spec, cursor: make([]int, len(spec.Streams))}
	for i, s := range spec.Streams {
		info := media.StreamInfo{
			Index:           i,
			Kind:            s.Kind,
			Codec:           s.Codec,
			AttachedPicture: s.AttachedPicture,
			AvgFrameRate:    s.FrameRate,
			Width:           s.Width,
			Height:          s.Height,
			SampleRate:      s.SampleRate,
			Channels:        s.Channels,
			SampleFormat:    s.SampleFormat,
		}
		if s.TimeScale > 0 {
			info.TimeBase = media.Rational{Num: 1, Den: s.TimeScale}
		}
		c.infos = append(c.infos, info)
	}
	return c
}

// Streams implements media.Container.
func (c *Container) Streams() []media.StreamInfo {
	return append([]media.StreamInfo(nil), c.infos...)
}

// Duration implements media.Container.
func (c *Container) Duration() time.Duration {
	var longest time.Duration
	for _, s := range c.spec.Streams {
		if d := s.length(); d > longest {
			longest = d
		}
	}
	return longest
}

// ReadPacket implements media.Container. Packets of all streams are
// interleaved by presentation time.
func (c *Container) ReadPacket() (media.Packet, error) {
	if c.closed.Load() != 0 {
		return nil, errors.New("synthetic: read on closed container")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.spec.FailAfter > 0 && c.reads >= c.spec.FailAfter {
		return nil, errors.New("synthetic: i/o error")
	}
	if c.spec.TransientEvery > 0 && c.reads%c.spec.TransientEvery == 0 && !c.pending {
		c.pending = true
		return nil, media.ErrAgain
	}
	c.pending = false

	next := -1
	nextPos := math.Inf(1)
	for i, s := range c.spec.Streams {
		if c.cursor[i] >= s.Frames {
			continue
		}
		if pos := s.position(c.cursor[i]); pos < nextPos {
			next, nextPos = i, pos
		}
	}
	if next < 0 {
		return nil, io.EOF
	}

	s := c.spec.Streams[next]
	seq := c.cursor[next]
	c.cursor[next]++
	c.reads++

	p := &Packet{
		data: &packetData{
			stream:   next,
			seq:      seq,
			pts:      s.pts(seq),
			size:     s.PacketSize,
			corrupt:  s.Corrupt[seq],
			duration: s.ticksPerFrame(),
			live:     &c.liveRefs,
		},
	}
	if s.ZeroDuration {
		p.data.duration = 0
	}
	c.liveRefs.Add(1)
	return p, nil
}

// Seek implements media.Container.
func (c *Container) Seek(seconds float64) error {
	c.seekCalled.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.spec.Streams {
		frame := 0
		for frame < s.Frames && s.position(frame) < seconds {
			frame++
		}
		c.cursor[i] = frame
	}
	return nil
}

// OpenDecoder implements media.Container.
func (c *Container) OpenDecoder(info media.StreamInfo, _ media.DecoderOptions) (media.Decoder, error) {
	if info.Index < 0 || info.Index >= len(c.spec.Streams) {
		return nil, fmt.Errorf("synthetic: stream %d: %w", info.Index, media.ErrDecoderNotFound)
	}
	s := c.spec.Streams[info.Index]
	if s.Codec == "" {
		return nil, fmt.Errorf("synthetic: stream %d: %w", info.Index, media.ErrDecoderNotFound)
	}
	if s.FailOpen != nil {
		return nil, s.FailOpen
	}
	d := &Decoder{spec: s}
	c.mu.Lock()
	c.decoders = append(c.decoders, d)
	c.mu.Unlock()
	return d, nil
}

// NewResampler implements media.Container. Synthetic audio is already S16,
// so the resampler only rewrites the reported rate.
func (c *Container) NewResampler(info media.StreamInfo, target media.AudioFormat) (media.Resampler, error) {
	if info.Index < 0 || info.Index >= len(c.spec.Streams) || c.spec.Streams[info.Index].FailResampler {
		return nil, errors.New("synthetic: resampler unavailable")
	}
	return &Resampler{target: target}, nil
}

// Close implements media.Container.
func (c *Container) Close() error {
	c.closed.Add(1)
	return nil
}

// CloseCount reports how many times Close was called.
func (c *Container) CloseCount() int { return int(c.closed.Load()) }

// LiveRefs reports packet handles not yet released.
func (c *Container) LiveRefs() int64 { return c.liveRefs.Load() }

// SeekCount reports how many times Seek was called.
func (c *Container) SeekCount() int { return int(c.seekCalled.Load()) }

// Decoders returns every decoder opened on this container.
func (c *Container) Decoders() []*Decoder {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Decoder(nil), c.decoders...)
}

func (s StreamSpec) ticksPerFrame() int64 {
	if s.TimeScale == 0 {
		return 0
	}
	if s.Kind == media.KindAudio {
		return int64(s.SamplesPerFrame) * int64(s.TimeScale) / int64(s.SampleRate)
	}
	if !s.FrameRate.Valid() {
		return 1
	}
	return int64(float64(s.TimeScale) / s.FrameRate.Float64())
}

func (s StreamSpec) pts(seq int) int64 {
	return int64(seq) * s.ticksPerFrame()
}

func (s StreamSpec) position(seq int) float64 {
	if s.TimeScale == 0 {
		return float64(seq)
	}
	return float64(s.pts(seq)) / float64(s.TimeScale)
}

func (s StreamSpec) length() time.Duration {
	return time.Duration(s.position(s.Frames) * float64(time.Second))
}
