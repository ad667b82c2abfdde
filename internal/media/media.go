// Package media defines the playback pipeline's view of a media container and
// its decoders. The codec library itself lives behind these interfaces; see
// the ffmpeg subpackage for the production implementation and the synthetic
// subpackage for a deterministic in-memory one.
package media

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAgain reports that no data is available yet. Callers poll again.
	ErrAgain = errors.New("media: resource temporarily unavailable")

	// ErrNoStreamInfo is returned by Source.Open when the container opened
	// but its stream parameters could not be probed.
	ErrNoStreamInfo = errors.New("media: stream info not found")

	// ErrDecoderNotFound is returned when no decoder exists for a stream's codec.
	ErrDecoderNotFound = errors.New("media: decoder not found")
)

// Kind discriminates elementary stream and frame types.
type Kind int

const (
	KindUnknown Kind = iota
	KindVideo
	KindAudio
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// SampleFormat identifies an audio sample layout.
type SampleFormat int

const (
	SampleFormatUnknown SampleFormat = iota
	// SampleFormatS16 is signed 16-bit interleaved, the playback format.
	SampleFormatS16
	SampleFormatS16Planar
	SampleFormatFloat
	SampleFormatFloatPlanar
	SampleFormatOther
)

// AudioFormat is the sample layout an audio sink consumes.
type AudioFormat struct {
	SampleRate int
	Channels   int
	Format     SampleFormat
}

// Matches reports whether a stream already produces this format.
func (f AudioFormat) Matches(info StreamInfo) bool {
	return info.SampleFormat == f.Format &&
		info.SampleRate == f.SampleRate &&
		info.Channels == f.Channels
}

// StreamInfo is the container-level description of one elementary stream.
type StreamInfo struct {
	Index           int
	Kind            Kind
	Codec           string
	AttachedPicture bool

	TimeBase      Rational
	AvgFrameRate  Rational
	RealFrameRate Rational

	Width  int
	Height int

	SampleRate   int
	Channels     int
	SampleFormat SampleFormat
}

// Packet is a reference-counted handle to compressed data owned by the codec
// library. Release must be called exactly once per handle.
type Packet interface {
	StreamIndex() int
	Size() int
	// Duration is expressed in stream time-base units.
	Duration() int64
	// Ref returns a new handle sharing the same payload.
	Ref() (Packet, error)
	Release()
}

// DecoderOptions configures Container.OpenDecoder.
type DecoderOptions struct {
	// HWDevice names a hardware device type ("videotoolbox", "vaapi", ...).
	// Attaching it is best effort; an empty name disables the attempt.
	HWDevice string
}

// Decoder is an opened decoder context for a single stream. It is used by
// exactly one goroutine after opening.
type Decoder interface {
	// Send feeds a packet. A nil packet enters draining mode.
	Send(pkt Packet) error
	// Receive returns the next decoded frame. It returns ErrAgain when the
	// decoder needs more input and io.EOF once fully drained. The returned
	// frame's planes are only valid until the next Receive call.
	Receive() (*RawFrame, error)
	// Flush discards buffered decoder state, used after seeking.
	Flush()
	// TimeBase is the codec-level time base, possibly zero.
	TimeBase() Rational
	Width() int
	Height() int
	HardwareAccelerated() bool
	Close() error
}

// Resampler converts decoded audio to the playback format.
type Resampler interface {
	Resample(frame *RawFrame) (*RawAudio, error)
	Close() error
}

// Container is an opened media file.
type Container interface {
	Streams() []StreamInfo
	Duration() time.Duration
	// ReadPacket returns the next packet, ErrAgain when no data is available
	// yet, io.EOF at end of input, or any other error for hard I/O failures.
	ReadPacket() (Packet, error)
	// Seek repositions the read cursor to the given position in seconds.
	Seek(seconds float64) error
	OpenDecoder(info StreamInfo, opts DecoderOptions) (Decoder, error)
	NewResampler(info StreamInfo, target AudioFormat) (Resampler, error)
	Close() error
}

// Source opens containers by path.
type Source interface {
	Open(ctx context.Context, path string) (Container, error)
}
