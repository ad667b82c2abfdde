package media

// PixelLayout identifies how a video payload stores its pixels.
type PixelLayout int

const (
	// LayoutYUV is planar 4:2:0 with one luma and two half-size chroma planes.
	LayoutYUV PixelLayout = iota
	// LayoutRGB is packed 8-bit RGB, three bytes per pixel.
	LayoutRGB
)

func (l PixelLayout) String() string {
	if l == LayoutRGB {
		return "rgb"
	}
	return "yuv"
}

// RawVideo is a view over decoder-owned video planes.
type RawVideo struct {
	Layout    PixelLayout
	Width     int
	Height    int
	Planes    [3][]byte
	LineSizes [3]int
}

// RawAudio is a view over decoder-owned audio samples. Samples holds the
// first (or only, when interleaved) plane.
type RawAudio struct {
	Format     SampleFormat
	SampleRate int
	Channels   int
	NbSamples  int
	Samples    []byte
}

// RawFrame is what a Decoder hands back from Receive. Exactly one of Video
// and Audio is set.
type RawFrame struct {
	PTS int64
	// PacketDuration in stream time-base units; zero when unknown.
	PacketDuration int64
	RepeatPict     int

	Video *RawVideo
	Audio *RawAudio

	// Handle is the codec library's native frame, for resamplers that need it.
	Handle any
}

// VideoPayload holds independently owned pixel data.
type VideoPayload struct {
	Layout PixelLayout
	Width  int
	Height int

	Luma    []byte
	ChromaB []byte
	ChromaR []byte

	RGB      []byte
	LineSize int
}

// AudioPayload holds signed 16-bit interleaved PCM.
type AudioPayload struct {
	SampleRate int
	Channels   int
	Samples    []byte
}

// Frames returns the number of sample frames in the payload.
func (a *AudioPayload) Frames() int {
	if a.Channels == 0 {
		return 0
	}
	return len(a.Samples) / (2 * a.Channels)
}

// Frame is a decoded presentation unit. Kind selects which payload is set;
// consumers switch on it.
type Frame struct {
	Kind     Kind
	Position float64
	Duration float64

	Video *VideoPayload
	Audio *AudioPayload
}

// NewVideoFrame builds a video frame.
func NewVideoFrame(position, duration float64, payload *VideoPayload) Frame {
	return Frame{Kind: KindVideo, Position: position, Duration: duration, Video: payload}
}

// NewAudioFrame builds an audio frame.
func NewAudioFrame(position, duration float64, payload *AudioPayload) Frame {
	return Frame{Kind: KindAudio, Position: position, Duration: duration, Audio: payload}
}
