package ffmpeg

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/obinnaokechukwu/ffgo/avcodec"
	"github.com/obinnaokechukwu/ffgo/avformat"
	"github.com/obinnaokechukwu/ffgo/avutil"

	"github.com/zsiec/reel/internal/media"
)

// Container is an opened libavformat input.
type Container struct {
	fmtCtx  avformat.FormatContext
	streams []avformat.Stream
	infos   []media.StreamInfo

	closeOnce sync.Once
}

func newContainer(fmtCtx avformat.FormatContext) *Container {
	c := &Container{fmtCtx: fmtCtx}
	n := avformat.GetNumStreams(fmtCtx)
	for i := 0; i < n; i++ {
		stream := avformat.GetStream(fmtCtx, i)
		c.streams = append(c.streams, stream)
		c.infos = append(c.infos, describeStream(i, stream))
	}
	return c
}

func describeStream(index int, stream avformat.Stream) media.StreamInfo {
	info := media.StreamInfo{Index: index}
	if stream == nil {
		return info
	}
	par := avformat.GetStreamCodecPar(stream)
	if par == nil {
		return info
	}

	codecID := avformat.GetCodecParCodecID(par)
	if codec := avcodec.FindDecoder(codecID); codec != nil {
		info.Codec = avcodec.GetCodecName(codec)
	} else {
		info.Codec = codecID.String()
	}

	tbNum, tbDen := avformat.GetStreamTimeBase(stream)
	info.TimeBase = media.NewRational(int(tbNum), int(tbDen))

	switch avformat.GetCodecParType(par) {
	case avutil.MediaTypeVideo:
		info.Kind = media.KindVideo
		info.Width = int(avformat.GetCodecParWidth(par))
		info.Height = int(avformat.GetCodecParHeight(par))

		frNum, frDen := avformat.GetStreamAvgFrameRate(stream)
		info.AvgFrameRate = media.NewRational(int(frNum), int(frDen))
		info.AttachedPicture = isStillImageCodec(codecID) && !info.AvgFrameRate.Valid()
	case avutil.MediaTypeAudio:
		info.Kind = media.KindAudio
		info.SampleRate = int(avformat.GetCodecParSampleRate(par))
		info.Channels = int(avformat.GetCodecParChannels(par))
		info.SampleFormat = sampleFormat(avutil.SampleFormat(avformat.GetCodecParFormat(par)))
	}
	return info
}

// Cover art is stored as a single image-coded packet without a frame rate.
func isStillImageCodec(id avcodec.CodecID) bool {
	switch id {
	case avcodec.CodecIDPNG, avcodec.CodecIDBMP, avcodec.CodecIDGIF, avcodec.CodecIDMJPEG:
		return true
	}
	return false
}

// Streams implements media.Container.
func (c *Container) Streams() []media.StreamInfo {
	return append([]media.StreamInfo(nil), c.infos...)
}

// Duration implements media.Container.
func (c *Container) Duration() time.Duration {
	us := avformat.GetDuration(c.fmtCtx)
	if us <= 0 {
		return 0
	}
	return time.Duration(us) * time.Microsecond
}

// ReadPacket implements media.Container.
func (c *Container) ReadPacket() (media.Packet, error) {
	pkt := avcodec.PacketAlloc()
	if pkt == nil {
		return nil, errors.New("ffmpeg: failed to allocate packet")
	}

	if err := avformat.ReadFrame(c.fmtCtx, pkt); err != nil {
		avcodec.PacketFree(&pkt)
		switch {
		case avutil.IsAgain(err):
			return nil, media.ErrAgain
		case avutil.IsEOF(err):
			return nil, io.EOF
		default:
			return nil, fmt.Errorf("read packet: %w", err)
		}
	}
	return &packet{pkt: pkt}, nil
}

// Seek implements media.Container. It lands on the key frame at or before
// the target.
func (c *Container) Seek(seconds float64) error {
	if seconds < 0 {
		seconds = 0
	}
	ts := int64(seconds * float64(time.Second/time.Microsecond))
	if err := avformat.SeekFrame(c.fmtCtx, -1, ts, avformat.SeekFlagBackward); err != nil {
		return fmt.Errorf("seek to %.3fs: %w", seconds, err)
	}
	return nil
}

func (c *Container) stream(index int) (avformat.Stream, error) {
	if index < 0 || index >= len(c.streams) || c.streams[index] == nil {
		return nil, fmt.Errorf("ffmpeg: no stream %d", index)
	}
	return c.streams[index], nil
}

// Close implements media.Container.
func (c *Container) Close() error {
	c.closeOnce.Do(func() {
		avformat.CloseInput(&c.fmtCtx)
	})
	return nil
}
