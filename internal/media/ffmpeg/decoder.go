package ffmpeg

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"unsafe"

	"github.com/obinnaokechukwu/ffgo"
	"github.com/obinnaokechukwu/ffgo/avcodec"
	"github.com/obinnaokechukwu/ffgo/avformat"
	"github.com/obinnaokechukwu/ffgo/avutil"
	"github.com/obinnaokechukwu/ffgo/swscale"

	"github.com/zsiec/reel/internal/media"
)

// OpenDecoder implements media.Container. A hardware device named in opts is
// attached when it can be created; otherwise decoding stays in software.
func (c *Container) OpenDecoder(info media.StreamInfo, opts media.DecoderOptions) (media.Decoder, error) {
	stream, err := c.stream(info.Index)
	if err != nil {
		return nil, err
	}
	par := avformat.GetStreamCodecPar(stream)

	codec := avcodec.FindDecoder(avformat.GetCodecParCodecID(par))
	if codec == nil {
		return nil, fmt.Errorf("%w: %s", media.ErrDecoderNotFound, info.Codec)
	}

	ctx := avcodec.AllocContext3(codec)
	if ctx == nil {
		return nil, errors.New("ffmpeg: failed to allocate codec context")
	}

	if err := avcodec.ParametersToContext(ctx, par); err != nil {
		avcodec.FreeContext(&ctx)
		return nil, fmt.Errorf("copy codec parameters: %w", err)
	}

	d := &decoder{ctx: ctx, kind: info.Kind}

	if info.Kind == media.KindVideo && opts.HWDevice != "" {
		if dev, err := ffgo.NewHWDeviceByName(opts.HWDevice, ""); err == nil {
			avcodec.SetCtxHWDeviceCtx(ctx, dev.Context())
			d.hw = dev
		}
	}

	if err := avcodec.Open2(ctx, codec, nil); err != nil {
		d.Close()
		return nil, fmt.Errorf("open codec %s: %w", info.Codec, err)
	}

	d.frame = avutil.FrameAlloc()
	if d.frame == nil {
		d.Close()
		return nil, errors.New("ffmpeg: failed to allocate frame")
	}
	if d.hw != nil {
		d.swFrame = avutil.FrameAlloc()
	}
	return d, nil
}

// decoder wraps an AVCodecContext. Only the owning decode loop calls it.
type decoder struct {
	ctx  avcodec.Context
	kind media.Kind
	hw   *ffgo.HWDevice

	frame   avutil.Frame
	swFrame avutil.Frame

	sws       swscale.Context
	rgbFrame  avutil.Frame
	swsWidth  int
	swsHeight int
	swsFormat avutil.PixelFormat

	// durations of sent packets, consumed one per received frame
	durations []int64
	draining  bool

	closeOnce sync.Once
}

func (d *decoder) Send(pkt media.Packet) error {
	if pkt == nil {
		d.draining = true
		return avcodec.SendPacket(d.ctx, nil)
	}

	p, ok := pkt.(*packet)
	if !ok {
		return fmt.Errorf("ffmpeg: foreign packet type %T", pkt)
	}
	if err := avcodec.SendPacket(d.ctx, p.pkt); err != nil {
		return err
	}
	d.durations = append(d.durations, p.Duration())
	return nil
}

func (d *decoder) Receive() (*media.RawFrame, error) {
	avutil.FrameUnref(d.frame)

	if err := avcodec.ReceiveFrame(d.ctx, d.frame); err != nil {
		switch {
		case avutil.IsAgain(err):
			return nil, media.ErrAgain
		case avutil.IsEOF(err):
			return nil, io.EOF
		default:
			return nil, err
		}
	}

	// ffgo has no frame duration or repeat_pict accessor: RepeatPict stays
	// zero and durations come from send order, which is off under B-frame
	// reordering when packet durations vary.
	raw := &media.RawFrame{
		PTS:            avutil.GetFramePTS(d.frame),
		PacketDuration: d.nextDuration(),
	}

	src := d.frame
	if d.swFrame != nil {
		avutil.FrameUnref(d.swFrame)
		// fails for frames the decoder already produced in system memory
		if err := avutil.HWFrameTransferData(d.swFrame, d.frame, 0); err == nil {
			src = d.swFrame
		}
	}
	raw.Handle = src

	switch d.kind {
	case media.KindVideo:
		video, err := d.videoView(src)
		if err != nil {
			return nil, err
		}
		raw.Video = video
	case media.KindAudio:
		raw.Audio = audioView(src)
	}
	return raw, nil
}

func (d *decoder) nextDuration() int64 {
	if len(d.durations) == 0 {
		return 0
	}
	dur := d.durations[0]
	d.durations = d.durations[1:]
	return dur
}

func (d *decoder) videoView(src avutil.Frame) (*media.RawVideo, error) {
	width := int(avutil.GetFrameWidth(src))
	height := int(avutil.GetFrameHeight(src))
	format := avutil.PixelFormat(avutil.GetFrameFormat(src))

	if format == avutil.PixelFormatYUV420P || format == avutil.PixelFormatYUVJ420P {
		v := &media.RawVideo{Layout: media.LayoutYUV, Width: width, Height: height}
		chromaHeight := (height + 1) / 2
		for p, rows := range [3]int{height, chromaHeight, chromaHeight} {
			v.LineSizes[p] = int(avutil.GetFrameLinesizePlane(src, p))
			v.Planes[p] = planeBytes(avutil.GetFrameDataPlane(src, p), v.LineSizes[p]*rows)
		}
		return v, nil
	}

	rgb, err := d.toRGB(src, width, height, format)
	if err != nil {
		return nil, err
	}
	lineSize := int(avutil.GetFrameLinesizePlane(rgb, 0))
	v := &media.RawVideo{Layout: media.LayoutRGB, Width: width, Height: height}
	v.LineSizes[0] = lineSize
	v.Planes[0] = planeBytes(avutil.GetFrameDataPlane(rgb, 0), lineSize*height)
	return v, nil
}

func (d *decoder) toRGB(src avutil.Frame, width, height int, format avutil.PixelFormat) (avutil.Frame, error) {
	if d.sws == nil || d.swsWidth != width || d.swsHeight != height || d.swsFormat != format {
		d.freeScaler()

		d.sws = swscale.GetContext(width, height, format, width, height, avutil.PixelFormatRGB24, swscale.FlagBilinear, nil, nil, nil)
		if d.sws == nil {
			return nil, fmt.Errorf("ffmpeg: no converter from pixel format %d", format)
		}

		d.rgbFrame = avutil.FrameAlloc()
		if d.rgbFrame == nil {
			d.freeScaler()
			return nil, errors.New("ffmpeg: failed to allocate frame")
		}
		avutil.SetFrameWidth(d.rgbFrame, int32(width))
		avutil.SetFrameHeight(d.rgbFrame, int32(height))
		avutil.SetFrameFormat(d.rgbFrame, int32(avutil.PixelFormatRGB24))
		if err := avutil.FrameGetBufferErr(d.rgbFrame, 0); err != nil {
			d.freeScaler()
			return nil, err
		}
		d.swsWidth, d.swsHeight, d.swsFormat = width, height, format
	}

	if ret := swscale.ScaleFrame(d.sws, d.rgbFrame, src); ret < 0 {
		return nil, avutil.NewError(ret, "sws_scale_frame")
	}
	return d.rgbFrame, nil
}

func (d *decoder) freeScaler() {
	if d.sws != nil {
		swscale.FreeContext(d.sws)
		d.sws = nil
	}
	if d.rgbFrame != nil {
		avutil.FrameFree(&d.rgbFrame)
	}
}

func audioView(src avutil.Frame) *media.RawAudio {
	format := avutil.SampleFormat(avutil.GetFrameFormat(src))
	a := &media.RawAudio{
		Format:     sampleFormat(format),
		SampleRate: int(avutil.GetFrameSampleRate(src)),
		Channels:   int(avutil.GetFrameChannels(src)),
		NbSamples:  int(avutil.GetFrameNbSamples(src)),
	}

	size := a.NbSamples * bytesPerSample(format)
	if !isPlanar(format) {
		size *= a.Channels
	}
	a.Samples = planeBytes(avutil.GetFrameDataPlane(src, 0), size)
	return a
}

func planeBytes(data unsafe.Pointer, n int) []byte {
	if data == nil || n <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(data), n)
}

func (d *decoder) Flush() {
	avcodec.FlushBuffers(d.ctx)
	d.durations = d.durations[:0]
	d.draining = false
}

func (d *decoder) TimeBase() media.Rational {
	tb := avcodec.GetCtxTimeBase(d.ctx)
	return media.NewRational(int(tb.Num), int(tb.Den))
}

func (d *decoder) Width() int  { return int(avcodec.GetCtxWidth(d.ctx)) }
func (d *decoder) Height() int { return int(avcodec.GetCtxHeight(d.ctx)) }

func (d *decoder) HardwareAccelerated() bool { return d.hw != nil }

func (d *decoder) Close() error {
	d.closeOnce.Do(func() {
		d.freeScaler()
		if d.swFrame != nil {
			avutil.FrameFree(&d.swFrame)
		}
		if d.frame != nil {
			avutil.FrameFree(&d.frame)
		}
		avcodec.FreeContext(&d.ctx)
		if d.hw != nil {
			d.hw.Close()
		}
	})
	return nil
}

func sampleFormat(f avutil.SampleFormat) media.SampleFormat {
	switch f {
	case avutil.SampleFormatS16:
		return media.SampleFormatS16
	case avutil.SampleFormatS16P:
		return media.SampleFormatS16Planar
	case avutil.SampleFormatFlt:
		return media.SampleFormatFloat
	case avutil.SampleFormatFltP:
		return media.SampleFormatFloatPlanar
	case avutil.SampleFormatNone:
		return media.SampleFormatUnknown
	default:
		return media.SampleFormatOther
	}
}

func bytesPerSample(f avutil.SampleFormat) int {
	switch f {
	case avutil.SampleFormatU8, avutil.SampleFormatU8P:
		return 1
	case avutil.SampleFormatS16, avutil.SampleFormatS16P:
		return 2
	case avutil.SampleFormatDbl, avutil.SampleFormatDblP, avutil.SampleFormatS64, avutil.SampleFormatS64P:
		return 8
	default:
		return 4
	}
}

func isPlanar(f avutil.SampleFormat) bool {
	return f >= avutil.SampleFormatU8P && f <= avutil.SampleFormatDblP || f == avutil.SampleFormatS64P
}
