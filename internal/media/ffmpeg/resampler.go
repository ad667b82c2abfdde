package ffmpeg

import (
	"errors"
	"fmt"

	"github.com/obinnaokechukwu/ffgo/avformat"
	"github.com/obinnaokechukwu/ffgo/avutil"
	"github.com/obinnaokechukwu/ffgo/swresample"

	"github.com/zsiec/reel/internal/media"
)

// Native channel masks for the default layouts.
const (
	layoutMono     int64 = 0x4
	layoutStereo   int64 = 0x3
	layoutSurround int64 = 0x7
	layout5Point1  int64 = 0x60F
	layout7Point1  int64 = 0x63F
)

func defaultLayout(channels int) int64 {
	switch channels {
	case 1:
		return layoutMono
	case 3:
		return layoutSurround
	case 6:
		return layout5Point1
	case 8:
		return layout7Point1
	default:
		return layoutStereo
	}
}

func avformatSampleFormat(stream avformat.Stream) avutil.SampleFormat {
	return avutil.SampleFormat(avformat.GetCodecParFormat(avformat.GetStreamCodecPar(stream)))
}

// NewResampler implements media.Container. The target is always S16
// interleaved.
func (c *Container) NewResampler(info media.StreamInfo, target media.AudioFormat) (media.Resampler, error) {
	if info.SampleRate <= 0 || target.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: src=%d, dst=%d", info.SampleRate, target.SampleRate)
	}
	if info.Channels <= 0 || target.Channels <= 0 {
		return nil, fmt.Errorf("invalid channel count: src=%d, dst=%d", info.Channels, target.Channels)
	}

	stream, err := c.stream(info.Index)
	if err != nil {
		return nil, err
	}
	srcFormat := int32(avformatSampleFormat(stream))

	if err := swresample.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize swresample: %w", err)
	}

	ctx := swresample.AllocSetOpts(nil,
		defaultLayout(target.Channels), int32(avutil.SampleFormatS16), int32(target.SampleRate),
		defaultLayout(info.Channels), srcFormat, int32(info.SampleRate))
	if ctx == nil {
		return nil, errors.New("failed to allocate swresample context")
	}
	if err := swresample.InitContext(ctx); err != nil {
		swresample.Free(&ctx)
		return nil, fmt.Errorf("failed to initialize swresample context: %w", err)
	}

	out := avutil.FrameAlloc()
	if out == nil {
		swresample.Free(&ctx)
		return nil, errors.New("ffmpeg: failed to allocate frame")
	}

	return &resampler{ctx: ctx, out: out, srcRate: info.SampleRate, target: target}, nil
}

type resampler struct {
	ctx     swresample.SwrContext
	out     avutil.Frame
	srcRate int
	target  media.AudioFormat
	closed  bool
}

// Resample converts one decoded frame. The returned samples are only valid
// until the next call.
func (r *resampler) Resample(frame *media.RawFrame) (*media.RawAudio, error) {
	if r.closed {
		return nil, errors.New("resampler is closed")
	}
	in, ok := frame.Handle.(avutil.Frame)
	if !ok || in == nil {
		return nil, errors.New("ffmpeg: frame has no native handle")
	}

	avutil.FrameUnref(r.out)
	avutil.FrameSetSampleRate(r.out, int32(r.target.SampleRate))
	avutil.FrameSetChannels(r.out, int32(r.target.Channels))
	avutil.FrameSetFormat(r.out, int32(avutil.SampleFormatS16))

	inSamples := int(avutil.GetFrameNbSamples(in))
	outSamples := swresample.GetOutSamples(r.ctx, inSamples)
	if outSamples <= 0 {
		outSamples = inSamples*r.target.SampleRate/r.srcRate + 256
	}
	avutil.FrameSetNbSamples(r.out, int32(outSamples))

	if err := avutil.FrameGetBufferErr(r.out, 0); err != nil {
		return nil, fmt.Errorf("failed to allocate output frame buffer: %w", err)
	}
	if err := swresample.ConvertFrame(r.ctx, r.out, in); err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}

	converted := int(avutil.GetFrameNbSamples(r.out))
	return &media.RawAudio{
		Format:     media.SampleFormatS16,
		SampleRate: r.target.SampleRate,
		Channels:   r.target.Channels,
		NbSamples:  converted,
		Samples:    planeBytes(avutil.GetFrameDataPlane(r.out, 0), converted*r.target.Channels*2),
	}, nil
}

func (r *resampler) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	avutil.FrameFree(&r.out)
	swresample.Free(&r.ctx)
	return nil
}
