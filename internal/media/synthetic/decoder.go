package synthetic

import (
	"io"
	"sync/atomic"

	"github.com/zsiec/reel/internal/media"
)

type pendingFrame struct {
	seq      int
	pts      int64
	duration int64
}

// Decoder turns each synthetic packet into exactly one frame.
type Decoder struct {
	spec StreamSpec

	pending  []pendingFrame
	draining bool

	sent    atomic.Int64
	flushes atomic.Int32
	closed  atomic.Int32
}

// Send implements media.Decoder.
func (d *Decoder) Send(pkt media.Packet) error {
	if pkt == nil {
		d.draining = true
		return nil
	}
	p, ok := pkt.(*Packet)
	if !ok {
		return ErrCorruptPacket
	}
	d.sent.Add(1)
	if p.data.corrupt {
		return ErrCorruptPacket
	}
	d.pending = append(d.pending, pendingFrame{seq: p.data.seq, pts: p.data.pts, duration: p.data.duration})
	return nil
}

// Receive implements media.Decoder.
func (d *Decoder) Receive() (*media.RawFrame, error) {
	if len(d.pending) == 0 {
		if d.draining {
			return nil, io.EOF
		}
		return nil, media.ErrAgain
	}
	p := d.pending[0]
	d.pending = d.pending[1:]

	f := &media.RawFrame{PTS: p.pts, PacketDuration: p.duration}
	switch d.spec.Kind {
	case media.KindVideo:
		f.RepeatPict = d.spec.RepeatPict
		f.Video = d.videoPlanes(p.seq)
	case media.KindAudio:
		f.Audio = d.audioSamples(p.seq)
	}
	return f, nil
}

func (d *Decoder) videoPlanes(seq int) *media.RawVideo {
	w, h := d.spec.Width, d.spec.Height
	v := &media.RawVideo{Width: w, Height: h}
	if d.spec.RGB {
		v.Layout = media.LayoutRGB
		v.LineSizes[0] = align(w*3, 32)
		v.Planes[0] = fill(v.LineSizes[0]*h, byte(seq))
		return v
	}
	v.Layout = media.LayoutYUV
	v.LineSizes = [3]int{align(w, 32), align(w/2, 32), align(w/2, 32)}
	v.Planes[0] = fill(v.LineSizes[0]*h, byte(seq))
	v.Planes[1] = fill(v.LineSizes[1]*h/2, 0x80)
	v.Planes[2] = fill(v.LineSizes[2]*h/2, 0x80)
	return v
}

func (d *Decoder) audioSamples(seq int) *media.RawAudio {
	n := d.spec.SamplesPerFrame
	return &media.RawAudio{
		Format:     d.spec.SampleFormat,
		SampleRate: d.spec.SampleRate,
		Channels:   d.spec.Channels,
		NbSamples:  n,
		Samples:    fill(n*d.spec.Channels*2, byte(seq)),
	}
}

// Flush implements media.Decoder.
func (d *Decoder) Flush() {
	d.pending = nil
	d.draining = false
	d.flushes.Add(1)
}

// TimeBase implements media.Decoder.
func (d *Decoder) TimeBase() media.Rational { return d.spec.CodecTimeBase }

func (d *Decoder) Width() int { return d.spec.Width }

func (d *Decoder) Height() int { return d.spec.Height }

func (d *Decoder) HardwareAccelerated() bool { return false }

// Close implements media.Decoder.
func (d *Decoder) Close() error {
	d.closed.Add(1)
	return nil
}

// Sent reports how many packets were fed to the decoder.
func (d *Decoder) Sent() int64 { return d.sent.Load() }

// Flushes reports how many times Flush was called.
func (d *Decoder) Flushes() int { return int(d.flushes.Load()) }

// CloseCount reports how many times Close was called.
func (d *Decoder) CloseCount() int { return int(d.closed.Load()) }

// Resampler rewrites synthetic S16 audio to the target format description.
type Resampler struct {
	target media.AudioFormat
	closed atomic.Int32
}

// Resample implements media.Resampler.
func (r *Resampler) Resample(frame *media.RawFrame) (*media.RawAudio, error) {
	out := *frame.Audio
	out.SampleRate = r.target.SampleRate
	out.Format = media.SampleFormatS16
	return &out, nil
}

// Close implements media.Resampler.
func (r *Resampler) Close() error {
	r.closed.Add(1)
	return nil
}

func align(n, to int) int {
	return (n + to - 1) / to * to
}

func fill(n int, b byte) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b
	}
	return buf
}
