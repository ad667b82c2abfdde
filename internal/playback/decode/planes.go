package decode

import (
	"fmt"

	"github.com/zsiec/reel/internal/media"
)

// copyPlane copies rows of rowBytes from a strided source into a packed
// buffer. Rows missing from a short source are left zeroed.
func copyPlane(src []byte, stride, rowBytes, rows int) []byte {
	if stride < rowBytes {
		rowBytes = stride
	}
	if rowBytes <= 0 || rows <= 0 || len(src) == 0 {
		return nil
	}
	dst := make([]byte, rowBytes*rows)
	for y := 0; y < rows; y++ {
		start := y * stride
		if start >= len(src) {
			break
		}
		end := start + rowBytes
		if end > len(src) {
			end = len(src)
		}
		copy(dst[y*rowBytes:], src[start:end])
	}
	return dst
}

// CopyVideo moves decoder-owned planes into an independently owned payload.
// Each plane is packed to min(linesize, visible row bytes) per row.
func CopyVideo(v *media.RawVideo) (*media.VideoPayload, error) {
	if v.Width <= 0 || v.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", v.Width, v.Height)
	}

	p := &media.VideoPayload{
		Layout: v.Layout,
		Width:  v.Width,
		Height: v.Height,
	}

	switch v.Layout {
	case media.LayoutYUV:
		cw, ch := (v.Width+1)/2, (v.Height+1)/2
		p.Luma = copyPlane(v.Planes[0], v.LineSizes[0], v.Width, v.Height)
		p.ChromaB = copyPlane(v.Planes[1], v.LineSizes[1], cw, ch)
		p.ChromaR = copyPlane(v.Planes[2], v.LineSizes[2], cw, ch)
		if p.Luma == nil || p.ChromaB == nil || p.ChromaR == nil {
			return nil, fmt.Errorf("missing yuv plane")
		}
		p.LineSize = len(p.Luma) / v.Height
	case media.LayoutRGB:
		p.RGB = copyPlane(v.Planes[0], v.LineSizes[0], v.Width*3, v.Height)
		if p.RGB == nil {
			return nil, fmt.Errorf("missing rgb plane")
		}
		p.LineSize = len(p.RGB) / v.Height
	default:
		return nil, fmt.Errorf("unsupported pixel layout %v", v.Layout)
	}
	return p, nil
}

// CopyAudio copies S16 interleaved samples out of the decoder.
func CopyAudio(a *media.RawAudio) (*media.AudioPayload, error) {
	if a.Format != media.SampleFormatS16 {
		return nil, fmt.Errorf("unsupported sample format %d", a.Format)
	}
	n := a.NbSamples * a.Channels * 2
	if n > len(a.Samples) || n == 0 {
		n = len(a.Samples)
	}
	samples := make([]byte, n)
	copy(samples, a.Samples)
	return &media.AudioPayload{
		SampleRate: a.SampleRate,
		Channels:   a.Channels,
		Samples:    samples,
	}, nil
}
