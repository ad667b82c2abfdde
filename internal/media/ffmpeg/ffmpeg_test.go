package ffmpeg

import (
	"context"
	"os"
	"testing"
	"unsafe"

	"github.com/obinnaokechukwu/ffgo/avcodec"
	"github.com/obinnaokechukwu/ffgo/avutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/reel/internal/media"
)

func TestSampleFormatMapping(t *testing.T) {
	tests := []struct {
		in     avutil.SampleFormat
		want   media.SampleFormat
		bytes  int
		planar bool
	}{
		{avutil.SampleFormatS16, media.SampleFormatS16, 2, false},
		{avutil.SampleFormatS16P, media.SampleFormatS16Planar, 2, true},
		{avutil.SampleFormatFlt, media.SampleFormatFloat, 4, false},
		{avutil.SampleFormatFltP, media.SampleFormatFloatPlanar, 4, true},
		{avutil.SampleFormatU8, media.SampleFormatOther, 1, false},
		{avutil.SampleFormatDblP, media.SampleFormatOther, 8, true},
		{avutil.SampleFormatS64P, media.SampleFormatOther, 8, true},
		{avutil.SampleFormatNone, media.SampleFormatUnknown, 4, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, sampleFormat(tt.in), "format %d", tt.in)
		assert.Equal(t, tt.bytes, bytesPerSample(tt.in), "bytes %d", tt.in)
		assert.Equal(t, tt.planar, isPlanar(tt.in), "planar %d", tt.in)
	}
}

func TestDefaultLayout(t *testing.T) {
	assert.Equal(t, layoutMono, defaultLayout(1))
	assert.Equal(t, layoutStereo, defaultLayout(2))
	assert.Equal(t, layout5Point1, defaultLayout(6))
	assert.Equal(t, layoutStereo, defaultLayout(5))
}

func TestStillImageCodecs(t *testing.T) {
	assert.True(t, isStillImageCodec(avcodec.CodecIDPNG))
	assert.True(t, isStillImageCodec(avcodec.CodecIDMJPEG))
	assert.False(t, isStillImageCodec(avcodec.CodecIDH264))
}

func TestPlaneBytes(t *testing.T) {
	assert.Nil(t, planeBytes(nil, 10))

	buf := []byte{1, 2, 3, 4}
	got := planeBytes(unsafe.Pointer(&buf[0]), 3)
	assert.Equal(t, []byte{1, 2, 3}, got)
}

// TestOpenFile exercises the real libraries against REEL_TEST_MEDIA when
// both are available.
func TestOpenFile(t *testing.T) {
	path := os.Getenv("REEL_TEST_MEDIA")
	if path == "" {
		t.Skip("REEL_TEST_MEDIA not set")
	}
	if !Available() {
		t.Skip("FFmpeg libraries not available")
	}

	src, err := NewSource()
	require.NoError(t, err)

	c, err := src.Open(context.Background(), path)
	require.NoError(t, err)
	defer c.Close()

	streams := c.Streams()
	require.NotEmpty(t, streams)
	assert.Greater(t, c.Duration().Seconds(), 0.0)

	pkt, err := c.ReadPacket()
	require.NoError(t, err)
	ref, err := pkt.Ref()
	require.NoError(t, err)
	assert.Equal(t, pkt.StreamIndex(), ref.StreamIndex())
	ref.Release()
	pkt.Release()

	require.NoError(t, c.Seek(0))
}

func TestOpenMissingFile(t *testing.T) {
	if !Available() {
		t.Skip("FFmpeg libraries not available")
	}
	src, err := NewSource()
	require.NoError(t, err)

	_, err = src.Open(context.Background(), "/nonexistent/reel.mp4")
	assert.Error(t, err)
}
