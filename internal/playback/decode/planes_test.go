package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/reel/internal/media"
)

func TestCopyPlane(t *testing.T) {
	src := []byte{
		1, 2, 3, 0xff,
		4, 5, 6, 0xff,
	}

	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, copyPlane(src, 4, 3, 2))
	assert.Equal(t, []byte{1, 2, 3, 0xff, 4, 5, 6, 0xff}, copyPlane(src, 4, 8, 2), "row clamps to stride")
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 0, 0, 0}, copyPlane(src, 4, 3, 3), "short source leaves zeroes")
	assert.Nil(t, copyPlane(src, 4, 0, 2))
}

func TestCopyVideoOwnsMemory(t *testing.T) {
	raw := &media.RawVideo{
		Layout:    media.LayoutYUV,
		Width:     3,
		Height:    3,
		LineSizes: [3]int{4, 2, 2},
		Planes: [3][]byte{
			make([]byte, 12),
			make([]byte, 4),
			make([]byte, 4),
		},
	}
	raw.Planes[0][0] = 9

	p, err := CopyVideo(raw)
	require.NoError(t, err)
	raw.Planes[0][0] = 0

	assert.Equal(t, byte(9), p.Luma[0])
	assert.Len(t, p.Luma, 9)
	assert.Len(t, p.ChromaB, 4, "odd sizes round chroma up")
	assert.Len(t, p.ChromaR, 4)
}

func TestCopyVideoRejectsEmptyFrames(t *testing.T) {
	_, err := CopyVideo(&media.RawVideo{Width: 0, Height: 10})
	assert.Error(t, err)

	_, err = CopyVideo(&media.RawVideo{Layout: media.LayoutYUV, Width: 2, Height: 2, LineSizes: [3]int{2, 1, 1}})
	assert.Error(t, err)
}

func TestCopyAudio(t *testing.T) {
	raw := &media.RawAudio{
		Format:     media.SampleFormatS16,
		SampleRate: 48000,
		Channels:   2,
		NbSamples:  2,
		Samples:    []byte{1, 2, 3, 4, 5, 6, 7, 8, 0xee, 0xee},
	}

	p, err := CopyAudio(raw)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, p.Samples, "padding beyond nb_samples dropped")
	assert.Equal(t, 2, p.Frames())

	raw.Format = media.SampleFormatFloat
	_, err = CopyAudio(raw)
	assert.Error(t, err)
}
