// Package ffmpeg implements the media interfaces on top of the system FFmpeg
// libraries, loaded at runtime through ffgo.
package ffmpeg

import (
	"context"
	"fmt"
	"sync"

	"github.com/obinnaokechukwu/ffgo"
	"github.com/obinnaokechukwu/ffgo/avformat"

	"github.com/zsiec/reel/internal/media"
)

var (
	loadOnce sync.Once
	loadErr  error
)

// Load binds the FFmpeg shared libraries. It is safe to call repeatedly.
func Load() error {
	loadOnce.Do(func() {
		loadErr = ffgo.Init()
	})
	return loadErr
}

// Available reports whether the libraries could be loaded.
func Available() bool {
	return Load() == nil
}

// Version returns the loaded libavutil, libavcodec and libavformat versions.
func Version() (util, codec, format uint32) {
	return ffgo.Version()
}

// Source opens files with libavformat.
type Source struct{}

func NewSource() (*Source, error) {
	if err := Load(); err != nil {
		return nil, fmt.Errorf("load ffmpeg: %w", err)
	}
	return &Source{}, nil
}

// Open implements media.Source.
func (s *Source) Open(ctx context.Context, path string) (media.Container, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var fmtCtx avformat.FormatContext
	if err := avformat.OpenInput(&fmtCtx, path, nil, nil); err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if err := avformat.FindStreamInfo(fmtCtx, nil); err != nil {
		avformat.CloseInput(&fmtCtx)
		return nil, fmt.Errorf("%w: %v", media.ErrNoStreamInfo, err)
	}

	return newContainer(fmtCtx), nil
}
