package health

import (
	"context"
	"fmt"

	"github.com/zsiec/reel/internal/media/ffmpeg"
)

// CodecChecker reports whether the FFmpeg shared libraries can be loaded.
type CodecChecker struct {
	load    func() error
	version func() (util, codec, format uint32)
}

func NewCodecChecker() *CodecChecker {
	return &CodecChecker{
		load:    ffmpeg.Load,
		version: ffmpeg.Version,
	}
}

func (c *CodecChecker) Name() string {
	return "codec"
}

func (c *CodecChecker) Check(ctx context.Context) error {
	if err := c.load(); err != nil {
		return fmt.Errorf("ffmpeg libraries unavailable: %w", err)
	}
	return nil
}

// Details lists the loaded library versions.
func (c *CodecChecker) Details() map[string]interface{} {
	if c.load() != nil {
		return nil
	}
	util, codec, format := c.version()
	return map[string]interface{}{
		"libavutil":   libraryVersion(util),
		"libavcodec":  libraryVersion(codec),
		"libavformat": libraryVersion(format),
	}
}

// libraryVersion formats an AV_VERSION_INT value.
func libraryVersion(v uint32) string {
	return fmt.Sprintf("%d.%d.%d", v>>16, (v>>8)&0xff, v&0xff)
}
