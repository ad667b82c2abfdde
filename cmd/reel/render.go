package main

import (
	"github.com/zsiec/reel/internal/logger"
	"github.com/zsiec/reel/internal/media"
)

// logRenderer reports presented frames through the sampled playback logger.
type logRenderer struct {
	log *logger.SampledLogger
}

func newLogRenderer(log logger.Logger) *logRenderer {
	return &logRenderer{
		log: logger.NewPlaybackLogger(logger.WithComponent(log, "renderer")),
	}
}

func (r *logRenderer) Render(f media.Frame) {
	fields := logger.Fields{
		"kind":     f.Kind.String(),
		"position": f.Position,
		"duration": f.Duration,
	}
	switch {
	case f.Video != nil:
		fields["width"] = f.Video.Width
		fields["height"] = f.Video.Height
		fields["layout"] = f.Video.Layout.String()
	case f.Audio != nil:
		fields["samples"] = f.Audio.Frames()
	}
	r.log.DebugWithCategory(logger.CategoryFrameDelivery, "Frame presented", fields)
}
