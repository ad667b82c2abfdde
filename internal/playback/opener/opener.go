// Package opener selects and opens the elementary stream of each kind a
// playback session decodes.
package opener

import (
	"errors"

	reelerrors "github.com/zsiec/reel/internal/errors"
	"github.com/zsiec/reel/internal/logger"
	"github.com/zsiec/reel/internal/media"
)

// Config holds stream opening options.
type Config struct {
	// HWDevice is attached to video decoders when possible.
	HWDevice string
	// DefaultTimeBase ends the timing fallback ladder.
	DefaultTimeBase float64
	// Audio is the format the audio sink consumes.
	Audio media.AudioFormat
}

// Opener opens decoder contexts on a container.
type Opener struct {
	cfg    Config
	logger logger.Logger
}

func New(cfg Config, log logger.Logger) *Opener {
	if cfg.DefaultTimeBase <= 0 {
		cfg.DefaultTimeBase = media.DefaultTimeBase
	}
	if cfg.Audio.Format == media.SampleFormatUnknown {
		cfg.Audio.Format = media.SampleFormatS16
	}
	return &Opener{
		cfg:    cfg,
		logger: logger.WithComponent(logger.OrNull(log), "opener"),
	}
}

// Candidates lists the streams of kind in container order. Attached
// pictures (cover art) are not video and are skipped.
func Candidates(streams []media.StreamInfo, kind media.Kind) []media.StreamInfo {
	var out []media.StreamInfo
	for _, s := range streams {
		if s.Kind != kind {
			continue
		}
		if kind == media.KindVideo && s.AttachedPicture {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Open tries each candidate stream of kind until one opens. It returns an
// EMPTY_STREAMS error when the container has no candidate, otherwise the
// error of the last candidate tried.
func (o *Opener) Open(c media.Container, kind media.Kind) (*media.StreamHandle, error) {
	candidates := Candidates(c.Streams(), kind)
	if len(candidates) == 0 {
		return nil, reelerrors.NewEmptyStreams(kind.String())
	}

	var lastErr error
	for _, info := range candidates {
		h, err := o.openStream(c, info)
		if err == nil {
			o.logger.WithFields(map[string]interface{}{
				"stream_index": info.Index,
				"stream_type":  kind.String(),
				"codec":        info.Codec,
				"time_base":    h.Timing.TimeBase,
				"fps":          h.Timing.FPS,
			}).Info("Opened stream")
			return h, nil
		}

		o.logger.WithError(err).WithFields(map[string]interface{}{
			"stream_index": info.Index,
			"stream_type":  kind.String(),
			"codec":        info.Codec,
		}).Warn("Failed to open stream, trying next candidate")
		lastErr = err
	}
	return nil, lastErr
}

func (o *Opener) openStream(c media.Container, info media.StreamInfo) (*media.StreamHandle, error) {
	stream := info.Kind.String()

	var opts media.DecoderOptions
	if info.Kind == media.KindVideo {
		opts.HWDevice = o.cfg.HWDevice
	}

	dec, err := c.OpenDecoder(info, opts)
	if err != nil {
		if errors.Is(err, media.ErrDecoderNotFound) {
			return nil, reelerrors.NewCodecNotFound(info.Codec).WithStream(stream)
		}
		return nil, reelerrors.NewOpenCodecFailed(info.Codec, err).WithStream(stream)
	}

	if opts.HWDevice != "" && !dec.HardwareAccelerated() {
		o.logger.WithFields(map[string]interface{}{
			"hw_device": opts.HWDevice,
			"codec":     info.Codec,
		}).Debug("Hardware decoding unavailable, using software decoder")
	}

	h := &media.StreamHandle{
		Info:    info,
		Decoder: dec,
		Timing:  media.ResolveTiming(info, dec.TimeBase(), o.cfg.DefaultTimeBase),
		Valid:   true,
	}

	if info.Kind == media.KindAudio && !o.cfg.Audio.Matches(info) {
		r, err := c.NewResampler(info, o.cfg.Audio)
		if err != nil {
			_ = dec.Close()
			return nil, reelerrors.NewResamplerFailed(err).WithStream(stream)
		}
		h.Resampler = r
	}
	return h, nil
}
