package playback

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/zsiec/reel/internal/logger"
	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/playback/audio"
	"github.com/zsiec/reel/internal/playback/clock"
	"github.com/zsiec/reel/internal/playback/decode"
	"github.com/zsiec/reel/internal/playback/demux"
	"github.com/zsiec/reel/internal/playback/framebuffer"
	"github.com/zsiec/reel/internal/queue"
	"github.com/zsiec/reel/internal/registry"
)

type streamInfo struct {
	VideoCodec string
	AudioCodec string
	Width      int
	Height     int
	FrameRate  float64
	SampleRate int
	Hardware   bool
}

// session is one run of the pipeline over an opened container.
type session struct {
	id       string
	path     string
	duration float64
	info     streamInfo
	registry registry.Registry
	renderer clock.Renderer
	logger   logger.Logger

	demux *demux.Loop

	videoQueue  *queue.PacketQueue
	videoDecode *decode.Loop
	frames      *framebuffer.Buffer
	clock       *clock.Clock

	audioHandle   *media.StreamHandle
	audioQueue    *queue.PacketQueue
	audioDecode   *decode.Loop
	audio         *audio.Session
	audioLowWater time.Duration
	pumpSleep     func(context.Context, time.Duration) error

	ctx      context.Context
	cancel   context.CancelFunc
	group    *errgroup.Group
	stopOnce sync.Once

	lastPosition atomic.Uint64
	limiter      *rate.Limiter
	reports      chan float64
	reporterDone chan struct{}

	done chan struct{}
	err  error
}

func (s *session) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	g, gctx := errgroup.WithContext(ctx)
	s.ctx, s.cancel, s.group = gctx, cancel, g

	if s.audio != nil {
		s.audio.Activate()
	}

	g.Go(func() error { return s.demux.Run(gctx) })
	if s.videoDecode != nil {
		g.Go(func() error { return s.videoDecode.Run(gctx) })
		g.Go(func() error { return s.clock.Run(gctx) })
	}
	if s.audioDecode != nil {
		g.Go(func() error { return s.audioDecode.Run(gctx) })
		g.Go(func() error { return s.feedAudio(gctx) })
		g.Go(func() error { return s.audio.Pump(gctx, audioPumpPeriod, s.pumpSleep) })
	}

	s.reporterDone = make(chan struct{})
	go s.runReporter(ctx)
}

func (s *session) stop() {
	s.stopOnce.Do(func() {
		s.logger.Debug("Stopping playback")
		s.demux.Stop()
		if s.audio != nil {
			s.audio.Deactivate()
		}
		s.cancel()
	})
}

// wait returns once every loop and the reporter have exited.
func (s *session) wait() error {
	err := s.group.Wait()
	s.cancel()
	<-s.reporterDone
	if s.audio != nil {
		s.audio.Deactivate()
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// onSeek runs on the demux goroutine after the packet queues were flushed
// and before the container is repositioned.
func (s *session) onSeek(seconds float64) {
	// Free a writer blocked on a full ring so the decode flush can proceed.
	if s.audio != nil {
		s.audio.Flush()
	}
	if s.videoDecode != nil {
		s.videoDecode.Flush()
	}
	if s.audioDecode != nil {
		s.audioDecode.Flush()
	}
	if s.audio != nil {
		s.audio.Flush()
	}
	if s.frames != nil {
		s.frames.Flush()
	}
	if s.clock != nil {
		s.clock.Reset(seconds)
	}
	s.lastPosition.Store(math.Float64bits(seconds))
	s.logger.WithField("position", seconds).Debug("Pipeline flushed for seek")
}

// writeAudio is the audio decode sink. Frames accepted by the audio
// session are also handed to the renderer.
func (s *session) writeAudio(f media.Frame) {
	err := s.audio.Write(s.ctx, f)
	switch {
	case err == nil:
		s.renderer.Render(f)
	case !errors.Is(err, audio.ErrInactive) && s.ctx.Err() == nil:
		s.logger.WithError(err).Warn("Dropping audio frame")
	}
	if s.clock == nil {
		s.reportPosition(f.Position)
	}
}

// feedAudio keeps the PCM ring above its low-water mark and ends the
// audio stream once its decoder finished.
func (s *session) feedAudio(ctx context.Context) error {
	low := s.audioLowWater
	if low <= 0 {
		low = 100 * time.Millisecond
	}

	ticker := time.NewTicker(audioFeedPeriod)
	defer ticker.Stop()

	for {
		if s.audio.Buffered() < low {
			s.audioDecode.DecodeAhead(low.Seconds())
		}
		select {
		case <-ctx.Done():
			return nil
		case <-s.audioDecode.Done():
			s.audio.EndOfStream()
			return nil
		case <-ticker.C:
		}
	}
}

func (s *session) reportPosition(seconds float64) {
	s.lastPosition.Store(math.Float64bits(seconds))
	if !s.limiter.Allow() {
		return
	}
	select {
	case s.reports <- seconds:
	default:
	}
}

func (s *session) position() float64 {
	return math.Float64frombits(s.lastPosition.Load())
}

// runReporter forwards throttled positions to the registry off the clock
// goroutine.
func (s *session) runReporter(ctx context.Context) {
	defer close(s.reporterDone)
	for {
		select {
		case <-ctx.Done():
			return
		case pos := <-s.reports:
			s.updateRegistry(func(ctx context.Context) error {
				return s.registry.UpdatePosition(ctx, s.id, pos)
			})
		}
	}
}

func (s *session) finalReport(status registry.SessionStatus) {
	pos := s.position()
	s.updateRegistry(func(ctx context.Context) error {
		if err := s.registry.UpdatePosition(ctx, s.id, pos); err != nil {
			return err
		}
		return s.registry.UpdateStatus(ctx, s.id, status)
	})
}

func (s *session) updateRegistry(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), registryDeadline)
	defer cancel()
	if err := fn(ctx); err != nil {
		s.logger.WithError(err).Debug("Session registry update failed")
	}
}

func (s *session) fill(st *Stats) {
	st.SessionID = s.id
	st.Position = s.position()

	ds := s.demux.Stats()
	st.Demux = &ds
	if s.videoQueue != nil {
		qs := s.videoQueue.Stats()
		st.VideoQueue = &qs
		vs := s.videoDecode.Stats()
		st.VideoDecode = &vs
		fs := s.frames.Stats()
		st.Frames = &fs
		cs := s.clock.Stats()
		st.Clock = &cs
	}
	if s.audioQueue != nil {
		qs := s.audioQueue.Stats()
		st.AudioQueue = &qs
		as := s.audioDecode.Stats()
		st.AudioDecode = &as
		ss := s.audio.Stats()
		st.Audio = &ss
	}
}
