// Package playback wires the demux, decode and presentation loops of a
// single playback session behind a small control surface.
package playback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/zsiec/reel/internal/config"
	reelerrors "github.com/zsiec/reel/internal/errors"
	"github.com/zsiec/reel/internal/logger"
	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/metrics"
	"github.com/zsiec/reel/internal/playback/audio"
	"github.com/zsiec/reel/internal/playback/clock"
	"github.com/zsiec/reel/internal/playback/decode"
	"github.com/zsiec/reel/internal/playback/demux"
	"github.com/zsiec/reel/internal/playback/framebuffer"
	"github.com/zsiec/reel/internal/playback/opener"
	"github.com/zsiec/reel/internal/queue"
	"github.com/zsiec/reel/internal/registry"
)

const (
	audioPumpPeriod  = 10 * time.Millisecond
	audioFeedPeriod  = 5 * time.Millisecond
	registryDeadline = 2 * time.Second
)

// State is the lifecycle state of a Manager.
type State int32

const (
	StateIdle State = iota
	StateOpened
	StatePlaying
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpened:
		return "opened"
	case StatePlaying:
		return "playing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Options carries the collaborators of a Manager.
type Options struct {
	Source   media.Source
	Renderer clock.Renderer
	Registry registry.Registry
	Logger   logger.Logger

	// Virtual presents frames against a virtual time source: playback runs
	// as fast as frames decode while the clock computes the same delays.
	Virtual bool
}

// Stats is a snapshot of every component of the current session.
type Stats struct {
	SessionID   string             `json:"session_id,omitempty"`
	State       string             `json:"state"`
	Path        string             `json:"path,omitempty"`
	Position    float64            `json:"position"`
	Duration    float64            `json:"duration"`
	Demux       *demux.Stats       `json:"demux,omitempty"`
	VideoQueue  *queue.Stats       `json:"video_queue,omitempty"`
	AudioQueue  *queue.Stats       `json:"audio_queue,omitempty"`
	VideoDecode *decode.Stats      `json:"video_decode,omitempty"`
	AudioDecode *decode.Stats      `json:"audio_decode,omitempty"`
	Frames      *framebuffer.Stats `json:"frames,omitempty"`
	Clock       *clock.Stats       `json:"clock,omitempty"`
	Audio       *audio.Stats       `json:"audio,omitempty"`
}

// Manager owns one container at a time and the loops playing it.
type Manager struct {
	cfg      *config.Config
	source   media.Source
	renderer clock.Renderer
	registry registry.Registry
	opener   *opener.Opener
	logger   logger.Logger
	virtual  bool

	mu        sync.Mutex
	state     State
	path      string
	container media.Container
	video     *media.StreamHandle
	audio     *media.StreamHandle
	width     int
	height    int
	duration  float64
	session   *session
	lastErr   error
}

func NewManager(cfg *config.Config, opts Options) *Manager {
	renderer := opts.Renderer
	if renderer == nil {
		renderer = clock.RendererFunc(func(media.Frame) {})
	}
	reg := opts.Registry
	if reg == nil {
		reg = registry.NewMemoryRegistry()
	}
	log := logger.WithComponent(logger.OrNull(opts.Logger), "playback_manager")

	return &Manager{
		cfg:      cfg,
		source:   opts.Source,
		renderer: renderer,
		registry: reg,
		opener: opener.New(opener.Config{
			HWDevice:        cfg.Player.HWDevice,
			DefaultTimeBase: cfg.Player.DefaultTimeBase,
			Audio: media.AudioFormat{
				SampleRate: cfg.Audio.SampleRate,
				Channels:   cfg.Audio.Channels,
				Format:     media.SampleFormatS16,
			},
		}, opts.Logger),
		logger:  log,
		virtual: opts.Virtual,
	}
}

// OpenFile opens the container at path and the first usable video and
// audio streams. It succeeds when at least one stream opened.
func (m *Manager) OpenFile(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StatePlaying {
		return reelerrors.NewConflictError("playback in progress, stop it before opening another file")
	}
	if err := m.releaseLocked(); err != nil {
		m.logger.WithError(err).Debug("Failed to release previous file")
	}
	m.session = nil
	m.state = StateIdle
	m.path, m.duration = "", 0
	m.width, m.height = 0, 0

	c, err := m.source.Open(ctx, path)
	if err != nil {
		if errors.Is(err, media.ErrNoStreamInfo) {
			return reelerrors.NewStreamInfoNotFound(err)
		}
		return reelerrors.NewOpenFileFailed(path, err)
	}
	if len(c.Streams()) == 0 {
		_ = c.Close()
		return reelerrors.NewStreamInfoNotFound(media.ErrNoStreamInfo)
	}

	video, videoErr := m.opener.Open(c, media.KindVideo)
	audioHandle, audioErr := m.opener.Open(c, media.KindAudio)
	if video == nil && audioHandle == nil {
		_ = c.Close()
		err := pickOpenError(videoErr, audioErr)
		m.logger.WithError(err).WithField("path", path).Warn("No playable stream")
		return err
	}

	m.container = c
	m.video = video
	m.audio = audioHandle
	m.path = path
	m.duration = c.Duration().Seconds()
	if video != nil {
		m.width, m.height = video.Decoder.Width(), video.Decoder.Height()
		if m.width == 0 || m.height == 0 {
			m.width, m.height = video.Info.Width, video.Info.Height
		}
	}
	m.state = StateOpened
	m.lastErr = nil

	fields := map[string]interface{}{
		"path":     path,
		"duration": m.duration,
		"video":    video != nil,
		"audio":    audioHandle != nil,
	}
	if video != nil {
		fields["width"] = m.width
		fields["height"] = m.height
		fields["fps"] = video.Timing.FPS
		fields["hardware"] = video.Decoder.HardwareAccelerated()
	}
	m.logger.WithFields(fields).Info("File opened")
	return nil
}

// pickOpenError prefers a codec failure over a missing stream.
func pickOpenError(videoErr, audioErr error) error {
	if reelerrors.TypeOf(videoErr) != reelerrors.ErrorTypeEmptyStreams {
		return videoErr
	}
	if reelerrors.TypeOf(audioErr) != reelerrors.ErrorTypeEmptyStreams {
		return audioErr
	}
	return videoErr
}

// StartDecode starts the demux, decode and presentation loops. The loops
// outlive ctx; StopDecode ends them.
func (m *Manager) StartDecode(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StatePlaying:
		return reelerrors.NewConflictError("playback already started")
	case StateOpened:
	default:
		return reelerrors.NewValidationError("no file opened")
	}

	s := m.newSession()
	if err := m.register(ctx, s); err != nil {
		m.logger.WithError(err).Warn("Failed to register session")
	}

	// The loops own the container and handles from here on.
	m.container, m.video, m.audio = nil, nil, nil
	m.session = s
	m.state = StatePlaying
	metrics.IncrementActiveSessions()

	s.start(context.WithoutCancel(ctx))
	go m.supervise(s)

	s.logger.WithField("path", s.path).Info("Playback started")
	return nil
}

// StopDecode ends playback and waits for every loop to exit. It is a no-op
// when nothing is playing.
func (m *Manager) StopDecode() error {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()

	if s == nil {
		return nil
	}
	s.stop()
	<-s.done
	return nil
}

// Seek repositions playback. Both packet queues and both frame buffers are
// flushed before decoding resumes at the new position.
//
// Seeks are served by the demux goroutine, which exits once every packet
// has been decoded. Frames already decoded are still presented after that,
// but a Seek in that window returns a conflict error.
func (m *Manager) Seek(ctx context.Context, seconds float64) error {
	if math.IsNaN(seconds) || seconds < 0 {
		return reelerrors.NewValidationError(fmt.Sprintf("invalid seek position %v", seconds))
	}

	m.mu.Lock()
	s := m.session
	duration := m.duration
	m.mu.Unlock()

	if s == nil {
		return reelerrors.NewValidationError("playback not started")
	}
	if duration > 0 && seconds > duration {
		seconds = duration
	}

	if err := s.demux.Seek(ctx, seconds); err != nil {
		if errors.Is(err, demux.ErrNotRunning) {
			return reelerrors.NewConflictError("playback has finished")
		}
		return err
	}
	s.logger.WithField("position", seconds).Info("Seeked")
	return nil
}

// Wait blocks until the current session ends and returns its error.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()

	if s == nil {
		return nil
	}
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops playback and releases an opened but unplayed file.
func (m *Manager) Close() error {
	if err := m.StopDecode(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseLocked()
}

func (m *Manager) releaseLocked() error {
	var errs []error
	for _, h := range []*media.StreamHandle{m.video, m.audio} {
		if h != nil {
			errs = append(errs, h.Close())
		}
	}
	if m.container != nil {
		errs = append(errs, m.container.Close())
	}
	m.container, m.video, m.audio = nil, nil, nil
	return errors.Join(errs...)
}

func (m *Manager) ValidVideo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		return m.session.videoDecode != nil
	}
	return m.video != nil
}

func (m *Manager) ValidAudio() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		return m.session.audioHandle != nil
	}
	return m.audio != nil
}

// FrameWidth returns the decoded video width, or zero without video.
func (m *Manager) FrameWidth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.width
}

// FrameHeight returns the decoded video height, or zero without video.
func (m *Manager) FrameHeight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.height
}

// Duration returns the container duration in seconds.
func (m *Manager) Duration() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duration
}

// Position returns the media position of the last presented frame.
func (m *Manager) Position() float64 {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return 0
	}
	return s.position()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SessionID returns the id of the current or last session.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ""
	}
	return m.session.id
}

// Err returns the error that ended the last session, if any.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	s := m.session
	st := Stats{
		State:    m.state.String(),
		Path:     m.path,
		Duration: m.duration,
	}
	m.mu.Unlock()

	if s != nil {
		s.fill(&st)
	}
	return st
}

func (m *Manager) newSession() *session {
	id := uuid.New().String()
	log := logger.WithSession(m.logger, id)

	now, sleep := time.Now, clock.SleepContext
	pumpSleep := clock.SleepContext
	if m.virtual {
		v := clock.NewVirtual(time.Unix(0, 0))
		now, sleep = v.Now, v.Sleep
		// The pump keeps real time, ten times faster, so it neither spins
		// nor advances the video clock.
		pumpSleep = func(ctx context.Context, d time.Duration) error {
			return clock.SleepContext(ctx, d/10)
		}
	}

	interval := m.cfg.Registry.PositionUpdateInterval
	if interval <= 0 {
		interval = time.Second
	}

	s := &session{
		id:        id,
		path:      m.path,
		duration:  m.duration,
		registry:  m.registry,
		renderer:  m.renderer,
		logger:    log,
		pumpSleep: pumpSleep,
		reports:   make(chan float64, 1),
		limiter:   rate.NewLimiter(rate.Every(interval), 1),
		done:      make(chan struct{}),
	}

	var routes []demux.Route
	var handles []*media.StreamHandle

	if h := m.video; h != nil {
		s.videoQueue = queue.New("video", m.cfg.Player.VideoQueueSize)
		s.frames = framebuffer.New(media.KindVideo)
		s.videoDecode = decode.New(decode.Config{Paced: true}, h, s.videoQueue, s.frames.Push, log)
		s.clock = clock.New(clock.Config{
			LowWaterMark:         m.cfg.Player.LowWaterMark,
			ColdStartDecodeAhead: m.cfg.Player.ColdStartDecodeAhead,
			DecodeAhead:          m.cfg.Player.DecodeAhead,
			CorrectionThreshold:  m.cfg.Player.CorrectionThreshold,
			MinDelay:             m.cfg.Player.MinDelay,
			Now:                  now,
			Sleep:                sleep,
			OnPosition:           s.reportPosition,
		}, media.KindVideo, s.frames, m.renderer, s.videoDecode, log)
		routes = append(routes, demux.Route{
			Kind:        media.KindVideo,
			StreamIndex: h.Index(),
			Queue:       s.videoQueue,
			EOF:         s.videoDecode,
		})
		handles = append(handles, h)
		s.info.VideoCodec = h.Info.Codec
		s.info.FrameRate = h.Timing.FPS
		s.info.Hardware = h.Decoder.HardwareAccelerated()
	}

	if h := m.audio; h != nil {
		s.audioHandle = h
		handles = append(handles, h)
		s.info.AudioCodec = h.Info.Codec
		s.info.SampleRate = m.cfg.Audio.SampleRate
		if m.cfg.Audio.Enabled {
			s.audioQueue = queue.New("audio", m.cfg.Player.AudioQueueSize)
			s.audio = audio.NewSession(audio.Config{
				SampleRate: m.cfg.Audio.SampleRate,
				Channels:   m.cfg.Audio.Channels,
				BufferSize: m.cfg.Audio.BufferSize(),
			}, log)
			s.audioLowWater = m.cfg.Audio.BufferDuration / 2
			s.audioDecode = decode.New(decode.Config{Paced: true}, h, s.audioQueue, s.writeAudio, log)
			routes = append(routes, demux.Route{
				Kind:        media.KindAudio,
				StreamIndex: h.Index(),
				Queue:       s.audioQueue,
				EOF:         s.audioDecode,
			})
		}
	}

	s.info.Width, s.info.Height = m.width, m.height

	s.demux = demux.New(demux.Config{
		PollRate:  m.cfg.Player.DemuxPollRate,
		PollBurst: m.cfg.Player.DemuxPollBurst,
	}, m.container, routes, handles, log)
	s.demux.OnSeek(s.onSeek)
	return s
}

func (m *Manager) register(ctx context.Context, s *session) error {
	ctx, cancel := context.WithTimeout(ctx, registryDeadline)
	defer cancel()

	return m.registry.Register(ctx, &registry.Session{
		ID:         s.id,
		Path:       s.path,
		Status:     registry.StatusPlaying,
		Duration:   s.duration,
		VideoCodec: s.info.VideoCodec,
		AudioCodec: s.info.AudioCodec,
		Width:      s.info.Width,
		Height:     s.info.Height,
		FrameRate:  s.info.FrameRate,
		SampleRate: s.info.SampleRate,
		Hardware:   s.info.Hardware,
	})
}

// supervise waits for the loops of s and releases what they owned.
func (m *Manager) supervise(s *session) {
	err := s.wait()

	if cerr := s.demux.Close(); cerr != nil {
		s.logger.WithError(cerr).Warn("Failed to close container")
	}
	metrics.DecrementActiveSessions()

	status := registry.StatusStopped
	if err != nil {
		status = registry.StatusError
		s.logger.WithError(err).Error("Playback failed")
	} else {
		s.logger.WithField("position", s.position()).Info("Playback finished")
	}
	s.finalReport(status)

	m.mu.Lock()
	if m.session == s {
		m.state = StateStopped
		m.lastErr = err
	}
	m.mu.Unlock()

	s.err = err
	close(s.done)
}
