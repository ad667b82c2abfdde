// Package demux reads packets from an opened container and routes them to
// per-stream packet queues.
package demux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/zsiec/reel/internal/logger"
	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/metrics"
	"github.com/zsiec/reel/internal/queue"
)

var (
	ErrAlreadyStarted = errors.New("demux: already started")
	ErrNotRunning     = errors.New("demux: not running")
)

// State of a demux loop.
type State int32

const (
	StateNotStarted State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// EOFSetter is told when the demuxer reaches, or seeks away from, the end
// of input. Decode loops implement it.
type EOFSetter interface {
	SetEOF(eof bool)
}

// Route sends packets of one stream index to a queue.
type Route struct {
	Kind        media.Kind
	StreamIndex int
	Queue       *queue.PacketQueue
	EOF         EOFSetter
}

// Config holds demux loop options.
type Config struct {
	// PollRate limits retries after a transient empty read, per second.
	PollRate  float64
	PollBurst int
}

// Stats is a snapshot of demux counters.
type Stats struct {
	State   string `json:"state"`
	Packets uint64 `json:"packets"`
	Dropped uint64 `json:"dropped"`
	Retries uint64 `json:"retries"`
	Seeks   uint64 `json:"seeks"`
	EOF     bool   `json:"eof"`
}

type seekRequest struct {
	seconds float64
	result  chan error
}

// Loop is the single producer of a playback session. It owns the container
// and the stream handles and releases them in Close.
type Loop struct {
	container media.Container
	routes    []Route
	handles   []*media.StreamHandle
	limiter   *rate.Limiter
	onSeek    func(seconds float64)

	logger        logger.Logger
	sampledLogger *logger.SampledLogger

	state atomic.Int32
	eof   atomic.Bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// seekMu orders a caller's queue flush before the demux goroutine
	// handles the request.
	seekMu sync.Mutex
	seeks  chan seekRequest

	closeOnce sync.Once
	closeErr  error

	packets atomic.Uint64
	dropped atomic.Uint64
	retries atomic.Uint64
	seekCnt atomic.Uint64
}

// New creates a demux loop. handles are closed together with the container
// by Close.
func New(cfg Config, c media.Container, routes []Route, handles []*media.StreamHandle, log logger.Logger) *Loop {
	if cfg.PollRate <= 0 {
		cfg.PollRate = 100
	}
	if cfg.PollBurst <= 0 {
		cfg.PollBurst = 1
	}

	base := logger.WithComponent(logger.OrNull(log), "demux")
	return &Loop{
		container:     c,
		routes:        routes,
		handles:       handles,
		limiter:       rate.NewLimiter(rate.Limit(cfg.PollRate), cfg.PollBurst),
		logger:        base,
		sampledLogger: logger.NewPlaybackLogger(base),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		seeks:         make(chan seekRequest, 1),
	}
}

// OnSeek registers fn to run on the demux goroutine during a seek, after
// the queues are flushed and before they restart.
func (l *Loop) OnSeek(fn func(seconds float64)) {
	l.onSeek = fn
}

// Run reads and routes packets until end of input, a hard read error, Stop
// or ctx cancellation. At end of input it waits for the queues to drain
// (or for a seek) before closing them. Queues are always closed on return.
func (l *Loop) Run(ctx context.Context) error {
	if !l.state.CompareAndSwap(int32(StateNotStarted), int32(StateRunning)) {
		return ErrAlreadyStarted
	}
	defer close(l.done)
	defer l.state.Store(int32(StateStopped))

	metrics.IncrementGoroutineCreated("demux")
	defer metrics.IncrementGoroutineDestroyed("demux")

	stop := context.AfterFunc(ctx, l.abortQueues)
	defer stop()

	for _, r := range l.routes {
		r.Queue.Start()
	}
	l.logger.WithField("routes", len(l.routes)).Debug("Demux loop started")

	err := l.run(ctx)
	for _, r := range l.routes {
		r.Queue.Close()
	}

	if ctx.Err() != nil {
		metrics.IncrementContextCancellation("demux", "shutdown")
	}
	l.logger.WithFields(map[string]interface{}{
		"packets": l.packets.Load(),
		"dropped": l.dropped.Load(),
		"retries": l.retries.Load(),
		"eof":     l.eof.Load(),
	}).Debug("Demux loop stopped")
	return err
}

func (l *Loop) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.stop:
			return nil
		case req := <-l.seeks:
			l.seek(req)
			continue
		default:
		}

		pkt, err := l.container.ReadPacket()
		switch {
		case err == nil:
			l.route(pkt)

		case errors.Is(err, media.ErrAgain):
			l.retries.Add(1)
			metrics.IncrementDemuxRetries()
			l.sampledLogger.DebugWithCategory(logger.CategoryDemuxRetry, "No packet available yet", nil)
			if err := l.limiter.Wait(ctx); err != nil {
				return nil
			}

		case errors.Is(err, io.EOF):
			l.setEOF(true)
			l.logger.Debug("End of input, waiting for queues to drain")
			if !l.drainAfterEOF(ctx) {
				return nil
			}

		default:
			l.logger.WithError(err).Error("Demux read failed")
			return fmt.Errorf("demux: read packet: %w", err)
		}
	}
}

// route hands pkt to its stream's queue. The queue takes its own
// reference; the transient handle is always released here.
func (l *Loop) route(pkt media.Packet) {
	defer pkt.Release()

	idx := pkt.StreamIndex()
	for _, r := range l.routes {
		if r.StreamIndex != idx {
			continue
		}
		if !r.Queue.BlockingPush(pkt) {
			l.dropped.Add(1)
			metrics.IncrementPacketsDropped("aborted")
			return
		}
		l.packets.Add(1)
		metrics.IncrementPacketsDemuxed(r.Kind.String())
		return
	}

	l.dropped.Add(1)
	metrics.IncrementPacketsDropped("unrouted")
	l.sampledLogger.DebugWithCategory(logger.CategoryPacketRouting, "Discarding packet of unused stream", map[string]interface{}{
		"stream_index": idx,
		"size":         pkt.Size(),
	})
}

// drainAfterEOF waits for every queue to empty. It returns true when a seek
// arrived first and reading should resume.
func (l *Loop) drainAfterEOF(ctx context.Context) bool {
	drainCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for _, r := range l.routes {
			r.Queue.WaitDrained(drainCtx)
		}
	}()

	select {
	case req := <-l.seeks:
		cancel()
		<-drained
		l.seek(req)
		return true
	case <-drained:
		// A seek flushes the queues, which also ends the wait.
		select {
		case req := <-l.seeks:
			l.seek(req)
			return true
		default:
			return false
		}
	case <-l.stop:
		cancel()
		<-drained
		return false
	case <-ctx.Done():
		<-drained
		return false
	}
}

// Seek repositions the container. The request runs on the demux goroutine
// between reads; queues are flushed and restarted around it.
func (l *Loop) Seek(ctx context.Context, seconds float64) error {
	if l.State() != StateRunning {
		return ErrNotRunning
	}

	req := seekRequest{seconds: seconds, result: make(chan error, 1)}

	l.seekMu.Lock()
	select {
	case l.seeks <- req:
	case <-l.done:
		l.seekMu.Unlock()
		return ErrNotRunning
	case <-ctx.Done():
		l.seekMu.Unlock()
		return ctx.Err()
	}
	// Wake the demux goroutine if it is blocked on a full queue.
	for _, r := range l.routes {
		r.Queue.Flush()
	}
	l.seekMu.Unlock()

	select {
	case err := <-req.result:
		return err
	case <-l.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) seek(req seekRequest) {
	l.seekMu.Lock()
	defer l.seekMu.Unlock()

	for _, r := range l.routes {
		r.Queue.Flush()
	}
	if l.onSeek != nil {
		l.onSeek(req.seconds)
	}

	var err error
	if serr := l.container.Seek(req.seconds); serr != nil {
		err = fmt.Errorf("demux: seek to %.3fs: %w", req.seconds, serr)
		l.logger.WithError(serr).WithField("position", req.seconds).Warn("Seek failed")
	}

	l.setEOF(false)
	for _, r := range l.routes {
		r.Queue.Start()
	}
	l.seekCnt.Add(1)
	l.logger.WithField("position", req.seconds).Debug("Seek complete")
	req.result <- err
}

func (l *Loop) setEOF(eof bool) {
	l.eof.Store(eof)
	for _, r := range l.routes {
		if r.EOF != nil {
			r.EOF.SetEOF(eof)
		}
	}
}

// Stop asks the loop to end and wakes it if it is blocked on a full queue.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
		l.abortQueues()
	})
}

func (l *Loop) abortQueues() {
	for _, r := range l.routes {
		r.Queue.Abort()
	}
}

// Close releases the stream handles and the container exactly once. Call
// it after every decode loop using the handles has returned.
func (l *Loop) Close() error {
	l.closeOnce.Do(func() {
		var errs []error
		for _, h := range l.handles {
			if err := h.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := l.container.Close(); err != nil {
			errs = append(errs, err)
		}
		l.closeErr = errors.Join(errs...)
	})
	return l.closeErr
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) EOF() bool {
	return l.eof.Load()
}

func (l *Loop) Stats() Stats {
	return Stats{
		State:   l.State().String(),
		Packets: l.packets.Load(),
		Dropped: l.dropped.Load(),
		Retries: l.retries.Load(),
		Seeks:   l.seekCnt.Load(),
		EOF:     l.eof.Load(),
	}
}
