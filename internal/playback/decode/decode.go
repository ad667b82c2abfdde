// Package decode runs the per-stream decode loop: it pops compressed
// packets from a packet queue, decodes them and delivers owned frames to a
// callback in presentation order.
package decode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/zsiec/reel/internal/logger"
	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/metrics"
	"github.com/zsiec/reel/internal/queue"
)

// Config holds decode loop options.
type Config struct {
	// Paced loops only decode in response to DecodeAhead. Unpaced loops
	// decode as fast as packets arrive.
	Paced bool
}

// Stats is a snapshot of decode loop counters.
type Stats struct {
	Packets   uint64 `json:"packets"`
	Frames    uint64 `json:"frames"`
	Delivered uint64 `json:"delivered"`
	Discarded uint64 `json:"discarded"`
	Errors    uint64 `json:"errors"`
	Pending   int    `json:"pending"`
	InFlight  bool   `json:"in_flight"`
	EOF       bool   `json:"eof"`
}

// Loop decodes one stream. The decoder in the handle is used only by the
// goroutine running Run.
type Loop struct {
	handle *media.StreamHandle
	queue  *queue.PacketQueue
	sink   func(media.Frame)
	paced  bool
	kind   string

	logger        logger.Logger
	sampledLogger *logger.SampledLogger

	// serial of the packets the decoder was last fed
	serial uint64

	requests chan float64
	inFlight atomic.Bool
	eof      atomic.Bool

	mailbox *mailbox
	// deliverMu is held while a frame is checked and handed to sink so
	// Flush can wait out an in-progress delivery.
	deliverMu sync.Mutex

	done    chan struct{}
	started atomic.Bool

	packets   atomic.Uint64
	frames    atomic.Uint64
	delivered atomic.Uint64
	discarded atomic.Uint64
	failures  atomic.Uint64
}

// New creates a decode loop for handle fed from q. sink receives every
// decoded frame from a single goroutine, in decode order.
func New(cfg Config, handle *media.StreamHandle, q *queue.PacketQueue, sink func(media.Frame), log logger.Logger) *Loop {
	kind := handle.Info.Kind.String()
	base := logger.WithStreamType(logger.WithComponent(logger.OrNull(log), "decode"), kind)

	return &Loop{
		handle:        handle,
		queue:         q,
		sink:          sink,
		paced:         cfg.Paced,
		kind:          kind,
		logger:        base,
		sampledLogger: logger.NewPlaybackLogger(base),
		serial:        q.Serial(),
		requests:      make(chan float64, 1),
		mailbox:       newMailbox(),
		done:          make(chan struct{}),
	}
}

// Run decodes until the packet queue is closed or ctx ends. Frames still
// in the mailbox are delivered before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return fmt.Errorf("decode loop for %s already started", l.kind)
	}

	metrics.IncrementGoroutineCreated("decode_" + l.kind)
	defer metrics.IncrementGoroutineDestroyed("decode_" + l.kind)

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		l.dispatch()
	}()
	defer func() {
		l.mailbox.close()
		<-dispatched
		close(l.done)
	}()

	// Shutdown must wake a goroutine blocked on an empty queue.
	stop := context.AfterFunc(ctx, l.queue.Abort)
	defer stop()

	l.logger.WithField("paced", l.paced).Debug("Decode loop started")

	if !l.paced {
		for {
			if _, more := l.step(ctx); !more {
				break
			}
		}
		l.finish(ctx)
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			l.finish(ctx)
			return nil
		case target := <-l.requests:
			finished := l.decodeAhead(ctx, target)
			l.inFlight.Store(false)
			if finished {
				l.finish(ctx)
				return nil
			}
		}
	}
}

func (l *Loop) finish(ctx context.Context) {
	if ctx.Err() != nil {
		metrics.IncrementContextCancellation("decode_"+l.kind, "shutdown")
	}
	l.logger.WithFields(map[string]interface{}{
		"packets": l.packets.Load(),
		"frames":  l.frames.Load(),
		"errors":  l.failures.Load(),
	}).Debug("Decode loop finished")
}

// DecodeAhead asks a paced loop to decode at least seconds of material. It
// returns false, dropping the request, when a pass is already in flight or
// the loop has ended.
func (l *Loop) DecodeAhead(seconds float64) bool {
	if !l.paced || seconds <= 0 {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
	}
	if !l.inFlight.CompareAndSwap(false, true) {
		return false
	}
	select {
	case l.requests <- seconds:
		return true
	default:
		l.inFlight.Store(false)
		return false
	}
}

// decodeAhead reports whether the stream ended.
func (l *Loop) decodeAhead(ctx context.Context, target float64) bool {
	const epsilon = 1e-6

	var produced float64
	for produced < target-epsilon {
		n, more := l.step(ctx)
		produced += n
		if !more {
			return true
		}
	}
	return false
}

// step decodes one packet. It returns the seconds of material produced and
// whether the loop should continue.
func (l *Loop) step(ctx context.Context) (float64, bool) {
	pkt, serial, ok := l.queue.PopSerial()
	if !ok {
		if l.queue.Closed() || ctx.Err() != nil {
			if ctx.Err() != nil {
				return 0, false
			}
			return l.drain(), false
		}
		// Aborted for a seek; resume once the demuxer restarts the queue.
		if !l.queue.WaitStarted(ctx) {
			if ctx.Err() != nil {
				return 0, false
			}
			return l.drain(), false
		}
		return 0, true
	}
	defer pkt.Release()

	if serial != l.serial {
		l.handle.Decoder.Flush()
		l.serial = serial
	}

	l.packets.Add(1)
	if err := l.handle.Decoder.Send(pkt); err != nil {
		l.failures.Add(1)
		metrics.IncrementDecodeErrors(l.kind, "send")
		l.sampledLogger.WarnWithCategory(logger.CategoryDecodeError, "Dropping undecodable packet", map[string]interface{}{
			"error": err.Error(),
			"size":  pkt.Size(),
		})
		return 0, true
	}
	return l.receive(serial), true
}

// drain flushes frames buffered inside the decoder at end of stream.
func (l *Loop) drain() float64 {
	if err := l.handle.Decoder.Send(nil); err != nil {
		l.logger.WithError(err).Debug("Failed to enter draining mode")
		return 0
	}
	return l.receive(l.serial)
}

// receive pulls every frame the decoder has ready.
func (l *Loop) receive(serial uint64) float64 {
	var produced float64
	for {
		raw, err := l.handle.Decoder.Receive()
		if err != nil {
			if errors.Is(err, media.ErrAgain) || errors.Is(err, io.EOF) {
				return produced
			}
			l.failures.Add(1)
			metrics.IncrementDecodeErrors(l.kind, "receive")
			l.sampledLogger.WarnWithCategory(logger.CategoryDecodeError, "Decoder failed to produce frame", map[string]interface{}{
				"error": err.Error(),
			})
			return produced
		}

		f, err := l.convert(raw)
		if err != nil {
			l.failures.Add(1)
			metrics.IncrementDecodeErrors(l.kind, "convert")
			l.sampledLogger.WarnWithCategory(logger.CategoryDecodeError, "Dropping unconvertible frame", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}

		produced += f.Duration
		l.frames.Add(1)
		metrics.IncrementFramesDecoded(l.kind)
		l.mailbox.put(envelope{frame: f, serial: serial})
	}
}

// convert turns a decoder-owned frame into an owned one.
func (l *Loop) convert(raw *media.RawFrame) (media.Frame, error) {
	t := l.handle.Timing
	position := t.Position(raw.PTS)

	switch {
	case raw.Video != nil:
		payload, err := CopyVideo(raw.Video)
		if err != nil {
			return media.Frame{}, err
		}
		return media.NewVideoFrame(position, t.FrameDuration(raw.PacketDuration, raw.RepeatPict), payload), nil

	case raw.Audio != nil:
		samples := raw.Audio
		if l.handle.Resampler != nil {
			out, err := l.handle.Resampler.Resample(raw)
			if err != nil {
				return media.Frame{}, fmt.Errorf("resample: %w", err)
			}
			samples = out
		}
		payload, err := CopyAudio(samples)
		if err != nil {
			return media.Frame{}, err
		}

		duration := t.FrameDuration(raw.PacketDuration, 0)
		if raw.PacketDuration <= 0 && raw.Audio.SampleRate > 0 && raw.Audio.NbSamples > 0 {
			duration = float64(raw.Audio.NbSamples) / float64(raw.Audio.SampleRate)
		}
		return media.NewAudioFrame(position, duration, payload), nil
	}
	return media.Frame{}, fmt.Errorf("decoder returned an empty frame")
}

// dispatch hands frames to the sink in order. Frames decoded from packets
// queued before the last flush are dropped.
func (l *Loop) dispatch() {
	for {
		e, ok := l.mailbox.take()
		if !ok {
			return
		}

		l.deliverMu.Lock()
		if e.serial != l.queue.Serial() {
			l.discarded.Add(1)
			l.deliverMu.Unlock()
			continue
		}
		if l.sink != nil {
			l.sink(e.frame)
		}
		l.delivered.Add(1)
		l.deliverMu.Unlock()

		l.sampledLogger.DebugWithCategory(logger.CategoryFrameDelivery, "Frame delivered", map[string]interface{}{
			"position": e.frame.Position,
			"duration": e.frame.Duration,
		})
	}
}

// Flush drops frames waiting for delivery and clears the EOF flag. It
// waits for a delivery in progress to finish, so once it returns no frame
// from before the queue flush reaches the sink. The decoder itself is
// flushed by the decode goroutine when it sees the new queue serial.
func (l *Loop) Flush() {
	l.deliverMu.Lock()
	n := l.mailbox.discard()
	l.deliverMu.Unlock()

	l.discarded.Add(uint64(n))
	l.eof.Store(false)
}

// SetEOF records that the demuxer reached the end of input.
func (l *Loop) SetEOF(eof bool) {
	l.eof.Store(eof)
}

// IsEOF reports whether the demuxer reached the end of input.
func (l *Loop) IsEOF() bool {
	return l.eof.Load()
}

// Done is closed after Run returns and every frame has been dispatched.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) Kind() media.Kind {
	return l.handle.Info.Kind
}

func (l *Loop) Stats() Stats {
	return Stats{
		Packets:   l.packets.Load(),
		Frames:    l.frames.Load(),
		Delivered: l.delivered.Load(),
		Discarded: l.discarded.Load(),
		Errors:    l.failures.Load(),
		Pending:   l.mailbox.len(),
		InFlight:  l.inFlight.Load(),
		EOF:       l.eof.Load(),
	}
}
