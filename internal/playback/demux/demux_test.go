package demux

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/media/synthetic"
	"github.com/zsiec/reel/internal/queue"
)

type eofFlag struct {
	atomic.Bool
}

func (f *eofFlag) SetEOF(eof bool) { f.Store(eof) }

// consumer drains a queue the way a decode loop does, recording what it
// popped, until the queue is closed.
type consumer struct {
	mu   sync.Mutex
	seqs []int
	done chan struct{}
}

func consume(ctx context.Context, q *queue.PacketQueue) *consumer {
	c := &consumer{done: make(chan struct{})}
	go func() {
		defer close(c.done)
		for {
			pkt, ok := q.BlockingPop()
			if !ok {
				if q.Closed() || !q.WaitStarted(ctx) {
					return
				}
				continue
			}
			c.mu.Lock()
			c.seqs = append(c.seqs, pkt.(*synthetic.Packet).Seq())
			c.mu.Unlock()
			pkt.Release()
		}
	}()
	return c
}

func (c *consumer) popped() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.seqs...)
}

func avSpec(seconds float64) synthetic.Spec {
	spec := synthetic.VideoSpec(seconds, 25)
	spec.Streams = append(spec.Streams, synthetic.AudioStream(seconds, 48000))
	return spec
}

func TestRunRoutesPacketsUntilEOF(t *testing.T) {
	spec := avSpec(2)
	// A data stream nobody decodes.
	spec.Streams = append(spec.Streams, synthetic.StreamSpec{Kind: media.KindUnknown, Frames: 7, TimeScale: 1000, Codec: "bin_data", PacketSize: 10})
	c := synthetic.NewContainer(spec)

	vq := queue.New("video", queue.DefaultVideoMaxSize)
	aq := queue.New("audio", queue.DefaultAudioMaxSize)
	var veof, aeof eofFlag

	l := New(Config{}, c, []Route{
		{Kind: media.KindVideo, StreamIndex: 0, Queue: vq, EOF: &veof},
		{Kind: media.KindAudio, StreamIndex: 1, Queue: aq, EOF: &aeof},
	}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	vc := consume(ctx, vq)
	ac := consume(ctx, aq)

	require.NoError(t, l.Run(ctx))
	<-vc.done
	<-ac.done

	assert.Len(t, vc.popped(), 50)
	assert.Len(t, ac.popped(), spec.Streams[1].Frames)
	assert.True(t, veof.Load())
	assert.True(t, aeof.Load())
	assert.True(t, l.EOF())
	assert.True(t, vq.Closed())
	assert.True(t, aq.Closed())
	assert.Equal(t, StateStopped, l.State())

	stats := l.Stats()
	assert.Equal(t, uint64(7), stats.Dropped)
	assert.Zero(t, c.LiveRefs(), "routed and discarded handles all released")
}

func TestRunRetriesTransientReads(t *testing.T) {
	spec := synthetic.VideoSpec(1, 25)
	spec.TransientEvery = 5
	c := synthetic.NewContainer(spec)

	q := queue.New("video", queue.DefaultVideoMaxSize)
	l := New(Config{PollRate: 10000, PollBurst: 10}, c, []Route{{Kind: media.KindVideo, StreamIndex: 0, Queue: q}}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	qc := consume(ctx, q)

	require.NoError(t, l.Run(ctx))
	<-qc.done

	assert.Len(t, qc.popped(), 25)
	// Every fifth read, including the one that would have hit EOF.
	assert.Equal(t, uint64(6), l.Stats().Retries)
}

func TestRunStopsOnHardReadError(t *testing.T) {
	spec := synthetic.VideoSpec(10, 25)
	spec.FailAfter = 20
	c := synthetic.NewContainer(spec)

	q := queue.New("video", queue.DefaultVideoMaxSize)
	var eof eofFlag
	l := New(Config{}, c, []Route{{Kind: media.KindVideo, StreamIndex: 0, Queue: q, EOF: &eof}}, nil, nil)

	err := l.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "i/o error")
	assert.True(t, q.Closed())
	assert.False(t, eof.Load(), "hard errors are not end of input")
	assert.Zero(t, c.LiveRefs())
}

func TestStopWakesBlockedPush(t *testing.T) {
	c := synthetic.NewContainer(synthetic.VideoSpec(10, 25))
	// Room for two packets and no consumer.
	q := queue.New("video", 2048)
	l := New(Config{}, c, []Route{{Kind: media.KindVideo, StreamIndex: 0, Queue: q}}, nil, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(context.Background()) }()

	require.Eventually(t, func() bool { return q.Len() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, StateRunning, l.State())

	l.Stop()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("demux loop did not stop")
	}
	assert.True(t, q.Aborted())
	assert.True(t, q.Closed())
	assert.Zero(t, c.LiveRefs())
}

func TestContextCancelWakesBlockedPush(t *testing.T) {
	c := synthetic.NewContainer(synthetic.VideoSpec(10, 25))
	q := queue.New("video", 1024)
	l := New(Config{}, c, []Route{{Kind: media.KindVideo, StreamIndex: 0, Queue: q}}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	require.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("demux loop ignored cancellation")
	}
}

func TestCloseReleasesResourcesOnce(t *testing.T) {
	spec := synthetic.VideoSpec(1, 25)
	c := synthetic.NewContainer(spec)
	info := c.Streams()[0]
	dec, err := c.OpenDecoder(info, media.DecoderOptions{})
	require.NoError(t, err)
	h := &media.StreamHandle{Info: info, Decoder: dec, Valid: true}

	q := queue.New("video", queue.DefaultVideoMaxSize)
	l := New(Config{}, c, []Route{{Kind: media.KindVideo, StreamIndex: 0, Queue: q}}, []*media.StreamHandle{h}, nil)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.Equal(t, 1, c.CloseCount())
	assert.Equal(t, 1, c.Decoders()[0].CloseCount())
}

func TestRunTwice(t *testing.T) {
	c := synthetic.NewContainer(synthetic.VideoSpec(0.2, 25))
	q := queue.New("video", queue.DefaultVideoMaxSize)
	l := New(Config{}, c, []Route{{Kind: media.KindVideo, StreamIndex: 0, Queue: q}}, nil, nil)

	ctx := context.Background()
	qc := consume(ctx, q)
	require.NoError(t, l.Run(ctx))
	<-qc.done

	assert.ErrorIs(t, l.Run(ctx), ErrAlreadyStarted)
	assert.ErrorIs(t, l.Seek(ctx, 0), ErrNotRunning)
}

func TestSeekRepositionsAndFlushes(t *testing.T) {
	c := synthetic.NewContainer(synthetic.VideoSpec(10, 25))
	// Small queue so the loop is blocked pushing when the seek arrives.
	q := queue.New("video", 4096)
	var eof eofFlag
	l := New(Config{}, c, []Route{{Kind: media.KindVideo, StreamIndex: 0, Queue: q, EOF: &eof}}, nil, nil)

	var hookPosition atomic.Value
	l.OnSeek(func(seconds float64) {
		hookPosition.Store(seconds)
		assert.True(t, q.Aborted(), "queues flushed before the hook runs")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	require.Eventually(t, func() bool { return q.Len() == 4 }, time.Second, time.Millisecond)
	require.NoError(t, l.Seek(ctx, 8))

	assert.Equal(t, 8.0, hookPosition.Load())
	assert.Equal(t, 1, c.SeekCount())
	assert.Equal(t, uint64(1), l.Stats().Seeks)

	qc := consume(ctx, q)
	require.NoError(t, <-errCh)
	<-qc.done

	seqs := qc.popped()
	require.Len(t, seqs, 50, "packets from 8s to 10s")
	assert.Equal(t, 200, seqs[0])
	assert.True(t, eof.Load())
}

func TestSeekAfterEOFResumesReading(t *testing.T) {
	c := synthetic.NewContainer(synthetic.VideoSpec(1, 25))
	q := queue.New("video", queue.DefaultVideoMaxSize)
	var eof eofFlag
	l := New(Config{}, c, []Route{{Kind: media.KindVideo, StreamIndex: 0, Queue: q, EOF: &eof}}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	// Nobody consumes, so the loop waits for the queue to drain after EOF.
	require.Eventually(t, eof.Load, time.Second, time.Millisecond)
	require.NoError(t, l.Seek(ctx, 0.5))
	assert.Equal(t, 1, c.SeekCount())

	qc := consume(ctx, q)
	require.NoError(t, <-errCh)
	<-qc.done

	seqs := qc.popped()
	require.Len(t, seqs, 12)
	assert.Equal(t, 13, seqs[0])
}
