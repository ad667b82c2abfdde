package queue

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/media/synthetic"
)

// pushOwned pushes a fresh packet and drops the caller's handle, the way the
// demux loop does after routing.
func pushOwned(t *testing.T, q *PacketQueue, size int, duration int64, live *atomic.Int64) bool {
	t.Helper()
	pkt := synthetic.NewPacket(0, size, duration, live)
	defer pkt.Release()
	return q.Push(pkt)
}

func TestNewQueueStartsAborted(t *testing.T) {
	q := New("video", 1024)
	var live atomic.Int64

	assert.True(t, q.Aborted())
	assert.False(t, pushOwned(t, q, 10, 1, &live))
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, int64(0), live.Load())
}

func TestTrackedSizeMatchesQueuedPackets(t *testing.T) {
	q := New("video", 1<<30)
	q.Start()
	var live atomic.Int64

	rng := rand.New(rand.NewSource(42))
	var sizes []int
	var durations []int64

	for i := 0; i < 2000; i++ {
		if len(sizes) == 0 || rng.Intn(3) > 0 {
			size := rng.Intn(4096) + 1
			dur := int64(rng.Intn(100))
			require.True(t, pushOwned(t, q, size, dur, &live))
			sizes = append(sizes, size)
			durations = append(durations, dur)
		} else {
			pkt, ok := q.BlockingPop()
			require.True(t, ok)
			assert.Equal(t, sizes[0], pkt.Size(), "FIFO order")
			pkt.Release()
			sizes = sizes[1:]
			durations = durations[1:]
		}

		wantSize, wantDur := 0, int64(0)
		for j := range sizes {
			wantSize += sizes[j]
			wantDur += durations[j]
		}
		require.Equal(t, wantSize, q.Size())
		require.Equal(t, wantDur, q.Duration())
		require.Equal(t, len(sizes), q.Len())
	}

	assert.Equal(t, int64(len(sizes)), live.Load())
}

func TestAbortWakesAllBlockedWaiters(t *testing.T) {
	const poppers, pushers = 5, 3

	popQ := New("audio", 1024)
	popQ.Start()
	pushQ := New("video", 100)
	pushQ.Start()
	var live atomic.Int64
	require.True(t, pushOwned(t, pushQ, 100, 1, &live))

	results := make(chan bool, poppers+pushers)
	var ready sync.WaitGroup
	ready.Add(poppers + pushers)

	for i := 0; i < poppers; i++ {
		go func() {
			ready.Done()
			_, ok := popQ.BlockingPop()
			results <- ok
		}()
	}
	for i := 0; i < pushers; i++ {
		go func() {
			pkt := synthetic.NewPacket(0, 10, 1, &live)
			defer pkt.Release()
			ready.Done()
			results <- pushQ.BlockingPush(pkt)
		}()
	}

	ready.Wait()
	time.Sleep(20 * time.Millisecond)

	popQ.Abort()
	pushQ.Abort()

	deadline := time.After(time.Second)
	for i := 0; i < poppers+pushers; i++ {
		select {
		case ok := <-results:
			assert.False(t, ok, "waiter must report aborted")
		case <-deadline:
			t.Fatalf("only %d of %d waiters woke up", i, poppers+pushers)
		}
	}

	assert.Equal(t, 1, pushQ.Len())
	pushQ.Flush()
	assert.Eventually(t, func() bool { return live.Load() == 0 }, time.Second, 5*time.Millisecond)
}

func TestFlushThenStartResetsQueue(t *testing.T) {
	q := New("video", 1<<20)
	q.Start()
	var live atomic.Int64

	for i := 0; i < 10; i++ {
		require.True(t, pushOwned(t, q, 100, 40, &live))
	}
	assert.Equal(t, int64(10), live.Load())

	q.Flush()
	assert.True(t, q.Aborted())
	assert.Equal(t, int64(0), live.Load(), "flush releases queued handles")

	q.Start()
	stats := q.Stats()
	assert.Equal(t, 0, stats.Packets)
	assert.Equal(t, 0, stats.Bytes)
	assert.Equal(t, int64(0), stats.Duration)
	assert.Equal(t, int64(10), stats.Flushed)

	assert.True(t, pushOwned(t, q, 7, 1, &live))
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 7, q.Size())
}

func TestPushToAbortedQueueIsNoop(t *testing.T) {
	q := New("audio", 1<<20)
	q.Start()
	var live atomic.Int64
	require.True(t, pushOwned(t, q, 10, 1, &live))

	q.Abort()
	for i := 0; i < 5; i++ {
		assert.False(t, pushOwned(t, q, 10, 1, &live))
		pkt := synthetic.NewPacket(0, 10, 1, &live)
		assert.False(t, q.BlockingPush(pkt))
		pkt.Release()
	}

	assert.Equal(t, 1, q.Len())
	assert.Equal(t, int64(1), live.Load())

	_, ok := q.BlockingPop()
	assert.False(t, ok, "pop on aborted queue returns none")
}

func TestBlockingPushAppliesBackpressure(t *testing.T) {
	q := New("video", 100)
	q.Start()
	var live atomic.Int64

	require.True(t, pushOwned(t, q, 60, 1, &live))
	require.True(t, pushOwned(t, q, 60, 1, &live), "below maxSize is accepted")

	pushed := make(chan bool, 1)
	go func() {
		pkt := synthetic.NewPacket(0, 60, 1, &live)
		defer pkt.Release()
		pushed <- q.BlockingPush(pkt)
	}()

	select {
	case <-pushed:
		t.Fatal("push should block while the queue is full")
	case <-time.After(30 * time.Millisecond):
	}

	pkt, ok := q.BlockingPop()
	require.True(t, ok)
	pkt.Release()

	select {
	case ok := <-pushed:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("push did not resume after space was freed")
	}
	assert.Equal(t, 120, q.Size())
}

func TestBlockingPopWaitsForPush(t *testing.T) {
	q := New("video", 1024)
	q.Start()
	var live atomic.Int64

	got := make(chan media.Packet, 1)
	go func() {
		pkt, ok := q.BlockingPop()
		if ok {
			got <- pkt
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.True(t, pushOwned(t, q, 33, 1, &live))

	select {
	case pkt := <-got:
		assert.Equal(t, 33, pkt.Size())
		pkt.Release()
	case <-time.After(time.Second):
		t.Fatal("pop did not wake on push")
	}
}

func TestWaitDrained(t *testing.T) {
	q := New("video", 1024)
	q.Start()
	var live atomic.Int64
	require.True(t, pushOwned(t, q, 1, 1, &live))

	done := make(chan bool, 1)
	go func() { done <- q.WaitDrained(context.Background()) }()

	pkt, ok := q.BlockingPop()
	require.True(t, ok)
	pkt.Release()

	select {
	case drained := <-done:
		assert.True(t, drained)
	case <-time.After(time.Second):
		t.Fatal("WaitDrained did not return")
	}

	require.True(t, pushOwned(t, q, 1, 1, &live))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, q.WaitDrained(ctx))
}

func TestWaitStartedAndClose(t *testing.T) {
	q := New("audio", 1024)

	started := make(chan bool, 1)
	go func() { started <- q.WaitStarted(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	q.Start()
	assert.True(t, <-started)

	q.Abort()
	closed := make(chan bool, 1)
	go func() { closed <- q.WaitStarted(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	assert.False(t, <-closed)

	select {
	case <-q.Done():
	default:
		t.Fatal("Done not closed")
	}

	q.Start()
	assert.True(t, q.Aborted(), "closed queue cannot be restarted")
	assert.NotPanics(t, q.Close)
}

func TestFlushAdvancesSerial(t *testing.T) {
	q := New("video", 1024)
	q.Start()
	var live atomic.Int64

	require.True(t, pushOwned(t, q, 10, 1, &live))
	pkt, serial, ok := q.PopSerial()
	require.True(t, ok)
	pkt.Release()
	assert.Equal(t, uint64(0), serial)

	require.True(t, pushOwned(t, q, 10, 1, &live))
	q.Flush()
	assert.Equal(t, uint64(1), q.Serial())
	q.Start()

	require.True(t, pushOwned(t, q, 10, 1, &live))
	pkt, serial, ok = q.PopSerial()
	require.True(t, ok)
	pkt.Release()
	assert.Equal(t, uint64(1), serial)
	assert.Equal(t, uint64(1), q.Stats().Serial)
	assert.Zero(t, live.Load())
}
