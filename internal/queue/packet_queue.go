// Package queue implements the bounded packet queue that decouples the demux
// goroutine from a decode goroutine.
package queue

import (
	"context"
	"sync"

	"github.com/zsiec/reel/internal/media"
)

// Default capacities in bytes.
const (
	DefaultVideoMaxSize = 5 * 16 * 1024
	DefaultAudioMaxSize = 5 * 256 * 1024
)

type node struct {
	pkt    media.Packet
	serial uint64
	next   *node
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Packets  int    `json:"packets"`
	Bytes    int    `json:"bytes"`
	Duration int64  `json:"duration"`
	MaxSize  int    `json:"max_size"`
	Pushed   int64  `json:"pushed"`
	Popped   int64  `json:"popped"`
	Flushed  int64  `json:"flushed"`
	Serial   uint64 `json:"serial"`
	Aborted  bool   `json:"aborted"`
	Closed   bool   `json:"closed"`
}

// PacketQueue is a FIFO of packet handles bounded by total payload bytes.
//
// A new queue is aborted; call Start before pushing. The linked list and its
// counters are only mutated while holding mu. Waiters block on condition
// variables, never while holding the lock across anything else.
type PacketQueue struct {
	name    string
	maxSize int

	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	// state is broadcast on start, abort, close and when the queue empties.
	state *sync.Cond

	head, tail *node
	count      int
	size       int
	duration   int64
	// serial advances on every flush; packets remember the serial they
	// were pushed under.
	serial uint64

	aborted bool
	closed  bool
	done    chan struct{}

	pushed  int64
	popped  int64
	flushed int64
}

// New creates an aborted queue holding at most maxSize bytes.
func New(name string, maxSize int) *PacketQueue {
	q := &PacketQueue{
		name:    name,
		maxSize: maxSize,
		aborted: true,
		done:    make(chan struct{}),
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	q.state = sync.NewCond(&q.mu)
	return q
}

// Name returns the queue's label.
func (q *PacketQueue) Name() string { return q.name }

// Start clears the abort flag. It has no effect on a closed queue.
func (q *PacketQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.aborted = false
	q.state.Broadcast()
}

// Abort sets the abort flag and wakes every blocked pusher and popper.
func (q *PacketQueue) Abort() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.abortLocked()
}

func (q *PacketQueue) abortLocked() {
	q.aborted = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	q.state.Broadcast()
}

// Flush aborts the queue, releases every queued packet and advances the
// serial. The queue stays aborted until Start is called again.
func (q *PacketQueue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.abortLocked()
	q.releaseAllLocked()
	q.serial++
}

// Close aborts the queue permanently and releases its packets. Start has no
// effect afterwards.
func (q *PacketQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.abortLocked()
	q.releaseAllLocked()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
}

func (q *PacketQueue) releaseAllLocked() {
	released := 0
	for n := q.head; n != nil; n = n.next {
		n.pkt.Release()
		released++
	}
	q.head, q.tail = nil, nil
	q.count, q.size, q.duration = 0, 0, 0
	q.flushed += int64(released)
	q.state.Broadcast()

	if released > 0 {
		queueFlushedPackets.WithLabelValues(q.name).Add(float64(released))
	}
	q.updateGaugesLocked()
}

// Push enqueues a reference to pkt without waiting for space. It returns
// false, without taking a reference, when the queue is aborted.
func (q *PacketQueue) Push(pkt media.Packet) bool {
	return q.push(pkt, false)
}

// BlockingPush enqueues a reference to pkt, waiting while the queue holds
// maxSize bytes or more. It returns false if the queue is aborted before
// space frees up.
func (q *PacketQueue) BlockingPush(pkt media.Packet) bool {
	return q.push(pkt, true)
}

func (q *PacketQueue) push(pkt media.Packet, block bool) bool {
	if pkt == nil || q.Aborted() {
		return false
	}

	ref, err := pkt.Ref()
	if err != nil {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if block && q.size >= q.maxSize && !q.aborted {
		queueBlockedPushes.WithLabelValues(q.name).Inc()
		for q.size >= q.maxSize && !q.aborted {
			q.notFull.Wait()
		}
	}
	if q.aborted {
		ref.Release()
		return false
	}

	n := &node{pkt: ref, serial: q.serial}
	if q.tail == nil {
		q.head = n
	} else {
		q.tail.next = n
	}
	q.tail = n
	q.count++
	q.size += ref.Size()
	q.duration += ref.Duration()
	q.pushed++
	q.updateGaugesLocked()

	q.notEmpty.Signal()
	return true
}

// BlockingPop removes the oldest packet, waiting while the queue is empty.
// It returns false once the queue is aborted. The caller owns the returned
// handle and must release it.
func (q *PacketQueue) BlockingPop() (media.Packet, bool) {
	pkt, _, ok := q.PopSerial()
	return pkt, ok
}

// PopSerial is BlockingPop that also reports the serial the packet was
// pushed under. A serial older than Serial() marks a packet queued before
// the last flush.
func (q *PacketQueue) PopSerial() (media.Packet, uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.head == nil && !q.aborted {
		q.notEmpty.Wait()
	}
	if q.aborted {
		return nil, 0, false
	}

	n := q.head
	q.head = n.next
	if q.head == nil {
		q.tail = nil
	}
	q.count--
	q.size -= n.pkt.Size()
	q.duration -= n.pkt.Duration()
	q.popped++
	q.updateGaugesLocked()

	q.notFull.Signal()
	if q.count == 0 {
		q.state.Broadcast()
	}
	return n.pkt, n.serial, true
}

// WaitDrained blocks until the queue is empty. It returns false if the queue
// is aborted or ctx ends first.
func (q *PacketQueue) WaitDrained(ctx context.Context) bool {
	stop := q.wakeOnDone(ctx)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.count > 0 && !q.aborted && ctx.Err() == nil {
		q.state.Wait()
	}
	return q.count == 0 && !q.aborted
}

// WaitStarted blocks while the queue is aborted. It returns false if the
// queue is closed or ctx ends first.
func (q *PacketQueue) WaitStarted(ctx context.Context) bool {
	stop := q.wakeOnDone(ctx)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.aborted && !q.closed && ctx.Err() == nil {
		q.state.Wait()
	}
	return !q.aborted && !q.closed
}

func (q *PacketQueue) wakeOnDone(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.state.Broadcast()
		q.mu.Unlock()
	})
}

// Done is closed once the queue is closed.
func (q *PacketQueue) Done() <-chan struct{} {
	return q.done
}

func (q *PacketQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Size returns the queued payload bytes.
func (q *PacketQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Duration returns the queued duration in stream time-base units.
func (q *PacketQueue) Duration() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.duration
}

// Serial returns the current flush serial.
func (q *PacketQueue) Serial() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.serial
}

func (q *PacketQueue) Aborted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.aborted
}

func (q *PacketQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Stats returns a snapshot of the queue counters.
func (q *PacketQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Packets:  q.count,
		Bytes:    q.size,
		Duration: q.duration,
		MaxSize:  q.maxSize,
		Pushed:   q.pushed,
		Popped:   q.popped,
		Flushed:  q.flushed,
		Serial:   q.serial,
		Aborted:  q.aborted,
		Closed:   q.closed,
	}
}

func (q *PacketQueue) updateGaugesLocked() {
	queueBytes.WithLabelValues(q.name).Set(float64(q.size))
	queuePackets.WithLabelValues(q.name).Set(float64(q.count))
}
