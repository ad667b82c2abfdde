package audio

import (
	"context"
	"errors"
	"sync"
)

var ErrRingClosed = errors.New("ring closed")

// ring is a byte circular buffer. Writers block while it is full; readers
// never block.
type ring struct {
	data     []byte
	size     int64
	writePos int64
	readPos  int64
	written  int64
	read     int64
	closed   bool

	mu        sync.Mutex
	writeCond *sync.Cond
}

func newRing(size int) *ring {
	r := &ring{
		data: make([]byte, size),
		size: int64(size),
	}
	r.writeCond = sync.NewCond(&r.mu)
	return r
}

// Write copies all of data into the ring, waiting for space as needed. It
// returns early with the bytes written so far if the ring is closed or ctx
// ends.
func (r *ring) Write(ctx context.Context, data []byte) (int, error) {
	stop := context.AfterFunc(ctx, func() {
		r.mu.Lock()
		r.writeCond.Broadcast()
		r.mu.Unlock()
	})
	defer stop()

	r.mu.Lock()
	defer r.mu.Unlock()

	dataLen := int64(len(data))
	written := int64(0)
	for written < dataLen {
		for r.written-r.read == r.size && !r.closed && ctx.Err() == nil {
			r.writeCond.Wait()
		}
		if r.closed {
			return int(written), ErrRingClosed
		}
		if err := ctx.Err(); err != nil {
			return int(written), err
		}

		available := r.size - (r.written - r.read)
		chunk := min(dataLen-written, available)
		for chunk > 0 {
			n := min(chunk, r.size-r.writePos)
			copy(r.data[r.writePos:r.writePos+n], data[written:written+n])
			r.writePos = (r.writePos + n) % r.size
			r.written += n
			written += n
			chunk -= n
		}
	}
	return int(written), nil
}

// Read copies up to len(p) buffered bytes into p.
func (r *ring) Read(p []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	toRead := min(int64(len(p)), r.written-r.read)
	read := int64(0)
	for read < toRead {
		n := min(toRead-read, r.size-r.readPos)
		copy(p[read:read+n], r.data[r.readPos:r.readPos+n])
		r.readPos = (r.readPos + n) % r.size
		read += n
	}
	r.read += read
	if read > 0 {
		r.writeCond.Broadcast()
	}
	return int(read)
}

// Reset discards buffered bytes and wakes blocked writers.
func (r *ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.read = r.written
	r.readPos = r.writePos
	r.writeCond.Broadcast()
}

// Close wakes blocked writers; buffered bytes stay readable.
func (r *ring) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.writeCond.Broadcast()
}

// Reopen accepts writes again after Close.
func (r *ring) Reopen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = false
}

func (r *ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.written - r.read)
}

func (r *ring) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
