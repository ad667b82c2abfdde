package decode

import (
	"sync"

	"github.com/zsiec/reel/internal/media"
)

type envelope struct {
	frame  media.Frame
	serial uint64
}

// mailbox is an unbounded FIFO between the decode goroutine and its
// dispatcher. put never blocks.
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []envelope
	closed bool
}

func newMailbox() *mailbox {
	m := &mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *mailbox) put(e envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.items = append(m.items, e)
	m.cond.Signal()
}

// take blocks until an envelope is available. It returns false once the
// mailbox is closed and empty.
func (m *mailbox) take() (envelope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.items) == 0 && !m.closed {
		m.cond.Wait()
	}
	if len(m.items) == 0 {
		return envelope{}, false
	}
	e := m.items[0]
	m.items[0] = envelope{}
	m.items = m.items[1:]
	return e, true
}

// discard drops every pending envelope.
func (m *mailbox) discard() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.items)
	m.items = nil
	return n
}

// close lets take drain what is left, then return false.
func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cond.Broadcast()
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
