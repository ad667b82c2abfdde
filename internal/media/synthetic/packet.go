package synthetic

import (
	"sync/atomic"

	"github.com/zsiec/reel/internal/media"
)

type packetData struct {
	stream   int
	seq      int
	pts      int64
	size     int
	duration int64
	corrupt  bool
	live     *atomic.Int64
}

// Packet is a media.Packet handle. Each handle must be released once.
type Packet struct {
	data     *packetData
	released atomic.Bool
}

func (p *Packet) StreamIndex() int { return p.data.stream }
func (p *Packet) Size() int        { return p.data.size }
func (p *Packet) Duration() int64  { return p.data.duration }

// Seq is the packet's position within its stream.
func (p *Packet) Seq() int { return p.data.seq }

// Ref implements media.Packet.
func (p *Packet) Ref() (media.Packet, error) {
	p.data.live.Add(1)
	return &Packet{data: p.data}, nil
}

// Release implements media.Packet. Releasing a handle twice panics.
func (p *Packet) Release() {
	if !p.released.CompareAndSwap(false, true) {
		panic("synthetic: packet released twice")
	}
	p.data.live.Add(-1)
}

// NewPacket returns a standalone packet for queue tests. The counter tracks
// live handles and may be nil.
func NewPacket(stream, size int, duration int64, live *atomic.Int64) *Packet {
	if live == nil {
		live = new(atomic.Int64)
	}
	live.Add(1)
	return &Packet{data: &packetData{stream: stream, size: size, duration: duration, live: live}}
}
