package ffmpeg

import (
	"errors"

	"github.com/obinnaokechukwu/ffgo/avcodec"

	"github.com/zsiec/reel/internal/media"
)

// packet owns one AVPacket reference.
type packet struct {
	pkt avcodec.Packet
}

func (p *packet) StreamIndex() int { return int(avcodec.GetPacketStreamIndex(p.pkt)) }
func (p *packet) Size() int        { return int(avcodec.GetPacketSize(p.pkt)) }
func (p *packet) Duration() int64  { return avcodec.GetPacketDuration(p.pkt) }

// Ref implements media.Packet.
func (p *packet) Ref() (media.Packet, error) {
	dst := avcodec.PacketAlloc()
	if dst == nil {
		return nil, errors.New("ffmpeg: failed to allocate packet")
	}
	if err := avcodec.PacketRef(dst, p.pkt); err != nil {
		avcodec.PacketFree(&dst)
		return nil, err
	}
	return &packet{pkt: dst}, nil
}

// Release implements media.Packet.
func (p *packet) Release() {
	avcodec.PacketFree(&p.pkt)
}
