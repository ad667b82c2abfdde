package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reel_packet_queue_bytes",
		Help: "Bytes of compressed data currently queued",
	}, []string{"queue"})

	queuePackets = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reel_packet_queue_packets",
		Help: "Packets currently queued",
	}, []string{"queue"})

	queueBlockedPushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reel_packet_queue_blocked_pushes_total",
		Help: "Pushes that had to wait for the consumer to free space",
	}, []string{"queue"})

	queueFlushedPackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reel_packet_queue_flushed_packets_total",
		Help: "Packets released by flush or close without being consumed",
	}, []string{"queue"})
)
