package simulation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentsim_frames_written",
		Help: "The number of frames published to the frame buffer.",
	})

	activeAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentsim_active_agents",
		Help: "The number of agents in the world.",
	})

	stoppedAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentsim_stopped_agents",
		Help: "The number of agents currently stopped to avoid a collision.",
	})

	agentsRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentsim_agents_removed",
		Help: "The number of agents removed after leaving the world.",
	})

	collisionsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentsim_buffer_overlaps",
		Help: "The number of agent pairs found with overlapping buffer zones.",
	})

	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agentsim_tick_duration_seconds",
		Help:    "The wall time spent updating one tick.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	})
)
