package visualiser

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentsim_frames_consumed",
		Help: "The number of frames read from the frame buffer.",
	})

	framesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentsim_visualiser_frames_dropped",
		Help: "The number of frames a viewer did not receive because it fell behind.",
	})

	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentsim_visualiser_clients",
		Help: "The number of connected gRPC and websocket viewers.",
	})
)
