package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Message outcome labels.
const (
	ResultAccepted    = "accepted"
	ResultCommand     = "command"
	ResultMalformed   = "malformed"
	ResultRateLimited = "rate_limited"
)

var (
	registerOnce sync.Once

	protocolMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "overlayctl",
			Subsystem: "protocol",
			Name:      "messages_total",
			Help:      "Total protocol lines by outcome.",
		},
		[]string{"result"},
	)
	activeClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "overlayctl",
			Subsystem: "server",
			Name:      "active_clients",
			Help:      "Currently connected client sessions.",
		},
	)
	liveGraphics = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "overlayctl",
			Subsystem: "store",
			Name:      "live_graphics",
			Help:      "Graphics currently held by the store.",
		},
	)
	sweptGraphics = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "overlayctl",
			Subsystem: "store",
			Name:      "swept_graphics_total",
			Help:      "Graphics removed by expiry sweeps.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(protocolMessages, activeClients, liveGraphics, sweptGraphics)
	})
}

func RecordMessage(result string) {
	RegisterMetrics()
	protocolMessages.WithLabelValues(result).Inc()
}

func SetActiveClients(n int) {
	RegisterMetrics()
	activeClients.Set(float64(n))
}

func SetLiveGraphics(n int) {
	RegisterMetrics()
	liveGraphics.Set(float64(n))
}

func RecordSwept(n int) {
	RegisterMetrics()
	sweptGraphics.Add(float64(n))
}
