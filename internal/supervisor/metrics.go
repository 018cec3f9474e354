// Package supervisor provides Prometheus metrics for connection visibility.
package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Reconnects counts reconnect outcomes.
	// Labels: outcome (success, gave_up)
	Reconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msgvault",
			Subsystem: "supervisor",
			Name:      "reconnects_total",
			Help:      "Total number of reconnect attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Disconnects counts closed-connection events by status code.
	Disconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msgvault",
			Subsystem: "supervisor",
			Name:      "disconnects_total",
			Help:      "Total number of connection closures by status code",
		},
		[]string{"code"},
	)

	// ConnectionOpen indicates current connection status (1=open, 0=not).
	ConnectionOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "msgvault",
			Subsystem: "supervisor",
			Name:      "connection_open",
			Help:      "Whether the socket connection is currently open (1=open, 0=not)",
		},
	)
)
