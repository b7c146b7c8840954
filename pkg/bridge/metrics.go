package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var callsMetric = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "walletbridge_calls_total",
		Help: "Native-issued bridge calls by method and outcome.",
	},
	[]string{"method", "result"},
)

var eventsMetric = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "walletbridge_events_total",
		Help: "Script events routed to native subscribers.",
	},
	[]string{"type"},
)

var droppedMessagesMetric = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "walletbridge_dropped_messages_total",
		Help: "Inbound messages and events dropped by the router.",
	},
	[]string{"reason"},
)

var diagnosticsMetric = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "walletbridge_diagnostics_total",
		Help: "Advisory diagnostic messages received from the script side.",
	},
	[]string{"stage"},
)
