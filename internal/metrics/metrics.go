package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wisefido_monitor_events_ingested_total",
		Help: "Total number of telemetry events decoded and published, labelled by device family.",
	}, []string{"family"})

	DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wisefido_monitor_decode_errors_total",
		Help: "Total number of payloads dropped by codecs, labelled by family and error kind.",
	}, []string{"family", "kind"})

	BusDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wisefido_monitor_bus_dropped_total",
		Help: "Total number of bus messages dropped under backpressure, labelled by subscription.",
	}, []string{"subscription"})

	AlertsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wisefido_monitor_alerts_total",
		Help: "Total number of alert events emitted, labelled by severity and state.",
	}, []string{"severity", "state"})

	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wisefido_monitor_ws_clients",
		Help: "Current number of connected realtime clients.",
	})

	ClientEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wisefido_monitor_ws_evictions_total",
		Help: "Total number of realtime clients evicted after consecutive send failures.",
	})

	PersistErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wisefido_monitor_persist_errors_total",
		Help: "Total number of best-effort persistence failures, labelled by target.",
	}, []string{"target"})
)
