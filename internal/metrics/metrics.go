// Package metrics exposes the hub's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	MessagesReceived *prometheus.CounterVec
	DecodeErrors     prometheus.Counter
	SendAttempts     prometheus.Counter
	Commands         *prometheus.CounterVec
	LinkRefreshes    *prometheus.CounterVec
	Publishes        *prometheus.CounterVec
	BrokerConnected  prometheus.Gauge
	ActuatorState    *prometheus.GaugeVec
	OverrideEnabled  prometheus.Gauge
	Telemetry        *prometheus.GaugeVec
	LoopFaults       *prometheus.CounterVec
}

// New builds the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_messages_received_total",
			Help: "Link messages received, by decoded kind.",
		}, []string{"kind"}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hub_decode_errors_total",
			Help: "Link messages that matched a grammar but failed to decode.",
		}),
		SendAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hub_send_attempts_total",
			Help: "Individual command send attempts, including retries.",
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_commands_total",
			Help: "Dispatched commands, by channel and result.",
		}, []string{"channel", "result"}),
		LinkRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_link_refreshes_total",
			Help: "Peer link refreshes, by reason.",
		}, []string{"reason"}),
		Publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_bridge_publishes_total",
			Help: "Snapshot publications to the broker, by result.",
		}, []string{"result"}),
		BrokerConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hub_bridge_connected",
			Help: "1 while the broker connection is up.",
		}),
		ActuatorState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hub_actuator_state",
			Help: "Believed actuator output per channel (1 = on/closed).",
		}, []string{"channel"}),
		OverrideEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hub_override_enabled",
			Help: "1 while automatic control is suspended by take-over.",
		}),
		Telemetry: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hub_telemetry",
			Help: "Last received telemetry reading, by field.",
		}, []string{"field"}),
		LoopFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_loop_faults_total",
			Help: "Failed or panicking loop operations, by operation.",
		}, []string{"op"}),
	}

	reg.MustRegister(
		m.MessagesReceived, m.DecodeErrors, m.SendAttempts, m.Commands,
		m.LinkRefreshes, m.Publishes, m.BrokerConnected, m.ActuatorState,
		m.OverrideEnabled, m.Telemetry, m.LoopFaults,
	)
	return m
}

// Bool converts a flag to a gauge value.
func Bool(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// Handler serves the collectors registered with g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
