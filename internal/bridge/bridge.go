// Package bridge mirrors hub state to an MQTT broker and carries remote
// configuration and override messages back into the supervisory loop.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"furitingoasis/wiredin/internal/control"
	"furitingoasis/wiredin/internal/metrics"
)

// ErrBrokerUnavailable marks publish or connect failures. The bridge is
// left disconnected and retried on the next connectivity check.
var ErrBrokerUnavailable = errors.New("broker unavailable")

// Broker is the subset of an MQTT client the bridge needs. Subscribe
// handlers may run on a foreign goroutine.
type Broker interface {
	Connect() error
	IsConnected() bool
	Publish(topic string, payload []byte) error
	Subscribe(topic string, handler func(payload []byte)) error
}

type Topics struct {
	Data    string `yaml:"data"`
	Control string `yaml:"control"`
}

// Snapshot is the JSON document published on the data topic.
type Snapshot struct {
	HeatLamp   bool `json:"heat_lamp"`
	Fan        bool `json:"fan"`
	Humidifier bool `json:"humidifier"`
	Servo      bool `json:"servo"`
	TakeOver   bool `json:"take_over"`

	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Distance    *float64 `json:"distance,omitempty"`

	DailyHighTemp     *float64 `json:"daily_high_temp,omitempty"`
	DailyLowTemp      *float64 `json:"daily_low_temp,omitempty"`
	DailyHighHumidity *float64 `json:"daily_high_humidity,omitempty"`
	DailyLowHumidity  *float64 `json:"daily_low_humidity,omitempty"`

	Thresholds       control.Thresholds `json:"thresholds"`
	DispatchFailures int                `json:"dispatch_failures"`
	Timestamp        float64            `json:"timestamp"`
}

// NewSnapshot fills the actuator part of a snapshot from belief.
func NewSnapshot(b control.Belief, th control.Thresholds, at time.Time) Snapshot {
	return Snapshot{
		HeatLamp:   b.Heat,
		Fan:        b.Fan,
		Humidifier: b.Humidifier,
		Servo:      b.Door,
		TakeOver:   b.Override,
		Thresholds: th,
		Timestamp:  float64(at.UnixMilli()) / 1000,
	}
}

// Bridge owns the broker connection state. Inbound control payloads are
// queued and drained by the loop, which is the only writer of hub state.
type Bridge struct {
	broker  Broker
	topics  Topics
	logger  *slog.Logger
	metrics *metrics.Metrics

	inbox     chan []byte
	connected bool
}

func New(broker Broker, topics Topics, inboxSize int, logger *slog.Logger, m *metrics.Metrics) *Bridge {
	if inboxSize < 1 {
		inboxSize = 16
	}
	return &Bridge{
		broker:  broker,
		topics:  topics,
		logger:  logger.With("component", "bridge"),
		metrics: m,
		inbox:   make(chan []byte, inboxSize),
	}
}

// Start registers the control subscription and makes the first connection
// attempt. A failed attempt is returned but leaves the bridge usable.
func (b *Bridge) Start() error {
	if err := b.broker.Subscribe(b.topics.Control, b.enqueue); err != nil {
		b.logger.Warn("control subscription deferred", "error", err)
	}
	return b.connect()
}

func (b *Bridge) enqueue(payload []byte) {
	cp := append([]byte(nil), payload...)
	select {
	case b.inbox <- cp:
	default:
		b.logger.Warn("control inbox full, dropping message", "bytes", len(payload))
	}
}

func (b *Bridge) connect() error {
	if err := b.broker.Connect(); err != nil {
		b.setConnected(false)
		return fmt.Errorf("%w: %w", ErrBrokerUnavailable, err)
	}
	b.setConnected(true)
	return nil
}

func (b *Bridge) setConnected(v bool) {
	if b.connected != v {
		b.logger.Info("bridge state changed", "connected", v)
	}
	b.connected = v
	b.metrics.BrokerConnected.Set(metrics.Bool(v))
}

// Connected reports the bridge's last known connection state.
func (b *Bridge) Connected() bool {
	return b.connected
}

// CheckConnection reconnects when the broker link is down.
func (b *Bridge) CheckConnection() error {
	if b.broker.IsConnected() {
		b.setConnected(true)
		return nil
	}
	b.logger.Info("broker disconnected, attempting to reconnect")
	return b.connect()
}

// Publish sends a snapshot on the data topic. Any failure degrades the
// bridge to disconnected.
func (b *Bridge) Publish(s Snapshot) error {
	if !b.connected || !b.broker.IsConnected() {
		b.setConnected(false)
		b.metrics.Publishes.WithLabelValues("skipped").Inc()
		return ErrBrokerUnavailable
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := b.broker.Publish(b.topics.Data, payload); err != nil {
		b.setConnected(false)
		b.metrics.Publishes.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: %w", ErrBrokerUnavailable, err)
	}
	b.metrics.Publishes.WithLabelValues("ok").Inc()
	return nil
}

// Drain returns the queued control payloads without blocking.
func (b *Bridge) Drain() [][]byte {
	var out [][]byte
	for {
		select {
		case p := <-b.inbox:
			out = append(out, p)
		default:
			return out
		}
	}
}
