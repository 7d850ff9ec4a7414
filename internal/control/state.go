// Package control holds the hub's actuator belief, the control thresholds and
// the decision engine that turns telemetry into actuator transitions.
package control

import (
	"errors"
	"time"

	"furitingoasis/wiredin/internal/protocol"
)

// ErrSensorUnavailable is returned when a telemetry message carries no usable reading.
var ErrSensorUnavailable = errors.New("sensor unavailable")

// Thresholds are the five runtime-mutable control limits. Lower and upper
// bounds are not checked against each other.
type Thresholds struct {
	TempLower         float64 `yaml:"temp_lower" json:"temp_lower"`
	TempUpper         float64 `yaml:"temp_upper" json:"temp_upper"`
	HumidLower        float64 `yaml:"humid_lower" json:"humid_lower"`
	HumidUpper        float64 `yaml:"humid_upper" json:"humid_upper"`
	DistanceThreshold float64 `yaml:"distance_threshold" json:"distance_threshold"`
}

// DefaultThresholds returns the factory limits: heat below 20°C, fan above
// 25°C or 65%, humidifier below 35%, door closes under 8cm.
func DefaultThresholds() Thresholds {
	return Thresholds{
		TempLower:         20,
		TempUpper:         25,
		HumidLower:        35,
		HumidUpper:        65,
		DistanceThreshold: 8,
	}
}

// Belief is the hub's optimistic view of the actuator outputs. A channel is
// committed when its command is delivered, not when the ACK arrives.
type Belief struct {
	Heat       bool
	Fan        bool
	Humidifier bool
	Door       bool
	Override   bool
}

// Get returns the believed state of ch.
func (b Belief) Get(ch protocol.Channel) bool {
	switch ch {
	case protocol.Heat:
		return b.Heat
	case protocol.Fan:
		return b.Fan
	case protocol.Humidifier:
		return b.Humidifier
	case protocol.Door:
		return b.Door
	}
	return false
}

// Commit records a delivered transition.
func (b *Belief) Commit(ch protocol.Channel, on bool) {
	switch ch {
	case protocol.Heat:
		b.Heat = on
	case protocol.Fan:
		b.Fan = on
	case protocol.Humidifier:
		b.Humidifier = on
	case protocol.Door:
		b.Door = on
	}
}

// Diverged lists the channels where the actuator's reported status differs
// from belief.
func (b Belief) Diverged(s protocol.Status) []protocol.Channel {
	var out []protocol.Channel
	for _, ch := range protocol.Channels {
		if b.Get(ch) != s.Get(ch) {
			out = append(out, ch)
		}
	}
	return out
}

// Sample is one decoded telemetry reading. Nil fields are absent.
type Sample struct {
	Temperature *float64
	Humidity    *float64
	Distance    *float64
	ReceivedAt  time.Time
}

// NewSample converts decoded telemetry into a Sample.
func NewSample(t protocol.Telemetry, at time.Time) (Sample, error) {
	if t.Empty() {
		return Sample{}, ErrSensorUnavailable
	}
	return Sample{
		Temperature: t.Temperature,
		Humidity:    t.Humidity,
		Distance:    t.Distance,
		ReceivedAt:  at,
	}, nil
}

// WithDistance returns s with its distance filled from a last-known value
// when the sample itself carries none.
func (s Sample) WithDistance(last *float64) Sample {
	if s.Distance == nil && last != nil {
		s.Distance = last
	}
	return s
}
