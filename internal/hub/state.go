package hub

import (
	"time"

	"furitingoasis/wiredin/internal/control"
	"furitingoasis/wiredin/internal/link"
)

// State is everything the hub knows. Only the loop goroutine touches it.
type State struct {
	Thresholds control.Thresholds
	Belief     control.Belief
	Last       LastTelemetry
	Peers      *link.Peers
}

// LastTelemetry holds the most recent value of each reading, kept across
// samples that omit it.
type LastTelemetry struct {
	Temperature *float64
	Humidity    *float64
	Distance    *float64
	At          time.Time
}

func (l *LastTelemetry) remember(s control.Sample) {
	if s.Temperature != nil {
		l.Temperature = s.Temperature
	}
	if s.Humidity != nil {
		l.Humidity = s.Humidity
	}
	if s.Distance != nil {
		l.Distance = s.Distance
	}
	l.At = s.ReceivedAt
}

// timer fires once every interval, measured from its last firing.
type timer struct {
	interval time.Duration
	last     time.Time
}

func (t *timer) due(now time.Time) bool {
	if t.interval <= 0 || now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	return true
}
