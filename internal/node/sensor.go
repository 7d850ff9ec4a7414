// Package node holds the loops run by the sensor and actuator nodes. The
// hardware sits behind small interfaces so cmd/ can bind it with gobot.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"furitingoasis/wiredin/internal/link"
	"furitingoasis/wiredin/internal/protocol"
)

// Valid rangefinder span in centimetres. Readings outside it are dropped.
const (
	MinDistance = 2.0
	MaxDistance = 400.0
)

var ErrOutOfRange = errors.New("distance out of range")

// Climate reads temperature (°C) and relative humidity (%).
type Climate interface {
	Read() (temperature, humidity float64, err error)
}

// Rangefinder reads a distance in centimetres.
type Rangefinder interface {
	Distance() (float64, error)
}

type SensorConfig struct {
	Hub          link.PeerID
	RadioChannel int
	Interval     time.Duration
	ReadAttempts int
	RetryPause   time.Duration
	// MaxSendFailures consecutive failed sends trigger a re-add of the hub peer.
	MaxSendFailures int
	RefreshPause    time.Duration
	Sleep           func(time.Duration)
}

type Sensor struct {
	cfg       SensorConfig
	transport link.Transport
	climate   Climate
	ranger    Rangefinder
	logger    *slog.Logger

	sendFailures int
}

// NewSensor builds a sensor loop. climate or ranger may be nil when that
// sensor is not fitted.
func NewSensor(cfg SensorConfig, t link.Transport, climate Climate, ranger Rangefinder, logger *slog.Logger) *Sensor {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.ReadAttempts < 1 {
		cfg.ReadAttempts = 1
	}
	if cfg.MaxSendFailures < 1 {
		cfg.MaxSendFailures = 3
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	return &Sensor{
		cfg:       cfg,
		transport: t,
		climate:   climate,
		ranger:    ranger,
		logger:    logger.With("component", "sensor", "hub", cfg.Hub.String()),
	}
}

// Run takes a reading every Interval until ctx is cancelled.
func (s *Sensor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		s.Tick()
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick reads the sensors and sends one telemetry message. When nothing could
// be read, an ERROR message is sent instead.
func (s *Sensor) Tick() {
	var (
		t    protocol.Telemetry
		errs []error
	)
	if temp, humidity, err := s.readClimate(); err != nil {
		errs = append(errs, err)
	} else {
		t.Temperature, t.Humidity = &temp, &humidity
	}
	if d, err := s.readDistance(); err != nil {
		errs = append(errs, err)
	} else {
		t.Distance = &d
	}

	msg := protocol.NewTelemetry(t)
	if t.Empty() {
		msg = protocol.NewError(fmt.Sprintf("no readings: %v", errors.Join(errs...)))
	} else if len(errs) > 0 {
		s.logger.Warn("partial reading", "error", errors.Join(errs...))
	}
	s.send(protocol.Encode(msg))
}

func (s *Sensor) readClimate() (float64, float64, error) {
	if s.climate == nil {
		return 0, 0, errors.New("climate sensor not fitted")
	}
	var err error
	for attempt := 1; attempt <= s.cfg.ReadAttempts; attempt++ {
		var temp, humidity float64
		if temp, humidity, err = s.climate.Read(); err == nil {
			return temp, humidity, nil
		}
		s.logger.Warn("climate read failed", "attempt", attempt, "error", err)
		if attempt < s.cfg.ReadAttempts {
			s.cfg.Sleep(s.cfg.RetryPause)
		}
	}
	return 0, 0, fmt.Errorf("climate sensor: %w", err)
}

func (s *Sensor) readDistance() (float64, error) {
	if s.ranger == nil {
		return 0, errors.New("rangefinder not fitted")
	}
	d, err := s.ranger.Distance()
	if err != nil {
		return 0, fmt.Errorf("rangefinder: %w", err)
	}
	if d < MinDistance || d > MaxDistance {
		return 0, fmt.Errorf("%w: %.1fcm", ErrOutOfRange, d)
	}
	return d, nil
}

func (s *Sensor) send(payload []byte) {
	if err := s.transport.Send(s.cfg.Hub, payload); err != nil {
		s.sendFailures++
		s.logger.Warn("send failed", "error", err, "consecutive_failures", s.sendFailures)
	} else {
		s.sendFailures = 0
		s.logger.Debug("sent", "payload", string(payload))
		return
	}
	if s.sendFailures < s.cfg.MaxSendFailures {
		return
	}
	r := link.Refresher{Channel: s.cfg.RadioChannel, Pause: s.cfg.RefreshPause, Sleep: s.cfg.Sleep}
	if err := r.Refresh(s.transport, s.cfg.Hub); err != nil {
		s.logger.Error("hub peer refresh failed", "error", err)
		return
	}
	s.logger.Info("hub peer re-added")
	s.sendFailures = 0
}
