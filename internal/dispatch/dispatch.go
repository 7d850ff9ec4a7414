// Package dispatch delivers actuator commands over the lossy link with
// bounded retries and a link-refresh fallback.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"furitingoasis/wiredin/internal/control"
	"furitingoasis/wiredin/internal/link"
	"furitingoasis/wiredin/internal/metrics"
	"furitingoasis/wiredin/internal/protocol"

	"github.com/google/uuid"
)

// ErrDeliveryFailed is returned when every attempt, including the one after
// the link refresh, failed.
var ErrDeliveryFailed = errors.New("delivery failed")

// Command is a single in-flight actuator command.
type Command struct {
	ID       uuid.UUID
	Channel  protocol.Channel
	On       bool
	IssuedAt time.Time
}

type Config struct {
	Attempts     int
	Pause        time.Duration
	RefreshPause time.Duration
	RadioChannel int

	// Sleep and Now default to the time package.
	Sleep func(time.Duration)
	Now   func() time.Time
	// OnRefresh is called after the fallback link refresh of the peer.
	OnRefresh func(peer link.PeerID)
}

func DefaultConfig() Config {
	return Config{
		Attempts:     3,
		Pause:        100 * time.Millisecond,
		RefreshPause: 200 * time.Millisecond,
		RadioChannel: 1,
	}
}

// Dispatcher sends commands to one actuator peer. It is not safe for
// concurrent use; the supervisory loop owns it.
type Dispatcher struct {
	transport link.Transport
	peer      link.PeerID
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics

	failures int
}

func New(t link.Transport, peer link.PeerID, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{
		transport: t,
		peer:      peer,
		cfg:       cfg,
		logger:    logger.With("component", "dispatch", "peer", peer.String()),
		metrics:   m,
	}
}

// ConsecutiveFailures counts failed dispatches since the last delivery.
func (d *Dispatcher) ConsecutiveFailures() int {
	return d.failures
}

// Dispatch delivers ch=on to the actuator. On success the belief for ch is
// committed; on failure belief is left as it was so the next evaluation
// retries the same transition.
func (d *Dispatcher) Dispatch(belief *control.Belief, ch protocol.Channel, on bool) error {
	cmd := Command{ID: uuid.New(), Channel: ch, On: on, IssuedAt: d.cfg.Now()}
	payload := protocol.Encode(protocol.NewCommand(ch, on))
	logger := d.logger.With("command_id", cmd.ID.String(), "channel", ch.String(), "on", on)

	var err error
	for attempt := 1; attempt <= d.cfg.Attempts; attempt++ {
		if err = d.send(payload); err == nil {
			d.delivered(belief, cmd, attempt, logger)
			return nil
		}
		logger.Warn("command send failed", "attempt", attempt, "error", err)
		d.cfg.Sleep(d.cfg.Pause)
	}

	logger.Warn("refreshing link after failed sends", "attempts", d.cfg.Attempts)
	d.metrics.LinkRefreshes.WithLabelValues("dispatch").Inc()
	refresher := link.Refresher{Channel: d.cfg.RadioChannel, Pause: d.cfg.RefreshPause, Sleep: d.cfg.Sleep}
	if rerr := refresher.Refresh(d.transport, d.peer); rerr != nil {
		logger.Error("link refresh failed", "error", rerr)
	} else if d.cfg.OnRefresh != nil {
		d.cfg.OnRefresh(d.peer)
	}

	if err = d.send(payload); err == nil {
		d.delivered(belief, cmd, d.cfg.Attempts+1, logger)
		return nil
	}

	d.failures++
	d.metrics.Commands.WithLabelValues(ch.String(), "failed").Inc()
	logger.Error("command delivery failed", "error", err, "consecutive_failures", d.failures)
	return fmt.Errorf("command %s=%t: %w: %w", ch, on, ErrDeliveryFailed, err)
}

func (d *Dispatcher) send(payload []byte) error {
	d.metrics.SendAttempts.Inc()
	return d.transport.Send(d.peer, payload)
}

func (d *Dispatcher) delivered(belief *control.Belief, cmd Command, attempt int, logger *slog.Logger) {
	belief.Commit(cmd.Channel, cmd.On)
	d.failures = 0
	d.metrics.Commands.WithLabelValues(cmd.Channel.String(), "delivered").Inc()
	d.metrics.ActuatorState.WithLabelValues(cmd.Channel.String()).Set(metrics.Bool(cmd.On))
	logger.Info("command delivered", "attempt", attempt, "latency", d.cfg.Now().Sub(cmd.IssuedAt))
}
