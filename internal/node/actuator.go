package node

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"furitingoasis/wiredin/internal/link"
	"furitingoasis/wiredin/internal/protocol"
)

// Outputs drives the physical actuators. For Door, on means closed.
type Outputs interface {
	Apply(ch protocol.Channel, on bool) error
}

type ActuatorConfig struct {
	Hub            link.PeerID
	RadioChannel   int
	PollTimeout    time.Duration
	LoopPause      time.Duration
	StatusInterval time.Duration
	// HubTimeout of silence from the hub triggers a re-add of its peer entry.
	HubTimeout   time.Duration
	RefreshPause time.Duration
	Now          func() time.Time
	Sleep        func(time.Duration)
}

type Actuator struct {
	cfg       ActuatorConfig
	transport link.Transport
	out       Outputs
	logger    *slog.Logger

	status     protocol.Status
	hub        *link.Peers
	lastStatus time.Time
}

func NewActuator(cfg ActuatorConfig, t link.Transport, out Outputs, logger *slog.Logger) *Actuator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	now := cfg.Now()
	return &Actuator{
		cfg:        cfg,
		transport:  t,
		out:        out,
		logger:     logger.With("component", "actuator", "hub", cfg.Hub.String()),
		hub:        link.NewPeers(now, cfg.Hub),
		lastStatus: now,
	}
}

// Reset drives every output off. It is called once before Run.
func (a *Actuator) Reset() error {
	for _, ch := range protocol.Channels {
		if err := a.out.Apply(ch, false); err != nil {
			return fmt.Errorf("reset %s: %w", ch, err)
		}
		a.status.Set(ch, false)
	}
	return nil
}

// Status returns the outputs as last applied.
func (a *Actuator) Status() protocol.Status {
	return a.status
}

func (a *Actuator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		a.Step()
		a.cfg.Sleep(a.cfg.LoopPause)
	}
}

// Step handles at most one message and then the status and hub-health timers.
func (a *Actuator) Step() {
	if d, ok, err := a.transport.Receive(a.cfg.PollTimeout); err != nil {
		a.logger.Warn("receive failed", "error", err)
	} else if ok {
		a.handle(d)
	}

	now := a.cfg.Now()
	if a.cfg.StatusInterval > 0 && now.Sub(a.lastStatus) >= a.cfg.StatusInterval {
		a.lastStatus = now
		a.reply(a.cfg.Hub, protocol.NewStatus(a.status))
	}
	if stale := a.hub.Stale(now, a.cfg.HubTimeout); len(stale) > 0 {
		a.logger.Warn("no message from hub, refreshing peer", "timeout", a.cfg.HubTimeout)
		r := link.Refresher{Channel: a.cfg.RadioChannel, Pause: a.cfg.RefreshPause, Sleep: a.cfg.Sleep}
		if err := r.Refresh(a.transport, a.cfg.Hub); err != nil {
			a.logger.Error("hub peer refresh failed", "error", err)
		}
		a.hub.Refreshed(a.cfg.Hub, a.cfg.Now())
	}
}

func (a *Actuator) handle(d link.Datagram) {
	msg, err := protocol.Decode(d.Payload)
	if err != nil {
		a.logger.Warn("rejecting message", "error", err)
		a.reply(d.From, protocol.NewError(err.Error()))
		return
	}
	a.hub.Touch(d.From, a.cfg.Now())

	switch msg.Kind {
	case protocol.KindCommand:
		if err := a.out.Apply(msg.Channel, msg.On); err != nil {
			a.logger.Error("output failed", "channel", msg.Channel.String(), "error", err)
			a.reply(d.From, protocol.NewError(fmt.Sprintf("%s: %v", msg.Channel, err)))
			return
		}
		a.status.Set(msg.Channel, msg.On)
		a.logger.Info("output set", "channel", msg.Channel.String(), "on", msg.On)
		a.reply(d.From, protocol.NewAck(msg.Channel, msg.On))
	case protocol.KindTest:
		a.reply(d.From, protocol.NewProbeAck())
	default:
		a.logger.Debug("ignoring message", "kind", msg.Kind.String())
	}
}

func (a *Actuator) reply(to link.PeerID, m protocol.Message) {
	if err := a.transport.Send(to, protocol.Encode(m)); err != nil {
		a.logger.Warn("reply failed", "kind", m.Kind.String(), "error", err)
	}
}
