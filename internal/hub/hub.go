// Package hub runs the supervisory loop: it polls the link, feeds telemetry
// through the decision engine, dispatches commands, mirrors state to the
// broker and keeps peer links healthy.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"furitingoasis/wiredin/internal/bridge"
	"furitingoasis/wiredin/internal/control"
	"furitingoasis/wiredin/internal/dispatch"
	"furitingoasis/wiredin/internal/history"
	"furitingoasis/wiredin/internal/link"
	"furitingoasis/wiredin/internal/metrics"
	"furitingoasis/wiredin/internal/protocol"
)

// Uplink is the broker side of the hub. *bridge.Bridge implements it.
type Uplink interface {
	CheckConnection() error
	Publish(s bridge.Snapshot) error
	Drain() [][]byte
}

// Recorder stores telemetry. *history.Store implements it.
type Recorder interface {
	Record(ctx context.Context, s control.Sample) error
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
	Extremes() history.Extremes
}

type Config struct {
	Actuator link.PeerID
	// Peers lists every remote node watched for health, actuator included.
	Peers      []link.PeerID
	Thresholds control.Thresholds
	Dispatch   dispatch.Config

	PollTimeout         time.Duration
	LoopPause           time.Duration
	HeartbeatInterval   time.Duration
	PublishInterval     time.Duration
	PeerTimeout         time.Duration
	PeerRefreshInterval time.Duration
	ConnectivityCheck   time.Duration
	HistoryPrune        time.Duration
	HistoryRetention    time.Duration

	Now   func() time.Time
	Sleep func(time.Duration)
}

type Hub struct {
	cfg        Config
	transport  link.Transport
	dispatcher *dispatch.Dispatcher
	uplink     Uplink
	history    Recorder
	logger     *slog.Logger
	metrics    *metrics.Metrics

	state State

	heartbeat    timer
	publishTimer timer
	coarse       timer
	connectivity timer
	prune        timer
}

// New builds a hub. rec may be nil, in which case telemetry is not
// recorded.
func New(cfg Config, t link.Transport, up Uplink, rec Recorder, logger *slog.Logger, m *metrics.Metrics) *Hub {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	now := cfg.Now()

	h := &Hub{
		cfg:       cfg,
		transport: t,
		uplink:    up,
		history:   rec,
		logger:    logger.With("component", "hub"),
		metrics:   m,
		state: State{
			Thresholds: cfg.Thresholds,
			Peers:      link.NewPeers(now, append([]link.PeerID{cfg.Actuator}, cfg.Peers...)...),
		},
		heartbeat:    timer{interval: cfg.HeartbeatInterval, last: now},
		publishTimer: timer{interval: cfg.PublishInterval, last: now},
		coarse:       timer{interval: cfg.PeerRefreshInterval, last: now},
		connectivity: timer{interval: cfg.ConnectivityCheck, last: now},
		prune:        timer{interval: cfg.HistoryPrune, last: now},
	}

	dc := cfg.Dispatch
	dc.Now, dc.Sleep = cfg.Now, cfg.Sleep
	dc.OnRefresh = func(peer link.PeerID) {
		h.state.Peers.Refreshed(peer, h.cfg.Now())
	}
	h.dispatcher = dispatch.New(t, cfg.Actuator, dc, logger, m)

	for _, ch := range protocol.Channels {
		m.ActuatorState.WithLabelValues(ch.String()).Set(0)
	}
	m.OverrideEnabled.Set(0)
	return h
}

// State returns a copy of the hub state.
func (h *Hub) State() State {
	return h.state
}

// Run drives the loop until ctx is cancelled. Operational failures are
// logged and never end the loop.
func (h *Hub) Run(ctx context.Context) error {
	h.logger.Info("supervisory loop started", "actuator", h.cfg.Actuator.String())
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("supervisory loop stopped")
			return nil
		default:
		}
		h.Step(ctx)
		h.cfg.Sleep(h.cfg.LoopPause)
	}
}

// Step runs one loop iteration.
func (h *Hub) Step(ctx context.Context) {
	h.guard("receive", func() error { return h.poll(ctx) })
	h.guard("drain", func() error {
		for _, payload := range h.uplink.Drain() {
			h.guard("control", func() error { return h.applyControl(payload) })
		}
		return nil
	})
	h.runTimers(ctx)
}

// guard runs one operation, turning an error or panic into a log entry.
func (h *Hub) guard(op string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			h.metrics.LoopFaults.WithLabelValues(op).Inc()
			h.logger.Error("operation panicked", "op", op, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		h.metrics.LoopFaults.WithLabelValues(op).Inc()
		h.logger.Warn("operation failed", "op", op, "error", err)
	}
}

func (h *Hub) poll(ctx context.Context) error {
	d, ok, err := h.transport.Receive(h.cfg.PollTimeout)
	if err != nil {
		return fmt.Errorf("receive: %w", err)
	}
	if !ok {
		return nil
	}
	return h.handle(ctx, d)
}

func (h *Hub) handle(ctx context.Context, d link.Datagram) error {
	logger := h.logger.With("peer", d.From.String())

	msg, err := protocol.Decode(d.Payload)
	if err != nil {
		h.metrics.DecodeErrors.Inc()
		h.metrics.MessagesReceived.WithLabelValues(protocol.KindUnknown.String()).Inc()
		logger.Warn("discarding undecodable message", "error", err)
		return nil
	}
	h.metrics.MessagesReceived.WithLabelValues(msg.Kind.String()).Inc()

	now := h.cfg.Now()
	if msg.Kind != protocol.KindUnknown && !h.state.Peers.Touch(d.From, now) {
		logger.Debug("message from unwatched peer", "kind", msg.Kind.String())
	}

	switch msg.Kind {
	case protocol.KindTelemetry:
		return h.onTelemetry(ctx, msg.Telemetry, now)
	case protocol.KindAck:
		logger.Debug("ack received", "channel", msg.Channel.String(), "on", msg.On, "probe", msg.Probe)
	case protocol.KindTest:
		if err := h.transport.Send(d.From, protocol.Encode(protocol.NewProbeAck())); err != nil {
			return fmt.Errorf("answer probe: %w", err)
		}
	case protocol.KindStatus:
		if diverged := h.state.Belief.Diverged(msg.Status); len(diverged) > 0 {
			names := make([]string, len(diverged))
			for i, ch := range diverged {
				names[i] = ch.String()
			}
			logger.Warn("actuator status differs from belief", "channels", names)
		}
	case protocol.KindCommand:
		logger.Warn("ignoring command sent to hub", "channel", msg.Channel.String())
	case protocol.KindError:
		logger.Warn("peer reported error", "text", msg.Text)
	default:
		logger.Info("unknown message", "text", msg.Text)
	}
	return nil
}

func (h *Hub) onTelemetry(ctx context.Context, t protocol.Telemetry, now time.Time) error {
	sample, err := control.NewSample(t, now)
	if err != nil {
		return err
	}
	h.state.Last.remember(sample)
	h.observe(sample)

	if h.history != nil {
		if err := h.history.Record(ctx, sample); err != nil {
			h.logger.Warn("history unavailable", "error", err)
		}
	}

	sample = sample.WithDistance(h.state.Last.Distance)
	changed := false
	for _, tr := range control.Evaluate(sample, h.state.Thresholds, h.state.Belief) {
		if h.dispatch(tr.Channel, tr.On) {
			changed = true
		}
	}
	if changed {
		h.publish()
	}
	return nil
}

func (h *Hub) observe(s control.Sample) {
	for field, v := range map[string]*float64{
		"temperature": s.Temperature,
		"humidity":    s.Humidity,
		"distance":    s.Distance,
	} {
		if v != nil {
			h.metrics.Telemetry.WithLabelValues(field).Set(*v)
		}
	}
}

// dispatch reports whether the command was delivered.
func (h *Hub) dispatch(ch protocol.Channel, on bool) bool {
	if err := h.dispatcher.Dispatch(&h.state.Belief, ch, on); err != nil {
		h.logger.Warn("command not delivered, will retry on next evaluation", "error", err)
		return false
	}
	return true
}

func (h *Hub) applyControl(payload []byte) error {
	u, perr := bridge.ParseUpdate(payload)
	if perr != nil {
		h.logger.Warn("control message partly rejected", "error", perr)
	}

	changed := false
	if u.ApplyThresholds(&h.state.Thresholds) {
		h.logger.Info("thresholds updated", "thresholds", h.state.Thresholds)
		changed = true
	}
	if u.TakeOver != nil {
		if h.state.Belief.Override != *u.TakeOver {
			h.logger.Info("take-over changed", "enabled", *u.TakeOver)
			changed = true
		}
		h.state.Belief.Override = *u.TakeOver
		h.metrics.OverrideEnabled.Set(metrics.Bool(*u.TakeOver))
	}
	if u.AppliesChannels(h.state.Belief.Override) {
		for _, ch := range protocol.Channels {
			on, ok := u.Channels[ch]
			if !ok || h.state.Belief.Get(ch) == on {
				continue
			}
			if h.dispatch(ch, on) {
				changed = true
			}
		}
	} else if len(u.Channels) > 0 {
		h.logger.Info("ignoring channel fields while take-over is off")
	}

	if changed {
		h.publish()
	}
	if perr != nil && !changed {
		return perr
	}
	return nil
}

func (h *Hub) snapshot(now time.Time) bridge.Snapshot {
	s := bridge.NewSnapshot(h.state.Belief, h.state.Thresholds, now)
	s.Temperature = h.state.Last.Temperature
	s.Humidity = h.state.Last.Humidity
	s.Distance = h.state.Last.Distance
	s.DispatchFailures = h.dispatcher.ConsecutiveFailures()
	if h.history != nil {
		ex := h.history.Extremes()
		s.DailyHighTemp, s.DailyLowTemp = ex.HighTemp, ex.LowTemp
		s.DailyHighHumidity, s.DailyLowHumidity = ex.HighHumidity, ex.LowHumidity
	}
	return s
}

func (h *Hub) publish() {
	now := h.cfg.Now()
	h.publishTimer.last = now
	if err := h.uplink.Publish(h.snapshot(now)); err != nil {
		if errors.Is(err, bridge.ErrBrokerUnavailable) {
			h.logger.Debug("snapshot not published", "error", err)
			return
		}
		h.logger.Warn("snapshot not published", "error", err)
	}
}

func (h *Hub) runTimers(ctx context.Context) {
	now := h.cfg.Now()

	if h.heartbeat.due(now) {
		h.guard("heartbeat", func() error { return h.probe(h.cfg.Actuator) })
	}
	if h.publishTimer.due(now) {
		h.guard("publish", func() error { h.publish(); return nil })
	}
	h.guard("health", func() error { return h.checkHealth(now) })
	if h.coarse.due(now) {
		h.guard("coarse_refresh", func() error { return h.refreshAll() })
	}
	if h.connectivity.due(now) {
		h.guard("connectivity", h.uplink.CheckConnection)
	}
	if h.history != nil && h.cfg.HistoryRetention > 0 && h.prune.due(now) {
		h.guard("prune", func() error {
			n, err := h.history.Prune(ctx, now.Add(-h.cfg.HistoryRetention))
			if err != nil {
				return err
			}
			h.logger.Debug("history pruned", "rows", n)
			return nil
		})
	}
}

func (h *Hub) probe(peer link.PeerID) error {
	if err := h.transport.Send(peer, protocol.Encode(protocol.NewTest())); err != nil {
		return fmt.Errorf("probe %s: %w", peer, err)
	}
	return nil
}

func (h *Hub) refresher() link.Refresher {
	return link.Refresher{
		Channel: h.cfg.Dispatch.RadioChannel,
		Pause:   h.cfg.Dispatch.RefreshPause,
		Sleep:   h.cfg.Sleep,
	}
}

// checkHealth refreshes every peer that has been silent for PeerTimeout.
func (h *Hub) checkHealth(now time.Time) error {
	var errs []error
	for _, id := range h.state.Peers.Stale(now, h.cfg.PeerTimeout) {
		attrs := []any{"peer", id.String(), "error", link.ErrLinkDegraded}
		if health, ok := h.state.Peers.Get(id); ok {
			attrs = append(attrs, "last_message", health.LastMessageAt, "last_refresh", health.LastRefreshAt)
		}
		h.logger.Warn("peer silent, refreshing link", attrs...)
		h.metrics.LinkRefreshes.WithLabelValues("timeout").Inc()
		err := h.refresher().Refresh(h.transport, id)
		h.state.Peers.Refreshed(id, h.cfg.Now())
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// refreshAll re-adds every peer regardless of health and probes it.
func (h *Hub) refreshAll() error {
	var errs []error
	for _, id := range h.state.Peers.IDs() {
		h.metrics.LinkRefreshes.WithLabelValues("periodic").Inc()
		if err := h.refresher().Refresh(h.transport, id); err != nil {
			errs = append(errs, err)
			continue
		}
		h.state.Peers.Refreshed(id, h.cfg.Now())
		if err := h.probe(id); err != nil {
			errs = append(errs, err)
		}
	}
	h.logger.Info("periodic link refresh done", "peers", len(h.state.Peers.IDs()), "errors", len(errs))
	return errors.Join(errs...)
}
