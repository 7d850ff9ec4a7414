package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"furitingoasis/wiredin/internal/bridge"
	"furitingoasis/wiredin/internal/config"
	"furitingoasis/wiredin/internal/dispatch"
	"furitingoasis/wiredin/internal/history"
	"furitingoasis/wiredin/internal/hub"
	"furitingoasis/wiredin/internal/link"
	"furitingoasis/wiredin/internal/metrics"
	"furitingoasis/wiredin/mqtt"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "configs/hub.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateHub(); err != nil {
		slog.Error("invalid hub config", "error", err)
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	actuator, _, err := cfg.Peer(config.RoleActuator)
	if err != nil {
		logger.Error("actuator peer", "error", err)
		os.Exit(1)
	}

	directory := cfg.Directory(config.RoleHub)
	transport, err := link.ListenUDP(cfg.Node.Listen, directory)
	if err != nil {
		logger.Error("failed to open link transport", "listen", cfg.Node.Listen, "error", err)
		os.Exit(1)
	}
	defer transport.Close()

	peers := make([]link.PeerID, 0, len(directory))
	for id := range directory {
		if err := transport.AddPeer(id, cfg.Link.Channel); err != nil {
			logger.Error("failed to add peer", "peer", id.String(), "error", err)
			os.Exit(1)
		}
		peers = append(peers, id)
	}
	logger.Info("link transport ready", "addr", transport.LocalAddr().String(), "peers", len(peers))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	metricsSrv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           metrics.Handler(reg),
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}
	go func() {
		logger.Info("serving metrics", "addr", cfg.Metrics.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	client := mqtt.NewClient(cfg.Broker.MQTTConfig, logger)
	defer client.Close()
	up := bridge.New(client, cfg.Broker.Topics, cfg.Broker.InboxSize, logger, m)
	if err := up.Start(); err != nil {
		logger.Warn("broker not reachable at start-up, will retry", "error", err)
	}

	var rec hub.Recorder
	if cfg.History.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.History.Path), 0o755); err != nil {
			logger.Warn("history directory", "error", err)
		}
		store, err := history.Open(ctx, cfg.History.Path)
		if err != nil {
			logger.Warn("running without telemetry history", "error", err)
		} else {
			defer store.Close()
			rec = store
		}
	}

	dc := dispatch.DefaultConfig()
	dc.Attempts = cfg.Dispatch.Attempts
	dc.Pause = cfg.Dispatch.Pause
	dc.RefreshPause = cfg.Link.RefreshPause
	dc.RadioChannel = cfg.Link.Channel

	h := hub.New(hub.Config{
		Actuator:            actuator,
		Peers:               peers,
		Thresholds:          cfg.Thresholds,
		Dispatch:            dc,
		PollTimeout:         cfg.Timing.PollTimeout,
		LoopPause:           cfg.Timing.LoopPause,
		HeartbeatInterval:   cfg.Timing.HeartbeatInterval,
		PublishInterval:     cfg.Timing.PublishInterval,
		PeerTimeout:         cfg.Timing.PeerTimeout,
		PeerRefreshInterval: cfg.Timing.PeerRefreshInterval,
		ConnectivityCheck:   cfg.Timing.ConnectivityCheck,
		HistoryPrune:        cfg.Timing.HistoryPrune,
		HistoryRetention:    cfg.History.Retention,
	}, transport, up, rec, logger, m)

	if err := h.Run(ctx); err != nil {
		logger.Error("hub stopped", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}
