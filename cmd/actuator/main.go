package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"furitingoasis/wiredin/internal/config"
	"furitingoasis/wiredin/internal/link"
	"furitingoasis/wiredin/internal/node"
	"furitingoasis/wiredin/internal/protocol"

	"gobot.io/x/gobot/v2"
	"gobot.io/x/gobot/v2/drivers/gpio"
	"gobot.io/x/gobot/v2/platforms/raspi"
)

// outputs binds the actuator channels to relays and the door servo.
type outputs struct {
	relays      map[protocol.Channel]*gpio.RelayDriver
	servo       *gpio.ServoDriver
	activeLow   bool
	openAngle   uint8
	closedAngle uint8
}

func (o *outputs) Apply(ch protocol.Channel, on bool) error {
	if ch == protocol.Door {
		angle := o.openAngle
		if on {
			angle = o.closedAngle
		}
		return o.servo.Move(angle)
	}
	relay, ok := o.relays[ch]
	if !ok {
		return fmt.Errorf("no relay wired for %s", ch)
	}
	// Active-low boards energise the relay on a low pin.
	if on != o.activeLow {
		return relay.On()
	}
	return relay.Off()
}

func main() {
	configPath := flag.String("config", "configs/actuator.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger(os.Stdout)

	hubID, _, err := cfg.Peer(config.RoleHub)
	if err != nil {
		logger.Error("hub peer", "error", err)
		os.Exit(1)
	}
	transport, err := link.ListenUDP(cfg.Node.Listen, cfg.Directory(config.RoleActuator))
	if err != nil {
		logger.Error("failed to open link transport", "listen", cfg.Node.Listen, "error", err)
		os.Exit(1)
	}
	defer transport.Close()
	if err := transport.AddPeer(hubID, cfg.Link.Channel); err != nil {
		logger.Error("failed to add hub peer", "error", err)
		os.Exit(1)
	}

	ac := cfg.Actuator
	r := raspi.NewAdaptor()
	heat := gpio.NewRelayDriver(r, ac.HeatPin)
	fan := gpio.NewRelayDriver(r, ac.FanPin)
	humid := gpio.NewRelayDriver(r, ac.HumidifierPin)
	door := gpio.NewServoDriver(r, ac.ServoPin)

	robot := gobot.NewRobot("EnclosureActuator",
		[]gobot.Connection{r},
		[]gobot.Device{heat, fan, humid, door},
	)
	if err := robot.Start(false); err != nil {
		logger.Error("error starting robot", "error", err)
		os.Exit(1)
	}
	defer robot.Stop()

	out := &outputs{
		relays: map[protocol.Channel]*gpio.RelayDriver{
			protocol.Heat:       heat,
			protocol.Fan:        fan,
			protocol.Humidifier: humid,
		},
		servo:       door,
		activeLow:   ac.ActiveLow,
		openAngle:   ac.DoorOpenAngle,
		closedAngle: ac.DoorClosedAngle,
	}

	act := node.NewActuator(node.ActuatorConfig{
		Hub:            hubID,
		RadioChannel:   cfg.Link.Channel,
		PollTimeout:    cfg.Timing.PollTimeout,
		LoopPause:      cfg.Timing.LoopPause,
		StatusInterval: ac.StatusInterval,
		HubTimeout:     ac.ConnectionTimeout,
		RefreshPause:   cfg.Link.RefreshPause,
	}, transport, out, logger)
	if err := act.Reset(); err != nil {
		logger.Error("failed to drive outputs off", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("actuator ready", "addr", transport.LocalAddr().String(), "hub", hubID.String())
	_ = act.Run(ctx)

	if err := act.Reset(); err != nil {
		logger.Warn("failed to drive outputs off on shutdown", "error", err)
	}
}
