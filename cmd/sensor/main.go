package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"furitingoasis/wiredin/internal/config"
	"furitingoasis/wiredin/internal/link"
	"furitingoasis/wiredin/internal/node"

	"gobot.io/x/gobot/v2"
	"gobot.io/x/gobot/v2/drivers/gpio"
	"gobot.io/x/gobot/v2/drivers/i2c"
	"gobot.io/x/gobot/v2/platforms/raspi"
)

// sht2x reads the climate sensor. The probe reads high on humidity, so a
// fixed offset is subtracted.
type sht2x struct {
	driver         *i2c.SHT2xDriver
	humidityOffset float64
}

func (s sht2x) Read() (float64, float64, error) {
	temp, err := s.driver.Temperature()
	if err != nil {
		return 0, 0, err
	}
	humidity, err := s.driver.Humidity()
	if err != nil {
		return 0, 0, err
	}
	return float64(temp), float64(humidity) - s.humidityOffset, nil
}

// meter is the part of gpio.HCSR04Driver the sensor uses.
type meter interface {
	MeasureDistance() (float64, error)
}

// hcsr04 triggers one ultrasonic measurement per call. The driver reports
// metres; telemetry carries centimetres.
type hcsr04 struct {
	driver meter
}

func (h hcsr04) Distance() (float64, error) {
	m, err := h.driver.MeasureDistance()
	if err != nil {
		return 0, err
	}
	return m * 100, nil
}

func main() {
	configPath := flag.String("config", "configs/sensor.yaml", "path to the YAML config file")
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
	transport, err := link.ListenUDP(cfg.Node.Listen, cfg.Directory(config.RoleSensor))
	if err != nil {
		logger.Error("failed to open link transport", "listen", cfg.Node.Listen, "error", err)
		os.Exit(1)
	}
	defer transport.Close()
	if err := transport.AddPeer(hubID, cfg.Link.Channel); err != nil {
		logger.Error("failed to add hub peer", "error", err)
		os.Exit(1)
	}

	sc := cfg.Sensor
	r := raspi.NewAdaptor()
	climateDriver := i2c.NewSHT2xDriver(r)
	devices := []gobot.Device{climateDriver}

	var ranger node.Rangefinder
	if sc.TriggerPin != "" && sc.EchoPin != "" {
		rangeDriver := gpio.NewHCSR04Driver(r, sc.TriggerPin, sc.EchoPin)
		devices = append(devices, rangeDriver)
		ranger = hcsr04{driver: rangeDriver}
	} else {
		logger.Warn("no rangefinder pins configured, distance will not be reported")
	}

	robot := gobot.NewRobot("EnclosureSensor",
		[]gobot.Connection{r},
		devices,
	)
	if err := robot.Start(false); err != nil {
		logger.Error("error starting robot", "error", err)
		os.Exit(1)
	}
	defer robot.Stop()

	sensor := node.NewSensor(node.SensorConfig{
		Hub:             hubID,
		RadioChannel:    cfg.Link.Channel,
		Interval:        sc.Interval,
		ReadAttempts:    sc.ReadAttempts,
		RetryPause:      sc.RetryInterval,
		MaxSendFailures: sc.MaxSendFails,
		RefreshPause:    cfg.Link.RefreshPause,
	}, transport, sht2x{driver: climateDriver, humidityOffset: sc.HumidityOffset}, ranger, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("sensor ready", "addr", transport.LocalAddr().String(), "interval", sc.Interval)
	_ = sensor.Run(ctx)
}
