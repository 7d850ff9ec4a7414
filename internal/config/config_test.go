package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"furitingoasis/wiredin/internal/link"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
link:
  peers:
    actuator:
      id: "14:2b:2f:af:79:c4"
      addr: "192.168.1.20:4210"
    sensor:
      id: "14:2b:2f:af:11:22"
      addr: "192.168.1.21:4210"
thresholds:
  temp_lower: 18
timing:
  publish_interval: 10s
broker:
  url: tcp://mos1:1883
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if err := cfg.ValidateHub(); err != nil {
		t.Fatalf("validate hub: %v", err)
	}

	if cfg.Thresholds.TempLower != 18 {
		t.Fatalf("expected temp_lower 18, got %v", cfg.Thresholds.TempLower)
	}
	if cfg.Thresholds.TempUpper != 25 || cfg.Thresholds.DistanceThreshold != 8 {
		t.Fatalf("expected remaining thresholds to keep defaults, got %+v", cfg.Thresholds)
	}
	if cfg.Timing.PublishInterval != 10*time.Second {
		t.Fatalf("expected publish interval 10s, got %s", cfg.Timing.PublishInterval)
	}
	if cfg.Timing.PollTimeout != 100*time.Millisecond {
		t.Fatalf("expected poll timeout default 100ms, got %s", cfg.Timing.PollTimeout)
	}
	if cfg.Timing.PeerRefreshInterval != 5*time.Minute {
		t.Fatalf("expected coarse refresh default 5m, got %s", cfg.Timing.PeerRefreshInterval)
	}
	if cfg.Broker.BrokerURL != "tcp://mos1:1883" {
		t.Fatalf("unexpected broker url %s", cfg.Broker.BrokerURL)
	}
	if cfg.Broker.Topics.Control != "environment/wiredin/control" {
		t.Fatalf("expected default control topic, got %s", cfg.Broker.Topics.Control)
	}
	if cfg.Dispatch.Attempts != 3 {
		t.Fatalf("expected 3 dispatch attempts, got %d", cfg.Dispatch.Attempts)
	}

	id, addr, err := cfg.Peer(RoleActuator)
	if err != nil {
		t.Fatalf("peer: %v", err)
	}
	if id != (link.PeerID{0x14, 0x2b, 0x2f, 0xaf, 0x79, 0xc4}) || addr != "192.168.1.20:4210" {
		t.Fatalf("unexpected actuator peer %s %s", id, addr)
	}
	if dir := cfg.Directory(RoleHub); len(dir) != 2 {
		t.Fatalf("expected two directory entries, got %d", len(dir))
	}
	if dir := cfg.Directory(RoleSensor); len(dir) != 1 {
		t.Fatalf("sensor directory must exclude itself, got %d", len(dir))
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no peers": `node: {listen: ":4210"}`,
		"bad peer id": `
link:
  peers:
    actuator: {id: "nope", addr: "10.0.0.2:4210"}
`,
		"negative timing": `
link:
  peers:
    actuator: {id: "14:2b:2f:af:79:c4", addr: "10.0.0.2:4210"}
timing:
  peer_timeout: -1s
`,
		"missing peer id": `
link:
  peers:
    actuator: {addr: "10.0.0.2:4210"}
`,
		"bad log level": `
link:
  peers:
    actuator: {id: "14:2b:2f:af:79:c4", addr: "10.0.0.2:4210"}
log:
  level: loud
`,
	}
	for name, data := range cases {
		if _, err := Load(writeConfig(t, data)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestValidateHubNeedsActuator(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
link:
  peers:
    sensor: {id: "14:2b:2f:af:11:22", addr: "10.0.0.3:4210"}
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.ValidateHub(); err == nil {
		t.Fatalf("expected missing actuator to be rejected")
	}
}

func TestHubRejectsPahoAutoReconnect(t *testing.T) {
	if Default().Broker.AutoReconnect {
		t.Fatalf("auto reconnect must default to off")
	}
	cfg, err := Load(writeConfig(t, `
link:
  peers:
    actuator: {id: "14:2b:2f:af:79:c4", addr: "10.0.0.2:4210"}
broker:
  auto_reconnect: true
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.ValidateHub(); err == nil || !strings.Contains(err.Error(), "auto_reconnect") {
		t.Fatalf("expected auto_reconnect to be rejected, got %v", err)
	}
}

func TestShippedConfigs(t *testing.T) {
	hub, err := Load(filepath.Join("..", "..", "configs", "hub.yaml"))
	if err != nil {
		t.Fatalf("load hub config: %v", err)
	}
	if err := hub.ValidateHub(); err != nil {
		t.Fatalf("shipped hub config: %v", err)
	}

	sensor, err := Load(filepath.Join("..", "..", "configs", "sensor.yaml"))
	if err != nil {
		t.Fatalf("load sensor config: %v", err)
	}
	if sensor.Sensor.TriggerPin == "" || sensor.Sensor.EchoPin == "" {
		t.Fatalf("sensor config must name rangefinder pins, got %+v", sensor.Sensor)
	}

	actuator, err := Load(filepath.Join("..", "..", "configs", "actuator.yaml"))
	if err != nil {
		t.Fatalf("load actuator config: %v", err)
	}
	if actuator.Actuator.ConnectionTimeout != 30*time.Second {
		t.Fatalf("unexpected connection timeout %s", actuator.Actuator.ConnectionTimeout)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "channel", "heat")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"channel":"heat"`) {
		t.Fatalf("unexpected log output %q", out)
	}
}
