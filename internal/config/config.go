// Package config loads the YAML file shared by the hub, sensor and actuator
// binaries. Each binary reads the sections it needs.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"furitingoasis/wiredin/internal/bridge"
	"furitingoasis/wiredin/internal/control"
	"furitingoasis/wiredin/internal/link"
	"furitingoasis/wiredin/mqtt"

	"gopkg.in/yaml.v3"
)

const (
	RoleHub      = "hub"
	RoleSensor   = "sensor"
	RoleActuator = "actuator"
)

type Config struct {
	Node       NodeConfig         `yaml:"node"`
	Link       LinkConfig         `yaml:"link"`
	Broker     BrokerConfig       `yaml:"broker"`
	Thresholds control.Thresholds `yaml:"thresholds"`
	Timing     TimingConfig       `yaml:"timing"`
	Dispatch   DispatchConfig     `yaml:"dispatch"`
	History    HistoryConfig      `yaml:"history"`
	Metrics    MetricsConfig      `yaml:"metrics"`
	Log        LogConfig          `yaml:"log"`
	Sensor     SensorConfig       `yaml:"sensor"`
	Actuator   ActuatorConfig     `yaml:"actuator"`
}

type NodeConfig struct {
	Listen string `yaml:"listen"`
}

type PeerConfig struct {
	ID   link.PeerID `yaml:"id"`
	Addr string      `yaml:"addr"`
}

type LinkConfig struct {
	Channel      int                   `yaml:"channel"`
	RefreshPause time.Duration         `yaml:"refresh_pause"`
	Peers        map[string]PeerConfig `yaml:"peers"`
}

type BrokerConfig struct {
	mqtt.MQTTConfig `yaml:",inline"`
	Topics          bridge.Topics `yaml:"topics"`
	InboxSize       int           `yaml:"inbox_size"`
}

type TimingConfig struct {
	PollTimeout         time.Duration `yaml:"poll_timeout"`
	LoopPause           time.Duration `yaml:"loop_pause"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	PublishInterval     time.Duration `yaml:"publish_interval"`
	PeerTimeout         time.Duration `yaml:"peer_timeout"`
	PeerRefreshInterval time.Duration `yaml:"peer_refresh_interval"`
	ConnectivityCheck   time.Duration `yaml:"connectivity_check"`
	HistoryPrune        time.Duration `yaml:"history_prune"`
}

type DispatchConfig struct {
	Attempts int           `yaml:"attempts"`
	Pause    time.Duration `yaml:"pause"`
}

type HistoryConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
	MaxPoints int           `yaml:"max_points"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type SensorConfig struct {
	Interval       time.Duration `yaml:"interval"`
	ReadAttempts   int           `yaml:"read_attempts"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
	HumidityOffset float64       `yaml:"humidity_offset"`
	TriggerPin     string        `yaml:"trigger_pin"`
	EchoPin        string        `yaml:"echo_pin"`
	MaxSendFails   int           `yaml:"max_send_failures"`
}

type ActuatorConfig struct {
	HeatPin           string        `yaml:"heat_pin"`
	FanPin            string        `yaml:"fan_pin"`
	HumidifierPin     string        `yaml:"humidifier_pin"`
	ServoPin          string        `yaml:"servo_pin"`
	ActiveLow         bool          `yaml:"active_low"`
	DoorOpenAngle     uint8         `yaml:"door_open_angle"`
	DoorClosedAngle   uint8         `yaml:"door_closed_angle"`
	StatusInterval    time.Duration `yaml:"status_interval"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// Default returns a configuration with every default filled in. Load
// decodes the file on top of it, so absent keys keep their default.
func Default() Config {
	return Config{
		Node: NodeConfig{Listen: ":4210"},
		Link: LinkConfig{Channel: 1, RefreshPause: 200 * time.Millisecond},
		Broker: BrokerConfig{
			MQTTConfig: mqtt.MQTTConfig{
				BrokerURL:      "tcp://broker.hivemq.com:1883",
				ClientID:       "wiredin-hub",
				MaxRetries:     3,
				RetryInterval:  2 * time.Second,
				ConnectTimeout: 5 * time.Second,
				PublishTimeout: time.Second,
			},
			Topics: bridge.Topics{
				Data:    "environment/wiredin/data",
				Control: "environment/wiredin/control",
			},
			InboxSize: 16,
		},
		Thresholds: control.DefaultThresholds(),
		Timing: TimingConfig{
			PollTimeout:         100 * time.Millisecond,
			LoopPause:           50 * time.Millisecond,
			HeartbeatInterval:   10 * time.Second,
			PublishInterval:     5 * time.Second,
			PeerTimeout:         30 * time.Second,
			PeerRefreshInterval: 5 * time.Minute,
			ConnectivityCheck:   time.Minute,
			HistoryPrune:        time.Hour,
		},
		Dispatch: DispatchConfig{Attempts: 3, Pause: 100 * time.Millisecond},
		History:  HistoryConfig{Path: "./data/telemetry.db", Retention: 48 * time.Hour, MaxPoints: 200},
		Metrics:  MetricsConfig{Addr: ":9100"},
		Log:      LogConfig{Level: "info", Format: "text"},
		Sensor: SensorConfig{
			Interval:      2 * time.Second,
			ReadAttempts:  3,
			RetryInterval: 200 * time.Millisecond,
			MaxSendFails:  3,
			TriggerPin:    "18",
			EchoPin:       "22",
		},
		Actuator: ActuatorConfig{
			HeatPin:           "13",
			FanPin:            "15",
			HumidifierPin:     "16",
			ServoPin:          "12",
			DoorOpenAngle:     180,
			DoorClosedAngle:   90,
			StatusInterval:    10 * time.Second,
			ConnectionTimeout: 30 * time.Second,
		},
	}
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Node.Listen == "" {
		return errors.New("node.listen is required")
	}
	if len(c.Link.Peers) == 0 {
		return errors.New("link.peers must name at least one peer")
	}
	for role, p := range c.Link.Peers {
		if p.ID == (link.PeerID{}) {
			return fmt.Errorf("link.peers.%s.id is required", role)
		}
		if p.Addr == "" {
			return fmt.Errorf("link.peers.%s.addr is required", role)
		}
	}
	t := c.Timing
	for name, d := range map[string]time.Duration{
		"poll_timeout":          t.PollTimeout,
		"heartbeat_interval":    t.HeartbeatInterval,
		"publish_interval":      t.PublishInterval,
		"peer_timeout":          t.PeerTimeout,
		"peer_refresh_interval": t.PeerRefreshInterval,
		"connectivity_check":    t.ConnectivityCheck,
	} {
		if d <= 0 {
			return fmt.Errorf("timing.%s must be positive", name)
		}
	}
	if c.Dispatch.Attempts < 1 {
		return errors.New("dispatch.attempts must be at least 1")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q: want text or json", c.Log.Format)
	}
	return nil
}

// ValidateHub checks the sections only the hub needs.
func (c *Config) ValidateHub() error {
	if _, ok := c.Link.Peers[RoleActuator]; !ok {
		return errors.New("link.peers.actuator is required")
	}
	if c.Broker.BrokerURL == "" {
		return errors.New("broker.url is required")
	}
	// paho's own reconnect reports connected while it retries and drops
	// QoS 0 publishes, which hides outages from the bridge.
	if c.Broker.AutoReconnect {
		return errors.New("broker.auto_reconnect must be false on the hub")
	}
	if c.Broker.Topics.Data == "" || c.Broker.Topics.Control == "" {
		return errors.New("broker.topics.data and broker.topics.control are required")
	}
	return nil
}

// Peer returns the identity and address configured for role.
func (c *Config) Peer(role string) (link.PeerID, string, error) {
	p, ok := c.Link.Peers[role]
	if !ok {
		return link.PeerID{}, "", fmt.Errorf("no peer configured for role %q", role)
	}
	return p.ID, p.Addr, nil
}

// Directory maps every configured peer except self to its address.
func (c *Config) Directory(self string) map[link.PeerID]string {
	dir := make(map[link.PeerID]string, len(c.Link.Peers))
	for role, p := range c.Link.Peers {
		if role == self {
			continue
		}
		dir[p.ID] = p.Addr
	}
	return dir
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return l, fmt.Errorf("log.level %q: %w", s, err)
	}
	return l, nil
}

// NewLogger builds the process logger from the log section.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
