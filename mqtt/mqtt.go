package mqtt

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrNotConnected is returned by Publish while the broker link is down.
var ErrNotConnected = errors.New("mqtt client not connected")

// MQTTConfig holds the configuration for the MQTT client.
type MQTTConfig struct {
	BrokerURL      string        `yaml:"url"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	QoS            byte          `yaml:"qos"`
	Retained       bool          `yaml:"retained"`
	AutoReconnect  bool          `yaml:"auto_reconnect"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

type subscription struct {
	topic   string
	handler func(payload []byte)
}

// Client wraps a paho client. Subscriptions are remembered and re-issued on
// every successful connect.
type Client struct {
	config MQTTConfig
	logger *slog.Logger

	mu     sync.Mutex
	client mqtt.Client
	subs   []subscription
}

// NewClient creates a new MQTT client. It does not connect.
func NewClient(config MQTTConfig, logger *slog.Logger) *Client {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 5 * time.Second
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = time.Second
	}
	return &Client{config: config, logger: logger.With("component", "mqtt", "broker", config.BrokerURL)}
}

func (c *Client) options() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().AddBroker(c.config.BrokerURL)
	opts.SetClientID(c.config.ClientID)
	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}
	opts.SetAutoReconnect(c.config.AutoReconnect)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		c.logger.Info("connected to MQTT broker")
		c.resubscribe(client)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Warn("MQTT connection lost", "error", err)
	})
	return opts
}

// Connect makes a single bounded connection attempt.
func (c *Client) Connect() error {
	client := mqtt.NewClient(c.options())
	token := client.Connect()
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return fmt.Errorf("connect to %s: timed out after %s", c.config.BrokerURL, c.config.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to %s: %w", c.config.BrokerURL, err)
	}

	c.mu.Lock()
	old := c.client
	c.client = client
	c.mu.Unlock()
	if old != nil && old.IsConnected() {
		old.Disconnect(250)
	}
	return nil
}

// ConnectWithRetry retries Connect up to MaxRetries times, RetryInterval apart.
func (c *Client) ConnectWithRetry() error {
	retries := max(c.config.MaxRetries, 1)
	var err error
	for attempt := 1; attempt <= retries; attempt++ {
		if err = c.Connect(); err == nil {
			return nil
		}
		c.logger.Warn("failed to connect to MQTT broker", "attempt", attempt, "max_retries", retries, "error", err)
		if attempt < retries {
			time.Sleep(c.config.RetryInterval)
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", retries, err)
}

func (c *Client) current() mqtt.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

func (c *Client) IsConnected() bool {
	client := c.current()
	return client != nil && client.IsConnected()
}

// Publish publishes a message to a specific MQTT topic and waits at most
// PublishTimeout for the broker to take it.
func (c *Client) Publish(topic string, payload []byte) error {
	client := c.current()
	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}
	token := client.Publish(topic, c.config.QoS, c.config.Retained, payload)
	if !token.WaitTimeout(c.config.PublishTimeout) {
		return fmt.Errorf("publish to %s: timed out after %s", topic, c.config.PublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	c.logger.Debug("published", "topic", topic, "bytes", len(payload))
	return nil
}

// Subscribe registers handler for topic. The handler runs on a paho
// goroutine. If the client is not connected the subscription is issued on
// the next connect.
func (c *Client) Subscribe(topic string, handler func(payload []byte)) error {
	c.mu.Lock()
	c.subs = append(c.subs, subscription{topic: topic, handler: handler})
	client := c.client
	c.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return nil
	}
	return c.subscribe(client, subscription{topic: topic, handler: handler})
}

func (c *Client) subscribe(client mqtt.Client, s subscription) error {
	token := client.Subscribe(s.topic, c.config.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		s.handler(msg.Payload())
	})
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return fmt.Errorf("subscribe to %s: timed out", s.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.topic, err)
	}
	c.logger.Info("subscribed", "topic", s.topic)
	return nil
}

func (c *Client) resubscribe(client mqtt.Client) {
	c.mu.Lock()
	subs := append([]subscription(nil), c.subs...)
	c.mu.Unlock()
	for _, s := range subs {
		// Runs on the paho connect goroutine; waiting here would stall it.
		token := client.Subscribe(s.topic, c.config.QoS, func(_ mqtt.Client, msg mqtt.Message) {
			s.handler(msg.Payload())
		})
		go func(topic string) {
			if token.Wait() && token.Error() != nil {
				c.logger.Error("resubscribe failed", "topic", topic, "error", token.Error())
			}
		}(s.topic)
	}
}

// Close disconnects the MQTT client.
func (c *Client) Close() {
	if client := c.current(); client != nil && client.IsConnected() {
		c.logger.Info("disconnecting from MQTT broker")
		client.Disconnect(250) // Wait up to 250 milliseconds for inflight messages to be delivered
	}
}
