// Package mqtt publishes flashing status and watches device telemetry over MQTT.
package mqtt

import (
	"crypto/tls"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	availabilityTopic = "status"
	payloadOnline     = "online"
	payloadOffline    = "offline"
)

// Config holds MQTT client configuration
type Config struct {
	Broker   string // MQTT broker address (e.g., "tcp://localhost:1883")
	ClientID string // Unique client ID
	Username string // MQTT username (optional)
	Password string // MQTT password (optional)
	Prefix   string // Topic prefix for service messages
	UseTLS   bool   // Enable TLS connection
}

// MessageHandler receives subscribed messages
type MessageHandler func(topic string, payload []byte)

// Broker is the subset of the client used by publishers and monitors.
type Broker interface {
	PublishWithQoS(topic string, qos byte, retained bool, payload interface{}) error
	PublishRaw(topic string, payload interface{}, retained bool) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Topic(topic string) string
}

// Client wraps the paho client with prefixing, availability and logging
type Client struct {
	client   mqtt.Client
	config   Config
	mu       sync.RWMutex
	logger   *log.Logger
	isActive bool
	subs     map[string]subscription
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// New creates a new MQTT client
func New(cfg Config, logger *log.Logger) (*Client, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address is required")
	}

	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("aquaflash-%d", time.Now().Unix())
	}

	c := &Client{
		config: cfg,
		logger: logger,
		subs:   make(map[string]subscription),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	if cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	// the broker announces us offline when the connection drops
	opts.SetWill(c.Topic(availabilityTopic), payloadOffline, 1, true)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		c.logf("[MQTT] Connection lost: %v", err)
	})

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		c.logf("[MQTT] Connected to broker: %s", cfg.Broker)
		client.Publish(c.Topic(availabilityTopic), 1, true, payloadOnline)
		c.resubscribe(client)
	})

	opts.SetReconnectingHandler(func(client mqtt.Client, options *mqtt.ClientOptions) {
		c.logf("[MQTT] Attempting to reconnect...")
	})

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// Connect establishes connection to MQTT broker
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isActive {
		return nil
	}

	c.logf("[MQTT] Connecting to broker: %s", c.config.Broker)

	token := c.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	c.isActive = true
	return nil
}

// Disconnect publishes offline and closes the connection
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isActive {
		return
	}

	c.client.Publish(c.Topic(availabilityTopic), 1, true, payloadOffline).WaitTimeout(time.Second)
	c.client.Disconnect(250)
	c.isActive = false

	c.logf("[MQTT] Disconnected from broker")
}

// Publish publishes a message to a prefixed topic with QoS 0
func (c *Client) Publish(topic string, payload interface{}) error {
	return c.PublishWithQoS(topic, 0, false, payload)
}

// PublishWithQoS publishes to a prefixed topic with explicit QoS and retained flag
func (c *Client) PublishWithQoS(topic string, qos byte, retained bool, payload interface{}) error {
	return c.publish(c.Topic(topic), qos, retained, payload)
}

// PublishRaw publishes with QoS 1 to a topic outside the prefix (discovery, device topics)
func (c *Client) PublishRaw(topic string, payload interface{}, retained bool) error {
	return c.publish(topic, 1, retained, payload)
}

func (c *Client) publish(topic string, qos byte, retained bool, payload interface{}) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isActive {
		return fmt.Errorf("MQTT client is not connected")
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish message: %w", token.Error())
	}
	return nil
}

// Subscribe registers handler for topic (wildcards allowed). Subscriptions
// are restored after a reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subs[topic] = subscription{qos: qos, handler: handler}
	if !c.isActive {
		return nil
	}

	token := c.client.Subscribe(topic, qos, wrap(handler))
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, token.Error())
	}
	c.logf("[MQTT] Subscribed to %s", topic)
	return nil
}

func (c *Client) resubscribe(client mqtt.Client) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for topic, sub := range c.subs {
		token := client.Subscribe(topic, sub.qos, wrap(sub.handler))
		if token.Wait() && token.Error() != nil {
			c.logf("[MQTT] Failed to subscribe to %s: %v", topic, token.Error())
		}
	}
}

func wrap(handler MessageHandler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	}
}

// Topic constructs the full topic path with prefix
func (c *Client) Topic(topic string) string {
	if c.config.Prefix == "" {
		return topic
	}
	return c.config.Prefix + "/" + topic
}

// IsConnected returns true if client is connected to broker
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isActive && c.client.IsConnected()
}

// GetConfig returns the current MQTT configuration
func (c *Client) GetConfig() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

func (c *Client) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
