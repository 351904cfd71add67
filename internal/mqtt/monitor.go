package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"aquaflash/internal/firmware"
	"aquaflash/internal/registry"
)

// TelemetrySubscription matches every device telemetry topic.
var TelemetrySubscription = firmware.MQTTTopicPrefix + "+" + firmware.MQTTTopicSuffix

var (
	ErrBadTopic     = errors.New("not a telemetry topic")
	ErrMACMismatch  = errors.New("device MAC does not match API key")
	ErrBadTelemetry = errors.New("malformed telemetry payload")
)

// KeyValidator checks a device API key.
type KeyValidator interface {
	Validate(key string) (*registry.Claims, error)
}

// Contact is the last message seen from one device
type Contact struct {
	DeviceID    string    `json:"deviceId"`
	DeviceMAC   string    `json:"deviceMac"`
	ReadingType string    `json:"readingType"`
	Readings    int       `json:"readings"`
	Heartbeat   bool      `json:"heartbeat"`
	SeenAt      time.Time `json:"seenAt"`
}

// Monitor listens to device telemetry so freshly flashed boards can be
// confirmed online.
type Monitor struct {
	keys   KeyValidator
	logger *log.Logger
	now    func() time.Time

	mu       sync.RWMutex
	contacts map[string]Contact
	rejected int
	notify   func(Contact)
	results  func(error)
}

// NewMonitor creates a telemetry monitor. notify, if set, is called for every accepted message.
func NewMonitor(keys KeyValidator, logger *log.Logger, notify func(Contact)) *Monitor {
	return &Monitor{
		keys:     keys,
		logger:   logger,
		now:      time.Now,
		contacts: make(map[string]Contact),
		notify:   notify,
	}
}

// OnResult registers fn to be called with the outcome of every message.
func (m *Monitor) OnResult(fn func(error)) {
	m.mu.Lock()
	m.results = fn
	m.mu.Unlock()
}

// Start subscribes to device telemetry on broker
func (m *Monitor) Start(broker Broker) error {
	return broker.Subscribe(TelemetrySubscription, 0, func(topic string, payload []byte) {
		if _, err := m.HandleMessage(topic, payload); err != nil && m.logger != nil {
			m.logger.Printf("[MQTT Monitor] Rejected message on %s: %v", topic, err)
		}
	})
}

// HandleMessage validates one telemetry message received on topic and records the contact.
func (m *Monitor) HandleMessage(topic string, payload []byte) (Contact, error) {
	mac, err := topicMAC(topic)
	if err != nil {
		return Contact{}, m.reject(err)
	}
	return m.accept(mac, payload)
}

// HandlePayload validates a message that arrived without a topic (the HTTP
// transport); the device is identified by the payload's deviceMac.
func (m *Monitor) HandlePayload(payload []byte) (Contact, error) {
	return m.accept("", payload)
}

func (m *Monitor) accept(mac string, payload []byte) (Contact, error) {
	var msg firmware.TelemetryPayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Contact{}, m.reject(fmt.Errorf("%w: %v", ErrBadTelemetry, err))
	}
	if mac == "" {
		mac = msg.DeviceMAC
	}
	if mac == "" {
		return Contact{}, m.reject(fmt.Errorf("%w: deviceMac is missing", ErrBadTelemetry))
	}

	claims, err := m.keys.Validate(msg.APIKey)
	if err != nil {
		return Contact{}, m.reject(err)
	}

	mac = registry.NormalizeMAC(mac)
	if registry.NormalizeMAC(claims.DeviceMAC) != mac || registry.NormalizeMAC(msg.DeviceMAC) != mac {
		return Contact{}, m.reject(ErrMACMismatch)
	}

	c := Contact{
		DeviceID:    claims.Subject,
		DeviceMAC:   mac,
		ReadingType: msg.ReadingType,
		Readings:    len(msg.Readings),
		Heartbeat:   msg.IsHeartbeat(),
		SeenAt:      m.now(),
	}

	m.mu.Lock()
	m.contacts[mac] = c
	notify, results := m.notify, m.results
	m.mu.Unlock()

	if results != nil {
		results(nil)
	}
	if notify != nil {
		notify(c)
	}
	return c, nil
}

// LastSeen returns the last accepted message from a device
func (m *Monitor) LastSeen(mac string) (Contact, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contacts[registry.NormalizeMAC(mac)]
	return c, ok
}

// Contacts returns every known device, most recent first
func (m *Monitor) Contacts() []Contact {
	m.mu.RLock()
	out := make([]Contact, 0, len(m.contacts))
	for _, c := range m.contacts {
		out = append(out, c)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SeenAt.After(out[j].SeenAt) })
	return out
}

// Rejected returns the number of messages dropped so far
func (m *Monitor) Rejected() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rejected
}

func (m *Monitor) reject(err error) error {
	m.mu.Lock()
	m.rejected++
	results := m.results
	m.mu.Unlock()

	if results != nil {
		results(err)
	}
	return err
}

func topicMAC(topic string) (string, error) {
	if !strings.HasPrefix(topic, firmware.MQTTTopicPrefix) || !strings.HasSuffix(topic, firmware.MQTTTopicSuffix) {
		return "", fmt.Errorf("%s: %w", topic, ErrBadTopic)
	}
	mac := strings.TrimSuffix(strings.TrimPrefix(topic, firmware.MQTTTopicPrefix), firmware.MQTTTopicSuffix)
	if mac == "" || strings.Contains(mac, "/") {
		return "", fmt.Errorf("%s: %w", topic, ErrBadTopic)
	}
	return mac, nil
}
