package mqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"aquaflash/internal/catalog"
	"aquaflash/internal/firmware"
	"aquaflash/internal/registry"
)

const discoveryPrefix = "homeassistant"

// DiscoveryConfig is a Home Assistant MQTT discovery message
type DiscoveryConfig struct {
	Name              string           `json:"name"`
	UniqueID          string           `json:"unique_id"`
	StateTopic        string           `json:"state_topic"`
	ValueTemplate     string           `json:"value_template"`
	UnitOfMeasurement string           `json:"unit_of_measurement,omitempty"`
	DeviceClass       string           `json:"device_class,omitempty"`
	StateClass        string           `json:"state_class,omitempty"`
	Device            DiscoveryDevice  `json:"device"`
	Availability      *AvailabilityCfg `json:"availability,omitempty"`
}

// DiscoveryDevice groups entities under one device in Home Assistant
type DiscoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
}

// AvailabilityCfg points entities at the service availability topic
type AvailabilityCfg struct {
	Topic string `json:"topic"`
}

var deviceClasses = map[string]string{
	"water_temperature": "temperature",
	"air_temperature":   "temperature",
	"humidity":          "humidity",
	"pressure":          "pressure",
	"light":             "illuminance",
	"ph":                "ph",
}

// DiscoveryManager publishes discovery configs for registered devices so
// their telemetry shows up in Home Assistant.
type DiscoveryManager struct {
	broker Broker
	logger *log.Logger

	mu        sync.Mutex
	published map[string][]string // device id -> config topics
}

// NewDiscoveryManager creates a new discovery manager
func NewDiscoveryManager(broker Broker, logger *log.Logger) *DiscoveryManager {
	return &DiscoveryManager{
		broker:    broker,
		logger:    logger,
		published: make(map[string][]string),
	}
}

// Configs builds one discovery config per reading type, in the order given.
// Readings sharing a type (two sensors reporting air_temperature) collapse into one entity.
func Configs(dev *registry.Device, readings []catalog.Reading, availabilityTopic string) map[string]DiscoveryConfig {
	mac := registry.NormalizeMAC(dev.DeviceMAC)
	node := nodeID(mac)
	out := make(map[string]DiscoveryConfig)

	for _, r := range readings {
		uniqueID := node + "_" + r.Type
		topic := fmt.Sprintf("%s/sensor/%s/%s/config", discoveryPrefix, node, r.Type)
		if _, ok := out[topic]; ok {
			continue
		}
		cfg := DiscoveryConfig{
			Name:          humanize(r.Type),
			UniqueID:      uniqueID,
			StateTopic:    firmware.MQTTTopic(mac),
			ValueTemplate: fmt.Sprintf("{{ (value_json.readings | selectattr('type', 'eq', '%s') | map(attribute='value') | first) | default(none) }}", r.Type),
			DeviceClass:   deviceClasses[r.Type],
			Device: DiscoveryDevice{
				Identifiers:  []string{node},
				Name:         dev.DeviceName,
				Model:        string(dev.DeviceType),
				Manufacturer: "aquaflash",
			},
		}
		if r.Unit != "bool" {
			cfg.UnitOfMeasurement = r.Unit
			cfg.StateClass = "measurement"
		}
		if availabilityTopic != "" {
			cfg.Availability = &AvailabilityCfg{Topic: availabilityTopic}
		}
		out[topic] = cfg
	}
	return out
}

// PublishDevice publishes retained discovery configs for a device
func (d *DiscoveryManager) PublishDevice(dev *registry.Device, readings []catalog.Reading) error {
	configs := Configs(dev, readings, "")

	d.mu.Lock()
	defer d.mu.Unlock()

	topics := make([]string, 0, len(configs))
	for topic, cfg := range configs {
		payload, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal discovery config: %w", err)
		}
		if err := d.broker.PublishRaw(topic, payload, true); err != nil {
			return fmt.Errorf("failed to publish discovery for %s: %w", cfg.UniqueID, err)
		}
		topics = append(topics, topic)
	}
	d.published[dev.ID] = topics

	if d.logger != nil {
		d.logger.Printf("[MQTT Discovery] Published %d entities for %s", len(topics), dev.DeviceName)
	}
	return nil
}

// RemoveDevice clears retained configs so Home Assistant drops the entities
func (d *DiscoveryManager) RemoveDevice(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, topic := range d.published[id] {
		if err := d.broker.PublishRaw(topic, "", true); err != nil {
			return fmt.Errorf("failed to remove discovery topic %s: %w", topic, err)
		}
	}
	delete(d.published, id)
	return nil
}

func nodeID(mac string) string {
	return "aquaflash_" + strings.ToLower(strings.ReplaceAll(mac, ":", ""))
}

func humanize(readingType string) string {
	words := strings.Split(readingType, "_")
	for i, w := range words {
		if w == "ph" || w == "tds" {
			words[i] = strings.ToUpper(w)
			continue
		}
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
