// Package firmware renders ESP32 Arduino sketches from a pin configuration.
package firmware

import (
	"aquaflash/internal/catalog"
	"aquaflash/internal/pinmap"
	"aquaflash/internal/registry"
)

// Transport is how the generated firmware ships telemetry.
type Transport string

const (
	TransportHTTP Transport = "http"
	TransportMQTT Transport = "mqtt"
)

// Category is the monitoring domain of a device.
type Category string

const (
	CategoryFish    Category = "fish"
	CategoryPlant   Category = "plant"
	CategoryGeneral Category = "general"
)

const (
	DefaultSensorInterval   = 10000
	MinSensorInterval       = 1000
	DefaultHTTPPort         = 80
	DefaultMQTTPort         = 1883
	DefaultDeepSleepSeconds = 300
	MaxSSIDLength           = 32
	MinPasswordLength       = 8
	WiFiMaxAttempts         = 20
	DefaultFilename         = "aquaponics-device"
	TelemetryPath           = "/api/telemetry"
	MQTTTopicPrefix         = "aquaponics/"
	MQTTTopicSuffix         = "/telemetry"
	PlaceholderAPIKey       = "YOUR_API_KEY"
	PlaceholderHost         = "192.168.1.100"
)

// Config is everything the generator needs to render a sketch.
type Config struct {
	Board       *catalog.Board
	Assignments []pinmap.Assignment

	DeviceName  string
	Category    Category
	Credentials *registry.Device // nil renders placeholders

	WiFiSSID     string
	WiFiPassword string
	ServerHost   string
	ServerPort   int
	Transport    Transport

	SensorInterval   int // milliseconds
	OTA              bool
	DeepSleep        bool
	DeepSleepSeconds int
}

// Firmware is a generated sketch and its metadata.
type Firmware struct {
	Source    string            `json:"source"`
	Filename  string            `json:"filename"`
	Libraries []catalog.Library `json:"libraries"`
	Warnings  []string          `json:"warnings"`
	Project   string            `json:"project"`
}

func (c *Config) transport() Transport {
	if c.Transport == TransportMQTT {
		return TransportMQTT
	}
	return TransportHTTP
}

func (c *Config) port() int {
	if c.ServerPort > 0 {
		return c.ServerPort
	}
	if c.transport() == TransportMQTT {
		return DefaultMQTTPort
	}
	return DefaultHTTPPort
}

func (c *Config) host() string {
	if c.ServerHost == "" {
		return PlaceholderHost
	}
	return c.ServerHost
}

func (c *Config) interval() int {
	if c.SensorInterval <= 0 {
		return DefaultSensorInterval
	}
	return c.SensorInterval
}

// readingType maps the device category onto the telemetry reading type.
// Registered devices keep their own type; "general" reports as fish.
func (c *Config) readingType() string {
	switch c.Category {
	case CategoryPlant:
		return string(registry.DevicePlant)
	case CategoryFish, CategoryGeneral:
		return string(registry.DeviceFish)
	}
	if c.Credentials != nil && c.Credentials.DeviceType.Valid() {
		return string(c.Credentials.DeviceType)
	}
	return string(registry.DeviceFish)
}

func (c *Config) apiKey() string {
	if c.Credentials == nil || c.Credentials.APIKey == "" {
		return PlaceholderAPIKey
	}
	return c.Credentials.APIKey
}

func (c *Config) deviceMAC() string {
	if c.Credentials == nil {
		return ""
	}
	return c.Credentials.DeviceMAC
}

func (c *Config) deviceName() string {
	if c.DeviceName != "" {
		return c.DeviceName
	}
	if c.Credentials != nil && c.Credentials.DeviceName != "" {
		return c.Credentials.DeviceName
	}
	return "Aquaponics Device"
}
