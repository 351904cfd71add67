package registry

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no device matches the lookup
	ErrNotFound = errors.New("device not found")

	// ErrInvalidDevice is returned when a device record is incomplete
	ErrInvalidDevice = errors.New("invalid device")
)

// DeviceType is what a device monitors; it doubles as the telemetry reading type.
type DeviceType string

const (
	DeviceFish  DeviceType = "fish"
	DevicePlant DeviceType = "plant"
)

// Valid reports whether t is a known device type.
func (t DeviceType) Valid() bool {
	return t == DeviceFish || t == DevicePlant
}

// Device is a registered telemetry device and the credentials baked into its firmware.
type Device struct {
	ID         string     `json:"id"`
	APIKey     string     `json:"apiKey"`
	DeviceMAC  string     `json:"deviceMac"`
	DeviceType DeviceType `json:"deviceType"`
	DeviceName string     `json:"deviceName"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Lookup resolves a device by its stable identifier.
// Implementations return ErrNotFound when the device is unknown.
type Lookup interface {
	Device(id string) (*Device, error)
}

// Registry is the full device store.
type Registry interface {
	Lookup

	// DeviceByMAC finds a device by MAC address
	DeviceByMAC(mac string) (*Device, error)

	// Register stores a new device, filling in ID, APIKey and CreatedAt
	Register(d *Device) error

	// List returns every device ordered by id
	List() ([]*Device, error)

	// Delete removes a device; unknown ids return ErrNotFound
	Delete(id string) error

	// Close releases the underlying storage
	Close() error
}
