package registry

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const (
	// devicesBucket maps device id to the JSON device record
	devicesBucket = "devices"

	// macBucket indexes device ids by normalised MAC address
	macBucket = "devices_by_mac"
)

// BoltRegistry is a bbolt implementation of Registry
type BoltRegistry struct {
	db   *bbolt.DB
	keys *KeyManager
	now  func() time.Time
}

// NewBoltRegistry opens (or creates) the registry database at path.
// keys mints the API key of every registered device.
func NewBoltRegistry(path string, keys *KeyManager) (*BoltRegistry, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(devicesBucket)); err != nil {
			return fmt.Errorf("failed to create devices bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(macBucket)); err != nil {
			return fmt.Errorf("failed to create mac bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltRegistry{db: db, keys: keys, now: time.Now}, nil
}

// NormalizeMAC upper-cases a MAC address and uses ':' separators.
func NormalizeMAC(mac string) string {
	mac = strings.ToUpper(strings.TrimSpace(mac))
	return strings.ReplaceAll(mac, "-", ":")
}

// Device returns the device with the given id
func (r *BoltRegistry) Device(id string) (*Device, error) {
	var d *Device
	err := r.db.View(func(tx *bbolt.Tx) error {
		var err error
		d, err = getDevice(tx, id)
		return err
	})
	return d, err
}

// DeviceByMAC returns the device registered with mac
func (r *BoltRegistry) DeviceByMAC(mac string) (*Device, error) {
	var d *Device
	err := r.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket([]byte(macBucket)).Get([]byte(NormalizeMAC(mac)))
		if id == nil {
			return ErrNotFound
		}
		var err error
		d, err = getDevice(tx, string(id))
		return err
	})
	return d, err
}

// Register validates d, assigns its id and API key and stores it.
// A MAC address may only be registered once.
func (r *BoltRegistry) Register(d *Device) error {
	if d.DeviceName == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDevice)
	}
	if !d.DeviceType.Valid() {
		return fmt.Errorf("%w: type must be fish or plant, got %q", ErrInvalidDevice, d.DeviceType)
	}
	d.DeviceMAC = NormalizeMAC(d.DeviceMAC)
	if d.DeviceMAC == "" {
		return fmt.Errorf("%w: mac is required", ErrInvalidDevice)
	}

	d.ID = uuid.NewString()
	d.CreatedAt = r.now().UTC()
	key, err := r.keys.Mint(d)
	if err != nil {
		return fmt.Errorf("failed to mint api key: %w", err)
	}
	d.APIKey = key

	return r.db.Update(func(tx *bbolt.Tx) error {
		macs := tx.Bucket([]byte(macBucket))
		if existing := macs.Get([]byte(d.DeviceMAC)); existing != nil {
			return fmt.Errorf("%w: mac %s already registered", ErrInvalidDevice, d.DeviceMAC)
		}

		data, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("failed to marshal device: %w", err)
		}
		if err := tx.Bucket([]byte(devicesBucket)).Put([]byte(d.ID), data); err != nil {
			return err
		}
		return macs.Put([]byte(d.DeviceMAC), []byte(d.ID))
	})
}

// List returns all devices ordered by id
func (r *BoltRegistry) List() ([]*Device, error) {
	var devices []*Device
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(devicesBucket)).ForEach(func(k, v []byte) error {
			var d Device
			if err := json.Unmarshal(v, &d); err != nil {
				return fmt.Errorf("failed to unmarshal device %s: %w", k, err)
			}
			devices = append(devices, &d)
			return nil
		})
	})
	return devices, err
}

// Delete removes the device and its MAC index entry
func (r *BoltRegistry) Delete(id string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		d, err := getDevice(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Bucket([]byte(macBucket)).Delete([]byte(d.DeviceMAC)); err != nil {
			return err
		}
		return tx.Bucket([]byte(devicesBucket)).Delete([]byte(id))
	})
}

// Close closes the database
func (r *BoltRegistry) Close() error {
	return r.db.Close()
}

func getDevice(tx *bbolt.Tx, id string) (*Device, error) {
	data := tx.Bucket([]byte(devicesBucket)).Get([]byte(id))
	if data == nil {
		return nil, ErrNotFound
	}
	var d Device
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal device: %w", err)
	}
	return &d, nil
}
