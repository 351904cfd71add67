package pinmap

import (
	"errors"
	"fmt"

	"aquaflash/internal/catalog"
)

var (
	ErrUnknownPin       = errors.New("unknown pin")
	ErrUnknownSensor    = errors.New("unknown sensor")
	ErrUnknownSensorPin = errors.New("unknown sensor pin")
)

// Bind validates a selection against the board and catalog and, when it is
// accepted, records it in the store. Rejected selections leave the store untouched.
func Bind(store *Store, board *catalog.Board, pinID string, ref SensorRef, sensorPinName string) (Verdict, error) {
	pin, ok := board.Pin(pinID)
	if !ok {
		return Verdict{}, fmt.Errorf("%s on %s: %w", pinID, board.ID, ErrUnknownPin)
	}
	sensor, ok := catalog.LookupSensor(ref.SensorID)
	if !ok {
		return Verdict{}, fmt.Errorf("%s: %w", ref.SensorID, ErrUnknownSensor)
	}
	sensorPin, ok := sensor.Pin(sensorPinName)
	if !ok {
		return Verdict{}, fmt.Errorf("%s has no pin %s: %w", sensor.ID, sensorPinName, ErrUnknownSensorPin)
	}

	v, err := Check(pin, sensorPin)
	if err != nil {
		return Verdict{}, err
	}
	store.Assign(pin.ID, v.GPIO, ref, sensorPin.Name)
	return v, nil
}
