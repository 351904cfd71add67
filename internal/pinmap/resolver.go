// Package pinmap decides which physical pins can carry which sensor pins and
// tracks the assignments made during one configuration session.
package pinmap

import (
	"errors"
	"fmt"

	"aquaflash/internal/catalog"
)

var (
	// ErrPowerPin is returned when a supply or ground pin is selected.
	ErrPowerPin = errors.New("power and ground pins cannot be assigned")

	// ErrNoGPIO is returned for control pins such as EN that have no GPIO.
	ErrNoGPIO = errors.New("pin has no GPIO")

	// ErrIncompatible is returned when the pin shares no capability with the sensor pin.
	ErrIncompatible = errors.New("pin does not provide the required capability")
)

// CanAssign reports whether pin offers any capability the sensor pin requires.
// The policy is any-match: no electrical or bus-conflict validation is done.
func CanAssign(pin catalog.Pin, sensorPin catalog.SensorPin) bool {
	return pin.Caps.Intersects(sensorPin.Requires)
}

// Selectable reports whether a pin may be picked for assignment at all.
func Selectable(pin catalog.Pin) bool {
	return !pin.IsPower() && pin.GPIO != nil
}

// Verdict is the outcome of a successful Check.
type Verdict struct {
	GPIO      int    `json:"gpio"`
	Strapping bool   `json:"strapping"`
	Notice    string `json:"notice,omitempty"`
}

// Check is the selection entry point. Power, ground and GPIO-less pins are
// rejected before capability matching is attempted.
func Check(pin catalog.Pin, sensorPin catalog.SensorPin) (Verdict, error) {
	if pin.IsPower() {
		return Verdict{}, fmt.Errorf("%s: %w", pin.ID, ErrPowerPin)
	}
	if pin.GPIO == nil {
		return Verdict{}, fmt.Errorf("%s: %w", pin.ID, ErrNoGPIO)
	}
	if !CanAssign(pin, sensorPin) {
		return Verdict{}, fmt.Errorf("%s cannot serve %s (needs %s, has %s): %w",
			pin.ID, sensorPin.Name, sensorPin.Requires, pin.Caps, ErrIncompatible)
	}

	v := Verdict{GPIO: *pin.GPIO, Strapping: pin.Strapping}
	if pin.Strapping {
		v.Notice = fmt.Sprintf("GPIO%d is a strapping pin: %s", *pin.GPIO, pin.Note)
	}
	return v, nil
}

// Candidates lists the pins of a board that can serve the sensor pin, in board order.
func Candidates(board *catalog.Board, sensorPin catalog.SensorPin) []catalog.Pin {
	var out []catalog.Pin
	for _, p := range board.Pins {
		if Selectable(p) && CanAssign(p, sensorPin) {
			out = append(out, p)
		}
	}
	return out
}
