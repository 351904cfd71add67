package firmware

import (
	"errors"
	"fmt"

	"aquaflash/internal/pinmap"
)

// validate returns advisory warnings; it never blocks generation.
func validate(cfg *Config, p *sketchPlan) []string {
	var warnings []string

	if cfg.WiFiSSID == "" {
		warnings = append(warnings, "WiFi SSID is not set")
	} else if len(cfg.WiFiPassword) < MinPasswordLength {
		warnings = append(warnings, fmt.Sprintf("WiFi password is shorter than %d characters", MinPasswordLength))
	}
	if len(cfg.WiFiSSID) > MaxSSIDLength {
		warnings = append(warnings, fmt.Sprintf("WiFi SSID exceeds %d characters", MaxSSIDLength))
	}
	if len(cfg.Assignments) == 0 {
		warnings = append(warnings, "No sensors assigned")
	}
	if cfg.SensorInterval != 0 && cfg.SensorInterval < MinSensorInterval {
		warnings = append(warnings, fmt.Sprintf("Sensor interval is below %d ms", MinSensorInterval))
	}

	if !cfg.Board.Supported {
		warnings = append(warnings, fmt.Sprintf("%s is not supported for flashing yet", cfg.Board.Name))
	}

	for _, in := range p.instances {
		if in.sensor == nil {
			warnings = append(warnings, fmt.Sprintf("Assignment for unknown sensor %s", in.ref.SensorID))
			continue
		}
		for _, a := range in.pins {
			pin, ok := cfg.Board.Pin(a.PinID)
			if !ok {
				warnings = append(warnings, fmt.Sprintf("Pin %s does not exist on %s", a.PinID, cfg.Board.Name))
				continue
			}
			sp, ok := in.sensor.Pin(a.SensorPin)
			if !ok {
				warnings = append(warnings, fmt.Sprintf("%s has no pin %s", in.label(), a.SensorPin))
				continue
			}
			v, err := pinmap.Check(pin, sp)
			switch {
			case errors.Is(err, pinmap.ErrPowerPin), errors.Is(err, pinmap.ErrNoGPIO):
				warnings = append(warnings, fmt.Sprintf("%s cannot be assigned to a sensor", pin.ID))
			case errors.Is(err, pinmap.ErrIncompatible):
				warnings = append(warnings, fmt.Sprintf("%s cannot serve %s %s", pin.ID, in.label(), sp.Name))
			case v.Strapping:
				warnings = append(warnings, fmt.Sprintf("%s (GPIO %d) is a strapping pin and may prevent the board from booting", pin.ID, v.GPIO))
			}
		}
		for _, name := range in.missing {
			warnings = append(warnings, fmt.Sprintf("%s is missing pin %s", in.label(), name))
		}
		if p.i2c != nil && p.i2c.owner != in && in.complete() && usesI2C(in.sensor.Driver) {
			if in.gpio("SDA") != p.i2c.sdaGPIO || in.gpio("SCL") != p.i2c.sclGPIO {
				warnings = append(warnings, fmt.Sprintf("%s does not share the I2C pins of %s and will not be reachable", in.label(), p.i2c.owner.label()))
			}
		}
	}

	if cfg.DeepSleep && cfg.DeepSleepSeconds <= 0 {
		warnings = append(warnings, fmt.Sprintf("Deep sleep duration is not set, using %d seconds", DefaultDeepSleepSeconds))
	}
	if cfg.DeepSleep && cfg.OTA {
		warnings = append(warnings, "OTA updates are only reachable while the device is awake between deep sleep cycles")
	}

	return warnings
}
