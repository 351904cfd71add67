package firmware

import (
	"strconv"
	"strings"

	"aquaflash/internal/catalog"
	"aquaflash/internal/pinmap"
)

// instance is one physical sensor and the pins bound to it.
type instance struct {
	ref     pinmap.SensorRef
	sensor  *catalog.Sensor // nil when the id is not in the catalog
	pins    []pinmap.Assignment
	missing []string
	base    string
}

func (in *instance) complete() bool {
	return in.sensor != nil && len(in.missing) == 0
}

// pinConst names the constant holding the GPIO of a sensor role, e.g. DS18B20_DATA_PIN.
func (in *instance) pinConst(role string) string {
	return in.base + "_" + identifier(role) + "_PIN"
}

// ident is the lower-case C identifier prefix for driver globals.
func (in *instance) ident() string {
	return strings.ToLower(in.base)
}

func (in *instance) label() string {
	name := in.ref.SensorID
	if in.sensor != nil {
		name = in.sensor.Name
	}
	if in.ref.Number() > 1 {
		name += " #" + strconv.Itoa(in.ref.Number())
	}
	return name
}

func (in *instance) gpio(role string) int {
	for _, a := range in.pins {
		if a.SensorPin == role {
			return a.GPIO
		}
	}
	return -1
}

type i2cBus struct {
	owner    *instance
	sda, scl string
	sdaGPIO  int
	sclGPIO  int
}

type sketchPlan struct {
	instances []*instance
	i2c       *i2cBus
}

func plan(cfg *Config) *sketchPlan {
	p := &sketchPlan{}
	for _, g := range pinmap.GroupBySensor(cfg.Assignments) {
		in := &instance{ref: g.Sensor, pins: g.Assignments}
		in.base = identifier(g.Sensor.SensorID)
		if n := g.Sensor.Number(); n > 1 {
			in.base += "_" + strconv.Itoa(n)
		}

		if s, ok := catalog.LookupSensor(g.Sensor.SensorID); ok {
			in.sensor = s
			for _, sp := range s.SignalPins() {
				if in.gpio(sp.Name) < 0 {
					in.missing = append(in.missing, sp.Name)
				}
			}
		}
		p.instances = append(p.instances, in)

		if p.i2c == nil && in.complete() && usesI2C(in.sensor.Driver) {
			p.i2c = &i2cBus{
				owner:   in,
				sda:     in.pinConst("SDA"),
				scl:     in.pinConst("SCL"),
				sdaGPIO: in.gpio("SDA"),
				sclGPIO: in.gpio("SCL"),
			}
		}
	}
	return p
}

func usesI2C(d catalog.Driver) bool {
	return d == catalog.DriverBME280 || d == catalog.DriverBH1750
}

// identifier upper-cases s and replaces anything outside [A-Z0-9] with '_'.
func identifier(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" || (out[0] >= '0' && out[0] <= '9') {
		out = "S_" + out
	}
	return out
}
