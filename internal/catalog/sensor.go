package catalog

// Category groups sensors in the configurator.
type Category string

const (
	CategoryTemperature   Category = "temperature"
	CategoryWaterQuality  Category = "water-quality"
	CategoryDistance      Category = "distance"
	CategoryEnvironmental Category = "environmental"
	CategoryLight         Category = "light"
	CategoryFlow          Category = "flow"
	CategoryLevel         Category = "level"
)

// Driver selects how the firmware generator emits code for a sensor.
type Driver string

const (
	DriverOneWireTemp Driver = "onewire-temperature"
	DriverDHT22       Driver = "dht22"
	DriverPH          Driver = "analog-ph"
	DriverTDS         Driver = "analog-tds"
	DriverDO          Driver = "analog-dissolved-oxygen"
	DriverUltrasonic  Driver = "ultrasonic"
	DriverBME280      Driver = "bme280"
	DriverBH1750      Driver = "bh1750"
	DriverFlowPulse   Driver = "flow-pulse"
	DriverLevelSwitch Driver = "level-switch"
)

// Library is an Arduino library dependency.
type Library struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	URL     string `json:"url,omitempty"`
	Header  string `json:"header,omitempty"`
	Builtin bool   `json:"builtin,omitempty"` // shipped with the ESP32 Arduino core
}

// ProfileEntry formats the library the way arduino-cli sketch profiles list it.
func (l Library) ProfileEntry() string {
	if l.Version == "" {
		return l.Name
	}
	return l.Name + " (" + l.Version + ")"
}

// Reading is one measurement a sensor reports.
type Reading struct {
	Type string `json:"type"`
	Unit string `json:"unit"`
}

// SensorPin is one logical connection a sensor needs.
type SensorPin struct {
	Name        string     `json:"name"`
	Requires    Capability `json:"requires"`
	Description string     `json:"description"`
}

// IsPower reports whether the sensor pin is a supply or ground net.
func (sp SensorPin) IsPower() bool {
	return sp.Requires.Intersects(Power | Ground)
}

// Sensor is a sensor model definition.
type Sensor struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Category  Category    `json:"category"`
	Color     string      `json:"color"`
	Power     Voltage     `json:"power"`
	Pins      []SensorPin `json:"pins"`
	Wiring    []string    `json:"wiring,omitempty"`
	Libraries []Library   `json:"libraries,omitempty"`
	Readings  []Reading   `json:"readings"`
	Driver    Driver      `json:"driver"`
}

// Pin returns the logical pin with the given name.
func (s *Sensor) Pin(name string) (SensorPin, bool) {
	for _, sp := range s.Pins {
		if sp.Name == name {
			return sp, true
		}
	}
	return SensorPin{}, false
}

// SignalPins returns the pins that must be bound to a GPIO.
func (s *Sensor) SignalPins() []SensorPin {
	var out []SensorPin
	for _, sp := range s.Pins {
		if !sp.IsPower() {
			out = append(out, sp)
		}
	}
	return out
}
