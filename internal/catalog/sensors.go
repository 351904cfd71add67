package catalog

import "sort"

var (
	libOneWire     = Library{Name: "OneWire", Version: "2.3.8", URL: "https://github.com/PaulStoffregen/OneWire", Header: "OneWire.h"}
	libDallas      = Library{Name: "DallasTemperature", Version: "3.9.0", URL: "https://github.com/milesburton/Arduino-Temperature-Control-Library", Header: "DallasTemperature.h"}
	libDHT         = Library{Name: "DHT sensor library", Version: "1.4.6", URL: "https://github.com/adafruit/DHT-sensor-library", Header: "DHT.h"}
	libUnified     = Library{Name: "Adafruit Unified Sensor", Version: "1.1.14", URL: "https://github.com/adafruit/Adafruit_Sensor", Header: "Adafruit_Sensor.h"}
	libBME280      = Library{Name: "Adafruit BME280 Library", Version: "2.2.4", URL: "https://github.com/adafruit/Adafruit_BME280_Library", Header: "Adafruit_BME280.h"}
	libBH1750      = Library{Name: "BH1750", Version: "1.3.0", URL: "https://github.com/claws/BH1750", Header: "BH1750.h"}
	libWire        = Library{Name: "Wire", Header: "Wire.h", Builtin: true}
	vccPin         = SensorPin{Name: "VCC", Requires: Power, Description: "Supply"}
	gndPin         = SensorPin{Name: "GND", Requires: Ground, Description: "Ground"}
	analogWiring   = []string{"Signal output swings 0-3.3V on the isolation board; do not feed 5V into the ADC pin", "Prefer ADC1 pins, ADC2 is unavailable while WiFi is active"}
	i2cWiring      = []string{"SDA and SCL may be shared with other I2C sensors", "Most breakout boards include 10k pull-ups"}
	sensorsByOrder = []Sensor{
		{
			ID:        "ds18b20",
			Name:      "DS18B20 Water Temperature",
			Category:  CategoryTemperature,
			Color:     "#ef4444",
			Power:     V33,
			Pins:      []SensorPin{vccPin, {Name: "DATA", Requires: Digital, Description: "1-Wire data line"}, gndPin},
			Wiring:    []string{"4.7k pull-up resistor between DATA and VCC"},
			Libraries: []Library{libOneWire, libDallas},
			Readings:  []Reading{{Type: "water_temperature", Unit: "C"}},
			Driver:    DriverOneWireTemp,
		},
		{
			ID:        "dht22",
			Name:      "DHT22 Air Temperature & Humidity",
			Category:  CategoryEnvironmental,
			Color:     "#f59e0b",
			Power:     V33,
			Pins:      []SensorPin{vccPin, {Name: "DATA", Requires: Digital, Description: "Single-wire data line"}, gndPin},
			Wiring:    []string{"10k pull-up resistor between DATA and VCC", "Sample no faster than every 2 seconds"},
			Libraries: []Library{libUnified, libDHT},
			Readings:  []Reading{{Type: "air_temperature", Unit: "C"}, {Type: "humidity", Unit: "%"}},
			Driver:    DriverDHT22,
		},
		{
			ID:       "ph-probe",
			Name:     "Analog pH Probe",
			Category: CategoryWaterQuality,
			Color:    "#8b5cf6",
			Power:    V5,
			Pins:     []SensorPin{vccPin, {Name: "SIGNAL", Requires: ADC, Description: "Analog pH output (Po)"}, gndPin},
			Wiring:   analogWiring,
			Readings: []Reading{{Type: "ph", Unit: "pH"}},
			Driver:   DriverPH,
		},
		{
			ID:       "tds-meter",
			Name:     "TDS Meter",
			Category: CategoryWaterQuality,
			Color:    "#06b6d4",
			Power:    V33,
			Pins:     []SensorPin{vccPin, {Name: "SIGNAL", Requires: ADC, Description: "Analog TDS output"}, gndPin},
			Wiring:   analogWiring,
			Readings: []Reading{{Type: "tds", Unit: "ppm"}},
			Driver:   DriverTDS,
		},
		{
			ID:       "dissolved-oxygen",
			Name:     "Dissolved Oxygen Probe",
			Category: CategoryWaterQuality,
			Color:    "#3b82f6",
			Power:    V33,
			Pins:     []SensorPin{vccPin, {Name: "SIGNAL", Requires: ADC, Description: "Analog DO output"}, gndPin},
			Wiring:   analogWiring,
			Readings: []Reading{{Type: "dissolved_oxygen", Unit: "mg/L"}},
			Driver:   DriverDO,
		},
		{
			ID:       "hc-sr04",
			Name:     "HC-SR04 Ultrasonic Water Level",
			Category: CategoryDistance,
			Color:    "#10b981",
			Power:    V5,
			Pins: []SensorPin{
				vccPin,
				{Name: "TRIG", Requires: Digital, Description: "Trigger input"},
				{Name: "ECHO", Requires: Digital | InputOnly, Description: "Echo output"},
				gndPin,
			},
			Wiring:   []string{"ECHO outputs 5V; use a 1k/2k voltage divider before the GPIO"},
			Readings: []Reading{{Type: "water_level", Unit: "cm"}},
			Driver:   DriverUltrasonic,
		},
		{
			ID:       "bme280",
			Name:     "BME280 Environmental Sensor",
			Category: CategoryEnvironmental,
			Color:    "#f97316",
			Power:    V33,
			Pins: []SensorPin{
				vccPin,
				{Name: "SDA", Requires: I2CSDA, Description: "I2C data"},
				{Name: "SCL", Requires: I2CSCL, Description: "I2C clock"},
				gndPin,
			},
			Wiring:    i2cWiring,
			Libraries: []Library{libWire, libUnified, libBME280},
			Readings:  []Reading{{Type: "air_temperature", Unit: "C"}, {Type: "humidity", Unit: "%"}, {Type: "pressure", Unit: "hPa"}},
			Driver:    DriverBME280,
		},
		{
			ID:       "bh1750",
			Name:     "BH1750 Light Sensor",
			Category: CategoryLight,
			Color:    "#eab308",
			Power:    V33,
			Pins: []SensorPin{
				vccPin,
				{Name: "SDA", Requires: I2CSDA, Description: "I2C data"},
				{Name: "SCL", Requires: I2CSCL, Description: "I2C clock"},
				gndPin,
			},
			Wiring:    i2cWiring,
			Libraries: []Library{libWire, libBH1750},
			Readings:  []Reading{{Type: "light", Unit: "lux"}},
			Driver:    DriverBH1750,
		},
		{
			ID:       "yf-s201",
			Name:     "YF-S201 Water Flow Sensor",
			Category: CategoryFlow,
			Color:    "#0ea5e9",
			Power:    V5,
			Pins:     []SensorPin{vccPin, {Name: "PULSE", Requires: Digital, Description: "Hall effect pulse output"}, gndPin},
			Wiring:   []string{"Pulse output is open collector; enable the internal pull-up"},
			Readings: []Reading{{Type: "flow_rate", Unit: "L/min"}},
			Driver:   DriverFlowPulse,
		},
		{
			ID:       "float-switch",
			Name:     "Float Level Switch",
			Category: CategoryLevel,
			Color:    "#64748b",
			Power:    V33,
			Pins:     []SensorPin{{Name: "SIGNAL", Requires: Digital, Description: "Switch contact"}, gndPin},
			Wiring:   []string{"Wire the switch between SIGNAL and GND; the internal pull-up is enabled"},
			Readings: []Reading{{Type: "water_level_ok", Unit: "bool"}},
			Driver:   DriverLevelSwitch,
		},
	}
)

// Sensors returns every sensor definition, sorted by id.
func Sensors() []Sensor {
	out := make([]Sensor, 0, len(sensorsByOrder))
	for i := range sensorsByOrder {
		out = append(out, sensorsByOrder[i].clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LookupSensor returns a copy of the sensor with the given id.
func LookupSensor(id string) (*Sensor, bool) {
	for i := range sensorsByOrder {
		if sensorsByOrder[i].ID == id {
			s := sensorsByOrder[i].clone()
			return &s, true
		}
	}
	return nil, false
}

// SensorsByCategory returns the sensors of one category, sorted by id.
func SensorsByCategory(c Category) []Sensor {
	var out []Sensor
	for _, s := range Sensors() {
		if s.Category == c {
			out = append(out, s)
		}
	}
	return out
}

func (s Sensor) clone() Sensor {
	s.Pins = append([]SensorPin(nil), s.Pins...)
	s.Wiring = append([]string(nil), s.Wiring...)
	s.Libraries = append([]Library(nil), s.Libraries...)
	s.Readings = append([]Reading(nil), s.Readings...)
	return s
}
