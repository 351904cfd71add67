package catalog

import (
	"encoding/json"
	"testing"
)

func TestCapabilitySet(t *testing.T) {
	c := ADC | Digital

	if !c.Has(ADC) {
		t.Error("expected ADC in set")
	}
	if c.Has(ADC | PWM) {
		t.Error("Has should require every role")
	}
	if !c.Intersects(PWM | Digital) {
		t.Error("expected overlap on DIGITAL")
	}
	if c.Intersects(I2CSDA) {
		t.Error("unexpected overlap with I2C_SDA")
	}
	if got := c.String(); got != "ADC|DIGITAL" {
		t.Errorf("String() = %q, want ADC|DIGITAL", got)
	}
	if got := Capability(0).String(); got != "NONE" {
		t.Errorf("String() of empty set = %q", got)
	}
}

func TestCapabilityJSON(t *testing.T) {
	data, err := json.Marshal(I2CSCL | Power | InputOnly)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `["POWER","I2C_SCL","INPUT_ONLY"]` {
		t.Errorf("unexpected encoding %s", data)
	}

	var c Capability
	if err := json.Unmarshal([]byte(`["pwm"," digital "]`), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c != PWM|Digital {
		t.Errorf("decoded %v, want PWM|DIGITAL", c)
	}

	if err := json.Unmarshal([]byte(`["LASER"]`), &c); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestBoardPinsAreConsistent(t *testing.T) {
	for _, b := range Boards() {
		t.Run(b.ID, func(t *testing.T) {
			if b.FQBN == "" || b.Suffix == "" {
				t.Errorf("board %s missing FQBN or suffix", b.ID)
			}
			seenID := make(map[string]bool)
			positions := make(map[Side]map[int]bool)
			for _, p := range b.Pins {
				if seenID[p.ID] {
					t.Errorf("duplicate pin id %s", p.ID)
				}
				seenID[p.ID] = true

				if positions[p.Side] == nil {
					positions[p.Side] = make(map[int]bool)
				}
				if positions[p.Side][p.Position] {
					t.Errorf("pin %s reuses position %d on %s", p.ID, p.Position, p.Side)
				}
				positions[p.Side][p.Position] = true

				if p.IsPower() && p.GPIO != nil {
					t.Errorf("power pin %s must not carry a GPIO", p.ID)
				}
				if p.Caps.Has(Power) && p.Voltage == "" {
					t.Errorf("power pin %s has no voltage class", p.ID)
				}
				if p.Strapping && p.GPIO == nil {
					t.Errorf("strapping pin %s has no GPIO", p.ID)
				}
			}
		})
	}
}

func TestLookupBoardReturnsCopy(t *testing.T) {
	b, ok := LookupBoard("esp32-devkit-v1")
	if !ok {
		t.Fatal("esp32-devkit-v1 not found")
	}
	if !b.Supported {
		t.Error("esp32-devkit-v1 should be supported")
	}

	p, ok := b.Pin("D4")
	if !ok || p.GPIONumber() != 4 {
		t.Fatalf("D4 lookup = %+v, %v", p, ok)
	}
	for i := range b.Pins {
		if b.Pins[i].GPIO != nil {
			*b.Pins[i].GPIO = 99
		}
	}

	again, _ := LookupBoard("esp32-devkit-v1")
	if p, _ := again.Pin("D4"); p.GPIONumber() != 4 {
		t.Errorf("catalog was mutated through a returned copy: D4 = %d", p.GPIONumber())
	}

	if _, ok := LookupBoard("arduino-uno"); ok {
		t.Error("unexpected board arduino-uno")
	}
}

func TestPinByGPIO(t *testing.T) {
	b, _ := LookupBoard("esp32-devkit-v1")
	p, ok := b.PinByGPIO(36)
	if !ok || p.ID != "VP" {
		t.Errorf("PinByGPIO(36) = %s, %v", p.ID, ok)
	}
	if _, ok := b.PinByGPIO(6); ok {
		t.Error("GPIO6 is flash-connected and must not be exposed")
	}
	if left := b.SidePins(SideLeft); len(left) != 15 {
		t.Errorf("left header has %d pins, want 15", len(left))
	}
}

func TestSensorsDeclareSignalPins(t *testing.T) {
	for _, s := range Sensors() {
		t.Run(s.ID, func(t *testing.T) {
			if len(s.SignalPins()) == 0 {
				t.Errorf("sensor %s has no signal pins", s.ID)
			}
			if len(s.Readings) == 0 {
				t.Errorf("sensor %s reports nothing", s.ID)
			}
			if s.Driver == "" {
				t.Errorf("sensor %s has no driver", s.ID)
			}
		})
	}
}

func TestLookupSensor(t *testing.T) {
	s, ok := LookupSensor("bme280")
	if !ok {
		t.Fatal("bme280 not found")
	}
	sda, ok := s.Pin("SDA")
	if !ok || !sda.Requires.Has(I2CSDA) {
		t.Errorf("bme280 SDA = %+v, %v", sda, ok)
	}
	if vcc, _ := s.Pin("VCC"); !vcc.IsPower() {
		t.Error("VCC should be a power net")
	}

	env := SensorsByCategory(CategoryEnvironmental)
	if len(env) != 2 || env[0].ID != "bme280" || env[1].ID != "dht22" {
		t.Errorf("environmental sensors = %v", env)
	}
}
