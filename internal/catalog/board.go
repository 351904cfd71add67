package catalog

// Voltage is a supply or logic level class.
type Voltage string

const (
	V33 Voltage = "3.3V"
	V5  Voltage = "5V"
)

// Side is the header row a pin sits on, used for wiring diagram layout.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Pin describes one physical header pin of a board.
type Pin struct {
	ID        string     `json:"id"`
	Label     string     `json:"label"`
	Side      Side       `json:"side"`
	Position  int        `json:"position"`
	GPIO      *int       `json:"gpio"`              // nil for power, ground and control pins
	Voltage   Voltage    `json:"voltage,omitempty"` // set on POWER pins
	Caps      Capability `json:"capabilities"`
	Strapping bool       `json:"strapping"` // boot-time level affects chip startup
	Note      string     `json:"note,omitempty"`
}

// IsPower reports whether the pin is a supply or ground pin.
func (p Pin) IsPower() bool {
	return p.Caps.Intersects(Power | Ground)
}

// GPIONumber returns the GPIO number, or -1 when the pin has none.
func (p Pin) GPIONumber() int {
	if p.GPIO == nil {
		return -1
	}
	return *p.GPIO
}

// Board is a development board definition.
type Board struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Manufacturer     string  `json:"manufacturer"`
	MCU              string  `json:"mcu"`
	ClockMHz         int     `json:"clockMhz"`
	OperatingVoltage Voltage `json:"operatingVoltage"`
	FlashMB          int     `json:"flashMb"`
	RAMKB            int     `json:"ramKb"`
	Pins             []Pin   `json:"pins"`
	Supported        bool    `json:"supported"` // unsupported boards are browsable only
	FQBN             string  `json:"fqbn"`
	Suffix           string  `json:"suffix"`
}

// Pin returns the pin with the given id.
func (b *Board) Pin(id string) (Pin, bool) {
	for _, p := range b.Pins {
		if p.ID == id {
			return p, true
		}
	}
	return Pin{}, false
}

// PinByGPIO returns the first pin wired to the given GPIO number.
func (b *Board) PinByGPIO(gpio int) (Pin, bool) {
	for _, p := range b.Pins {
		if p.GPIO != nil && *p.GPIO == gpio {
			return p, true
		}
	}
	return Pin{}, false
}

// SidePins returns the pins of one header row ordered by position.
func (b *Board) SidePins(side Side) []Pin {
	var out []Pin
	for _, p := range b.Pins {
		if p.Side == side {
			out = append(out, p)
		}
	}
	return out
}

func gpio(n int) *int { return &n }
