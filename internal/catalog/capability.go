// Package catalog holds the static board and sensor definitions used by the
// pin configurator and the firmware generator.
package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Capability is a set of electrical roles a physical pin can play.
// Roles are non-exclusive: a pin can be DIGITAL and PWM at the same time.
type Capability uint16

const (
	Power Capability = 1 << iota
	Ground
	ADC
	Digital
	PWM
	I2CSDA
	I2CSCL
	SPIMOSI
	SPIMISO
	SPICLK
	SPICS
	UARTTX
	UARTRX
	InputOnly
)

// capabilityNames is ordered like the constants above.
var capabilityNames = []struct {
	c    Capability
	name string
}{
	{Power, "POWER"},
	{Ground, "GND"},
	{ADC, "ADC"},
	{Digital, "DIGITAL"},
	{PWM, "PWM"},
	{I2CSDA, "I2C_SDA"},
	{I2CSCL, "I2C_SCL"},
	{SPIMOSI, "SPI_MOSI"},
	{SPIMISO, "SPI_MISO"},
	{SPICLK, "SPI_CLK"},
	{SPICS, "SPI_CS"},
	{UARTTX, "UART_TX"},
	{UARTRX, "UART_RX"},
	{InputOnly, "INPUT_ONLY"},
}

// Has reports whether every role in other is present in c.
func (c Capability) Has(other Capability) bool {
	return other != 0 && c&other == other
}

// Intersects reports whether c and other share at least one role.
func (c Capability) Intersects(other Capability) bool {
	return c&other != 0
}

// Names returns the role names in declaration order.
func (c Capability) Names() []string {
	names := make([]string, 0, 4)
	for _, cn := range capabilityNames {
		if c&cn.c != 0 {
			names = append(names, cn.name)
		}
	}
	return names
}

func (c Capability) String() string {
	if c == 0 {
		return "NONE"
	}
	return strings.Join(c.Names(), "|")
}

// ParseCapability parses a single role name such as "I2C_SDA".
func ParseCapability(name string) (Capability, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for _, cn := range capabilityNames {
		if cn.name == name {
			return cn.c, nil
		}
	}
	return 0, fmt.Errorf("unknown pin capability %q", name)
}

// MarshalJSON encodes the set as an ordered list of role names.
func (c Capability) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Names())
}

// UnmarshalJSON accepts the list form produced by MarshalJSON.
func (c *Capability) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return fmt.Errorf("decode capabilities: %w", err)
	}
	var out Capability
	for _, n := range names {
		cp, err := ParseCapability(n)
		if err != nil {
			return err
		}
		out |= cp
	}
	*c = out
	return nil
}
