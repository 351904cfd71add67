package catalog

import "sort"

func supply(id, label string, side Side, pos int, v Voltage) Pin {
	return Pin{ID: id, Label: label, Side: side, Position: pos, Voltage: v, Caps: Power}
}

func ground(id string, side Side, pos int) Pin {
	return Pin{ID: id, Label: "GND", Side: side, Position: pos, Caps: Ground}
}

func control(id, label string, side Side, pos int, note string) Pin {
	return Pin{ID: id, Label: label, Side: side, Position: pos, Note: note}
}

func io(id, label string, side Side, pos, n int, caps Capability) Pin {
	return Pin{ID: id, Label: label, Side: side, Position: pos, GPIO: gpio(n), Caps: caps}
}

func strap(p Pin, note string) Pin {
	p.Strapping = true
	p.Note = note
	return p
}

func noted(p Pin, note string) Pin {
	p.Note = note
	return p
}

const adcIO = ADC | Digital | PWM

var boards = []Board{
	{
		ID:               "esp32-devkit-v1",
		Name:             "ESP32 DevKit V1",
		Manufacturer:     "DOIT",
		MCU:              "ESP32-WROOM-32",
		ClockMHz:         240,
		OperatingVoltage: V33,
		FlashMB:          4,
		RAMKB:            520,
		Supported:        true,
		FQBN:             "esp32:esp32:esp32doit-devkit-v1",
		Suffix:           "esp32",
		Pins: []Pin{
			control("EN", "EN", SideLeft, 1, "Chip enable; pulled low by the RTS auto-reset line"),
			io("VP", "GPIO36 (VP)", SideLeft, 2, 36, ADC|InputOnly),
			io("VN", "GPIO39 (VN)", SideLeft, 3, 39, ADC|InputOnly),
			io("D34", "GPIO34", SideLeft, 4, 34, ADC|InputOnly),
			io("D35", "GPIO35", SideLeft, 5, 35, ADC|InputOnly),
			io("D32", "GPIO32", SideLeft, 6, 32, adcIO),
			io("D33", "GPIO33", SideLeft, 7, 33, adcIO),
			noted(io("D25", "GPIO25", SideLeft, 8, 25, adcIO), "DAC1; ADC2 channel unavailable while WiFi is active"),
			noted(io("D26", "GPIO26", SideLeft, 9, 26, adcIO), "DAC2; ADC2 channel unavailable while WiFi is active"),
			noted(io("D27", "GPIO27", SideLeft, 10, 27, adcIO), "ADC2 channel unavailable while WiFi is active"),
			noted(io("D14", "GPIO14", SideLeft, 11, 14, adcIO|SPICLK), "HSPI CLK; outputs PWM at boot"),
			strap(io("D12", "GPIO12", SideLeft, 12, 12, adcIO|SPIMISO), "MTDI strapping pin; boot fails if pulled high"),
			noted(io("D13", "GPIO13", SideLeft, 13, 13, adcIO|SPIMOSI), "HSPI MOSI"),
			ground("GND1", SideLeft, 14),
			supply("VIN", "VIN (5V)", SideLeft, 15, V5),

			io("D23", "GPIO23", SideRight, 1, 23, Digital|PWM|SPIMOSI),
			io("D22", "GPIO22", SideRight, 2, 22, Digital|PWM|I2CSCL),
			noted(io("TX0", "GPIO1 (TX0)", SideRight, 3, 1, Digital|UARTTX), "USB serial console TX"),
			noted(io("RX0", "GPIO3 (RX0)", SideRight, 4, 3, Digital|UARTRX), "USB serial console RX"),
			io("D21", "GPIO21", SideRight, 5, 21, Digital|PWM|I2CSDA),
			io("D19", "GPIO19", SideRight, 6, 19, Digital|PWM|SPIMISO),
			io("D18", "GPIO18", SideRight, 7, 18, Digital|PWM|SPICLK),
			strap(io("D5", "GPIO5", SideRight, 8, 5, Digital|PWM|SPICS), "Strapping pin; outputs PWM at boot"),
			io("TX2", "GPIO17 (TX2)", SideRight, 9, 17, Digital|PWM|UARTTX),
			io("RX2", "GPIO16 (RX2)", SideRight, 10, 16, Digital|PWM|UARTRX),
			io("D4", "GPIO4", SideRight, 11, 4, adcIO),
			strap(io("D2", "GPIO2", SideRight, 12, 2, adcIO), "Strapping pin; onboard LED, must be low to enter download mode"),
			strap(io("D15", "GPIO15", SideRight, 13, 15, adcIO|SPICS), "MTDO strapping pin; silences boot log when low"),
			ground("GND2", SideRight, 14),
			supply("3V3", "3V3", SideRight, 15, V33),
		},
	},
	{
		ID:               "esp32-c3-devkitm-1",
		Name:             "ESP32-C3-DevKitM-1",
		Manufacturer:     "Espressif",
		MCU:              "ESP32-C3-MINI-1",
		ClockMHz:         160,
		OperatingVoltage: V33,
		FlashMB:          4,
		RAMKB:            400,
		Supported:        true,
		FQBN:             "esp32:esp32:esp32c3",
		Suffix:           "esp32c3",
		Pins: []Pin{
			ground("GND1", SideLeft, 1),
			supply("3V3", "3V3", SideLeft, 2, V33),
			strap(io("IO2", "GPIO2", SideLeft, 3, 2, adcIO), "Strapping pin; must be high at boot"),
			io("IO3", "GPIO3", SideLeft, 4, 3, adcIO),
			control("RST", "RST", SideLeft, 5, "Chip enable"),
			io("IO0", "GPIO0", SideLeft, 6, 0, adcIO),
			io("IO1", "GPIO1", SideLeft, 7, 1, adcIO),
			io("IO10", "GPIO10", SideLeft, 8, 10, Digital|PWM),
			supply("5V", "5V", SideLeft, 9, V5),
			ground("GND2", SideLeft, 10),

			ground("GND3", SideRight, 1),
			noted(io("TX", "GPIO21 (TX)", SideRight, 2, 21, Digital|UARTTX), "UART0 console TX"),
			noted(io("RX", "GPIO20 (RX)", SideRight, 3, 20, Digital|UARTRX), "UART0 console RX"),
			strap(io("IO9", "GPIO9", SideRight, 4, 9, Digital|PWM|I2CSCL), "Strapping pin; BOOT button, low enters download mode"),
			strap(io("IO8", "GPIO8", SideRight, 5, 8, Digital|PWM|I2CSDA), "Strapping pin; onboard RGB LED"),
			io("IO7", "GPIO7", SideRight, 6, 7, Digital|PWM|SPICS),
			io("IO6", "GPIO6", SideRight, 7, 6, Digital|PWM|SPIMOSI),
			noted(io("IO5", "GPIO5", SideRight, 8, 5, adcIO|SPIMISO), "ADC2 channel unavailable while WiFi is active"),
			io("IO4", "GPIO4", SideRight, 9, 4, adcIO|SPICLK),
			noted(io("IO18", "GPIO18", SideRight, 10, 18, Digital), "USB D-"),
			noted(io("IO19", "GPIO19", SideRight, 11, 19, Digital), "USB D+"),
			ground("GND4", SideRight, 12),
		},
	},
	{
		ID:               "esp32-s3-devkitc-1",
		Name:             "ESP32-S3-DevKitC-1",
		Manufacturer:     "Espressif",
		MCU:              "ESP32-S3-WROOM-1",
		ClockMHz:         240,
		OperatingVoltage: V33,
		FlashMB:          8,
		RAMKB:            512,
		Supported:        false,
		FQBN:             "esp32:esp32:esp32s3",
		Suffix:           "esp32s3",
		Pins: []Pin{
			supply("3V3", "3V3", SideLeft, 1, V33),
			control("RST", "RST", SideLeft, 2, "Chip enable"),
			io("IO4", "GPIO4", SideLeft, 3, 4, adcIO),
			io("IO5", "GPIO5", SideLeft, 4, 5, adcIO),
			io("IO6", "GPIO6", SideLeft, 5, 6, adcIO),
			io("IO7", "GPIO7", SideLeft, 6, 7, adcIO),
			supply("5V", "5V", SideLeft, 7, V5),
			ground("GND1", SideLeft, 8),

			ground("GND2", SideRight, 1),
			noted(io("TX", "GPIO43 (TX)", SideRight, 2, 43, Digital|UARTTX), "UART0 console TX"),
			noted(io("RX", "GPIO44 (RX)", SideRight, 3, 44, Digital|UARTRX), "UART0 console RX"),
			io("IO1", "GPIO1", SideRight, 4, 1, adcIO),
			io("IO2", "GPIO2", SideRight, 5, 2, adcIO),
			io("IO8", "GPIO8", SideRight, 6, 8, adcIO|I2CSDA),
			io("IO9", "GPIO9", SideRight, 7, 9, adcIO|I2CSCL),
			strap(io("IO0", "GPIO0", SideRight, 8, 0, Digital|PWM), "Strapping pin; BOOT button"),
		},
	},
}

// Boards returns every board definition, sorted by id.
func Boards() []Board {
	out := make([]Board, 0, len(boards))
	for i := range boards {
		out = append(out, boards[i].clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LookupBoard returns a copy of the board with the given id.
func LookupBoard(id string) (*Board, bool) {
	for i := range boards {
		if boards[i].ID == id {
			b := boards[i].clone()
			return &b, true
		}
	}
	return nil, false
}

func (b Board) clone() Board {
	pins := make([]Pin, len(b.Pins))
	for i, p := range b.Pins {
		if p.GPIO != nil {
			p.GPIO = gpio(*p.GPIO)
		}
		pins[i] = p
	}
	b.Pins = pins
	return b
}
