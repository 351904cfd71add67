// Package serialport opens the serial links the flashing driver talks to.
package serialport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"aquaflash/internal/flasher"
)

var ErrNoDevice = errors.New("no supported USB serial bridge found")

// Bridge is a USB-serial chip found on ESP32 boards
type Bridge struct {
	VID  string `json:"vid"`
	PID  string `json:"pid"`
	Name string `json:"name"`
}

// KnownBridges lists the USB ids accepted by auto-detection
var KnownBridges = []Bridge{
	{VID: "10C4", PID: "EA60", Name: "Silicon Labs CP210x"},
	{VID: "1A86", PID: "7523", Name: "WCH CH340"},
	{VID: "1A86", PID: "55D4", Name: "WCH CH9102"},
	{VID: "0403", PID: "6001", Name: "FTDI FT232R"},
	{VID: "0403", PID: "6015", Name: "FTDI FT231X"},
	{VID: "303A", PID: "1001", Name: "Espressif USB JTAG/serial"},
	{VID: "303A", PID: "0002", Name: "Espressif USB CDC"},
}

// Device is a detected serial port behind a known bridge
type Device struct {
	Port         string `json:"port"`
	Bridge       Bridge `json:"bridge"`
	SerialNumber string `json:"serialNumber,omitempty"`
	Product      string `json:"product,omitempty"`
}

// MatchBridge returns the known bridge with the given USB ids.
func MatchBridge(vid, pid string) (Bridge, bool) {
	for _, b := range KnownBridges {
		if strings.EqualFold(b.VID, vid) && strings.EqualFold(b.PID, pid) {
			return b, true
		}
	}
	return Bridge{}, false
}

type listFunc func() ([]*enumerator.PortDetails, error)

// Detect lists the ports that sit behind a known bridge.
func Detect() ([]Device, error) {
	return detect(enumerator.GetDetailedPortsList)
}

func detect(list listFunc) ([]Device, error) {
	ports, err := list()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}

	var devices []Device
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		b, ok := MatchBridge(p.VID, p.PID)
		if !ok {
			continue
		}
		devices = append(devices, Device{
			Port:         p.Name,
			Bridge:       b,
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		})
	}
	return devices, nil
}

// USBOpener opens a real serial port. With an empty Port the first detected
// bridge is used.
type USBOpener struct {
	Port   string
	Logger *log.Logger

	list listFunc
	open func(name string, mode *serial.Mode) (serial.Port, error)
}

// NewUSBOpener creates an opener for port ("" means auto-detect)
func NewUSBOpener(port string, logger *log.Logger) *USBOpener {
	return &USBOpener{
		Port:   port,
		Logger: logger,
		list:   enumerator.GetDetailedPortsList,
		open:   serial.Open,
	}
}

// Open implements flasher.Opener
func (o *USBOpener) Open(ctx context.Context, mode flasher.Mode) (flasher.Port, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := o.Port
	if name == "" {
		devices, err := detect(o.list)
		if err != nil {
			return nil, err
		}
		if len(devices) == 0 {
			return nil, ErrNoDevice
		}
		name = devices[0].Port
		if o.Logger != nil {
			o.Logger.Printf("[Serial] Using %s (%s)", name, devices[0].Bridge.Name)
		}
	}

	sm, err := serialMode(mode)
	if err != nil {
		return nil, err
	}
	port, err := o.open(name, sm)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return port, nil
}

func serialMode(m flasher.Mode) (*serial.Mode, error) {
	sm := &serial.Mode{
		BaudRate: m.BaudRate,
		DataBits: m.DataBits,
		// keep EN and GPIO0 released while opening
		InitialStatusBits: &serial.ModemOutputBits{DTR: false, RTS: false},
	}

	switch m.Parity {
	case flasher.ParityNone, "":
		sm.Parity = serial.NoParity
	case flasher.ParityEven:
		sm.Parity = serial.EvenParity
	case flasher.ParityOdd:
		sm.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("unsupported parity %q", m.Parity)
	}

	switch m.StopBits {
	case 1, 0:
		sm.StopBits = serial.OneStopBit
	case 2:
		sm.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits %d", m.StopBits)
	}
	return sm, nil
}
