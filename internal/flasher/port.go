package flasher

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Parity of a serial line
type Parity string

const (
	ParityNone Parity = "N"
	ParityEven Parity = "E"
	ParityOdd  Parity = "O"
)

// Mode is a serial line configuration
type Mode struct {
	BaudRate int
	DataBits int
	Parity   Parity
	StopBits int
}

// DefaultMode is 115200 8-N-1, what the ESP32 ROM bootloader and sketches use.
var DefaultMode = Mode{BaudRate: 115200, DataBits: 8, Parity: ParityNone, StopBits: 1}

func (m Mode) String() string {
	return fmt.Sprintf("%d %d%s%d", m.BaudRate, m.DataBits, m.Parity, m.StopBits)
}

// Port is an open serial connection with modem control lines.
type Port interface {
	io.ReadWriteCloser
	SetDTR(level bool) error
	SetRTS(level bool) error
}

// Opener opens the serial port the driver talks to.
type Opener interface {
	Open(ctx context.Context, mode Mode) (Port, error)
}

// Request is a compile job.
type Request struct {
	Sketch    string   `json:"sketch"`
	Filename  string   `json:"filename"`
	FQBN      string   `json:"fqbn"`
	Libraries []string `json:"libraries"`
}

// Compiler turns a sketch into a flashable binary.
type Compiler interface {
	Compile(ctx context.Context, req Request) ([]byte, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FormatBytes formats bytes as a human-readable string
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
