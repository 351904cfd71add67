//go:build !linux

package serialport

import (
	"context"
	"errors"
	"log"

	"aquaflash/internal/flasher"
)

var errVirtualUnsupported = errors.New("virtual serial ports are only available on linux")

// VirtualOpener is unavailable on this platform
type VirtualOpener struct {
	Logger *log.Logger
}

// NewVirtualOpener creates a virtual opener
func NewVirtualOpener(logger *log.Logger) *VirtualOpener {
	return &VirtualOpener{Logger: logger}
}

// Open always fails on this platform
func (o *VirtualOpener) Open(ctx context.Context, mode flasher.Mode) (flasher.Port, error) {
	return nil, errVirtualUnsupported
}
