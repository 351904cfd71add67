//go:build linux

package serialport

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"aquaflash/internal/flasher"
)

// VirtualOpener hands out pseudo-terminal pairs. The driver writes to the
// master side; a drain goroutine plays the device and counts what arrives.
type VirtualOpener struct {
	Logger *log.Logger

	mu   sync.Mutex
	last *VirtualPort
}

// NewVirtualOpener creates a virtual opener
func NewVirtualOpener(logger *log.Logger) *VirtualOpener {
	return &VirtualOpener{Logger: logger}
}

// Last returns the most recently opened port
func (o *VirtualOpener) Last() *VirtualPort {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// Open implements flasher.Opener
func (o *VirtualOpener) Open(ctx context.Context, mode flasher.Mode) (flasher.Port, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	master, tty, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("open pty: %w", err)
	}
	if err := makeRaw(int(tty.Fd())); err != nil {
		master.Close()
		tty.Close()
		return nil, fmt.Errorf("set raw mode on %s: %w", tty.Name(), err)
	}

	p := &VirtualPort{master: master, tty: tty, logger: o.Logger, done: make(chan struct{})}
	go p.drain()

	if o.Logger != nil {
		o.Logger.Printf("[Serial] Virtual port %s at %s", tty.Name(), mode)
	}
	o.mu.Lock()
	o.last = p
	o.mu.Unlock()
	return p, nil
}

// VirtualPort is the master side of a pty pair.
type VirtualPort struct {
	master   *os.File
	tty      *os.File
	logger   *log.Logger
	written  atomic.Int64
	received atomic.Int64
	dtr, rts atomic.Bool
	done     chan struct{}
	once     sync.Once
}

// Name returns the device path of the slave side
func (p *VirtualPort) Name() string {
	return p.tty.Name()
}

// Received returns the number of bytes the device side has read
func (p *VirtualPort) Received() int64 {
	return p.received.Load()
}

// Signals returns the last DTR and RTS levels
func (p *VirtualPort) Signals() (dtr, rts bool) {
	return p.dtr.Load(), p.rts.Load()
}

func (p *VirtualPort) drain() {
	defer close(p.done)
	buf := make([]byte, 4096)
	for {
		n, err := p.tty.Read(buf)
		p.received.Add(int64(n))
		if err != nil {
			if err != io.EOF && p.logger != nil {
				p.logger.Printf("[Serial] Virtual device stopped: %v", err)
			}
			return
		}
	}
}

func (p *VirtualPort) Read(b []byte) (int, error) { return p.master.Read(b) }
func (p *VirtualPort) Write(b []byte) (int, error) {
	n, err := p.master.Write(b)
	p.written.Add(int64(n))
	return n, err
}

// SetDTR records the level; ptys have no modem lines.
func (p *VirtualPort) SetDTR(level bool) error {
	p.dtr.Store(level)
	return nil
}

// SetRTS records the level; ptys have no modem lines.
func (p *VirtualPort) SetRTS(level bool) error {
	p.rts.Store(level)
	return nil
}

// Close tears down both sides. Closing twice returns os.ErrClosed.
func (p *VirtualPort) Close() error {
	err := os.ErrClosed
	p.once.Do(func() {
		p.flush(2 * time.Second)
		err = p.master.Close()
		p.tty.Close()
		<-p.done
		if p.logger != nil {
			p.logger.Printf("[Serial] Virtual port %s closed after %d bytes", p.tty.Name(), p.Received())
		}
	})
	return err
}

// flush waits until the device side has read everything written, like tcdrain.
func (p *VirtualPort) flush(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for p.received.Load() < p.written.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
}

// makeRaw disables line discipline processing so bytes pass unchanged.
func makeRaw(fd int) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}
