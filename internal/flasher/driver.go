package flasher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"sync"
	"time"

	"aquaflash/internal/events"
)

const (
	ChunkSize  = 4096
	ChunkDelay = 10 * time.Millisecond
)

// Handshake timings of the classic DTR/RTS auto-reset circuit.
const (
	bootAssertDelay  = 100 * time.Millisecond
	bootReleaseDelay = 50 * time.Millisecond
	bootSettleDelay  = 500 * time.Millisecond
	resetSettleDelay = 100 * time.Millisecond
	resetPulse       = 100 * time.Millisecond
)

// EventType distinguishes observer notifications
type EventType string

const (
	EventState    EventType = "state"
	EventProgress EventType = "progress"
)

// Event is delivered to observers after every transition and progress step.
type Event struct {
	Type     EventType `json:"type"`
	From     State     `json:"from,omitempty"`
	State    State     `json:"state"`
	Progress int       `json:"progress"`
	Message  string    `json:"message,omitempty"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}

// Observer receives driver events. It is called without driver locks held.
type Observer func(Event)

// Status is a snapshot of the driver
type Status struct {
	State      State  `json:"state"`
	Progress   int    `json:"progress"`
	Error      string `json:"error,omitempty"`
	Busy       bool   `json:"busy"`
	PortOpen   bool   `json:"portOpen"`
	BinarySize int    `json:"binarySize,omitempty"`
}

// Driver owns one serial port and walks it through connect, compile,
// bootloader handshake, chunked write and reset.
type Driver struct {
	mu         sync.RWMutex
	opener     Opener
	compiler   Compiler
	port       Port
	state      State
	busy       bool
	aborted    bool
	cancel     context.CancelFunc
	progress   int
	lastErr    string
	binarySize int
	observers  []Observer

	log    *events.Store
	logger *log.Logger
	sleep  Sleeper
	now    func() time.Time
}

// Option configures a Driver
type Option func(*Driver)

// WithSleeper replaces the real-time waits, for tests.
func WithSleeper(s Sleeper) Option {
	return func(d *Driver) { d.sleep = s }
}

// WithObserver registers an observer
func WithObserver(o Observer) Option {
	return func(d *Driver) { d.observers = append(d.observers, o) }
}

// WithLog sets the console log; by default a 500-line log is created.
func WithLog(s *events.Store) Option {
	return func(d *Driver) { d.log = s }
}

// WithLogger mirrors console lines to logger
func WithLogger(l *log.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// NewDriver creates a disconnected driver
func NewDriver(opener Opener, compiler Compiler, opts ...Option) *Driver {
	d := &Driver{
		opener:   opener,
		compiler: compiler,
		state:    StateDisconnected,
		sleep:    sleepContext,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = events.NewStore(500)
	}
	return d
}

// Subscribe adds an observer after construction
func (d *Driver) Subscribe(o Observer) {
	d.mu.Lock()
	d.observers = append(d.observers, o)
	d.mu.Unlock()
}

// Log returns the console log
func (d *Driver) Log() *events.Store {
	return d.log
}

// State returns the current state
func (d *Driver) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Progress returns the last reported flash progress in percent
func (d *Driver) Progress() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.progress
}

// LastError returns the message of the last failure
func (d *Driver) LastError() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastErr
}

// Status returns a consistent snapshot
func (d *Driver) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Status{
		State:      d.state,
		Progress:   d.progress,
		Error:      d.lastErr,
		Busy:       d.busy,
		PortOpen:   d.port != nil,
		BinarySize: d.binarySize,
	}
}

// Connect opens the serial port. Allowed from disconnected and error; a port
// still open after a compile error is closed first. Failures move the driver
// to error with the opener's message.
func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	if d.busy {
		d.mu.Unlock()
		return ErrBusy
	}
	if !CanTransition(d.state, StateConnecting) {
		from := d.state
		d.mu.Unlock()
		return fmt.Errorf("%w: connect from %s", ErrInvalidTransition, from)
	}
	ctx, cancel := context.WithCancel(ctx)
	stale := d.port
	d.port = nil
	d.busy = true
	d.aborted = false
	d.cancel = cancel
	d.lastErr = ""
	d.mu.Unlock()
	defer d.release()
	defer cancel()

	if stale != nil {
		stale.Close()
	}

	d.transition(StateConnecting, events.LevelInfo, fmt.Sprintf("Opening serial port at %s", DefaultMode))
	port, err := d.opener.Open(ctx, DefaultMode)
	if err != nil {
		if d.wasAborted() {
			err = ErrAborted
		}
		d.fail(err)
		return err
	}
	if d.wasAborted() {
		port.Close()
		d.fail(ErrAborted)
		return ErrAborted
	}

	d.mu.Lock()
	d.port = port
	d.mu.Unlock()
	d.transition(StateConnected, events.LevelInfo, "Connected")
	return nil
}

// Flash compiles req and writes the binary to the connected board.
// Only one flash runs at a time. Compile errors keep the port open; any
// port failure closes it so a reconnect is required.
func (d *Driver) Flash(ctx context.Context, req Request) error {
	d.mu.Lock()
	if d.busy {
		d.mu.Unlock()
		return ErrBusy
	}
	if d.state != StateConnected {
		from := d.state
		d.mu.Unlock()
		return fmt.Errorf("%w: flash from %s", ErrInvalidTransition, from)
	}
	if d.port == nil {
		d.mu.Unlock()
		return ErrNotConnected
	}
	ctx, cancel := context.WithCancel(ctx)
	port := d.port
	d.busy = true
	d.aborted = false
	d.cancel = cancel
	d.progress = 0
	d.lastErr = ""
	d.binarySize = 0
	d.mu.Unlock()
	defer d.release()
	defer cancel()

	d.transition(StateCompiling, events.LevelInfo, fmt.Sprintf("Compiling %s for %s", req.Filename, req.FQBN))
	bin, err := d.compiler.Compile(ctx, req)
	if err != nil {
		if d.wasAborted() {
			err = ErrAborted
		}
		d.fail(err)
		return err
	}
	d.mu.Lock()
	d.binarySize = len(bin)
	d.mu.Unlock()
	d.logf(events.LevelInfo, "Compiled firmware: %s (%d bytes)", FormatBytes(int64(len(bin))), len(bin))

	steps := []struct {
		state State
		msg   string
		run   func(context.Context, Port) error
	}{
		{StateErasing, "Entering bootloader", d.enterBootloader},
		{StateFlashing, fmt.Sprintf("Writing %d bytes in %d byte chunks", len(bin), ChunkSize), func(ctx context.Context, p Port) error {
			return d.writeChunks(ctx, p, bin)
		}},
		{StateVerifying, "Resetting device", d.resetDevice},
	}
	for _, step := range steps {
		d.transition(step.state, events.LevelInfo, step.msg)
		if err := step.run(ctx, port); err != nil {
			if d.wasAborted() {
				err = ErrAborted
			}
			d.closePort()
			d.fail(err)
			return err
		}
	}

	d.transition(StateSuccess, events.LevelInfo, "Flash complete")
	return nil
}

// enterBootloader pulls GPIO0 low while pulsing EN through the auto-reset
// transistors. Each step drives the lines in the listed order: GPIO0 (DTR)
// must be held low before EN (RTS) is released.
func (d *Driver) enterBootloader(ctx context.Context, p Port) error {
	steps := []struct {
		line  string
		set   func(bool) error
		level bool
		wait  time.Duration
	}{
		{"RTS", p.SetRTS, true, 0},
		{"DTR", p.SetDTR, false, bootAssertDelay},
		{"DTR", p.SetDTR, true, 0},
		{"RTS", p.SetRTS, false, bootReleaseDelay},
		{"DTR", p.SetDTR, false, bootSettleDelay},
	}
	for _, s := range steps {
		if err := s.set(s.level); err != nil {
			return fmt.Errorf("set %s: %w", s.line, err)
		}
		if s.wait == 0 {
			continue
		}
		if err := d.sleep(ctx, s.wait); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) writeChunks(ctx context.Context, p Port, bin []byte) error {
	total := len(bin)
	for offset := 0; offset < total; offset += ChunkSize {
		end := offset + ChunkSize
		if end > total {
			end = total
		}
		if _, err := p.Write(bin[offset:end]); err != nil {
			return fmt.Errorf("write at offset %d: %w", offset, err)
		}
		d.setProgress(int(math.Round(float64(end) * 100 / float64(total))))

		if end < total {
			if err := d.sleep(ctx, ChunkDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

// resetDevice lets the last bytes drain and pulses EN via RTS.
func (d *Driver) resetDevice(ctx context.Context, p Port) error {
	if err := d.sleep(ctx, resetSettleDelay); err != nil {
		return err
	}
	if err := p.SetRTS(true); err != nil {
		return fmt.Errorf("set RTS: %w", err)
	}
	if err := d.sleep(ctx, resetPulse); err != nil {
		return err
	}
	if err := p.SetRTS(false); err != nil {
		return fmt.Errorf("set RTS: %w", err)
	}
	return nil
}

// Retry returns from error to connected while the port is still open.
func (d *Driver) Retry() error {
	d.mu.RLock()
	state, open, busy := d.state, d.port != nil, d.busy
	d.mu.RUnlock()

	if busy {
		return ErrBusy
	}
	if state != StateError {
		return fmt.Errorf("%w: retry from %s", ErrInvalidTransition, state)
	}
	if !open {
		return ErrNotConnected
	}
	return d.transition(StateConnected, events.LevelInfo, "Ready to retry")
}

// FlashAgain returns from success to connected.
func (d *Driver) FlashAgain() error {
	d.mu.RLock()
	state, open := d.state, d.port != nil
	d.mu.RUnlock()

	if state != StateSuccess {
		return fmt.Errorf("%w: flash again from %s", ErrInvalidTransition, state)
	}
	if !open {
		return ErrNotConnected
	}
	return d.transition(StateConnected, events.LevelInfo, "Ready to flash again")
}

// Disconnect closes the port. A running operation is aborted by tearing
// the port down; disconnecting an already disconnected driver is a no-op.
func (d *Driver) Disconnect() error {
	d.mu.Lock()
	// a flash that already reached success only has bookkeeping left
	if d.busy && d.state != StateSuccess {
		d.aborted = true
		if d.cancel != nil {
			d.cancel()
		}
		port := d.port
		d.port = nil
		d.mu.Unlock()
		if port != nil {
			port.Close()
		}
		d.logf(events.LevelInfo, "Disconnect requested, aborting")
		return nil
	}
	if d.state == StateDisconnected {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	d.closePort()
	return d.transition(StateDisconnected, events.LevelInfo, "Disconnected")
}

func (d *Driver) transition(to State, level events.Level, msg string) error {
	d.mu.Lock()
	from := d.state
	if !CanTransition(from, to) {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	d.state = to
	if to == StateConnecting || to == StateConnected {
		d.lastErr = ""
	}
	ev := Event{
		Type:     EventState,
		From:     from,
		State:    to,
		Progress: d.progress,
		Message:  msg,
		Error:    d.lastErr,
		Time:     d.now(),
	}
	observers := append([]Observer(nil), d.observers...)
	d.mu.Unlock()

	d.logf(level, "%s -> %s: %s", from, to, msg)
	for _, o := range observers {
		o(ev)
	}
	return nil
}

func (d *Driver) setProgress(p int) {
	d.mu.Lock()
	d.progress = p
	ev := Event{Type: EventProgress, State: d.state, Progress: p, Time: d.now()}
	observers := append([]Observer(nil), d.observers...)
	d.mu.Unlock()

	for _, o := range observers {
		o(ev)
	}
}

// fail records err and moves to error. After an aborted operation the
// driver continues to disconnected.
func (d *Driver) fail(err error) {
	d.mu.Lock()
	d.lastErr = err.Error()
	aborted := d.aborted
	d.mu.Unlock()

	d.transition(StateError, events.LevelError, err.Error())
	if aborted {
		d.closePort()
		d.transition(StateDisconnected, events.LevelInfo, "Disconnected")
	}
}

func (d *Driver) closePort() {
	d.mu.Lock()
	port := d.port
	d.port = nil
	d.mu.Unlock()

	if port == nil {
		return
	}
	if err := port.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		d.logf(events.LevelInfo, "Closing port: %v", err)
	}
}

func (d *Driver) release() {
	d.mu.Lock()
	d.busy = false
	d.cancel = nil
	d.aborted = false
	d.mu.Unlock()
}

func (d *Driver) wasAborted() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.aborted
}

func (d *Driver) logf(level events.Level, format string, args ...any) {
	e := d.log.Add(level, fmt.Sprintf(format, args...))
	if d.logger != nil {
		d.logger.Printf("[Flasher] %s", e.Message)
	}
}
