package flasher

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
)

// recorder collects port signal changes, writes and sleeps in call order.
type recorder struct {
	mu  sync.Mutex
	ops []string
}

func (r *recorder) add(op string) {
	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

func (r *recorder) sleeper(ctx context.Context, d time.Duration) error {
	r.add("sleep " + d.String())
	return ctx.Err()
}

type fakePort struct {
	rec      *recorder
	failAt   int // 1-based write call that fails; 0 never
	writes   int
	closed   int
	received []byte
}

func (p *fakePort) Read(b []byte) (int, error) { return 0, nil }

func (p *fakePort) Write(b []byte) (int, error) {
	p.writes++
	if p.failAt > 0 && p.writes == p.failAt {
		return 0, errors.New("input/output error")
	}
	p.rec.add(fmt.Sprintf("write %d", len(b)))
	p.received = append(p.received, b...)
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.closed++
	return nil
}

func (p *fakePort) SetDTR(v bool) error {
	p.rec.add(fmt.Sprintf("DTR=%d", b2i(v)))
	return nil
}

func (p *fakePort) SetRTS(v bool) error {
	p.rec.add(fmt.Sprintf("RTS=%d", b2i(v)))
	return nil
}

func b2i(v bool) int {
	if v {
		return 1
	}
	return 0
}

type fakeOpener struct {
	port *fakePort
	err  error
	mode Mode
}

func (o *fakeOpener) Open(ctx context.Context, mode Mode) (Port, error) {
	o.mode = mode
	if o.err != nil {
		return nil, o.err
	}
	return o.port, nil
}

type fakeCompiler struct {
	bin   []byte
	err   error
	calls int
	block chan struct{}
}

func (c *fakeCompiler) Compile(ctx context.Context, req Request) ([]byte, error) {
	c.calls++
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return c.bin, c.err
}

type harness struct {
	rec      *recorder
	port     *fakePort
	opener   *fakeOpener
	compiler *fakeCompiler
	driver   *Driver

	mu       sync.Mutex
	states   []State
	progress []int
}

func newHarness(binSize int) *harness {
	h := &harness{rec: &recorder{}}
	h.port = &fakePort{rec: h.rec}
	h.opener = &fakeOpener{port: h.port}
	h.compiler = &fakeCompiler{bin: make([]byte, binSize)}
	h.driver = NewDriver(h.opener, h.compiler,
		WithSleeper(h.rec.sleeper),
		WithObserver(func(e Event) {
			h.mu.Lock()
			defer h.mu.Unlock()
			switch e.Type {
			case EventState:
				h.states = append(h.states, e.State)
			case EventProgress:
				h.progress = append(h.progress, e.Progress)
			}
		}),
	)
	return h
}

func (h *harness) seenStates() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]State(nil), h.states...)
}

var testRequest = Request{Sketch: "void setup(){}", Filename: "tank-esp32.ino", FQBN: "esp32:esp32:esp32doit-devkit-v1"}

func TestFlashProgressSequence(t *testing.T) {
	h := newHarness(10000)
	ctx := context.Background()

	if err := h.driver.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if h.opener.mode != DefaultMode || DefaultMode.String() != "115200 8N1" {
		t.Errorf("opened with %v", h.opener.mode)
	}
	if err := h.driver.Flash(ctx, testRequest); err != nil {
		t.Fatalf("Flash: %v", err)
	}

	if want := []int{41, 82, 100}; !reflect.DeepEqual(h.progress, want) {
		t.Errorf("progress = %v; want %v", h.progress, want)
	}
	if len(h.port.received) != 10000 {
		t.Errorf("device received %d bytes", len(h.port.received))
	}
	want := []State{StateConnecting, StateConnected, StateCompiling, StateErasing, StateFlashing, StateVerifying, StateSuccess}
	if got := h.seenStates(); !reflect.DeepEqual(got, want) {
		t.Errorf("states = %v\nwant %v", got, want)
	}
	if st := h.driver.Status(); st.State != StateSuccess || st.BinarySize != 10000 || st.Busy {
		t.Errorf("status = %+v", st)
	}
}

func TestFlashSignalSequence(t *testing.T) {
	h := newHarness(10000)
	ctx := context.Background()
	h.driver.Connect(ctx)
	if err := h.driver.Flash(ctx, testRequest); err != nil {
		t.Fatalf("Flash: %v", err)
	}

	want := []string{
		// bootloader handshake
		"RTS=1", "DTR=0", "sleep 100ms",
		"DTR=1", "RTS=0", "sleep 50ms",
		"DTR=0", "sleep 500ms",
		// chunks in offset order
		"write 4096", "sleep 10ms",
		"write 4096", "sleep 10ms",
		"write 1808",
		// reset
		"sleep 100ms", "RTS=1", "sleep 100ms", "RTS=0",
	}
	if got := h.rec.list(); !reflect.DeepEqual(got, want) {
		t.Errorf("ops = %v\nwant %v", got, want)
	}
}

func TestConnectFailure(t *testing.T) {
	h := newHarness(0)
	h.opener.err = errors.New("open /dev/ttyUSB0: permission denied")

	err := h.driver.Connect(context.Background())
	if err == nil {
		t.Fatal("expected connect error")
	}
	if got := h.seenStates(); !reflect.DeepEqual(got, []State{StateConnecting, StateError}) {
		t.Errorf("states = %v", got)
	}
	if h.driver.LastError() != "open /dev/ttyUSB0: permission denied" {
		t.Errorf("last error = %q", h.driver.LastError())
	}
	if err := h.driver.Retry(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Retry without port: %v", err)
	}

	h.opener.err = nil
	if err := h.driver.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if h.driver.State() != StateConnected {
		t.Errorf("state = %s", h.driver.State())
	}
}

func TestFlashRequiresConnection(t *testing.T) {
	h := newHarness(100)
	err := h.driver.Flash(context.Background(), testRequest)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Flash while disconnected: %v", err)
	}
	if h.compiler.calls != 0 || len(h.seenStates()) != 0 {
		t.Error("nothing may happen before connecting")
	}
	for _, s := range []State{StateCompiling, StateErasing, StateFlashing, StateVerifying, StateSuccess} {
		if CanTransition(StateDisconnected, s) {
			t.Errorf("disconnected -> %s must be unreachable", s)
		}
	}
	if CanTransition(StateConnected, StateFlashing) || CanTransition(StateCompiling, StateFlashing) {
		t.Error("flashing is only reachable through erasing")
	}
}

func TestCompileErrorKeepsPortOpen(t *testing.T) {
	h := newHarness(5000)
	h.compiler.err = errors.New("tank.ino:12: 'foo' was not declared in this scope")
	ctx := context.Background()
	h.driver.Connect(ctx)

	err := h.driver.Flash(ctx, testRequest)
	if err == nil {
		t.Fatal("expected compile error")
	}
	st := h.driver.Status()
	if st.State != StateError || !st.PortOpen || h.port.closed != 0 {
		t.Errorf("status after compile error = %+v, closed %d", st, h.port.closed)
	}
	if st.Error != "tank.ino:12: 'foo' was not declared in this scope" {
		t.Errorf("error = %q", st.Error)
	}

	if err := h.driver.Retry(); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	h.compiler.err = nil
	if err := h.driver.Flash(ctx, testRequest); err != nil {
		t.Fatalf("Flash after retry: %v", err)
	}
	if err := h.driver.FlashAgain(); err != nil {
		t.Fatalf("FlashAgain: %v", err)
	}
	if h.driver.State() != StateConnected {
		t.Errorf("state = %s", h.driver.State())
	}
}

func TestWriteErrorClosesPort(t *testing.T) {
	h := newHarness(10000)
	h.port.failAt = 2
	ctx := context.Background()
	h.driver.Connect(ctx)

	if err := h.driver.Flash(ctx, testRequest); err == nil {
		t.Fatal("expected write error")
	}
	st := h.driver.Status()
	if st.State != StateError || st.PortOpen || h.port.closed != 1 {
		t.Errorf("status = %+v, closed %d", st, h.port.closed)
	}
	if !strings.Contains(st.Error, "input/output error") {
		t.Errorf("error = %q", st.Error)
	}
	if err := h.driver.Retry(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Retry after transport error: %v", err)
	}
	if p := h.driver.Progress(); p != 41 {
		t.Errorf("progress = %d, want 41", p)
	}
}

func TestSingleFlashAtATime(t *testing.T) {
	h := newHarness(100)
	h.compiler.block = make(chan struct{})
	ctx := context.Background()
	h.driver.Connect(ctx)

	done := make(chan error, 1)
	go func() { done <- h.driver.Flash(ctx, testRequest) }()

	deadline := time.Now().Add(2 * time.Second)
	for h.driver.State() != StateCompiling && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := h.driver.Flash(ctx, testRequest); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent Flash: %v", err)
	}
	if err := h.driver.Connect(ctx); !errors.Is(err, ErrBusy) {
		t.Errorf("Connect during flash: %v", err)
	}

	if err := h.driver.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := <-done; !errors.Is(err, ErrAborted) {
		t.Errorf("aborted flash returned %v", err)
	}
	if h.driver.State() != StateDisconnected {
		t.Errorf("state after abort = %s", h.driver.State())
	}
	if h.port.closed != 1 {
		t.Errorf("port closed %d times", h.port.closed)
	}
}

func TestDisconnectRightAfterSuccess(t *testing.T) {
	h := newHarness(100)
	ctx := context.Background()
	h.driver.Connect(ctx)

	var disconnectErr error
	h.driver.Subscribe(func(e Event) {
		if e.Type == EventState && e.State == StateSuccess {
			disconnectErr = h.driver.Disconnect()
		}
	})

	if err := h.driver.Flash(ctx, testRequest); err != nil {
		t.Fatalf("Flash: %v", err)
	}
	if disconnectErr != nil {
		t.Fatalf("Disconnect: %v", disconnectErr)
	}
	st := h.driver.Status()
	if st.State != StateDisconnected || st.PortOpen || st.Busy {
		t.Errorf("status = %+v", st)
	}
	if h.port.closed != 1 {
		t.Errorf("port closed %d times", h.port.closed)
	}
}

func TestDisconnectTwice(t *testing.T) {
	h := newHarness(0)
	h.driver.Connect(context.Background())

	if err := h.driver.Disconnect(); err != nil {
		t.Fatalf("first Disconnect: %v", err)
	}
	if err := h.driver.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	if h.port.closed != 1 {
		t.Errorf("port closed %d times", h.port.closed)
	}
}

func TestEveryTransitionIsLogged(t *testing.T) {
	h := newHarness(4096)
	ctx := context.Background()
	h.driver.Connect(ctx)
	h.driver.Flash(ctx, testRequest)

	var transitions int
	for _, e := range h.driver.Log().GetAll() {
		if strings.Contains(e.Message, " -> ") {
			transitions++
		}
		if e.Timestamp.IsZero() {
			t.Errorf("entry %d has no timestamp", e.ID)
		}
	}
	if transitions != len(h.seenStates()) {
		t.Errorf("logged %d transitions, observed %d", transitions, len(h.seenStates()))
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{10000, "9.8 KB"},
		{1 << 20, "1.0 MB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q; want %q", tt.in, got, tt.want)
		}
	}
}
