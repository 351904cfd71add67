package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"aquaflash/internal/catalog"
	"aquaflash/internal/compiler"
	"aquaflash/internal/firmware"
	"aquaflash/internal/flasher"
	"aquaflash/internal/metrics"
	"aquaflash/internal/mqtt"
	"aquaflash/internal/registry"
	"aquaflash/internal/serialport"
)

type memPort struct {
	mu       sync.Mutex
	received []byte
}

func (p *memPort) Read(b []byte) (int, error) { return 0, io.EOF }
func (p *memPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.received = append(p.received, b...)
	p.mu.Unlock()
	return len(b), nil
}
func (p *memPort) Close() error      { return nil }
func (p *memPort) SetDTR(bool) error { return nil }
func (p *memPort) SetRTS(bool) error { return nil }

func (p *memPort) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.received)
}

type memOpener struct {
	port *memPort
	err  error
}

func (o *memOpener) Open(ctx context.Context, mode flasher.Mode) (flasher.Port, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.port, nil
}

type memCompiler struct {
	mu   sync.Mutex
	bin  []byte
	err  error
	last flasher.Request
}

func (c *memCompiler) Compile(ctx context.Context, req flasher.Request) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = req
	return c.bin, c.err
}

type testEnv struct {
	server   *Server
	port     *memPort
	opener   *memOpener
	compiler *memCompiler
	driver   *flasher.Driver
	registry *registry.BoltRegistry
	keys     *registry.KeyManager
	metrics  *metrics.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	keys := registry.NewKeyManager("test-secret")
	reg, err := registry.NewBoltRegistry(filepath.Join(t.TempDir(), "registry.db"), keys)
	if err != nil {
		t.Fatalf("NewBoltRegistry: %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	env := &testEnv{
		port:     &memPort{},
		compiler: &memCompiler{bin: bytes.Repeat([]byte{0xE9}, 10000)},
		registry: reg,
		keys:     keys,
		metrics:  metrics.New(),
	}
	env.opener = &memOpener{port: env.port}
	noSleep := func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	env.driver = flasher.NewDriver(env.opener, env.compiler,
		flasher.WithSleeper(noSleep),
		flasher.WithObserver(env.metrics.Observe))

	logger := log.New(io.Discard, "", 0)
	env.server = NewServer(Deps{
		Registry: reg,
		Driver:   env.driver,
		Metrics:  env.metrics,
		Monitor:  mqtt.NewMonitor(keys, logger, nil),
		Detect: func() ([]serialport.Device, error) {
			return []serialport.Device{{Port: "/dev/ttyUSB0", Bridge: serialport.KnownBridges[0]}}, nil
		},
		Logger: logger,
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func (e *testEnv) newSession(t *testing.T, boardID string) string {
	t.Helper()
	rec := e.do(t, "POST", "/api/sessions", CreateSessionRequest{BoardID: boardID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: %d %s", rec.Code, rec.Body)
	}
	var view sessionView
	decode(t, rec, &view)
	return view.ID
}

func TestCatalogEndpoints(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"boards", "/api/boards", http.StatusOK},
		{"board", "/api/boards/esp32-devkit-v1", http.StatusOK},
		{"unknown board", "/api/boards/uno", http.StatusNotFound},
		{"sensors", "/api/sensors", http.StatusOK},
		{"sensors by category", "/api/sensors?category=water-quality", http.StatusOK},
		{"sensor", "/api/sensors/ds18b20", http.StatusOK},
		{"unknown sensor", "/api/sensors/geiger", http.StatusNotFound},
		{"candidates", "/api/boards/esp32-devkit-v1/candidates?sensor=bme280&pin=SDA", http.StatusOK},
		{"candidates bad pin", "/api/boards/esp32-devkit-v1/candidates?sensor=bme280&pin=DATA", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, "GET", tt.path, nil)
			if rec.Code != tt.want {
				t.Errorf("GET %s = %d, want %d: %s", tt.path, rec.Code, tt.want, rec.Body)
			}
		})
	}

	var pins []struct{ ID string }
	decode(t, env.do(t, "GET", "/api/boards/esp32-devkit-v1/candidates?sensor=bme280&pin=SDA", nil), &pins)
	if len(pins) != 1 || pins[0].ID != "D21" {
		t.Errorf("SDA candidates = %+v", pins)
	}
}

func TestSessionPinAssignment(t *testing.T) {
	env := newTestEnv(t)
	id := env.newSession(t, "esp32-devkit-v1")
	base := "/api/sessions/" + id + "/pins/"

	tests := []struct {
		name string
		pin  string
		req  AssignRequest
		want int
	}{
		{"power pin", "VIN", AssignRequest{SensorID: "ds18b20", SensorPin: "DATA"}, http.StatusUnprocessableEntity},
		{"incompatible", "D34", AssignRequest{SensorID: "ds18b20", SensorPin: "DATA"}, http.StatusUnprocessableEntity},
		{"unknown pin", "D99", AssignRequest{SensorID: "ds18b20", SensorPin: "DATA"}, http.StatusNotFound},
		{"unknown sensor pin", "D4", AssignRequest{SensorID: "ds18b20", SensorPin: "SCL"}, http.StatusBadRequest},
		{"accepted", "D4", AssignRequest{SensorID: "ds18b20", SensorPin: "DATA"}, http.StatusOK},
		{"i2c sda", "D21", AssignRequest{SensorID: "bme280", SensorPin: "SDA"}, http.StatusOK},
		{"i2c scl", "D22", AssignRequest{SensorID: "bme280", SensorPin: "SCL"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, "PUT", base+tt.pin, tt.req)
			if rec.Code != tt.want {
				t.Errorf("PUT %s = %d, want %d: %s", tt.pin, rec.Code, tt.want, rec.Body)
			}
		})
	}

	var groups []struct {
		Sensor      struct{ SensorID string }
		Assignments []struct{ PinID string }
	}
	decode(t, env.do(t, "GET", "/api/sessions/"+id+"/pins", nil), &groups)
	if len(groups) != 2 || groups[0].Sensor.SensorID != "ds18b20" || len(groups[1].Assignments) != 2 {
		t.Errorf("groups = %+v", groups)
	}

	// strapping pins are accepted with a notice
	rec := env.do(t, "PUT", base+"D2", AssignRequest{SensorID: "dht22", SensorPin: "DATA"})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "strapping pin") {
		t.Errorf("D2 = %d %s", rec.Code, rec.Body)
	}

	if rec := env.do(t, "DELETE", base+"D2", nil); rec.Code != http.StatusNoContent {
		t.Errorf("unassign = %d", rec.Code)
	}
	if rec := env.do(t, "DELETE", "/api/sessions/"+id+"/pins", nil); rec.Code != http.StatusNoContent {
		t.Errorf("reset = %d", rec.Code)
	}
	decode(t, env.do(t, "GET", "/api/sessions/"+id+"/pins", nil), &groups)
	if len(groups) != 0 {
		t.Errorf("groups after reset = %+v", groups)
	}

	if rec := env.do(t, "DELETE", "/api/sessions/"+id, nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete session = %d", rec.Code)
	}
	if rec := env.do(t, "GET", "/api/sessions/"+id, nil); rec.Code != http.StatusNotFound {
		t.Errorf("deleted session = %d", rec.Code)
	}
}

func TestSessionStoreEvictsOldest(t *testing.T) {
	store := NewSessionStore(2)
	board, _ := catalog.LookupBoard("esp32-devkit-v1")

	first := store.Create(board)
	time.Sleep(time.Millisecond)
	store.Create(board)
	time.Sleep(time.Millisecond)
	store.Create(board)

	if store.Len() != 2 {
		t.Errorf("Len = %d, want 2", store.Len())
	}
	if _, ok := store.Get(first.ID); ok {
		t.Error("oldest session was not evicted")
	}
}

func TestGenerateFirmware(t *testing.T) {
	env := newTestEnv(t)
	id := env.newSession(t, "esp32-devkit-v1")
	env.do(t, "PUT", "/api/sessions/"+id+"/pins/D4", AssignRequest{SensorID: "ds18b20", SensorPin: "DATA"})

	dev := &registry.Device{DeviceName: "Tank", DeviceMAC: "AA:BB:CC:DD:EE:FF", DeviceType: registry.DeviceFish}
	if err := env.registry.Register(dev); err != nil {
		t.Fatalf("Register: %v", err)
	}

	req := FirmwareRequest{
		DeviceID:     dev.ID,
		DeviceName:   "Tank Monitor",
		WiFiSSID:     "greenhouse",
		WiFiPassword: "supersecret",
		ServerHost:   "10.0.0.2",
	}
	rec := env.do(t, "POST", "/api/sessions/"+id+"/firmware", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("generate = %d %s", rec.Code, rec.Body)
	}
	var fw firmware.Firmware
	decode(t, rec, &fw)
	if fw.Filename != "tank-monitor-esp32.ino" {
		t.Errorf("Filename = %q", fw.Filename)
	}
	if !strings.Contains(fw.Source, dev.APIKey) {
		t.Error("registered API key not embedded")
	}
	if len(fw.Warnings) != 0 {
		t.Errorf("warnings = %v", fw.Warnings)
	}

	// unknown devices fall back to placeholders
	req.DeviceID = "missing"
	decode(t, env.do(t, "POST", "/api/sessions/"+id+"/firmware", req), &fw)
	if !strings.Contains(fw.Source, firmware.PlaceholderAPIKey) {
		t.Error("placeholder API key not used")
	}
	if len(fw.Warnings) != 1 || !strings.Contains(fw.Warnings[0], "not registered") {
		t.Errorf("warnings = %v", fw.Warnings)
	}

	rec = env.do(t, "GET", "/api/sessions/"+id+"/firmware?format=ino", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Header().Get("Content-Disposition"), "tank-monitor-esp32.ino") {
		t.Errorf("download = %d %v", rec.Code, rec.Header())
	}
	rec = env.do(t, "GET", "/api/sessions/"+id+"/firmware?format=yaml", nil)
	if !strings.Contains(rec.Body.String(), "esp32:esp32:esp32doit-devkit-v1") {
		t.Errorf("project = %s", rec.Body)
	}
}

func TestGenerateRejectsUnknownFields(t *testing.T) {
	env := newTestEnv(t)
	id := env.newSession(t, "esp32-devkit-v1")

	req := httptest.NewRequest("POST", "/api/sessions/"+id+"/firmware", strings.NewReader(`{"wifi":"x"}`))
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("code = %d", rec.Code)
	}
}

func waitForState(t *testing.T, d *flasher.Driver, want flasher.State) flasher.Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st := d.Status()
		if st.State == want && !st.Busy {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("driver stuck in %s, want %s", d.State(), want)
	return flasher.Status{}
}

func TestFlashFlow(t *testing.T) {
	env := newTestEnv(t)
	id := env.newSession(t, "esp32-devkit-v1")
	env.do(t, "PUT", "/api/sessions/"+id+"/pins/D4", AssignRequest{SensorID: "ds18b20", SensorPin: "DATA"})

	// nothing generated yet
	if rec := env.do(t, "POST", "/api/flash/start", StartRequest{SessionID: id}); rec.Code != http.StatusConflict {
		t.Errorf("start without firmware = %d", rec.Code)
	}
	env.do(t, "POST", "/api/sessions/"+id+"/firmware", FirmwareRequest{DeviceName: "Tank", WiFiSSID: "net", WiFiPassword: "password1"})

	// not connected
	if rec := env.do(t, "POST", "/api/flash/start", StartRequest{SessionID: id}); rec.Code != http.StatusConflict {
		t.Errorf("start while disconnected = %d", rec.Code)
	}

	if rec := env.do(t, "POST", "/api/flash/connect", nil); rec.Code != http.StatusOK {
		t.Fatalf("connect = %d %s", rec.Code, rec.Body)
	}
	if rec := env.do(t, "POST", "/api/flash/start", StartRequest{SessionID: id}); rec.Code != http.StatusAccepted {
		t.Fatalf("start = %d %s", rec.Code, rec.Body)
	}

	st := waitForState(t, env.driver, flasher.StateSuccess)
	if st.Progress != 100 || st.BinarySize != 10000 {
		t.Errorf("status = %+v", st)
	}
	if env.port.size() != 10000 {
		t.Errorf("port received %d bytes", env.port.size())
	}
	env.compiler.mu.Lock()
	if env.compiler.last.FQBN != "esp32:esp32:esp32doit-devkit-v1" || env.compiler.last.Filename != "tank-esp32.ino" {
		t.Errorf("compile request = %+v", env.compiler.last)
	}
	env.compiler.mu.Unlock()

	// retry is only valid from error
	if rec := env.do(t, "POST", "/api/flash/retry", nil); rec.Code != http.StatusConflict {
		t.Errorf("retry from success = %d", rec.Code)
	}
	if rec := env.do(t, "POST", "/api/flash/again", nil); rec.Code != http.StatusOK {
		t.Errorf("again = %d %s", rec.Code, rec.Body)
	}
	if rec := env.do(t, "POST", "/api/flash/disconnect", nil); rec.Code != http.StatusOK {
		t.Errorf("disconnect = %d", rec.Code)
	}

	var logResp struct {
		Events []struct{ Message string }
		LastID int64
	}
	decode(t, env.do(t, "GET", "/api/flash/log?since=0", nil), &logResp)
	if len(logResp.Events) == 0 || logResp.LastID == 0 {
		t.Errorf("log = %+v", logResp)
	}
	if rec := env.do(t, "GET", "/api/flash/log?since=abc", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad since = %d", rec.Code)
	}
}

func TestFlashCompileErrorThenRetry(t *testing.T) {
	env := newTestEnv(t)
	env.compiler.err = &compiler.RejectedError{Message: "sketch.ino:10: 'foo' was not declared"}
	id := env.newSession(t, "esp32-devkit-v1")
	env.do(t, "POST", "/api/sessions/"+id+"/firmware", FirmwareRequest{DeviceName: "Tank"})
	env.do(t, "POST", "/api/flash/connect", nil)
	env.do(t, "POST", "/api/flash/start", StartRequest{SessionID: id})

	st := waitForState(t, env.driver, flasher.StateError)
	if st.Error != "sketch.ino:10: 'foo' was not declared" || !st.PortOpen {
		t.Errorf("status = %+v", st)
	}

	if rec := env.do(t, "POST", "/api/flash/retry", nil); rec.Code != http.StatusOK {
		t.Errorf("retry = %d %s", rec.Code, rec.Body)
	}
}

func TestFlashConnectFailure(t *testing.T) {
	env := newTestEnv(t)
	env.opener.err = errors.New("permission denied")

	rec := env.do(t, "POST", "/api/flash/connect", nil)
	if rec.Code != http.StatusBadGateway || !strings.Contains(rec.Body.String(), "permission denied") {
		t.Errorf("connect = %d %s", rec.Code, rec.Body)
	}
	if env.driver.State() != flasher.StateError {
		t.Errorf("state = %s", env.driver.State())
	}
}

func TestSessionRejectsUnsupportedBoard(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/sessions", CreateSessionRequest{BoardID: "esp32-s3-devkitc-1"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("create = %d %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), "not supported") {
		t.Errorf("body = %s", rec.Body)
	}
	if env.server.Sessions().Len() != 0 {
		t.Errorf("%d sessions stored", env.server.Sessions().Len())
	}

	// still browsable
	if rec := env.do(t, "GET", "/api/boards/esp32-s3-devkitc-1", nil); rec.Code != http.StatusOK {
		t.Errorf("get board = %d", rec.Code)
	}
}

func TestConsoleStreamsLog(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, "POST", "/api/flash/connect", nil)

	srv := httptest.NewServer(env.server.Router())
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/flash/console", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg consoleMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if msg.Type != "log" || len(msg.Entries) == 0 {
		t.Fatalf("first message = %+v", msg)
	}

	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if msg.Type != "status" || msg.Status == nil || msg.Status.State != flasher.StateConnected {
		t.Errorf("second message = %+v", msg)
	}
}

func TestConsoleRejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.server.Router())
	defer srv.Close()

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/flash/console", header)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v", resp)
	}
}

func TestDevicesAndTelemetry(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/devices", RegisterRequest{DeviceName: "Bed 1", DeviceMAC: "11-22-33-44-55-66", DeviceType: registry.DevicePlant})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register = %d %s", rec.Code, rec.Body)
	}
	var dev registry.Device
	decode(t, rec, &dev)

	if rec := env.do(t, "POST", "/api/devices", RegisterRequest{DeviceName: "Bed 2", DeviceMAC: "11:22:33:44:55:66", DeviceType: registry.DevicePlant}); rec.Code != http.StatusBadRequest {
		t.Errorf("duplicate mac = %d", rec.Code)
	}
	if rec := env.do(t, "POST", "/api/devices", RegisterRequest{DeviceName: "x", DeviceMAC: "1", DeviceType: "plant", Sensors: []string{"geiger"}}); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown sensor = %d", rec.Code)
	}

	payload := firmware.TelemetryPayload{
		APIKey:      dev.APIKey,
		DeviceMAC:   dev.DeviceMAC,
		ReadingType: "plant",
		Readings:    []firmware.Reading{{Type: "humidity", Value: 61.5, Unit: "%", Timestamp: 1}},
		Timestamp:   1,
	}
	if rec := env.do(t, "POST", "/api/telemetry", payload); rec.Code != http.StatusOK {
		t.Fatalf("telemetry = %d %s", rec.Code, rec.Body)
	}
	payload.APIKey = "forged"
	if rec := env.do(t, "POST", "/api/telemetry", payload); rec.Code != http.StatusUnauthorized {
		t.Errorf("forged key = %d", rec.Code)
	}

	var view struct {
		ID       string
		LastSeen *mqtt.Contact
	}
	decode(t, env.do(t, "GET", "/api/devices/"+dev.ID, nil), &view)
	if view.LastSeen == nil || view.LastSeen.Readings != 1 {
		t.Errorf("device view = %+v", view)
	}

	var list []json.RawMessage
	decode(t, env.do(t, "GET", "/api/devices", nil), &list)
	if len(list) != 1 {
		t.Errorf("list = %d devices", len(list))
	}

	if rec := env.do(t, "DELETE", "/api/devices/"+dev.ID, nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete = %d", rec.Code)
	}
	if rec := env.do(t, "GET", "/api/devices/"+dev.ID, nil); rec.Code != http.StatusNotFound {
		t.Errorf("deleted device = %d", rec.Code)
	}
}

func TestSerialPortsAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	var ports []serialport.Device
	decode(t, env.do(t, "GET", "/api/serial/ports", nil), &ports)
	if len(ports) != 1 || ports[0].Port != "/dev/ttyUSB0" {
		t.Errorf("ports = %+v", ports)
	}

	id := env.newSession(t, "esp32-devkit-v1")
	env.do(t, "POST", "/api/sessions/"+id+"/firmware", FirmwareRequest{DeviceName: "Tank"})

	rec := env.do(t, "GET", "/metrics", nil)
	if !strings.Contains(rec.Body.String(), `aquaflash_firmware_generated_total{board="esp32-devkit-v1"} 1`) {
		t.Errorf("metrics missing generate counter")
	}
}
