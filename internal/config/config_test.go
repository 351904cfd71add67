package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadCreatesFileWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr() != DefaultAddr || cfg.DBPath() != DefaultDBPath || cfg.MQTTPrefix() != DefaultMQTTPrefix {
		t.Errorf("defaults not applied: %s", cfg)
	}
	if len(cfg.APIKeySecret()) != 64 {
		t.Errorf("generated secret length = %d, want 64", len(cfg.APIKeySecret()))
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("file mode = %v, want 0600", info.Mode().Perm())
	}

	// the secret must be stable across loads
	again, err := Load(path)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if again.APIKeySecret() != cfg.APIKeySecret() {
		t.Error("API key secret changed between loads")
	}
}

func TestLoadReadsValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := `# local overrides
AQUAFLASH_ADDR=127.0.0.1:9000
export AQUAFLASH_API_KEY_SECRET="s3cret"
AQUAFLASH_SERIAL_VIRTUAL=yes
AQUAFLASH_MQTT_BROKER=tcp://broker:1883
AQUAFLASH_CONSOLE_LINES=50
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:9000" {
		t.Errorf("Addr = %q", cfg.Addr())
	}
	if cfg.APIKeySecret() != "s3cret" {
		t.Errorf("APIKeySecret = %q", cfg.APIKeySecret())
	}
	if !cfg.SerialVirtual() || cfg.SerialPort() != "" {
		t.Errorf("serial = %q virtual=%v", cfg.SerialPort(), cfg.SerialVirtual())
	}
	if cfg.MQTTBroker() != "tcp://broker:1883" || cfg.ConsoleLines() != 50 {
		t.Errorf("mqtt = %q lines = %d", cfg.MQTTBroker(), cfg.ConsoleLines())
	}
	if strings.Contains(cfg.String(), "s3cret") {
		t.Error("String() leaks the secret")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad port", "AQUAFLASH_ADDR=:99999\n"},
		{"bad address", "AQUAFLASH_ADDR=localhost\n"},
		{"bad compiler url", "AQUAFLASH_COMPILER_URL=ftp://x\n"},
		{"zero console lines", "AQUAFLASH_CONSOLE_LINES=0\n"},
		{"port and virtual", "AQUAFLASH_SERIAL_PORT=/dev/ttyUSB0\nAQUAFLASH_SERIAL_VIRTUAL=true\n"},
		{"broker without scheme", "AQUAFLASH_MQTT_BROKER=broker:1883\n"},
		{"missing equals", "AQUAFLASH_ADDR\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), ".env")
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSetSerialPortKeepsOldValueOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("AQUAFLASH_SERIAL_VIRTUAL=true\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := cfg.SetSerialPort("/dev/ttyUSB0"); err == nil {
		t.Fatal("expected conflict with virtual serial")
	}
	if cfg.SerialPort() != "" {
		t.Errorf("SerialPort = %q after rejected set", cfg.SerialPort())
	}
}

func TestReloadPicksUpChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	secret := cfg.APIKeySecret()

	if err := os.WriteFile(path, []byte("AQUAFLASH_DB_PATH=/tmp/other.db\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if cfg.DBPath() != "/tmp/other.db" {
		t.Errorf("DBPath = %q", cfg.DBPath())
	}
	if cfg.APIKeySecret() != secret {
		t.Error("Reload dropped the secret missing from the file")
	}
}

func TestEnvFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	in := map[string]string{"A": "plain", "B": "with space", "C": ""}
	if err := WriteEnvFile(path, in); err != nil {
		t.Fatalf("WriteEnvFile: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	out, err := ParseEnvFile(f)
	if err != nil {
		t.Fatalf("ParseEnvFile: %v", err)
	}
	for k, v := range in {
		if out[k] != v {
			t.Errorf("%s = %q, want %q", k, out[k], v)
		}
	}
}
