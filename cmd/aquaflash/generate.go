package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"aquaflash/internal/catalog"
	"aquaflash/internal/config"
	"aquaflash/internal/firmware"
	"aquaflash/internal/pinmap"
	"aquaflash/internal/registry"
)

// sketchOptions are the flags shared by generate and flash
type sketchOptions struct {
	board     string
	pins      []string
	name      string
	category  string
	deviceID  string
	ssid      string
	password  string
	host      string
	port      int
	transport string
	interval  int
	ota       bool
	deepSleep int
}

func (o *sketchOptions) addFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&o.board, "board", "b", "esp32-devkit-v1", "board id")
	f.StringArrayVarP(&o.pins, "pin", "p", nil, "pin assignment PIN=SENSOR[#N]:SENSORPIN, e.g. D4=ds18b20:DATA (repeatable)")
	f.StringVarP(&o.name, "name", "n", "", "device name")
	f.StringVar(&o.category, "category", "", "fish, plant or general")
	f.StringVar(&o.deviceID, "device-id", "", "registered device id to embed credentials for")
	f.StringVar(&o.ssid, "ssid", "", "WiFi SSID")
	f.StringVar(&o.password, "password", "", "WiFi password")
	f.StringVar(&o.host, "host", "", "telemetry server host")
	f.IntVar(&o.port, "port", 0, "telemetry server port (default 80 for http, 1883 for mqtt)")
	f.StringVar(&o.transport, "transport", "http", "http or mqtt")
	f.IntVar(&o.interval, "interval", 0, "sensor interval in milliseconds")
	f.BoolVar(&o.ota, "ota", false, "enable over-the-air updates")
	f.IntVar(&o.deepSleep, "deep-sleep", -1, "deep sleep between readings, in seconds (0 uses the default)")
}

// pinSpec is one parsed --pin value
type pinSpec struct {
	pinID     string
	ref       pinmap.SensorRef
	sensorPin string
}

// parsePinSpec parses "D4=ds18b20:DATA" or "D5=ds18b20#2:DATA"
func parsePinSpec(s string) (pinSpec, error) {
	pinID, rest, ok := strings.Cut(s, "=")
	if !ok || pinID == "" {
		return pinSpec{}, fmt.Errorf("invalid pin %q: want PIN=SENSOR:SENSORPIN", s)
	}
	sensor, sensorPin, ok := strings.Cut(rest, ":")
	if !ok || sensor == "" || sensorPin == "" {
		return pinSpec{}, fmt.Errorf("invalid pin %q: want PIN=SENSOR:SENSORPIN", s)
	}

	ref := pinmap.SensorRef{SensorID: sensor}
	if id, n, ok := strings.Cut(sensor, "#"); ok {
		instance, err := strconv.Atoi(n)
		if err != nil || instance < 1 {
			return pinSpec{}, fmt.Errorf("invalid instance in %q", s)
		}
		ref = pinmap.SensorRef{SensorID: id, Instance: instance}
	}
	return pinSpec{pinID: strings.ToUpper(pinID), ref: ref, sensorPin: strings.ToUpper(sensorPin)}, nil
}

// build binds the pins and returns the generator config. Strapping pin
// notices are written to notices.
func (o *sketchOptions) build(configPath string, notices io.Writer) (firmware.Config, error) {
	board, ok := catalog.LookupBoard(o.board)
	if !ok {
		return firmware.Config{}, fmt.Errorf("unknown board %q", o.board)
	}
	if !board.Supported {
		return firmware.Config{}, fmt.Errorf("%s is not supported yet", board.Name)
	}

	store := pinmap.NewStore()
	for _, raw := range o.pins {
		spec, err := parsePinSpec(raw)
		if err != nil {
			return firmware.Config{}, err
		}
		v, err := pinmap.Bind(store, board, spec.pinID, spec.ref, spec.sensorPin)
		if err != nil {
			return firmware.Config{}, err
		}
		if v.Notice != "" {
			fmt.Fprintf(notices, "note: %s\n", v.Notice)
		}
	}

	creds, err := lookupDevice(configPath, o.deviceID)
	if err != nil {
		return firmware.Config{}, err
	}

	cfg := firmware.Config{
		Board:          board,
		Assignments:    store.All(),
		DeviceName:     o.name,
		Category:       firmware.Category(o.category),
		Credentials:    creds,
		WiFiSSID:       o.ssid,
		WiFiPassword:   o.password,
		ServerHost:     o.host,
		ServerPort:     o.port,
		Transport:      firmware.Transport(o.transport),
		SensorInterval: o.interval,
		OTA:            o.ota,
	}
	if o.deepSleep >= 0 {
		cfg.DeepSleep = true
		cfg.DeepSleepSeconds = o.deepSleep
	}
	if cfg.DeviceName == "" && creds != nil {
		cfg.DeviceName = creds.DeviceName
	}
	return cfg, nil
}

// lookupDevice reads credentials from the registry named by the config file
func lookupDevice(configPath, id string) (*registry.Device, error) {
	if id == "" {
		return nil, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	reg, err := registry.NewBoltRegistry(cfg.DBPath(), registry.NewKeyManager(cfg.APIKeySecret()))
	if err != nil {
		return nil, err
	}
	defer reg.Close()

	d, err := reg.Device(id)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, nil
	}
	return d, err
}

func newGenerateCmd() *cobra.Command {
	var (
		opts   sketchOptions
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate an Arduino sketch and sketch.yaml",
		Example: `  aquaflash generate -n "Tank 1" -p D4=ds18b20:DATA -p D21=bme280:SDA -p D22=bme280:SCL \
    --ssid greenhouse --password secret123 --host 192.168.1.10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := opts.build(configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			fw := firmware.Generate(cfg)
			printWarnings(cmd.ErrOrStderr(), fw.Warnings)

			if outDir == "-" {
				_, err := io.WriteString(cmd.OutOrStdout(), fw.Source)
				return err
			}
			return writeSketch(cmd.OutOrStdout(), outDir, fw)
		},
	}
	opts.addFlags(cmd)
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", `output directory ("-" prints the sketch)`)
	return cmd
}

// writeSketch lays the sketch out the way arduino-cli expects:
// <dir>/<name>/<name>.ino next to sketch.yaml
func writeSketch(w io.Writer, outDir string, fw *firmware.Firmware) error {
	name := strings.TrimSuffix(fw.Filename, ".ino")
	dir := filepath.Join(outDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	files := map[string]string{fw.Filename: fw.Source}
	if fw.Project != "" {
		files["sketch.yaml"] = fw.Project
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		fmt.Fprintf(w, "wrote %s\n", path)
	}
	return nil
}

func printWarnings(w io.Writer, warnings []string) {
	for _, warning := range warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
}
