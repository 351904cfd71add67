// Package config loads the service configuration from a .env file.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"

	"aquaflash/internal/registry"
)

// Environment variable names
const (
	EnvAddr           = "AQUAFLASH_ADDR"
	EnvDBPath         = "AQUAFLASH_DB_PATH"
	EnvAPIKeySecret   = "AQUAFLASH_API_KEY_SECRET"
	EnvConsoleLines   = "AQUAFLASH_CONSOLE_LINES"
	EnvCompilerURL    = "AQUAFLASH_COMPILER_URL"
	EnvCompilerPubKey = "AQUAFLASH_COMPILER_PUBKEY"
	EnvSerialPort     = "AQUAFLASH_SERIAL_PORT"
	EnvSerialVirtual  = "AQUAFLASH_SERIAL_VIRTUAL"
	// MQTT settings
	EnvMQTTBroker    = "AQUAFLASH_MQTT_BROKER"
	EnvMQTTClientID  = "AQUAFLASH_MQTT_CLIENT_ID"
	EnvMQTTUsername  = "AQUAFLASH_MQTT_USERNAME"
	EnvMQTTPassword  = "AQUAFLASH_MQTT_PASSWORD"
	EnvMQTTPrefix    = "AQUAFLASH_MQTT_PREFIX"
	EnvMQTTUseTLS    = "AQUAFLASH_MQTT_USE_TLS"
	EnvMQTTDiscovery = "AQUAFLASH_MQTT_DISCOVERY"
)

// Default values
const (
	DefaultAddr           = ":8080"
	DefaultDBPath         = "aquaflash.db"
	DefaultConsoleLines   = 500
	DefaultCompilerURL    = "http://localhost:8081/compile"
	DefaultCompilerPubKey = ""
	DefaultSerialPort     = "" // auto-detect
	DefaultSerialVirtual  = false
	// MQTT defaults
	DefaultMQTTBroker    = ""
	DefaultMQTTClientID  = ""
	DefaultMQTTUsername  = ""
	DefaultMQTTPassword  = ""
	DefaultMQTTPrefix    = "aquaflash"
	DefaultMQTTUseTLS    = false
	DefaultMQTTDiscovery = false
)

const maxConsoleLines = 100000

// Config holds all application configuration.
// All access should be through getter methods for thread safety.
type Config struct {
	mu       sync.RWMutex
	filePath string
	dirty    bool

	// Server settings
	addr         string
	dbPath       string
	apiKeySecret string
	consoleLines int

	// Compile service
	compilerURL    string
	compilerPubKey string

	// Serial settings
	serialPort    string
	serialVirtual bool

	// MQTT settings
	mqttBroker    string
	mqttClientID  string
	mqttUsername  string
	mqttPassword  string
	mqttPrefix    string
	mqttUseTLS    bool
	mqttDiscovery bool
}

// Load loads configuration from .env file or creates it with defaults.
func Load(filePath string) (*Config, error) {
	cfg := &Config{
		filePath: filePath,
	}

	cfg.setDefaults()

	if err := cfg.loadFromFile(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg.dirty = true
	}

	// Device API keys are signed with this secret, so it must survive restarts
	if cfg.apiKeySecret == "" {
		cfg.apiKeySecret = registry.GenerateSecret()
		cfg.dirty = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.dirty {
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("failed to save config: %w", err)
		}
	}

	return cfg, nil
}

func (c *Config) setDefaults() {
	c.addr = DefaultAddr
	c.dbPath = DefaultDBPath
	c.apiKeySecret = ""
	c.consoleLines = DefaultConsoleLines
	c.compilerURL = DefaultCompilerURL
	c.compilerPubKey = DefaultCompilerPubKey
	c.serialPort = DefaultSerialPort
	c.serialVirtual = DefaultSerialVirtual
	c.mqttBroker = DefaultMQTTBroker
	c.mqttClientID = DefaultMQTTClientID
	c.mqttUsername = DefaultMQTTUsername
	c.mqttPassword = DefaultMQTTPassword
	c.mqttPrefix = DefaultMQTTPrefix
	c.mqttUseTLS = DefaultMQTTUseTLS
	c.mqttDiscovery = DefaultMQTTDiscovery
}

func (c *Config) loadFromFile() error {
	file, err := os.Open(c.filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	values, err := ParseEnvFile(file)
	if err != nil {
		return err
	}

	c.applyValues(values)
	return nil
}

// applyValues applies parsed key-value pairs to config.
func (c *Config) applyValues(values map[string]string) {
	if v, ok := values[EnvAddr]; ok && v != "" {
		c.addr = v
	}
	if v, ok := values[EnvDBPath]; ok && v != "" {
		c.dbPath = v
	}
	if v, ok := values[EnvAPIKeySecret]; ok && v != "" {
		c.apiKeySecret = v
	}
	if v, ok := values[EnvConsoleLines]; ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.consoleLines = n
		}
	}

	if v, ok := values[EnvCompilerURL]; ok && v != "" {
		c.compilerURL = v
	}
	if v, ok := values[EnvCompilerPubKey]; ok {
		c.compilerPubKey = v
	}

	if v, ok := values[EnvSerialPort]; ok {
		c.serialPort = v
	}
	if v, ok := values[EnvSerialVirtual]; ok {
		c.serialVirtual = parseBool(v)
	}

	if v, ok := values[EnvMQTTBroker]; ok {
		c.mqttBroker = v
	}
	if v, ok := values[EnvMQTTClientID]; ok {
		c.mqttClientID = v
	}
	if v, ok := values[EnvMQTTUsername]; ok {
		c.mqttUsername = v
	}
	if v, ok := values[EnvMQTTPassword]; ok {
		c.mqttPassword = v
	}
	if v, ok := values[EnvMQTTPrefix]; ok {
		c.mqttPrefix = v
	}
	if v, ok := values[EnvMQTTUseTLS]; ok {
		c.mqttUseTLS = parseBool(v)
	}
	if v, ok := values[EnvMQTTDiscovery]; ok {
		c.mqttDiscovery = parseBool(v)
	}
}

// validate checks if configuration is valid.
func (c *Config) validate() error {
	if c.addr == "" {
		return errors.New("server address cannot be empty")
	}

	_, port, err := net.SplitHostPort(c.addr)
	if err != nil {
		if _, err := strconv.Atoi(strings.TrimPrefix(c.addr, ":")); err != nil {
			return fmt.Errorf("invalid server address format: %s", c.addr)
		}
	} else {
		portNum, err := strconv.Atoi(port)
		if err != nil || portNum < 1 || portNum > 65535 {
			return fmt.Errorf("invalid port number: %s", port)
		}
	}

	if c.dbPath == "" || strings.ContainsAny(c.dbPath, "\x00") {
		return errors.New("database path is invalid")
	}

	if c.consoleLines < 1 || c.consoleLines > maxConsoleLines {
		return fmt.Errorf("console lines must be between 1 and %d", maxConsoleLines)
	}

	u, err := url.Parse(c.compilerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid compiler URL: %s", c.compilerURL)
	}

	if c.serialPort != "" && c.serialVirtual {
		return errors.New("serial port and virtual serial cannot both be set")
	}

	if c.mqttBroker != "" {
		if _, err := url.Parse(c.mqttBroker); err != nil || !strings.Contains(c.mqttBroker, "://") {
			return fmt.Errorf("invalid MQTT broker address: %s", c.mqttBroker)
		}
	}

	return nil
}

// Save writes current configuration to .env file.
func (c *Config) Save() error {
	c.mu.RLock()
	values := c.toMap()
	filePath := c.filePath
	c.mu.RUnlock()

	if err := WriteEnvFile(filePath, values); err != nil {
		return err
	}

	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()

	return nil
}

func (c *Config) toMap() map[string]string {
	return map[string]string{
		EnvAddr:           c.addr,
		EnvDBPath:         c.dbPath,
		EnvAPIKeySecret:   c.apiKeySecret,
		EnvConsoleLines:   strconv.Itoa(c.consoleLines),
		EnvCompilerURL:    c.compilerURL,
		EnvCompilerPubKey: c.compilerPubKey,
		EnvSerialPort:     c.serialPort,
		EnvSerialVirtual:  strconv.FormatBool(c.serialVirtual),
		EnvMQTTBroker:     c.mqttBroker,
		EnvMQTTClientID:   c.mqttClientID,
		EnvMQTTUsername:   c.mqttUsername,
		EnvMQTTPassword:   c.mqttPassword,
		EnvMQTTPrefix:     c.mqttPrefix,
		EnvMQTTUseTLS:     strconv.FormatBool(c.mqttUseTLS),
		EnvMQTTDiscovery:  strconv.FormatBool(c.mqttDiscovery),
	}
}

// Getters (thread-safe)

// Addr returns the server address.
func (c *Config) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.addr
}

// DBPath returns the bbolt registry file path.
func (c *Config) DBPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dbPath
}

// APIKeySecret returns the secret device API keys are signed with.
func (c *Config) APIKeySecret() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKeySecret
}

// ConsoleLines returns how many flash console lines are kept.
func (c *Config) ConsoleLines() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.consoleLines
}

// CompilerURL returns the compile service endpoint.
func (c *Config) CompilerURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.compilerURL
}

// CompilerPubKey returns the minisign public key, empty when verification is off.
func (c *Config) CompilerPubKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.compilerPubKey
}

// SerialPort returns the configured serial device, empty for auto-detect.
func (c *Config) SerialPort() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serialPort
}

// SerialVirtual returns whether the pty loopback replaces real hardware.
func (c *Config) SerialVirtual() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serialVirtual
}

// FilePath returns the path to the .env file.
func (c *Config) FilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filePath
}

// MQTT Getters

func (c *Config) MQTTBroker() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mqttBroker
}

func (c *Config) MQTTClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mqttClientID
}

func (c *Config) MQTTUsername() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mqttUsername
}

func (c *Config) MQTTPassword() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mqttPassword
}

func (c *Config) MQTTPrefix() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mqttPrefix
}

func (c *Config) MQTTUseTLS() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mqttUseTLS
}

// MQTTDiscovery returns whether Home Assistant discovery is published for registered devices.
func (c *Config) MQTTDiscovery() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mqttDiscovery
}

// Setters (thread-safe, auto-save)

// SetSerialPort sets the serial device and saves to file.
func (c *Config) SetSerialPort(port string) error {
	c.mu.Lock()
	old := c.serialPort
	c.serialPort = port
	c.dirty = true
	err := c.validate()
	if err != nil {
		c.serialPort = old
	}
	c.mu.Unlock()

	if err != nil {
		return err
	}
	return c.Save()
}

// SetCompilerURL sets the compile service endpoint and saves to file.
func (c *Config) SetCompilerURL(u string) error {
	c.mu.Lock()
	old := c.compilerURL
	c.compilerURL = u
	c.dirty = true
	err := c.validate()
	if err != nil {
		c.compilerURL = old
	}
	c.mu.Unlock()

	if err != nil {
		return err
	}
	return c.Save()
}

// parseBool accepts true, 1, yes, on (case-insensitive)
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

// Reload reloads configuration from file.
func (c *Config) Reload() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentSecret := c.apiKeySecret

	c.setDefaults()

	if err := c.loadFromFile(); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
	}

	if c.apiKeySecret == "" {
		c.apiKeySecret = currentSecret
	}

	return c.validate()
}

// String returns a string representation of the config (without secrets).
func (c *Config) String() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	secretDisplay := "[not set]"
	if c.apiKeySecret != "" {
		secretDisplay = "[set]"
	}
	serial := c.serialPort
	if c.serialVirtual {
		serial = "virtual"
	} else if serial == "" {
		serial = "auto"
	}

	return fmt.Sprintf(
		"Config{Addr: %q, DB: %q, APIKeySecret: %s, Compiler: %q, Serial: %s, MQTT: %q}",
		c.addr, c.dbPath, secretDisplay, c.compilerURL, serial, c.mqttBroker,
	)
}
