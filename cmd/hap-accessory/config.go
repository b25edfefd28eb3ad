package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pion/logging"
	"gopkg.in/yaml.v3"

	"github.com/backkem/hap/pkg/accessory"
	"github.com/backkem/hap/pkg/crypto"
	"github.com/backkem/hap/pkg/pairing"
)

// Config is the YAML configuration of the accessory.
type Config struct {
	DeviceID         string `yaml:"device_id"`
	Name             string `yaml:"name"`
	Manufacturer     string `yaml:"manufacturer"`
	Model            string `yaml:"model"`
	SerialNumber     string `yaml:"serial_number"`
	FirmwareRevision string `yaml:"firmware_revision"`
	Category         uint16 `yaml:"category"`

	// KeyFile holds the hex Ed25519 seed written by keygen.
	KeyFile string `yaml:"key_file"`
	// StoreFile is the key-value store. Empty keeps state in memory.
	StoreFile string `yaml:"store_file"`
	// Listen is the TCP address of the GATT carrier.
	Listen string `yaml:"listen"`

	MaxPairings     int           `yaml:"max_pairings"`
	ResumeCacheSize int           `yaml:"resume_cache_size"`
	KeyExpiry       time.Duration `yaml:"key_expiry"`
	LogLevel        string        `yaml:"log_level"`

	// Admin is added as the first pairing while the accessory is unpaired.
	Admin *AdminConfig `yaml:"admin"`
}

// AdminConfig provisions an admin controller.
type AdminConfig struct {
	Identifier string `yaml:"identifier"`
	PublicKey  string `yaml:"public_key"`
}

// DefaultConfig returns the configuration used for missing fields.
func DefaultConfig() Config {
	return Config{
		DeviceID:         "A1:B2:C3:D4:E5:F6",
		Name:             "HAP Lamp",
		Manufacturer:     "backkem",
		Model:            "LB1",
		SerialNumber:     "0001",
		FirmwareRevision: "1.0.0",
		Category:         5,
		KeyFile:          "accessory.key",
		Listen:           "127.0.0.1:5540",
		LogLevel:         "info",
	}
}

// LoadConfig reads a YAML configuration on top of DefaultConfig. A missing
// file yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if _, err := accessory.ParseDeviceID(c.DeviceID); err != nil {
		return err
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Admin != nil {
		if _, err := c.Admin.Record(); err != nil {
			return err
		}
	}
	return nil
}

// Record returns the admin pairing record.
func (a AdminConfig) Record() (pairing.Record, error) {
	r := pairing.Record{Identifier: []byte(a.Identifier), Permissions: pairing.PermissionAdmin}
	pk, err := hex.DecodeString(a.PublicKey)
	if err != nil || len(pk) != pairing.PublicKeySize {
		return r, fmt.Errorf("admin public key: want %d hex bytes", pairing.PublicKeySize)
	}
	copy(r.PublicKey[:], pk)
	return r, r.Validate()
}

func parseLogLevel(s string) (logging.LogLevel, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return logging.LogLevelInfo, nil
	case "disabled", "off":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

func newLoggerFactory(level string, w io.Writer) (logging.LoggerFactory, error) {
	l, err := parseLogLevel(level)
	if err != nil {
		return nil, err
	}
	f := logging.NewDefaultLoggerFactory()
	f.DefaultLogLevel = l
	f.Writer = w
	return f, nil
}

// WriteKey stores the seed of kp as hex.
func WriteKey(path string, kp *crypto.Ed25519KeyPair) error {
	return os.WriteFile(path, []byte(hex.EncodeToString(kp.Seed())+"\n"), 0o600)
}

// ReadKey loads a key written by WriteKey.
func ReadKey(path string) (*crypto.Ed25519KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("key file %s: %w", path, err)
	}
	return crypto.Ed25519KeyPairFromSeed(seed)
}
