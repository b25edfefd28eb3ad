package accessory

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/hap/pkg/ble/procedure"
	"github.com/backkem/hap/pkg/crypto"
	"github.com/backkem/hap/pkg/datastream"
	"github.com/backkem/hap/pkg/kvs"
	"github.com/backkem/hap/pkg/model"
	"github.com/backkem/hap/pkg/pairing"
	"github.com/backkem/hap/pkg/session"
	"github.com/backkem/hap/pkg/timer"
)

// DefaultResumeCacheSize is the default number of resumable sessions.
const DefaultResumeCacheSize = 8

// Config holds all configuration for a Server.
type Config struct {
	// Accessory is the attribute database. It must contain the Pairing
	// service. Required.
	Accessory *model.Accessory

	// DeviceID is the accessory device identifier. Required.
	DeviceID [procedure.DeviceIDSize]byte

	// LongTermKey is the accessory Ed25519 long-term key. Required.
	LongTermKey *crypto.Ed25519KeyPair

	// Store holds pairings and protocol configuration. Required.
	Store kvs.Store

	// Pairings overrides the pairing store. Default: a pairing.Table
	// persisted in Store.
	Pairings pairing.Store

	// MaxPairings sizes the default pairing table.
	MaxPairings int

	// ResumeCacheSize is the number of resumable sessions kept. Zero selects
	// DefaultResumeCacheSize, a negative value disables Pair Resume.
	ResumeCacheSize int

	// DataStreams tracks resources bound to pairings. Default: a new
	// datastream.Registry.
	DataStreams *datastream.Registry

	// Timers overrides the timer service. Default: a timer.System whose
	// callbacks hold the server lock.
	Timers timer.Service

	// KeyExpiry bounds the lifetime of session keys. Zero disables expiry.
	KeyExpiry time.Duration

	// BufferSize bounds BLE requests and responses. Default
	// procedure.DefaultBufferSize.
	BufferSize int

	// Rand is the entropy source for Pair Verify. Default crypto/rand.
	Rand io.Reader

	// Callbacks - Optional. They run with the server lock held.
	OnSessionAccept     func(s *session.Session)
	OnSessionInvalidate func(s *session.Session)
	OnUpdatedState      func(paired bool)
	OnWakeLock          func(held bool)

	// LoggerFactory for server logging. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Accessory == nil {
		return ErrAccessoryRequired
	}
	if c.Store == nil {
		return ErrStoreRequired
	}
	if c.LongTermKey == nil {
		return ErrLongTermKeyRequired
	}
	if c.DeviceID == ([procedure.DeviceIDSize]byte{}) {
		return ErrInvalidDeviceID
	}
	if err := c.Accessory.Validate(); err != nil {
		return fmt.Errorf("accessory: %w", err)
	}
	if _, _, ok := c.Accessory.Find(model.ServiceTypePairing, model.CharacteristicTypePairVerify); !ok {
		return ErrPairingServiceMissing
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.ResumeCacheSize == 0 {
		c.ResumeCacheSize = DefaultResumeCacheSize
	}
	if c.BufferSize <= 0 {
		c.BufferSize = procedure.DefaultBufferSize
	}
}

// FormatDeviceID returns the pairing identifier form of a device ID,
// e.g. "A1:B2:C3:D4:E5:F6".
func FormatDeviceID(id [procedure.DeviceIDSize]byte) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", id[0], id[1], id[2], id[3], id[4], id[5])
}

// ParseDeviceID parses the form produced by FormatDeviceID.
func ParseDeviceID(s string) ([procedure.DeviceIDSize]byte, error) {
	var id [procedure.DeviceIDSize]byte
	mac, err := net.ParseMAC(s)
	if err != nil || len(mac) != len(id) {
		return id, fmt.Errorf("%w: %q", ErrInvalidDeviceID, s)
	}
	copy(id[:], mac)
	return id, nil
}
