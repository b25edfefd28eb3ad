package kvs

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/backkem/hap/pkg/crypto"
)

// Record sizes.
const (
	BroadcastParametersSize = 41
	BroadcastKeySize        = 32
	AdvertisingIDSize       = 6
	gsnRecordSize           = 2
	configNumberRecordSize  = 4
)

// BroadcastKeyValidity is how many GSN increments a broadcast key stays valid.
const BroadcastKeyValidity = 32767

const broadcastKeyInfo = "Broadcast-Encryption-Key"

// RecordLengthError reports a fixed-width record with an unexpected size.
type RecordLengthError struct {
	Domain Domain
	Key    Key
	Got    int
	Want   int
}

func (e *RecordLengthError) Error() string {
	return fmt.Sprintf("kvs: record 0x%02X.0x%02X has length %d, want %d", uint8(e.Domain), uint8(e.Key), e.Got, e.Want)
}

// BroadcastParameters is the BLE broadcast encryption state.
//
// Layout: key expiration GSN (uint16 LE) | key [32] | flags (bit 0: has
// advertising ID) | advertising ID [6].
type BroadcastParameters struct {
	KeyExpirationGSN uint16
	Key              [BroadcastKeySize]byte
	HasAdvertisingID bool
	AdvertisingID    [AdvertisingIDSize]byte
}

// MarshalBinary encodes the 41-byte record.
func (p BroadcastParameters) MarshalBinary() ([]byte, error) {
	b := make([]byte, BroadcastParametersSize)
	binary.LittleEndian.PutUint16(b[0:2], p.KeyExpirationGSN)
	copy(b[2:34], p.Key[:])
	if p.HasAdvertisingID {
		b[34] = 0x01
	}
	copy(b[35:41], p.AdvertisingID[:])
	return b, nil
}

// UnmarshalBinary decodes the 41-byte record.
func (p *BroadcastParameters) UnmarshalBinary(b []byte) error {
	if len(b) != BroadcastParametersSize {
		return &RecordLengthError{DomainConfiguration, KeyBroadcastParameters, len(b), BroadcastParametersSize}
	}
	p.KeyExpirationGSN = binary.LittleEndian.Uint16(b[0:2])
	copy(p.Key[:], b[2:34])
	p.HasAdvertisingID = b[34]&0x01 != 0
	copy(p.AdvertisingID[:], b[35:41])
	return nil
}

// KeyValid reports whether a broadcast key has been generated and not expired.
func (p BroadcastParameters) KeyValid() bool {
	return p.KeyExpirationGSN != 0
}

// ReadBroadcastParameters returns the stored parameters, or the zero value
// when none have been written.
func ReadBroadcastParameters(s Store) (BroadcastParameters, error) {
	var p BroadcastParameters
	b, ok, err := s.Get(DomainConfiguration, KeyBroadcastParameters)
	if err != nil || !ok {
		return p, err
	}
	err = p.UnmarshalBinary(b)
	return p, err
}

// WriteBroadcastParameters stores p.
func WriteBroadcastParameters(s Store, p BroadcastParameters) error {
	b, _ := p.MarshalBinary()
	return s.Set(DomainConfiguration, KeyBroadcastParameters, b)
}

// GenerateBroadcastKey derives a fresh broadcast encryption key from the
// session shared secret and the controller long-term public key, valid for
// the next BroadcastKeyValidity GSN increments. A non-nil advertisingID
// replaces the stored advertising identifier.
func GenerateBroadcastKey(s Store, sharedSecret, controllerLTPK []byte, advertisingID *[AdvertisingIDSize]byte) error {
	p, err := ReadBroadcastParameters(s)
	if err != nil {
		return err
	}
	gsn, err := ReadGSN(s)
	if err != nil {
		return err
	}

	expiration := uint32(gsn) + BroadcastKeyValidity - 1
	if expiration > 65535 {
		expiration -= 65535
	}
	p.KeyExpirationGSN = uint16(expiration)

	key, err := crypto.HKDFSHA512(sharedSecret, controllerLTPK, []byte(broadcastKeyInfo), BroadcastKeySize)
	if err != nil {
		return err
	}
	copy(p.Key[:], key)

	if advertisingID != nil {
		p.HasAdvertisingID = true
		p.AdvertisingID = *advertisingID
	}
	return WriteBroadcastParameters(s, p)
}

// SetAdvertisingID stores a new advertising identifier, keeping the key.
func SetAdvertisingID(s Store, id [AdvertisingIDSize]byte) error {
	p, err := ReadBroadcastParameters(s)
	if err != nil {
		return err
	}
	p.HasAdvertisingID = true
	p.AdvertisingID = id
	return WriteBroadcastParameters(s, p)
}

// ExpireBroadcastKey invalidates the broadcast key.
func ExpireBroadcastKey(s Store) error {
	p, err := ReadBroadcastParameters(s)
	if err != nil {
		return err
	}
	p.KeyExpirationGSN = 0
	clear(p.Key[:])
	return WriteBroadcastParameters(s, p)
}

// ReadGSN returns the global state number. A fresh store reports 1.
func ReadGSN(s Store) (uint16, error) {
	b, ok, err := s.Get(DomainConfiguration, KeyBLEGSN)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 1, nil
	}
	if len(b) != gsnRecordSize {
		return 0, &RecordLengthError{DomainConfiguration, KeyBLEGSN, len(b), gsnRecordSize}
	}
	return binary.LittleEndian.Uint16(b), nil
}

// IncrementGSN advances the global state number, wrapping from 65535 to 1,
// and expires the broadcast key once its expiration GSN is reached.
func IncrementGSN(s Store) (uint16, error) {
	gsn, err := ReadGSN(s)
	if err != nil {
		return 0, err
	}
	if gsn == 65535 {
		gsn = 1
	} else {
		gsn++
	}
	b := binary.LittleEndian.AppendUint16(nil, gsn)
	if err := s.Set(DomainConfiguration, KeyBLEGSN, b); err != nil {
		return 0, err
	}

	p, err := ReadBroadcastParameters(s)
	if err != nil {
		return 0, err
	}
	if p.KeyValid() && p.KeyExpirationGSN == gsn {
		if err := ExpireBroadcastKey(s); err != nil {
			return 0, err
		}
	}
	return gsn, nil
}

// ReadConfigurationNumber returns the accessory configuration number.
// A fresh store reports 1.
func ReadConfigurationNumber(s Store) (uint32, error) {
	b, ok, err := s.Get(DomainConfiguration, KeyConfigurationNumber)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 1, nil
	}
	if len(b) != configNumberRecordSize {
		return 0, &RecordLengthError{DomainConfiguration, KeyConfigurationNumber, len(b), configNumberRecordSize}
	}
	return binary.LittleEndian.Uint32(b), nil
}

// WriteConfigurationNumber stores the accessory configuration number.
func WriteConfigurationNumber(s Store, cn uint32) error {
	return s.Set(DomainConfiguration, KeyConfigurationNumber, binary.LittleEndian.AppendUint32(nil, cn))
}

// IncrementConfigurationNumber advances the configuration number, wrapping
// from 4294967295 to 1. Call it whenever the attribute database changes.
func IncrementConfigurationNumber(s Store) (uint32, error) {
	cn, err := ReadConfigurationNumber(s)
	if err != nil {
		return 0, err
	}
	if cn == math.MaxUint32 {
		cn = 1
	} else {
		cn++
	}
	return cn, WriteConfigurationNumber(s, cn)
}
