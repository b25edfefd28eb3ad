package model

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// baseUUID is the HAP base UUID; short types replace its first 32 bits.
var baseUUID = uuid.MustParse("00000000-0000-1000-8000-0026BB765291")

// HAPType expands a short HAP type into its full UUID.
func HAPType(short uint32) uuid.UUID {
	u := baseUUID
	binary.BigEndian.PutUint32(u[0:4], short)
	return u
}

// ShortType returns the short form of an Apple-defined type and whether u
// is based on the HAP base UUID.
func ShortType(u uuid.UUID) (uint32, bool) {
	for i := 4; i < 16; i++ {
		if u[i] != baseUUID[i] {
			return 0, false
		}
	}
	return binary.BigEndian.Uint32(u[0:4]), true
}

// UUIDBytesLE returns the 16-byte little-endian wire form used by HAP-BLE.
func UUIDBytesLE(u uuid.UUID) []byte {
	b := make([]byte, 16)
	for i := range 16 {
		b[i] = u[15-i]
	}
	return b
}

// UUIDFromBytesLE parses the little-endian wire form.
func UUIDFromBytesLE(b []byte) (uuid.UUID, error) {
	if len(b) != 16 {
		return uuid.Nil, ErrInvalidUUID
	}
	var u uuid.UUID
	for i := range 16 {
		u[i] = b[15-i]
	}
	return u, nil
}

// Service types.
var (
	ServiceTypeAccessoryInformation = HAPType(0x3E)
	ServiceTypeProtocolInformation  = HAPType(0xA2)
	ServiceTypePairing              = HAPType(0x55)
	ServiceTypeLightBulb            = HAPType(0x43)
)

// Characteristic types.
var (
	CharacteristicTypeIdentify          = HAPType(0x14)
	CharacteristicTypeManufacturer      = HAPType(0x20)
	CharacteristicTypeModel             = HAPType(0x21)
	CharacteristicTypeName              = HAPType(0x23)
	CharacteristicTypeSerialNumber      = HAPType(0x30)
	CharacteristicTypeFirmwareRevision  = HAPType(0x52)
	CharacteristicTypeVersion           = HAPType(0x37)
	CharacteristicTypeOn                = HAPType(0x25)
	CharacteristicTypeBrightness        = HAPType(0x08)
	CharacteristicTypePairSetup         = HAPType(0x4C)
	CharacteristicTypePairVerify        = HAPType(0x4E)
	CharacteristicTypePairingFeatures   = HAPType(0x4F)
	CharacteristicTypePairingPairings   = HAPType(0x50)
	CharacteristicTypeServiceSignature  = HAPType(0xA5)
	CharacteristicTypeTransitionControl = HAPType(0x143)

	// CharacteristicTypeServiceInstanceID is the BLE-only descriptor-like
	// characteristic that exposes a service IID.
	CharacteristicTypeServiceInstanceID = uuid.MustParse("E604E95D-A759-4817-87D3-AA005083A0D1")
)
