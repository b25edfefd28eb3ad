package model

import (
	"encoding/binary"
	"math"
	"unicode/utf8"
)

// Format is the value format of a characteristic.
type Format int

const (
	FormatUnknown Format = iota
	FormatBool
	FormatUInt8
	FormatUInt16
	FormatUInt32
	FormatUInt64
	FormatInt
	FormatFloat
	FormatString
	FormatTLV8
	FormatData
)

// String returns the HAP name of the format.
func (f Format) String() string {
	switch f {
	case FormatBool:
		return "bool"
	case FormatUInt8:
		return "uint8"
	case FormatUInt16:
		return "uint16"
	case FormatUInt32:
		return "uint32"
	case FormatUInt64:
		return "uint64"
	case FormatInt:
		return "int"
	case FormatFloat:
		return "float"
	case FormatString:
		return "string"
	case FormatTLV8:
		return "tlv8"
	case FormatData:
		return "data"
	default:
		return "unknown"
	}
}

// IsValid returns true if the format is a defined value.
func (f Format) IsValid() bool {
	return f >= FormatBool && f <= FormatData
}

// Size returns the encoded size of fixed-width formats, or 0 for
// variable-length formats.
func (f Format) Size() int {
	switch f {
	case FormatBool, FormatUInt8:
		return 1
	case FormatUInt16:
		return 2
	case FormatUInt32, FormatInt, FormatFloat:
		return 4
	case FormatUInt64:
		return 8
	default:
		return 0
	}
}

// PresentationFormat returns the Bluetooth GATT presentation format code.
func (f Format) PresentationFormat() uint8 {
	switch f {
	case FormatBool:
		return 0x01
	case FormatUInt8:
		return 0x04
	case FormatUInt16:
		return 0x06
	case FormatUInt32:
		return 0x08
	case FormatUInt64:
		return 0x0A
	case FormatInt:
		return 0x10
	case FormatFloat:
		return 0x14
	case FormatString:
		return 0x19
	default:
		return 0x1B
	}
}

// Validate checks that value is a well-formed little-endian encoding for
// the format.
func (f Format) Validate(value []byte, maxLength int) error {
	if n := f.Size(); n != 0 {
		if len(value) != n {
			return ErrInvalidValue
		}
		if f == FormatBool && value[0] > 1 {
			return ErrInvalidValue
		}
		if f == FormatFloat {
			v := math.Float32frombits(binary.LittleEndian.Uint32(value))
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return ErrInvalidValue
			}
		}
		return nil
	}
	if maxLength > 0 && len(value) > maxLength {
		return ErrInvalidValue
	}
	if f == FormatString && !utf8.Valid(value) {
		return ErrInvalidValue
	}
	return nil
}

// Unit is the unit of a numeric characteristic.
type Unit int

const (
	UnitNone Unit = iota
	UnitCelsius
	UnitArcDegrees
	UnitPercentage
	UnitLux
	UnitSeconds
)

// String returns the HAP name of the unit.
func (u Unit) String() string {
	switch u {
	case UnitCelsius:
		return "celsius"
	case UnitArcDegrees:
		return "arcdegrees"
	case UnitPercentage:
		return "percentage"
	case UnitLux:
		return "lux"
	case UnitSeconds:
		return "seconds"
	default:
		return "unitless"
	}
}

// GATTUnit returns the Bluetooth SIG assigned unit number.
func (u Unit) GATTUnit() uint16 {
	switch u {
	case UnitCelsius:
		return 0x272F
	case UnitArcDegrees:
		return 0x2763
	case UnitPercentage:
		return 0x27AD
	case UnitLux:
		return 0x2731
	case UnitSeconds:
		return 0x2703
	default:
		return 0x2700
	}
}
