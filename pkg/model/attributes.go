package model

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/backkem/hap/pkg/session"
)

// BLEProperties are the HAP-BLE specific characteristic properties.
type BLEProperties struct {
	// ReadableWithoutSecurity allows reads without a secure session.
	ReadableWithoutSecurity bool
	// WritableWithoutSecurity allows writes without a secure session.
	WritableWithoutSecurity bool
	// SupportsBroadcastNotification allows broadcast events.
	SupportsBroadcastNotification bool
	// SupportsDisconnectedNotification allows disconnected events.
	SupportsDisconnectedNotification bool
}

// Properties are the permissions and behaviour flags of a characteristic.
type Properties struct {
	Readable                  bool
	Writable                  bool
	SupportsEventNotification bool
	Hidden                    bool
	RequiresTimedWrite        bool
	SupportsAuthorizationData bool
	ReadRequiresAdmin         bool
	WriteRequiresAdmin        bool

	// SupportsWriteResponse makes a write always answer with the read
	// value, even if the controller did not ask for it.
	SupportsWriteResponse bool

	BLE BLEProperties
}

// Characteristic properties descriptor bits (HAP-BLE signature read).
const (
	descRead                  = 0x0001
	descWrite                 = 0x0002
	descAuthorizationData     = 0x0004
	descTimedWrite            = 0x0008
	descSecureRead            = 0x0010
	descSecureWrite           = 0x0020
	descHidden                = 0x0040
	descNotifiesConnected     = 0x0080
	descNotifiesDisconnected  = 0x0100
	descSupportsBroadcastNote = 0x0200
)

// Descriptor returns the HAP-BLE characteristic properties descriptor.
func (p Properties) Descriptor() uint16 {
	var d uint16
	set := func(cond bool, bit uint16) {
		if cond {
			d |= bit
		}
	}
	set(p.BLE.ReadableWithoutSecurity, descRead)
	set(p.BLE.WritableWithoutSecurity, descWrite)
	set(p.SupportsAuthorizationData, descAuthorizationData)
	set(p.RequiresTimedWrite, descTimedWrite)
	set(p.Readable, descSecureRead)
	set(p.Writable, descSecureWrite)
	set(p.Hidden, descHidden)
	set(p.SupportsEventNotification, descNotifiesConnected)
	set(p.BLE.SupportsDisconnectedNotification, descNotifiesDisconnected)
	set(p.BLE.SupportsBroadcastNotification, descSupportsBroadcastNote)
	return d
}

// Constraints bound the value of a characteristic.
type Constraints struct {
	// HasRange enables Min, Max and Step for numeric formats.
	HasRange bool
	Min      float64
	Max      float64
	Step     float64

	// MaxLength bounds string and data values. Zero means the HAP default.
	MaxLength int

	// ValidValues restricts uint8 characteristics.
	ValidValues []uint8
}

// ReadRequest describes a characteristic read.
type ReadRequest struct {
	Session        *session.Session
	Accessory      *Accessory
	Service        *Service
	Characteristic *Characteristic

	// MaxLength is the space available for the value.
	MaxLength int
}

// WriteRequest describes a characteristic write.
type WriteRequest struct {
	Session        *session.Session
	Accessory      *Accessory
	Service        *Service
	Characteristic *Characteristic

	// AuthorizationData is the additional authorization data, if any.
	AuthorizationData []byte
	// Remote is set when the controller is not on the local network.
	Remote bool
	// Timed is set for the execute leg of a timed write.
	Timed bool
}

// ReadFunc returns the current value in its little-endian wire form.
type ReadFunc func(req ReadRequest) ([]byte, error)

// WriteFunc applies a new value.
type WriteFunc func(req WriteRequest, value []byte) error

// Characteristic is one attribute of a service.
type Characteristic struct {
	IID         uint16
	Type        uuid.UUID
	Format      Format
	Unit        Unit
	Description string
	Properties  Properties
	Constraints Constraints

	OnRead  ReadFunc
	OnWrite WriteFunc
}

// Read calls the read handler.
func (c *Characteristic) Read(req ReadRequest) ([]byte, error) {
	if c.OnRead == nil {
		return nil, ErrNotReadable
	}
	return c.OnRead(req)
}

// Write validates value against the format and calls the write handler.
func (c *Characteristic) Write(req WriteRequest, value []byte) error {
	if c.OnWrite == nil {
		return ErrNotWritable
	}
	if err := c.Format.Validate(value, c.maxLength()); err != nil {
		return err
	}
	return c.OnWrite(req, value)
}

func (c *Characteristic) maxLength() int {
	if c.Constraints.MaxLength > 0 {
		return c.Constraints.MaxLength
	}
	switch c.Format {
	case FormatString:
		return 64
	case FormatData, FormatTLV8:
		return 2097152
	}
	return 0
}

// DropsSecuritySession reports whether touching the characteristic ends a
// secure session. Pair Setup and Pair Verify run outside one.
func (c *Characteristic) DropsSecuritySession() bool {
	return c.Type == CharacteristicTypePairSetup || c.Type == CharacteristicTypePairVerify
}

// SupportsServiceProcedures reports whether service-level procedures may
// address this characteristic.
func (c *Characteristic) SupportsServiceProcedures() bool {
	return c.Type == CharacteristicTypeServiceSignature
}

// EncodeNumber encodes v in the little-endian wire form of f.
func EncodeNumber(f Format, v float64) []byte {
	b := make([]byte, f.Size())
	switch f {
	case FormatBool, FormatUInt8:
		b[0] = uint8(v)
	case FormatUInt16:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case FormatUInt32:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case FormatUInt64:
		binary.LittleEndian.PutUint64(b, uint64(v))
	case FormatInt:
		binary.LittleEndian.PutUint32(b, uint32(int32(v)))
	case FormatFloat:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	default:
		return nil
	}
	return b
}

// ServiceProperties are the HAP-BLE service properties.
type ServiceProperties struct {
	Primary               bool
	Hidden                bool
	SupportsConfiguration bool
}

// Descriptor returns the HAP-BLE service properties bitmask.
func (p ServiceProperties) Descriptor() uint16 {
	var d uint16
	if p.Primary {
		d |= 0x0001
	}
	if p.Hidden {
		d |= 0x0002
	}
	if p.SupportsConfiguration {
		d |= 0x0004
	}
	return d
}

// Service groups characteristics.
type Service struct {
	IID             uint16
	Type            uuid.UUID
	Name            string
	Properties      ServiceProperties
	LinkedServices  []uint16
	Characteristics []*Characteristic
}

// SupportsAccessoryProcedures reports whether accessory-level procedures
// may be addressed through this service.
func (s *Service) SupportsAccessoryProcedures() bool {
	return s.Type == ServiceTypeProtocolInformation
}

// Characteristic returns the characteristic of type t.
func (s *Service) Characteristic(t uuid.UUID) *Characteristic {
	for _, c := range s.Characteristics {
		if c.Type == t {
			return c
		}
	}
	return nil
}

// Accessory is the root of the attribute database.
type Accessory struct {
	AID             uint64
	Category        uint16
	Name            string
	Manufacturer    string
	Model           string
	SerialNumber    string
	FirmwareVersion string
	Services        []*Service
}

// Lookup finds the characteristic with the given IID and its service.
func (a *Accessory) Lookup(iid uint16) (*Characteristic, *Service, bool) {
	for _, s := range a.Services {
		for _, c := range s.Characteristics {
			if c.IID == iid {
				return c, s, true
			}
		}
	}
	return nil, nil, false
}

// Find returns the first characteristic of type ct in a service of type st.
func (a *Accessory) Find(st, ct uuid.UUID) (*Characteristic, *Service, bool) {
	for _, s := range a.Services {
		if s.Type != st {
			continue
		}
		if c := s.Characteristic(ct); c != nil {
			return c, s, true
		}
	}
	return nil, nil, false
}

// CharacteristicIndex returns the position of c in attribute database
// order. It is stable as long as the database does not change.
func (a *Accessory) CharacteristicIndex(c *Characteristic) (int, bool) {
	i := 0
	for _, s := range a.Services {
		for _, sc := range s.Characteristics {
			if sc == c {
				return i, true
			}
			i++
		}
	}
	return 0, false
}

// Validate checks that IIDs are non-zero and unique across services and
// characteristics.
func (a *Accessory) Validate() error {
	seen := make(map[uint16]bool)
	check := func(iid uint16) error {
		if iid == 0 {
			return ErrInvalidIID
		}
		if seen[iid] {
			return fmt.Errorf("%w: %d", ErrDuplicateIID, iid)
		}
		seen[iid] = true
		return nil
	}
	for _, s := range a.Services {
		if err := check(s.IID); err != nil {
			return err
		}
		for _, c := range s.Characteristics {
			if err := check(c.IID); err != nil {
				return err
			}
			if !c.Format.IsValid() {
				return fmt.Errorf("model: characteristic %d has invalid format", c.IID)
			}
		}
	}
	return nil
}
