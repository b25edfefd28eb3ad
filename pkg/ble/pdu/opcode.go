// Package pdu implements HAP-BLE protocol data units: the control field,
// request/response/continuation headers, the optional body, the opcode and
// status codes, and the per-opcode rules the procedure engine enforces.
//
// Wire format (all multi-byte fields little-endian):
//
//	Request:      ctrl(1) opcode(1) tid(1) iid(2) [bodyLen(2) body...]
//	Response:     ctrl(1) tid(1) status(1) [bodyLen(2) body...]
//	Continuation: ctrl(1) tid(1) body...
//
// Control field: bit 7 continuation, bits 6..4 reserved, bits 3..1 type
// (000 request, 001 response), bit 0 length extension (must be 0).
package pdu

import (
	"github.com/backkem/hap/pkg/hap"
	"github.com/backkem/hap/pkg/model"
)

// Opcode identifies a HAP procedure.
type Opcode uint8

const (
	OpcodeCharacteristicSignatureRead Opcode = 0x01
	OpcodeCharacteristicWrite         Opcode = 0x02
	OpcodeCharacteristicRead          Opcode = 0x03
	OpcodeCharacteristicTimedWrite    Opcode = 0x04
	OpcodeCharacteristicExecuteWrite  Opcode = 0x05
	OpcodeServiceSignatureRead        Opcode = 0x06
	OpcodeCharacteristicConfiguration Opcode = 0x07
	OpcodeProtocolConfiguration       Opcode = 0x08
	OpcodeAccessorySignatureRead      Opcode = 0x09
	OpcodeNotificationConfigRead      Opcode = 0x0A
	OpcodeNotificationRegister        Opcode = 0x0B
	OpcodeNotificationDeregister      Opcode = 0x0C
	OpcodeToken                       Opcode = 0x10
	OpcodeTokenUpdate                 Opcode = 0x11
	OpcodeInfo                        Opcode = 0x12
)

// String returns the HAP request name of the opcode.
func (o Opcode) String() string {
	switch o {
	case OpcodeCharacteristicSignatureRead:
		return "HAP-Characteristic-Signature-Read"
	case OpcodeCharacteristicWrite:
		return "HAP-Characteristic-Write"
	case OpcodeCharacteristicRead:
		return "HAP-Characteristic-Read"
	case OpcodeCharacteristicTimedWrite:
		return "HAP-Characteristic-Timed-Write"
	case OpcodeCharacteristicExecuteWrite:
		return "HAP-Characteristic-Execute-Write"
	case OpcodeServiceSignatureRead:
		return "HAP-Service-Signature-Read"
	case OpcodeCharacteristicConfiguration:
		return "HAP-Characteristic-Configuration"
	case OpcodeProtocolConfiguration:
		return "HAP-Protocol-Configuration"
	case OpcodeAccessorySignatureRead:
		return "HAP-Accessory-Signature-Read"
	case OpcodeNotificationConfigRead:
		return "HAP-Notification-Configuration-Read"
	case OpcodeNotificationRegister:
		return "HAP-Notification-Register"
	case OpcodeNotificationDeregister:
		return "HAP-Notification-Deregister"
	case OpcodeToken:
		return "HAP-Token"
	case OpcodeTokenUpdate:
		return "HAP-Token-Update"
	case OpcodeInfo:
		return "HAP-Info"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the opcode is a defined value.
func (o Opcode) IsValid() bool {
	return (o >= OpcodeCharacteristicSignatureRead && o <= OpcodeNotificationDeregister) ||
		(o >= OpcodeToken && o <= OpcodeInfo)
}

// OperationType is the attribute level an opcode addresses.
type OperationType int

const (
	OperationTypeCharacteristic OperationType = iota
	OperationTypeService
	OperationTypeAccessory
)

// String returns the string representation of the operation type.
func (t OperationType) String() string {
	switch t {
	case OperationTypeCharacteristic:
		return "Characteristic"
	case OperationTypeService:
		return "Service"
	case OperationTypeAccessory:
		return "Accessory"
	default:
		return "Unknown"
	}
}

// OperationType returns the attribute level o addresses. The opcode must
// be valid.
func (o Opcode) OperationType() OperationType {
	switch o {
	case OpcodeServiceSignatureRead, OpcodeProtocolConfiguration:
		return OperationTypeService
	case OpcodeAccessorySignatureRead, OpcodeToken, OpcodeTokenUpdate, OpcodeInfo:
		return OperationTypeAccessory
	default:
		return OperationTypeCharacteristic
	}
}

// SupportedOnTransport reports whether o may be used on transport t.
func (o Opcode) SupportedOnTransport(t hap.TransportType) bool {
	switch o {
	case OpcodeAccessorySignatureRead, OpcodeNotificationConfigRead,
		OpcodeNotificationRegister, OpcodeNotificationDeregister:
		return t == hap.TransportTypeThread
	case OpcodeToken, OpcodeTokenUpdate, OpcodeInfo:
		return t.IsValid()
	default:
		return o.IsValid() && t.IsValid() && t != hap.TransportTypeIP
	}
}

// SupportedOnCharacteristic reports whether o may address characteristic
// c of service s. Service procedures run on the Service Signature
// characteristic, accessory procedures additionally need the Protocol
// Information service.
func (o Opcode) SupportedOnCharacteristic(c *model.Characteristic, s *model.Service) bool {
	switch o.OperationType() {
	case OperationTypeService:
		return c.SupportsServiceProcedures()
	case OperationTypeAccessory:
		return c.SupportsServiceProcedures() && s.SupportsAccessoryProcedures()
	default:
		return true
	}
}

// RequiresSessionSecurity reports whether o always needs a secure session.
// Signature reads and characteristic reads/writes depend on the addressed
// characteristic instead.
func (o Opcode) RequiresSessionSecurity() bool {
	switch o {
	case OpcodeCharacteristicSignatureRead, OpcodeCharacteristicWrite, OpcodeCharacteristicRead,
		OpcodeCharacteristicTimedWrite, OpcodeCharacteristicExecuteWrite, OpcodeServiceSignatureRead:
		return false
	default:
		return true
	}
}

// SupportedOnTransientSession reports whether o may be used on a transient
// (software authentication) session.
func (o Opcode) SupportedOnTransientSession() bool {
	switch o {
	case OpcodeCharacteristicSignatureRead, OpcodeServiceSignatureRead, OpcodeAccessorySignatureRead,
		OpcodeToken, OpcodeTokenUpdate, OpcodeInfo:
		return true
	default:
		return false
	}
}
