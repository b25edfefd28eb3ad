package pdu

// Status is the HAP status of a response.
type Status uint8

const (
	StatusSuccess                    Status = 0x00
	StatusUnsupportedPDU             Status = 0x01
	StatusMaxProcedures              Status = 0x02
	StatusInsufficientAuthorization  Status = 0x03
	StatusInvalidInstanceID          Status = 0x04
	StatusInsufficientAuthentication Status = 0x05
	StatusInvalidRequest             Status = 0x06
	StatusInsufficientResources      Status = 0x07
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusUnsupportedPDU:
		return "Unsupported-PDU"
	case StatusMaxProcedures:
		return "Max-Procedures"
	case StatusInsufficientAuthorization:
		return "Insufficient-Authorization"
	case StatusInvalidInstanceID:
		return "Invalid-Instance-ID"
	case StatusInsufficientAuthentication:
		return "Insufficient-Authentication"
	case StatusInvalidRequest:
		return "Invalid-Request"
	case StatusInsufficientResources:
		return "Insufficient-Resources"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the status is a defined value.
func (s Status) IsValid() bool {
	return s <= StatusInsufficientResources
}
