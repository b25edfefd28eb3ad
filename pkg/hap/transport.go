package hap

// TransportType identifies the transport a session runs on.
type TransportType int

const (
	// TransportTypeUnknown is the zero value.
	TransportTypeUnknown TransportType = iota
	// TransportTypeIP is HAP over TCP/HTTP.
	TransportTypeIP
	// TransportTypeBLE is HAP over Bluetooth LE GATT.
	TransportTypeBLE
	// TransportTypeThread is HAP over Thread/CoAP.
	TransportTypeThread
)

// String returns the string representation of the transport type.
func (t TransportType) String() string {
	switch t {
	case TransportTypeIP:
		return "IP"
	case TransportTypeBLE:
		return "BLE"
	case TransportTypeThread:
		return "Thread"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the transport type is a known valid type.
func (t TransportType) IsValid() bool {
	return t == TransportTypeIP || t == TransportTypeBLE || t == TransportTypeThread
}
