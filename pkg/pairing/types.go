package pairing

import "github.com/backkem/hap/pkg/tlv"

// Pairing TLV types.
const (
	TLVMethod        tlv.Type = 0x00
	TLVIdentifier    tlv.Type = 0x01
	TLVSalt          tlv.Type = 0x02
	TLVPublicKey     tlv.Type = 0x03
	TLVProof         tlv.Type = 0x04
	TLVEncryptedData tlv.Type = 0x05
	TLVState         tlv.Type = 0x06
	TLVError         tlv.Type = 0x07
	TLVRetryDelay    tlv.Type = 0x08
	TLVCertificate   tlv.Type = 0x09
	TLVSignature     tlv.Type = 0x0A
	TLVPermissions   tlv.Type = 0x0B
	TLVFragmentData  tlv.Type = 0x0C
	TLVFragmentLast  tlv.Type = 0x0D
	TLVSessionID     tlv.Type = 0x0E
	TLVFlags         tlv.Type = 0x13
	TLVSeparator     tlv.Type = 0xFF
)

// Method selects the pairing procedure.
type Method uint8

// Pairing methods.
const (
	MethodPairSetup         Method = 0
	MethodPairSetupWithAuth Method = 1
	MethodPairVerify        Method = 2
	MethodAddPairing        Method = 3
	MethodRemovePairing     Method = 4
	MethodListPairings      Method = 5
	MethodPairResume        Method = 6
)

// String returns the method name.
func (m Method) String() string {
	switch m {
	case MethodPairSetup:
		return "PairSetup"
	case MethodPairSetupWithAuth:
		return "PairSetupWithAuth"
	case MethodPairVerify:
		return "PairVerify"
	case MethodAddPairing:
		return "AddPairing"
	case MethodRemovePairing:
		return "RemovePairing"
	case MethodListPairings:
		return "ListPairings"
	case MethodPairResume:
		return "PairResume"
	default:
		return "Unknown"
	}
}

// ErrorCode is the value of a pairing Error TLV.
type ErrorCode uint8

// Pairing error codes. ErrorNone is never sent.
const (
	ErrorNone           ErrorCode = 0
	ErrorUnknown        ErrorCode = 1
	ErrorAuthentication ErrorCode = 2
	ErrorBackoff        ErrorCode = 3
	ErrorMaxPeers       ErrorCode = 4
	ErrorMaxTries       ErrorCode = 5
	ErrorUnavailable    ErrorCode = 6
	ErrorBusy           ErrorCode = 7
)

// String returns the error name.
func (e ErrorCode) String() string {
	switch e {
	case ErrorNone:
		return "None"
	case ErrorUnknown:
		return "Unknown"
	case ErrorAuthentication:
		return "Authentication"
	case ErrorBackoff:
		return "Backoff"
	case ErrorMaxPeers:
		return "MaxPeers"
	case ErrorMaxTries:
		return "MaxTries"
	case ErrorUnavailable:
		return "Unavailable"
	case ErrorBusy:
		return "Busy"
	default:
		return "Invalid"
	}
}
