package model

import "github.com/google/uuid"

// ProtocolVersion is the HAP protocol version reported by the Version
// characteristic.
const ProtocolVersion = "2.2.0"

func stringReader(s string) ReadFunc {
	return func(ReadRequest) ([]byte, error) {
		return []byte(s), nil
	}
}

// NewAccessoryInformationService builds the mandatory Accessory
// Information service from the fields of a. IIDs are assigned from iid
// upwards. identify runs when the Identify characteristic is written.
func NewAccessoryInformationService(iid uint16, a *Accessory, identify func() error) *Service {
	str := func(offset uint16, t uuid.UUID, v string) *Characteristic {
		return &Characteristic{
			IID:        iid + offset,
			Type:       t,
			Format:     FormatString,
			Properties: Properties{Readable: true},
			OnRead:     stringReader(v),
		}
	}
	return &Service{
		IID:  iid,
		Type: ServiceTypeAccessoryInformation,
		Name: "Accessory Information",
		Characteristics: []*Characteristic{
			{
				IID:        iid + 1,
				Type:       CharacteristicTypeIdentify,
				Format:     FormatBool,
				Properties: Properties{Writable: true},
				OnWrite: func(WriteRequest, []byte) error {
					if identify == nil {
						return nil
					}
					return identify()
				},
			},
			str(2, CharacteristicTypeManufacturer, a.Manufacturer),
			str(3, CharacteristicTypeModel, a.Model),
			str(4, CharacteristicTypeName, a.Name),
			str(5, CharacteristicTypeSerialNumber, a.SerialNumber),
			str(6, CharacteristicTypeFirmwareRevision, a.FirmwareVersion),
		},
	}
}

// NewProtocolInformationService builds the Protocol Information service.
// Its Service Signature characteristic carries the service and accessory
// procedures (signature reads, protocol configuration, info).
func NewProtocolInformationService(iid uint16) *Service {
	return &Service{
		IID:        iid,
		Type:       ServiceTypeProtocolInformation,
		Name:       "Protocol Information",
		Properties: ServiceProperties{SupportsConfiguration: true},
		Characteristics: []*Characteristic{
			{
				IID:        iid + 1,
				Type:       CharacteristicTypeServiceSignature,
				Format:     FormatData,
				Properties: Properties{Readable: true},
			},
			{
				IID:        iid + 2,
				Type:       CharacteristicTypeVersion,
				Format:     FormatString,
				Properties: Properties{Readable: true},
				OnRead:     stringReader(ProtocolVersion),
			},
		},
	}
}

// NewPairingService builds the Pairing service. The pairing procedures
// are bound by the accessory server, which owns the per-session state.
// Writes to the pairing characteristics always answer with the response
// of the procedure.
func NewPairingService(iid uint16) *Service {
	insecure := Properties{
		SupportsWriteResponse: true,
		BLE:                   BLEProperties{ReadableWithoutSecurity: true, WritableWithoutSecurity: true},
	}
	return &Service{
		IID:  iid,
		Type: ServiceTypePairing,
		Name: "Pairing",
		Characteristics: []*Characteristic{
			{IID: iid + 1, Type: CharacteristicTypePairSetup, Format: FormatTLV8, Properties: insecure},
			{IID: iid + 2, Type: CharacteristicTypePairVerify, Format: FormatTLV8, Properties: insecure},
			{
				IID:        iid + 3,
				Type:       CharacteristicTypePairingFeatures,
				Format:     FormatUInt8,
				Properties: Properties{BLE: BLEProperties{ReadableWithoutSecurity: true}},
				OnRead: func(ReadRequest) ([]byte, error) {
					return []byte{0x00}, nil
				},
			},
			{
				IID:        iid + 4,
				Type:       CharacteristicTypePairingPairings,
				Format:     FormatTLV8,
				Properties: Properties{Readable: true, Writable: true, SupportsWriteResponse: true},
			},
		},
	}
}
