package pdu

import "github.com/backkem/hap/pkg/tlv"

// Additional parameter types carried in request and response bodies.
const (
	ParamValue                    tlv.Type = 0x01
	ParamAdditionalAuthorization  tlv.Type = 0x02
	ParamOrigin                   tlv.Type = 0x03
	ParamCharacteristicType       tlv.Type = 0x04
	ParamCharacteristicInstanceID tlv.Type = 0x05
	ParamServiceType              tlv.Type = 0x06
	ParamServiceInstanceID        tlv.Type = 0x07
	ParamTTL                      tlv.Type = 0x08
	ParamReturnResponse           tlv.Type = 0x09
	ParamCharacteristicProperties tlv.Type = 0x0A
	ParamGATTUserDescription      tlv.Type = 0x0B
	ParamGATTPresentationFormat   tlv.Type = 0x0C
	ParamGATTValidRange           tlv.Type = 0x0D
	ParamStepValue                tlv.Type = 0x0E
	ParamServiceProperties        tlv.Type = 0x0F
	ParamLinkedServices           tlv.Type = 0x10
	ParamValidValues              tlv.Type = 0x11
	ParamValidValuesRange         tlv.Type = 0x12
)

// Characteristic configuration parameters.
const (
	CharConfigProperties        tlv.Type = 0x01
	CharConfigBroadcastInterval tlv.Type = 0x02
)

// CharConfigBroadcastEnabled is the properties bit enabling broadcast
// notifications.
const CharConfigBroadcastEnabled uint16 = 0x0001

// Broadcast intervals.
const (
	BroadcastInterval20ms   uint8 = 0x01
	BroadcastInterval1280ms uint8 = 0x02
	BroadcastInterval2560ms uint8 = 0x03
)

// Protocol configuration request and response parameters.
const (
	ProtoConfigGenerateBroadcastKey tlv.Type = 0x01
	ProtoConfigGetAllParams         tlv.Type = 0x02
	ProtoConfigSetAdvertisingID     tlv.Type = 0x03
	ProtoConfigStateNumber          tlv.Type = 0x01
	ProtoConfigConfigurationNumber  tlv.Type = 0x02
	ProtoConfigAdvertisingID        tlv.Type = 0x03
	ProtoConfigBroadcastKey         tlv.Type = 0x04
)
