package procedure

import (
	"encoding/binary"

	"github.com/backkem/hap/pkg/ble/pdu"
	"github.com/backkem/hap/pkg/model"
	"github.com/backkem/hap/pkg/tlv"
)

// GATT presentation format namespace of the Bluetooth SIG.
const btSIGNamespace = 0x01

func le16(v uint16) []byte {
	return binary.LittleEndian.AppendUint16(nil, v)
}

// characteristicSignature serializes a HAP-Characteristic-Signature-Read
// response.
func characteristicSignature(w *tlv.Writer, c *model.Characteristic, s *model.Service) ([]byte, error) {
	if err := w.Append(pdu.ParamCharacteristicType, model.UUIDBytesLE(c.Type)); err != nil {
		return nil, err
	}
	if err := w.Append(pdu.ParamServiceInstanceID, le16(s.IID)); err != nil {
		return nil, err
	}
	if err := w.Append(pdu.ParamServiceType, model.UUIDBytesLE(s.Type)); err != nil {
		return nil, err
	}
	if err := w.Append(pdu.ParamCharacteristicProperties, le16(c.Properties.Descriptor())); err != nil {
		return nil, err
	}
	if c.Description != "" {
		if err := w.AppendString(pdu.ParamGATTUserDescription, c.Description); err != nil {
			return nil, err
		}
	}
	if err := w.Append(pdu.ParamGATTPresentationFormat, presentationFormat(c)); err != nil {
		return nil, err
	}

	k := c.Constraints
	numeric := c.Format.Size() != 0 && c.Format != model.FormatBool
	if numeric && k.HasRange {
		r := append(model.EncodeNumber(c.Format, k.Min), model.EncodeNumber(c.Format, k.Max)...)
		if err := w.Append(pdu.ParamGATTValidRange, r); err != nil {
			return nil, err
		}
		if k.Step > 0 {
			if err := w.Append(pdu.ParamStepValue, model.EncodeNumber(c.Format, k.Step)); err != nil {
				return nil, err
			}
		}
	}
	if c.Format == model.FormatUInt8 && len(k.ValidValues) > 0 {
		if err := w.Append(pdu.ParamValidValues, k.ValidValues); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// presentationFormat returns the 7-byte GATT presentation format
// descriptor: format, exponent, unit, namespace, description.
func presentationFormat(c *model.Characteristic) []byte {
	unit := model.UnitNone
	if c.Format.Size() != 0 && c.Format != model.FormatBool {
		unit = c.Unit
	}
	b := []byte{c.Format.PresentationFormat(), 0}
	b = binary.LittleEndian.AppendUint16(b, unit.GATTUnit())
	b = append(b, btSIGNamespace)
	return binary.LittleEndian.AppendUint16(b, 0)
}

// serviceSignature serializes a HAP-Service-Signature-Read response. A
// nil service answers with zero properties and no linked services.
func serviceSignature(w *tlv.Writer, s *model.Service) ([]byte, error) {
	var (
		props  uint16
		linked []byte
	)
	if s != nil {
		props = s.Properties.Descriptor()
		for _, iid := range s.LinkedServices {
			linked = binary.LittleEndian.AppendUint16(linked, iid)
		}
	}
	if err := w.Append(pdu.ParamServiceProperties, le16(props)); err != nil {
		return nil, err
	}
	if err := w.Append(pdu.ParamLinkedServices, linked); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}
