package procedure

import (
	"encoding/binary"
	"fmt"

	"github.com/backkem/hap/pkg/ble/pdu"
	"github.com/backkem/hap/pkg/hap"
	"github.com/backkem/hap/pkg/kvs"
	"github.com/backkem/hap/pkg/model"
	"github.com/backkem/hap/pkg/tlv"
)

func validBroadcastInterval(v uint8) bool {
	switch v {
	case pdu.BroadcastInterval20ms, pdu.BroadcastInterval1280ms, pdu.BroadcastInterval2560ms:
		return true
	}
	return false
}

// handleCharacteristicConfiguration applies a
// HAP-Characteristic-Configuration request.
func (p *Procedure) handleCharacteristicConfiguration(body []byte) error {
	c := p.config.Characteristic
	aid := uint16(p.config.Accessory.AID)

	values, err := tlv.Parse(body, pdu.CharConfigProperties, pdu.CharConfigBroadcastInterval)
	if err != nil {
		return err
	}
	interval, hasInterval, err := values.Uint8(pdu.CharConfigBroadcastInterval)
	if err != nil {
		return err
	}

	raw, ok := values.Get(pdu.CharConfigProperties)
	if !ok {
		if hasInterval {
			return fmt.Errorf("procedure: broadcast interval without properties: %w", hap.ErrInvalidData)
		}
		return nil
	}
	if len(raw) != 2 {
		return fmt.Errorf("procedure: properties of %d bytes: %w", len(raw), hap.ErrInvalidData)
	}
	props := binary.LittleEndian.Uint16(raw)
	if props&^pdu.CharConfigBroadcastEnabled != 0 {
		return fmt.Errorf("procedure: unknown properties 0x%04X: %w", props, hap.ErrInvalidData)
	}

	if props&pdu.CharConfigBroadcastEnabled == 0 {
		if hasInterval {
			return fmt.Errorf("procedure: broadcast interval while disabling broadcasts: %w", hap.ErrInvalidData)
		}
		if !c.Properties.BLE.SupportsBroadcastNotification {
			return nil
		}
		return kvs.DisableBroadcast(p.config.Store, aid, c.IID)
	}

	if !hasInterval {
		interval = pdu.BroadcastInterval20ms
	} else if !validBroadcastInterval(interval) {
		return fmt.Errorf("procedure: invalid broadcast interval 0x%02X: %w", interval, hap.ErrInvalidData)
	}
	if !c.Properties.BLE.SupportsBroadcastNotification {
		return fmt.Errorf("procedure: characteristic does not support broadcasts: %w", hap.ErrInvalidData)
	}
	return kvs.EnableBroadcast(p.config.Store, aid, c.IID, interval)
}

// characteristicConfiguration serializes the current configuration.
func (p *Procedure) characteristicConfiguration(w *tlv.Writer) ([]byte, error) {
	c := p.config.Characteristic

	var props uint16
	if c.Properties.BLE.SupportsBroadcastNotification {
		cfg, err := kvs.ReadBroadcastConfiguration(p.config.Store, uint16(p.config.Accessory.AID))
		if err != nil {
			return nil, err
		}
		if interval, ok := cfg.Lookup(c.IID); ok {
			if !validBroadcastInterval(interval) {
				return nil, fmt.Errorf("procedure: stored broadcast interval 0x%02X: %w", interval, hap.ErrUnknown)
			}
			props |= pdu.CharConfigBroadcastEnabled
			if err := w.AppendUint8(pdu.CharConfigBroadcastInterval, interval); err != nil {
				return nil, err
			}
		}
	}
	if err := w.Append(pdu.CharConfigProperties, le16(props)); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// handleProtocolConfiguration applies a HAP-Protocol-Configuration request
// and reports whether the controller asked for all parameters.
func (p *Procedure) handleProtocolConfiguration(body []byte) (bool, error) {
	values, err := tlv.Parse(body,
		pdu.ProtoConfigGenerateBroadcastKey, pdu.ProtoConfigGetAllParams, pdu.ProtoConfigSetAdvertisingID)
	if err != nil {
		return false, err
	}

	generate, ok := values.Get(pdu.ProtoConfigGenerateBroadcastKey)
	if ok && len(generate) != 0 {
		return false, fmt.Errorf("procedure: generate broadcast key is not empty: %w", hap.ErrInvalidData)
	}
	generateKey := ok

	getAllValue, getAll := values.Get(pdu.ProtoConfigGetAllParams)
	if getAll && len(getAllValue) != 0 {
		return false, fmt.Errorf("procedure: get all params is not empty: %w", hap.ErrInvalidData)
	}

	var advertisingID *[kvs.AdvertisingIDSize]byte
	if raw, ok := values.Get(pdu.ProtoConfigSetAdvertisingID); ok {
		if len(raw) != kvs.AdvertisingIDSize {
			return false, fmt.Errorf("procedure: advertising id of %d bytes: %w", len(raw), hap.ErrInvalidData)
		}
		advertisingID = (*[kvs.AdvertisingIDSize]byte)(raw)
	}

	switch {
	case generateKey:
		if err := p.generateBroadcastKey(advertisingID); err != nil {
			return false, err
		}
	case advertisingID != nil:
		if err := kvs.SetAdvertisingID(p.config.Store, *advertisingID); err != nil {
			return false, err
		}
	}
	return getAll, nil
}

func (p *Procedure) generateBroadcastKey(advertisingID *[kvs.AdvertisingIDSize]byte) error {
	s := p.config.Session
	r, ok := s.Pairing()
	if !ok {
		return fmt.Errorf("procedure: broadcast key needs a paired session: %w", hap.ErrInvalidState)
	}
	return kvs.GenerateBroadcastKey(p.config.Store, s.SharedSecret(), r.PublicKey[:], advertisingID)
}

// protocolConfiguration serializes the GetAll response: state number,
// configuration number, advertising identifier and, while valid, the
// broadcast key.
func (p *Procedure) protocolConfiguration(w *tlv.Writer) ([]byte, error) {
	st := p.config.Store

	gsn, err := kvs.ReadGSN(st)
	if err != nil {
		return nil, err
	}
	if err := w.Append(pdu.ProtoConfigStateNumber, le16(gsn)); err != nil {
		return nil, err
	}

	cn, err := kvs.ReadConfigurationNumber(st)
	if err != nil {
		return nil, err
	}
	// BLE carries the configuration number in one byte, wrapping 255 to 1.
	if err := w.AppendUint8(pdu.ProtoConfigConfigurationNumber, uint8((cn-1)%255+1)); err != nil {
		return nil, err
	}

	bp, err := kvs.ReadBroadcastParameters(st)
	if err != nil {
		return nil, err
	}
	advertisingID := p.config.DeviceID
	if bp.HasAdvertisingID {
		advertisingID = bp.AdvertisingID
	}
	if err := w.Append(pdu.ProtoConfigAdvertisingID, advertisingID[:]); err != nil {
		return nil, err
	}
	if bp.KeyValid() {
		if err := w.Append(pdu.ProtoConfigBroadcastKey, bp.Key[:]); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// HAP-Info response parameters.
const (
	infoStateNumber        tlv.Type = 0x01
	infoConfigNumber       tlv.Type = 0x02
	infoDeviceIdentifier   tlv.Type = 0x03
	infoFeatureFlags       tlv.Type = 0x04
	infoModelName          tlv.Type = 0x05
	infoProtocolVersion    tlv.Type = 0x06
	infoStatusFlag         tlv.Type = 0x07
	infoCategoryIdentifier tlv.Type = 0x08
)

// statusFlagNotPaired is set in the status flags while unpaired.
const statusFlagNotPaired = 0x01

// info serializes the HAP-Info response.
func (p *Procedure) info(w *tlv.Writer) ([]byte, error) {
	st := p.config.Store
	a := p.config.Accessory

	gsn, err := kvs.ReadGSN(st)
	if err != nil {
		return nil, err
	}
	cn, err := kvs.ReadConfigurationNumber(st)
	if err != nil {
		return nil, err
	}
	var status uint8
	if !p.paired() {
		status |= statusFlagNotPaired
	}

	items := []struct {
		t tlv.Type
		v []byte
	}{
		{infoStateNumber, le16(gsn)},
		{infoConfigNumber, le16(uint16(cn))},
		{infoDeviceIdentifier, p.config.DeviceID[:]},
		// No MFi authentication is supported.
		{infoFeatureFlags, []byte{0}},
		{infoModelName, []byte(a.Model)},
		{infoProtocolVersion, []byte(model.ProtocolVersion)},
		{infoStatusFlag, []byte{status}},
		{infoCategoryIdentifier, le16(a.Category)},
	}
	for _, it := range items {
		if err := w.Append(it.t, it.v); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}
