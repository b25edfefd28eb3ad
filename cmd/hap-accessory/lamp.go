package main

import (
	"sync"

	"github.com/backkem/hap/pkg/model"
)

// IIDs of the lamp attribute database.
const (
	iidInfo         = 1
	iidProtocolInfo = 16
	iidLightBulb    = 32
	iidOn           = 33
	iidBrightness   = 34
	iidPairing      = 48
	iidPairVerify   = iidPairing + 2
	iidPairings     = iidPairing + 4
)

// lamp is a dimmable light bulb.
type lamp struct {
	mu         sync.Mutex
	on         bool
	brightness []byte
	identified int
}

func newLamp() *lamp {
	return &lamp{brightness: model.EncodeNumber(model.FormatInt, 100)}
}

func (l *lamp) accessory(cfg Config) *model.Accessory {
	a := &model.Accessory{
		AID:             1,
		Category:        cfg.Category,
		Name:            cfg.Name,
		Manufacturer:    cfg.Manufacturer,
		Model:           cfg.Model,
		SerialNumber:    cfg.SerialNumber,
		FirmwareVersion: cfg.FirmwareRevision,
	}
	bulb := &model.Service{
		IID:        iidLightBulb,
		Type:       model.ServiceTypeLightBulb,
		Name:       "Light",
		Properties: model.ServiceProperties{Primary: true},
		Characteristics: []*model.Characteristic{
			{
				IID:    iidOn,
				Type:   model.CharacteristicTypeOn,
				Format: model.FormatBool,
				Properties: model.Properties{
					Readable: true, Writable: true, SupportsEventNotification: true,
					BLE: model.BLEProperties{SupportsBroadcastNotification: true},
				},
				OnRead:  l.readOn,
				OnWrite: l.writeOn,
			},
			{
				IID:         iidBrightness,
				Type:        model.CharacteristicTypeBrightness,
				Format:      model.FormatInt,
				Unit:        model.UnitPercentage,
				Description: "Brightness",
				Properties:  model.Properties{Readable: true, Writable: true, SupportsEventNotification: true},
				Constraints: model.Constraints{HasRange: true, Min: 0, Max: 100, Step: 1},
				OnRead:      l.readBrightness,
				OnWrite:     l.writeBrightness,
			},
		},
	}
	a.Services = []*model.Service{
		model.NewAccessoryInformationService(iidInfo, a, l.identify),
		model.NewProtocolInformationService(iidProtocolInfo),
		bulb,
		model.NewPairingService(iidPairing),
	}
	return a
}

func (l *lamp) readOn(model.ReadRequest) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.on {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}

func (l *lamp) writeOn(_ model.WriteRequest, v []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.on = v[0] != 0
	return nil
}

func (l *lamp) readBrightness(model.ReadRequest) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]byte(nil), l.brightness...), nil
}

func (l *lamp) writeBrightness(_ model.WriteRequest, v []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.brightness = append(l.brightness[:0], v...)
	return nil
}

func (l *lamp) identify() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.identified++
	return nil
}
