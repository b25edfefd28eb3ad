package model

import (
	"bytes"
	"errors"
	"testing"

	"github.com/backkem/hap/pkg/hap"
)

func testAccessory() *Accessory {
	a := &Accessory{AID: 1, Name: "Lamp", Manufacturer: "Acme", Model: "L1", SerialNumber: "0001", FirmwareVersion: "1.0"}
	a.Services = []*Service{
		NewAccessoryInformationService(1, a, nil),
		NewProtocolInformationService(16),
		NewPairingService(32),
	}
	return a
}

func TestHAPType(t *testing.T) {
	u := HAPType(0x4E)
	if got, want := u.String(), "0000004e-0000-1000-8000-0026bb765291"; got != want {
		t.Fatalf("HAPType(0x4E) = %s, want %s", got, want)
	}
	short, ok := ShortType(u)
	if !ok || short != 0x4E {
		t.Fatalf("ShortType = %#x, %v", short, ok)
	}
	if _, ok := ShortType(CharacteristicTypeServiceInstanceID); ok {
		t.Fatal("custom uuid reported as short type")
	}
}

func TestUUIDBytesLE(t *testing.T) {
	le := UUIDBytesLE(ServiceTypePairing)
	if le[0] != 0x91 || le[15] != 0x00 || le[12] != 0x55 {
		t.Fatalf("unexpected wire form % x", le)
	}
	back, err := UUIDFromBytesLE(le)
	if err != nil || back != ServiceTypePairing {
		t.Fatalf("UUIDFromBytesLE = %s, %v", back, err)
	}
	if _, err := UUIDFromBytesLE(le[:15]); !errors.Is(err, hap.ErrInvalidData) {
		t.Fatalf("short uuid error = %v", err)
	}
}

func TestFormat_Validate(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		value  []byte
		max    int
		ok     bool
	}{
		{"bool", FormatBool, []byte{1}, 0, true},
		{"bool out of range", FormatBool, []byte{2}, 0, false},
		{"uint16 short", FormatUInt16, []byte{1}, 0, false},
		{"float", FormatFloat, EncodeNumber(FormatFloat, 1.5), 0, true},
		{"float nan", FormatFloat, []byte{0x00, 0x00, 0xC0, 0x7F}, 0, false},
		{"string", FormatString, []byte("hello"), 64, true},
		{"string too long", FormatString, []byte("hello"), 4, false},
		{"string not utf8", FormatString, []byte{0xFF}, 64, false},
		{"data", FormatData, []byte{0xFF, 0x00}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.format.Validate(tt.value, tt.max)
			if (err == nil) != tt.ok {
				t.Fatalf("Validate(% x) = %v, want ok=%v", tt.value, err, tt.ok)
			}
		})
	}
}

func TestProperties_Descriptor(t *testing.T) {
	p := Properties{Readable: true, Writable: true, RequiresTimedWrite: true, BLE: BLEProperties{ReadableWithoutSecurity: true}}
	if got, want := p.Descriptor(), uint16(0x0001|0x0008|0x0010|0x0020); got != want {
		t.Fatalf("Descriptor() = %#04x, want %#04x", got, want)
	}
	sp := ServiceProperties{Primary: true, SupportsConfiguration: true}
	if got := sp.Descriptor(); got != 0x0005 {
		t.Fatalf("service Descriptor() = %#04x", got)
	}
}

func TestAccessory_Lookup(t *testing.T) {
	a := testAccessory()
	if err := a.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	c, s, ok := a.Lookup(34)
	if !ok || c.Type != CharacteristicTypePairVerify || s.Type != ServiceTypePairing {
		t.Fatalf("Lookup(34) = %v %v %v", c, s, ok)
	}
	if !c.DropsSecuritySession() {
		t.Error("Pair Verify must drop the security session")
	}
	if _, _, ok := a.Lookup(999); ok {
		t.Error("Lookup(999) found a characteristic")
	}

	sig, svc, ok := a.Find(ServiceTypeProtocolInformation, CharacteristicTypeServiceSignature)
	if !ok || !sig.SupportsServiceProcedures() || !svc.SupportsAccessoryProcedures() {
		t.Fatal("protocol information service is not wired for service procedures")
	}

	idx, ok := a.CharacteristicIndex(sig)
	if !ok || idx != 6 {
		t.Fatalf("CharacteristicIndex = %d, %v", idx, ok)
	}
}

func TestAccessory_ValidateDuplicate(t *testing.T) {
	a := testAccessory()
	a.Services = append(a.Services, &Service{IID: 2, Type: ServiceTypeLightBulb})
	if err := a.Validate(); !errors.Is(err, ErrDuplicateIID) {
		t.Fatalf("Validate() = %v, want ErrDuplicateIID", err)
	}
}

func TestCharacteristic_ReadWrite(t *testing.T) {
	a := testAccessory()
	c, _, _ := a.Find(ServiceTypeAccessoryInformation, CharacteristicTypeModel)
	v, err := c.Read(ReadRequest{Characteristic: c})
	if err != nil || !bytes.Equal(v, []byte("L1")) {
		t.Fatalf("Read() = %q, %v", v, err)
	}
	if err := c.Write(WriteRequest{}, []byte("x")); !errors.Is(err, ErrNotWritable) {
		t.Fatalf("Write() = %v, want ErrNotWritable", err)
	}

	var got []byte
	on := &Characteristic{
		IID:    40,
		Type:   CharacteristicTypeOn,
		Format: FormatBool,
		OnWrite: func(_ WriteRequest, v []byte) error {
			got = v
			return nil
		},
	}
	if err := on.Write(WriteRequest{}, []byte{2}); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("Write(2) = %v, want ErrInvalidValue", err)
	}
	if err := on.Write(WriteRequest{}, []byte{1}); err != nil || got[0] != 1 {
		t.Fatalf("Write(1) = %v, got %v", err, got)
	}
	if _, err := on.Read(ReadRequest{}); !errors.Is(err, ErrNotReadable) {
		t.Fatalf("Read() = %v, want ErrNotReadable", err)
	}
}
