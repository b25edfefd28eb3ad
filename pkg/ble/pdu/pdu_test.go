package pdu

import (
	"bytes"
	"errors"
	"testing"

	"github.com/backkem/hap/pkg/hap"
	"github.com/backkem/hap/pkg/model"
)

func TestDecode_Request(t *testing.T) {
	// Characteristic-Read, TID 0x2A, IID 0x0102, no body.
	p, err := Decode([]byte{0x00, 0x03, 0x2A, 0x02, 0x01})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if p.Type != TypeRequest || p.Opcode != OpcodeCharacteristicRead || p.TID != 0x2A || p.IID != 0x0102 || p.HasBody {
		t.Fatalf("Decode() = %+v", p)
	}

	// Write with a 4-byte body of which 3 bytes arrive in this fragment.
	p, err = Decode([]byte{0x00, 0x02, 0x01, 0x10, 0x00, 0x04, 0x00, 0xAA, 0xBB, 0xCC})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !p.HasBody || p.TotalBodyLen != 4 || !bytes.Equal(p.Body, []byte{0xAA, 0xBB, 0xCC}) {
		t.Fatalf("Decode() body = %+v", p)
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"reserved bits", []byte{0x10, 0x03, 0x2A, 0x02, 0x01}},
		{"length bit", []byte{0x01, 0x03, 0x2A, 0x02, 0x01}},
		{"unknown type", []byte{0x04, 0x03, 0x2A, 0x02, 0x01}},
		{"continuation", []byte{0x80, 0x2A}},
		{"short request", []byte{0x00, 0x03, 0x2A}},
		{"short body length", []byte{0x00, 0x03, 0x2A, 0x02, 0x01, 0x04}},
		{"trailing bytes", []byte{0x00, 0x03, 0x2A, 0x02, 0x01, 0x01, 0x00, 0xAA, 0xBB}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.data); !errors.Is(err, hap.ErrInvalidData) {
				t.Fatalf("Decode(% x) error = %v, want InvalidData", tt.data, err)
			}
		})
	}
}

func TestDecodeContinuation(t *testing.T) {
	p, err := DecodeContinuation([]byte{0x80, 0x01, 0xDD}, TypeRequest, 4, 3)
	if err != nil {
		t.Fatalf("DecodeContinuation() error = %v", err)
	}
	if !p.Continuation || p.TID != 0x01 || !bytes.Equal(p.Body, []byte{0xDD}) {
		t.Fatalf("DecodeContinuation() = %+v", p)
	}

	// More bytes than remain in the body.
	if _, err := DecodeContinuation([]byte{0x80, 0x01, 0xDD, 0xEE}, TypeRequest, 4, 3); !errors.Is(err, ErrMalformed) {
		t.Fatalf("overlong continuation error = %v", err)
	}
	// Wrong type.
	if _, err := DecodeContinuation([]byte{0x82, 0x01}, TypeRequest, 0, 0); !errors.Is(err, ErrMalformed) {
		t.Fatalf("response continuation error = %v", err)
	}
	// First fragment where a continuation is expected.
	if _, err := DecodeContinuation([]byte{0x00, 0x01}, TypeRequest, 0, 0); !errors.Is(err, ErrMalformed) {
		t.Fatalf("first fragment error = %v", err)
	}
}

func TestPDU_Encode(t *testing.T) {
	resp := &PDU{Type: TypeResponse, TID: 0x2A, Status: StatusSuccess, HasBody: true, TotalBodyLen: 5, Body: []byte{1, 2, 3}}
	b, err := resp.Encode(64)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	want := []byte{0x02, 0x2A, 0x00, 0x05, 0x00, 1, 2, 3}
	if !bytes.Equal(b, want) {
		t.Fatalf("Encode() = % x, want % x", b, want)
	}

	cont := &PDU{Continuation: true, Type: TypeResponse, TID: 0x2A, Body: []byte{4, 5}}
	b, err = cont.Encode(64)
	if err != nil || !bytes.Equal(b, []byte{0x82, 0x2A, 4, 5}) {
		t.Fatalf("Encode() continuation = % x, %v", b, err)
	}

	if _, err := resp.Encode(7); !errors.Is(err, hap.ErrOutOfResources) {
		t.Fatalf("Encode(7) error = %v, want OutOfResources", err)
	}

	// Requests decode back to themselves.
	req := &PDU{Type: TypeRequest, Opcode: OpcodeCharacteristicWrite, TID: 7, IID: 34, HasBody: true, TotalBodyLen: 2, Body: []byte{9, 9}}
	b, _ = req.Encode(64)
	got, err := Decode(b)
	if err != nil || got.Opcode != req.Opcode || got.IID != 34 || !bytes.Equal(got.Body, req.Body) {
		t.Fatalf("Decode(Encode()) = %+v, %v", got, err)
	}
}

func TestOpcode_Rules(t *testing.T) {
	if Opcode(0x0D).IsValid() || Opcode(0x00).IsValid() || !OpcodeInfo.IsValid() {
		t.Fatal("IsValid mismatch")
	}
	if OpcodeCharacteristicRead.SupportedOnTransport(hap.TransportTypeIP) {
		t.Error("characteristic read must not be supported over IP")
	}
	if OpcodeNotificationRegister.SupportedOnTransport(hap.TransportTypeBLE) {
		t.Error("notification register is Thread only")
	}
	if !OpcodeInfo.SupportedOnTransport(hap.TransportTypeIP) {
		t.Error("info is supported on all transports")
	}
	if !OpcodeProtocolConfiguration.RequiresSessionSecurity() || OpcodeCharacteristicRead.RequiresSessionSecurity() {
		t.Error("RequiresSessionSecurity mismatch")
	}
	if OpcodeCharacteristicWrite.SupportedOnTransientSession() || !OpcodeToken.SupportedOnTransientSession() {
		t.Error("SupportedOnTransientSession mismatch")
	}

	info := model.NewProtocolInformationService(16)
	sig := info.Characteristics[0]
	version := info.Characteristics[1]
	pairing := model.NewPairingService(32)

	if !OpcodeServiceSignatureRead.SupportedOnCharacteristic(sig, info) {
		t.Error("service signature read must be supported on the service signature characteristic")
	}
	if OpcodeServiceSignatureRead.SupportedOnCharacteristic(version, info) {
		t.Error("service signature read must not be supported on the version characteristic")
	}
	if OpcodeInfo.SupportedOnCharacteristic(pairing.Characteristics[0], pairing) {
		t.Error("info must not be supported on the pairing service")
	}
	if !OpcodeInfo.SupportedOnCharacteristic(sig, info) {
		t.Error("info must be supported through protocol information")
	}
	if OpcodeServiceSignatureRead.OperationType() != OperationTypeService || OpcodeInfo.OperationType() != OperationTypeAccessory {
		t.Error("OperationType mismatch")
	}
}
