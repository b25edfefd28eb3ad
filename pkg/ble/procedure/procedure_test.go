package procedure

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/backkem/hap/pkg/ble/link"
	"github.com/backkem/hap/pkg/ble/pdu"
	"github.com/backkem/hap/pkg/hap"
	"github.com/backkem/hap/pkg/kvs"
	"github.com/backkem/hap/pkg/model"
	"github.com/backkem/hap/pkg/pairing"
	"github.com/backkem/hap/pkg/session"
	"github.com/backkem/hap/pkg/timer"
	"github.com/backkem/hap/pkg/tlv"
)

// IIDs of the test accessory.
const (
	iidProtocolInfo     = 16
	iidServiceSignature = 17
	iidLightBulb        = 32
	iidOn               = 33
	iidBrightness       = 34
	iidLock             = 35
	iidPairing          = 48
	iidPairVerify       = 50
)

var testDeviceID = [DeviceIDSize]byte{0xA1, 0xB2, 0xC3, 0xD4, 0xE5, 0xF6}

type fixture struct {
	clock     *timer.Manual
	store     *kvs.Memory
	pairings  *pairing.Table
	accessory *model.Accessory
	acc       *session.Session
	ctl       *session.Session
	link      *link.Link

	on          bool
	locked      bool
	invalidated int
	disconnects int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pairings, err := pairing.NewTable(pairing.DefaultTableConfig())
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	f := &fixture{
		clock:    timer.NewManual(time.Unix(1700000000, 0)),
		store:    kvs.NewMemory(),
		pairings: pairings,
	}

	f.accessory = &model.Accessory{AID: 1, Category: 5, Name: "Lamp", Model: "LB1"}
	bulb := &model.Service{
		IID:            iidLightBulb,
		Type:           model.ServiceTypeLightBulb,
		Properties:     model.ServiceProperties{Primary: true},
		LinkedServices: []uint16{iidProtocolInfo},
		Characteristics: []*model.Characteristic{
			{
				IID:    iidOn,
				Type:   model.CharacteristicTypeOn,
				Format: model.FormatBool,
				Properties: model.Properties{
					Readable: true, Writable: true, SupportsEventNotification: true,
					BLE: model.BLEProperties{SupportsBroadcastNotification: true},
				},
				OnRead: func(model.ReadRequest) ([]byte, error) {
					if f.on {
						return []byte{1}, nil
					}
					return []byte{0}, nil
				},
				OnWrite: func(_ model.WriteRequest, v []byte) error {
					f.on = v[0] == 1
					return nil
				},
			},
			{
				IID:         iidBrightness,
				Type:        model.CharacteristicTypeBrightness,
				Format:      model.FormatInt,
				Unit:        model.UnitPercentage,
				Description: "Brightness",
				Properties:  model.Properties{Readable: true, Writable: true},
				Constraints: model.Constraints{HasRange: true, Min: 0, Max: 100, Step: 1},
				OnRead: func(model.ReadRequest) ([]byte, error) {
					return model.EncodeNumber(model.FormatInt, 42), nil
				},
			},
			{
				IID:        iidLock,
				Type:       model.HAPType(0x1E),
				Format:     model.FormatBool,
				Properties: model.Properties{Readable: true, Writable: true, RequiresTimedWrite: true},
				OnWrite: func(_ model.WriteRequest, v []byte) error {
					f.locked = v[0] == 1
					return nil
				},
			},
		},
	}
	f.accessory.Services = []*model.Service{
		model.NewAccessoryInformationService(1, f.accessory, nil),
		model.NewProtocolInformationService(iidProtocolInfo),
		bulb,
		model.NewPairingService(iidPairing),
	}
	if err := f.accessory.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	f.acc = session.New(session.Config{Transport: hap.TransportTypeBLE, Pairings: pairings})
	f.acc.AddHooks(session.Hooks{OnInvalidate: func(*session.Session) { f.invalidated++ }})
	f.link, err = link.New(link.Config{
		Session:      f.acc,
		Timers:       f.clock,
		Disconnector: link.DisconnectorFunc(func() { f.disconnects++ }),
	})
	if err != nil {
		t.Fatalf("link.New() error = %v", err)
	}
	return f
}

// secure starts a session for an admin controller on both sides.
func (f *fixture) secure(t *testing.T) {
	t.Helper()
	var pk [pairing.PublicKeySize]byte
	pk[0] = 0x42
	idx, err := f.pairings.Add(pairing.Record{Identifier: []byte("controller"), PublicKey: pk, Permissions: pairing.PermissionAdmin})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	secret := bytes.Repeat([]byte{7}, session.SharedSecretSize)
	if err := f.acc.Start(secret, idx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.ctl = session.New(session.Config{Transport: hap.TransportTypeBLE, Role: session.RoleController})
	if err := f.ctl.Start(secret, idx); err != nil {
		t.Fatalf("controller Start() error = %v", err)
	}
}

func (f *fixture) procedure(t *testing.T, iid uint16) *Procedure {
	t.Helper()
	c, s, ok := f.accessory.Lookup(iid)
	if !ok {
		t.Fatalf("no characteristic %d", iid)
	}
	p, err := New(Config{
		Accessory:      f.accessory,
		Service:        s,
		Characteristic: c,
		Session:        f.acc,
		Link:           f.link,
		Timers:         f.clock,
		Store:          f.store,
		DeviceID:       testDeviceID,
		Paired:         func() bool { return f.pairings.Count() > 0 },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func request(t *testing.T, op pdu.Opcode, tid uint8, iid uint16, body []byte) []byte {
	t.Helper()
	p := &pdu.PDU{Type: pdu.TypeRequest, Opcode: op, TID: tid, IID: iid, HasBody: body != nil, TotalBodyLen: uint16(len(body)), Body: body}
	b, err := p.Encode(4096)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return b
}

func (f *fixture) write(t *testing.T, p *Procedure, data []byte, secured bool) error {
	t.Helper()
	if secured {
		var err error
		if data, err = f.ctl.EncryptControl(data); err != nil {
			t.Fatalf("EncryptControl() error = %v", err)
		}
	}
	return p.HandleGATTWrite(data)
}

func (f *fixture) read(t *testing.T, p *Procedure, mtu int, secured bool) ([]byte, error) {
	t.Helper()
	frag, err := p.HandleGATTRead(mtu)
	if err != nil {
		return nil, err
	}
	if secured {
		if frag, err = f.ctl.DecryptControl(frag); err != nil {
			t.Fatalf("DecryptControl() error = %v", err)
		}
	}
	return frag, nil
}

// exchange writes a request in one fragment and reads the complete
// response with the given MTU.
func (f *fixture) exchange(t *testing.T, p *Procedure, req []byte, mtu int) (pdu.Status, []byte, error) {
	t.Helper()
	secured := f.acc.IsSecured()
	if err := f.write(t, p, req, secured); err != nil {
		return 0, nil, err
	}
	frag, err := f.read(t, p, mtu, secured)
	if err != nil {
		return 0, nil, err
	}
	resp, err := pdu.Decode(frag)
	if err != nil {
		t.Fatalf("Decode(% x) error = %v", frag, err)
	}
	body := append([]byte(nil), resp.Body...)
	for len(body) < int(resp.TotalBodyLen) {
		frag, err = f.read(t, p, mtu, secured)
		if err != nil {
			return 0, nil, err
		}
		c, err := pdu.DecodeContinuation(frag, pdu.TypeResponse, int(resp.TotalBodyLen), len(body))
		if err != nil {
			t.Fatalf("DecodeContinuation() error = %v", err)
		}
		body = append(body, c.Body...)
	}
	return resp.Status, body, nil
}

func mustParse(t *testing.T, body []byte) tlv.Values {
	t.Helper()
	v, err := tlv.Parse(body)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return v
}

func TestProcedure_UnsecuredAccess(t *testing.T) {
	f := newFixture(t)
	p := f.procedure(t, iidOn)

	status, _, err := f.exchange(t, p, request(t, pdu.OpcodeCharacteristicRead, 1, iidOn, nil), 512)
	if err != nil || status != pdu.StatusInsufficientAuthentication {
		t.Fatalf("read: status = %s, err = %v", status, err)
	}

	body := []byte{byte(pdu.ParamValue), 1, 1}
	status, _, err = f.exchange(t, p, request(t, pdu.OpcodeCharacteristicWrite, 2, iidOn, body), 512)
	if err != nil || status != pdu.StatusInsufficientAuthentication {
		t.Fatalf("write: status = %s, err = %v", status, err)
	}
	if f.on {
		t.Fatal("unsecured write reached the characteristic")
	}
	if p.InProgress() {
		t.Fatal("procedure still in progress after final fragment")
	}
}

func TestProcedure_CharacteristicSignature(t *testing.T) {
	f := newFixture(t)
	p := f.procedure(t, iidBrightness)

	// A small MTU forces a fragmented response.
	status, body, err := f.exchange(t, p, request(t, pdu.OpcodeCharacteristicSignatureRead, 9, iidBrightness, nil), 20)
	if err != nil || status != pdu.StatusSuccess {
		t.Fatalf("status = %s, err = %v", status, err)
	}
	v := mustParse(t, body)

	if got, _ := v.Get(pdu.ParamCharacteristicType); !bytes.Equal(got, model.UUIDBytesLE(model.CharacteristicTypeBrightness)) {
		t.Errorf("characteristic type = % x", got)
	}
	if got, _ := v.Get(pdu.ParamServiceInstanceID); binary.LittleEndian.Uint16(got) != iidLightBulb {
		t.Errorf("service IID = % x", got)
	}
	if got, _ := v.Get(pdu.ParamCharacteristicProperties); binary.LittleEndian.Uint16(got) != 0x0030 {
		t.Errorf("properties = % x, want secure read and write", got)
	}
	if got, _ := v.Get(pdu.ParamGATTUserDescription); string(got) != "Brightness" {
		t.Errorf("description = %q", got)
	}
	if got, _ := v.Get(pdu.ParamGATTPresentationFormat); !bytes.Equal(got, []byte{0x10, 0x00, 0xAD, 0x27, 0x01, 0x00, 0x00}) {
		t.Errorf("presentation format = % x", got)
	}
	if got, _ := v.Get(pdu.ParamGATTValidRange); !bytes.Equal(got, []byte{0, 0, 0, 0, 100, 0, 0, 0}) {
		t.Errorf("valid range = % x", got)
	}
	if got, _ := v.Get(pdu.ParamStepValue); !bytes.Equal(got, []byte{1, 0, 0, 0}) {
		t.Errorf("step = % x", got)
	}
}

func TestProcedure_PairVerifyDropsSecuredSession(t *testing.T) {
	f := newFixture(t)
	f.secure(t)
	p := f.procedure(t, iidPairVerify)

	// A controller starting Pair Verify writes in plaintext.
	if err := p.HandleGATTWrite(request(t, pdu.OpcodeCharacteristicSignatureRead, 1, iidPairVerify, nil)); err != nil {
		t.Fatalf("HandleGATTWrite() error = %v", err)
	}
	if f.invalidated != 1 || f.acc.IsActive() {
		t.Fatalf("invalidated = %d, active = %v", f.invalidated, f.acc.IsActive())
	}
	if f.link.IsTerminal() {
		t.Fatal("dropping the security session must not terminate the link")
	}

	frag, err := f.read(t, p, 512, false)
	if err != nil {
		t.Fatalf("HandleGATTRead() error = %v", err)
	}
	resp, err := pdu.Decode(frag)
	if err != nil || resp.Status != pdu.StatusSuccess {
		t.Fatalf("response = %v, err = %v", resp, err)
	}
	if f.invalidated != 1 {
		t.Fatalf("invalidated = %d after plaintext procedure", f.invalidated)
	}
}

func TestProcedure_ServiceSignature(t *testing.T) {
	f := newFixture(t)
	p := f.procedure(t, iidServiceSignature)

	status, body, err := f.exchange(t, p, request(t, pdu.OpcodeServiceSignatureRead, 1, iidProtocolInfo, nil), 512)
	if err != nil || status != pdu.StatusSuccess {
		t.Fatalf("status = %s, err = %v", status, err)
	}
	v := mustParse(t, body)
	if got, _ := v.Get(pdu.ParamServiceProperties); binary.LittleEndian.Uint16(got) != 0x0004 {
		t.Errorf("service properties = % x", got)
	}

	// An unknown service IID still gets a well-formed answer.
	status, body, err = f.exchange(t, p, request(t, pdu.OpcodeServiceSignatureRead, 2, 0, nil), 512)
	if err != nil || status != pdu.StatusSuccess {
		t.Fatalf("status = %s, err = %v", status, err)
	}
	v = mustParse(t, body)
	props, _ := v.Get(pdu.ParamServiceProperties)
	linked, ok := v.Get(pdu.ParamLinkedServices)
	if !bytes.Equal(props, []byte{0, 0}) || !ok || len(linked) != 0 {
		t.Fatalf("zeroed signature = % x / % x", props, linked)
	}
}

func TestProcedure_RequestRejections(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		iid  uint16
		req  []byte
		want pdu.Status
	}{
		{"unknown opcode", iidOn, []byte{0x00, 0x0D, 0x01, iidOn, 0x00}, pdu.StatusUnsupportedPDU},
		{"thread only opcode", iidOn, request(t, pdu.OpcodeNotificationRegister, 1, iidOn, nil), pdu.StatusUnsupportedPDU},
		{"service procedure on characteristic", iidOn, request(t, pdu.OpcodeServiceSignatureRead, 1, iidLightBulb, nil), pdu.StatusUnsupportedPDU},
		{"instance id mismatch", iidOn, request(t, pdu.OpcodeCharacteristicRead, 1, iidBrightness, nil), pdu.StatusInvalidInstanceID},
		{"info without security", iidServiceSignature, request(t, pdu.OpcodeInfo, 1, iidServiceSignature, nil), pdu.StatusUnsupportedPDU},
		{"token not provisioned", iidServiceSignature, request(t, pdu.OpcodeToken, 1, iidServiceSignature, nil), pdu.StatusInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := f.procedure(t, tt.iid)
			status, _, err := f.exchange(t, p, tt.req, 512)
			if err != nil || status != tt.want {
				t.Fatalf("status = %s, err = %v, want %s", status, err, tt.want)
			}
		})
	}
}

func TestProcedure_SecuredWriteWithResponse(t *testing.T) {
	f := newFixture(t)
	f.secure(t)
	p := f.procedure(t, iidOn)

	// Step 1: write On with a return response.
	body := []byte{byte(pdu.ParamValue), 1, 1, byte(pdu.ParamReturnResponse), 1, 1}
	status, resp, err := f.exchange(t, p, request(t, pdu.OpcodeCharacteristicWrite, 1, iidOn, body), 100)
	if err != nil || status != pdu.StatusSuccess {
		t.Fatalf("write: status = %s, err = %v", status, err)
	}
	if !f.on {
		t.Fatal("write not applied")
	}
	if !bytes.Equal(resp, []byte{byte(pdu.ParamValue), 1, 1}) {
		t.Fatalf("write response = % x", resp)
	}

	// Step 2: plain write answers without a body.
	body = []byte{byte(pdu.ParamValue), 1, 0}
	status, resp, err = f.exchange(t, p, request(t, pdu.OpcodeCharacteristicWrite, 2, iidOn, body), 100)
	if err != nil || status != pdu.StatusSuccess || len(resp) != 0 || f.on {
		t.Fatalf("write: status = %s, body = % x, err = %v, on = %v", status, resp, err, f.on)
	}

	// Step 3: encrypted read.
	status, resp, err = f.exchange(t, p, request(t, pdu.OpcodeCharacteristicRead, 3, iidOn, nil), 100)
	if err != nil || status != pdu.StatusSuccess || !bytes.Equal(resp, []byte{byte(pdu.ParamValue), 1, 0}) {
		t.Fatalf("read: status = %s, body = % x, err = %v", status, resp, err)
	}

	// Step 4: malformed values are rejected.
	body = []byte{byte(pdu.ParamValue), 1, 2}
	status, _, err = f.exchange(t, p, request(t, pdu.OpcodeCharacteristicWrite, 4, iidOn, body), 100)
	if err != nil || status != pdu.StatusInvalidRequest {
		t.Fatalf("invalid bool: status = %s, err = %v", status, err)
	}
}

func TestProcedure_SecuredFragmentWithoutTag(t *testing.T) {
	f := newFixture(t)
	f.secure(t)
	p := f.procedure(t, iidOn)

	if err := p.HandleGATTWrite([]byte{0x00, 0x03, 0x01, iidOn, 0x00}); !errors.Is(err, hap.ErrInvalidData) {
		t.Fatalf("HandleGATTWrite() error = %v, want InvalidData", err)
	}
}

func TestProcedure_TimedWrite(t *testing.T) {
	ttl := func(units uint8) []byte {
		return []byte{byte(pdu.ParamValue), 1, 1, byte(pdu.ParamTTL), 1, units}
	}

	t.Run("requires timed write", func(t *testing.T) {
		f := newFixture(t)
		f.secure(t)
		p := f.procedure(t, iidLock)
		status, _, err := f.exchange(t, p, request(t, pdu.OpcodeCharacteristicWrite, 1, iidLock, ttl(10)), 100)
		if err != nil || status != pdu.StatusInvalidRequest || f.locked {
			t.Fatalf("status = %s, err = %v, locked = %v", status, err, f.locked)
		}
	})

	t.Run("execute within ttl", func(t *testing.T) {
		f := newFixture(t)
		f.secure(t)
		p := f.procedure(t, iidLock)

		status, _, err := f.exchange(t, p, request(t, pdu.OpcodeCharacteristicTimedWrite, 1, iidLock, ttl(10)), 100)
		if err != nil || status != pdu.StatusSuccess {
			t.Fatalf("timed write: status = %s, err = %v", status, err)
		}
		if !p.InProgress() || f.locked {
			t.Fatal("timed write must stage the value and keep the procedure open")
		}

		f.clock.Advance(500 * time.Millisecond)
		status, _, err = f.exchange(t, p, request(t, pdu.OpcodeCharacteristicExecuteWrite, 2, iidLock, nil), 100)
		if err != nil || status != pdu.StatusSuccess || !f.locked {
			t.Fatalf("execute: status = %s, err = %v, locked = %v", status, err, f.locked)
		}
		if p.InProgress() {
			t.Fatal("procedure still in progress after execute")
		}
	})

	t.Run("expired", func(t *testing.T) {
		f := newFixture(t)
		f.secure(t)
		p := f.procedure(t, iidLock)

		_, _, _ = f.exchange(t, p, request(t, pdu.OpcodeCharacteristicTimedWrite, 1, iidLock, ttl(10)), 100)
		f.clock.Advance(1100 * time.Millisecond)
		status, _, err := f.exchange(t, p, request(t, pdu.OpcodeCharacteristicExecuteWrite, 2, iidLock, nil), 100)
		if err != nil || status != pdu.StatusUnsupportedPDU || f.locked {
			t.Fatalf("execute: status = %s, err = %v, locked = %v", status, err, f.locked)
		}
	})

	t.Run("other procedure while staged", func(t *testing.T) {
		f := newFixture(t)
		f.secure(t)
		p := f.procedure(t, iidLock)

		_, _, _ = f.exchange(t, p, request(t, pdu.OpcodeCharacteristicTimedWrite, 1, iidLock, ttl(10)), 100)
		_, _, err := f.exchange(t, p, request(t, pdu.OpcodeCharacteristicRead, 2, iidLock, nil), 100)
		if !errors.Is(err, hap.ErrInvalidState) {
			t.Fatalf("read during timed write error = %v, want InvalidState", err)
		}
	})

	t.Run("execute without timed write", func(t *testing.T) {
		f := newFixture(t)
		f.secure(t)
		p := f.procedure(t, iidLock)

		_, _, err := f.exchange(t, p, request(t, pdu.OpcodeCharacteristicExecuteWrite, 1, iidLock, nil), 100)
		if !errors.Is(err, hap.ErrInvalidState) {
			t.Fatalf("execute error = %v, want InvalidState", err)
		}
	})
}

func TestProcedure_Timeout(t *testing.T) {
	f := newFixture(t)
	p := f.procedure(t, iidOn)

	// First fragment of a request whose body never completes.
	if err := p.HandleGATTWrite([]byte{0x00, 0x02, 0x01, iidOn, 0x00, 0x08, 0x00, 0x01}); err != nil {
		t.Fatalf("HandleGATTWrite() error = %v", err)
	}
	if !p.InProgress() {
		t.Fatal("procedure not started")
	}

	f.clock.Advance(Timeout - time.Millisecond)
	if f.invalidated != 0 {
		t.Fatal("timed out early")
	}
	f.clock.Advance(time.Millisecond)
	if f.invalidated != 1 || f.disconnects != 1 || !f.link.IsTerminal() {
		t.Fatalf("after timeout: invalidated = %d, disconnects = %d, terminal = %v", f.invalidated, f.disconnects, f.link.IsTerminal())
	}
	if p.InProgress() {
		t.Fatal("procedure still in progress after timeout")
	}

	f.clock.Advance(time.Minute)
	if f.invalidated != 1 || f.disconnects != 1 {
		t.Fatalf("repeated teardown: invalidated = %d, disconnects = %d", f.invalidated, f.disconnects)
	}
	if err := p.HandleGATTWrite([]byte{0x80, 0x01, 0x02}); !errors.Is(err, hap.ErrInvalidState) {
		t.Fatalf("write on terminal link error = %v", err)
	}
}

func TestProcedure_ProtocolConfiguration(t *testing.T) {
	f := newFixture(t)
	p := f.procedure(t, iidServiceSignature)
	req := func(tid uint8, body []byte) []byte {
		return request(t, pdu.OpcodeProtocolConfiguration, tid, iidProtocolInfo, body)
	}
	getAll := []byte{byte(pdu.ProtoConfigGetAllParams), 0}

	// Unsecured sessions may not configure the protocol.
	status, _, err := f.exchange(t, p, req(1, getAll), 512)
	if err != nil || status != pdu.StatusUnsupportedPDU {
		t.Fatalf("unsecured: status = %s, err = %v", status, err)
	}

	f.secure(t)

	// Step 1: GetAll without a broadcast key.
	status, body, err := f.exchange(t, p, req(2, getAll), 512)
	if err != nil || status != pdu.StatusSuccess {
		t.Fatalf("get all: status = %s, err = %v", status, err)
	}
	v := mustParse(t, body)
	if got, _ := v.Get(pdu.ProtoConfigStateNumber); !bytes.Equal(got, []byte{1, 0}) {
		t.Errorf("state number = % x", got)
	}
	if got, _ := v.Get(pdu.ProtoConfigConfigurationNumber); !bytes.Equal(got, []byte{1}) {
		t.Errorf("configuration number = % x", got)
	}
	if got, _ := v.Get(pdu.ProtoConfigAdvertisingID); !bytes.Equal(got, testDeviceID[:]) {
		t.Errorf("advertising id = % x", got)
	}
	if v.Has(pdu.ProtoConfigBroadcastKey) {
		t.Error("broadcast key reported before generation")
	}

	// Step 2: generate a key and set an advertising identifier.
	advID := []byte{1, 2, 3, 4, 5, 6}
	gen := append([]byte{byte(pdu.ProtoConfigGenerateBroadcastKey), 0, byte(pdu.ProtoConfigSetAdvertisingID), 6}, advID...)
	status, body, err = f.exchange(t, p, req(3, gen), 512)
	if err != nil || status != pdu.StatusSuccess || len(body) != 0 {
		t.Fatalf("generate: status = %s, body = % x, err = %v", status, body, err)
	}

	// Step 3: GetAll reports the key.
	status, body, err = f.exchange(t, p, req(4, getAll), 512)
	if err != nil || status != pdu.StatusSuccess {
		t.Fatalf("get all: status = %s, err = %v", status, err)
	}
	v = mustParse(t, body)
	bp, err := kvs.ReadBroadcastParameters(f.store)
	if err != nil {
		t.Fatalf("ReadBroadcastParameters() error = %v", err)
	}
	if got, _ := v.Get(pdu.ProtoConfigBroadcastKey); !bytes.Equal(got, bp.Key[:]) {
		t.Errorf("broadcast key = % x", got)
	}
	if got, _ := v.Get(pdu.ProtoConfigAdvertisingID); !bytes.Equal(got, advID) {
		t.Errorf("advertising id = % x", got)
	}

	// Malformed requests.
	status, _, err = f.exchange(t, p, req(5, []byte{byte(pdu.ProtoConfigGenerateBroadcastKey), 1, 0}), 512)
	if err != nil || status != pdu.StatusInvalidRequest {
		t.Fatalf("non-empty generate: status = %s, err = %v", status, err)
	}
}

func TestProcedure_CharacteristicConfiguration(t *testing.T) {
	f := newFixture(t)
	f.secure(t)
	p := f.procedure(t, iidOn)
	req := func(tid uint8, body []byte) []byte {
		return request(t, pdu.OpcodeCharacteristicConfiguration, tid, iidOn, body)
	}

	// Step 1: enable broadcasts at 1280 ms.
	enable := []byte{byte(pdu.CharConfigProperties), 2, 0x01, 0x00, byte(pdu.CharConfigBroadcastInterval), 1, pdu.BroadcastInterval1280ms}
	status, body, err := f.exchange(t, p, req(1, enable), 512)
	if err != nil || status != pdu.StatusSuccess {
		t.Fatalf("enable: status = %s, err = %v", status, err)
	}
	v := mustParse(t, body)
	if got, _ := v.Get(pdu.CharConfigProperties); !bytes.Equal(got, []byte{0x01, 0x00}) {
		t.Errorf("properties = % x", got)
	}
	if got, _ := v.Get(pdu.CharConfigBroadcastInterval); !bytes.Equal(got, []byte{pdu.BroadcastInterval1280ms}) {
		t.Errorf("interval = % x", got)
	}

	// Step 2: an empty request reads back the stored configuration.
	status, body, err = f.exchange(t, p, req(2, nil), 512)
	if err != nil || status != pdu.StatusSuccess {
		t.Fatalf("read back: status = %s, err = %v", status, err)
	}
	if !mustParse(t, body).Has(pdu.CharConfigBroadcastInterval) {
		t.Error("interval missing from read back")
	}

	// Step 3: disable.
	status, body, err = f.exchange(t, p, req(3, []byte{byte(pdu.CharConfigProperties), 2, 0x00, 0x00}), 512)
	if err != nil || status != pdu.StatusSuccess || !bytes.Equal(body, []byte{byte(pdu.CharConfigProperties), 2, 0, 0}) {
		t.Fatalf("disable: status = %s, body = % x, err = %v", status, body, err)
	}

	// Characteristics without broadcast support reject enabling.
	pb := f.procedure(t, iidBrightness)
	enable = []byte{byte(pdu.CharConfigProperties), 2, 0x01, 0x00}
	status, _, err = f.exchange(t, pb, request(t, pdu.OpcodeCharacteristicConfiguration, 4, iidBrightness, enable), 512)
	if err != nil || status != pdu.StatusInvalidRequest {
		t.Fatalf("unsupported: status = %s, err = %v", status, err)
	}
}

func TestProcedure_Info(t *testing.T) {
	f := newFixture(t)
	f.secure(t)
	p := f.procedure(t, iidServiceSignature)

	status, body, err := f.exchange(t, p, request(t, pdu.OpcodeInfo, 1, iidServiceSignature, nil), 512)
	if err != nil || status != pdu.StatusSuccess {
		t.Fatalf("status = %s, err = %v", status, err)
	}
	v := mustParse(t, body)
	if got, _ := v.Get(infoDeviceIdentifier); !bytes.Equal(got, testDeviceID[:]) {
		t.Errorf("device id = % x", got)
	}
	if got, _ := v.Get(infoModelName); string(got) != "LB1" {
		t.Errorf("model = %q", got)
	}
	if got, _ := v.Get(infoStatusFlag); !bytes.Equal(got, []byte{0}) {
		t.Errorf("status flags = % x, want paired", got)
	}
	if got, _ := v.Get(infoCategoryIdentifier); !bytes.Equal(got, []byte{5, 0}) {
		t.Errorf("category = % x", got)
	}
}

func TestProcedure_Identify(t *testing.T) {
	f := newFixture(t)
	identified := 0
	f.accessory.Services[0] = model.NewAccessoryInformationService(1, f.accessory, func() error {
		identified++
		return nil
	})
	p := f.procedure(t, 2)

	// Unpaired accessories may be identified without security.
	body := []byte{byte(pdu.ParamValue), 1, 1}
	status, _, err := f.exchange(t, p, request(t, pdu.OpcodeCharacteristicWrite, 1, 2, body), 512)
	if err != nil || status != pdu.StatusSuccess || identified != 1 {
		t.Fatalf("status = %s, err = %v, identified = %d", status, err, identified)
	}

	// Once paired, identify requires a secure session.
	if _, err := f.pairings.Add(pairing.Record{Identifier: []byte("other"), Permissions: pairing.PermissionAdmin}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	status, _, err = f.exchange(t, p, request(t, pdu.OpcodeCharacteristicWrite, 2, 2, body), 512)
	if err != nil || status != pdu.StatusInsufficientAuthentication || identified != 1 {
		t.Fatalf("status = %s, err = %v, identified = %d", status, err, identified)
	}
}
