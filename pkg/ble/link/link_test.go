package link

import (
	"bytes"
	"testing"
	"time"

	"github.com/backkem/hap/pkg/hap"
	"github.com/backkem/hap/pkg/pairing"
	"github.com/backkem/hap/pkg/session"
	"github.com/backkem/hap/pkg/timer"
)

type fixture struct {
	clock       *timer.Manual
	pairings    *pairing.Table
	session     *session.Session
	link        *Link
	disconnects int
	invalidated int
	running     bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pairings, err := pairing.NewTable(pairing.DefaultTableConfig())
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	f := &fixture{
		clock:    timer.NewManual(time.Unix(1700000000, 0)),
		pairings: pairings,
		running:  true,
	}
	f.session = session.New(session.Config{Transport: hap.TransportTypeBLE, Pairings: pairings})
	f.session.AddHooks(session.Hooks{OnInvalidate: func(*session.Session) { f.invalidated++ }})
	f.link, err = New(Config{
		Session:      f.session,
		Timers:       f.clock,
		Disconnector: DisconnectorFunc(func() { f.disconnects++ }),
		Running:      func() bool { return f.running },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return f
}

func (f *fixture) secure(t *testing.T) {
	t.Helper()
	idx, err := f.pairings.Add(pairing.Record{Identifier: []byte("controller"), Permissions: pairing.PermissionAdmin})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := f.session.Start(bytes.Repeat([]byte{7}, session.SharedSecretSize), idx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

func TestLink_FirstProcedureDeadline(t *testing.T) {
	f := newFixture(t)
	if f.session.BLE().Link != f.link {
		t.Fatal("link not attached to session")
	}

	f.clock.Advance(LinkTimeout)

	if f.invalidated != 1 || f.disconnects != 1 || !f.link.IsTerminal() {
		t.Fatalf("after link timeout: invalidated=%d disconnects=%d terminal=%v", f.invalidated, f.disconnects, f.link.IsTerminal())
	}
}

func TestLink_UnsecuredProcedureClearsLinkTimer(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(5 * time.Second)
	f.link.DidStartProcedure()

	f.clock.Advance(time.Minute)

	if f.invalidated != 0 || f.disconnects != 0 {
		t.Fatalf("link timer fired after first procedure: invalidated=%d disconnects=%d", f.invalidated, f.disconnects)
	}
	if f.clock.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", f.clock.Pending())
	}
}

func TestLink_SecuredIdleTimer(t *testing.T) {
	f := newFixture(t)
	f.secure(t)

	// Step 1: Pair Verify completes, the idle timer replaces the link timer.
	f.link.DidStartPairingProcedure(PairingProcedurePairVerify)
	f.link.DidCompletePairingProcedure(PairingProcedurePairVerify)
	if f.link.HasPairingTimer() {
		t.Fatal("pairing timer still armed")
	}
	if got := f.link.LinkDeadline(); !got.Equal(f.clock.Now().Add(IdleTimeout)) {
		t.Fatalf("LinkDeadline() = %v", got)
	}

	// Step 2: every procedure rearms the idle timer.
	f.clock.Advance(20 * time.Second)
	f.link.DidStartProcedure()
	f.clock.Advance(20 * time.Second)
	if f.invalidated != 0 {
		t.Fatal("idle timer fired early")
	}

	// Step 3: idle for 30 s.
	f.clock.Advance(10 * time.Second)
	if f.invalidated != 1 || f.disconnects != 1 {
		t.Fatalf("idle timeout: invalidated=%d disconnects=%d", f.invalidated, f.disconnects)
	}
	if f.session.IsActive() {
		t.Fatal("session still active after idle timeout")
	}
}

func TestLink_PairingProcedureTimeout(t *testing.T) {
	f := newFixture(t)
	f.link.DidStartProcedure()
	f.link.DidStartPairingProcedure(PairingProcedurePairVerify)
	f.clock.Advance(5 * time.Second)

	// A second start does not extend the deadline.
	f.link.DidStartPairingProcedure(PairingProcedureListPairings)
	f.clock.Advance(5 * time.Second)

	if f.invalidated != 1 || f.disconnects != 1 {
		t.Fatalf("pairing timeout: invalidated=%d disconnects=%d", f.invalidated, f.disconnects)
	}
}

func TestLink_SafeToDisconnect(t *testing.T) {
	t.Run("terminal", func(t *testing.T) {
		f := newFixture(t)
		f.link.DidStartProcedure()
		f.link.DidSendGATTResponse()
		if f.link.IsSafeToDisconnect() {
			t.Fatal("safe to disconnect right after a response")
		}

		// Invalidation while a response is in flight defers the disconnect.
		f.session.Invalidate(true)
		if f.disconnects != 0 {
			t.Fatal("disconnected while a response was in flight")
		}

		f.clock.Advance(SafeToDisconnectTimeout)
		if f.disconnects != 1 || !f.link.IsSafeToDisconnect() {
			t.Fatalf("disconnects = %d, want 1", f.disconnects)
		}

		// Later responses never disconnect twice.
		f.link.DidSendGATTResponse()
		f.clock.Advance(SafeToDisconnectTimeout)
		if f.disconnects != 1 {
			t.Fatalf("disconnects = %d, want 1", f.disconnects)
		}
	})

	t.Run("not terminal", func(t *testing.T) {
		f := newFixture(t)
		f.link.DidStartProcedure()
		f.link.DidSendGATTResponse()
		f.clock.Advance(SafeToDisconnectTimeout)
		if f.disconnects != 0 || !f.link.IsSafeToDisconnect() {
			t.Fatalf("disconnects = %d, want 0", f.disconnects)
		}
	})

	t.Run("server stopping", func(t *testing.T) {
		f := newFixture(t)
		f.link.DidStartProcedure()
		f.link.DidSendGATTResponse()
		f.running = false
		f.clock.Advance(SafeToDisconnectTimeout)
		if f.disconnects != 1 {
			t.Fatalf("disconnects = %d, want 1", f.disconnects)
		}
	})
}

func TestLink_IsTerminalSoon(t *testing.T) {
	f := newFixture(t)
	if f.link.IsTerminalSoon() {
		t.Fatal("terminal soon right after connect")
	}
	f.clock.Advance(LinkTimeout - 100*time.Millisecond)
	if !f.link.IsTerminalSoon() {
		t.Fatal("not terminal soon 100 ms before the link deadline")
	}
}

func TestLink_Release(t *testing.T) {
	f := newFixture(t)
	f.link.DidStartPairingProcedure(PairingProcedureAddPairing)
	f.link.DidSendGATTResponse()
	f.link.Release()
	if f.clock.Pending() != 0 {
		t.Fatalf("Pending() = %d after Release", f.clock.Pending())
	}
	f.clock.Advance(time.Minute)
	if f.invalidated != 0 || f.disconnects != 0 {
		t.Fatal("released link fired timers")
	}
}
