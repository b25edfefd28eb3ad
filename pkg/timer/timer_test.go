package timer

import (
	"sync"
	"testing"
	"time"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestManual_FiresInDeadlineOrder(t *testing.T) {
	m := NewManual(epoch)
	var fired []string

	_, _ = m.Register(epoch.Add(200*time.Millisecond), func() { fired = append(fired, "b") })
	_, _ = m.Register(epoch.Add(100*time.Millisecond), func() { fired = append(fired, "a") })
	_, _ = m.Register(epoch.Add(10*time.Second), func() { fired = append(fired, "late") })

	m.Advance(time.Second)

	if len(fired) != 2 || fired[0] != "a" || fired[1] != "b" {
		t.Fatalf("fired = %v, want [a b]", fired)
	}
	if m.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", m.Pending())
	}
	if got := m.Now(); !got.Equal(epoch.Add(time.Second)) {
		t.Errorf("Now = %v", got)
	}
}

func TestManual_Deregister(t *testing.T) {
	m := NewManual(epoch)
	fired := false
	h, _ := m.Register(epoch.Add(time.Second), func() { fired = true })
	m.Deregister(h)
	m.Advance(2 * time.Second)
	if fired {
		t.Error("deregistered timer fired")
	}
}

func TestManual_NowDuringCallback(t *testing.T) {
	m := NewManual(epoch)
	var at time.Time
	_, _ = m.Register(epoch.Add(3*time.Second), func() { at = m.Now() })
	m.Advance(5 * time.Second)
	if !at.Equal(epoch.Add(3 * time.Second)) {
		t.Errorf("callback saw Now = %v, want deadline", at)
	}
}

func TestManual_CallbackRegistersTimer(t *testing.T) {
	m := NewManual(epoch)
	count := 0
	var rearm Callback
	rearm = func() {
		count++
		_, _ = m.Register(m.Now().Add(time.Second), rearm)
	}
	_, _ = m.Register(epoch.Add(time.Second), rearm)

	m.Advance(3 * time.Second)
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestSystem_FiresUnderLocker(t *testing.T) {
	var mu sync.Mutex
	s := NewSystem(&mu)
	done := make(chan struct{})

	_, err := s.Register(time.Now().Add(5*time.Millisecond), func() {
		// The locker is held: TryLock must fail.
		if mu.TryLock() {
			mu.Unlock()
			t.Error("callback ran without holding the locker")
		}
		close(done)
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestSystem_Deregister(t *testing.T) {
	s := NewSystem(nil)
	fired := make(chan struct{}, 1)
	h, _ := s.Register(time.Now().Add(20*time.Millisecond), func() { fired <- struct{}{} })
	s.Deregister(h)
	if s.Pending() != 0 {
		t.Errorf("Pending = %d after Deregister", s.Pending())
	}

	select {
	case <-fired:
		t.Fatal("deregistered timer fired")
	case <-time.After(60 * time.Millisecond):
	}
}
