// Package timer provides the one-shot timer service the accessory core arms
// its procedure, link and disconnect timers on.
//
// Callbacks run while holding the Locker the service was created with, so
// they are serialized with every other callback that takes the same lock.
package timer

import (
	"errors"
	"sync"
	"time"
)

// Handle identifies a registered timer. The zero Handle is never issued.
type Handle uint64

// Callback is invoked once when a timer expires.
type Callback func()

// ErrInvalidHandle is returned when deregistering an unknown handle.
var ErrInvalidHandle = errors.New("timer: invalid handle")

// Service registers one-shot timers against an absolute deadline.
type Service interface {
	// Register arms fn to run at deadline.
	Register(deadline time.Time, fn Callback) (Handle, error)
	// Deregister disarms a timer that has not fired yet.
	Deregister(h Handle)
	// Now returns the service clock.
	Now() time.Time
}

type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}

// System is a Service backed by time.AfterFunc.
//
// Thread Safety: All methods are safe for concurrent use.
type System struct {
	locker sync.Locker

	mu     sync.Mutex
	next   Handle
	timers map[Handle]*time.Timer
}

// NewSystem creates a system timer service. Expired callbacks run while
// holding locker; a nil locker runs them without external locking.
func NewSystem(locker sync.Locker) *System {
	if locker == nil {
		locker = nopLocker{}
	}
	return &System{
		locker: locker,
		timers: make(map[Handle]*time.Timer),
	}
}

// Register implements Service.
func (s *System) Register(deadline time.Time, fn Callback) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	h := s.next
	s.timers[h] = time.AfterFunc(time.Until(deadline), func() {
		s.locker.Lock()
		defer s.locker.Unlock()

		// A Deregister that raced the expiry wins.
		s.mu.Lock()
		_, live := s.timers[h]
		delete(s.timers, h)
		s.mu.Unlock()
		if live {
			fn()
		}
	})
	return h, nil
}

// Deregister implements Service.
func (s *System) Deregister(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[h]; ok {
		t.Stop()
		delete(s.timers, h)
	}
}

// Now implements Service.
func (s *System) Now() time.Time {
	return time.Now()
}

// Pending returns the number of armed timers.
func (s *System) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
