package timer

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Service driven by an explicit clock, for deterministic tests
// and simulations. Time only moves when Advance is called.
type Manual struct {
	// Locker, when set, is held while callbacks run.
	Locker sync.Locker

	mu     sync.Mutex
	now    time.Time
	next   Handle
	timers map[Handle]*manualTimer
}

type manualTimer struct {
	deadline time.Time
	seq      Handle
	fn       Callback
}

// NewManual creates a manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{
		now:    start,
		timers: make(map[Handle]*manualTimer),
	}
}

// Register implements Service.
func (m *Manual) Register(deadline time.Time, fn Callback) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.next++
	m.timers[m.next] = &manualTimer{deadline: deadline, seq: m.next, fn: fn}
	return m.next, nil
}

// Deregister implements Service.
func (m *Manual) Deregister(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.timers, h)
}

// Now implements Service.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Pending returns the number of armed timers.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Advance moves the clock forward by d, firing due timers in deadline order.
// Timers registered by callbacks fire in the same call if they fall due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		due := m.popDueLocked(target)
		if due == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = due.deadline
		m.mu.Unlock()

		if m.Locker != nil {
			m.Locker.Lock()
			due.fn()
			m.Locker.Unlock()
		} else {
			due.fn()
		}
	}
}

func (m *Manual) popDueLocked(target time.Time) *manualTimer {
	var due []*manualTimer
	for _, t := range m.timers {
		if !t.deadline.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].seq < due[j].seq
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	delete(m.timers, due[0].seq)
	if due[0].deadline.Before(m.now) {
		due[0].deadline = m.now
	}
	return due[0]
}
