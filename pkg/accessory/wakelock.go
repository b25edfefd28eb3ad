package accessory

import "sync"

// WakeLock counts holders that need the platform to stay awake.
//
// Thread Safety: All methods are safe for concurrent use.
type WakeLock struct {
	mu       sync.Mutex
	holders  int
	onChange func(held bool)
}

// NewWakeLock creates a wake lock. onChange, if set, is called when the
// first holder acquires or the last holder releases the lock.
func NewWakeLock(onChange func(held bool)) *WakeLock {
	return &WakeLock{onChange: onChange}
}

// Acquire takes the lock and returns the function that releases it.
// Releasing more than once has no effect.
//
//	defer w.Acquire()()
func (w *WakeLock) Acquire() (release func()) {
	w.mu.Lock()
	w.holders++
	first := w.holders == 1
	w.mu.Unlock()
	if first && w.onChange != nil {
		w.onChange(true)
	}

	var once sync.Once
	return func() {
		once.Do(w.release)
	}
}

func (w *WakeLock) release() {
	w.mu.Lock()
	w.holders--
	last := w.holders == 0
	w.mu.Unlock()
	if last && w.onChange != nil {
		w.onChange(false)
	}
}

// Held reports whether the lock has a holder.
func (w *WakeLock) Held() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.holders > 0
}
