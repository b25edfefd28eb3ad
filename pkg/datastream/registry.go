// Package datastream tracks resources bound to a controller pairing that
// must be released when the pairing goes away or its resumable session is
// evicted.
package datastream

import (
	"bytes"
	"slices"
	"sync"

	"github.com/pion/logging"

	"github.com/backkem/hap/pkg/pairing"
)

// Invalidator releases every resource bound to a pairing.
type Invalidator interface {
	InvalidateAllForPairing(idx pairing.Index)
}

// Resumer moves streams keyed from a resumed session over to the session
// that replaced it.
type Resumer interface {
	PrepareSessionResume(idx pairing.Index, resumedSecret, sharedSecret []byte)
}

// Purger releases every resource regardless of pairing.
type Purger interface {
	InvalidateAll()
}

// StreamID identifies a registered stream.
type StreamID uint32

// Config configures a Registry.
type Config struct {
	LoggerFactory logging.LoggerFactory
}

type stream struct {
	pairing pairing.Index
	secret  []byte
	onClose func()
}

// Registry is an Invalidator and Resumer over a set of open streams.
//
// Thread Safety: All methods are safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	next    StreamID
	streams map[StreamID]stream
	log     logging.LeveledLogger
}

// NewRegistry creates an empty registry.
func NewRegistry(config Config) *Registry {
	r := &Registry{streams: make(map[StreamID]stream)}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("hap-datastream")
	}
	return r
}

// Open registers a stream for a pairing. onClose runs when the stream is
// closed or invalidated.
func (r *Registry) Open(idx pairing.Index, onClose func()) StreamID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	r.streams[r.next] = stream{pairing: idx, onClose: onClose}
	return r.next
}

// OpenKeyed registers a stream whose keys derive from the shared secret of
// the session that set it up.
func (r *Registry) OpenKeyed(idx pairing.Index, sharedSecret []byte, onClose func()) StreamID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	r.streams[r.next] = stream{pairing: idx, secret: slices.Clone(sharedSecret), onClose: onClose}
	return r.next
}

// Secret returns the shared secret a keyed stream is bound to.
func (r *Registry) Secret(id StreamID) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[id]
	if !ok || s.secret == nil {
		return nil, false
	}
	return slices.Clone(s.secret), true
}

// PrepareSessionResume implements Resumer.
func (r *Registry) PrepareSessionResume(idx pairing.Index, resumedSecret, sharedSecret []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, s := range r.streams {
		if s.pairing != idx || !bytes.Equal(s.secret, resumedSecret) {
			continue
		}
		s.secret = slices.Clone(sharedSecret)
		r.streams[id] = s
		n++
	}
	if r.log != nil && n > 0 {
		r.log.Debugf("rebound %d data streams of pairing %d to resumed session", n, idx)
	}
}

// Close closes one stream.
func (r *Registry) Close(id StreamID) {
	r.mu.Lock()
	s, ok := r.streams[id]
	delete(r.streams, id)
	r.mu.Unlock()

	if ok && s.onClose != nil {
		s.onClose()
	}
}

// Count returns the number of open streams of a pairing.
func (r *Registry) Count(idx pairing.Index) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, s := range r.streams {
		if s.pairing == idx {
			n++
		}
	}
	return n
}

// InvalidateAllForPairing implements Invalidator.
func (r *Registry) InvalidateAllForPairing(idx pairing.Index) {
	r.mu.Lock()
	var closers []func()
	for id, s := range r.streams {
		if s.pairing != idx {
			continue
		}
		delete(r.streams, id)
		if s.onClose != nil {
			closers = append(closers, s.onClose)
		}
	}
	r.mu.Unlock()

	if r.log != nil && len(closers) > 0 {
		r.log.Infof("invalidated %d data streams of pairing %d", len(closers), idx)
	}
	for _, fn := range closers {
		fn()
	}
}

// InvalidateAll implements Purger.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	closers := make([]func(), 0, len(r.streams))
	for _, s := range r.streams {
		if s.onClose != nil {
			closers = append(closers, s.onClose)
		}
	}
	clear(r.streams)
	r.mu.Unlock()

	for _, fn := range closers {
		fn()
	}
}
