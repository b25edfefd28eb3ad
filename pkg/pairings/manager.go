// Package pairings implements the Add, Remove and List Pairings procedures
// an admin controller runs over a verified session.
package pairings

import (
	"errors"
	"fmt"

	"github.com/pion/logging"

	"github.com/backkem/hap/pkg/datastream"
	"github.com/backkem/hap/pkg/hap"
	"github.com/backkem/hap/pkg/kvs"
	"github.com/backkem/hap/pkg/pairing"
	"github.com/backkem/hap/pkg/resume"
)

// Config configures a Manager.
type Config struct {
	// Pairings is the pairing store. Required.
	Pairings pairing.Store

	// Cache holds resumable BLE sessions. Optional.
	Cache *resume.Cache

	// DataStreams is told about removed pairings. If it also implements
	// datastream.Purger, it is purged when the last admin goes away.
	DataStreams datastream.Invalidator

	// KVS holds the broadcast parameters purged with the last admin. Optional.
	KVS kvs.Store

	// OnUpdatedState is called when cleanup wipes all pairings.
	OnUpdatedState func()

	// LoggerFactory for procedure logging. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Manager holds the resources shared by the Pairings procedures of all
// sessions.
type Manager struct {
	pairings       pairing.Store
	cache          *resume.Cache
	dataStreams    datastream.Invalidator
	kvs            kvs.Store
	onUpdatedState func()
	log            logging.LeveledLogger
}

// NewManager creates a Manager.
func NewManager(config Config) *Manager {
	m := &Manager{
		pairings:       config.Pairings,
		cache:          config.Cache,
		dataStreams:    config.DataStreams,
		kvs:            config.KVS,
		onUpdatedState: config.OnUpdatedState,
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("hap-pairings")
	}
	return m
}

// Pairings returns the pairing store.
func (m *Manager) Pairings() pairing.Store {
	return m.pairings
}

// NewProcedure creates the Pairings procedure state of one session.
func (m *Manager) NewProcedure() *Procedure {
	return &Procedure{manager: m}
}

// CleanupPairings enforces that pairings only exist under an admin. With no
// admin left every pairing is removed, the resume cache is purged, data
// streams are released and the broadcast parameters are deleted.
func (m *Manager) CleanupPairings() error {
	if pairing.HasAdmin(m.pairings) {
		return nil
	}

	if m.pairings.Count() > 0 {
		if m.log != nil {
			m.log.Info("no admin pairing left, removing all pairings")
		}
		if m.onUpdatedState != nil {
			m.onUpdatedState()
		}
		if err := m.pairings.RemoveAll(); err != nil {
			return fmt.Errorf("%w: remove all pairings: %v", hap.ErrUnknown, err)
		}
	}

	if m.cache != nil {
		m.cache.Purge()
	}
	if p, ok := m.dataStreams.(datastream.Purger); ok {
		p.InvalidateAll()
	}
	if m.kvs != nil {
		if err := m.kvs.Remove(kvs.DomainConfiguration, kvs.KeyBroadcastParameters); err != nil {
			return fmt.Errorf("%w: remove broadcast parameters: %v", hap.ErrUnknown, err)
		}
	}
	return nil
}

// removePairing deletes a pairing with everything bound to it.
func (m *Manager) removePairing(idx pairing.Index) error {
	if err := m.pairings.Remove(idx); err != nil && !errors.Is(err, pairing.ErrNotFound) {
		return err
	}
	if m.cache != nil {
		m.cache.InvalidateEntriesForPairing(idx)
	}
	if m.dataStreams != nil {
		m.dataStreams.InvalidateAllForPairing(idx)
	}
	return nil
}
