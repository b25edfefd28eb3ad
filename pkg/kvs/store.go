package kvs

import (
	"errors"
	"slices"
	"sync"
)

// Domain groups related records.
type Domain uint8

// Key addresses a record within a domain.
type Key uint8

// Domains used by the accessory core.
const (
	DomainConfiguration               Domain = 0x90
	DomainCharacteristicConfiguration Domain = 0x92
	DomainPairings                    Domain = 0xA0
)

// Keys within DomainConfiguration.
const (
	KeyConfigurationNumber Key = 0x20
	KeyBLEGSN              Key = 0x21
	KeyBroadcastParameters Key = 0x22
	KeyAccessoryIdentity   Key = 0x30
)

// ErrStoreClosed is returned by a File store after Close.
var ErrStoreClosed = errors.New("kvs: store closed")

// Store is a persistent domain/key record store.
type Store interface {
	// Get returns the record and whether it exists.
	Get(d Domain, k Key) ([]byte, bool, error)
	// Set creates or replaces a record.
	Set(d Domain, k Key, value []byte) error
	// Remove deletes a record. Removing a missing record is not an error.
	Remove(d Domain, k Key) error
	// Keys lists the keys present in a domain in ascending order.
	Keys(d Domain) ([]Key, error)
	// PurgeDomain removes every record in a domain.
	PurgeDomain(d Domain) error
}

// Memory is an in-memory Store.
//
// Thread Safety: All methods are safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	domains map[Domain]map[Key][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{domains: make(map[Domain]map[Key][]byte)}
}

// Get implements Store.
func (m *Memory) Get(d Domain, k Key) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.domains[d][k]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(v), true, nil
}

// Set implements Store.
func (m *Memory) Set(d Domain, k Key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	setRecord(m.domains, d, k, value)
	return nil
}

// Remove implements Store.
func (m *Memory) Remove(d Domain, k Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	removeRecord(m.domains, d, k)
	return nil
}

// Keys implements Store.
func (m *Memory) Keys(d Domain) ([]Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.domains[d]), nil
}

// PurgeDomain implements Store.
func (m *Memory) PurgeDomain(d Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.domains, d)
	return nil
}

func setRecord(domains map[Domain]map[Key][]byte, d Domain, k Key, value []byte) {
	records, ok := domains[d]
	if !ok {
		records = make(map[Key][]byte)
		domains[d] = records
	}
	records[k] = slices.Clone(value)
}

func removeRecord(domains map[Domain]map[Key][]byte, d Domain, k Key) {
	records, ok := domains[d]
	if !ok {
		return
	}
	delete(records, k)
	if len(records) == 0 {
		delete(domains, d)
	}
}

func sortedKeys(records map[Key][]byte) []Key {
	keys := make([]Key, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
