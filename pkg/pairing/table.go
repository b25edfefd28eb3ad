package pairing

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/backkem/hap/pkg/hap"
	"github.com/backkem/hap/pkg/kvs"
)

// Table errors.
var (
	// ErrTableFull is returned when no free slot is left.
	ErrTableFull = fmt.Errorf("pairing: table full: %w", hap.ErrOutOfResources)
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("pairing: not found")
	// ErrDuplicate is returned when adding an identifier that already exists.
	ErrDuplicate = fmt.Errorf("pairing: identifier already paired: %w", hap.ErrInvalidData)
)

// Table size limits.
const (
	// DefaultMaxPairings is the default number of pairing slots.
	DefaultMaxPairings = 16
	// MaxPairings is the largest table a single store domain can address.
	MaxPairings = 255
)

// TableConfig configures a pairing table.
type TableConfig struct {
	// MaxPairings is the number of slots. Clamped to 1..MaxPairings.
	MaxPairings int

	// KVS persists records in kvs.DomainPairings. Nil keeps the table in memory.
	KVS kvs.Store

	// OnStateChange is called when the accessory becomes paired or unpaired.
	OnStateChange func(StateChange)

	// OnControllerChange is called when a controller record is added or removed.
	OnControllerChange func(change ControllerChange, r Record)
}

// DefaultTableConfig returns the default table configuration.
func DefaultTableConfig() TableConfig {
	return TableConfig{MaxPairings: DefaultMaxPairings}
}

// Table is the Store implementation used by the accessory server.
//
// Records live in memory and are written through to the configured
// key-value store on every change. Change callbacks run after the table
// lock is released.
//
// Thread Safety: All methods are safe for concurrent use.
type Table struct {
	mu      sync.RWMutex
	records map[Index]Record
	config  TableConfig
}

// NewTable creates a pairing table, loading existing records from
// config.KVS when set.
func NewTable(config TableConfig) (*Table, error) {
	if config.MaxPairings <= 0 {
		config.MaxPairings = DefaultMaxPairings
	}
	if config.MaxPairings > MaxPairings {
		config.MaxPairings = MaxPairings
	}

	t := &Table{
		records: make(map[Index]Record),
		config:  config,
	}
	if config.KVS != nil {
		if err := t.load(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Table) load() error {
	keys, err := t.config.KVS.Keys(kvs.DomainPairings)
	if err != nil {
		return fmt.Errorf("%w: list pairings: %v", hap.ErrUnknown, err)
	}
	for _, k := range keys {
		data, ok, err := t.config.KVS.Get(kvs.DomainPairings, k)
		if err != nil {
			return fmt.Errorf("%w: read pairing %d: %v", hap.ErrUnknown, k, err)
		}
		if !ok {
			continue
		}
		r, err := decodeRecord(data)
		if err != nil {
			return fmt.Errorf("%w: decode pairing %d: %v", hap.ErrUnknown, k, err)
		}
		t.records[Index(k)] = r
	}
	return nil
}

// Capacity returns the number of slots.
func (t *Table) Capacity() int {
	return t.config.MaxPairings
}

// Count implements Store.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Find implements Store.
func (t *Table) Find(id []byte) (Record, Index, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, idx := range t.sortedIndexesLocked() {
		if r := t.records[idx]; r.HasIdentifier(id) {
			return r.Clone(), idx, true, nil
		}
	}
	return Record{}, NoIndex, false, nil
}

// Get implements Store.
func (t *Table) Get(idx Index) (Record, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.records[idx]
	if !ok {
		return Record{}, false, nil
	}
	return r.Clone(), true, nil
}

// Add implements Store.
//
// Returns ErrTableFull if every slot is in use.
// Returns ErrDuplicate if the identifier is already paired.
func (t *Table) Add(r Record) (Index, error) {
	if err := r.Validate(); err != nil {
		return NoIndex, err
	}

	t.mu.Lock()
	for _, existing := range t.records {
		if existing.HasIdentifier(r.Identifier) {
			t.mu.Unlock()
			return NoIndex, ErrDuplicate
		}
	}

	idx := NoIndex
	for i := 0; i < t.config.MaxPairings; i++ {
		if _, used := t.records[Index(i)]; !used {
			idx = Index(i)
			break
		}
	}
	if idx == NoIndex {
		t.mu.Unlock()
		return NoIndex, ErrTableFull
	}

	if err := t.persistLocked(idx, r); err != nil {
		t.mu.Unlock()
		return NoIndex, err
	}
	wasPaired := len(t.records) > 0
	t.records[idx] = r.Clone()
	t.mu.Unlock()

	if !wasPaired && t.config.OnStateChange != nil {
		t.config.OnStateChange(StatePaired)
	}
	if t.config.OnControllerChange != nil {
		t.config.OnControllerChange(ControllerPaired, r.Clone())
	}
	return idx, nil
}

// Remove implements Store.
//
// Returns ErrNotFound if the slot is empty.
func (t *Table) Remove(idx Index) error {
	t.mu.Lock()
	r, ok := t.records[idx]
	if !ok {
		t.mu.Unlock()
		return ErrNotFound
	}
	if t.config.KVS != nil {
		if err := t.config.KVS.Remove(kvs.DomainPairings, kvs.Key(idx)); err != nil {
			t.mu.Unlock()
			return fmt.Errorf("%w: remove pairing %d: %v", hap.ErrUnknown, idx, err)
		}
	}
	delete(t.records, idx)
	nowUnpaired := len(t.records) == 0
	t.mu.Unlock()

	if nowUnpaired && t.config.OnStateChange != nil {
		t.config.OnStateChange(StateUnpaired)
	}
	if t.config.OnControllerChange != nil {
		t.config.OnControllerChange(ControllerUnpaired, r)
	}
	return nil
}

// UpdatePermissions implements Store.
func (t *Table) UpdatePermissions(idx Index, p Permissions) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.records[idx]
	if !ok {
		return ErrNotFound
	}
	r.Permissions = p
	if err := t.persistLocked(idx, r); err != nil {
		return err
	}
	t.records[idx] = r
	return nil
}

// RemoveAll implements Store. Each removal reports its change callbacks.
func (t *Table) RemoveAll() error {
	t.mu.RLock()
	indexes := t.sortedIndexesLocked()
	t.mu.RUnlock()

	for _, idx := range indexes {
		if err := t.Remove(idx); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	if t.config.KVS != nil {
		if err := t.config.KVS.PurgeDomain(kvs.DomainPairings); err != nil {
			return fmt.Errorf("%w: purge pairings: %v", hap.ErrUnknown, err)
		}
	}
	return nil
}

// All implements Store. The iteration runs over a snapshot, so yield may
// modify the table.
func (t *Table) All() iter.Seq2[Index, Record] {
	return func(yield func(Index, Record) bool) {
		t.mu.RLock()
		indexes := t.sortedIndexesLocked()
		snapshot := make([]Record, len(indexes))
		for i, idx := range indexes {
			snapshot[i] = t.records[idx].Clone()
		}
		t.mu.RUnlock()

		for i, idx := range indexes {
			if !yield(idx, snapshot[i]) {
				return
			}
		}
	}
}

func (t *Table) sortedIndexesLocked() []Index {
	indexes := make([]Index, 0, len(t.records))
	for idx := range t.records {
		indexes = append(indexes, idx)
	}
	slices.Sort(indexes)
	return indexes
}

func (t *Table) persistLocked(idx Index, r Record) error {
	if t.config.KVS == nil {
		return nil
	}
	data, err := encodeRecord(r)
	if err != nil {
		return fmt.Errorf("%w: encode pairing: %v", hap.ErrUnknown, err)
	}
	if err := t.config.KVS.Set(kvs.DomainPairings, kvs.Key(idx), data); err != nil {
		return fmt.Errorf("%w: write pairing %d: %v", hap.ErrUnknown, idx, err)
	}
	return nil
}
