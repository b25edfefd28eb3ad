package pairing

import "iter"

// Store holds pairing records.
//
// Errors other than hap.ErrOutOfResources from Add wrap hap.ErrUnknown and
// indicate a persistence failure.
type Store interface {
	// Find looks up a record by controller identifier.
	Find(id []byte) (Record, Index, bool, error)
	// Get returns the record at idx.
	Get(idx Index) (Record, bool, error)
	// Add stores a new record and returns its index.
	Add(r Record) (Index, error)
	// Remove deletes the record at idx.
	Remove(idx Index) error
	// UpdatePermissions replaces the permissions of the record at idx.
	UpdatePermissions(idx Index, p Permissions) error
	// RemoveAll deletes every record.
	RemoveAll() error
	// Count returns the number of records.
	Count() int
	// All iterates over records in index order. Stopping the iteration early
	// is done by returning false from yield.
	All() iter.Seq2[Index, Record]
}

// HasAdmin reports whether any record holds admin permission.
func HasAdmin(s Store) bool {
	for _, r := range s.All() {
		if r.IsAdmin() {
			return true
		}
	}
	return false
}

// StateChange reports whether the accessory as a whole became paired.
type StateChange int

const (
	// StatePaired is reported when the first pairing is added.
	StatePaired StateChange = iota + 1
	// StateUnpaired is reported when the last pairing is removed.
	StateUnpaired
)

// String returns the state change name.
func (s StateChange) String() string {
	switch s {
	case StatePaired:
		return "Paired"
	case StateUnpaired:
		return "Unpaired"
	default:
		return "Unknown"
	}
}

// ControllerChange reports a change to one controller's pairing.
type ControllerChange int

const (
	// ControllerPaired is reported when a controller record is added.
	ControllerPaired ControllerChange = iota + 1
	// ControllerUnpaired is reported when a controller record is removed.
	ControllerUnpaired
)

// String returns the controller change name.
func (c ControllerChange) String() string {
	switch c {
	case ControllerPaired:
		return "Paired"
	case ControllerUnpaired:
		return "Unpaired"
	default:
		return "Unknown"
	}
}
