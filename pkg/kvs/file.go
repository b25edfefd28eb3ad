package kvs

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileVersion is the current version of the store file format.
const FileVersion = 1

var (
	fileEncMode cbor.EncMode
	fileDecMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}
	fileEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create kvs CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}
	fileDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create kvs CBOR decoder mode: %v", err))
	}
}

// fileImage is the on-disk document.
type fileImage struct {
	Version int                       `cbor:"1,keyasint"`
	Domains map[Domain]map[Key][]byte `cbor:"2,keyasint"`
}

// File is a Store persisted to a single CBOR file.
//
// Thread Safety: All methods are safe for concurrent use.
type File struct {
	mu      sync.RWMutex
	path    string
	domains map[Domain]map[Key][]byte
	closed  bool
}

// OpenFile loads the store at path, creating an empty one if the file does
// not exist yet. Parent directories are created on first write.
func OpenFile(path string) (*File, error) {
	f := &File{
		path:    path,
		domains: make(map[Domain]map[Key][]byte),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, err
	}

	var img fileImage
	if err := fileDecMode.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("kvs: decode %s: %w", path, err)
	}
	if img.Version != FileVersion {
		return nil, fmt.Errorf("kvs: unsupported file version %d", img.Version)
	}
	for d, records := range img.Domains {
		if len(records) > 0 {
			f.domains[d] = records
		}
	}
	return f, nil
}

// Path returns the backing file path.
func (f *File) Path() string {
	return f.path
}

// Get implements Store.
func (f *File) Get(d Domain, k Key) ([]byte, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, false, ErrStoreClosed
	}
	v, ok := f.domains[d][k]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(v), true, nil
}

// Set implements Store.
func (f *File) Set(d Domain, k Key, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStoreClosed
	}
	setRecord(f.domains, d, k, value)
	return f.flushLocked()
}

// Remove implements Store.
func (f *File) Remove(d Domain, k Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStoreClosed
	}
	if _, ok := f.domains[d][k]; !ok {
		return nil
	}
	removeRecord(f.domains, d, k)
	return f.flushLocked()
}

// Keys implements Store.
func (f *File) Keys(d Domain) ([]Key, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrStoreClosed
	}
	return sortedKeys(f.domains[d]), nil
}

// PurgeDomain implements Store.
func (f *File) PurgeDomain(d Domain) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStoreClosed
	}
	if _, ok := f.domains[d]; !ok {
		return nil
	}
	delete(f.domains, d)
	return f.flushLocked()
}

// Close releases the store. Further calls return ErrStoreClosed.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// flushLocked writes the whole document to a temporary file and renames it
// over the previous version.
func (f *File) flushLocked() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return err
	}

	data, err := fileEncMode.Marshal(fileImage{
		Version: FileVersion,
		Domains: maps.Clone(f.domains),
	})
	if err != nil {
		return err
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}
