// Package pairing defines the long-term controller pairing records and the
// store that holds them.
//
// A pairing binds a controller identifier to its Ed25519 long-term public
// key and a permission bitmap. Pair Verify looks controllers up here, and
// the Pairings procedure adds, removes and lists records.
package pairing

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/backkem/hap/pkg/hap"
)

// Record limits.
const (
	MaxIdentifierLen = 36
	PublicKeySize    = 32
)

// Index identifies a record slot in the store.
type Index int

// NoIndex marks the absence of a pairing, e.g. for transient sessions.
const NoIndex Index = -1

// Permissions is the pairing permission bitmap.
type Permissions uint8

// PermissionAdmin grants access to pairing management.
const PermissionAdmin Permissions = 0x01

// Record is a paired controller.
type Record struct {
	Identifier  []byte
	PublicKey   [PublicKeySize]byte
	Permissions Permissions
}

// IsAdmin reports whether the controller holds admin permission.
func (r Record) IsAdmin() bool {
	return r.Permissions&PermissionAdmin != 0
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	r.Identifier = slices.Clone(r.Identifier)
	return r
}

// HasIdentifier reports whether the record belongs to id.
func (r Record) HasIdentifier(id []byte) bool {
	return bytes.Equal(r.Identifier, id)
}

// Validate checks the record limits.
func (r Record) Validate() error {
	if len(r.Identifier) == 0 || len(r.Identifier) > MaxIdentifierLen {
		return fmt.Errorf("%w: pairing identifier length %d", hap.ErrInvalidData, len(r.Identifier))
	}
	if r.Permissions&^PermissionAdmin != 0 {
		return fmt.Errorf("%w: pairing permissions 0x%02X", hap.ErrInvalidData, uint8(r.Permissions))
	}
	return nil
}
