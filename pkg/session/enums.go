// Package session implements HAP session security state.
//
// A Session exists for every physical connection. Once Pair Verify (or a
// transient software-authentication handshake) completes, the session holds
// the negotiated shared secret and three ChaCha20-Poly1305 channels:
//   - accessory-to-controller control
//   - accessory-to-controller event
//   - controller-to-accessory control
//
// Each channel pairs a key with a 64-bit nonce that advances after every
// successful operation. A failed operation leaves the nonce unchanged.
//
// Sessions are driven from a single logical thread of control (the owning
// accessory server serializes GATT and timer callbacks) and are not safe
// for concurrent use.
package session

// Role identifies which end of the session the local node is.
// The accessory encrypts with the accessory-to-controller keys; a
// controller uses the mirrored assignment.
type Role int

const (
	// RoleAccessory is the default role.
	RoleAccessory Role = iota
	// RoleController mirrors the channel keys.
	RoleController
)

// String returns a human-readable name for the role.
func (r Role) String() string {
	switch r {
	case RoleAccessory:
		return "Accessory"
	case RoleController:
		return "Controller"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the role is a defined value.
func (r Role) IsValid() bool {
	return r == RoleAccessory || r == RoleController
}
