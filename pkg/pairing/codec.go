package pairing

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	recordEncMode cbor.EncMode
	recordDecMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
	}
	recordEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create pairing CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}
	recordDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create pairing CBOR decoder mode: %v", err))
	}
}

// storedRecord is the persisted form of a Record, using integer keys.
type storedRecord struct {
	Identifier  []byte `cbor:"1,keyasint"`
	PublicKey   []byte `cbor:"2,keyasint"`
	Permissions uint8  `cbor:"3,keyasint"`
}

func encodeRecord(r Record) ([]byte, error) {
	return recordEncMode.Marshal(storedRecord{
		Identifier:  r.Identifier,
		PublicKey:   r.PublicKey[:],
		Permissions: uint8(r.Permissions),
	})
}

func decodeRecord(data []byte) (Record, error) {
	var s storedRecord
	if err := recordDecMode.Unmarshal(data, &s); err != nil {
		return Record{}, err
	}
	if len(s.PublicKey) != PublicKeySize {
		return Record{}, fmt.Errorf("pairing: stored public key has length %d", len(s.PublicKey))
	}
	r := Record{Identifier: s.Identifier, Permissions: Permissions(s.Permissions)}
	copy(r.PublicKey[:], s.PublicKey)
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}
