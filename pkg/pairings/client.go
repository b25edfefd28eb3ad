package pairings

import (
	"fmt"

	"github.com/backkem/hap/pkg/pairing"
	"github.com/backkem/hap/pkg/tlv"
)

// AddRequest builds an Add Pairing M1.
func AddRequest(r pairing.Record) ([]byte, error) {
	w := tlv.NewWriter(0)
	if err := w.AppendUint8(pairing.TLVState, 1); err != nil {
		return nil, err
	}
	if err := w.AppendUint8(pairing.TLVMethod, uint8(pairing.MethodAddPairing)); err != nil {
		return nil, err
	}
	if err := w.Append(pairing.TLVIdentifier, r.Identifier); err != nil {
		return nil, err
	}
	if err := w.Append(pairing.TLVPublicKey, r.PublicKey[:]); err != nil {
		return nil, err
	}
	if err := w.AppendUint8(pairing.TLVPermissions, uint8(r.Permissions)); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// RemoveRequest builds a Remove Pairing M1.
func RemoveRequest(id []byte) ([]byte, error) {
	w := tlv.NewWriter(0)
	if err := w.AppendUint8(pairing.TLVState, 1); err != nil {
		return nil, err
	}
	if err := w.AppendUint8(pairing.TLVMethod, uint8(pairing.MethodRemovePairing)); err != nil {
		return nil, err
	}
	if err := w.Append(pairing.TLVIdentifier, id); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// ListRequest builds a List Pairings M1.
func ListRequest() []byte {
	return []byte{
		byte(pairing.TLVState), 1, 1,
		byte(pairing.TLVMethod), 1, byte(pairing.MethodListPairings),
	}
}

// ResponseError is the Error TLV of a Pairings response.
type ResponseError struct {
	Code pairing.ErrorCode
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("pairings: accessory error %s", e.Code)
}

// ParseResponse checks an M2 for an error and returns the listed records,
// if any.
func ParseResponse(data []byte) ([]pairing.Record, error) {
	items, err := tlv.Decode(data)
	if err != nil {
		return nil, err
	}

	var (
		records []pairing.Record
		cur     *pairing.Record
	)
	for _, item := range items {
		switch item.Type {
		case pairing.TLVState:
			if len(item.Value) != 1 || item.Value[0] != 2 {
				return nil, fmt.Errorf("%w: state %x", ErrMalformedRequest, item.Value)
			}
		case pairing.TLVError:
			if len(item.Value) != 1 {
				return nil, fmt.Errorf("%w: error", ErrMalformedRequest)
			}
			return nil, &ResponseError{Code: pairing.ErrorCode(item.Value[0])}
		case pairing.TLVSeparator:
			cur = nil
		case pairing.TLVIdentifier:
			records = append(records, pairing.Record{Identifier: append([]byte(nil), item.Value...)})
			cur = &records[len(records)-1]
		case pairing.TLVPublicKey:
			if cur == nil || len(item.Value) != pairing.PublicKeySize {
				return nil, fmt.Errorf("%w: public key", ErrMalformedRequest)
			}
			copy(cur.PublicKey[:], item.Value)
		case pairing.TLVPermissions:
			if cur == nil || len(item.Value) != 1 {
				return nil, fmt.Errorf("%w: permissions", ErrMalformedRequest)
			}
			cur.Permissions = pairing.Permissions(item.Value[0])
		}
	}
	return records, nil
}
