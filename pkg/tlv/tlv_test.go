package tlv

import (
	"bytes"
	"errors"
	"testing"

	"github.com/backkem/hap/pkg/hap"
)

func TestWriter_Append(t *testing.T) {
	w := NewWriter(0)
	if err := w.AppendUint8(0x06, 1); err != nil {
		t.Fatalf("AppendUint8 failed: %v", err)
	}
	if err := w.Append(0x03, []byte{0xAA, 0xBB}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := w.Append(0xFF, nil); err != nil {
		t.Fatalf("Append separator failed: %v", err)
	}

	want := []byte{0x06, 0x01, 0x01, 0x03, 0x02, 0xAA, 0xBB, 0xFF, 0x00}
	if !bytes.Equal(w.Bytes(), want) {
		t.Errorf("encoded = %x, want %x", w.Bytes(), want)
	}
}

func TestWriter_Fragmentation(t *testing.T) {
	value := bytes.Repeat([]byte{0x5A}, 300)
	w := NewWriter(0)
	if err := w.Append(0x05, value); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if w.Len() != EncodedLen(300) {
		t.Fatalf("Len = %d, want %d", w.Len(), EncodedLen(300))
	}
	enc := w.Bytes()
	if enc[0] != 0x05 || enc[1] != 0xFF {
		t.Errorf("first fragment header = %x", enc[:2])
	}
	if enc[257] != 0x05 || enc[258] != 45 {
		t.Errorf("second fragment header = %x", enc[257:259])
	}

	items, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(items) != 1 || !bytes.Equal(items[0].Value, value) {
		t.Fatalf("fragments not merged: %d items", len(items))
	}
}

func TestWriter_ExactFragmentFollowedBySeparator(t *testing.T) {
	// A 255-byte value followed by a separator must not merge with a
	// following item of the same type.
	w := NewWriter(0)
	_ = w.Append(0x01, bytes.Repeat([]byte{1}, 255))
	_ = w.Append(0xFF, nil)
	_ = w.Append(0x01, []byte{2})

	items, err := Decode(w.Bytes())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}
}

func TestWriter_Errors(t *testing.T) {
	t.Run("adjacent type", func(t *testing.T) {
		w := NewWriter(0)
		_ = w.AppendUint8(0x01, 1)
		if err := w.AppendUint8(0x01, 2); !errors.Is(err, ErrAdjacentType) {
			t.Errorf("expected ErrAdjacentType, got %v", err)
		}
	})

	t.Run("limit", func(t *testing.T) {
		w := NewWriter(4)
		if err := w.AppendUint8(0x01, 1); err != nil {
			t.Fatalf("first append failed: %v", err)
		}
		err := w.AppendUint8(0x02, 1)
		if !errors.Is(err, ErrBufferFull) || !errors.Is(err, hap.ErrOutOfResources) {
			t.Errorf("expected ErrBufferFull, got %v", err)
		}
		if w.Remaining() != 1 {
			t.Errorf("Remaining = %d, want 1", w.Remaining())
		}
	})
}

func TestParse(t *testing.T) {
	data := []byte{0x06, 0x01, 0x01, 0x03, 0x02, 0xAA, 0xBB, 0x09, 0x00}

	v, err := Parse(data, 0x06, 0x03, 0x0E)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	state, ok, err := v.Uint8(0x06)
	if err != nil || !ok || state != 1 {
		t.Errorf("state = %d, %v, %v", state, ok, err)
	}
	if !v.Has(0x03) {
		t.Error("public key missing")
	}
	if v.Has(0x0E) {
		t.Error("absent type reported present")
	}
	if v.Has(0x09) {
		t.Error("unrequested type collected")
	}

	t.Run("duplicate", func(t *testing.T) {
		dup := []byte{0x06, 0x01, 0x01, 0xFF, 0x00, 0x06, 0x01, 0x03}
		if _, err := Parse(dup, 0x06); !errors.Is(err, ErrDuplicate) {
			t.Errorf("expected ErrDuplicate, got %v", err)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		if _, err := Parse([]byte{0x06, 0x05, 0x01}); !errors.Is(err, hap.ErrInvalidData) {
			t.Errorf("expected invalid data, got %v", err)
		}
		if _, err := Parse([]byte{0x06}); !errors.Is(err, ErrTruncated) {
			t.Errorf("expected ErrTruncated, got %v", err)
		}
	})

	t.Run("bad uint8 length", func(t *testing.T) {
		v, _ := Parse([]byte{0x06, 0x02, 0x01, 0x02})
		if _, _, err := v.Uint8(0x06); !errors.Is(err, ErrInvalidLength) {
			t.Errorf("expected ErrInvalidLength, got %v", err)
		}
	})
}
