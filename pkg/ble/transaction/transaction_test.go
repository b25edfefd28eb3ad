package transaction

import (
	"bytes"
	"errors"
	"testing"

	"github.com/backkem/hap/pkg/ble/pdu"
	"github.com/backkem/hap/pkg/hap"
)

func TestTransaction_FragmentedRoundTrip(t *testing.T) {
	tx := New(64)

	// Step 1: first fragment carries 3 of 5 body bytes.
	if err := tx.HandleWrite([]byte{0x00, 0x02, 0x11, 0x22, 0x00, 0x05, 0x00, 1, 2, 3}); err != nil {
		t.Fatalf("HandleWrite(first) error = %v", err)
	}
	if tx.IsRequestAvailable() {
		t.Fatal("request available before last fragment")
	}

	// Step 2: continuation completes the body.
	if err := tx.HandleWrite([]byte{0x80, 0x11, 4, 5}); err != nil {
		t.Fatalf("HandleWrite(continuation) error = %v", err)
	}
	if !tx.IsRequestAvailable() {
		t.Fatal("request not available")
	}
	req, err := tx.Request()
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if req.Opcode != pdu.OpcodeCharacteristicWrite || req.TID != 0x11 || req.IID != 0x22 || !bytes.Equal(req.Body, []byte{1, 2, 3, 4, 5}) {
		t.Fatalf("Request() = %+v", req)
	}

	// Step 3: an empty continuation while handling is tolerated.
	if err := tx.HandleWrite([]byte{0x80, 0x11}); err != nil {
		t.Fatalf("HandleWrite(empty continuation) error = %v", err)
	}

	// Step 4: 8-byte response read with a 10-byte MTU.
	tx.SetResponse(pdu.StatusSuccess, []byte{10, 11, 12, 13, 14, 15, 16, 17})
	frag, final, err := tx.HandleRead(10)
	if err != nil {
		t.Fatalf("HandleRead() error = %v", err)
	}
	if final || !bytes.Equal(frag, []byte{0x02, 0x11, 0x00, 0x08, 0x00, 10, 11, 12, 13, 14}) {
		t.Fatalf("HandleRead() = % x final=%v", frag, final)
	}
	frag, final, err = tx.HandleRead(10)
	if err != nil {
		t.Fatalf("HandleRead() error = %v", err)
	}
	if !final || !bytes.Equal(frag, []byte{0x82, 0x11, 15, 16, 17}) {
		t.Fatalf("HandleRead() = % x final=%v", frag, final)
	}

	// Step 5: writes are not accepted while the response is read.
	if err := tx.HandleWrite([]byte{0x80, 0x11}); !errors.Is(err, hap.ErrInvalidState) {
		t.Fatalf("HandleWrite() during response error = %v", err)
	}
}

func TestTransaction_HeaderOnlyResponse(t *testing.T) {
	tx := New(16)
	if err := tx.HandleWrite([]byte{0x00, 0x04, 0x01, 0x22, 0x00}); err != nil {
		t.Fatalf("HandleWrite() error = %v", err)
	}
	if _, err := tx.Request(); err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	tx.SetResponse(pdu.StatusInvalidRequest, nil)
	frag, final, err := tx.HandleRead(3)
	if err != nil || !final || !bytes.Equal(frag, []byte{0x02, 0x01, 0x06}) {
		t.Fatalf("HandleRead() = % x final=%v err=%v", frag, final, err)
	}
}

func TestTransaction_Errors(t *testing.T) {
	t.Run("response as first fragment", func(t *testing.T) {
		tx := New(16)
		if err := tx.HandleWrite([]byte{0x02, 0x01, 0x00}); !errors.Is(err, ErrNotRequest) {
			t.Fatalf("error = %v, want ErrNotRequest", err)
		}
	})

	t.Run("tid mismatch", func(t *testing.T) {
		tx := New(16)
		_ = tx.HandleWrite([]byte{0x00, 0x02, 0x01, 0x22, 0x00, 0x02, 0x00, 1})
		if err := tx.HandleWrite([]byte{0x80, 0x02, 2}); !errors.Is(err, ErrTIDMismatch) {
			t.Fatalf("error = %v, want ErrTIDMismatch", err)
		}
	})

	t.Run("body larger than capacity", func(t *testing.T) {
		tx := New(2)
		if err := tx.HandleWrite([]byte{0x00, 0x02, 0x01, 0x22, 0x00, 0x03, 0x00, 1, 2, 3}); err != nil {
			t.Fatalf("HandleWrite() error = %v", err)
		}
		if !tx.IsRequestAvailable() {
			t.Fatal("oversized request must still complete")
		}
		if _, err := tx.Request(); !errors.Is(err, hap.ErrOutOfResources) {
			t.Fatalf("Request() error = %v, want OutOfResources", err)
		}
	})

	t.Run("read before response", func(t *testing.T) {
		tx := New(16)
		if _, _, err := tx.HandleRead(20); !errors.Is(err, ErrUnexpectedRead) {
			t.Fatalf("HandleRead() error = %v, want ErrUnexpectedRead", err)
		}
	})

	t.Run("read buffer too small", func(t *testing.T) {
		tx := New(16)
		tx.SetResponse(pdu.StatusSuccess, []byte{1})
		if _, _, err := tx.HandleRead(4); !errors.Is(err, hap.ErrOutOfResources) {
			t.Fatalf("HandleRead() error = %v, want OutOfResources", err)
		}
	})

	t.Run("reset", func(t *testing.T) {
		tx := New(16)
		_ = tx.HandleWrite([]byte{0x00, 0x03, 0x01, 0x22, 0x00})
		tx.Reset(0)
		if tx.State() != StateWaitingForInitialWrite || tx.Capacity() != 0 {
			t.Fatalf("Reset() state = %s capacity = %d", tx.State(), tx.Capacity())
		}
	})
}
