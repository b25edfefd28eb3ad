package gattlink

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/pion/logging"

	"github.com/backkem/hap/pkg/hap"
)

// CentralConfig configures a Central.
type CentralConfig struct {
	// Conn reaches the peripheral. Required.
	Conn net.Conn

	// LoggerFactory for central logging. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Central issues GATT operations to a peripheral. It satisfies the GATT
// interface of the HAP-BLE client.
//
// Thread Safety: All methods are safe for concurrent use; operations are
// serialized.
type Central struct {
	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
	log  logging.LeveledLogger
}

// NewCentral creates a central on config.Conn.
func NewCentral(config CentralConfig) *Central {
	c := &Central{conn: config.Conn, r: newReader(config.Conn)}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("hap-gattlink-central")
	}
	return c
}

func (c *Central) roundTrip(req frame, want uint8) (frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := writeFrame(c.conn, req); err != nil {
		return frame{}, err
	}
	resp, err := readFrame(c.r)
	if err != nil {
		return frame{}, err
	}
	switch {
	case resp.op == opError:
		return frame{}, fmt.Errorf("%w: %s", ErrRemote, resp.payload)
	case resp.op != want || resp.iid != req.iid:
		return frame{}, fmt.Errorf("gattlink: unexpected op 0x%02X for %d: %w", resp.op, resp.iid, hap.ErrInvalidData)
	}
	return resp, nil
}

// Write writes one GATT value to the characteristic iid.
func (c *Central) Write(iid uint16, data []byte) error {
	_, err := c.roundTrip(frame{op: opWrite, iid: iid, payload: data}, opAck)
	if err != nil && c.log != nil {
		c.log.Debugf("write %d: %v", iid, err)
	}
	return err
}

// Read reads one GATT value of at most maxLen bytes.
func (c *Central) Read(iid uint16, maxLen int) ([]byte, error) {
	if maxLen < 0 || maxLen > 0xFFFF {
		return nil, fmt.Errorf("gattlink: read length %d: %w", maxLen, hap.ErrInvalidData)
	}
	var p [2]byte
	binary.LittleEndian.PutUint16(p[:], uint16(maxLen))
	resp, err := c.roundTrip(frame{op: opRead, iid: iid, payload: p[:]}, opValue)
	if err != nil {
		if c.log != nil {
			c.log.Debugf("read %d: %v", iid, err)
		}
		return nil, err
	}
	return resp.payload, nil
}

// Close closes the connection to the peripheral.
func (c *Central) Close() error {
	return c.conn.Close()
}
