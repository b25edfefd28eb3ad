package gattlink

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"

	"github.com/pion/logging"

	"github.com/backkem/hap/pkg/accessory"
	"github.com/backkem/hap/pkg/ble/link"
)

// ErrServerRequired is returned when PeripheralConfig.Server is nil.
var ErrServerRequired = errors.New("gattlink: server is required")

// PeripheralConfig configures a Peripheral.
type PeripheralConfig struct {
	// Server handles the GATT operations. Required.
	Server *accessory.Server

	// LoggerFactory for peripheral logging. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Peripheral serves GATT operations from centrals to an accessory server.
type Peripheral struct {
	server *accessory.Server
	log    logging.LeveledLogger
}

// NewPeripheral creates a peripheral.
func NewPeripheral(config PeripheralConfig) (*Peripheral, error) {
	if config.Server == nil {
		return nil, ErrServerRequired
	}
	p := &Peripheral{server: config.Server}
	if config.LoggerFactory != nil {
		p.log = config.LoggerFactory.NewLogger("hap-gattlink")
	}
	return p, nil
}

// Serve handles one central connection until it closes, the accessory
// drops it, or ctx is done. nc is closed on return. A connection that
// ends normally returns nil.
func (p *Peripheral) Serve(ctx context.Context, nc net.Conn) error {
	// The link session disconnects with the server lock held; closing nc
	// only unblocks the read loop below, which releases the Conn.
	conn, err := p.server.Connect(link.DisconnectorFunc(func() { _ = nc.Close() }))
	if err != nil {
		_ = nc.Close()
		return err
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = nc.Close() })
	defer stop()
	defer func() { _ = nc.Close() }()

	if p.log != nil {
		p.log.Infof("central connected from %s", nc.RemoteAddr())
	}

	r := newReader(nc)
	for {
		req, err := readFrame(r)
		if err != nil {
			return p.ended(ctx, conn, err)
		}
		if err := writeFrame(nc, p.handle(conn, req)); err != nil {
			return p.ended(ctx, conn, err)
		}
	}
}

// ended classifies the error that stopped a Serve loop.
func (p *Peripheral) ended(ctx context.Context, conn *accessory.Conn, err error) error {
	if ctx.Err() != nil || conn.IsTerminal() || isClosed(err) {
		if p.log != nil {
			p.log.Infof("central disconnected")
		}
		return nil
	}
	if p.log != nil {
		p.log.Warnf("central connection failed: %v", err)
	}
	return err
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

func (p *Peripheral) handle(conn *accessory.Conn, req frame) frame {
	switch req.op {
	case opWrite:
		if err := conn.HandleWrite(req.iid, req.payload); err != nil {
			return errorFrame(req.iid, err)
		}
		return frame{op: opAck, iid: req.iid}
	case opRead:
		if len(req.payload) != 2 {
			return errorFrame(req.iid, ErrMalformedFrame)
		}
		maxLen := int(binary.LittleEndian.Uint16(req.payload))
		v, err := conn.HandleRead(req.iid, maxLen)
		if err != nil {
			return errorFrame(req.iid, err)
		}
		return frame{op: opValue, iid: req.iid, payload: v}
	default:
		return errorFrame(req.iid, ErrMalformedFrame)
	}
}

func errorFrame(iid uint16, err error) frame {
	return frame{op: opError, iid: iid, payload: []byte(err.Error())}
}

// ServeListener accepts centrals from ln and serves them one at a time
// until ctx is done. ln is closed on return.
func (p *Peripheral) ServeListener(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer func() { _ = ln.Close() }()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := p.Serve(ctx, nc); err != nil && p.log != nil {
			p.log.Warnf("serve: %v", err)
		}
	}
}
