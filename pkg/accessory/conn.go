package accessory

import (
	"github.com/backkem/hap/pkg/ble/link"
	"github.com/backkem/hap/pkg/ble/procedure"
	"github.com/backkem/hap/pkg/pairings"
	"github.com/backkem/hap/pkg/pairverify"
	"github.com/backkem/hap/pkg/session"
)

// Conn is one controller connection.
//
// Thread Safety: All methods are safe for concurrent use; they serialize
// on the server lock.
type Conn struct {
	server *Server

	session    *session.Session
	link       *link.Link
	handshake  *pairverify.Handshake
	pairings   *pairings.Procedure
	procedures map[uint16]*procedure.Procedure

	pairSetupState uint8
	closed         bool
}

// Session returns the security session of the connection.
func (c *Conn) Session() *session.Session {
	return c.session
}

// Link returns the link session of the connection.
func (c *Conn) Link() *link.Link {
	return c.link
}

func (c *Conn) sessionAccepted(s *session.Session) {
	cfg := c.server.config
	if cfg.OnSessionAccept != nil {
		cfg.OnSessionAccept(s)
	}
}

func (c *Conn) sessionInvalidated(s *session.Session) {
	// A Remove Pairing waiting for its response still has to happen.
	c.pairings.HandleSessionInvalidate(s)
	c.handshake.Reset()

	cfg := c.server.config
	if s.IsActive() && cfg.OnSessionInvalidate != nil {
		cfg.OnSessionInvalidate(s)
	}
}

func (c *Conn) procedure(iid uint16) (*procedure.Procedure, error) {
	if p, ok := c.procedures[iid]; ok {
		return p, nil
	}
	s := c.server
	ch, svc, ok := s.config.Accessory.Lookup(iid)
	if !ok {
		return nil, ErrUnknownCharacteristic
	}
	p, err := procedure.New(procedure.Config{
		Accessory:      s.config.Accessory,
		Service:        svc,
		Characteristic: ch,
		Session:        c.session,
		Link:           c.link,
		Timers:         s.timers,
		Store:          s.config.Store,
		DeviceID:       s.config.DeviceID,
		Paired:         s.paired,
		BufferSize:     s.config.BufferSize,
		LoggerFactory:  s.config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	c.procedures[iid] = p
	return p, nil
}

// fail terminates the security session after a rejected GATT request.
func (c *Conn) fail(op string, iid uint16, err error) {
	if log := c.server.log; log != nil {
		log.Warnf("GATT %s on %d rejected: %v", op, iid, err)
	}
	c.session.Invalidate(true)
}

// HandleWrite handles a GATT write to the characteristic with the given
// IID. A returned error means the request was illegal; the connection is
// then terminated.
func (c *Conn) HandleWrite(iid uint16, data []byte) error {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.wake.Acquire()()

	if c.closed {
		return ErrConnectionClosed
	}
	p, err := c.procedure(iid)
	if err != nil {
		return err
	}
	if err := p.HandleGATTWrite(data); err != nil {
		c.fail("write", iid, err)
		return err
	}
	return nil
}

// HandleRead handles a GATT read of at most maxLen bytes from the
// characteristic with the given IID.
func (c *Conn) HandleRead(iid uint16, maxLen int) ([]byte, error) {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.wake.Acquire()()

	if c.closed {
		return nil, ErrConnectionClosed
	}
	p, err := c.procedure(iid)
	if err != nil {
		return nil, err
	}
	frag, err := p.HandleGATTRead(maxLen)
	if err != nil {
		c.fail("read", iid, err)
		return nil, err
	}
	return frag, nil
}

// Close releases the connection after the controller disconnected.
func (c *Conn) Close() error {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	c.closed = true

	c.link.Release()
	for _, p := range c.procedures {
		p.Destroy()
	}
	c.session.Release()
	c.handshake.Reset()
	c.pairings.Reset()

	if s.conn == c {
		s.conn = nil
		s.didIncrementGSN = false
	}
	if s.state == StateStopping {
		s.state = StateIdle
	}
	if s.log != nil {
		s.log.Infof("controller disconnected")
	}
	return nil
}

// IsTerminal reports whether the link session stopped accepting requests.
func (c *Conn) IsTerminal() bool {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	return c.closed || c.link.IsTerminal()
}
