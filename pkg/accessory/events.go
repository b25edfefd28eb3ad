package accessory

import (
	"github.com/backkem/hap/pkg/kvs"
	"github.com/backkem/hap/pkg/model"
)

// bindEvents makes successful controller writes to characteristics that
// support event notification count as value changes.
func (s *Server) bindEvents() {
	for _, svc := range s.config.Accessory.Services {
		if svc.Type == model.ServiceTypePairing {
			continue
		}
		for _, c := range svc.Characteristics {
			if !c.Properties.SupportsEventNotification || c.OnWrite == nil {
				continue
			}
			write, iid := c.OnWrite, c.IID
			c.OnWrite = func(req model.WriteRequest, value []byte) error {
				if err := write(req, value); err != nil {
					return err
				}
				if err := s.raiseEventLocked(iid); err != nil && s.log != nil {
					s.log.Warnf("characteristic %d: %v", iid, err)
				}
				return nil
			}
		}
	}
}

// RaiseEvent reports that the value of the characteristic iid changed on
// the accessory side, e.g. from a physical button.
//
// The global state number advances at most once while a controller is
// connected and at most once between connections.
func (s *Server) RaiseEvent(iid uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, _, ok := s.config.Accessory.Lookup(iid); !ok {
		return ErrUnknownCharacteristic
	}
	return s.raiseEventLocked(iid)
}

func (s *Server) raiseEventLocked(iid uint16) error {
	if s.didIncrementGSN {
		return nil
	}
	gsn, err := kvs.IncrementGSN(s.config.Store)
	if err != nil {
		return err
	}
	s.didIncrementGSN = true
	if s.log != nil {
		s.log.Debugf("characteristic %d changed, GSN %d", iid, gsn)
	}
	return nil
}

// GSN returns the global state number.
func (s *Server) GSN() (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return kvs.ReadGSN(s.config.Store)
}
