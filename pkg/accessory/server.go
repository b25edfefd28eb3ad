package accessory

import (
	"sync"

	"github.com/pion/logging"

	"github.com/backkem/hap/pkg/ble/link"
	"github.com/backkem/hap/pkg/ble/procedure"
	"github.com/backkem/hap/pkg/datastream"
	"github.com/backkem/hap/pkg/hap"
	"github.com/backkem/hap/pkg/model"
	"github.com/backkem/hap/pkg/pairing"
	"github.com/backkem/hap/pkg/pairings"
	"github.com/backkem/hap/pkg/pairverify"
	"github.com/backkem/hap/pkg/resume"
	"github.com/backkem/hap/pkg/session"
	"github.com/backkem/hap/pkg/timer"
)

// Server is a HAP-BLE accessory server.
//
// HAP-BLE accessories serve one controller connection at a time.
type Server struct {
	config Config
	log    logging.LeveledLogger

	// mu serializes GATT requests and timer callbacks.
	mu    sync.Mutex
	state State
	conn  *Conn

	timers      timer.Service
	pairings    pairing.Store
	cache       *resume.Cache
	dataStreams *datastream.Registry
	manager     *pairings.Manager
	wake        *WakeLock
	deviceID    string

	// didIncrementGSN is reset on every connect and disconnect.
	didIncrementGSN bool
}

// New creates a server. The server is created idle; call Start to accept
// connections.
//
// New binds the handlers of the Pairing service characteristics in
// config.Accessory.
func New(config Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	s := &Server{
		config:      config,
		state:       StateIdle,
		timers:      config.Timers,
		pairings:    config.Pairings,
		dataStreams: config.DataStreams,
		wake:        NewWakeLock(config.OnWakeLock),
		deviceID:    FormatDeviceID(config.DeviceID),
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("hap-accessory")
	}

	if s.timers == nil {
		s.timers = timer.NewSystem(&s.mu)
	}
	if s.dataStreams == nil {
		s.dataStreams = datastream.NewRegistry(datastream.Config{LoggerFactory: config.LoggerFactory})
	}
	if config.ResumeCacheSize > 0 {
		s.cache = resume.New(config.ResumeCacheSize)
	}

	var onCleanup func()
	if s.pairings == nil {
		table, err := pairing.NewTable(pairing.TableConfig{
			MaxPairings:   config.MaxPairings,
			KVS:           config.Store,
			OnStateChange: s.pairingStateChanged,
		})
		if err != nil {
			return nil, err
		}
		s.pairings = table
	} else {
		// A foreign store does not report state changes.
		onCleanup = func() { s.pairingStateChanged(pairing.StateUnpaired) }
	}

	s.manager = pairings.NewManager(pairings.Config{
		Pairings:       s.pairings,
		Cache:          s.cache,
		DataStreams:    s.dataStreams,
		KVS:            config.Store,
		OnUpdatedState: onCleanup,
		LoggerFactory:  config.LoggerFactory,
	})

	s.bindPairingService()
	s.bindEvents()
	return s, nil
}

func (s *Server) pairingStateChanged(change pairing.StateChange) {
	if s.log != nil {
		s.log.Infof("accessory is now %s", change)
	}
	if s.config.OnUpdatedState != nil {
		s.config.OnUpdatedState(change == pairing.StatePaired)
	}
}

// Start begins accepting connections. Pairings left without an admin are
// removed first.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return ErrAlreadyStarted
	}
	if err := s.manager.CleanupPairings(); err != nil {
		return err
	}
	s.state = StateRunning
	if s.log != nil {
		s.log.Infof("accessory server started (%s, %d pairings)", s.deviceID, s.pairings.Count())
	}
	return nil
}

// Stop stops accepting connections. An open connection is terminated once
// it is safe to disconnect; the server becomes idle when it is closed.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		return
	}
	if s.conn == nil {
		s.state = StateIdle
		return
	}
	s.state = StateStopping
	if s.log != nil {
		s.log.Infof("stopping: terminating connection")
	}
	s.conn.session.Invalidate(true)
}

// State returns the lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Accessory returns the attribute database.
func (s *Server) Accessory() *model.Accessory {
	return s.config.Accessory
}

// DeviceID returns the accessory pairing identifier.
func (s *Server) DeviceID() string {
	return s.deviceID
}

// Pairings returns the pairing store.
func (s *Server) Pairings() pairing.Store {
	return s.pairings
}

// DataStreams returns the registry of pairing-bound resources.
func (s *Server) DataStreams() *datastream.Registry {
	return s.dataStreams
}

// WakeLock returns the wake lock held while the server handles a GATT
// request. Applications may acquire it as well.
func (s *Server) WakeLock() *WakeLock {
	return s.wake
}

// Connect accepts a BLE connection. d drops the connection when the link
// session terminates it; it runs with the server lock held and must not
// call Close itself.
func (s *Server) Connect(d link.Disconnector) (*Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		return nil, ErrNotRunning
	}
	if s.conn != nil {
		return nil, ErrConnectionExists
	}

	c := &Conn{
		server:     s,
		procedures: make(map[uint16]*procedure.Procedure),
	}
	c.session = session.New(session.Config{
		Transport:     hap.TransportTypeBLE,
		Pairings:      s.pairings,
		KeyExpiry:     s.config.KeyExpiry,
		Now:           s.timers.Now,
		LoggerFactory: s.config.LoggerFactory,
	})
	c.session.AddHooks(session.Hooks{
		OnAccept:     c.sessionAccepted,
		OnInvalidate: c.sessionInvalidated,
	})

	l, err := link.New(link.Config{
		Session:       c.session,
		Timers:        s.timers,
		Disconnector:  d,
		Running:       func() bool { return s.state == StateRunning },
		LoggerFactory: s.config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	c.link = l

	c.handshake = pairverify.NewHandshake(pairverify.Config{
		DeviceID:      s.deviceID,
		LongTermKey:   s.config.LongTermKey,
		Pairings:      s.pairings,
		Cache:         s.cache,
		DataStreams:   s.dataStreams,
		Rand:          s.config.Rand,
		LoggerFactory: s.config.LoggerFactory,
	})
	c.pairings = s.manager.NewProcedure()

	s.conn = c
	s.didIncrementGSN = false
	if s.log != nil {
		s.log.Infof("controller connected")
	}
	return c, nil
}

// connFor returns the connection owning sess.
func (s *Server) connFor(sess *session.Session) (*Conn, error) {
	if s.conn == nil || s.conn.session != sess {
		return nil, ErrConnectionClosed
	}
	return s.conn, nil
}

func (s *Server) paired() bool {
	return s.pairings.Count() > 0
}
