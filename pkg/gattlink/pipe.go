package gattlink

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// AutoProcess enables frame delivery in a background goroutine.
	// Default: true
	AutoProcess bool

	// ProcessInterval is how often the auto-processor delivers frames.
	// Default: 1ms
	ProcessInterval time.Duration
}

// DefaultPipeConfig returns the default pipe configuration.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		AutoProcess:     true,
		ProcessInterval: time.Millisecond,
	}
}

// Pipe is an in-memory radio between a central and a peripheral, built on
// pion's test.Bridge. Use it for GATT tests without real I/O.
//
// By default frames are delivered by a background goroutine. With
// AutoProcess disabled, call Tick or Process to deliver them. A frame is
// only handed to a reader already blocked in Read on the other endpoint;
// Tick returns 0 until one is.
//
// Each endpoint closes once. Closing it again, or closing the pipe after
// an endpoint was closed, returns nil.
type Pipe struct {
	bridge     *test.Bridge
	central    *pipeConn
	peripheral *pipeConn

	mu              sync.RWMutex
	closed          bool
	rng             *rand.Rand
	latencyMin      time.Duration
	latencyMax      time.Duration
	autoProcess     bool
	processInterval time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup
}

// NewPipe creates a pipe with auto-processing enabled.
func NewPipe() *Pipe {
	return NewPipeWithConfig(DefaultPipeConfig())
}

// NewPipeWithConfig creates a pipe with the given configuration.
func NewPipeWithConfig(config PipeConfig) *Pipe {
	p := &Pipe{
		bridge:          test.NewBridge(),
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		autoProcess:     config.AutoProcess,
		processInterval: config.ProcessInterval,
		stopCh:          make(chan struct{}),
	}
	p.central = &pipeConn{Conn: p.bridge.GetConn0(), pipe: p}
	p.peripheral = &pipeConn{Conn: p.bridge.GetConn1(), pipe: p}
	if p.processInterval == 0 {
		p.processInterval = time.Millisecond
	}
	if p.autoProcess {
		p.startAutoProcess()
	}
	return p
}

func (p *Pipe) startAutoProcess() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.processInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.bridge.Tick()
			}
		}
	}()
}

// AutoProcess returns whether auto-processing is enabled.
func (p *Pipe) AutoProcess() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.autoProcess
}

// SetLatency delays every frame by a uniform duration in [min, max].
// Connection intervals of a real link are in the tens of milliseconds.
func (p *Pipe) SetLatency(min, max time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latencyMin, p.latencyMax = min, max
}

func (p *Pipe) delay() {
	p.mu.Lock()
	d := p.latencyMin
	if p.latencyMax > p.latencyMin {
		d += time.Duration(p.rng.Int63n(int64(p.latencyMax - p.latencyMin)))
	}
	p.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
}

// Central returns the endpoint a Central uses.
func (p *Pipe) Central() net.Conn {
	return p.central
}

// Peripheral returns the endpoint a Peripheral serves.
func (p *Pipe) Peripheral() net.Conn {
	return p.peripheral
}

// Tick delivers one frame in each direction and returns how many were
// delivered.
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers all queued frames.
func (p *Pipe) Process() int {
	count := 0
	for {
		n := p.Tick()
		if n == 0 {
			return count
		}
		count += n
	}
}

// Close closes both endpoints and stops auto-processing.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.autoProcess {
		close(p.stopCh)
	}
	p.mu.Unlock()

	p.wg.Wait()

	err0 := p.central.Close()
	err1 := p.peripheral.Close()
	// Closed endpoints hang up on the next tick, which wakes blocked readers.
	p.bridge.Tick()
	if err0 != nil {
		return err0
	}
	return err1
}

// pipeConn applies the pipe latency to writes.
type pipeConn struct {
	net.Conn
	pipe *Pipe

	closeOnce sync.Once
}

// Close closes the endpoint. Only the first call reaches the bridge.
func (c *pipeConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.Conn.Close()
	})
	return err
}

func (c *pipeConn) Write(b []byte) (int, error) {
	c.pipe.delay()
	return c.Conn.Write(b)
}
