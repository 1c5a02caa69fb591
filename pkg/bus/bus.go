// Package bus owns a single half-duplex serial port shared by the actor
// and arm links: one reader goroutine decodes frames and dispatches them
// to correlated requesters or broadcast listeners, while writes are
// serialized behind a mutex.
package bus

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/librescoot/egg-collector/pkg/wire"
)

// port is the subset of go.bug.st/serial.Port the bus depends on, isolated
// so tests can substitute an in-memory fake instead of a real device.
type port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Port is the exported form of the bus's port seam, letting other
// packages' tests wire a fake transport through NewWithPort.
type Port = port

// ListenerID identifies a registered broadcast listener for later removal.
type ListenerID uint64

type listenerEntry struct {
	id ListenerID
	cb func(wire.Frame)
}

type pendingWait struct {
	predicate func(wire.Frame) bool
	result    chan wire.Frame
}

// Bus manages one shared serial port: reference-counted lifecycle,
// correlated request/response, and broadcast listener fan-out.
type Bus struct {
	cfg     Config
	openFn  func(Config) (port, error)

	usageMu    sync.Mutex
	usageCount int
	stopCh     chan struct{}
	doneCh     chan struct{}

	portMu sync.Mutex
	p      port

	writeMu sync.Mutex

	waitsMu sync.Mutex
	waits   []*pendingWait

	listenersMu    sync.Mutex
	listeners      []listenerEntry
	nextListenerID ListenerID
}

// New creates a bus bound to cfg. The port is not opened until Start is
// first called.
func New(cfg Config) *Bus {
	return &Bus{
		cfg:    cfg,
		openFn: openRealPort,
	}
}

// NewWithPort creates a bus that always uses p instead of opening cfg.Port,
// for tests that need to drive the bus against an in-memory fake.
func NewWithPort(cfg Config, p Port) *Bus {
	b := New(cfg)
	b.openFn = func(Config) (port, error) { return p, nil }
	return b
}

func openRealPort(cfg Config) (port, error) {
	mode, err := cfg.mode()
	if err != nil {
		return nil, err
	}
	p, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, err
	}
	if err := p.SetReadTimeout(cfg.ReadTimeout); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// Start increments the usage count and starts the reader goroutine on the
// 0→1 transition. Safe to call repeatedly from multiple link owners.
func (b *Bus) Start() {
	b.usageMu.Lock()
	defer b.usageMu.Unlock()

	b.usageCount++
	if b.usageCount > 1 {
		return
	}

	log.Printf("bus %s: starting", b.cfg.Port)
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	go b.readerLoop(b.stopCh, b.doneCh)
}

// Stop decrements the usage count and shuts the reader down only on the
// 1→0 transition.
func (b *Bus) Stop() {
	b.usageMu.Lock()
	if b.usageCount == 0 {
		b.usageMu.Unlock()
		return
	}
	b.usageCount--
	if b.usageCount > 0 {
		b.usageMu.Unlock()
		return
	}
	stopCh, doneCh := b.stopCh, b.doneCh
	b.usageMu.Unlock()

	b.haltReader(stopCh, doneCh)
	log.Printf("bus %s: stopped", b.cfg.Port)
}

// Shutdown force-stops the bus regardless of the usage count.
func (b *Bus) Shutdown() {
	b.usageMu.Lock()
	b.usageCount = 0
	stopCh, doneCh := b.stopCh, b.doneCh
	b.usageMu.Unlock()

	b.haltReader(stopCh, doneCh)
	log.Printf("bus %s: shut down", b.cfg.Port)
}

func (b *Bus) haltReader(stopCh, doneCh chan struct{}) {
	if stopCh == nil {
		return
	}
	close(stopCh)
	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
	}
	b.closePort()
}

// RegisterListener adds a broadcast callback invoked for every frame not
// claimed by a pending request. Listener panics are recovered and logged.
func (b *Bus) RegisterListener(cb func(wire.Frame)) ListenerID {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()

	id := b.nextListenerID
	b.nextListenerID++
	b.listeners = append(b.listeners, listenerEntry{id: id, cb: cb})
	return id
}

// UnregisterListener removes a previously registered listener.
func (b *Bus) UnregisterListener(id ListenerID) {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	for i, l := range b.listeners {
		if l.id == id {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			return
		}
	}
}

// Request writes frame and blocks until a decoded frame satisfies
// predicate or timeout elapses. Predicates are evaluated in registration
// order; the first match claims the frame and is removed from the wait
// list. ctx cancellation also ends the wait early.
func (b *Bus) Request(ctx context.Context, frame []byte, predicate func(wire.Frame) bool, timeout time.Duration) (wire.Frame, bool) {
	wait := &pendingWait{predicate: predicate, result: make(chan wire.Frame, 1)}

	b.waitsMu.Lock()
	b.waits = append(b.waits, wait)
	b.waitsMu.Unlock()

	if err := b.SendFrame(frame); err != nil {
		b.cancelWait(wait)
		log.Printf("bus %s: write failed: %v", b.cfg.Port, err)
		return wire.Frame{}, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-wait.result:
		return f, true
	case <-timer.C:
		b.cancelWait(wait)
		return wire.Frame{}, false
	case <-ctx.Done():
		b.cancelWait(wait)
		return wire.Frame{}, false
	}
}

func (b *Bus) cancelWait(wait *pendingWait) {
	b.waitsMu.Lock()
	defer b.waitsMu.Unlock()
	for i, w := range b.waits {
		if w == wait {
			b.waits = append(b.waits[:i], b.waits[i+1:]...)
			return
		}
	}
}

// SendFrame writes frame to the port, opening it on demand and
// serializing concurrent writers.
func (b *Bus) SendFrame(frame []byte) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	p, err := b.ensurePort()
	if err != nil {
		return err
	}
	if _, err := p.Write(frame); err != nil {
		log.Printf("bus %s: write failed: %v", b.cfg.Port, err)
		b.closePort()
		return err
	}
	return nil
}

func (b *Bus) readerLoop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	var buf wire.Buffer
	chunk := make([]byte, b.cfg.chunkSize())

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		p, err := b.ensurePort()
		if err != nil {
			if sleepOrStop(stopCh, b.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		n, err := p.Read(chunk)
		if err != nil {
			if errors.Is(err, io.EOF) {
				continue
			}
			log.Printf("bus %s: read failed: %v", b.cfg.Port, err)
			b.closePort()
			if sleepOrStop(stopCh, b.cfg.ReconnectDelay) {
				return
			}
			continue
		}
		if n == 0 {
			continue
		}

		buf.Write(chunk[:n])
		for _, f := range wire.ExtractFrames(&buf) {
			b.dispatch(f)
		}
	}
}

func sleepOrStop(stopCh chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-stopCh:
		return true
	case <-timer.C:
		return false
	}
}

func (b *Bus) dispatch(f wire.Frame) {
	b.waitsMu.Lock()
	var claimed *pendingWait
	for i, w := range b.waits {
		if w.predicate(f) {
			claimed = w
			b.waits = append(b.waits[:i], b.waits[i+1:]...)
			break
		}
	}
	b.waitsMu.Unlock()

	if claimed != nil {
		claimed.result <- f
		return
	}

	// Broadcast listeners fire in registration order, mirroring the
	// Python bus's dict-insertion-order dispatch.
	b.listenersMu.Lock()
	listeners := make([]func(wire.Frame), 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l.cb)
	}
	b.listenersMu.Unlock()

	for _, cb := range listeners {
		invokeListener(cb, f)
	}
}

func invokeListener(cb func(wire.Frame), f wire.Frame) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("bus: listener panic: %v", r)
		}
	}()
	cb(f)
}

func (b *Bus) ensurePort() (port, error) {
	b.portMu.Lock()
	defer b.portMu.Unlock()

	if b.p != nil {
		return b.p, nil
	}
	p, err := b.openFn(b.cfg)
	if err != nil {
		log.Printf("bus %s: open failed: %v", b.cfg.Port, err)
		return nil, err
	}
	log.Printf("bus %s: opened", b.cfg.Port)
	b.p = p
	return p, nil
}

func (b *Bus) closePort() {
	b.portMu.Lock()
	defer b.portMu.Unlock()
	if b.p == nil {
		return
	}
	b.p.Close()
	b.p = nil
}
