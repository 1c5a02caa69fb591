// Package links provides typed request/response wrappers around the
// shared serial bus for the two bus-attached devices: the mobile chassis
// ("actor") and the pick-and-place manipulator ("arm").
package links

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/librescoot/egg-collector/pkg/bus"
	"github.com/librescoot/egg-collector/pkg/wire"
)

// ActorLink is a high-level wrapper for chassis commands and status over
// a shared bus. It borrows the bus; it does not own the port.
type ActorLink struct {
	bus             *bus.Bus
	ackTimeout      time.Duration
	responseTimeout time.Duration
	onStatus        func(wire.ActorStatus)

	statusMu   sync.Mutex
	lastStatus *wire.ActorStatus

	listenerID bus.ListenerID
}

// NewActorLink registers a broadcast listener on b and returns a link
// ready to be started. onStatus, if non-nil, is invoked for every
// validated status frame observed on the bus, including ones not
// requested by this link.
func NewActorLink(b *bus.Bus, ackTimeout, responseTimeout time.Duration, onStatus func(wire.ActorStatus)) *ActorLink {
	a := &ActorLink{
		bus:             b,
		ackTimeout:      ackTimeout,
		responseTimeout: responseTimeout,
		onStatus:        onStatus,
	}
	a.listenerID = b.RegisterListener(a.handleFrame)
	return a
}

// Start delegates to the shared bus; idempotent per the bus's reference
// counting.
func (a *ActorLink) Start() { a.bus.Start() }

// Shutdown delegates to the shared bus.
func (a *ActorLink) Shutdown() { a.bus.Stop() }

// MoveForward commands the chassis forward and waits for an ACK.
func (a *ActorLink) MoveForward(ctx context.Context) bool {
	return a.sendCommand(ctx, wire.ActorMoveForward)
}

// MoveBackward commands the chassis backward and waits for an ACK.
func (a *ActorLink) MoveBackward(ctx context.Context) bool {
	return a.sendCommand(ctx, wire.ActorMoveBackward)
}

// Stop commands the chassis to halt motion and waits for an ACK.
func (a *ActorLink) Stop(ctx context.Context) bool {
	return a.sendCommand(ctx, wire.ActorStop)
}

// Turn90 commands a 90 degree turn and waits for an ACK.
func (a *ActorLink) Turn90(ctx context.Context) bool {
	return a.sendCommand(ctx, wire.ActorTurn90)
}

// ReadStatus requests a fresh status report, blocking up to the link's
// configured response timeout. It returns false on timeout or an invalid
// checksum.
func (a *ActorLink) ReadStatus(ctx context.Context) (wire.ActorStatus, bool) {
	frame := wire.BuildActorStatusRequest()
	resp, ok := a.bus.Request(ctx, frame, func(f wire.Frame) bool {
		return f.Group == wire.GroupStatus
	}, a.responseTimeout)
	if !ok {
		log.Printf("actor: status request timed out after %s", a.responseTimeout)
		return wire.ActorStatus{}, false
	}
	if !resp.CRCOk {
		log.Printf("actor: status response failed checksum validation")
		return wire.ActorStatus{}, false
	}
	status := wire.ParseActorStatus(resp)
	a.updateStatus(status)
	return status, true
}

// LastStatus returns the most recently observed status, whether from a
// request this link issued or a broadcast frame seen on the bus.
func (a *ActorLink) LastStatus() (wire.ActorStatus, bool) {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	if a.lastStatus == nil {
		return wire.ActorStatus{}, false
	}
	return *a.lastStatus, true
}

func (a *ActorLink) sendCommand(ctx context.Context, cmd wire.ActorCommand) bool {
	frame := wire.BuildActorCommand(cmd)
	ack, ok := a.bus.Request(ctx, frame, wire.IsActorAck, a.ackTimeout)
	if !ok {
		log.Printf("actor: command %#x timed out waiting for ACK", byte(cmd))
		return false
	}
	if !ack.CRCOk {
		log.Printf("actor: command %#x ACK failed checksum validation", byte(cmd))
		return false
	}
	return true
}

func (a *ActorLink) handleFrame(f wire.Frame) {
	if f.Group != wire.GroupStatus {
		return
	}
	if !f.CRCOk {
		return
	}
	a.updateStatus(wire.ParseActorStatus(f))
}

func (a *ActorLink) updateStatus(status wire.ActorStatus) {
	a.statusMu.Lock()
	a.lastStatus = &status
	a.statusMu.Unlock()

	if a.onStatus != nil {
		a.onStatus(status)
	}
}
