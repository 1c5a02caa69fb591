package links

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/librescoot/egg-collector/pkg/bus"
	"github.com/librescoot/egg-collector/pkg/wire"
)

// ArmLink is a high-level wrapper for manipulator commands and status
// over a shared bus.
type ArmLink struct {
	bus             *bus.Bus
	ackTimeout      time.Duration
	responseTimeout time.Duration
	onStatus        func(wire.ArmStatus)

	statusMu   sync.Mutex
	lastStatus *wire.ArmStatus

	listenerID bus.ListenerID
}

// NewArmLink registers a broadcast listener on b and returns a link ready
// to be started.
func NewArmLink(b *bus.Bus, ackTimeout, responseTimeout time.Duration, onStatus func(wire.ArmStatus)) *ArmLink {
	a := &ArmLink{
		bus:             b,
		ackTimeout:      ackTimeout,
		responseTimeout: responseTimeout,
		onStatus:        onStatus,
	}
	a.listenerID = b.RegisterListener(a.handleFrame)
	return a
}

// Start delegates to the shared bus.
func (a *ArmLink) Start() { a.bus.Start() }

// Shutdown delegates to the shared bus.
func (a *ArmLink) Shutdown() { a.bus.Stop() }

// Pick commands a pick motion at the given coordinates, expressed in
// millimeters and clamped into the arm's 16-bit coordinate range before
// encoding. It waits for an ACK.
func (a *ArmLink) Pick(ctx context.Context, xMM, yMM int) bool {
	frame := wire.BuildArmPickCommand(xMM, yMM)
	ack, ok := a.bus.Request(ctx, frame, wire.IsArmAck, a.ackTimeout)
	if !ok {
		log.Printf("arm: pick(%d,%d) timed out waiting for ACK", xMM, yMM)
		return false
	}
	if !ack.CRCOk {
		log.Printf("arm: pick(%d,%d) ACK failed checksum validation", xMM, yMM)
		return false
	}
	return true
}

// ReadStatus requests a fresh status report, blocking up to timeout. It
// returns false on timeout or an invalid checksum. timeout overrides the
// link's configured response timeout, letting WaitUntilIdle poll at a
// different cadence than a one-off status read.
func (a *ArmLink) ReadStatus(ctx context.Context, timeout time.Duration) (wire.ArmStatus, bool) {
	frame := wire.BuildArmStatusRequest()
	resp, ok := a.bus.Request(ctx, frame, func(f wire.Frame) bool {
		return f.Group == wire.GroupStatus
	}, timeout)
	if !ok {
		return wire.ArmStatus{}, false
	}
	if !resp.CRCOk {
		log.Printf("arm: status response failed checksum validation")
		return wire.ArmStatus{}, false
	}
	status := wire.ParseArmStatus(resp)
	a.updateStatus(status)
	return status, true
}

// ReadStatusDefault requests status using the link's configured response
// timeout.
func (a *ArmLink) ReadStatusDefault(ctx context.Context) (wire.ArmStatus, bool) {
	return a.ReadStatus(ctx, a.responseTimeout)
}

// LastStatus returns the most recently observed status.
func (a *ArmLink) LastStatus() (wire.ArmStatus, bool) {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	if a.lastStatus == nil {
		return wire.ArmStatus{}, false
	}
	return *a.lastStatus, true
}

// WaitUntilIdle polls status at pollInterval until a non-busy status is
// observed or timeout elapses, returning false in the latter case.
func (a *ArmLink) WaitUntilIdle(ctx context.Context, timeout, pollInterval time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		status, ok := a.ReadStatus(ctx, pollInterval)
		if ok && !status.IsBusy {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(pollInterval):
		}
	}
	return false
}

func (a *ArmLink) handleFrame(f wire.Frame) {
	if f.Group != wire.GroupStatus {
		return
	}
	if !f.CRCOk {
		return
	}
	a.updateStatus(wire.ParseArmStatus(f))
}

func (a *ArmLink) updateStatus(status wire.ArmStatus) {
	a.statusMu.Lock()
	a.lastStatus = &status
	a.statusMu.Unlock()

	if a.onStatus != nil {
		a.onStatus(status)
	}
}
