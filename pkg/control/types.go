// Package control implements the patrol/pick/avoid state machine that
// sequences the actor chassis and the arm manipulator on top of the
// shared serial bus, event bus, and scheduler.
package control

import (
	"context"

	"github.com/librescoot/egg-collector/pkg/events"
	"github.com/librescoot/egg-collector/pkg/wire"
)

// Detection, BoundingBox, and FrameData are the vision-pipeline types
// the event bus carries; control reuses them directly rather than
// duplicating the definitions (which would otherwise create an import
// cycle between pkg/events and pkg/control).
type Detection = events.Detection
type BoundingBox = events.BoundingBox
type FrameData = events.FrameData

// center returns a detection's bounding box center in pixel coordinates.
func center(d Detection) (float32, float32) {
	return d.BBox.Center()
}

// ActorMotion is the context's best inference of the chassis's current
// motion, updated only in response to issued commands and observed
// status.
type ActorMotion int

const (
	MotionStopped ActorMotion = iota
	MotionForward
	MotionTurning
)

func (m ActorMotion) String() string {
	switch m {
	case MotionStopped:
		return "stopped"
	case MotionForward:
		return "forward"
	case MotionTurning:
		return "turning"
	default:
		return "unknown"
	}
}

// ActorController is the subset of *links.ActorLink the control context
// depends on, extracted so the engine can run against an in-memory fake
// without a real bus.
type ActorController interface {
	Start()
	Shutdown()
	MoveForward(ctx context.Context) bool
	MoveBackward(ctx context.Context) bool
	Stop(ctx context.Context) bool
	Turn90(ctx context.Context) bool
	ReadStatus(ctx context.Context) (wire.ActorStatus, bool)
	LastStatus() (wire.ActorStatus, bool)
}

// ArmController is the subset of *links.ArmLink the control context
// depends on.
type ArmController interface {
	Start()
	Shutdown()
	Pick(ctx context.Context, xMM, yMM int) bool
	ReadStatusDefault(ctx context.Context) (wire.ArmStatus, bool)
	LastStatus() (wire.ArmStatus, bool)
}
