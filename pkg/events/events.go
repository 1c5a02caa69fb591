// Package events defines the control core's event vocabulary and the
// bounded single-consumer queue that carries it.
package events

import (
	"time"

	"github.com/librescoot/egg-collector/pkg/wire"
)

// TimerID names one of the control core's fixed set of timers. The
// named constants live in pkg/sched, which aliases this type.
type TimerID int

// Event is implemented by every concrete event the control engine
// dispatches. The unexported method confines implementations to this
// package, giving callers an exhaustive, closed set to switch over —
// the Go rendering of the source's tagged union.
type Event interface {
	isControlEvent()
}

// BoundingBox is a detection's axis-aligned box in image pixel
// coordinates.
type BoundingBox struct {
	X1, Y1, X2, Y2 float32
}

// Center returns the box's midpoint.
func (b BoundingBox) Center() (float32, float32) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Detection is a single vision-pipeline observation.
type Detection struct {
	ID         uint32
	Label      string
	Confidence float32
	BBox       BoundingBox
}

// FrameData accompanies a batch of detections. The pixel buffer itself
// is intentionally omitted — only dimensions and identity are consumed
// by the control core.
type FrameData struct {
	ImageWidth  int
	ImageHeight int
	FrameID     uint64
	Timestamp   time.Time
}

// DetectionEvent carries a fresh batch of vision observations.
type DetectionEvent struct {
	Detections []Detection
	Frame      FrameData
}

func (DetectionEvent) isControlEvent() {}

// ActorStatusEvent carries a freshly read chassis status.
type ActorStatusEvent struct {
	Status wire.ActorStatus
}

func (ActorStatusEvent) isControlEvent() {}

// ArmStatusEvent carries a freshly read arm status.
type ArmStatusEvent struct {
	Status wire.ArmStatus
}

func (ArmStatusEvent) isControlEvent() {}

// TimerEvent signals that a scheduled timer fired.
type TimerEvent struct {
	TimerID TimerID
}

func (TimerEvent) isControlEvent() {}

// CommandResultEvent reports the outcome of a previously issued command,
// for producers that want to surface asynchronous command completion
// through the event bus rather than a direct callback.
type CommandResultEvent struct {
	Command string
	Success bool
}

func (CommandResultEvent) isControlEvent() {}

// StopEvent requests that the engine's dispatch loop terminate.
type StopEvent struct {
	Reason string
}

func (StopEvent) isControlEvent() {}
