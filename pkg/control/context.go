package control

import (
	"context"
	"log"
	"math"

	"github.com/librescoot/egg-collector/pkg/config"
	"github.com/librescoot/egg-collector/pkg/sched"
	"github.com/librescoot/egg-collector/pkg/wire"
)

// Context holds the control core's runtime state and the side-effecting
// helpers the state machine uses. It hides motion inference and pick
// queue management from the FSM; the FSM only ever calls these methods
// and reads their boolean results.
//
// A Context is owned exclusively by the engine's single dispatch
// goroutine — nothing else may reach into it.
type Context struct {
	actor     ActorController
	arm       ArmController
	scheduler *sched.Scheduler
	behaviour config.BehaviourConfig
	timers    config.SchedulerConfig

	currentFrame      *FrameData
	currentDetections []Detection
	latestActorStatus *wire.ActorStatus
	latestArmStatus   *wire.ArmStatus

	pickQueue     []Detection
	pickAttempts  map[uint32]int
	currentTarget *Detection
	waitingForArm bool
	actorMotion   ActorMotion
}

// NewContext creates a context bound to the given links, scheduler, and
// behaviour thresholds.
func NewContext(actor ActorController, arm ArmController, scheduler *sched.Scheduler, behaviour config.BehaviourConfig, timers config.SchedulerConfig) *Context {
	return &Context{
		actor:        actor,
		arm:          arm,
		scheduler:    scheduler,
		behaviour:    behaviour,
		timers:       timers,
		pickAttempts: make(map[uint32]int),
		actorMotion:  MotionStopped,
	}
}

// UpdateDetections replaces the current set of observations, called
// whenever a DetectionEvent arrives.
func (c *Context) UpdateDetections(detections []Detection, frame FrameData) {
	c.currentDetections = detections
	c.currentFrame = &frame
}

// UpdateActorStatus records the latest chassis status and infers motion:
// if the chassis reports moving while we thought it was stopped, assume
// the MCU moved on its own and upgrade to forward motion; if it reports
// stopped, always downgrade to stopped.
func (c *Context) UpdateActorStatus(status wire.ActorStatus) {
	c.latestActorStatus = &status
	if status.IsMoving {
		if c.actorMotion == MotionStopped {
			c.actorMotion = MotionForward
		}
	} else {
		c.actorMotion = MotionStopped
	}
}

// UpdateArmStatus records the latest arm status, clearing the
// waiting-for-arm flag once the arm reports idle.
func (c *Context) UpdateArmStatus(status wire.ArmStatus) {
	c.latestArmStatus = &status
	if !status.IsBusy && c.waitingForArm {
		c.waitingForArm = false
	}
}

// HasPickCandidates reports whether the current detections include at
// least one valid pick target.
func (c *Context) HasPickCandidates() bool {
	return len(c.filterCandidates()) > 0
}

// PreparePickQueue filters and sorts the current detections into a fresh
// pick queue, closest to the image center first. It returns true iff the
// queue ends up non-empty.
func (c *Context) PreparePickQueue() bool {
	candidates := c.filterCandidates()
	if len(candidates) == 0 {
		c.pickQueue = nil
		return false
	}

	centerX := float32(c.currentFrame.ImageWidth) / 2
	sortByCenterDistance(candidates, centerX)
	c.pickQueue = candidates
	log.Printf("control: prepared pick queue with %d targets", len(c.pickQueue))
	return true
}

// RefreshPickQueue repopulates the queue if it has drained, for use
// while a pick cycle is in progress and new detections arrive.
func (c *Context) RefreshPickQueue() {
	if len(c.pickQueue) == 0 {
		c.PreparePickQueue()
	}
}

// CommandNextPick pops targets off the queue until one is issued
// successfully or the queue drains. Targets that have already exhausted
// their attempt budget are skipped. Returns true iff a pick command was
// acknowledged.
func (c *Context) CommandNextPick(ctx context.Context) bool {
	for len(c.pickQueue) > 0 {
		target := c.pickQueue[0]
		c.pickQueue = c.pickQueue[1:]

		attempts := c.pickAttempts[target.ID]
		if attempts >= c.behaviour.MaxArmPickAttempts {
			log.Printf("control: target %d skipped after %d failed attempts", target.ID, attempts)
			continue
		}

		xMM, yMM := mapDetectionToMM(target)
		success := c.arm.Pick(ctx, xMM, yMM)
		c.pickAttempts[target.ID] = attempts + 1
		if success {
			t := target
			c.currentTarget = &t
			c.waitingForArm = true
			return true
		}
		log.Printf("control: arm pick failed for target %d (attempt %d/%d)", target.ID, attempts+1, c.behaviour.MaxArmPickAttempts)
	}

	c.currentTarget = nil
	return false
}

// CompleteCurrentPick clears the current target after the arm reports
// idle.
func (c *Context) CompleteCurrentPick() {
	c.currentTarget = nil
	c.waitingForArm = false
}

// ClearPickCycle resets all pick-related state.
func (c *Context) ClearPickCycle() {
	c.pickQueue = nil
	c.currentTarget = nil
	c.waitingForArm = false
}

// ShouldRotateDueToObstacle reports whether the chassis should stop and
// turn away from an obstacle ahead.
func (c *Context) ShouldRotateDueToObstacle() bool {
	status := c.latestActorStatus
	if status == nil || status.DistanceCM == nil {
		return false
	}
	if c.actorMotion == MotionTurning {
		return false
	}
	return float64(*status.DistanceCM) <= c.behaviour.DistanceStopThresholdCM
}

// EnsureActorStopped commands a stop unless the inferred motion is
// already stopped.
func (c *Context) EnsureActorStopped(ctx context.Context) bool {
	if c.actorMotion == MotionStopped {
		return true
	}
	success := c.actor.Stop(ctx)
	if success {
		c.actorMotion = MotionStopped
	} else {
		log.Printf("control: stop command failed")
	}
	return success
}

// CommandMoveForward commands forward motion unless already moving
// forward.
func (c *Context) CommandMoveForward(ctx context.Context) bool {
	if c.actorMotion == MotionForward {
		return true
	}
	success := c.actor.MoveForward(ctx)
	if success {
		c.actorMotion = MotionForward
	} else {
		log.Printf("control: move forward command failed")
	}
	return success
}

// CommandTurn issues a 90 degree turn.
func (c *Context) CommandTurn(ctx context.Context) bool {
	success := c.actor.Turn90(ctx)
	if success {
		c.actorMotion = MotionTurning
	} else {
		log.Printf("control: turn command failed")
	}
	return success
}

// IsWaitingForArm reports whether a pick command is outstanding.
func (c *Context) IsWaitingForArm() bool { return c.waitingForArm }

// CurrentPickQueueEmpty reports whether the pick queue has no targets
// left.
func (c *Context) CurrentPickQueueEmpty() bool { return len(c.pickQueue) == 0 }

// StartScanOnlyTimer arms the scan-only timeout: if no pick candidate
// shows up before it fires, the FSM falls back to moving.
func (c *Context) StartScanOnlyTimer() {
	c.scheduler.ScheduleOnce(sched.TimerScanOnlyTimeout, c.timers.ScanOnlyTimeout)
}

// CancelScanOnlyTimer disarms the scan-only timeout, e.g. because a
// candidate was found before it fired.
func (c *Context) CancelScanOnlyTimer() {
	c.scheduler.Cancel(sched.TimerScanOnlyTimeout)
}

// StartMoveOnlyTimer arms the move-only countdown that ends the
// post-turn straight run and triggers the second turn.
func (c *Context) StartMoveOnlyTimer() {
	c.scheduler.ScheduleOnce(sched.TimerMoveOnlyCountdown, c.timers.MoveOnlyDuration)
}

// CancelMoveOnlyTimer disarms the move-only countdown.
func (c *Context) CancelMoveOnlyTimer() {
	c.scheduler.Cancel(sched.TimerMoveOnlyCountdown)
}

// ActorMotionState exposes the inferred motion, for tests and telemetry.
func (c *Context) ActorMotionState() ActorMotion { return c.actorMotion }

// LatestActorStatus returns the most recently observed chassis status.
func (c *Context) LatestActorStatus() (wire.ActorStatus, bool) {
	if c.latestActorStatus == nil {
		return wire.ActorStatus{}, false
	}
	return *c.latestActorStatus, true
}

// LatestArmStatus returns the most recently observed arm status.
func (c *Context) LatestArmStatus() (wire.ArmStatus, bool) {
	if c.latestArmStatus == nil {
		return wire.ArmStatus{}, false
	}
	return *c.latestArmStatus, true
}

func (c *Context) filterCandidates() []Detection {
	if c.currentFrame == nil {
		return nil
	}
	width := float32(c.currentFrame.ImageWidth)
	centerX := width / 2
	tolerancePx := width * float32(c.behaviour.DetectionCenterTolerance)

	var candidates []Detection
	for _, det := range c.currentDetections {
		if det.Confidence < float32(c.behaviour.DetectionMinConfidence) {
			continue
		}
		cx, _ := center(det)
		if abs32(cx-centerX) <= tolerancePx {
			candidates = append(candidates, det)
		}
	}
	return candidates
}

// mapDetectionToMM is the pixel→millimeter mapping: an identity
// function rounded to the nearest integer, deferred to an external
// calibration collaborator (see DESIGN.md).
func mapDetectionToMM(d Detection) (int, int) {
	cx, cy := center(d)
	return int(math.Round(float64(cx))), int(math.Round(float64(cy)))
}

func sortByCenterDistance(candidates []Detection, centerX float32) {
	// Candidates are few (single-digit counts per frame); insertion sort
	// keeps this allocation-free and stable.
	for i := 1; i < len(candidates); i++ {
		j := i
		for j > 0 && distanceFromCenter(candidates[j], centerX) < distanceFromCenter(candidates[j-1], centerX) {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
			j--
		}
	}
}

func distanceFromCenter(d Detection, centerX float32) float32 {
	cx, _ := center(d)
	return abs32(cx - centerX)
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
