package control

import (
	"context"
	"log"

	"github.com/librescoot/egg-collector/pkg/events"
	"github.com/librescoot/egg-collector/pkg/sched"
)

// State names one of the control core's fixed states.
type State string

const (
	StateIdle        State = "Idle"
	StateScanAndMove State = "ScanAndMove"
	StatePickUpEgg   State = "PickUpEgg"
	StateTurnFirst   State = "TurnFirst"
	StateScanOnly    State = "ScanOnly"
	StateMoveOnly    State = "MoveOnly"
	StateTurnSecond  State = "TurnSecond"
)

// StateMachine sequences the patrol/pick/avoid cycle on top of a
// Context. It holds no goroutines of its own: every method is called
// synchronously by the engine's single dispatch goroutine.
type StateMachine struct {
	context *Context
	current State
}

// NewStateMachine creates a state machine in its initial Idle state.
func NewStateMachine(ctx *Context) *StateMachine {
	return &StateMachine{context: ctx, current: StateIdle}
}

// Current returns the state machine's current state name.
func (sm *StateMachine) Current() State { return sm.current }

func (sm *StateMachine) transition(ctx context.Context, trigger string, target State) {
	source := sm.current
	log.Printf("control: state transition %s -> %s (trigger: %s)", source, target, trigger)
	sm.runExit(ctx, source)
	sm.current = target
	sm.runEnter(ctx, target)
	log.Printf("control: current state %s", sm.current)
}

func (sm *StateMachine) runExit(ctx context.Context, s State) {
	switch s {
	case StatePickUpEgg:
		sm.context.ClearPickCycle()
	case StateScanOnly:
		sm.context.CancelScanOnlyTimer()
	case StateMoveOnly:
		sm.context.CancelMoveOnlyTimer()
	}
}

func (sm *StateMachine) runEnter(ctx context.Context, s State) {
	switch s {
	case StateScanAndMove:
		sm.onEnterScanAndMove(ctx)
	case StatePickUpEgg:
		sm.onEnterPickUpEgg(ctx)
	case StateTurnFirst:
		sm.onEnterTurnFirst(ctx)
	case StateScanOnly:
		sm.onEnterScanOnly(ctx)
	case StateMoveOnly:
		sm.onEnterMoveOnly(ctx)
	case StateTurnSecond:
		sm.onEnterTurnSecond(ctx)
	}
}

// StartPatrol fires the Idle -> ScanAndMove transition. Valid only from
// Idle; the engine calls it exactly once at startup.
func (sm *StateMachine) StartPatrol(ctx context.Context) {
	if sm.current != StateIdle {
		return
	}
	sm.transition(ctx, "start_patrol", StateScanAndMove)
}

func (sm *StateMachine) commencePick(ctx context.Context) {
	switch sm.current {
	case StateScanAndMove, StateScanOnly, StateMoveOnly:
		sm.transition(ctx, "commence_pick", StatePickUpEgg)
	}
}

func (sm *StateMachine) finishPicking(ctx context.Context) {
	if sm.current != StatePickUpEgg {
		return
	}
	sm.transition(ctx, "finish_picking", StateScanAndMove)
}

func (sm *StateMachine) startFirstTurn(ctx context.Context) {
	if sm.current != StateScanAndMove {
		return
	}
	sm.transition(ctx, "start_first_turn", StateTurnFirst)
}

func (sm *StateMachine) firstTurnComplete(ctx context.Context) {
	if sm.current != StateTurnFirst {
		return
	}
	sm.transition(ctx, "first_turn_complete", StateScanOnly)
}

func (sm *StateMachine) scanTimeout(ctx context.Context) {
	if sm.current != StateScanOnly {
		return
	}
	sm.transition(ctx, "scan_timeout", StateMoveOnly)
}

func (sm *StateMachine) moveTimerElapsed(ctx context.Context) {
	if sm.current != StateMoveOnly {
		return
	}
	sm.transition(ctx, "move_timer_elapsed", StateTurnSecond)
}

func (sm *StateMachine) secondTurnComplete(ctx context.Context) {
	if sm.current != StateTurnSecond {
		return
	}
	sm.transition(ctx, "second_turn_complete", StateScanAndMove)
}

// Entry actions -------------------------------------------------------

func (sm *StateMachine) onEnterScanAndMove(ctx context.Context) {
	log.Printf("control: entering state ScanAndMove")
	sm.context.CancelScanOnlyTimer()
	sm.context.CancelMoveOnlyTimer()
	sm.context.ClearPickCycle()
	if !sm.context.CommandMoveForward(ctx) {
		log.Printf("control: failed to command actor to move forward in ScanAndMove")
	}
}

func (sm *StateMachine) onEnterPickUpEgg(ctx context.Context) {
	log.Printf("control: entering state PickUpEgg")
	sm.context.CancelScanOnlyTimer()
	sm.context.CancelMoveOnlyTimer()
	if !sm.context.PreparePickQueue() {
		log.Printf("control: no pick targets available on enter PickUpEgg; resuming patrol")
		sm.finishPicking(ctx)
		return
	}
	if !sm.context.CommandNextPick(ctx) {
		log.Printf("control: unable to start pick sequence; resuming patrol")
		sm.finishPicking(ctx)
	}
}

func (sm *StateMachine) onEnterTurnFirst(ctx context.Context) {
	log.Printf("control: entering state TurnFirst")
	if !sm.context.CommandTurn(ctx) {
		log.Printf("control: failed to send first turn command; reverting to scan-only")
		sm.firstTurnComplete(ctx)
	}
}

func (sm *StateMachine) onEnterScanOnly(ctx context.Context) {
	log.Printf("control: entering state ScanOnly")
	sm.context.CancelMoveOnlyTimer()
	sm.context.StartScanOnlyTimer()
	if !sm.context.EnsureActorStopped(ctx) {
		log.Printf("control: ScanOnly: actor failed to hold position")
	}
}

func (sm *StateMachine) onEnterMoveOnly(ctx context.Context) {
	log.Printf("control: entering state MoveOnly")
	sm.context.StartMoveOnlyTimer()
	if !sm.context.CommandMoveForward(ctx) {
		log.Printf("control: MoveOnly: failed to command forward motion")
	}
}

func (sm *StateMachine) onEnterTurnSecond(ctx context.Context) {
	log.Printf("control: entering state TurnSecond")
	if !sm.context.CommandTurn(ctx) {
		log.Printf("control: failed to send second turn command; resuming patrol")
		sm.secondTurnComplete(ctx)
	}
}

// Event handlers --------------------------------------------------------

func (sm *StateMachine) isPickupActive() bool { return sm.current == StatePickUpEgg }

// HandleDetection processes a new set of vision detections.
func (sm *StateMachine) HandleDetection(ctx context.Context, e events.DetectionEvent) {
	sm.context.UpdateDetections(e.Detections, e.Frame)

	if sm.isPickupActive() {
		if len(e.Detections) == 0 && !sm.context.IsWaitingForArm() {
			log.Printf("control: detections cleared while picking; completing cycle")
			sm.finishPicking(ctx)
		} else {
			sm.context.RefreshPickQueue()
		}
		return
	}

	if !sm.context.HasPickCandidates() {
		return
	}

	if !sm.context.EnsureActorStopped(ctx) {
		log.Printf("control: unable to stop actor for pick transition")
		return
	}

	sm.commencePick(ctx)
}

// HandleActorStatus processes a new chassis status reading.
func (sm *StateMachine) HandleActorStatus(ctx context.Context, e events.ActorStatusEvent) {
	sm.context.UpdateActorStatus(e.Status)

	if sm.current == StateTurnFirst && !e.Status.IsMoving {
		sm.firstTurnComplete(ctx)
		return
	}

	if sm.current == StateTurnSecond && !e.Status.IsMoving {
		sm.secondTurnComplete(ctx)
		return
	}

	if sm.current == StateScanAndMove && sm.context.ShouldRotateDueToObstacle() {
		if !sm.context.EnsureActorStopped(ctx) {
			log.Printf("control: failed to stop actor before initiating turn")
			return
		}
		sm.startFirstTurn(ctx)
	}
}

// HandleArmStatus processes a new arm status reading.
func (sm *StateMachine) HandleArmStatus(ctx context.Context, e events.ArmStatusEvent) {
	waitingBefore := sm.context.IsWaitingForArm()
	sm.context.UpdateArmStatus(e.Status)

	if !sm.isPickupActive() {
		return
	}

	if e.Status.IsBusy {
		return
	}

	if waitingBefore {
		sm.context.CompleteCurrentPick()
	}

	if sm.context.CommandNextPick(ctx) {
		return
	}

	if sm.context.CurrentPickQueueEmpty() && !sm.context.IsWaitingForArm() {
		sm.finishPicking(ctx)
	}
}

// HandleTimer processes a timer event not already special-cased by the
// engine (ACTOR_STATUS and ARM_STATUS never reach here).
func (sm *StateMachine) HandleTimer(ctx context.Context, e events.TimerEvent) {
	if e.TimerID == sched.TimerScanOnlyTimeout && sm.current == StateScanOnly {
		sm.scanTimeout(ctx)
		return
	}

	if e.TimerID == sched.TimerMoveOnlyCountdown && sm.current == StateMoveOnly {
		if !sm.context.EnsureActorStopped(ctx) {
			log.Printf("control: MoveOnly countdown: failed to stop before turning")
		}
		sm.moveTimerElapsed(ctx)
	}
}
