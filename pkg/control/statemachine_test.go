package control

import (
	"context"
	"testing"

	"github.com/librescoot/egg-collector/pkg/events"
	"github.com/librescoot/egg-collector/pkg/sched"
	"github.com/librescoot/egg-collector/pkg/wire"
)

func newTestMachine(actor *fakeActor, arm *fakeArm) (*StateMachine, *Context) {
	ctx, _, _ := newTestContext(actor, arm)
	return NewStateMachine(ctx), ctx
}

func TestStartPatrolEntersScanAndMoveAndCommandsForward(t *testing.T) {
	actor := &fakeActor{moveForwardResult: true}
	sm, _ := newTestMachine(actor, &fakeArm{})
	bg := context.Background()

	sm.StartPatrol(bg)

	if sm.Current() != StateScanAndMove {
		t.Fatalf("got state %s, want ScanAndMove", sm.Current())
	}
	if actor.callCount("move_forward") != 1 {
		t.Fatalf("expected entering ScanAndMove to command forward motion")
	}
}

func TestDetectionWithCandidateTransitionsToPickUpEgg(t *testing.T) {
	actor := &fakeActor{moveForwardResult: true, stopResult: true}
	arm := &fakeArm{pickResults: []bool{true}}
	sm, _ := newTestMachine(actor, arm)
	bg := context.Background()
	sm.StartPatrol(bg)

	frame := FrameData{ImageWidth: 100, ImageHeight: 100}
	target := detection(1, 0.9, 40) // center 50, dead center
	sm.HandleDetection(bg, events.DetectionEvent{Detections: []Detection{target}, Frame: frame})

	if sm.Current() != StatePickUpEgg {
		t.Fatalf("got state %s, want PickUpEgg", sm.Current())
	}
	if arm.pickCallCount() != 1 {
		t.Fatalf("expected entering PickUpEgg to issue a pick command")
	}
}

func TestPickUpEggWithNoCandidatesReturnsToPatrolImmediately(t *testing.T) {
	actor := &fakeActor{moveForwardResult: true, stopResult: true}
	arm := &fakeArm{}
	sm, _ := newTestMachine(actor, arm)
	bg := context.Background()
	sm.StartPatrol(bg)

	// Force a transition into PickUpEgg without any detections queued:
	// on_enter finds an empty queue and should bounce straight back.
	sm.commencePick(bg)

	if sm.Current() != StateScanAndMove {
		t.Fatalf("got state %s, want to bounce back to ScanAndMove", sm.Current())
	}
	if arm.pickCallCount() != 0 {
		t.Fatalf("expected no pick command when no targets are queued")
	}
}

func TestArmStatusIdleAfterPickAdvancesToNextTargetThenFinishes(t *testing.T) {
	actor := &fakeActor{moveForwardResult: true, stopResult: true}
	arm := &fakeArm{pickResults: []bool{true, true}}
	sm, _ := newTestMachine(actor, arm)
	bg := context.Background()
	sm.StartPatrol(bg)

	frame := FrameData{ImageWidth: 100, ImageHeight: 100}
	first := detection(1, 0.9, 40)
	second := detection(2, 0.9, 41)
	sm.HandleDetection(bg, events.DetectionEvent{Detections: []Detection{first, second}, Frame: frame})
	if sm.Current() != StatePickUpEgg {
		t.Fatalf("got state %s, want PickUpEgg", sm.Current())
	}
	if arm.pickCallCount() != 1 {
		t.Fatalf("got %d pick calls after entry, want 1", arm.pickCallCount())
	}

	// Arm reports idle: the first pick completed, and a second target
	// remains in the queue so another pick command is issued.
	sm.HandleArmStatus(bg, events.ArmStatusEvent{Status: wire.ArmStatus{IsBusy: false}})
	if sm.Current() != StatePickUpEgg {
		t.Fatalf("got state %s, want to remain in PickUpEgg for the second target", sm.Current())
	}
	if arm.pickCallCount() != 2 {
		t.Fatalf("got %d pick calls, want 2", arm.pickCallCount())
	}

	// Arm reports idle again: queue is now empty, cycle finishes.
	sm.HandleArmStatus(bg, events.ArmStatusEvent{Status: wire.ArmStatus{IsBusy: false}})
	if sm.Current() != StateScanAndMove {
		t.Fatalf("got state %s, want ScanAndMove after the pick cycle finishes", sm.Current())
	}
}

func TestObstacleDuringPatrolTriggersTurnSequence(t *testing.T) {
	actor := &fakeActor{moveForwardResult: true, stopResult: true, turnResult: true}
	sm, c := newTestMachine(actor, &fakeArm{})
	bg := context.Background()
	c.behaviour.DistanceStopThresholdCM = 30
	sm.StartPatrol(bg)

	distance := uint8(10)
	sm.HandleActorStatus(bg, events.ActorStatusEvent{Status: wire.ActorStatus{IsMoving: true, DistanceCM: &distance}})

	if sm.Current() != StateTurnFirst {
		t.Fatalf("got state %s, want TurnFirst after an obstacle is detected", sm.Current())
	}
	if actor.callCount("stop") != 1 || actor.callCount("turn90") != 1 {
		t.Fatalf("expected exactly one stop and one turn command, got stop=%d turn=%d", actor.callCount("stop"), actor.callCount("turn90"))
	}

	// Chassis reports no longer moving: the first turn is complete.
	sm.HandleActorStatus(bg, events.ActorStatusEvent{Status: wire.ActorStatus{IsMoving: false}})
	if sm.Current() != StateScanOnly {
		t.Fatalf("got state %s, want ScanOnly after the first turn completes", sm.Current())
	}

	// Scan-only times out without finding a target: fall back to moving.
	sm.HandleTimer(bg, events.TimerEvent{TimerID: sched.TimerScanOnlyTimeout})
	if sm.Current() != StateMoveOnly {
		t.Fatalf("got state %s, want MoveOnly after the scan-only timeout", sm.Current())
	}

	// The move-only countdown elapses: stop and turn a second time.
	sm.HandleTimer(bg, events.TimerEvent{TimerID: sched.TimerMoveOnlyCountdown})
	if sm.Current() != StateTurnSecond {
		t.Fatalf("got state %s, want TurnSecond after the move-only countdown", sm.Current())
	}

	sm.HandleActorStatus(bg, events.ActorStatusEvent{Status: wire.ActorStatus{IsMoving: false}})
	if sm.Current() != StateScanAndMove {
		t.Fatalf("got state %s, want ScanAndMove after the second turn completes", sm.Current())
	}
}

func TestDetectionsClearedMidPickFinishesCycle(t *testing.T) {
	actor := &fakeActor{moveForwardResult: true, stopResult: true}
	arm := &fakeArm{pickResults: []bool{true}}
	sm, _ := newTestMachine(actor, arm)
	bg := context.Background()
	sm.StartPatrol(bg)

	frame := FrameData{ImageWidth: 100, ImageHeight: 100}
	target := detection(1, 0.9, 40)
	sm.HandleDetection(bg, events.DetectionEvent{Detections: []Detection{target}, Frame: frame})
	if sm.Current() != StatePickUpEgg {
		t.Fatalf("got state %s, want PickUpEgg", sm.Current())
	}

	// Arm is still busy working the first target so waitingForArm is true;
	// detections vanishing should not end the cycle yet.
	sm.HandleDetection(bg, events.DetectionEvent{Detections: nil, Frame: frame})
	if sm.Current() != StatePickUpEgg {
		t.Fatalf("got state %s, want to remain in PickUpEgg while the arm is still working", sm.Current())
	}

	// Arm reports idle, clearing waitingForArm; with the queue already
	// drained this finishes the cycle, and the following empty detection
	// batch leaves the machine patrolling.
	sm.HandleArmStatus(bg, events.ArmStatusEvent{Status: wire.ArmStatus{IsBusy: false}})
	sm.HandleDetection(bg, events.DetectionEvent{Detections: nil, Frame: frame})
	if sm.Current() != StateScanAndMove {
		t.Fatalf("got state %s, want ScanAndMove once detections clear and the arm is idle", sm.Current())
	}
}
