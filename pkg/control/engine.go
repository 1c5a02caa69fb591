package control

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/librescoot/egg-collector/pkg/events"
	"github.com/librescoot/egg-collector/pkg/sched"
	"github.com/librescoot/egg-collector/pkg/telemetry"
)

// Engine owns the context, state machine, and event bus, and runs the
// single dispatch goroutine that drives the whole control core.
type Engine struct {
	context      *Context
	stateMachine *StateMachine
	bus          *events.Bus
	scheduler    *sched.Scheduler
	schedulerCfg struct {
		actorStatusInterval time.Duration
		armStatusInterval   time.Duration
	}

	telemetry telemetry.Sink

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// SetTelemetry attaches an optional telemetry sink. A nil sink (the
// default) disables mirroring entirely; it is never required for the
// patrol loop to run.
func (e *Engine) SetTelemetry(sink telemetry.Sink) {
	e.telemetry = sink
}

// NewEngine wires a context, state machine, event bus, and scheduler
// into a runnable engine.
func NewEngine(ctx *Context, sm *StateMachine, bus *events.Bus, scheduler *sched.Scheduler, actorStatusInterval, armStatusInterval time.Duration) *Engine {
	e := &Engine{
		context:      ctx,
		stateMachine: sm,
		bus:          bus,
		scheduler:    scheduler,
		done:         make(chan struct{}),
	}
	e.schedulerCfg.actorStatusInterval = actorStatusInterval
	e.schedulerCfg.armStatusInterval = armStatusInterval
	return e
}

// Start powers up both links, arms the periodic status timers, fires the
// initial patrol transition, and spawns the dispatch goroutine.
func (e *Engine) Start(parent context.Context) {
	e.ctx, e.cancel = context.WithCancel(parent)

	e.context.actor.Start()
	e.context.arm.Start()

	e.scheduler.StartInterval(sched.TimerActorStatus, e.schedulerCfg.actorStatusInterval)
	e.scheduler.StartInterval(sched.TimerArmStatus, e.schedulerCfg.armStatusInterval)

	e.stateMachine.StartPatrol(e.ctx)
	log.Printf("control: engine initial state %s", e.stateMachine.Current())

	go e.eventLoop()
	log.Printf("control: engine started")
}

// Stop requests the dispatch loop terminate, waits briefly for it to
// drain, then shuts down the scheduler and both links.
func (e *Engine) Stop() {
	e.once.Do(func() {
		e.bus.Stop("engine shutdown")
		if e.cancel != nil {
			e.cancel()
		}
		select {
		case <-e.done:
		case <-time.After(2 * time.Second):
			log.Printf("control: engine dispatch loop did not stop within timeout")
		}
		e.scheduler.Shutdown()
		e.context.actor.Shutdown()
		e.context.arm.Shutdown()
		log.Printf("control: engine stopped")
	})
}

func (e *Engine) eventLoop() {
	defer close(e.done)
	for {
		event, ok := e.bus.Get(e.ctx)
		if !ok {
			return
		}
		if stop, isStop := event.(events.StopEvent); isStop {
			log.Printf("control: engine received stop event: %s", stop.Reason)
			return
		}
		e.dispatch(event)
	}
}

func (e *Engine) dispatch(event events.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("control: recovered while dispatching %T: %v", event, r)
		}
	}()

	stateBefore := e.stateMachine.Current()

	switch evt := event.(type) {
	case events.DetectionEvent:
		log.Printf("control: dispatching DetectionEvent while in state %s", e.stateMachine.Current())
		e.stateMachine.HandleDetection(e.ctx, evt)
	case events.TimerEvent:
		e.handleTimerEvent(evt)
	case events.ActorStatusEvent:
		log.Printf("control: dispatching ActorStatusEvent while in state %s", e.stateMachine.Current())
		e.stateMachine.HandleActorStatus(e.ctx, evt)
		if e.telemetry != nil {
			e.telemetry.PublishActorStatus(evt.Status)
		}
	case events.ArmStatusEvent:
		log.Printf("control: dispatching ArmStatusEvent while in state %s", e.stateMachine.Current())
		e.stateMachine.HandleArmStatus(e.ctx, evt)
		if e.telemetry != nil {
			e.telemetry.PublishArmStatus(evt.Status)
		}
	case events.CommandResultEvent:
		log.Printf("control: command result: %s success=%v", evt.Command, evt.Success)
	default:
		log.Printf("control: unhandled event type %T", event)
	}

	if e.telemetry != nil && e.stateMachine.Current() != stateBefore {
		e.telemetry.PublishState(string(e.stateMachine.Current()))
	}
}

// handleTimerEvent intercepts the two periodic status timers itself —
// reading the link and republishing as a status event — and forwards
// every other timer to the state machine.
func (e *Engine) handleTimerEvent(evt events.TimerEvent) {
	switch evt.TimerID {
	case sched.TimerActorStatus:
		status, ok := e.context.actor.ReadStatus(e.ctx)
		if !ok {
			return
		}
		e.bus.Publish(events.ActorStatusEvent{Status: status})
	case sched.TimerArmStatus:
		status, ok := e.context.arm.ReadStatusDefault(e.ctx)
		if !ok {
			return
		}
		e.bus.Publish(events.ArmStatusEvent{Status: status})
	default:
		e.stateMachine.HandleTimer(e.ctx, evt)
	}
}
