package control

import (
	"context"
	"sync"

	"github.com/librescoot/egg-collector/pkg/wire"
)

// fakeActor is a minimal in-memory ActorController for state machine and
// context tests. Every call is recorded so tests can assert on the
// command sequence without a real bus.
type fakeActor struct {
	mu sync.Mutex

	moveForwardResult  bool
	moveBackwardResult bool
	stopResult         bool
	turnResult         bool
	status             wire.ActorStatus
	hasStatus          bool

	calls []string
}

func (f *fakeActor) Start()    {}
func (f *fakeActor) Shutdown() {}

func (f *fakeActor) MoveForward(ctx context.Context) bool {
	f.record("move_forward")
	return f.moveForwardResult
}

func (f *fakeActor) MoveBackward(ctx context.Context) bool {
	f.record("move_backward")
	return f.moveBackwardResult
}

func (f *fakeActor) Stop(ctx context.Context) bool {
	f.record("stop")
	return f.stopResult
}

func (f *fakeActor) Turn90(ctx context.Context) bool {
	f.record("turn90")
	return f.turnResult
}

func (f *fakeActor) ReadStatus(ctx context.Context) (wire.ActorStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "read_status")
	return f.status, f.hasStatus
}

func (f *fakeActor) LastStatus() (wire.ActorStatus, bool) {
	return f.ReadStatus(context.Background())
}

func (f *fakeActor) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeActor) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

// fakeArm is a minimal in-memory ArmController for tests.
type fakeArm struct {
	mu sync.Mutex

	pickResults []bool // consumed in order, last value repeats once exhausted
	pickCalls   [][2]int

	status    wire.ArmStatus
	hasStatus bool
}

func (f *fakeArm) Start()    {}
func (f *fakeArm) Shutdown() {}

func (f *fakeArm) Pick(ctx context.Context, xMM, yMM int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pickCalls = append(f.pickCalls, [2]int{xMM, yMM})
	if len(f.pickResults) == 0 {
		return true
	}
	result := f.pickResults[0]
	if len(f.pickResults) > 1 {
		f.pickResults = f.pickResults[1:]
	}
	return result
}

func (f *fakeArm) ReadStatusDefault(ctx context.Context) (wire.ArmStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.hasStatus
}

func (f *fakeArm) LastStatus() (wire.ArmStatus, bool) {
	return f.ReadStatusDefault(context.Background())
}

func (f *fakeArm) pickCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pickCalls)
}
