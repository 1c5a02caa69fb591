package links

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/librescoot/egg-collector/pkg/bus"
	"github.com/librescoot/egg-collector/pkg/wire"
)

type fakePort struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []byte
	writes [][]byte
	closed bool
}

func newFakePort() *fakePort {
	fp := &fakePort{}
	fp.cond = sync.NewCond(&fp.mu)
	return fp
}

func (f *fakePort) push(b []byte) {
	f.mu.Lock()
	f.queue = append(f.queue, b...)
	f.mu.Unlock()
	f.cond.Broadcast()
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.queue) == 0 && !f.closed {
		f.cond.Wait()
	}
	if len(f.queue) == 0 {
		return 0, io.EOF
	}
	n := copy(p, f.queue)
	f.queue = f.queue[n:]
	return n, nil
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.cond.Broadcast()
	return nil
}

func (f *fakePort) SetReadTimeout(time.Duration) error { return nil }

// newTestActorLink wires an ActorLink to a bus backed by a fakePort, using
// the package-external API only: the bus's unexported openFn hook is not
// reachable from here, so the fakePort is injected through the exported
// bus.NewWithPort constructor.
func newTestActorLink(fp *fakePort, onStatus func(wire.ActorStatus)) (*ActorLink, *bus.Bus) {
	b := bus.NewWithPort(bus.DefaultConfig("fake0"), fp)
	link := NewActorLink(b, 200*time.Millisecond, 200*time.Millisecond, onStatus)
	link.Start()
	return link, b
}

func TestActorMoveForwardSucceedsOnAck(t *testing.T) {
	fp := newFakePort()
	link, b := newTestActorLink(fp, nil)
	defer b.Shutdown()

	go func() {
		time.Sleep(20 * time.Millisecond)
		fp.push(wire.BuildActorCommand(wire.ActorAck))
	}()

	if !link.MoveForward(context.Background()) {
		t.Fatalf("expected MoveForward to succeed")
	}
}

func TestActorCommandTimesOutWithoutAck(t *testing.T) {
	fp := newFakePort()
	link, b := newTestActorLink(fp, nil)
	defer b.Shutdown()

	if link.Turn90(context.Background()) {
		t.Fatalf("expected Turn90 to fail without an ACK")
	}
}

func TestActorReadStatusCachesLastStatus(t *testing.T) {
	fp := newFakePort()
	var gotCallback wire.ActorStatus
	callbackCh := make(chan struct{}, 1)
	link, b := newTestActorLink(fp, func(s wire.ActorStatus) {
		gotCallback = s
		callbackCh <- struct{}{}
	})
	defer b.Shutdown()

	if _, ok := link.LastStatus(); ok {
		t.Fatalf("expected no cached status before any read")
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		fp.push(wire.Encode([]byte{wire.GroupStatus, 0x01, 0x32}))
	}()

	status, ok := link.ReadStatus(context.Background())
	if !ok {
		t.Fatalf("expected ReadStatus to succeed")
	}
	if !status.IsMoving || status.DistanceCM == nil || *status.DistanceCM != 0x32 {
		t.Fatalf("unexpected status: %+v", status)
	}

	cached, ok := link.LastStatus()
	if !ok || cached != status {
		t.Fatalf("expected LastStatus to reflect the request just made")
	}

	select {
	case <-callbackCh:
		if gotCallback != status {
			t.Fatalf("callback saw %+v, want %+v", gotCallback, status)
		}
	case <-time.After(time.Second):
		t.Fatalf("onStatus callback never fired")
	}
}

func TestActorBroadcastStatusUpdatesCacheWithoutARequest(t *testing.T) {
	fp := newFakePort()
	link, b := newTestActorLink(fp, nil)
	defer b.Shutdown()

	fp.push(wire.Encode([]byte{wire.GroupStatus, 0x00, 0x0A}))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := link.LastStatus(); ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected a broadcast status frame to populate LastStatus")
}

func TestActorCorruptStatusBroadcastIsIgnored(t *testing.T) {
	fp := newFakePort()
	link, b := newTestActorLink(fp, nil)
	defer b.Shutdown()

	bad := wire.Encode([]byte{wire.GroupStatus, 0x01, 0x32})
	bad[len(bad)-3] ^= 0xFF // flip the checksum byte
	fp.push(bad)

	time.Sleep(50 * time.Millisecond)
	if _, ok := link.LastStatus(); ok {
		t.Fatalf("expected a checksum-invalid broadcast to be discarded")
	}
}
