package feed

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeTransport records dials and blocks in Run until cancelled.
type fakeTransport struct {
	mu     sync.Mutex
	dials  [][]string
	closes int
}

func (f *fakeTransport) Dial(ctx context.Context, wanted []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot := make([]string, len(wanted))
	copy(snapshot, wanted)
	f.dials = append(f.dials, snapshot)
	return nil
}

func (f *fakeTransport) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
}

func (f *fakeTransport) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dials)
}

func (f *fakeTransport) lastDial() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.dials) == 0 {
		return nil
	}
	return f.dials[len(f.dials)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSupervisorIdleWithEmptyWantSet(t *testing.T) {
	tr := &fakeTransport{}
	sup := NewSupervisor("test", tr, 10*time.Millisecond, true, testLogger())
	sup.Start()
	defer sup.Shutdown()

	time.Sleep(50 * time.Millisecond)
	if tr.dialCount() != 0 {
		t.Errorf("supervisor dialed %d times with empty want-set", tr.dialCount())
	}
}

func TestSupervisorConnectsOnFirstSubscribe(t *testing.T) {
	tr := &fakeTransport{}
	sup := NewSupervisor("test", tr, 10*time.Millisecond, true, testLogger())
	sup.Start()
	defer sup.Shutdown()

	if !sup.Subscribe("a") {
		t.Fatal("first Subscribe returned false")
	}
	if sup.Subscribe("a") {
		t.Error("duplicate Subscribe returned true")
	}

	waitFor(t, "first dial", func() bool { return tr.dialCount() >= 1 })
	if got := tr.lastDial(); len(got) != 1 || got[0] != "a" {
		t.Errorf("dialed with want-set %v", got)
	}
}

func TestSupervisorReconnectsOnWantSetChange(t *testing.T) {
	tr := &fakeTransport{}
	sup := NewSupervisor("test", tr, 10*time.Millisecond, true, testLogger())
	sup.Start()
	defer sup.Shutdown()

	sup.Subscribe("a")
	waitFor(t, "first dial", func() bool { return tr.dialCount() >= 1 })

	sup.Subscribe("b")
	waitFor(t, "redial with both ids", func() bool {
		last := tr.lastDial()
		return len(last) == 2 && last[0] == "a" && last[1] == "b"
	})
}

func TestSupervisorNoReconnectWhenInBand(t *testing.T) {
	tr := &fakeTransport{}
	sup := NewSupervisor("test", tr, 10*time.Millisecond, false, testLogger())
	sup.Start()
	defer sup.Shutdown()

	sup.Subscribe("a")
	waitFor(t, "first dial", func() bool { return tr.dialCount() >= 1 })

	sup.Subscribe("b")
	time.Sleep(100 * time.Millisecond)
	if tr.dialCount() != 1 {
		t.Errorf("in-band supervisor redialed: %d dials", tr.dialCount())
	}
}

func TestSupervisorClosesWhenWantSetDrains(t *testing.T) {
	tr := &fakeTransport{}
	sup := NewSupervisor("test", tr, 10*time.Millisecond, false, testLogger())
	sup.Start()
	defer sup.Shutdown()

	sup.Subscribe("a")
	waitFor(t, "dial", func() bool { return tr.dialCount() >= 1 })

	if !sup.Unsubscribe("a") {
		t.Fatal("Unsubscribe returned false for present id")
	}
	if sup.Unsubscribe("a") {
		t.Error("Unsubscribe returned true for absent id")
	}

	waitFor(t, "connection close", func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return tr.closes >= 1
	})

	// With the want-set empty no reconnect may happen.
	dials := tr.dialCount()
	time.Sleep(100 * time.Millisecond)
	if tr.dialCount() != dials {
		t.Error("supervisor reconnected with empty want-set")
	}
}

func TestSupervisorWantSetChangeWithQueuedTeardown(t *testing.T) {
	sup := NewSupervisor("test", &fakeTransport{}, time.Second, true, testLogger())

	// A teardown signal is still queued from an earlier attempt when a
	// subscription change arrives.
	sup.notify(true)
	sup.Subscribe("a")

	sup.drainInterrupt()
	if got := sup.WantSet(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("want-set after drain = %v, want [a]", got)
	}

	// A change landing after the drain must leave its teardown signal
	// queued so the connection watcher tears the stale connection down.
	sup.Subscribe("b")
	select {
	case <-sup.interrupt:
	default:
		t.Fatal("teardown signal for want-set change was lost")
	}
}

func TestSupervisorWantSet(t *testing.T) {
	sup := NewSupervisor("test", &fakeTransport{}, time.Second, true, testLogger())
	sup.Subscribe("b")
	sup.Subscribe("a")

	want := sup.WantSet()
	if len(want) != 2 || want[0] != "a" || want[1] != "b" {
		t.Errorf("WantSet = %v, want sorted [a b]", want)
	}
	if !sup.Wants("a") || sup.Wants("c") {
		t.Error("Wants membership wrong")
	}
}

func TestSupervisorShutdownWhileConnected(t *testing.T) {
	tr := &fakeTransport{}
	sup := NewSupervisor("test", tr, 10*time.Millisecond, true, testLogger())
	sup.Start()
	sup.Subscribe("a")
	waitFor(t, "dial", func() bool { return tr.dialCount() >= 1 })

	done := make(chan struct{})
	go func() {
		sup.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return")
	}
}
