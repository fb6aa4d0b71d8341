package worker

import (
	"errors"
	"testing"
	"time"
)

func TestHandleStartStopJoin(t *testing.T) {
	h := New("test")
	started := make(chan struct{})
	h.Start(func(shouldStop func() bool) {
		close(started)
		for !shouldStop() {
			time.Sleep(time.Millisecond)
		}
	})
	<-started
	h.Stop()
	if !h.Join(time.Second) {
		t.Fatalf("Join() = false, want true")
	}
}

func TestHandleStopIdempotent(t *testing.T) {
	h := New("test")
	h.Start(func(shouldStop func() bool) {
		for !shouldStop() {
			time.Sleep(time.Millisecond)
		}
	})
	h.Stop()
	h.Stop()
	h.Stop()
	if !h.Join(time.Second) {
		t.Fatalf("Join() = false, want true")
	}
}

func TestHandleJoinTimesOutWithoutKilling(t *testing.T) {
	h := New("stubborn")
	release := make(chan struct{})
	h.Start(func(shouldStop func() bool) {
		<-release
	})
	h.Stop()
	if h.Join(20 * time.Millisecond) {
		t.Fatalf("Join() = true, want false (worker ignores stop)")
	}
	close(release)
	if !h.Join(time.Second) {
		t.Fatalf("Join() = false after release, want true")
	}
}

func TestHandleCrashSurfacedOnJoin(t *testing.T) {
	h := New("crasher")
	h.Start(func(shouldStop func() bool) {
		panic("boom")
	})
	h.Join(time.Second)
	if err := h.Err(); err == nil {
		t.Fatalf("Err() = nil, want panic recorded")
	}
}

func TestHandleFailRecordsError(t *testing.T) {
	h := New("failer")
	wantErr := errors.New("provider unavailable")
	h.Start(func(shouldStop func() bool) {
		h.Fail(wantErr)
	})
	h.Join(time.Second)
	if !errors.Is(h.Err(), wantErr) {
		t.Fatalf("Err() = %v, want %v", h.Err(), wantErr)
	}
}

func TestHandleJoinBeforeStartSucceeds(t *testing.T) {
	h := New("never-started")
	if !h.Join(time.Millisecond) {
		t.Fatalf("Join() = false, want true for a never-started worker")
	}
}

func TestGroupStopAllReportsTimeouts(t *testing.T) {
	fast := New("fast")
	fast.Start(func(shouldStop func() bool) {
		for !shouldStop() {
			time.Sleep(time.Millisecond)
		}
	})

	stuck := New("stuck")
	stuck.Start(func(shouldStop func() bool) {
		select {}
	})

	g := NewGroup(fast, stuck)
	timedOut := g.StopAll(30 * time.Millisecond)
	if len(timedOut) != 1 || timedOut[0] != "stuck" {
		t.Fatalf("timedOut = %v, want [stuck]", timedOut)
	}
}
