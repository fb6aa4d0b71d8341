package worker

import (
	"time"

	"golang.org/x/sync/errgroup"
)

// Group stops and joins many handles together, the shape a Connection
// Session or the process root uses to tear down all of its workers in one
// call. It never returns until every handle has had a chance to join (or
// time out), regardless of whether earlier handles failed.
type Group struct {
	handles []*Handle
}

// NewGroup wraps handles for coordinated shutdown. Order does not matter;
// StopAll signals every handle before any Join is attempted, so a slow
// worker never delays another worker's cancellation.
func NewGroup(handles ...*Handle) *Group {
	return &Group{handles: handles}
}

// Add appends a handle to the group.
func (g *Group) Add(h *Handle) {
	g.handles = append(g.handles, h)
}

// Handles returns the group's member handles, for callers that need to
// enumerate them (e.g. health reporting) rather than just stop them.
func (g *Group) Handles() []*Handle {
	return g.handles
}

// StopAll signals every handle to stop, then joins each with the given
// per-worker timeout, running the joins concurrently via errgroup so one
// slow joiner does not serialize shutdown latency. It returns the names of
// workers that did not join cleanly within timeout (already logged by each
// Handle.Join); callers use this to decide whether to keep the process
// running degraded (I5).
func (g *Group) StopAll(timeout time.Duration) []string {
	for _, h := range g.handles {
		h.Stop()
	}

	var eg errgroup.Group
	timedOut := make([]string, len(g.handles))
	for i, h := range g.handles {
		i, h := i, h
		eg.Go(func() error {
			if !h.Join(timeout) {
				timedOut[i] = h.Name()
			}
			return nil
		})
	}
	_ = eg.Wait()

	out := timedOut[:0]
	for _, name := range timedOut {
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}
