package archive

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/antoniostano/voiceserver/internal/worker"
)

// writeTimeout bounds a single SaveTurn call so a wedged backend can't pile
// queued records up forever.
const writeTimeout = 3 * time.Second

// Archiver runs a Store on a background worker so a slow or unavailable
// backend never adds latency to the turn that triggered the write. Enqueue
// drops the oldest queued record rather than block the caller — this is an
// audit log, not a durability guarantee.
type Archiver struct {
	store   Store
	queue   chan TurnRecord
	dropped atomic.Uint64

	handle *worker.Handle
}

// NewArchiver wraps store with an async, bounded-queue writer. queueSize
// defaults to 256 when non-positive.
func NewArchiver(store Store, queueSize int) *Archiver {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Archiver{
		store:  store,
		queue:  make(chan TurnRecord, queueSize),
		handle: worker.New("turn-archiver"),
	}
}

// Start begins draining the queue. Call once.
func (a *Archiver) Start() {
	a.handle.Start(func(shouldStop func() bool) {
		poll := time.NewTicker(50 * time.Millisecond)
		defer poll.Stop()
		for {
			select {
			case rec := <-a.queue:
				a.write(rec)
			case <-poll.C:
				if shouldStop() {
					a.drainRemaining()
					return
				}
			}
		}
	})
}

func (a *Archiver) drainRemaining() {
	for {
		select {
		case rec := <-a.queue:
			a.write(rec)
		default:
			return
		}
	}
}

func (a *Archiver) write(rec TurnRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := a.store.SaveTurn(ctx, rec); err != nil {
		log.Printf("archive: save turn failed, dropping: %v", err)
	}
}

// Enqueue schedules rec for archival. Non-blocking: if the queue is full the
// oldest pending record is dropped to make room, and the drop is counted
// (see Dropped).
func (a *Archiver) Enqueue(rec TurnRecord) {
	select {
	case a.queue <- rec:
		return
	default:
	}
	select {
	case <-a.queue:
		a.dropped.Add(1)
	default:
	}
	select {
	case a.queue <- rec:
	default:
	}
}

// Dropped returns how many queued records have been evicted to make room
// for newer ones. Safe to call from any goroutine: a single Archiver is
// shared across every connection's pipeline Manager.
func (a *Archiver) Dropped() uint64 { return a.dropped.Load() }

// Stop signals the worker to finish draining and exit.
func (a *Archiver) Stop() { a.handle.Stop() }

// Join waits for the worker to exit, then closes the backing store.
func (a *Archiver) Join(timeout time.Duration) error {
	a.handle.Join(timeout)
	return a.store.Close()
}

// Handle exposes the archiver's worker handle for health reporting.
func (a *Archiver) Handle() *worker.Handle { return a.handle }
