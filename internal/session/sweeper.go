package session

import (
	"log"
	"time"

	"github.com/antoniostano/voiceserver/internal/worker"
)

// Sweeper runs Store.Sweep on a fixed cadence via a worker.Handle, the same
// ticker/should_stop shape every background loop in this repository uses.
type Sweeper struct {
	store    *Store
	interval time.Duration
	handle   *worker.Handle
}

// NewSweeper wires a sweeper for store. interval defaults to 60s when <= 0.
func NewSweeper(store *Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		handle:   worker.New("session-sweeper"),
	}
}

// Start begins the periodic sweep.
func (sw *Sweeper) Start() {
	sw.handle.Start(func(shouldStop func() bool) {
		ticker := time.NewTicker(sw.interval)
		defer ticker.Stop()
		for !shouldStop() {
			<-ticker.C
			if shouldStop() {
				return
			}
			if n := sw.store.Sweep(); n > 0 {
				log.Printf("session: swept %d expired session(s)", n)
			}
		}
	})
}

// Stop signals the sweep worker to exit.
func (sw *Sweeper) Stop() { sw.handle.Stop() }

// Join waits for the sweep worker to exit.
func (sw *Sweeper) Join(timeout time.Duration) bool { return sw.handle.Join(timeout) }
