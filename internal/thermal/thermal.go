// Package thermal protects the host from sustained overheating by pausing
// CPU-heavy inference before the OS throttles it. It samples a temperature
// probe on a fixed interval and applies a Schmitt-trigger hysteresis so a
// sensor hovering near one threshold doesn't chatter protection on and off.
package thermal

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/antoniostano/voiceserver/internal/worker"
)

// Probe reads the current temperature in degrees Celsius. ok is false when
// the platform has no usable sensor; the reading is then ignored rather than
// treated as a real sample.
type Probe func() (tempC float64, ok bool)

// Config controls the controller's thresholds and cadence.
type Config struct {
	Enabled      bool
	TriggerC     float64
	ResumeC      float64
	PollInterval time.Duration
}

// DefaultConfig matches spec defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		TriggerC:     85.0,
		ResumeC:      80.0,
		PollInterval: time.Second,
	}
}

// Validate rejects a configuration that could never settle: if resume isn't
// strictly below trigger, the hysteresis band collapses and the controller
// could oscillate every sample.
func (c Config) Validate() error {
	if c.TriggerC <= c.ResumeC {
		return fmt.Errorf("thermal: TRIGGER_C (%.1f) must be greater than RESUME_C (%.1f)", c.TriggerC, c.ResumeC)
	}
	return nil
}

// State is a snapshot of the controller, safe to copy and hand to callers.
type State struct {
	CurrentTempC      float64
	ProtectionActive  bool
	TriggerCount      int
	MaxObserved       float64
	LastChecked       time.Time
	PlatformSupported bool
}

// Callback is invoked synchronously whenever ProtectionActive changes. It
// receives the new state, already published, so a callback can safely read
// Controller.State() itself without racing the transition that invoked it.
type Callback func(State)

// Controller runs the poll loop and owns the current State.
type Controller struct {
	cfg   Config
	probe Probe

	mu    sync.Mutex
	state State

	cbMu      sync.Mutex
	callbacks []Callback

	handle *worker.Handle
}

// New constructs a Controller. cfg must already be Validate()'d by the
// caller; New does not re-check it so misconfiguration fails fast at
// process startup rather than silently inside the poll loop.
func New(cfg Config, probe Probe) *Controller {
	return &Controller{
		cfg:   cfg,
		probe: probe,
		state: State{PlatformSupported: true},
		handle: worker.New("thermal"),
	}
}

// OnChange registers a callback fired whenever protection activates or
// deactivates. Safe to call at any time, including after Start; a callback
// registered after a transition is not invoked for that transition.
func (c *Controller) OnChange(cb Callback) {
	c.cbMu.Lock()
	c.callbacks = append(c.callbacks, cb)
	c.cbMu.Unlock()
}

// Start launches the poll worker. A no-op (but still running, inert) worker
// if THERMAL_ENABLED is false, so health reporting and Stop/Join behave
// uniformly regardless of configuration.
func (c *Controller) Start() {
	c.handle.Start(func(shouldStop func() bool) {
		interval := c.cfg.PollInterval
		if interval <= 0 {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		if c.cfg.Enabled {
			c.sample()
		}
		for !shouldStop() {
			<-ticker.C
			if shouldStop() {
				return
			}
			if c.cfg.Enabled {
				c.sample()
			}
		}
	})
}

// Stop signals the poll worker to exit.
func (c *Controller) Stop() { c.handle.Stop() }

// Join waits for the poll worker to exit, per internal/worker's contract.
func (c *Controller) Join(timeout time.Duration) bool { return c.handle.Join(timeout) }

// Handle exposes the poll worker's handle for health reporting.
func (c *Controller) Handle() *worker.Handle { return c.handle }

func (c *Controller) sample() {
	tempC, ok := c.readProbe()

	c.mu.Lock()
	if !ok {
		c.state.PlatformSupported = false
		c.state.LastChecked = time.Now()
		c.mu.Unlock()
		return
	}

	c.state.PlatformSupported = true
	c.state.CurrentTempC = tempC
	c.state.LastChecked = time.Now()
	if tempC > c.state.MaxObserved {
		c.state.MaxObserved = tempC
	}

	wasActive := c.state.ProtectionActive
	nowActive := wasActive
	switch {
	case !wasActive && tempC >= c.cfg.TriggerC:
		nowActive = true
	case wasActive && tempC < c.cfg.ResumeC:
		nowActive = false
	}
	changed := nowActive != wasActive
	if changed {
		c.state.ProtectionActive = nowActive
		if nowActive {
			c.state.TriggerCount++
		}
	}
	snapshot := c.state
	c.mu.Unlock()

	if changed {
		c.fireCallbacks(snapshot)
	}
}

// readProbe calls the probe and converts a panic or a non-finite reading
// into "unavailable for this sample", per the edge case that a raising probe
// must not cause a spurious transition.
func (c *Controller) readProbe() (tempC float64, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("thermal: probe panicked: %v", r)
			ok = false
		}
	}()
	t, readOk := c.probe()
	if !readOk || math.IsNaN(t) || math.IsInf(t, 0) || t < 0 {
		return 0, false
	}
	return t, true
}

func (c *Controller) fireCallbacks(s State) {
	c.cbMu.Lock()
	cbs := make([]Callback, len(c.callbacks))
	copy(cbs, c.callbacks)
	c.cbMu.Unlock()

	for _, cb := range cbs {
		c.invokeSafely(cb, s)
	}
}

func (c *Controller) invokeSafely(cb Callback, s State) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("thermal: callback panicked: %v", r)
		}
	}()
	cb(s)
}

// State returns a defensive copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ProtectionActive reports whether protection is currently engaged. The
// pipeline manager gates entry into GENERATING on this.
func (c *Controller) ProtectionActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.ProtectionActive
}
