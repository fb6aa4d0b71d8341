// Package session keeps conversation continuity across transient WebSocket
// drops: a bounded FIFO of turns per session, addressed by an opaque id, with
// TTL-based expiry and hard removal on sweep.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a session's connectedness, independent of whether a turn is in
// flight.
type State string

const (
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// Role identifies who produced a Turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one utterance in the conversation history.
type Turn struct {
	Role      Role
	Text      string
	Timestamp time.Time
}

// Session is one conversation's durable state. Fields are exported for
// defensive-copy reads; callers must go through Store methods to mutate.
type Session struct {
	ID                string
	State             State
	CreatedAt         time.Time
	LastActive        time.Time
	Turns             []Turn
	ReconnectionCount int
}

// clone returns a deep-enough copy: the Turns slice is copied so a caller
// holding a returned Session cannot observe or race a concurrent AppendTurn.
func (s *Session) clone() *Session {
	c := *s
	c.Turns = append([]Turn(nil), s.Turns...)
	return &c
}

// Config bounds a Store's behavior.
type Config struct {
	MaxContextTurns int
	TTL             time.Duration
}

// DefaultConfig matches spec defaults.
func DefaultConfig() Config {
	return Config{
		MaxContextTurns: 100,
		TTL:             5 * time.Minute,
	}
}

// Store holds every live Session, keyed by id.
type Store struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore constructs an empty Store.
func NewStore(cfg Config) *Store {
	if cfg.MaxContextTurns <= 0 {
		cfg.MaxContextTurns = 100
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	return &Store{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Create allocates a fresh session in the CONNECTED state with an empty
// context FIFO and returns its id.
func (st *Store) Create() string {
	now := time.Now()
	s := &Session{
		ID:         uuid.NewString(),
		State:      StateConnected,
		CreatedAt:  now,
		LastActive: now,
	}
	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()
	return s.ID
}

// Restore returns the session iff it exists and is not expired, marks it
// CONNECTED, resets the reconnection counter to 1 (this binding is the
// session's current, first reconnection), and touches last_active. found is
// false for an unknown id or one whose TTL has already lapsed (callers treat
// both as "create a new session" per the store's failure semantics).
func (st *Store) Restore(sessionID string) (sess *Session, found bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[sessionID]
	if !ok {
		return nil, false
	}
	if time.Since(s.LastActive) > st.cfg.TTL {
		return nil, false
	}
	s.State = StateConnected
	s.ReconnectionCount = 1
	s.LastActive = time.Now()
	return s.clone(), true
}

// Touch updates last_active. A no-op on an unknown id.
func (st *Store) Touch(sessionID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[sessionID]; ok {
		s.LastActive = time.Now()
	}
}

// MarkDisconnected sets state to DISCONNECTED, preserving context for a
// future Restore within the TTL window.
func (st *Store) MarkDisconnected(sessionID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[sessionID]; ok {
		s.State = StateDisconnected
		s.LastActive = time.Now()
	}
}

// AppendTurn pushes a turn into the FIFO, evicting the oldest turn first
// once at capacity. A no-op on an unknown id.
func (st *Store) AppendTurn(sessionID string, role Role, text string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[sessionID]
	if !ok {
		return
	}
	s.Turns = append(s.Turns, Turn{Role: role, Text: text, Timestamp: time.Now()})
	if over := len(s.Turns) - st.cfg.MaxContextTurns; over > 0 {
		s.Turns = append([]Turn(nil), s.Turns[over:]...)
	}
	s.LastActive = time.Now()
}

// Get returns a defensive copy of the session, or found=false for an
// unknown id. It does not check expiry; use Restore at connection time to
// enforce the TTL boundary.
func (st *Store) Get(sessionID string) (sess *Session, found bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// Sweep removes every session whose state is DISCONNECTED and whose
// last_active is older than the configured TTL, and returns how many were
// removed. Removal is permanent: the id is not resurrectable afterward (I2).
func (st *Store) Sweep() int {
	now := time.Now()
	st.mu.Lock()
	defer st.mu.Unlock()
	removed := 0
	for id, s := range st.sessions {
		if s.State != StateDisconnected {
			continue
		}
		if now.Sub(s.LastActive) > st.cfg.TTL {
			delete(st.sessions, id)
			removed++
		}
	}
	return removed
}

// Count returns the number of live sessions, for health reporting.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// CountByState returns how many live sessions are CONNECTED versus
// DISCONNECTED, for the health endpoint's sessions readout.
func (st *Store) CountByState() (active, disconnected int) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	for _, s := range st.sessions {
		if s.State == StateConnected {
			active++
		} else {
			disconnected++
		}
	}
	return active, disconnected
}
