// Package pipeline implements the per-connection orchestrator that turns
// incoming audio into incremental transcripts, a turn commit, a streamed
// LLM reply, and streamed synthesized speech back out — including barge-in,
// speculative generation, and thermal-gated generation entry.
package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/voiceserver/internal/archive"
	"github.com/antoniostano/voiceserver/internal/llmprovider"
	"github.com/antoniostano/voiceserver/internal/observability"
	"github.com/antoniostano/voiceserver/internal/policy"
	"github.com/antoniostano/voiceserver/internal/protocol"
	"github.com/antoniostano/voiceserver/internal/reliability"
	"github.com/antoniostano/voiceserver/internal/session"
	"github.com/antoniostano/voiceserver/internal/thermal"
	"github.com/antoniostano/voiceserver/internal/turndetector"
	"github.com/antoniostano/voiceserver/internal/voiceprovider"
)

// sttRestartBackoffBase/Cap/MaxAttempts bound how hard Run retries a dead
// STT session before giving up on speech input for the rest of the
// connection (spec §7: retry with backoff, then surface a persistent
// failure rather than spin forever).
const (
	sttRestartBackoffBase = 250 * time.Millisecond
	sttRestartBackoffCap  = 2 * time.Second
	sttRestartMaxAttempts = 3
)

// Deps bundles everything a Manager needs from the rest of the process. The
// thermal controller and archiver are process-wide and shared across every
// connection's Manager; everything else is dedicated to one connection.
type Deps struct {
	Store       *session.Store
	Detector    *turndetector.Detector
	ThermalCtrl *thermal.Controller // may be nil to disable thermal gating entirely
	STTProvider voiceprovider.STTProvider
	TTSProvider voiceprovider.TTSProvider
	LLMProvider llmprovider.Provider
	Archiver    *archive.Archiver // may be nil to disable archival
	Metrics     *observability.Metrics
	Sender      Sender
	VoiceID     string
	TTSSettings voiceprovider.TTSSettings
}

// pendingCommit is a committed user turn whose generation is blocked on
// thermal protection clearing.
type pendingCommit struct {
	turnID   string
	userText string
	context  []llmprovider.Turn
}

// Manager drives one connection's full duplex voice loop. Construct with
// New and run its loop with Run from a dedicated goroutine; feed it with
// PushAudio, PushText, and PushInterrupt from the Connection Session.
type Manager struct {
	cfg       Config
	sessionID string
	deps      Deps

	audioIn     chan []byte
	textIn      chan string
	interruptCh chan struct{}
	thermalCh   chan thermal.State

	mu    sync.Mutex
	state State
}

// New constructs a Manager for one session. cfg should usually be
// DefaultConfig with any overrides applied.
func New(cfg Config, sessionID string, deps Deps) *Manager {
	if cfg.AudioQueueMax <= 0 {
		cfg.AudioQueueMax = 50
	}
	return &Manager{
		cfg:         cfg,
		sessionID:   sessionID,
		deps:        deps,
		audioIn:     make(chan []byte, cfg.AudioQueueMax),
		textIn:      make(chan string, 4),
		interruptCh: make(chan struct{}, 1),
		thermalCh:   make(chan thermal.State, 1),
		state:       StateIdle,
	}
}

// State returns the manager's current turn state. Safe for concurrent use.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// PushAudio enqueues one inbound PCM16LE frame. Non-blocking: once the
// bounded queue is full, the oldest queued frame is dropped to make room,
// mirroring the archiver's drop-oldest backpressure policy.
func (m *Manager) PushAudio(pcm []byte) {
	select {
	case m.audioIn <- pcm:
		return
	default:
	}
	select {
	case <-m.audioIn:
		m.deps.Metrics.AudioFramesDropped.Inc()
	default:
	}
	select {
	case m.audioIn <- pcm:
	default:
	}
}

// PushText enqueues a text-mode user utterance, bypassing STT entirely.
func (m *Manager) PushText(text string) {
	select {
	case m.textIn <- text:
	default:
		log.Printf("pipeline: text queue full for session %s, dropping message", m.sessionID)
	}
}

// PushInterrupt requests an explicit barge-in. Repeated calls before the
// orchestrator drains the first one are coalesced into a single signal.
func (m *Manager) PushInterrupt() {
	select {
	case m.interruptCh <- struct{}{}:
	default:
	}
}

// Run drives the connection until ctx is cancelled or the STT provider
// cannot be started. Before returning it cancels any in-flight generation;
// it does not wait for that generation's goroutine to exit.
func (m *Manager) Run(ctx context.Context) error {
	sttSession, sttEvents, err := m.deps.STTProvider.StartSession(ctx, m.sessionID)
	if err != nil {
		return err
	}
	defer func() {
		if sttSession != nil {
			sttSession.Close()
		}
	}()

	// restartSTT tears down the dead session (if any) and retries
	// StartSession with a capped number of backed-off attempts, mirroring
	// the transient-external-failure policy generation.go applies to the
	// LLM and TTS adapters. It reports whether a new session is live.
	restartSTT := func() bool {
		if sttSession != nil {
			sttSession.Close()
			sttSession = nil
		}
		sttEvents = nil
		for attempt := 0; attempt < sttRestartMaxAttempts; attempt++ {
			t := time.NewTimer(reliability.ExponentialBackoff(attempt, sttRestartBackoffBase, sttRestartBackoffCap))
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return false
			}
			t.Stop()

			newSession, newEvents, err := m.deps.STTProvider.StartSession(ctx, m.sessionID)
			if err != nil {
				log.Printf("pipeline: stt restart attempt %d failed for session %s: %v", attempt+1, m.sessionID, err)
				continue
			}
			sttSession = newSession
			sttEvents = newEvents
			m.deps.Metrics.STTRestarts.Inc()
			return true
		}
		return false
	}

	if m.deps.ThermalCtrl != nil {
		m.deps.ThermalCtrl.OnChange(func(s thermal.State) {
			select {
			case m.thermalCh <- s:
			default:
			}
		})
	}

	gate := newSpeechGate(time.Duration(m.cfg.BargeInMS) * time.Millisecond)

	var gen *generation
	var spec *generation
	var pending *pendingCommit
	var commitTimer *time.Timer
	var specStableSince time.Time
	var specCandidate string
	var lastPartial string
	revision := 0

	stopCommitTimer := func() {
		if commitTimer != nil {
			commitTimer.Stop()
			commitTimer = nil
		}
	}
	defer stopCommitTimer()

	cancelGeneration := func() {
		if gen != nil {
			m.deps.Metrics.Interruptions.Inc()
			gen.cancel()
			gen = nil
		}
		if spec != nil {
			spec.cancel()
			spec = nil
		}
		gate.Reset()
	}

	for {
		var timerC <-chan time.Time
		if commitTimer != nil {
			timerC = commitTimer.C
		}
		var genResult chan turnResult
		if gen != nil {
			genResult = gen.result
		}
		var specResult chan turnResult
		if spec != nil {
			specResult = spec.result
		}
		var sttEventsC <-chan voiceprovider.STTEvent
		if sttEvents != nil {
			sttEventsC = sttEvents
		}

		select {
		case <-ctx.Done():
			cancelGeneration()
			return ctx.Err()

		case pcm, ok := <-m.audioIn:
			if !ok {
				continue
			}
			if m.State() == StateIdle {
				m.setState(StateListening)
			}
			if sttSession != nil {
				if err := sttSession.SendAudioChunk(ctx, pcm, m.cfg.SampleRate); err != nil {
					m.deps.Metrics.ProviderErrors.WithLabelValues("stt", "send_failed").Inc()
				}
			}
			if gen != nil && gate.Observe(pcm, time.Now()) {
				m.setState(StateInterrupted)
				cancelGeneration()
				m.setState(StateListening)
			}

		case text, ok := <-m.textIn:
			if !ok {
				continue
			}
			cancelGeneration()
			stopCommitTimer()
			m.commit(ctx, text, &gen, &spec, &pending)

		case <-m.interruptCh:
			m.setState(StateInterrupted)
			cancelGeneration()
			m.setState(StateListening)

		case evt, ok := <-sttEventsC:
			if !ok {
				sttEvents = nil
				stopCommitTimer()
				m.deps.Detector.Reset()
				m.send(protocol.ErrorEvent{Type: protocol.TypeError, Code: "stt_lost", Message: "speech recognition worker is unavailable"})
				if restartSTT() {
					m.send(protocol.Status{Type: protocol.TypeStatus, State: protocol.StatusNormal, Reason: "speech recognition reconnected"})
				} else {
					m.send(protocol.ErrorEvent{Type: protocol.TypeError, Code: "stt_lost", Message: "speech recognition could not be restarted"})
				}
				continue
			}
			switch evt.Type {
			case voiceprovider.STTEventPartial:
				revision++
				lastPartial = evt.Text
				m.send(protocol.Partial{Type: protocol.TypePartial, Text: evt.Text, Revision: revision, Stable: false})
				wait := m.deps.Detector.Update(evt.Text)
				stopCommitTimer()
				commitTimer = time.NewTimer(wait)

				if m.cfg.SpeculativeEnabled && gen == nil && spec == nil {
					norm := turndetector.Normalize(evt.Text)
					if !endsStrong(norm) {
						specStableSince = time.Time{}
						specCandidate = ""
					} else if norm != specCandidate {
						specCandidate = norm
						specStableSince = time.Now()
					} else if !specStableSince.IsZero() && time.Since(specStableSince) >= time.Duration(m.cfg.StableMS)*time.Millisecond {
						llmCtx := m.contextSnapshot()
						spec = m.startGeneration(ctx, uuid.NewString(), norm, llmCtx, true)
						specStableSince = time.Time{}
					}
				}

			case voiceprovider.STTEventCommitted:
				stopCommitTimer()
				cancelGeneration()
				m.commit(ctx, evt.Text, &gen, &spec, &pending)

			case voiceprovider.STTEventError:
				m.deps.Metrics.ProviderErrors.WithLabelValues("stt", evt.Code).Inc()
				if !evt.Retryable {
					stopCommitTimer()
					m.send(protocol.ErrorEvent{Type: protocol.TypeError, Code: "stt_lost", Message: evt.Detail})
				}
			}

		case <-timerC:
			commitTimer = nil
			// Providers that never emit STTEventCommitted rely on this timer
			// firing after Update's wait elapses with no newer partial.
			if lastPartial != "" {
				m.commit(ctx, lastPartial, &gen, &spec, &pending)
				lastPartial = ""
			}

		case res, ok := <-genResult:
			if !ok {
				continue
			}
			gen = nil
			gate.Reset()
			m.finalizeTurn(res)
			if m.State() != StateIdle {
				m.setState(StateIdle)
			}

		case res, ok := <-specResult:
			if !ok {
				continue
			}
			spec = nil
			// A speculative generation that finished or was cancelled without
			// ever being adopted at commit time is discarded entirely: no
			// Turn, no assistant_final, exactly like a self barge-in.
			_ = res

		case ts := <-m.thermalCh:
			m.deps.Metrics.ThermalProtectionActive.Set(boolToFloat(ts.ProtectionActive))
			if !ts.ProtectionActive && pending != nil {
				pc := pending
				pending = nil
				m.send(protocol.Status{Type: protocol.TypeStatus, State: protocol.StatusNormal})
				m.setState(StateGenerating)
				gen = m.startGeneration(ctx, pc.turnID, pc.userText, pc.context, false)
			}
		}
	}
}

// commit finalizes one user turn: validates it's worth responding to,
// announces it, appends it to history, and either adopts a matching
// speculative generation, starts a fresh one, or queues it behind thermal
// protection.
func (m *Manager) commit(ctx context.Context, rawText string, gen, spec **generation, pending **pendingCommit) {
	text := turndetector.Normalize(rawText)
	if !isCommittable(text, m.cfg.MinCommitChars) {
		m.deps.Detector.Reset()
		return
	}
	if *gen != nil {
		m.deps.Metrics.Interruptions.Inc()
		(*gen).cancel()
		*gen = nil
	}

	m.setState(StateCommitting)
	m.send(protocol.Final{Type: protocol.TypeFinal, Text: text})

	llmCtx := m.contextSnapshot()
	m.deps.Store.AppendTurn(m.sessionID, session.RoleUser, text)
	m.archiveEnqueue(session.RoleUser, text)
	m.deps.Detector.Reset()
	m.deps.Metrics.TurnsTotal.Inc()

	turnID := uuid.NewString()

	if *spec != nil {
		if sameEnoughToAdopt(turndetector.Normalize((*spec).userText), text) {
			*gen = *spec
			*spec = nil
			m.setState(StateGenerating)
			return
		}
		(*spec).cancel()
		*spec = nil
	}

	if m.deps.ThermalCtrl != nil && m.deps.ThermalCtrl.ProtectionActive() {
		m.send(protocol.Status{Type: protocol.TypeStatus, State: protocol.StatusThrottled, Reason: "thermal protection active"})
		*pending = &pendingCommit{turnID: turnID, userText: text, context: llmCtx}
		return
	}

	m.setState(StateGenerating)
	*gen = m.startGeneration(ctx, turnID, text, llmCtx, false)
}

func (m *Manager) finalizeTurn(res turnResult) {
	if res.outcome == outcomeAborted {
		m.send(protocol.ErrorEvent{Type: protocol.TypeError, Code: res.errCode, Message: res.errMessage})
		return
	}
	if res.text != "" {
		m.deps.Store.AppendTurn(m.sessionID, session.RoleAssistant, res.text)
		m.archiveEnqueue(session.RoleAssistant, res.text)
	}
	m.send(protocol.AssistantFinal{Type: protocol.TypeAssistantFinal, Text: res.text})
}

func (m *Manager) contextSnapshot() []llmprovider.Turn {
	sess, ok := m.deps.Store.Get(m.sessionID)
	if !ok {
		return nil
	}
	out := make([]llmprovider.Turn, 0, len(sess.Turns))
	for _, t := range sess.Turns {
		out = append(out, llmprovider.Turn{Role: string(t.Role), Text: t.Text})
	}
	return out
}

// send delivers one outbound control frame, recording a write-error metric
// instead of propagating the error: a broken socket is the Connection
// Session's problem to detect and tear down, not the orchestrator's.
func (m *Manager) send(v any) {
	if err := m.deps.Sender.SendJSON(v); err != nil {
		m.deps.Metrics.WSWriteErrors.WithLabelValues("json").Inc()
	}
}

// archiveEnqueue persists a turn to the audit log, redacting high-risk PII
// first: the archive is a durability/audit concern, not the live conversation
// context, so it never sees raw emails, phone numbers, or card numbers.
func (m *Manager) archiveEnqueue(role session.Role, text string) {
	if m.deps.Archiver == nil {
		return
	}
	redacted, _ := policy.RedactPII(text)
	m.deps.Archiver.Enqueue(archive.TurnRecord{
		SessionID: m.sessionID,
		Role:      string(role),
		Text:      redacted,
		CreatedAt: time.Now(),
	})
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
