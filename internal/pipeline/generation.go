package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/antoniostano/voiceserver/internal/llmprovider"
	"github.com/antoniostano/voiceserver/internal/reliability"
	"github.com/antoniostano/voiceserver/internal/voiceprovider"
)

// retryBackoffBase/Cap bound the single retry spec §7 grants a transient
// external failure (STT hiccup, LLM 503, TTS timeout) before the turn is
// aborted outright.
const (
	retryBackoffBase = 200 * time.Millisecond
	retryBackoffCap  = 2 * time.Second
)

// retryDelay waits one backoff interval, honoring ctx cancellation. It
// reports false if ctx was cancelled first, in which case the caller must
// give up rather than retry.
func retryDelay(ctx context.Context) bool {
	t := time.NewTimer(reliability.ExponentialBackoff(0, retryBackoffBase, retryBackoffCap))
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// turnOutcome classifies how a generation ended, driving how the Pipeline
// Manager finalizes the assistant Turn.
type turnOutcome int

const (
	outcomeCompleted turnOutcome = iota // LLM and TTS both drained normally
	outcomeAborted                      // no tokens ever produced; no Turn appended
	outcomePartial                      // interrupted, disconnected, or TTS died mid-stream
)

// turnResult is the one message a generation goroutine ever sends before it
// exits.
type turnResult struct {
	turnID       string
	speculative  bool
	outcome      turnOutcome
	text         string // text to persist as the assistant Turn (empty for outcomeAborted)
	errCode      string
	errMessage   string
	firstAudioAt time.Time
	committedAt  time.Time
}

// generation drives one LLM+TTS run end to end in its own goroutine so the
// orchestrator loop never blocks on network I/O; cancel() preempts it
// promptly at every suspension point.
type generation struct {
	turnID      string
	speculative bool
	userText    string
	cancel      context.CancelFunc
	result      chan turnResult
}

// startGeneration launches the goroutine and returns immediately; the
// result arrives later on g.result, exactly once.
func (m *Manager) startGeneration(parent context.Context, turnID, userText string, llmContext []llmprovider.Turn, speculative bool) *generation {
	ctx, cancel := context.WithCancel(parent)
	g := &generation{
		turnID:      turnID,
		speculative: speculative,
		userText:    userText,
		cancel:      cancel,
		result:      make(chan turnResult, 1),
	}
	go m.runGeneration(ctx, g, llmContext)
	return g
}

func (m *Manager) runGeneration(ctx context.Context, g *generation, llmContext []llmprovider.Turn) {
	committedAt := time.Now()

	req := llmprovider.Request{
		SessionID: m.sessionID,
		TurnID:    g.turnID,
		UserText:  g.userText,
		Context:   llmContext,
	}
	stream, err := m.deps.LLMProvider.Generate(ctx, req)
	if err != nil {
		m.deps.Metrics.LLMErrors.Inc()
		if retryDelay(ctx) {
			stream, err = m.deps.LLMProvider.Generate(ctx, req)
		}
		if err != nil {
			m.deps.Metrics.LLMErrors.Inc()
			g.result <- turnResult{turnID: g.turnID, speculative: g.speculative, outcome: outcomeAborted, errCode: "llm_empty", errMessage: "language model unavailable", committedAt: committedAt}
			return
		}
	}

	ttsStream, err := m.deps.TTSProvider.StartStream(ctx, m.deps.VoiceID, m.deps.TTSSettings)
	if err != nil {
		m.deps.Metrics.TTSErrors.Inc()
		if retryDelay(ctx) {
			ttsStream, err = m.deps.TTSProvider.StartStream(ctx, m.deps.VoiceID, m.deps.TTSSettings)
		}
		if err != nil {
			m.deps.Metrics.TTSErrors.Inc()
			stream.Cancel()
			g.result <- turnResult{turnID: g.turnID, speculative: g.speculative, outcome: outcomeAborted, errCode: "tts_unavailable", errMessage: "speech synthesis unavailable", committedAt: committedAt}
			return
		}
	}
	defer ttsStream.Close()

	split := newSplitter(m.cfg.ChunkMaxChars)
	var fullText strings.Builder
	var spokenText strings.Builder
	var pendingChunks []string // sent to TTS, not yet confirmed by an audio event

	llmTokens := stream.Tokens()
	ttsEvents := ttsStream.Events()

	firstTokenTimer := time.NewTimer(m.cfg.LLMFirstTokenTimeout)
	defer firstTokenTimer.Stop()
	totalTimer := time.NewTimer(m.cfg.LLMTotalTimeout)
	defer totalTimer.Stop()

	// ttsSilence bounds the gap between handing TTS its next chunk (or
	// closing its input) and hearing back audio or a final event; it starts
	// disarmed since nothing has been sent to TTS yet.
	ttsSilence := time.NewTimer(m.cfg.TTSFirstChunkTimeout)
	if !ttsSilence.Stop() {
		<-ttsSilence.C
	}
	defer ttsSilence.Stop()
	ttsAwaiting := false
	armTTSSilence := func() {
		if !ttsSilence.Stop() {
			select {
			case <-ttsSilence.C:
			default:
			}
		}
		ttsSilence.Reset(m.cfg.TTSFirstChunkTimeout)
		ttsAwaiting = true
	}

	sawToken := false
	llmDone := false
	inputClosed := false
	ttsDone := false
	var firstAudioAt time.Time

	finish := func(outcome turnOutcome, code, msg string) {
		stream.Cancel()
		text := strings.TrimSpace(fullText.String())
		if outcome != outcomeCompleted {
			text = strings.TrimSpace(spokenText.String())
		}
		g.result <- turnResult{
			turnID:       g.turnID,
			speculative:  g.speculative,
			outcome:      outcome,
			text:         text,
			errCode:      code,
			errMessage:   msg,
			firstAudioAt: firstAudioAt,
			committedAt:  committedAt,
		}
	}

	for {
		if llmDone && ttsDone {
			finish(outcomeCompleted, "", "")
			return
		}

		var tokens <-chan llmprovider.Token
		if !llmDone {
			tokens = llmTokens
		}
		var events <-chan voiceprovider.TTSEvent
		if !ttsDone {
			events = ttsEvents
		}
		var firstTokenC <-chan time.Time
		if !sawToken {
			firstTokenC = firstTokenTimer.C
		}
		var ttsTimeoutC <-chan time.Time
		if ttsAwaiting && !ttsDone {
			ttsTimeoutC = ttsSilence.C
		}

		select {
		case <-ctx.Done():
			finish(outcomePartial, "", "")
			return

		case <-firstTokenC:
			finish(outcomeAborted, "llm_empty", "no response from language model")
			return

		case <-totalTimer.C:
			if !sawToken {
				finish(outcomeAborted, "llm_empty", "language model timed out")
			} else {
				finish(outcomePartial, "llm_timeout", "language model timed out mid-reply")
			}
			return

		case <-ttsTimeoutC:
			m.deps.Metrics.TTSErrors.Inc()
			finish(outcomePartial, "tts_timeout", "speech synthesis timed out")
			return

		case tok, ok := <-tokens:
			if !ok {
				llmDone = true
				for _, chunk := range split.Finalize() {
					fullText.WriteString(chunk)
					fullText.WriteString(" ")
					pendingChunks = append(pendingChunks, chunk)
					if err := ttsStream.SendText(ctx, chunk); err != nil {
						m.deps.Metrics.TTSErrors.Inc()
						finish(outcomePartial, "tts_error", "speech synthesis failed")
						return
					}
					armTTSSilence()
				}
				if !inputClosed {
					inputClosed = true
					if err := ttsStream.CloseInput(ctx); err != nil {
						m.deps.Metrics.TTSErrors.Inc()
						finish(outcomePartial, "tts_error", "speech synthesis failed")
						return
					}
					armTTSSilence()
				}
				continue
			}
			if tok.Err != nil {
				m.deps.Metrics.LLMErrors.Inc()
				if !sawToken {
					finish(outcomeAborted, "llm_empty", "language model stream failed")
				} else {
					finish(outcomePartial, "llm_error", "language model stream failed mid-reply")
				}
				return
			}
			sawToken = true
			for _, chunk := range split.Push(tok.Text) {
				fullText.WriteString(chunk)
				fullText.WriteString(" ")
				pendingChunks = append(pendingChunks, chunk)
				if err := ttsStream.SendText(ctx, chunk); err != nil {
					m.deps.Metrics.TTSErrors.Inc()
					finish(outcomePartial, "tts_error", "speech synthesis failed")
					return
				}
				armTTSSilence()
			}

		case evt, ok := <-events:
			if !ok {
				ttsDone = true
				continue
			}
			switch evt.Type {
			case voiceprovider.TTSEventAudio:
				if firstAudioAt.IsZero() {
					firstAudioAt = time.Now()
					m.deps.Metrics.ObserveFirstAudioLatency(firstAudioAt.Sub(committedAt))
					if !g.speculative {
						m.setState(StateSpeaking)
					}
				}
				if len(pendingChunks) > 0 {
					spokenText.WriteString(pendingChunks[0])
					spokenText.WriteString(" ")
					pendingChunks = pendingChunks[1:]
				}
				if err := m.deps.Sender.SendAudio(evt.Audio); err != nil {
					m.deps.Metrics.WSWriteErrors.WithLabelValues("audio").Inc()
				}
				armTTSSilence()
			case voiceprovider.TTSEventFinal:
				ttsDone = true
			case voiceprovider.TTSEventError:
				m.deps.Metrics.TTSErrors.Inc()
				finish(outcomePartial, "tts_error", evt.Detail)
				return
			}
		}
	}
}

func endsStrong(normalized string) bool {
	normalized = strings.TrimRight(normalized, " ")
	if normalized == "" {
		return false
	}
	switch normalized[len(normalized)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

func isCommittable(text string, minChars int) bool {
	text = strings.TrimSpace(text)
	if len(text) < minChars {
		return false
	}
	for _, r := range text {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return true
		}
		if r > 127 {
			return true // non-ASCII letters count as alphanumeric content too
		}
	}
	return false
}
