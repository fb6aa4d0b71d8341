package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/antoniostano/voiceserver/internal/llmprovider"
	"github.com/antoniostano/voiceserver/internal/protocol"
	"github.com/antoniostano/voiceserver/internal/session"
	"github.com/antoniostano/voiceserver/internal/thermal"
	"github.com/antoniostano/voiceserver/internal/turndetector"
	"github.com/antoniostano/voiceserver/internal/voiceprovider"

	"github.com/antoniostano/voiceserver/internal/observability"
)

var (
	sharedMetricsOnce sync.Once
	sharedMetrics     *observability.Metrics
)

// testMetrics returns one process-wide Metrics instance: promauto registers
// into the default Prometheus registry, so constructing a second instance
// under the same namespace from another test would panic on a duplicate
// collector.
func testMetrics() *observability.Metrics {
	sharedMetricsOnce.Do(func() {
		sharedMetrics = observability.NewMetrics("pipeline_test")
	})
	return sharedMetrics
}

type fakeSender struct {
	mu    sync.Mutex
	json  []any
	audio [][]byte
}

func (f *fakeSender) SendJSON(v any) error {
	f.mu.Lock()
	f.json = append(f.json, v)
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) SendAudio(chunk []byte) error {
	f.mu.Lock()
	f.audio = append(f.audio, append([]byte(nil), chunk...))
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) snapshot() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(f.json))
	copy(out, f.json)
	return out
}

func fastDetectorConfig() turndetector.Config {
	cfg := turndetector.DefaultConfig()
	cfg.BaseWait = 20 * time.Millisecond
	cfg.ShortBonus = 10 * time.Millisecond
	cfg.MinWait = 5 * time.Millisecond
	cfg.MaxWait = 200 * time.Millisecond
	return cfg
}

func pollFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", timeout)
	}
}

func findAssistantFinal(msgs []any) (protocol.AssistantFinal, bool) {
	for _, m := range msgs {
		if af, ok := m.(protocol.AssistantFinal); ok {
			return af, true
		}
	}
	return protocol.AssistantFinal{}, false
}

func findFinal(msgs []any) (protocol.Final, bool) {
	for _, m := range msgs {
		if f, ok := m.(protocol.Final); ok {
			return f, true
		}
	}
	return protocol.Final{}, false
}

func newTestManager(t *testing.T, llm llmprovider.Provider, thermalCtrl *thermal.Controller) (*Manager, *fakeSender, *session.Store, string) {
	t.Helper()
	store := session.NewStore(session.DefaultConfig())
	sessionID := store.Create()
	detector := turndetector.New(fastDetectorConfig(), nil)
	voice := voiceprovider.NewMockProvider()
	sender := &fakeSender{}

	cfg := DefaultConfig()
	cfg.SpeculativeEnabled = false
	cfg.LLMFirstTokenTimeout = time.Second
	cfg.LLMTotalTimeout = 2 * time.Second

	mgr := New(cfg, sessionID, Deps{
		Store:       store,
		Detector:    detector,
		ThermalCtrl: thermalCtrl,
		STTProvider: voice,
		TTSProvider: voice,
		LLMProvider: llm,
		Archiver:    nil,
		Metrics:     testMetrics(),
		Sender:      sender,
		VoiceID:     "test-voice",
	})
	return mgr, sender, store, sessionID
}

func TestManagerCommitsAfterSilenceAndRespondsWithAssistantTurn(t *testing.T) {
	mgr, sender, store, sessionID := newTestManager(t, llmprovider.NewMockProvider(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- mgr.Run(ctx) }()

	mgr.PushAudio(make([]byte, 320))

	pollFor(t, time.Second, func() bool {
		_, ok := findFinal(sender.snapshot())
		return ok
	})

	pollFor(t, 2*time.Second, func() bool {
		_, ok := findAssistantFinal(sender.snapshot())
		return ok
	})

	af, _ := findAssistantFinal(sender.snapshot())
	if !strings.Contains(af.Text, "simulated voice input") {
		t.Fatalf("AssistantFinal.Text = %q, want it to echo the recognized transcript", af.Text)
	}

	sess, ok := store.Get(sessionID)
	if !ok {
		t.Fatalf("session %s vanished", sessionID)
	}
	if len(sess.Turns) != 2 {
		t.Fatalf("len(Turns) = %d, want 2 (user + assistant)", len(sess.Turns))
	}
	if sess.Turns[0].Role != session.RoleUser || sess.Turns[1].Role != session.RoleAssistant {
		t.Fatalf("Turns = %+v, want user then assistant", sess.Turns)
	}

	cancel()
	<-runDone
}

func TestManagerTextModeBypassesSTT(t *testing.T) {
	mgr, sender, store, sessionID := newTestManager(t, llmprovider.NewMockProvider(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	mgr.PushText("hello from text mode")

	pollFor(t, 2*time.Second, func() bool {
		_, ok := findAssistantFinal(sender.snapshot())
		return ok
	})

	sess, _ := store.Get(sessionID)
	if len(sess.Turns) != 2 || sess.Turns[0].Text != "hello from text mode" {
		t.Fatalf("Turns = %+v, want the text-mode message committed verbatim", sess.Turns)
	}
}

// pausableLLMProvider streams a fixed word list but blocks before each word
// until release is closed, giving a test deterministic control over when a
// barge-in lands mid-generation.
type pausableLLMProvider struct {
	words   []string
	started chan struct{}
	release chan struct{}
}

func (p *pausableLLMProvider) Generate(ctx context.Context, req llmprovider.Request) (llmprovider.Stream, error) {
	s := &pausableLLMStream{tokens: make(chan llmprovider.Token, len(p.words)+1), cancelled: make(chan struct{})}
	go s.run(ctx, p.words, p.started, p.release)
	return s, nil
}

type pausableLLMStream struct {
	tokens    chan llmprovider.Token
	cancelled chan struct{}
	once      sync.Once
}

func (s *pausableLLMStream) run(ctx context.Context, words []string, started, release chan struct{}) {
	defer close(s.tokens)
	for i, w := range words {
		if i == 0 {
			close(started)
		}
		select {
		case <-release:
		case <-ctx.Done():
			s.tokens <- llmprovider.Token{Err: ctx.Err()}
			return
		case <-s.cancelled:
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-s.cancelled:
			return
		default:
		}
		s.tokens <- llmprovider.Token{Text: w + " "}
	}
}

func (s *pausableLLMStream) Tokens() <-chan llmprovider.Token { return s.tokens }

func (s *pausableLLMStream) Cancel() {
	s.once.Do(func() { close(s.cancelled) })
}

func TestManagerExplicitInterruptCancelsInFlightGeneration(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	llm := &pausableLLMProvider{words: []string{"one", "two", "three", "four"}, started: started, release: release}

	mgr, sender, store, sessionID := newTestManager(t, llm, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	mgr.PushAudio(make([]byte, 320))
	pollFor(t, time.Second, func() bool {
		_, ok := findFinal(sender.snapshot())
		return ok
	})

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatalf("generation never started")
	}

	mgr.PushInterrupt()

	pollFor(t, time.Second, func() bool {
		_, ok := findAssistantFinal(sender.snapshot())
		return ok
	})

	close(release) // let the stalled provider goroutine exit rather than leak

	af, _ := findAssistantFinal(sender.snapshot())
	if strings.Contains(af.Text, "four") {
		t.Fatalf("AssistantFinal.Text = %q, should not contain tokens generated after the interrupt", af.Text)
	}

	sess, _ := store.Get(sessionID)
	if len(sess.Turns) < 1 || sess.Turns[0].Role != session.RoleUser {
		t.Fatalf("Turns = %+v, want the user turn preserved despite the interruption", sess.Turns)
	}
}

func TestManagerDefersGenerationUntilThermalProtectionClears(t *testing.T) {
	probeTemp := 90.0
	probe := func() (float64, bool) { return probeTemp, true }
	thermalCfg := thermal.DefaultConfig()
	thermalCfg.PollInterval = 10 * time.Millisecond
	ctrl := thermal.New(thermalCfg, probe)
	ctrl.Start()
	defer ctrl.Stop()

	pollFor(t, time.Second, ctrl.ProtectionActive)

	mgr, sender, _, _ := newTestManager(t, llmprovider.NewMockProvider(), ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	mgr.PushAudio(make([]byte, 320))

	pollFor(t, time.Second, func() bool {
		for _, m := range sender.snapshot() {
			if st, ok := m.(protocol.Status); ok && st.State == protocol.StatusThrottled {
				return true
			}
		}
		return false
	})

	if _, ok := findAssistantFinal(sender.snapshot()); ok {
		t.Fatalf("assistant responded while thermal protection was active")
	}

	probeTemp = 70.0 // below ResumeC: protection clears on the next poll
	ctrl.Join(time.Second)

	pollFor(t, 2*time.Second, func() bool {
		_, ok := findAssistantFinal(sender.snapshot())
		return ok
	})
}
