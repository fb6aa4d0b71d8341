// Package wsapi owns the client-facing WebSocket endpoint: it performs the
// Connection Session handshake (restore-or-create a Session, supersede any
// stale binding), routes inbound frames to a Pipeline Manager, and serves
// the process health and Prometheus endpoints.
package wsapi

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/voiceserver/internal/archive"
	"github.com/antoniostano/voiceserver/internal/config"
	"github.com/antoniostano/voiceserver/internal/llmprovider"
	"github.com/antoniostano/voiceserver/internal/observability"
	"github.com/antoniostano/voiceserver/internal/pipeline"
	"github.com/antoniostano/voiceserver/internal/protocol"
	"github.com/antoniostano/voiceserver/internal/session"
	"github.com/antoniostano/voiceserver/internal/thermal"
	"github.com/antoniostano/voiceserver/internal/turndetector"
	"github.com/antoniostano/voiceserver/internal/voiceprovider"
	"github.com/antoniostano/voiceserver/internal/worker"
)

// binding is one live Connection Session's claim on a session id. ctx is
// kept alongside cancel purely so unbind can tell "is this still my
// binding" via pointer identity; context.Context values returned by
// WithCancel compare equal with == only when they're the same call's result.
type binding struct {
	ctx    context.Context
	cancel context.CancelFunc
	sender *wsSender
}

// Server wires the HTTP/WebSocket surface to the rest of the process. All
// fields besides the bindings map are set once at construction and read
// concurrently afterward without locking.
type Server struct {
	cfg         config.Config
	store       *session.Store
	thermalCtrl *thermal.Controller
	sttProvider voiceprovider.STTProvider
	ttsProvider voiceprovider.TTSProvider
	llmProvider llmprovider.Provider
	archiver    *archive.Archiver
	metrics     *observability.Metrics
	workers     []*worker.Handle
	upgrader    websocket.Upgrader

	bindMu   sync.Mutex
	bindings map[string]*binding
}

// New constructs a Server. Any of thermalCtrl/archiver may be nil to disable
// that feature entirely. workers lists the process's background worker
// handles purely for /healthz reporting; it is not used for shutdown.
func New(cfg config.Config, store *session.Store, sttProvider voiceprovider.STTProvider, ttsProvider voiceprovider.TTSProvider, llmProvider llmprovider.Provider, thermalCtrl *thermal.Controller, archiver *archive.Archiver, workers []*worker.Handle, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:         cfg,
		store:       store,
		thermalCtrl: thermalCtrl,
		sttProvider: sttProvider,
		ttsProvider: ttsProvider,
		llmProvider: llmProvider,
		archiver:    archiver,
		workers:     workers,
		metrics:     metrics,
		bindings:    make(map[string]*binding),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

// Router builds the HTTP handler: the WebSocket endpoint plus health and
// metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", s.handleWS)
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	active, disconnected := s.store.CountByState()
	created, expired := s.metrics.SessionTotals()
	snapshot := observability.HealthSnapshot{
		Sessions: observability.SessionsSnapshot{
			Active:       active,
			Disconnected: disconnected,
			TotalCreated: created,
			TotalExpired: expired,
		},
		Pipeline: s.metrics.PipelineTotals(),
	}
	if s.thermalCtrl != nil {
		ts := s.thermalCtrl.State()
		snapshot.Thermal = observability.ThermalSnapshotFrom(s.cfg.Thermal.Enabled, ts.PlatformSupported, ts.CurrentTempC, ts.ProtectionActive, ts.TriggerCount, ts.MaxObserved)
	}
	if len(s.workers) > 0 {
		snapshot.Workers = make([]observability.WorkerSnapshot, 0, len(s.workers))
		for _, h := range s.workers {
			snapshot.Workers = append(snapshot.Workers, observability.WorkerSnapshot{
				Name:          h.Name(),
				Alive:         h.Alive(),
				LastStartedAt: h.StartedAt(),
			})
		}
	}
	respondJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sender := newWSSender(conn)
	requestedID := strings.TrimSpace(r.URL.Query().Get("session_id"))

	var sessionID string
	if requestedID != "" {
		if restored, ok := s.store.Restore(requestedID); ok {
			sessionID = restored.ID
			sender.SendJSON(protocol.SessionRestored{
				Type:       protocol.TypeSessionRestored,
				SessionID:  restored.ID,
				ContextLen: len(restored.Turns),
			})
		}
	}
	if sessionID == "" {
		sessionID = s.store.Create()
		s.metrics.SessionsCreatedTotal.Inc()
		s.metrics.SessionEvents.WithLabelValues("created").Inc()
		sender.SendJSON(protocol.SessionCreated{Type: protocol.TypeSessionCreated, SessionID: sessionID})
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.bind(sessionID, &binding{ctx: ctx, cancel: cancel, sender: sender})
	defer s.unbind(sessionID, ctx)

	active, disconnected := s.store.CountByState()
	s.metrics.ActiveSessions.Set(float64(active))
	s.metrics.DisconnectedSessions.Set(float64(disconnected))
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	defer func() {
		s.store.MarkDisconnected(sessionID)
		active, disconnected := s.store.CountByState()
		s.metrics.ActiveSessions.Set(float64(active))
		s.metrics.DisconnectedSessions.Set(float64(disconnected))
		s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
	}()
	defer sender.Close()

	mgr := pipeline.New(s.cfg.Pipeline, sessionID, pipeline.Deps{
		Store:       s.store,
		Detector:    turndetector.New(s.cfg.Turn, nil),
		ThermalCtrl: s.thermalCtrl,
		STTProvider: s.sttProvider,
		TTSProvider: s.ttsProvider,
		LLMProvider: s.llmProvider,
		Archiver:    s.archiver,
		Metrics:     s.metrics,
		Sender:      sender,
		VoiceID:     s.cfg.ElevenLabsTTSVoiceID,
	})

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := mgr.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("wsapi: pipeline manager for session %s exited: %v", sessionID, err)
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		s.store.Touch(sessionID)

		switch msgType {
		case websocket.BinaryMessage:
			mgr.PushAudio(data)
			s.metrics.WSMessages.WithLabelValues("inbound", "audio").Inc()

		case websocket.TextMessage:
			parsed, err := protocol.ParseClientMessage(data)
			if err != nil {
				sender.SendJSON(protocol.ErrorEvent{Type: protocol.TypeError, Code: "validation_failed", Message: err.Error()})
				continue
			}
			switch m := parsed.(type) {
			case protocol.Interrupt:
				mgr.PushInterrupt()
				s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypeInterrupt)).Inc()
			case protocol.Text:
				mgr.PushText(m.Text)
				s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypeText)).Inc()
			case protocol.Control:
				s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypeControl)).Inc()
			}
		}
	}

	cancel()
	<-runDone
}

// bind registers the new binding, superseding (and closing) any existing
// live Connection Session for this id, per the last-writer-wins invariant.
func (s *Server) bind(sessionID string, b *binding) {
	s.bindMu.Lock()
	old := s.bindings[sessionID]
	s.bindings[sessionID] = b
	s.bindMu.Unlock()

	if old != nil {
		old.sender.SendJSON(protocol.ErrorEvent{Type: protocol.TypeError, Code: "session_superseded", Message: "a newer connection took over this session"})
		old.cancel()
		old.sender.Close()
	}
}

// unbind removes the binding for sessionID, but only if it is still the one
// this Connection Session installed: a newer connection may have already
// superseded it, in which case removing the map entry here would silently
// drop the newer binding's claim.
func (s *Server) unbind(sessionID string, ourCtx context.Context) {
	s.bindMu.Lock()
	defer s.bindMu.Unlock()
	if cur, ok := s.bindings[sessionID]; ok && cur.ctx == ourCtx {
		delete(s.bindings, sessionID)
	}
}
