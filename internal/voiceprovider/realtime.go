package voiceprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/voiceserver/internal/reliability"
)

// RealtimeConfig points at a hosted realtime STT/TTS backend reachable over
// websocket with JSON control frames and binary audio frames.
type RealtimeConfig struct {
	APIKey          string
	WSBaseURL       string
	STTModelID      string
	TTSModelID      string
	OutputFormat    string
}

// RealtimeProvider is an STTProvider and TTSProvider backed by a hosted
// realtime websocket API.
type RealtimeProvider struct {
	cfg RealtimeConfig
}

func NewRealtimeProvider(cfg RealtimeConfig) *RealtimeProvider {
	if strings.TrimSpace(cfg.STTModelID) == "" {
		cfg.STTModelID = "default"
	}
	if strings.TrimSpace(cfg.TTSModelID) == "" {
		cfg.TTSModelID = "default"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "pcm16_24000"
	}
	return &RealtimeProvider{cfg: cfg}
}

func (p *RealtimeProvider) StartSession(ctx context.Context, sessionID string) (STTSession, <-chan STTEvent, error) {
	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") + "/v1/stt/realtime")
	if err != nil {
		return nil, nil, err
	}
	q := u.Query()
	q.Set("model_id", p.cfg.STTModelID)
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("authorization", "Bearer "+p.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, nil, fmt.Errorf("dial stt websocket: %w", err)
	}

	events := make(chan STTEvent, 256)
	s := &realtimeSTTSession{conn: conn, events: events}
	go s.readLoop()
	return s, events, nil
}

func (p *RealtimeProvider) StartStream(ctx context.Context, voiceID string, settings TTSSettings) (TTSStream, error) {
	if strings.TrimSpace(voiceID) == "" {
		return nil, fmt.Errorf("voice_id is required")
	}
	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") + "/v1/tts/" + url.PathEscape(voiceID) + "/stream")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("model_id", p.cfg.TTSModelID)
	q.Set("output_format", p.cfg.OutputFormat)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("authorization", "Bearer "+p.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("dial tts websocket: %w", err)
	}

	s := &realtimeTTSStream{conn: conn, events: make(chan TTSEvent, 512)}
	go s.readLoop()
	_ = s.writeJSON(map[string]any{"voice_settings": settings})
	return s, nil
}

type realtimeSTTSession struct {
	mu       sync.Mutex
	conn     *websocket.Conn
	events   chan STTEvent
	revision int
	closed   bool
}

func (s *realtimeSTTSession) SendAudioChunk(ctx context.Context, pcm16 []byte, sampleRate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(dl)
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, pcm16)
}

func (s *realtimeSTTSession) readLoop() {
	defer close(s.events)
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.events <- STTEvent{Type: STTEventError, Code: "ws_read_error", Detail: err.Error(), Retryable: true}
			return
		}
		var frame struct {
			Type       string  `json:"type"`
			Text       string  `json:"text"`
			Confidence float64 `json:"confidence"`
		}
		if err := json.Unmarshal(payload, &frame); err != nil {
			continue
		}
		s.mu.Lock()
		s.revision++
		rev := s.revision
		s.mu.Unlock()
		switch frame.Type {
		case "partial":
			s.events <- STTEvent{Type: STTEventPartial, Text: frame.Text, Revision: rev, Confidence: frame.Confidence, TimestampMs: time.Now().UnixMilli()}
		case "committed":
			s.events <- STTEvent{Type: STTEventCommitted, Text: frame.Text, Revision: rev, Confidence: frame.Confidence, TimestampMs: time.Now().UnixMilli()}
		case "error":
			s.events <- STTEvent{Type: STTEventError, Code: "upstream_error", Retryable: reliability.IsRetryableRealtimeMessageType(frame.Type)}
		}
	}
}

func (s *realtimeSTTSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

type realtimeTTSStream struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	events chan TTSEvent
	closed bool
}

func (s *realtimeTTSStream) writeJSON(v any) error {
	return s.conn.WriteJSON(v)
}

func (s *realtimeTTSStream) SendText(ctx context.Context, textChunk string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(dl)
	}
	return s.writeJSON(map[string]any{"text": textChunk})
}

func (s *realtimeTTSStream) CloseInput(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.writeJSON(map[string]any{"text": ""})
}

func (s *realtimeTTSStream) readLoop() {
	defer close(s.events)
	for {
		msgType, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.events <- TTSEvent{Type: TTSEventError, Code: "ws_read_error", Detail: err.Error(), Retryable: true}
			return
		}
		if msgType == websocket.BinaryMessage {
			s.events <- TTSEvent{Type: TTSEventAudio, Audio: payload, Format: "pcm16"}
			continue
		}
		var frame struct {
			IsFinal bool `json:"is_final"`
		}
		if err := json.Unmarshal(payload, &frame); err == nil && frame.IsFinal {
			s.events <- TTSEvent{Type: TTSEventFinal}
			return
		}
	}
}

func (s *realtimeTTSStream) Events() <-chan TTSEvent { return s.events }

func (s *realtimeTTSStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}
