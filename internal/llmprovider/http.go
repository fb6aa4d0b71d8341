package llmprovider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/voiceserver/internal/reliability"
)

// HTTPConfig points at an HTTP endpoint that streams a chat completion as
// either text/event-stream or application/x-ndjson.
type HTTPConfig struct {
	URL     string
	Timeout time.Duration
}

// HTTPProvider generates over a streaming HTTP endpoint.
type HTTPProvider struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTPProvider(cfg HTTPConfig) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPProvider{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (p *HTTPProvider) Generate(ctx context.Context, req Request) (Stream, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	for attempt := 0; ; attempt++ {
		s, retryable, err := p.doRequest(ctx, payload)
		if err == nil {
			return s, nil
		}
		if !retryable || attempt > 0 {
			return nil, err
		}
		t := time.NewTimer(reliability.ExponentialBackoff(attempt, 200*time.Millisecond, 2*time.Second))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, err
		}
		t.Stop()
	}
}

// doRequest issues one HTTP attempt. retryable reports whether a failure is
// worth one retry per spec §7's transient-external-failure policy (a
// connection error or a retryable status code), as opposed to a malformed
// request or a permanent rejection.
func (p *HTTPProvider) doRequest(ctx context.Context, payload []byte) (s Stream, retryable bool, err error) {
	streamCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, p.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, true, fmt.Errorf("send request: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		res.Body.Close()
		cancel()
		return nil, reliability.IsRetryableHTTPStatus(res.StatusCode), fmt.Errorf("llm http status %d: %s", res.StatusCode, string(body))
	}

	stream := &httpStream{
		body:   res.Body,
		tokens: make(chan Token, 64),
		cancel: cancel,
	}
	ndjson := strings.Contains(strings.ToLower(res.Header.Get("Content-Type")), "ndjson")
	go stream.run(ndjson)
	return stream, false, nil
}

type httpStream struct {
	body   io.ReadCloser
	tokens chan Token
	cancel context.CancelFunc
}

func (s *httpStream) run(ndjson bool) {
	defer close(s.tokens)
	defer s.body.Close()

	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if ndjson {
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			delta, done, err := parseDeltaLine(line)
			if err != nil {
				s.tokens <- Token{Err: err}
				return
			}
			if done {
				return
			}
			if delta != "" {
				s.tokens <- Token{Text: delta}
			}
		}
		if err := scanner.Err(); err != nil {
			s.tokens <- Token{Err: err}
		}
		return
	}

	var dataLines []string
	flush := func() bool {
		if len(dataLines) == 0 {
			return false
		}
		payload := strings.Join(dataLines, "\n")
		dataLines = dataLines[:0]
		delta, done, err := parseDeltaLine(payload)
		if err != nil {
			s.tokens <- Token{Err: err}
			return true
		}
		if done {
			return true
		}
		if delta != "" {
			s.tokens <- Token{Text: delta}
		}
		return false
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			if flush() {
				return
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if idx := strings.IndexByte(line, ':'); idx >= 0 && line[:idx] == "data" {
			value := strings.TrimPrefix(line[idx+1:], " ")
			dataLines = append(dataLines, value)
		}
	}
	if err := scanner.Err(); err != nil {
		s.tokens <- Token{Err: err}
	}
}

func parseDeltaLine(line string) (delta string, done bool, err error) {
	if line == "[DONE]" {
		return "", true, nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		return "", false, fmt.Errorf("decode stream frame: %w", err)
	}
	if d, ok := obj["done"].(bool); ok && d {
		return "", true, nil
	}
	if text, ok := obj["delta"].(string); ok {
		return text, false, nil
	}
	if text, ok := obj["text"].(string); ok {
		return text, false, nil
	}
	return "", false, nil
}

func (s *httpStream) Tokens() <-chan Token { return s.tokens }

func (s *httpStream) Cancel() { s.cancel() }
