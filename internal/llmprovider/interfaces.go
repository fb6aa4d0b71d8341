// Package llmprovider defines the streaming LLM boundary the Pipeline
// Manager drives, plus an HTTP/SSE backend, a local CLI-subprocess backend,
// and a fallback wrapper that fails over between them.
package llmprovider

import "context"

// Turn is one prior exchange supplied as conversation context.
type Turn struct {
	Role string // "user" or "assistant"
	Text string
}

// Request is the normalized generation request for one turn.
type Request struct {
	SessionID string
	TurnID    string
	UserText  string
	Context   []Turn
}

// Token is one streamed fragment. A non-nil Err is always the last value
// sent before the stream closes; a stream that ends normally closes without
// ever sending an Err.
type Token struct {
	Text string
	Err  error
}

// Stream is an in-progress generation. Cancel stops it promptly (the spec
// requires ≤500ms typical) and may be called any number of times.
type Stream interface {
	Tokens() <-chan Token
	Cancel()
}

// Provider starts new generations.
type Provider interface {
	Generate(ctx context.Context, req Request) (Stream, error)
}
