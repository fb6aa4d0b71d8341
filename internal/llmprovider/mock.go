package llmprovider

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockProvider echoes a canned reply split into word-sized tokens, so
// pipeline wiring can be exercised without a real model.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Generate(ctx context.Context, req Request) (Stream, error) {
	words := strings.Fields(fmt.Sprintf("I heard you say: %s", req.UserText))
	s := &mockStream{tokens: make(chan Token, len(words)+1), done: make(chan struct{})}
	go s.run(ctx, words)
	return s, nil
}

type mockStream struct {
	tokens chan Token
	done   chan struct{}
	once   sync.Once
}

func (s *mockStream) run(ctx context.Context, words []string) {
	defer close(s.tokens)
	for i, w := range words {
		select {
		case <-ctx.Done():
			s.tokens <- Token{Err: ctx.Err()}
			return
		case <-s.done:
			s.tokens <- Token{Err: context.Canceled}
			return
		default:
		}
		text := w
		if i < len(words)-1 {
			text += " "
		}
		s.tokens <- Token{Text: text}
	}
}

func (s *mockStream) Tokens() <-chan Token { return s.tokens }

func (s *mockStream) Cancel() {
	s.once.Do(func() { close(s.done) })
}
