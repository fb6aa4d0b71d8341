package llmprovider

import (
	"context"
	"errors"
	"fmt"
)

// FallbackProvider tries a primary provider first and falls back to a
// secondary one if the primary fails to start or errors before producing
// any token.
type FallbackProvider struct {
	primary  Provider
	fallback Provider
}

func NewFallbackProvider(primary, fallback Provider) *FallbackProvider {
	return &FallbackProvider{primary: primary, fallback: fallback}
}

func (p *FallbackProvider) Generate(ctx context.Context, req Request) (Stream, error) {
	stream, err := p.primary.Generate(ctx, req)
	if err == nil {
		return &firstTokenFallbackStream{ctx: ctx, req: req, primary: stream, fallback: p.fallback}, nil
	}
	if p.fallback == nil {
		return nil, err
	}
	return p.fallback.Generate(ctx, req)
}

// firstTokenFallbackStream forwards the primary's tokens until either it
// produces real output (then it's committed to) or it fails before any
// token arrives, at which point the secondary provider is started instead.
type firstTokenFallbackStream struct {
	ctx      context.Context
	req      Request
	primary  Stream
	fallback Provider

	active Stream
	out    chan Token
}

func (s *firstTokenFallbackStream) Tokens() <-chan Token {
	if s.out != nil {
		return s.out
	}
	s.out = make(chan Token, 64)
	go s.run()
	return s.out
}

func (s *firstTokenFallbackStream) run() {
	defer close(s.out)
	sawToken := false
	for tok := range s.primary.Tokens() {
		if tok.Err != nil {
			if sawToken || s.fallback == nil {
				s.out <- tok
				return
			}
			if errors.Is(tok.Err, context.Canceled) || errors.Is(tok.Err, context.DeadlineExceeded) {
				s.out <- tok
				return
			}
			fb, ferr := s.fallback.Generate(s.ctx, s.req)
			if ferr != nil {
				s.out <- Token{Err: fmt.Errorf("primary failed: %w; fallback failed: %v", tok.Err, ferr)}
				return
			}
			s.active = fb
			for fbTok := range fb.Tokens() {
				s.out <- fbTok
			}
			return
		}
		sawToken = true
		s.out <- tok
	}
}

func (s *firstTokenFallbackStream) Cancel() {
	s.primary.Cancel()
	if s.active != nil {
		s.active.Cancel()
	}
}
