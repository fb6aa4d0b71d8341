package llmprovider

import (
	"context"
	"errors"
	"testing"
)

// fakeProvider returns a pre-built stream, or fails to start if start is set.
type fakeProvider struct {
	stream Stream
	start  error
}

func (f *fakeProvider) Generate(ctx context.Context, req Request) (Stream, error) {
	if f.start != nil {
		return nil, f.start
	}
	return f.stream, nil
}

// fakeStream replays a fixed list of tokens.
type fakeStream struct {
	toks      []Token
	cancelled bool
}

func (s *fakeStream) Tokens() <-chan Token {
	ch := make(chan Token, len(s.toks))
	for _, t := range s.toks {
		ch <- t
	}
	close(ch)
	return ch
}

func (s *fakeStream) Cancel() { s.cancelled = true }

func TestFallbackProviderUsesPrimaryWhenItSucceeds(t *testing.T) {
	primary := &fakeProvider{stream: &fakeStream{toks: []Token{{Text: "hi"}}}}
	fallback := &fakeProvider{stream: &fakeStream{toks: []Token{{Text: "should not be used"}}}}
	p := NewFallbackProvider(primary, fallback)

	stream, err := p.Generate(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Generate() err = %v", err)
	}
	got, err := drainTokens(t, stream)
	if err != nil {
		t.Fatalf("drain err = %v", err)
	}
	if got != "hi" {
		t.Fatalf("got = %q, want %q", got, "hi")
	}
}

func TestFallbackProviderSwitchesOnErrorBeforeAnyToken(t *testing.T) {
	primary := &fakeProvider{stream: &fakeStream{toks: []Token{{Err: errors.New("primary exploded")}}}}
	fallback := &fakeProvider{stream: &fakeStream{toks: []Token{{Text: "fallback reply"}}}}
	p := NewFallbackProvider(primary, fallback)

	stream, err := p.Generate(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Generate() err = %v", err)
	}
	got, err := drainTokens(t, stream)
	if err != nil {
		t.Fatalf("drain err = %v, want nil (fallback should have served the request)", err)
	}
	if got != "fallback reply" {
		t.Fatalf("got = %q, want %q", got, "fallback reply")
	}
}

func TestFallbackProviderDoesNotSwitchAfterTokensFlowed(t *testing.T) {
	primary := &fakeProvider{stream: &fakeStream{toks: []Token{
		{Text: "partial "},
		{Err: errors.New("dropped mid-stream")},
	}}}
	fallback := &fakeProvider{stream: &fakeStream{toks: []Token{{Text: "should not be used"}}}}
	p := NewFallbackProvider(primary, fallback)

	stream, err := p.Generate(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Generate() err = %v", err)
	}
	got, err := drainTokens(t, stream)
	if err == nil {
		t.Fatalf("drain err = nil, want the mid-stream error to surface")
	}
	if got != "partial " {
		t.Fatalf("got = %q, want %q", got, "partial ")
	}
}

func TestFallbackProviderSurfacesStartErrorWhenNoFallbackConfigured(t *testing.T) {
	primary := &fakeProvider{start: errors.New("primary unavailable")}
	p := NewFallbackProvider(primary, nil)

	_, err := p.Generate(context.Background(), Request{})
	if err == nil {
		t.Fatalf("Generate() err = nil, want primary start error")
	}
}

func TestFallbackProviderUsesFallbackWhenPrimaryFailsToStart(t *testing.T) {
	primary := &fakeProvider{start: errors.New("primary unavailable")}
	fallback := &fakeProvider{stream: &fakeStream{toks: []Token{{Text: "fallback reply"}}}}
	p := NewFallbackProvider(primary, fallback)

	stream, err := p.Generate(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Generate() err = %v", err)
	}
	got, err := drainTokens(t, stream)
	if err != nil {
		t.Fatalf("drain err = %v", err)
	}
	if got != "fallback reply" {
		t.Fatalf("got = %q, want %q", got, "fallback reply")
	}
}
