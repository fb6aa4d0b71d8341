package llmprovider

import (
	"context"
	"strings"
	"testing"
	"time"
)

func drainTokens(t *testing.T, stream Stream) (string, error) {
	t.Helper()
	var sb strings.Builder
	for tok := range stream.Tokens() {
		if tok.Err != nil {
			return sb.String(), tok.Err
		}
		sb.WriteString(tok.Text)
	}
	return sb.String(), nil
}

func TestMockProviderEchoesUserText(t *testing.T) {
	p := NewMockProvider()
	stream, err := p.Generate(context.Background(), Request{UserText: "hello there"})
	if err != nil {
		t.Fatalf("Generate() err = %v, want nil", err)
	}
	got, err := drainTokens(t, stream)
	if err != nil {
		t.Fatalf("drain err = %v, want nil", err)
	}
	want := "I heard you say: hello there"
	if got != want {
		t.Fatalf("got = %q, want %q", got, want)
	}
}

func TestMockProviderCancelStopsStream(t *testing.T) {
	p := NewMockProvider()
	stream, err := p.Generate(context.Background(), Request{UserText: "one two three four five six seven eight nine ten"})
	if err != nil {
		t.Fatalf("Generate() err = %v", err)
	}
	stream.Cancel()

	timeout := time.After(time.Second)
	sawErr := false
	for {
		select {
		case tok, ok := <-stream.Tokens():
			if !ok {
				if !sawErr {
					t.Fatalf("stream closed without ever surfacing cancellation error")
				}
				return
			}
			if tok.Err != nil {
				sawErr = true
			}
		case <-timeout:
			t.Fatalf("timed out waiting for stream to close after Cancel")
		}
	}
}

func TestMockProviderContextCancelStopsStream(t *testing.T) {
	p := NewMockProvider()
	ctx, cancel := context.WithCancel(context.Background())
	stream, err := p.Generate(ctx, Request{UserText: "one two three four five six seven eight nine ten"})
	if err != nil {
		t.Fatalf("Generate() err = %v", err)
	}
	cancel()

	timeout := time.After(time.Second)
	for {
		select {
		case _, ok := <-stream.Tokens():
			if !ok {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for stream to close after context cancel")
		}
	}
}
