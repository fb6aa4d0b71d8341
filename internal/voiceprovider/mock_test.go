package voiceprovider

import (
	"context"
	"testing"
	"time"
)

func TestMockProviderSTTEmitsPartialOnAudio(t *testing.T) {
	p := NewMockProvider()
	sess, events, err := p.StartSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if err := sess.SendAudioChunk(context.Background(), []byte{1, 2, 3}, 16000); err != nil {
		t.Fatalf("SendAudioChunk() error = %v", err)
	}

	select {
	case ev := <-events:
		if ev.Type != STTEventPartial {
			t.Fatalf("event type = %v, want %v", ev.Type, STTEventPartial)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for STT event")
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestMockProviderSTTEmptyChunkNoEvent(t *testing.T) {
	p := NewMockProvider()
	sess, events, _ := p.StartSession(context.Background(), "sess-1")
	if err := sess.SendAudioChunk(context.Background(), nil, 16000); err != nil {
		t.Fatalf("SendAudioChunk() error = %v", err)
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected event for empty chunk: %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
	sess.Close()
}

func TestMockProviderTTSEmitsAudioThenFinal(t *testing.T) {
	p := NewMockProvider()
	stream, err := p.StartStream(context.Background(), "voice-1", TTSSettings{})
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}
	if err := stream.SendText(context.Background(), "hello"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if err := stream.CloseInput(context.Background()); err != nil {
		t.Fatalf("CloseInput() error = %v", err)
	}

	first := <-stream.Events()
	if first.Type != TTSEventAudio {
		t.Fatalf("first event type = %v, want %v", first.Type, TTSEventAudio)
	}
	second := <-stream.Events()
	if second.Type != TTSEventFinal {
		t.Fatalf("second event type = %v, want %v", second.Type, TTSEventFinal)
	}
	stream.Close()
}

func TestSimulatedProbeUnsetByDefault(t *testing.T) {
	p := NewSimulatedProbe()
	if _, ok := p.Read(); ok {
		t.Fatalf("Read() ok = true before Set, want false")
	}
}

func TestSimulatedProbeSetAndUnset(t *testing.T) {
	p := NewSimulatedProbe()
	p.Set(72.5)
	temp, ok := p.Read()
	if !ok || temp != 72.5 {
		t.Fatalf("Read() = (%v, %v), want (72.5, true)", temp, ok)
	}
	p.Unset()
	if _, ok := p.Read(); ok {
		t.Fatalf("Read() ok = true after Unset, want false")
	}
}

func TestSysfsProbeMissingFile(t *testing.T) {
	p := NewSysfsProbe("/nonexistent/path/to/temp")
	if _, ok := p.Read(); ok {
		t.Fatalf("Read() ok = true for missing file, want false")
	}
}
