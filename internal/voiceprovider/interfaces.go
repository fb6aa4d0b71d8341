// Package voiceprovider defines the STT/TTS/temperature-probe boundaries the
// Pipeline Manager drives, plus a mock, a realtime and a local backend for
// STT/TTS, and a sysfs and a simulated temperature probe.
package voiceprovider

import "context"

// STTEventType discriminates an incremental transcript event.
type STTEventType string

const (
	STTEventPartial   STTEventType = "partial"
	STTEventCommitted STTEventType = "committed"
	STTEventError     STTEventType = "error"
)

// STTEvent is one revision or terminal event from an STT session.
type STTEvent struct {
	Type       STTEventType
	Text       string
	Revision   int
	Confidence float64
	Code       string
	Detail     string
	Retryable  bool
	TimestampMs int64
}

// STTSession feeds PCM audio to an in-progress recognition session. Safe for
// concurrent SendAudioChunk calls from a single ingress worker; Close may be
// called from any goroutine to cancel and release resources.
type STTSession interface {
	SendAudioChunk(ctx context.Context, pcm16 []byte, sampleRate int) error
	Close() error
}

// STTProvider starts new recognition sessions. Implementations must be
// restartable: a dead session never corrupts subsequent StartSession calls.
type STTProvider interface {
	StartSession(ctx context.Context, sessionID string) (STTSession, <-chan STTEvent, error)
}

// TTSEventType discriminates a synthesis event.
type TTSEventType string

const (
	TTSEventAudio TTSEventType = "audio"
	TTSEventFinal TTSEventType = "final"
	TTSEventError TTSEventType = "error"
)

// TTSEvent is one audio chunk or terminal event from a synthesis stream.
type TTSEvent struct {
	Type      TTSEventType
	Audio     []byte
	Format    string
	Code      string
	Detail    string
	Retryable bool
}

// TTSSettings tunes voice characteristics; zero values mean "provider
// default".
type TTSSettings struct {
	Stability       float64
	SimilarityBoost float64
	Speed           float64
}

// TTSStream accepts sentence-sized text chunks and emits audio as it's
// produced. CloseInput signals no more text is coming without discarding
// buffered audio; Close tears the stream down immediately (used on
// barge-in).
type TTSStream interface {
	SendText(ctx context.Context, textChunk string) error
	CloseInput(ctx context.Context) error
	Events() <-chan TTSEvent
	Close() error
}

// TTSProvider starts new synthesis streams.
type TTSProvider interface {
	StartStream(ctx context.Context, voiceID string, settings TTSSettings) (TTSStream, error)
}

// TemperatureProbe reads a degrees-Celsius sample. ok is false when the
// platform has no usable sensor; implementations must not block longer than
// half the configured poll interval.
type TemperatureProbe interface {
	Read() (tempC float64, ok bool)
}

// TemperatureProbeFunc adapts a plain function to TemperatureProbe.
type TemperatureProbeFunc func() (float64, bool)

func (f TemperatureProbeFunc) Read() (float64, bool) { return f() }
