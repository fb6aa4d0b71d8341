package pipeline

import "time"

// Config tunes the Pipeline Manager's queues, timeouts, and optional
// speculative-generation gate.
type Config struct {
	AudioQueueMax  int // ingress frames buffered before the oldest is dropped
	ChunkQueueMax  int // LLM-token-to-TTS-chunk queue depth; blocks on overflow
	EgressQueueMax int // TTS-chunk-to-WebSocket queue depth; blocks on overflow

	ChunkMaxChars  int // splitter forces a boundary at this length even mid-sentence
	MinCommitChars int // minimum length (bytes, after trimming surrounding whitespace) to commit a turn

	BargeInMS int // sustained speech-above-noise before a barge-in fires

	SpeculativeEnabled bool
	StableMS           int // a partial must be unchanged this long, ending on a strong boundary, to speculate

	LLMFirstTokenTimeout time.Duration
	LLMTotalTimeout      time.Duration
	TTSFirstChunkTimeout time.Duration

	SampleRate int // PCM16 mono sample rate agreed with the client
}

// DefaultConfig returns the manager's out-of-the-box tuning.
func DefaultConfig() Config {
	return Config{
		AudioQueueMax:        50,
		ChunkQueueMax:        8,
		EgressQueueMax:       64,
		ChunkMaxChars:        160,
		MinCommitChars:       2,
		BargeInMS:            150,
		SpeculativeEnabled:   true,
		StableMS:             250,
		LLMFirstTokenTimeout: 5 * time.Second,
		LLMTotalTimeout:      30 * time.Second,
		TTSFirstChunkTimeout: 2 * time.Second,
		SampleRate:           16000,
	}
}
