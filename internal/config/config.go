// Package config loads the voice server's runtime settings from the
// environment, applying the same safe-default-then-override shape the rest
// of the process uses for its own Config types.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/antoniostano/voiceserver/internal/pipeline"
	"github.com/antoniostano/voiceserver/internal/session"
	"github.com/antoniostano/voiceserver/internal/thermal"
	"github.com/antoniostano/voiceserver/internal/turndetector"
)

// Config bundles every sub-Config plus the bits of process wiring (bind
// address, provider selection, worker join timeout) that don't belong to any
// one package.
type Config struct {
	BindAddr             string
	MetricsNamespace     string
	AllowAnyOrigin       bool
	WorkerJoinTimeout    time.Duration
	SessionSweepInterval time.Duration
	ShutdownTimeout      time.Duration

	DatabaseURL      string
	ArchiveQueueSize int

	Thermal  thermal.Config
	Session  session.Config
	Turn     turndetector.Config
	Pipeline pipeline.Config

	ThermalSimulationMode bool

	VoiceProvider string // "mock" | "realtime" | "local"
	LLMProvider   string // "mock" | "http" | "cli"

	ElevenLabsAPIKey     string
	ElevenLabsWSBaseURL  string
	ElevenLabsSTTModel   string
	ElevenLabsTTSModel   string
	ElevenLabsOutputFmt  string
	ElevenLabsTTSVoiceID string

	LocalSTTCommand []string
	LocalTTSCommand []string
	SysfsThermalPath string

	LLMHTTPURL     string
	LLMHTTPTimeout time.Duration
	LLMCLICommand  []string

	LLMFallbackProvider string // secondary provider kind, "" disables failover
}

// Load reads environment variables and applies the defaults each sub-package
// already exposes via its own DefaultConfig, then validates the combination.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("BIND_ADDR", ":8080"),
		MetricsNamespace:  envOrDefault("METRICS_NAMESPACE", "voiceserver"),
		WorkerJoinTimeout: 5 * time.Second,
		ShutdownTimeout:   10 * time.Second,

		DatabaseURL:      trimmed("DATABASE_URL"),
		ArchiveQueueSize: 256,

		Thermal:  thermal.DefaultConfig(),
		Session:  session.DefaultConfig(),
		Turn:     turndetector.DefaultConfig(),
		Pipeline: pipeline.DefaultConfig(),

		VoiceProvider: envOrDefault("VOICE_PROVIDER", "mock"),
		LLMProvider:   envOrDefault("LLM_PROVIDER", "mock"),

		ElevenLabsWSBaseURL:  envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		ElevenLabsSTTModel:   envOrDefault("ELEVENLABS_STT_MODEL_ID", "scribe_v2_realtime"),
		ElevenLabsTTSModel:   envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_multilingual_v2"),
		ElevenLabsOutputFmt:  envOrDefault("ELEVENLABS_TTS_OUTPUT_FORMAT", "pcm_16000"),
		ElevenLabsTTSVoiceID: envOrDefault("ELEVENLABS_TTS_VOICE_ID", "cgSgspJ2msm6clMCkdW9"),
		ElevenLabsAPIKey:     trimmed("ELEVENLABS_API_KEY"),

		LocalSTTCommand:  fieldsOrNil("LOCAL_STT_COMMAND"),
		LocalTTSCommand:  fieldsOrNil("LOCAL_TTS_COMMAND"),
		SysfsThermalPath: trimmed("THERMAL_SYSFS_PATH"),

		LLMHTTPURL:     trimmed("LLM_HTTP_URL"),
		LLMHTTPTimeout: 30 * time.Second,
		LLMCLICommand:  fieldsOrNil("LLM_CLI_COMMAND"),

		LLMFallbackProvider: envOrDefault("LLM_FALLBACK_PROVIDER", ""),
	}

	var err error

	cfg.AllowAnyOrigin, err = boolFromEnv("ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.WorkerJoinTimeout, err = durationFromEnv("WORKER_JOIN_TIMEOUT_S", cfg.WorkerJoinTimeout, secondsUnit)
	if err != nil {
		return Config{}, err
	}
	cfg.ShutdownTimeout, err = durationFromEnv("SHUTDOWN_TIMEOUT_S", cfg.ShutdownTimeout, secondsUnit)
	if err != nil {
		return Config{}, err
	}
	cfg.ArchiveQueueSize, err = intFromEnv("ARCHIVE_QUEUE_SIZE", cfg.ArchiveQueueSize)
	if err != nil {
		return Config{}, err
	}

	cfg.Thermal.Enabled, err = boolFromEnv("THERMAL_ENABLED", cfg.Thermal.Enabled)
	if err != nil {
		return Config{}, err
	}
	cfg.Thermal.TriggerC, err = floatFromEnv("THERMAL_TRIGGER_C", cfg.Thermal.TriggerC)
	if err != nil {
		return Config{}, err
	}
	cfg.Thermal.ResumeC, err = floatFromEnv("THERMAL_RESUME_C", cfg.Thermal.ResumeC)
	if err != nil {
		return Config{}, err
	}
	cfg.Thermal.PollInterval, err = durationFromEnv("THERMAL_POLL_INTERVAL_S", cfg.Thermal.PollInterval, secondsUnit)
	if err != nil {
		return Config{}, err
	}
	cfg.ThermalSimulationMode, err = boolFromEnv("THERMAL_SIMULATION_MODE", false)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Thermal.Validate(); err != nil {
		return Config{}, err
	}

	sessionTTL, err := durationFromEnv("SESSION_TTL_S", cfg.Session.TTL, secondsUnit)
	if err != nil {
		return Config{}, err
	}
	cfg.Session.TTL = sessionTTL
	cfg.Session.MaxContextTurns, err = intFromEnv("MAX_CONTEXT_TURNS", cfg.Session.MaxContextTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionSweepInterval, err = durationFromEnv("SESSION_SWEEP_INTERVAL_S", 30*time.Second, secondsUnit)
	if err != nil {
		return Config{}, err
	}

	cfg.Turn.BaseWait, err = durationFromEnv("TURN_W_BASE_S", cfg.Turn.BaseWait, secondsUnit)
	if err != nil {
		return Config{}, err
	}
	cfg.Turn.MinWait, err = durationFromEnv("TURN_W_MIN_S", cfg.Turn.MinWait, secondsUnit)
	if err != nil {
		return Config{}, err
	}
	cfg.Turn.MaxWait, err = durationFromEnv("TURN_W_MAX_S", cfg.Turn.MaxWait, secondsUnit)
	if err != nil {
		return Config{}, err
	}
	cfg.Turn.SmoothingFactor, err = floatFromEnv("TURN_SPEED_FACTOR", cfg.Turn.SmoothingFactor)
	if err != nil {
		return Config{}, err
	}

	cfg.Pipeline.AudioQueueMax, err = intFromEnv("AUDIO_QUEUE_MAX", cfg.Pipeline.AudioQueueMax)
	if err != nil {
		return Config{}, err
	}
	cfg.Pipeline.ChunkMaxChars, err = intFromEnv("TTS_CHUNK_MAX_CHARS", cfg.Pipeline.ChunkMaxChars)
	if err != nil {
		return Config{}, err
	}
	cfg.Pipeline.TTSFirstChunkTimeout, err = durationFromEnv("TTS_FIRST_CHUNK_TIMEOUT_S", cfg.Pipeline.TTSFirstChunkTimeout, secondsUnit)
	if err != nil {
		return Config{}, err
	}

	if cfg.Turn.MinWait > cfg.Turn.MaxWait {
		return Config{}, fmt.Errorf("config: TURN_W_MIN_S (%s) must not exceed TURN_W_MAX_S (%s)", cfg.Turn.MinWait, cfg.Turn.MaxWait)
	}
	if cfg.Turn.SmoothingFactor <= 0 || cfg.Turn.SmoothingFactor > 1 {
		return Config{}, fmt.Errorf("config: TURN_SPEED_FACTOR (%v) must be in (0, 1]", cfg.Turn.SmoothingFactor)
	}

	return cfg, nil
}

const secondsUnit = time.Second

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// fieldsOrNil splits a whitespace-separated command line into argv, for the
// subprocess-backed local providers. Empty when unset, so a zero Config
// leaves those providers unconfigured rather than pointing at argv{""}.
func fieldsOrNil(key string) []string {
	v := trimmed(key)
	if v == "" {
		return nil
	}
	return strings.Fields(v)
}

func durationFromEnv(key string, fallback time.Duration, unit time.Duration) (time.Duration, error) {
	v := trimmed(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return time.Duration(f * float64(unit)), nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimmed(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
