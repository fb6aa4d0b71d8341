package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.VoiceProvider != "mock" {
		t.Fatalf("VoiceProvider = %q, want mock", cfg.VoiceProvider)
	}
	if cfg.LLMProvider != "mock" {
		t.Fatalf("LLMProvider = %q, want mock", cfg.LLMProvider)
	}
	if cfg.Turn.MinWait > cfg.Turn.MaxWait {
		t.Fatalf("default Turn.MinWait (%s) exceeds Turn.MaxWait (%s)", cfg.Turn.MinWait, cfg.Turn.MaxWait)
	}
	if cfg.LocalSTTCommand != nil {
		t.Fatalf("LocalSTTCommand = %v, want nil when unset", cfg.LocalSTTCommand)
	}
}

func TestLoadUsesExplicitOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("BIND_ADDR", ":9191")
	t.Setenv("VOICE_PROVIDER", "local")
	t.Setenv("LOCAL_STT_COMMAND", "whisper-server --model tiny")
	t.Setenv("TURN_W_BASE_S", "0.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" {
		t.Fatalf("BindAddr = %q, want :9191", cfg.BindAddr)
	}
	if cfg.VoiceProvider != "local" {
		t.Fatalf("VoiceProvider = %q, want local", cfg.VoiceProvider)
	}
	want := []string{"whisper-server", "--model", "tiny"}
	if len(cfg.LocalSTTCommand) != len(want) {
		t.Fatalf("LocalSTTCommand = %v, want %v", cfg.LocalSTTCommand, want)
	}
	for i := range want {
		if cfg.LocalSTTCommand[i] != want[i] {
			t.Fatalf("LocalSTTCommand = %v, want %v", cfg.LocalSTTCommand, want)
		}
	}
}

func TestLoadRejectsInvertedTurnWaitBounds(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("TURN_W_MIN_S", "2")
	t.Setenv("TURN_W_MAX_S", "1")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want error for TURN_W_MIN_S > TURN_W_MAX_S")
	}
}

func TestLoadRejectsOutOfRangeSmoothingFactor(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("TURN_SPEED_FACTOR", "1.5")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want error for TURN_SPEED_FACTOR > 1")
	}
}

func TestLoadRejectsUnparseableDuration(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("THERMAL_POLL_INTERVAL_S", "not-a-number")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want parse error for THERMAL_POLL_INTERVAL_S")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"BIND_ADDR",
		"METRICS_NAMESPACE",
		"ALLOW_ANY_ORIGIN",
		"WORKER_JOIN_TIMEOUT_S",
		"SHUTDOWN_TIMEOUT_S",
		"DATABASE_URL",
		"ARCHIVE_QUEUE_SIZE",
		"THERMAL_ENABLED",
		"THERMAL_TRIGGER_C",
		"THERMAL_RESUME_C",
		"THERMAL_POLL_INTERVAL_S",
		"THERMAL_SIMULATION_MODE",
		"THERMAL_SYSFS_PATH",
		"SESSION_TTL_S",
		"MAX_CONTEXT_TURNS",
		"SESSION_SWEEP_INTERVAL_S",
		"TURN_W_BASE_S",
		"TURN_W_MIN_S",
		"TURN_W_MAX_S",
		"TURN_SPEED_FACTOR",
		"AUDIO_QUEUE_MAX",
		"TTS_CHUNK_MAX_CHARS",
		"TTS_FIRST_CHUNK_TIMEOUT_S",
		"VOICE_PROVIDER",
		"LLM_PROVIDER",
		"LLM_FALLBACK_PROVIDER",
		"ELEVENLABS_API_KEY",
		"ELEVENLABS_WS_BASE_URL",
		"ELEVENLABS_STT_MODEL_ID",
		"ELEVENLABS_TTS_MODEL_ID",
		"ELEVENLABS_TTS_OUTPUT_FORMAT",
		"ELEVENLABS_TTS_VOICE_ID",
		"LOCAL_STT_COMMAND",
		"LOCAL_TTS_COMMAND",
		"LLM_HTTP_URL",
		"LLM_CLI_COMMAND",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
