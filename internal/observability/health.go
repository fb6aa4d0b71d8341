package observability

import "time"

// ThermalSnapshot mirrors §6.4's thermal health readout.
type ThermalSnapshot struct {
	Enabled          bool    `json:"enabled"`
	Supported        bool    `json:"supported"`
	CurrentC         float64 `json:"current_c"`
	ProtectionActive bool    `json:"protection_active"`
	TriggerCount     int     `json:"trigger_count"`
	MaxObservedC     float64 `json:"max_observed_c"`
}

// SessionsSnapshot mirrors §6.4's session health readout.
type SessionsSnapshot struct {
	Active        int `json:"active"`
	Disconnected  int `json:"disconnected"`
	TotalCreated  int `json:"total_created"`
	TotalExpired  int `json:"total_expired"`
}

// PipelineSnapshot mirrors §6.4's per-process aggregated pipeline readout.
type PipelineSnapshot struct {
	TurnsTotal         int64 `json:"turns_total"`
	TTFAP50MS          float64 `json:"ttfa_p50_ms"`
	TTFAP95MS          float64 `json:"ttfa_p95_ms"`
	Interruptions      int64 `json:"interruptions"`
	STTRestarts        int64 `json:"stt_restarts"`
	LLMErrors          int64 `json:"llm_errors"`
	TTSErrors          int64 `json:"tts_errors"`
	AudioFramesDropped int64 `json:"audio_frames_dropped"`
}

// WorkerSnapshot mirrors §6.4's per-worker readout.
type WorkerSnapshot struct {
	Name          string    `json:"name"`
	Alive         bool      `json:"alive"`
	LastStartedAt time.Time `json:"last_started_at"`
}

// HealthSnapshot is the full structure a host process can serialize to JSON
// for a health endpoint.
type HealthSnapshot struct {
	Thermal  ThermalSnapshot  `json:"thermal"`
	Sessions SessionsSnapshot `json:"sessions"`
	Pipeline PipelineSnapshot `json:"pipeline"`
	Workers  []WorkerSnapshot `json:"workers"`
}
