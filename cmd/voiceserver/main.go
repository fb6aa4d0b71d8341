package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/antoniostano/voiceserver/internal/archive"
	"github.com/antoniostano/voiceserver/internal/config"
	"github.com/antoniostano/voiceserver/internal/llmprovider"
	"github.com/antoniostano/voiceserver/internal/observability"
	"github.com/antoniostano/voiceserver/internal/session"
	"github.com/antoniostano/voiceserver/internal/thermal"
	"github.com/antoniostano/voiceserver/internal/voiceprovider"
	"github.com/antoniostano/voiceserver/internal/worker"
	"github.com/antoniostano/voiceserver/internal/wsapi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	archiveStore, err := archive.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("archive store init failed: %v", err)
	}
	archiver := archive.NewArchiver(archiveStore, cfg.ArchiveQueueSize)
	archiver.Start()

	sttProvider, ttsProvider := buildVoiceProvider(cfg)
	llmProvider := buildLLMProvider(cfg)

	store := session.NewStore(cfg.Session)

	group := worker.NewGroup()

	var thermalCtrl *thermal.Controller
	if cfg.Thermal.Enabled {
		probe := buildThermalProbe(cfg)
		thermalCtrl = thermal.New(cfg.Thermal, probe)
		thermalCtrl.OnChange(func(s thermal.State) {
			metrics.ThermalCurrentC.Set(s.CurrentTempC)
			if s.ProtectionActive {
				metrics.ThermalProtectionActive.Set(1)
				metrics.ThermalTriggerCount.Inc()
			} else {
				metrics.ThermalProtectionActive.Set(0)
			}
		})
		thermalCtrl.Start()
	}

	sweep := worker.New("session-sweep")
	sweep.Start(func(shouldStop func() bool) {
		ticker := time.NewTicker(cfg.SessionSweepInterval)
		defer ticker.Stop()
		for !shouldStop() {
			<-ticker.C
			if shouldStop() {
				return
			}
			removed := store.Sweep()
			if removed > 0 {
				metrics.SessionsExpiredTotal.Add(float64(removed))
				metrics.SessionEvents.WithLabelValues("expired").Inc()
			}
			active, disconnected := store.CountByState()
			metrics.ActiveSessions.Set(float64(active))
			metrics.DisconnectedSessions.Set(float64(disconnected))
		}
	})
	group.Add(sweep)

	healthWorkers := append([]*worker.Handle(nil), group.Handles()...)
	healthWorkers = append(healthWorkers, archiver.Handle())
	if thermalCtrl != nil {
		healthWorkers = append(healthWorkers, thermalCtrl.Handle())
	}

	server := wsapi.New(cfg, store, sttProvider, ttsProvider, llmProvider, thermalCtrl, archiver, healthWorkers, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("voiceserver listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	if thermalCtrl != nil {
		thermalCtrl.Stop()
	}
	if timedOut := group.StopAll(cfg.WorkerJoinTimeout); len(timedOut) > 0 {
		log.Printf("workers did not stop within %s: %v", cfg.WorkerJoinTimeout, timedOut)
	}
	if thermalCtrl != nil && !thermalCtrl.Join(cfg.WorkerJoinTimeout) {
		log.Printf("thermal controller did not stop within %s", cfg.WorkerJoinTimeout)
	}
	archiver.Stop()
	if err := archiver.Join(cfg.WorkerJoinTimeout); err != nil {
		log.Printf("archiver did not stop cleanly: %v", err)
	}

	log.Printf("shutdown complete")
}

func buildVoiceProvider(cfg config.Config) (voiceprovider.STTProvider, voiceprovider.TTSProvider) {
	switch strings.ToLower(strings.TrimSpace(cfg.VoiceProvider)) {
	case "realtime":
		p := voiceprovider.NewRealtimeProvider(voiceprovider.RealtimeConfig{
			APIKey:       cfg.ElevenLabsAPIKey,
			WSBaseURL:    cfg.ElevenLabsWSBaseURL,
			STTModelID:   cfg.ElevenLabsSTTModel,
			TTSModelID:   cfg.ElevenLabsTTSModel,
			OutputFormat: cfg.ElevenLabsOutputFmt,
		})
		log.Printf("voice provider: realtime")
		return p, p
	case "local":
		p := voiceprovider.NewLocalProvider(voiceprovider.LocalConfig{
			STTCommand: cfg.LocalSTTCommand,
			TTSCommand: cfg.LocalTTSCommand,
		})
		log.Printf("voice provider: local")
		return p, p
	case "mock", "":
		p := voiceprovider.NewMockProvider()
		log.Printf("voice provider: mock")
		return p, p
	default:
		log.Fatalf("invalid VOICE_PROVIDER: %q (expected mock|realtime|local)", cfg.VoiceProvider)
		return nil, nil
	}
}

func buildLLMProvider(cfg config.Config) llmprovider.Provider {
	primary := resolveLLMProvider(cfg.LLMProvider, cfg)
	if strings.TrimSpace(cfg.LLMFallbackProvider) == "" {
		return primary
	}
	fallback := resolveLLMProvider(cfg.LLMFallbackProvider, cfg)
	log.Printf("llm provider: %s with fallback %s", cfg.LLMProvider, cfg.LLMFallbackProvider)
	return llmprovider.NewFallbackProvider(primary, fallback)
}

func resolveLLMProvider(kind string, cfg config.Config) llmprovider.Provider {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "http":
		return llmprovider.NewHTTPProvider(llmprovider.HTTPConfig{URL: cfg.LLMHTTPURL, Timeout: cfg.LLMHTTPTimeout})
	case "cli":
		return llmprovider.NewCLIProvider(llmprovider.CLIConfig{Command: cfg.LLMCLICommand})
	case "mock", "":
		return llmprovider.NewMockProvider()
	default:
		log.Fatalf("invalid LLM provider kind: %q (expected mock|http|cli)", kind)
		return nil
	}
}

func buildThermalProbe(cfg config.Config) thermal.Probe {
	if cfg.ThermalSimulationMode {
		sim := voiceprovider.NewSimulatedProbe()
		log.Printf("thermal probe: simulated")
		return sim.Read
	}
	probe := voiceprovider.NewSysfsProbe(cfg.SysfsThermalPath)
	log.Printf("thermal probe: sysfs (%s)", cfg.SysfsThermalPath)
	return probe.Read
}
