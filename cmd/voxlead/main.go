package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/voxlead/voxlead/pkg/config"
	"github.com/voxlead/voxlead/pkg/dialog"
	"github.com/voxlead/voxlead/pkg/lead"
	"github.com/voxlead/voxlead/pkg/logging"
	"github.com/voxlead/voxlead/pkg/metrics"
	"github.com/voxlead/voxlead/pkg/redact"
	"github.com/voxlead/voxlead/pkg/runner"
	"github.com/voxlead/voxlead/pkg/synth"
	"github.com/voxlead/voxlead/pkg/telephony"
	"github.com/voxlead/voxlead/pkg/transcribe"
)

type sttSettings struct {
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	Language string `mapstructure:"language"`
}

type llmSettings struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type elevenlabsSettings struct {
	APIKey  string `mapstructure:"api_key"`
	VoiceID string `mapstructure:"voice_id"`
	ModelID string `mapstructure:"model_id"`
}

type openAISpeechSettings struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
	Voice  string `mapstructure:"voice"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML configuration")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	deps, err := buildDeps(cfg)
	if err != nil {
		slog.Error("bootstrap_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if cfg.Metrics.Path != "" {
		f, err := os.OpenFile(cfg.Metrics.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			slog.Error("metrics_open_failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer f.Close()
		observer := metrics.NewAsyncObserver(metrics.NewJSONLObserver(f), 256)
		defer observer.Close()
		deps.Metrics = observer
	}

	tcfg := cfg.Telephony
	tcfg.BusinessName = config.StringValue(tcfg.BusinessName, cfg.Lead.BusinessName)
	tcfg.BusinessID = config.StringValue(tcfg.BusinessID, cfg.Lead.BusinessID)
	server := telephony.NewServer(tcfg, deps)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	r := runner.New(server, runner.Hooks{
		OnStop: func() { slog.Info("shutdown_complete") },
	}, 10*time.Second)
	if err := r.Run(ctx); err != nil {
		slog.Error("runner_exit", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func buildDeps(cfg config.Config) (telephony.Deps, error) {
	primary, err := buildSynthProvider("vendors.synthesis.primary", cfg.Vendors.Synthesis.Primary)
	if err != nil {
		return telephony.Deps{}, err
	}
	var fallback synth.Provider
	if strings.TrimSpace(cfg.Vendors.Synthesis.Fallback.Provider) != "" {
		fallback, err = buildSynthProvider("vendors.synthesis.fallback", cfg.Vendors.Synthesis.Fallback)
		if err != nil {
			return telephony.Deps{}, err
		}
	}

	llmClient, err := buildLLM(cfg.Vendors.LLM)
	if err != nil {
		return telephony.Deps{}, err
	}

	bridgeFactory, err := buildBridgeFactory(cfg.Vendors.STT)
	if err != nil {
		return telephony.Deps{}, err
	}

	return telephony.Deps{
		Synth:     synth.NewOrchestrator(primary, fallback),
		Dialog:    llmClient,
		Leads:     lead.NewDispatcher(cfg.Lead.WebhookURL, time.Duration(cfg.Lead.TimeoutMS)*time.Millisecond),
		NewBridge: bridgeFactory,
	}, nil
}

func buildSynthProvider(path string, vc config.VendorConfig) (synth.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(vc.Provider)) {
	case "elevenlabs":
		var settings elevenlabsSettings
		if err := config.DecodeSettings(vc.Settings, &settings); err != nil {
			return nil, fmt.Errorf("%s.settings: %w", path, err)
		}
		if err := config.RequireString(settings.APIKey, path+".settings.api_key"); err != nil {
			return nil, err
		}
		if err := config.RequireString(settings.VoiceID, path+".settings.voice_id"); err != nil {
			return nil, err
		}
		return synth.NewElevenLabs(settings.APIKey, settings.VoiceID, settings.ModelID), nil
	case "openai":
		var settings openAISpeechSettings
		if err := config.DecodeSettings(vc.Settings, &settings); err != nil {
			return nil, fmt.Errorf("%s.settings: %w", path, err)
		}
		if err := config.RequireString(settings.APIKey, path+".settings.api_key"); err != nil {
			return nil, err
		}
		return synth.NewOpenAISpeech(settings.APIKey, settings.Model, settings.Voice), nil
	default:
		return nil, fmt.Errorf("%s.provider: unknown provider %q", path, vc.Provider)
	}
}

func buildLLM(vc config.VendorConfig) (*dialog.Client, error) {
	if strings.ToLower(strings.TrimSpace(vc.Provider)) != "openai" {
		return nil, fmt.Errorf("vendors.llm.provider: unknown provider %q", vc.Provider)
	}
	var settings llmSettings
	if err := config.DecodeSettings(vc.Settings, &settings); err != nil {
		return nil, fmt.Errorf("vendors.llm.settings: %w", err)
	}
	if err := config.RequireString(settings.APIKey, "vendors.llm.settings.api_key"); err != nil {
		return nil, err
	}
	client := dialog.NewClient(settings.APIKey, settings.Model)
	if settings.BaseURL != "" {
		client.BaseURL = settings.BaseURL
	}
	return client, nil
}

// buildBridgeFactory returns a nil factory when transcription is not
// configured; sessions then run without a bridge instead of failing.
func buildBridgeFactory(vc config.VendorConfig) (telephony.BridgeFactory, error) {
	if strings.TrimSpace(vc.Provider) == "" {
		return nil, nil
	}
	if strings.ToLower(strings.TrimSpace(vc.Provider)) != "deepgram" {
		return nil, fmt.Errorf("vendors.stt.provider: unknown provider %q", vc.Provider)
	}
	var settings sttSettings
	if err := config.DecodeSettings(vc.Settings, &settings); err != nil {
		return nil, fmt.Errorf("vendors.stt.settings: %w", err)
	}
	if err := config.RequireString(settings.APIKey, "vendors.stt.settings.api_key"); err != nil {
		return nil, err
	}
	return func(sessionID, streamSID string) (transcribe.Bridge, error) {
		return transcribe.NewDeepgram(transcribe.Config{
			APIKey:    settings.APIKey,
			Model:     settings.Model,
			Language:  settings.Language,
			SessionID: sessionID,
			StreamSID: streamSID,
		}), nil
	}, nil
}
