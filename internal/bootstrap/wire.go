package bootstrap

import (
	"github.com/rs/zerolog"

	"revpilot/internal/audio"
	"revpilot/internal/backend"
	"revpilot/internal/config"
	"revpilot/internal/domain"
	"revpilot/internal/logging"
	"revpilot/internal/ports"
	"revpilot/internal/usecase"
	"revpilot/internal/vocab"
)

const streamEncoding = "linear16"

// Services is the assembled runtime graph.
type Services struct {
	Config       config.Config
	Logger       zerolog.Logger
	Speech       *usecase.SpeechOutput
	Gate         *usecase.GateEvaluator
	Orchestrator *usecase.Orchestrator
	Controller   *usecase.VoiceSessionController
}

// Build loads configuration and wires every dependency for the current runtime.
func Build(eventSink ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return BuildWith(cfg, logging.New(cfg.Log), eventSink)
}

// BuildWith wires the graph from an already loaded configuration.
func BuildWith(cfg config.Config, logger zerolog.Logger, eventSink ports.EventSink) (Services, error) {
	client, err := backend.NewClient(backend.Config{
		BaseURL:      cfg.API.BaseURL,
		APIKey:       cfg.API.APIKey,
		Timeout:      cfg.API.RequestTimeout,
		SpeechVoice:  cfg.Voice.SpeechVoice,
		SpeechFormat: cfg.Voice.SpeechFormat,
	})
	if err != nil {
		return Services{}, err
	}

	rewriter, err := vocab.Load(cfg.Vocabulary.Path)
	if err != nil {
		return Services{}, err
	}

	var preview ports.TranscriptStreamer
	if cfg.Voice.TranscriptPreview && !cfg.Voice.Demo {
		preview = backend.NewTranscriptStream(client)
	}

	speech := usecase.NewSpeechOutput(client, audio.NewFFplayPlayer(cfg.Audio.PlayerCommand))
	gate := usecase.NewGateEvaluator(client, cfg.API.UserID, cfg.Copilot.GateTimeout, eventSink, logger)

	orchestrator := usecase.NewOrchestrator(
		client,
		gate,
		speech,
		eventSink,
		rewriter,
		logger,
		usecase.OrchestratorConfig{
			EnforceGate: cfg.Copilot.RequireCRM,
			Mode:        domain.ConversationMode(cfg.Copilot.Mode),
			AutoQuery:   cfg.Copilot.AutoQuery,
		},
	)

	controller := usecase.NewVoiceSessionController(
		audio.NewFFmpegSource(cfg.Audio.RecorderCommand),
		client,
		speech,
		preview,
		eventSink,
		logger,
		usecase.ControllerConfig{
			Demo: cfg.Voice.Demo,
			Capture: usecase.CaptureConfig{
				Audio: ports.AudioConfig{
					SampleRate:  cfg.Audio.SampleRate,
					Channels:    cfg.Audio.Channels,
					InputFormat: cfg.Audio.InputFormat,
					InputDevice: cfg.Audio.InputDevice,
				},
				ChunkSize: cfg.Audio.ChunkSize,
			},
			Streaming: ports.StreamingConfig{
				SampleRate: cfg.Audio.SampleRate,
				Channels:   cfg.Audio.Channels,
				Encoding:   streamEncoding,
			},
			PreviewGrace:    cfg.Voice.PreviewGrace,
			ReadyResetAfter: cfg.Voice.ReadyResetAfter,
		},
	)

	logger.Info().
		Bool("demo", cfg.Voice.Demo).
		Bool("preview", preview != nil).
		Bool("requireCrm", cfg.Copilot.RequireCRM).
		Str("mode", cfg.Copilot.Mode).
		Int("vocabularyRules", rewriter.Len()).
		Msg("runtime wired")

	return Services{
		Config:       cfg,
		Logger:       logger,
		Speech:       speech,
		Gate:         gate,
		Orchestrator: orchestrator,
		Controller:   controller,
	}, nil
}
