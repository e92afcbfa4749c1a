package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"revpilot/internal/bootstrap"
	"revpilot/internal/config"
	"revpilot/internal/domain"
	"revpilot/internal/ports"
	"revpilot/internal/usecase"
)

const (
	eventVoice       = "revpilot:voice"
	eventVoiceResult = "revpilot:voice-result"
	eventPartial     = "revpilot:partial"
	eventError       = "revpilot:error"
	eventTurn        = "revpilot:turn"
	eventMetrics     = "revpilot:metrics"
	eventGate        = "revpilot:gate"
)

var errNoAnswer = errors.New("there is no answer to copy yet")

type emitFunc func(ctx context.Context, event string, data ...interface{})

// App is the Wails application root.
type App struct {
	ctx context.Context

	build     func(ports.EventSink) (bootstrap.Services, error)
	emit      emitFunc
	clipboard ports.Clipboard

	controller   *usecase.VoiceSessionController
	orchestrator *usecase.Orchestrator
	gate         *usecase.GateEvaluator
	speech       usecase.Speaker
	cfg          config.Config
	log          zerolog.Logger
	bootErr      error
}

func NewApp() *App {
	return &App{
		build:     bootstrap.Build,
		emit:      runtime.EventsEmit,
		clipboard: &wailsClipboard{},
		log:       zerolog.Nop(),
	}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := a.build(a)
	if err != nil {
		a.bootErr = err
		a.VoiceError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.cfg = services.Config
	a.log = services.Logger.With().Str("component", "app").Logger()
	a.controller = services.Controller
	a.orchestrator = services.Orchestrator
	a.gate = services.Gate
	a.speech = services.Speech

	if a.cfg.Copilot.RequireCRM {
		a.controller.SetDisabled(true, usecase.DisconnectedMessage)
	}
	a.VoiceStateChanged(domain.VoiceStateIdle, domain.VoiceReasonMicCold)

	go func() {
		if err := a.orchestrator.Bootstrap(ctx); err != nil {
			a.log.Warn().Err(err).Msg("auto query failed")
		}
	}()
}

func (a *App) shutdown(context.Context) {
	if a.controller != nil {
		a.controller.Release()
	}
	if a.speech != nil {
		a.speech.Stop()
	}
}

// ActivateVoice starts a voice session.
func (a *App) ActivateVoice() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Activate(a.ctx); err != nil {
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

// StopVoice ends listening (or dismisses the demo greeting) and waits for the reply to finish.
func (a *App) StopVoice() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Stop(a.ctx); err != nil && !errors.Is(err, usecase.ErrNoActiveSession) {
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

// InterruptVoice cuts off spoken playback.
func (a *App) InterruptVoice() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.controller.Interrupt()
	return nil
}

// AcknowledgeVoice clears a voice error.
func (a *App) AcknowledgeVoice() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.controller.Acknowledge()
	return nil
}

// Ask submits a typed question. Gate and backend failures come back as the
// assistant turn rather than an error.
func (a *App) Ask(query string) (domain.Turn, error) {
	if err := a.requireReady(); err != nil {
		return domain.Turn{}, err
	}
	result, err := a.orchestrator.SubmitTurn(a.ctx, query, domain.OriginText)
	if err != nil && result.Assistant.ID == "" {
		return domain.Turn{}, err
	}
	return result.Assistant, nil
}

// SetMode switches between silent, hybrid and voice.
func (a *App) SetMode(mode string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.orchestrator.SetMode(domain.ConversationMode(mode))
}

// RefreshGate re-probes the CRM connection.
func (a *App) RefreshGate() (domain.ConnectionGate, error) {
	if err := a.requireReady(); err != nil {
		return domain.GateUnknown, err
	}
	return a.gate.Check(a.ctx), nil
}

// ReconnectCRM drops the cached connection state and probes again.
func (a *App) ReconnectCRM() (domain.ConnectionGate, error) {
	if err := a.requireReady(); err != nil {
		return domain.GateUnknown, err
	}
	a.gate.Invalidate()
	return a.gate.Check(a.ctx), nil
}

// GetStatus returns the current voice status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.VoiceStateError, Active: false, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.VoiceStateIdle, Active: false}
	}
	return a.controller.Status()
}

// GetConversation returns the conversation so far.
func (a *App) GetConversation() ([]domain.Turn, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return a.orchestrator.Conversation(), nil
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	info := map[string]string{
		"apiUrl":            a.cfg.API.BaseURL,
		"userId":            a.cfg.API.UserID,
		"demo":              strconv.FormatBool(a.cfg.Voice.Demo),
		"transcriptPreview": strconv.FormatBool(a.cfg.Voice.TranscriptPreview),
		"requireCrm":        strconv.FormatBool(a.cfg.Copilot.RequireCRM),
		"vocabularyFile":    a.cfg.Vocabulary.Path,
		"audioInput":        a.cfg.Audio.InputDevice,
		"audioInputFormat":  a.cfg.Audio.InputFormat,
	}
	if a.orchestrator != nil {
		info["mode"] = string(a.orchestrator.Mode())
	}
	if a.gate != nil {
		info["gate"] = string(a.gate.Current())
	}
	return info
}

// CopyLastAnswer puts the latest assistant answer on the clipboard.
func (a *App) CopyLastAnswer() (string, error) {
	if err := a.requireReady(); err != nil {
		return "", err
	}
	turn, ok := a.orchestrator.LastAnswer()
	if !ok {
		return "", errNoAnswer
	}
	if err := a.clipboard.SetText(a.ctx, turn.Text); err != nil {
		a.VoiceError(domain.ErrorCodeClipboard, err.Error())
		return "", err
	}
	return turn.Text, nil
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil || a.orchestrator == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// VoiceStateChanged emits voice lifecycle updates to the frontend.
func (a *App) VoiceStateChanged(state domain.VoiceState, reason domain.VoiceStateReason) {
	a.send(eventVoice, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": voiceReasonMessage(reason),
	})
}

// VoiceResult emits the session output and runs it through the conversation.
// It is called under the controller lock, so the turn runs on its own goroutine.
func (a *App) VoiceResult(result domain.VoiceResult) {
	a.send(eventVoiceResult, result)
	if a.orchestrator == nil {
		return
	}
	go a.submitVoiceResult(result)
}

func (a *App) submitVoiceResult(result domain.VoiceResult) {
	if _, err := a.orchestrator.SubmitVoiceResult(a.ctx, result); err != nil {
		code, _ := usecase.ErrorCodeOf(err)
		a.log.Debug().Err(err).Str("code", string(code)).Msg("voice turn did not complete")
	}
}

// PartialTranscript emits live partial transcript text.
func (a *App) PartialTranscript(text string) {
	a.send(eventPartial, map[string]string{"text": text})
}

// VoiceError emits voice and startup errors to the UI.
func (a *App) VoiceError(code domain.ErrorCode, detail string) {
	a.send(eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

// TurnAppended emits a new conversation turn.
func (a *App) TurnAppended(turn domain.Turn) {
	a.send(eventTurn, turn)
}

// MetricsUpdated emits the latest metrics snapshot.
func (a *App) MetricsUpdated(metrics domain.Metrics) {
	a.send(eventMetrics, metrics)
}

// GateChanged emits the CRM gate and, when the CRM is required, blocks voice
// until it is connected.
func (a *App) GateChanged(gate domain.ConnectionGate) {
	if a.controller != nil && a.cfg.Copilot.RequireCRM {
		a.controller.SetDisabled(gate != domain.GateConnected, usecase.DisconnectedMessage)
	}
	a.send(eventGate, map[string]string{"gate": string(gate)})
}

func (a *App) send(event string, data interface{}) {
	if a.ctx == nil || a.emit == nil {
		return
	}
	a.emit(a.ctx, event, data)
}

func voiceReasonMessage(reason domain.VoiceStateReason) string {
	switch reason {
	case domain.VoiceReasonMicCold:
		return "Mic cold"
	case domain.VoiceReasonDemoReady:
		return "Demo response ready"
	case domain.VoiceReasonDemoDismissed:
		return "Demo response dismissed"
	case domain.VoiceReasonListening:
		return "Listening..."
	case domain.VoiceReasonProcessing:
		return "Processing..."
	case domain.VoiceReasonSpeaking:
		return "Speaking..."
	case domain.VoiceReasonNoResponseText:
		return "No response text returned"
	case domain.VoiceReasonPlaybackFinished:
		return "Playback finished"
	case domain.VoiceReasonPlaybackFailed:
		return "Playback failed"
	case domain.VoiceReasonBargeIn:
		return "Playback interrupted"
	case domain.VoiceReasonDisabled:
		return "Voice disabled"
	case domain.VoiceReasonSessionFailed:
		return "Could not start a voice session"
	case domain.VoiceReasonPermissionDenied:
		return "Microphone access denied"
	case domain.VoiceReasonDeviceFailed:
		return "Microphone unavailable"
	case domain.VoiceReasonCommandFailed:
		return "Voice command failed"
	case domain.VoiceReasonAcknowledged:
		return "Ready"
	case domain.VoiceReasonReleased:
		return "Voice released"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeDisabled:
		return "Voice disabled"
	case domain.ErrorCodeSessionStart:
		return "Voice session error"
	case domain.ErrorCodePermission:
		return "Microphone permission denied"
	case domain.ErrorCodeDevice:
		return "Microphone error"
	case domain.ErrorCodeCommand:
		return "Voice command error"
	case domain.ErrorCodePreview:
		return "Live transcript unavailable"
	case domain.ErrorCodeConversation:
		return "Copilot error"
	case domain.ErrorCodeClipboard:
		return "Clipboard write failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

type wailsClipboard struct{}

func (c *wailsClipboard) SetText(ctx context.Context, text string) error {
	return runtime.ClipboardSetText(ctx, text)
}
