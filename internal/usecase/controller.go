package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"revpilot/internal/domain"
	"revpilot/internal/ports"
)

const (
	defaultDisabledMessage  = "Voice is disabled until GoHighLevel is connected."
	permissionDeniedMessage = "Microphone access denied. Allow microphone access in your system settings and try again."
	defaultPreviewGrace     = 500 * time.Millisecond
)

// ControllerConfig controls voice session behavior. It is fixed at construction.
type ControllerConfig struct {
	// Demo never touches the microphone; the backend still receives requests.
	Demo            bool
	Capture         CaptureConfig
	Streaming       ports.StreamingConfig
	PreviewGrace    time.Duration
	ReadyResetAfter time.Duration
}

// VoiceSessionController is the voice state machine:
// idle -> ready (demo) | listening -> processing -> speaking -> idle, with
// error reachable from every state and acknowledged back to idle.
//
// Event sinks are called with the controller lock held and must not call back
// into the controller synchronously.
type VoiceSessionController struct {
	backend ports.VoiceBackend
	device  *CaptureDevice
	speech  Speaker
	preview ports.TranscriptStreamer
	events  ports.VoiceEventSink
	log     zerolog.Logger
	cfg     ControllerConfig
	timers  *scheduler
	now     func() time.Time

	mu             sync.Mutex
	state          domain.VoiceState
	message        string
	current        *activeSession
	disabled       bool
	disabledReason string
}

// NewVoiceSessionController builds a controller. preview may be nil.
func NewVoiceSessionController(
	source ports.AudioSource,
	backend ports.VoiceBackend,
	speech Speaker,
	preview ports.TranscriptStreamer,
	events ports.VoiceEventSink,
	logger zerolog.Logger,
	cfg ControllerConfig,
) *VoiceSessionController {
	cfg.Capture.Demo = cfg.Demo
	if cfg.PreviewGrace <= 0 {
		cfg.PreviewGrace = defaultPreviewGrace
	}
	logger = logger.With().Str("component", "voice").Bool("demo", cfg.Demo).Logger()
	return &VoiceSessionController{
		backend: backend,
		device:  NewCaptureDevice(source, cfg.Capture, logger),
		speech:  speech,
		preview: preview,
		events:  events,
		log:     logger,
		cfg:     cfg,
		timers:  newScheduler(),
		now:     time.Now,
		state:   domain.VoiceStateIdle,
	}
}

// Activate opens a backend session and, unless the backend answered right
// away, starts listening. A call while a session is live is ignored.
func (c *VoiceSessionController) Activate(ctx context.Context) error {
	c.mu.Lock()
	if c.disabled {
		c.failLocked(domain.ErrorCodeDisabled, domain.VoiceReasonDisabled, c.disabledReason)
		c.mu.Unlock()
		return ErrControllerDisabled
	}
	if c.state != domain.VoiceStateIdle || c.current != nil {
		c.mu.Unlock()
		return nil
	}
	active := newActiveSession(ctx, c.now())
	c.current = active
	c.mu.Unlock()

	// The session must exist before the microphone is requested.
	payload, err := c.backend.StartSession(ctx)

	c.mu.Lock()
	if c.current != active {
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		c.failLocked(domain.ErrorCodeSessionStart, domain.VoiceReasonSessionFailed, err.Error())
		c.mu.Unlock()
		return err
	}

	start := normalizeSessionStart(payload)
	active.id = start.ID
	if start.DemoText != "" {
		c.enterReadyLocked(active, start.DemoText)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.device.Initialize(ctx); err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.current != active {
			return nil
		}
		if errors.Is(err, ports.ErrPermissionDenied) {
			c.failLocked(domain.ErrorCodePermission, domain.VoiceReasonPermissionDenied, permissionDeniedMessage)
		} else {
			c.failLocked(domain.ErrorCodeDevice, domain.VoiceReasonDeviceFailed, err.Error())
		}
		return err
	}

	c.mu.Lock()
	if c.current != active {
		// A newer session only owns the handle once it is listening.
		if c.state != domain.VoiceStateListening && c.state != domain.VoiceStateProcessing {
			c.device.Release()
		}
		c.mu.Unlock()
		return nil
	}
	if err := c.device.Start(); err != nil {
		c.failLocked(domain.ErrorCodeDevice, domain.VoiceReasonDeviceFailed, err.Error())
		c.mu.Unlock()
		return err
	}
	c.message = ""
	c.setStateLocked(domain.VoiceStateListening, domain.VoiceReasonListening)
	c.mu.Unlock()

	c.attachPreview(active)
	return nil
}

// Stop ends listening and exchanges the captured audio for a response, which
// is spoken before returning. In the demo ready state it simply returns to idle.
func (c *VoiceSessionController) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.disabled {
		c.failLocked(domain.ErrorCodeDisabled, domain.VoiceReasonDisabled, c.disabledReason)
		c.mu.Unlock()
		return ErrControllerDisabled
	}

	active := c.current
	switch c.state {
	case domain.VoiceStateReady:
		c.endSessionLocked()
		c.message = ""
		c.setStateLocked(domain.VoiceStateIdle, domain.VoiceReasonDemoDismissed)
		c.mu.Unlock()
		return nil
	case domain.VoiceStateListening:
	default:
		c.mu.Unlock()
		return ErrNoActiveSession
	}

	c.setStateLocked(domain.VoiceStateProcessing, domain.VoiceReasonProcessing)
	audio, err := c.device.Stop()
	if err != nil {
		c.failLocked(domain.ErrorCodeDevice, domain.VoiceReasonDeviceFailed, err.Error())
		c.mu.Unlock()
		return err
	}
	preview := active.preview
	active.preview = nil
	c.mu.Unlock()

	previewTranscript := ""
	if preview != nil {
		previewTranscript = preview.Finish(c.cfg.PreviewGrace)
	}

	payload, err := c.backend.SendCommand(ctx, ports.CommandRequest{
		SessionID: active.id,
		Audio:     audio,
		Demo:      c.cfg.Demo,
	})

	c.mu.Lock()
	if c.current != active || c.state != domain.VoiceStateProcessing {
		c.mu.Unlock()
		return nil
	}
	c.device.Release()
	if err != nil {
		c.failLocked(domain.ErrorCodeCommand, domain.VoiceReasonCommandFailed, err.Error())
		c.mu.Unlock()
		return err
	}

	command := normalizeCommandResult(payload)
	result := domain.VoiceResult{
		SessionID:  active.id,
		Transcript: command.Transcript,
		Text:       command.ResponseText,
		Demo:       c.cfg.Demo,
	}
	if result.Transcript == "" {
		result.Transcript = previewTranscript
	}
	result.Spoken = result.Text != ""
	c.events.VoiceResult(result)

	if result.Text == "" {
		c.endSessionLocked()
		c.setStateLocked(domain.VoiceStateIdle, domain.VoiceReasonNoResponseText)
		c.mu.Unlock()
		return nil
	}

	speakCtx, cancel := context.WithCancel(active.ctx)
	active.speechCancel = cancel
	c.setStateLocked(domain.VoiceStateSpeaking, domain.VoiceReasonSpeaking)
	c.mu.Unlock()

	speakErr := c.speech.Speak(speakCtx, result.Text)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != active || c.state != domain.VoiceStateSpeaking {
		return nil
	}
	reason := domain.VoiceReasonPlaybackFinished
	switch {
	case errors.Is(speakErr, context.Canceled):
		// Speech was silenced from outside, e.g. the conversation went silent.
		reason = domain.VoiceReasonBargeIn
	case speakErr != nil:
		reason = domain.VoiceReasonPlaybackFailed
		c.log.Warn().Err(speakErr).Str("session", active.id).Msg("speech playback failed")
	}
	c.endSessionLocked()
	c.setStateLocked(domain.VoiceStateIdle, reason)
	return nil
}

// Interrupt cancels playback and returns to idle immediately (barge-in).
func (c *VoiceSessionController) Interrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != domain.VoiceStateSpeaking {
		return
	}
	c.endSessionLocked()
	c.speech.Stop()
	c.setStateLocked(domain.VoiceStateIdle, domain.VoiceReasonBargeIn)
}

// Acknowledge clears the error and returns to idle.
func (c *VoiceSessionController) Acknowledge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != domain.VoiceStateError {
		return
	}
	c.device.Release()
	c.message = ""
	c.setStateLocked(domain.VoiceStateIdle, domain.VoiceReasonAcknowledged)
}

// Release tears everything down from any state. Repeated calls are no-ops.
// Responses still in flight are discarded when they arrive.
func (c *VoiceSessionController) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.endSessionLocked()
	c.device.Release()
	c.speech.Stop()
	c.message = ""
	if c.state != domain.VoiceStateIdle {
		c.setStateLocked(domain.VoiceStateIdle, domain.VoiceReasonReleased)
	}
}

// SetDisabled blocks (or unblocks) Activate and Stop. reason is surfaced as the error message.
func (c *VoiceSessionController) SetDisabled(disabled bool, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.disabled = disabled
	c.disabledReason = reason
	if c.disabledReason == "" {
		c.disabledReason = defaultDisabledMessage
	}
}

// Status returns the current voice status.
func (c *VoiceSessionController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := domain.Status{
		State:   c.state,
		Active:  c.current != nil,
		Demo:    c.cfg.Demo,
		Message: c.message,
	}
	if c.current != nil {
		status.SessionID = c.current.id
	}
	return status
}

// Session returns the live session, if any.
func (c *VoiceSessionController) Session() (domain.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return domain.Session{}, false
	}
	return domain.Session{ID: c.current.id, State: c.state, CreatedAt: c.current.createdAt}, true
}

// DeviceOpen reports whether the microphone handle is held.
func (c *VoiceSessionController) DeviceOpen() bool {
	return c.device.Open()
}

func (c *VoiceSessionController) enterReadyLocked(active *activeSession, text string) {
	c.message = text
	c.setStateLocked(domain.VoiceStateReady, domain.VoiceReasonDemoReady)
	c.events.VoiceResult(domain.VoiceResult{SessionID: active.id, Text: text, Demo: true})

	if c.cfg.ReadyResetAfter > 0 {
		c.timers.after(c.cfg.ReadyResetAfter, func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.current != active || c.state != domain.VoiceStateReady {
				return
			}
			c.endSessionLocked()
			c.message = ""
			c.setStateLocked(domain.VoiceStateIdle, domain.VoiceReasonDemoDismissed)
		})
	}
}

func (c *VoiceSessionController) attachPreview(active *activeSession) {
	if c.preview == nil || c.cfg.Demo {
		return
	}

	cfg := c.cfg.Streaming
	cfg.SessionID = active.id
	stream, err := c.preview.StartStreaming(active.ctx, cfg)
	if err != nil {
		c.log.Warn().Err(err).Str("session", active.id).Msg("transcript preview unavailable")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != active || c.state != domain.VoiceStateListening {
		_ = stream.Close()
		return
	}
	preview := startPreview(stream, c.events, c.log)
	active.preview = preview
	c.device.SetTee(preview.Send)
}

func (c *VoiceSessionController) failLocked(code domain.ErrorCode, reason domain.VoiceStateReason, message string) {
	c.endSessionLocked()
	c.device.Release()
	c.message = message
	c.events.VoiceError(code, message)
	c.setStateLocked(domain.VoiceStateError, reason)
}

func (c *VoiceSessionController) endSessionLocked() {
	c.timers.cancelAll()
	active := c.current
	c.current = nil
	if active != nil {
		active.close()
	}
}

func (c *VoiceSessionController) setStateLocked(state domain.VoiceState, reason domain.VoiceStateReason) {
	c.state = state
	c.events.VoiceStateChanged(state, reason)
}
