package ports

import (
	"context"
	"errors"
	"io"

	"revpilot/internal/domain"
)

// ErrPermissionDenied is returned (wrapped) by an AudioSource when the platform refuses microphone access.
var ErrPermissionDenied = errors.New("microphone access denied")

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioStream is an open microphone handle producing PCM.
type AudioStream interface {
	io.ReadCloser
	Stop() error
}

// AudioSource opens microphone handles.
type AudioSource interface {
	Open(ctx context.Context, cfg AudioConfig) (AudioStream, error)
}

// CommandRequest is the body of a voice command exchange.
type CommandRequest struct {
	SessionID string
	Audio     domain.AudioPayload
	Demo      bool
}

// VoiceBackend issues voice session lifecycle calls.
type VoiceBackend interface {
	StartSession(ctx context.Context) (domain.Payload, error)
	SendCommand(ctx context.Context, req CommandRequest) (domain.Payload, error)
}

// CopilotBackend answers text queries.
type CopilotBackend interface {
	Ask(ctx context.Context, query string) (domain.Payload, error)
}

// StatusProber checks the external CRM connection.
type StatusProber interface {
	ConnectionStatus(ctx context.Context, userID string) (domain.Payload, error)
}

// SpeechSynthesizer turns text into playable audio.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) (domain.SpeechAudio, error)
}

// AudioPlayer plays synthesized speech, blocking until playback ends.
// Cancelling ctx stops playback.
type AudioPlayer interface {
	Play(ctx context.Context, audio domain.SpeechAudio) error
}

// StreamingConfig describes the live transcript preview stream.
type StreamingConfig struct {
	SessionID  string
	SampleRate int
	Channels   int
	Encoding   string
}

// StreamingSession is an active transcript preview stream.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// TranscriptStreamer starts live transcript preview streams.
type TranscriptStreamer interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// TranscriptRewriter normalizes spoken vocabulary in transcripts.
type TranscriptRewriter interface {
	Apply(text string) (string, error)
}

// Clipboard writes text into the system clipboard.
type Clipboard interface {
	SetText(ctx context.Context, text string) error
}

// VoiceEventSink emits voice session state/events to the UI.
type VoiceEventSink interface {
	VoiceStateChanged(state domain.VoiceState, reason domain.VoiceStateReason)
	VoiceResult(result domain.VoiceResult)
	PartialTranscript(text string)
	VoiceError(code domain.ErrorCode, detail string)
}

// ConversationSink emits conversation updates to the UI.
type ConversationSink interface {
	TurnAppended(turn domain.Turn)
	MetricsUpdated(metrics domain.Metrics)
	GateChanged(gate domain.ConnectionGate)
}

// EventSink is everything the application root renders.
type EventSink interface {
	VoiceEventSink
	ConversationSink
}
