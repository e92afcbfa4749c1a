package domain

import "time"

// VoiceState models the voice session lifecycle.
type VoiceState string

const (
	VoiceStateIdle       VoiceState = "idle"
	VoiceStateReady      VoiceState = "ready"
	VoiceStateListening  VoiceState = "listening"
	VoiceStateProcessing VoiceState = "processing"
	VoiceStateSpeaking   VoiceState = "speaking"
	VoiceStateError      VoiceState = "error"
)

// VoiceStateReason provides a structured reason for state transitions.
type VoiceStateReason string

const (
	VoiceReasonMicCold          VoiceStateReason = "mic_cold"
	VoiceReasonDemoReady        VoiceStateReason = "demo_ready"
	VoiceReasonDemoDismissed    VoiceStateReason = "demo_dismissed"
	VoiceReasonListening        VoiceStateReason = "listening"
	VoiceReasonProcessing       VoiceStateReason = "processing"
	VoiceReasonSpeaking         VoiceStateReason = "speaking"
	VoiceReasonNoResponseText   VoiceStateReason = "no_response_text"
	VoiceReasonPlaybackFinished VoiceStateReason = "playback_finished"
	VoiceReasonPlaybackFailed   VoiceStateReason = "playback_failed"
	VoiceReasonBargeIn          VoiceStateReason = "barge_in"
	VoiceReasonDisabled         VoiceStateReason = "disabled"
	VoiceReasonSessionFailed    VoiceStateReason = "session_failed"
	VoiceReasonPermissionDenied VoiceStateReason = "permission_denied"
	VoiceReasonDeviceFailed     VoiceStateReason = "device_failed"
	VoiceReasonCommandFailed    VoiceStateReason = "command_failed"
	VoiceReasonAcknowledged     VoiceStateReason = "acknowledged"
	VoiceReasonReleased         VoiceStateReason = "released"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup      ErrorCode = "startup"
	ErrorCodeDisabled     ErrorCode = "disabled"
	ErrorCodeSessionStart ErrorCode = "session_start"
	ErrorCodePermission   ErrorCode = "permission"
	ErrorCodeDevice       ErrorCode = "device"
	ErrorCodeCommand      ErrorCode = "command"
	ErrorCodePreview      ErrorCode = "preview"
	ErrorCodeConversation ErrorCode = "conversation"
	ErrorCodeClipboard    ErrorCode = "clipboard"
)

// Session is a backend-issued voice interaction token spanning one listen/process cycle.
type Session struct {
	ID        string     `json:"id"`
	State     VoiceState `json:"state"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Status summarizes the current voice runtime status.
type Status struct {
	State     VoiceState `json:"state"`
	Active    bool       `json:"active"`
	Demo      bool       `json:"demo"`
	SessionID string     `json:"sessionId,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// VoiceResult is emitted upward once a voice session produces text.
type VoiceResult struct {
	SessionID  string `json:"sessionId,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Text       string `json:"text,omitempty"`
	Demo       bool   `json:"demo"`
	// Spoken is set when the controller vocalizes Text itself.
	Spoken bool `json:"spoken"`
}

// TranscriptKind identifies whether a stream event is partial or final text.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent represents incremental transcription output from the preview stream.
type TranscriptEvent struct {
	Kind TranscriptKind `json:"kind"`
	Text string         `json:"text"`
}

// AudioPayload is the finalized capture buffer handed to the command endpoint.
type AudioPayload struct {
	Data       []byte `json:"-"`
	MIMEType   string `json:"mimeType"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// Empty reports whether the payload carries no audio.
func (p AudioPayload) Empty() bool {
	return len(p.Data) == 0
}

// SpeechAudio references synthesized speech, either by URL or inline bytes.
type SpeechAudio struct {
	URL      string
	Data     []byte
	MIMEType string
}

// Payload is a decoded JSON object returned by the backend before normalization.
type Payload map[string]any
