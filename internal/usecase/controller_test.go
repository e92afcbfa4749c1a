package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"revpilot/internal/domain"
	"revpilot/internal/ports"
)

type controllerFixture struct {
	source  *fakeAudioSource
	backend *fakeVoiceBackend
	speaker *fakeSpeaker
	events  *fakeEventSink
}

func newTestController(f controllerFixture, preview ports.TranscriptStreamer, cfg ControllerConfig) *VoiceSessionController {
	return NewVoiceSessionController(f.source, f.backend, f.speaker, preview, f.events, zerolog.Nop(), cfg)
}

func newFixture(streams ...*fakeAudioStream) controllerFixture {
	return controllerFixture{
		source:  &fakeAudioSource{streams: streams},
		backend: &fakeVoiceBackend{startPayload: domain.Payload{"sessionId": "s1"}},
		speaker: &fakeSpeaker{},
		events:  &fakeEventSink{},
	}
}

func TestVoiceControllerDemoShortCircuitGoesReady(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.backend.startPayload = domain.Payload{"sessionId": "s1", "text": "Hello"}
	controller := newTestController(f, nil, ControllerConfig{Demo: true})

	if err := controller.Activate(context.Background()); err != nil {
		t.Fatalf("activate failed: %v", err)
	}

	status := controller.Status()
	if status.State != domain.VoiceStateReady || status.SessionID != "s1" {
		t.Fatalf("unexpected status: %+v", status)
	}
	if f.source.openCalls() != 0 {
		t.Fatalf("demo activation must not touch the device")
	}
	results := f.events.snapshotResults()
	if len(results) != 1 || results[0].Text != "Hello" || !results[0].Demo {
		t.Fatalf("unexpected voice results: %+v", results)
	}
	if results[0].Spoken {
		t.Fatalf("ready results are not spoken by the controller")
	}
}

func TestVoiceControllerReadyStopReturnsIdleWithoutIO(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.backend.startPayload = domain.Payload{"sessionId": "s1", "text": "Hello"}
	controller := newTestController(f, nil, ControllerConfig{Demo: true})

	if err := controller.Activate(context.Background()); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	if err := controller.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if got := f.events.lastState(t); got.state != domain.VoiceStateIdle || got.reason != domain.VoiceReasonDemoDismissed {
		t.Fatalf("unexpected final state: %+v", got)
	}
	if len(f.backend.snapshotCommands()) != 0 {
		t.Fatalf("ready stop must not call the backend")
	}
	if _, ok := controller.Session(); ok {
		t.Fatalf("session must be discarded")
	}
}

func TestVoiceControllerReadyAutoDismiss(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.backend.startPayload = domain.Payload{"sessionId": "s1", "text": "Hello"}
	controller := newTestController(f, nil, ControllerConfig{Demo: true, ReadyResetAfter: 10 * time.Millisecond})

	if err := controller.Activate(context.Background()); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	waitFor(t, "ready auto dismiss", func() bool {
		return controller.Status().State == domain.VoiceStateIdle
	})
	if controller.timers.pending() != 0 {
		t.Fatalf("expected no pending timers after dismiss")
	}
}

func TestVoiceControllerDemoCycleWithoutDevice(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.backend.commandPayload = domain.Payload{"transcript": "what is at risk", "responseText": "Two deals"}
	controller := newTestController(f, nil, ControllerConfig{Demo: true})

	if err := controller.Activate(context.Background()); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	if controller.Status().State != domain.VoiceStateListening {
		t.Fatalf("expected listening, got %s", controller.Status().State)
	}
	if controller.DeviceOpen() {
		t.Fatalf("demo mode must not hold a device handle")
	}

	if err := controller.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	commands := f.backend.snapshotCommands()
	if len(commands) != 1 || !commands[0].Demo || !commands[0].Audio.Empty() || commands[0].SessionID != "s1" {
		t.Fatalf("unexpected command requests: %+v", commands)
	}
	if f.source.openCalls() != 0 {
		t.Fatalf("demo mode must never open the device")
	}

	reasons := []domain.VoiceStateReason{}
	for _, state := range f.events.snapshotStates() {
		reasons = append(reasons, state.reason)
	}
	want := []domain.VoiceStateReason{
		domain.VoiceReasonListening,
		domain.VoiceReasonProcessing,
		domain.VoiceReasonSpeaking,
		domain.VoiceReasonPlaybackFinished,
	}
	if fmt.Sprint(reasons) != fmt.Sprint(want) {
		t.Fatalf("unexpected transitions: %v", reasons)
	}

	results := f.events.snapshotResults()
	if len(results) != 1 || results[0].Transcript != "what is at risk" || results[0].Text != "Two deals" || !results[0].Spoken {
		t.Fatalf("unexpected voice result: %+v", results)
	}
	if spoken := f.speaker.snapshotSpoken(); len(spoken) != 1 || spoken[0] != "Two deals" {
		t.Fatalf("unexpected speech: %v", spoken)
	}
}

func TestVoiceControllerLiveCaptureUploadsWAV(t *testing.T) {
	t.Parallel()

	stream := newFakeAudioStream()
	f := newFixture(stream)
	f.backend.commandPayload = domain.Payload{"transcript": "hello"}
	controller := newTestController(f, nil, ControllerConfig{})

	if err := controller.Activate(context.Background()); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	if !controller.DeviceOpen() {
		t.Fatalf("listening in live mode must hold the device")
	}

	stream.feed([]byte{1, 2, 3, 4})
	waitFor(t, "captured chunk", func() bool { return bufferedChunks(controller.device) == 1 })

	if err := controller.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	commands := f.backend.snapshotCommands()
	if len(commands) != 1 {
		t.Fatalf("expected one command, got %d", len(commands))
	}
	audio := commands[0].Audio
	if audio.MIMEType != "audio/wav" || len(audio.Data) != 44+4 || string(audio.Data[0:4]) != "RIFF" {
		t.Fatalf("unexpected payload: %s %d bytes", audio.MIMEType, len(audio.Data))
	}
	if controller.DeviceOpen() {
		t.Fatalf("device must be released after processing")
	}
	if stream.stops() != 1 {
		t.Fatalf("expected stream stop, got %d", stream.stops())
	}
	if got := f.events.lastState(t); got.state != domain.VoiceStateIdle || got.reason != domain.VoiceReasonNoResponseText {
		t.Fatalf("unexpected final state: %+v", got)
	}
}

func TestVoiceControllerSessionStartFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(newFakeAudioStream())
	f.backend.startErr = errors.New("backend unavailable")
	controller := newTestController(f, nil, ControllerConfig{})

	err := controller.Activate(context.Background())
	if err == nil || err.Error() != "backend unavailable" {
		t.Fatalf("expected raw start error, got %v", err)
	}

	status := controller.Status()
	if status.State != domain.VoiceStateError || status.Message != "backend unavailable" {
		t.Fatalf("unexpected status: %+v", status)
	}
	if f.source.openCalls() != 0 || controller.DeviceOpen() {
		t.Fatalf("failed session start must never open the device")
	}
	errs := f.events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeSessionStart {
		t.Fatalf("unexpected error events: %+v", errs)
	}

	controller.Acknowledge()
	status = controller.Status()
	if status.State != domain.VoiceStateIdle || status.Message != "" {
		t.Fatalf("acknowledge must clear the error: %+v", status)
	}
}

func TestVoiceControllerPermissionDenied(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.source.err = fmt.Errorf("ffmpeg exited: %w", ports.ErrPermissionDenied)
	controller := newTestController(f, nil, ControllerConfig{})

	err := controller.Activate(context.Background())
	if !errors.Is(err, ports.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}

	status := controller.Status()
	if status.State != domain.VoiceStateError || status.Message != permissionDeniedMessage {
		t.Fatalf("unexpected status: %+v", status)
	}
	if controller.DeviceOpen() {
		t.Fatalf("device handle must remain empty")
	}
	if got := f.events.lastState(t); got.reason != domain.VoiceReasonPermissionDenied {
		t.Fatalf("unexpected reason: %s", got.reason)
	}
	errs := f.events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodePermission {
		t.Fatalf("unexpected error events: %+v", errs)
	}
}

func TestVoiceControllerDisabledBlocksBeforeSideEffects(t *testing.T) {
	t.Parallel()

	f := newFixture(newFakeAudioStream())
	controller := newTestController(f, nil, ControllerConfig{})
	controller.SetDisabled(true, "GoHighLevel is not connected. First connect.")

	if err := controller.Activate(context.Background()); !errors.Is(err, ErrControllerDisabled) {
		t.Fatalf("expected ErrControllerDisabled, got %v", err)
	}
	if f.backend.starts() != 0 || f.source.openCalls() != 0 {
		t.Fatalf("disabled activation must not touch backend or device")
	}
	status := controller.Status()
	if status.State != domain.VoiceStateError || status.Message != "GoHighLevel is not connected. First connect." {
		t.Fatalf("unexpected status: %+v", status)
	}

	controller.Acknowledge()
	controller.SetDisabled(false, "")
	if err := controller.Activate(context.Background()); err != nil {
		t.Fatalf("activate after enabling failed: %v", err)
	}
	if controller.Status().State != domain.VoiceStateListening {
		t.Fatalf("expected listening after enabling")
	}
	controller.Release()
}

func TestVoiceControllerCommandFailure(t *testing.T) {
	t.Parallel()

	stream := newFakeAudioStream()
	f := newFixture(stream)
	f.backend.commandErr = errors.New("upload failed")
	controller := newTestController(f, nil, ControllerConfig{})

	if err := controller.Activate(context.Background()); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	if err := controller.Stop(context.Background()); err == nil {
		t.Fatalf("expected command error")
	}

	if controller.Status().State != domain.VoiceStateError {
		t.Fatalf("expected error state")
	}
	if controller.DeviceOpen() {
		t.Fatalf("device must be released on command failure")
	}
	if len(f.events.snapshotResults()) != 0 {
		t.Fatalf("failed command must not emit a result")
	}

	controller.Acknowledge()
	if controller.Status().State != domain.VoiceStateIdle || controller.DeviceOpen() {
		t.Fatalf("acknowledge must leave idle with no device")
	}
}

func TestVoiceControllerPlaybackFailureReturnsIdle(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.backend.commandPayload = domain.Payload{"responseText": "hi"}
	f.speaker.err = errors.New("no audio output")
	controller := newTestController(f, nil, ControllerConfig{Demo: true})

	if err := controller.Activate(context.Background()); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	if err := controller.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if got := f.events.lastState(t); got.state != domain.VoiceStateIdle || got.reason != domain.VoiceReasonPlaybackFailed {
		t.Fatalf("unexpected final state: %+v", got)
	}
}

func TestVoiceControllerInterruptDuringSpeech(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.backend.commandPayload = domain.Payload{"responseText": "a long answer"}
	f.speaker.block = true
	controller := newTestController(f, nil, ControllerConfig{Demo: true})

	if err := controller.Activate(context.Background()); err != nil {
		t.Fatalf("activate failed: %v", err)
	}

	stopErr := make(chan error, 1)
	go func() { stopErr <- controller.Stop(context.Background()) }()

	waitFor(t, "speaking", func() bool { return controller.Status().State == domain.VoiceStateSpeaking })
	controller.Interrupt()

	if err := <-stopErr; err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if got := f.events.lastState(t); got.state != domain.VoiceStateIdle || got.reason != domain.VoiceReasonBargeIn {
		t.Fatalf("unexpected final state: %+v", got)
	}
	if f.speaker.stops() == 0 {
		t.Fatalf("interrupt must stop speech")
	}
}

func TestVoiceControllerSecondActivateIgnored(t *testing.T) {
	t.Parallel()

	f := newFixture(newFakeAudioStream())
	controller := newTestController(f, nil, ControllerConfig{})

	if err := controller.Activate(context.Background()); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	if err := controller.Activate(context.Background()); err != nil {
		t.Fatalf("second activate should be a no-op, got %v", err)
	}
	if f.backend.starts() != 1 || f.source.openCalls() != 1 {
		t.Fatalf("expected single session, got %d starts", f.backend.starts())
	}
	controller.Release()
}

func TestVoiceControllerStopWithoutSession(t *testing.T) {
	t.Parallel()

	controller := newTestController(newFixture(), nil, ControllerConfig{})
	if err := controller.Stop(context.Background()); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestVoiceControllerReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	stream := newFakeAudioStream()
	f := newFixture(stream)
	controller := newTestController(f, nil, ControllerConfig{})

	if err := controller.Activate(context.Background()); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	controller.Release()
	first := controller.Status()
	statesAfterFirst := len(f.events.snapshotStates())
	controller.Release()

	if controller.Status() != first {
		t.Fatalf("second release changed status: %+v vs %+v", controller.Status(), first)
	}
	if len(f.events.snapshotStates()) != statesAfterFirst {
		t.Fatalf("second release must not emit transitions")
	}
	if first.State != domain.VoiceStateIdle || controller.DeviceOpen() {
		t.Fatalf("release must leave idle with no device: %+v", first)
	}
	if stream.stops() != 1 {
		t.Fatalf("expected exactly one stream stop, got %d", stream.stops())
	}
}

func TestVoiceControllerDiscardsStaleSessionStart(t *testing.T) {
	t.Parallel()

	f := newFixture(newFakeAudioStream())
	f.backend.startBlock = make(chan struct{})
	controller := newTestController(f, nil, ControllerConfig{})

	activateErr := make(chan error, 1)
	go func() { activateErr <- controller.Activate(context.Background()) }()

	waitFor(t, "session start call", func() bool { return f.backend.starts() == 1 })
	controller.Release()
	close(f.backend.startBlock)

	if err := <-activateErr; err != nil {
		t.Fatalf("stale activation should resolve quietly, got %v", err)
	}
	if controller.Status().State != domain.VoiceStateIdle {
		t.Fatalf("stale response must not move the controller")
	}
	if f.source.openCalls() != 0 || controller.DeviceOpen() {
		t.Fatalf("stale response must not open the device")
	}
}

func TestVoiceControllerPreviewSuppliesTranscript(t *testing.T) {
	t.Parallel()

	stream := newFakeAudioStream()
	f := newFixture(stream)
	f.backend.commandPayload = domain.Payload{"responseText": "Here you go"}
	session := newFakeStreamingSession()
	session.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "what is"}
	session.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "what is at risk"}
	streamer := &fakeStreamer{sessions: []ports.StreamingSession{session}}
	controller := newTestController(f, streamer, ControllerConfig{
		Streaming:    ports.StreamingConfig{SampleRate: 16000, Channels: 1, Encoding: "linear16"},
		PreviewGrace: 50 * time.Millisecond,
	})

	if err := controller.Activate(context.Background()); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	stream.feed([]byte{1, 2})
	waitFor(t, "captured chunk", func() bool { return bufferedChunks(controller.device) == 1 })

	if err := controller.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	results := f.events.snapshotResults()
	if len(results) != 1 || results[0].Transcript != "what is at risk" {
		t.Fatalf("expected preview transcript, got %+v", results)
	}
	if partials := f.events.snapshotPartials(); len(partials) == 0 || partials[0] != "what is" {
		t.Fatalf("expected partial transcript event, got %v", partials)
	}
	if len(streamer.configs) != 1 || streamer.configs[0].SessionID != "s1" {
		t.Fatalf("preview must be opened for the session: %+v", streamer.configs)
	}
}

func TestVoiceControllerPreviewFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(newFakeAudioStream())
	streamer := &fakeStreamer{err: errors.New("dial failed")}
	controller := newTestController(f, streamer, ControllerConfig{})

	if err := controller.Activate(context.Background()); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	if controller.Status().State != domain.VoiceStateListening {
		t.Fatalf("preview failure must not block listening")
	}
	controller.Release()
}

func TestVoiceControllerSilencedSpeechIsInterruption(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.backend.commandPayload = domain.Payload{"responseText": "a long answer"}
	f.speaker.block = true
	controller := newTestController(f, nil, ControllerConfig{Demo: true})

	o := newOrchestratorFixture()
	orchestrator := NewOrchestrator(o.copilot, nil, f.speaker, o.sink, nil, zerolog.Nop(), OrchestratorConfig{Mode: domain.ModeVoice})

	if err := controller.Activate(context.Background()); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	stopErr := make(chan error, 1)
	go func() { stopErr <- controller.Stop(context.Background()) }()

	waitFor(t, "speaking", func() bool { return controller.Status().State == domain.VoiceStateSpeaking })
	if err := orchestrator.SetMode(domain.ModeSilent); err != nil {
		t.Fatalf("set mode failed: %v", err)
	}

	if err := <-stopErr; err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if got := f.events.lastState(t); got.state != domain.VoiceStateIdle || got.reason != domain.VoiceReasonBargeIn {
		t.Fatalf("silencing speech should read as an interruption, got %+v", got)
	}
}

func TestVoiceControllerLateInitializeReleasedForReadySession(t *testing.T) {
	t.Parallel()

	stream := newFakeAudioStream()
	f := newFixture(stream)
	f.source.block = make(chan struct{})
	controller := newTestController(f, nil, ControllerConfig{})

	firstDone := make(chan error, 1)
	go func() { firstDone <- controller.Activate(context.Background()) }()
	waitFor(t, "device open requested", func() bool { return f.source.openCalls() == 1 })

	controller.Release()

	f.backend.mu.Lock()
	f.backend.startPayload = domain.Payload{"sessionId": "s2", "text": "Hello"}
	f.backend.mu.Unlock()
	if err := controller.Activate(context.Background()); err != nil {
		t.Fatalf("second activate failed: %v", err)
	}
	if controller.Status().State != domain.VoiceStateReady {
		t.Fatalf("expected ready, got %s", controller.Status().State)
	}

	close(f.source.block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first activate failed: %v", err)
	}

	status := controller.Status()
	if status.State != domain.VoiceStateReady || status.SessionID != "s2" {
		t.Fatalf("late device open must not disturb the new session: %+v", status)
	}
	if controller.DeviceOpen() {
		t.Fatalf("ready session must not hold the device")
	}
	if stream.stops() != 1 {
		t.Fatalf("expected the late handle to be stopped, got %d stops", stream.stops())
	}
}

func TestVoiceControllerDeviceOpenOnlyWhileCapturing(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		demo      bool
		demoText  string
		sourceErr error
		steps     []string
	}{
		{name: "live cycles", steps: []string{"activate", "stop", "activate", "release", "release", "activate", "activate", "stop", "stop"}},
		{name: "live release first", steps: []string{"release", "activate", "release", "stop", "activate", "stop", "release"}},
		{name: "demo listening", demo: true, steps: []string{"activate", "stop", "activate", "release", "activate", "stop"}},
		{name: "demo ready", demo: true, demoText: "Hello", steps: []string{"activate", "stop", "activate", "release", "release"}},
		{
			name:      "permission denied",
			sourceErr: fmt.Errorf("open: %w", ports.ErrPermissionDenied),
			steps:     []string{"activate", "acknowledge", "activate", "release", "activate", "stop", "acknowledge"},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var streams []*fakeAudioStream
			for range tc.steps {
				streams = append(streams, newFakeAudioStream())
			}
			f := newFixture(streams...)
			f.source.err = tc.sourceErr
			f.backend.commandPayload = domain.Payload{"transcript": "hi"}
			if tc.demoText != "" {
				f.backend.startPayload = domain.Payload{"sessionId": "s1", "text": tc.demoText}
			}
			controller := newTestController(f, nil, ControllerConfig{Demo: tc.demo})

			for i, step := range tc.steps {
				switch step {
				case "activate":
					_ = controller.Activate(context.Background())
				case "stop":
					_ = controller.Stop(context.Background())
				case "release":
					controller.Release()
				case "acknowledge":
					controller.Acknowledge()
				}

				state := controller.Status().State
				capturing := state == domain.VoiceStateListening || state == domain.VoiceStateProcessing
				if want := capturing && !tc.demo; controller.DeviceOpen() != want {
					t.Fatalf("step %d (%s): state %s, device open %v", i, step, state, controller.DeviceOpen())
				}
			}
			controller.Release()
		})
	}
}
