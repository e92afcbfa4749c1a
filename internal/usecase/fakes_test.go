package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"revpilot/internal/domain"
	"revpilot/internal/ports"
)

type fakeAudioSource struct {
	mu      sync.Mutex
	streams []*fakeAudioStream
	err     error
	calls   int
	// block, when set, holds Open until it is closed.
	block chan struct{}
}

func (f *fakeAudioSource) Open(_ context.Context, _ ports.AudioConfig) (ports.AudioStream, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if len(f.streams) == 0 {
		return nil, errors.New("no audio stream configured")
	}
	stream := f.streams[0]
	f.streams = f.streams[1:]
	return stream, nil
}

func (f *fakeAudioSource) openCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeAudioStream blocks on Read until a chunk is fed or the stream is stopped.
type fakeAudioStream struct {
	chunks   chan []byte
	stopped  chan struct{}
	stopOnce sync.Once

	mu        sync.Mutex
	stopCalls int
}

func newFakeAudioStream() *fakeAudioStream {
	return &fakeAudioStream{chunks: make(chan []byte), stopped: make(chan struct{})}
}

func (f *fakeAudioStream) feed(chunk []byte) {
	f.chunks <- chunk
}

func (f *fakeAudioStream) Read(p []byte) (int, error) {
	select {
	case chunk := <-f.chunks:
		return copy(p, chunk), nil
	case <-f.stopped:
		return 0, io.EOF
	}
}

func (f *fakeAudioStream) Close() error { return nil }

func (f *fakeAudioStream) Stop() error {
	f.mu.Lock()
	f.stopCalls++
	f.mu.Unlock()
	f.stopOnce.Do(func() { close(f.stopped) })
	return nil
}

func (f *fakeAudioStream) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

type fakeVoiceBackend struct {
	mu             sync.Mutex
	startPayload   domain.Payload
	startErr       error
	startBlock     chan struct{}
	commandPayload domain.Payload
	commandErr     error
	startCalls     int
	commands       []ports.CommandRequest
}

func (f *fakeVoiceBackend) StartSession(ctx context.Context) (domain.Payload, error) {
	f.mu.Lock()
	f.startCalls++
	block := f.startBlock
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.startPayload, f.startErr
}

func (f *fakeVoiceBackend) SendCommand(_ context.Context, req ports.CommandRequest) (domain.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, req)
	return f.commandPayload, f.commandErr
}

func (f *fakeVoiceBackend) starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls
}

func (f *fakeVoiceBackend) snapshotCommands() []ports.CommandRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ports.CommandRequest, len(f.commands))
	copy(out, f.commands)
	return out
}

type fakeSpeaker struct {
	mu        sync.Mutex
	spoken    []string
	err       error
	block     bool
	stopCalls int
	cancel    context.CancelFunc
}

func (f *fakeSpeaker) Speak(ctx context.Context, text string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	f.mu.Lock()
	f.spoken = append(f.spoken, text)
	f.cancel = cancel
	block, err := f.block, f.err
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeSpeaker) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	if f.cancel != nil {
		f.cancel()
	}
}

func (f *fakeSpeaker) snapshotSpoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.spoken))
	copy(out, f.spoken)
	return out
}

func (f *fakeSpeaker) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

type fakeStreamer struct {
	mu       sync.Mutex
	sessions []ports.StreamingSession
	err      error
	configs  []ports.StreamingConfig
}

func (f *fakeStreamer) StartStreaming(_ context.Context, cfg ports.StreamingConfig) (ports.StreamingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs = append(f.configs, cfg)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.sessions) == 0 {
		return nil, errors.New("no stream session configured")
	}
	session := f.sessions[0]
	f.sessions = f.sessions[1:]
	return session, nil
}

type fakeStreamingSession struct {
	events     chan domain.TranscriptEvent
	waitErr    error
	closeSend  int
	closeCalls int
	closed     bool
	sent       int
	mu         sync.Mutex
}

func newFakeStreamingSession() *fakeStreamingSession {
	return &fakeStreamingSession{events: make(chan domain.TranscriptEvent, 16)}
}

func (f *fakeStreamingSession) SendAudio(_ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	return nil
}

func (f *fakeStreamingSession) CloseSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeSend++
	if !f.closed {
		close(f.events)
		f.closed = true
	}
	return nil
}

func (f *fakeStreamingSession) Events() <-chan domain.TranscriptEvent { return f.events }

func (f *fakeStreamingSession) Wait() error {
	time.Sleep(5 * time.Millisecond)
	return f.waitErr
}

func (f *fakeStreamingSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if !f.closed {
		close(f.events)
		f.closed = true
	}
	return nil
}

type fakeCopilot struct {
	mu      sync.Mutex
	payload domain.Payload
	err     error
	queries []string
	// echo answers each query with "re: <query>".
	echo bool
	// hold, when set, keeps every Ask open until it is closed.
	hold  chan struct{}
	asked chan string
}

func (f *fakeCopilot) Ask(_ context.Context, query string) (domain.Payload, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	payload, err, echo, hold, asked := f.payload, f.err, f.echo, f.hold, f.asked
	f.mu.Unlock()

	if asked != nil {
		asked <- query
	}
	if hold != nil {
		<-hold
	}
	if echo {
		return domain.Payload{"answerText": "re: " + query}, err
	}
	return payload, err
}

func (f *fakeCopilot) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type fakeProber struct {
	mu      sync.Mutex
	payload domain.Payload
	err     error
	block   bool
	calls   int
	userIDs []string
}

func (f *fakeProber) ConnectionStatus(ctx context.Context, userID string) (domain.Payload, error) {
	f.mu.Lock()
	f.calls++
	f.userIDs = append(f.userIDs, userID)
	payload, err, block := f.payload, f.err, f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return payload, err
}

func (f *fakeProber) probes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRewriter struct {
	transform string
	err       error
}

func (f *fakeRewriter) Apply(text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.transform != "" {
		return f.transform, nil
	}
	return text, nil
}

type httpStatusErr struct {
	code int
}

func (e httpStatusErr) Error() string       { return "upstream returned an error status" }
func (e httpStatusErr) HTTPStatusCode() int { return e.code }

type fakeEventSink struct {
	mu sync.Mutex

	states   []stateEvent
	results  []domain.VoiceResult
	partials []string
	errors   []errEvent
	turns    []domain.Turn
	metrics  []domain.Metrics
	gates    []domain.ConnectionGate
}

type stateEvent struct {
	state  domain.VoiceState
	reason domain.VoiceStateReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) VoiceStateChanged(state domain.VoiceState, reason domain.VoiceStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) VoiceResult(result domain.VoiceResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result)
}

func (f *fakeEventSink) PartialTranscript(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partials = append(f.partials, text)
}

func (f *fakeEventSink) VoiceError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) TurnAppended(turn domain.Turn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, turn)
}

func (f *fakeEventSink) MetricsUpdated(metrics domain.Metrics) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics = append(f.metrics, metrics)
}

func (f *fakeEventSink) GateChanged(gate domain.ConnectionGate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gates = append(f.gates, gate)
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stateEvent, len(f.states))
	copy(out, f.states)
	return out
}

func (f *fakeEventSink) snapshotResults() []domain.VoiceResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.VoiceResult, len(f.results))
	copy(out, f.results)
	return out
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}

func (f *fakeEventSink) snapshotPartials() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.partials))
	copy(out, f.partials)
	return out
}

func (f *fakeEventSink) snapshotGates() []domain.ConnectionGate {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ConnectionGate, len(f.gates))
	copy(out, f.gates)
	return out
}

func (f *fakeEventSink) lastState(t *testing.T) stateEvent {
	t.Helper()
	states := f.snapshotStates()
	if len(states) == 0 {
		t.Fatalf("expected at least one state event")
	}
	return states[len(states)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func bufferedChunks(d *CaptureDevice) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffer)
}
