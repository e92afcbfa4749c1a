package main

import (
	"fmt"
	"io"
	"sync"

	"revpilot/internal/domain"
)

// terminalSink prints runtime events as plain lines and keeps voice results
// for the command to submit once the session settles.
type terminalSink struct {
	mu      sync.Mutex
	out     io.Writer
	results []domain.VoiceResult
}

func newTerminalSink(out io.Writer) *terminalSink {
	return &terminalSink{out: out}
}

func (s *terminalSink) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func (s *terminalSink) VoiceStateChanged(state domain.VoiceState, reason domain.VoiceStateReason) {
	s.printf("voice: %s (%s)\n", state, reason)
}

func (s *terminalSink) VoiceResult(result domain.VoiceResult) {
	s.mu.Lock()
	s.results = append(s.results, result)
	s.mu.Unlock()
}

func (s *terminalSink) PartialTranscript(text string) {
	s.printf("  ... %s\n", text)
}

func (s *terminalSink) VoiceError(code domain.ErrorCode, detail string) {
	s.printf("voice error [%s]: %s\n", code, detail)
}

func (s *terminalSink) TurnAppended(domain.Turn) {}

func (s *terminalSink) MetricsUpdated(domain.Metrics) {}

func (s *terminalSink) GateChanged(domain.ConnectionGate) {}

// takeResults returns and clears the collected voice results.
func (s *terminalSink) takeResults() []domain.VoiceResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	results := s.results
	s.results = nil
	return results
}
