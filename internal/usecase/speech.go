package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"

	"revpilot/internal/ports"
)

var errEmptySpeech = errors.New("speech requires non-empty text")

// Speaker vocalizes text. Implemented by SpeechOutput.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Stop()
}

// SpeechOutput plays one utterance at a time. Starting a new utterance
// cancels the one in flight.
type SpeechOutput struct {
	synth  ports.SpeechSynthesizer
	player ports.AudioPlayer

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

func NewSpeechOutput(synth ports.SpeechSynthesizer, player ports.AudioPlayer) *SpeechOutput {
	return &SpeechOutput{synth: synth, player: player}
}

// Speak synthesizes and plays text, returning once playback ends. It returns
// the context error when the utterance was cancelled by Stop, a newer Speak,
// or the caller.
func (s *SpeechOutput) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errEmptySpeech
	}

	utteranceCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.seq++
	seq := s.seq
	s.cancel = cancel
	s.mu.Unlock()

	defer s.finish(seq, cancel)

	audio, err := s.synth.Synthesize(utteranceCtx, text)
	if err != nil {
		if ctxErr := utteranceCtx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	if err := s.player.Play(utteranceCtx, audio); err != nil {
		if ctxErr := utteranceCtx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return utteranceCtx.Err()
}

// Stop cancels the utterance in flight, if any.
func (s *SpeechOutput) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Speaking reports whether an utterance is in flight.
func (s *SpeechOutput) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *SpeechOutput) finish(seq uint64, cancel context.CancelFunc) {
	cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq == seq {
		s.cancel = nil
	}
}
