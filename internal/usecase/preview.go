package usecase

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"revpilot/internal/domain"
	"revpilot/internal/ports"
)

// transcriptPreview is the live partial-transcript stream that runs while listening.
type transcriptPreview struct {
	stream     ports.StreamingSession
	aggregator *transcriptAggregator
	eventsDone chan struct{}
	log        zerolog.Logger

	sendOnce sync.Once
}

func startPreview(stream ports.StreamingSession, events ports.VoiceEventSink, logger zerolog.Logger) *transcriptPreview {
	p := &transcriptPreview{
		stream:     stream,
		aggregator: newTranscriptAggregator(),
		eventsDone: make(chan struct{}),
		log:        logger,
	}
	go consumeTranscriptEvents(stream, p.aggregator, events, p.eventsDone)
	return p
}

// Send forwards a captured chunk. Failures disable the preview for the rest of the session.
func (p *transcriptPreview) Send(chunk []byte) {
	if err := p.stream.SendAudio(chunk); err != nil {
		p.sendOnce.Do(func() {
			p.log.Warn().Err(err).Msg("transcript preview send failed")
		})
	}
}

// Finish closes the send side, waits up to grace for trailing events and
// returns the aggregated transcript.
func (p *transcriptPreview) Finish(grace time.Duration) string {
	_ = p.stream.CloseSend()
	if err := waitForStream(p.stream, grace); err != nil {
		p.log.Warn().Err(err).Msg("transcript preview ended with error")
	}
	<-p.eventsDone
	return p.aggregator.Raw()
}

// Abort tears the stream down without waiting for trailing events.
func (p *transcriptPreview) Abort() {
	_ = p.stream.Close()
	<-p.eventsDone
}

type transcriptAggregator struct {
	mu         sync.Mutex
	finals     []string
	lastSpoken string
}

func newTranscriptAggregator() *transcriptAggregator {
	return &transcriptAggregator{}
}

func (a *transcriptAggregator) Add(event domain.TranscriptEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	text := strings.TrimSpace(event.Text)
	if text == "" {
		return
	}
	a.lastSpoken = text
	if event.Kind == domain.TranscriptKindFinal {
		a.finals = append(a.finals, text)
	}
}

// Raw joins the final segments plus any trailing partial not yet finalized.
func (a *transcriptAggregator) Raw() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	joined := strings.TrimSpace(strings.Join(a.finals, " "))
	switch {
	case joined == "":
		return a.lastSpoken
	case a.lastSpoken == "", strings.HasSuffix(joined, a.lastSpoken):
		return joined
	case strings.HasPrefix(a.lastSpoken, joined):
		return a.lastSpoken
	default:
		return joined + " " + a.lastSpoken
	}
}

func consumeTranscriptEvents(
	session ports.StreamingSession,
	aggregator *transcriptAggregator,
	events ports.VoiceEventSink,
	done chan struct{},
) {
	defer close(done)

	for event := range session.Events() {
		text := strings.TrimSpace(event.Text)
		if text == "" {
			continue
		}
		aggregator.Add(event)
		if event.Kind == domain.TranscriptKindPartial {
			events.PartialTranscript(text)
		}
	}
}

func waitForStream(session ports.StreamingSession, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		_ = session.Close()
		return <-done
	}
}
