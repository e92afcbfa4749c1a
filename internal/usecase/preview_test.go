package usecase

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"revpilot/internal/domain"
)

func TestTranscriptAggregatorRaw(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		events []domain.TranscriptEvent
		want   string
	}{
		{
			name: "finals only",
			events: []domain.TranscriptEvent{
				{Kind: domain.TranscriptKindFinal, Text: "what is"},
				{Kind: domain.TranscriptKindFinal, Text: "at risk"},
			},
			want: "what is at risk",
		},
		{
			name:   "partial only",
			events: []domain.TranscriptEvent{{Kind: domain.TranscriptKindPartial, Text: "what"}},
			want:   "what",
		},
		{
			name: "partial extends finals",
			events: []domain.TranscriptEvent{
				{Kind: domain.TranscriptKindFinal, Text: "what is"},
				{Kind: domain.TranscriptKindPartial, Text: "what is at risk"},
			},
			want: "what is at risk",
		},
		{
			name: "trailing partial appended",
			events: []domain.TranscriptEvent{
				{Kind: domain.TranscriptKindFinal, Text: "show deals"},
				{Kind: domain.TranscriptKindPartial, Text: "this week"},
			},
			want: "show deals this week",
		},
		{
			name:   "blank ignored",
			events: []domain.TranscriptEvent{{Kind: domain.TranscriptKindFinal, Text: "  "}},
			want:   "",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			aggregator := newTranscriptAggregator()
			for _, event := range tc.events {
				aggregator.Add(event)
			}
			if got := aggregator.Raw(); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestTranscriptPreviewFinish(t *testing.T) {
	t.Parallel()

	session := newFakeStreamingSession()
	session.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "hel"}
	session.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "hello"}
	events := &fakeEventSink{}

	preview := startPreview(session, events, zerolog.Nop())
	preview.Send([]byte{1})

	if got := preview.Finish(50 * time.Millisecond); got != "hello" {
		t.Fatalf("unexpected transcript %q", got)
	}
	if session.closeSend != 1 {
		t.Fatalf("expected close-send")
	}
	if partials := events.snapshotPartials(); len(partials) != 1 || partials[0] != "hel" {
		t.Fatalf("unexpected partials: %v", partials)
	}
}

func TestTranscriptPreviewFinishToleratesStreamError(t *testing.T) {
	t.Parallel()

	session := newFakeStreamingSession()
	session.waitErr = errors.New("stream failed")
	session.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "partial answer"}

	preview := startPreview(session, &fakeEventSink{}, zerolog.Nop())
	if got := preview.Finish(50 * time.Millisecond); got != "partial answer" {
		t.Fatalf("expected transcript despite stream error, got %q", got)
	}
}

func TestTranscriptPreviewAbort(t *testing.T) {
	t.Parallel()

	session := newFakeStreamingSession()
	preview := startPreview(session, &fakeEventSink{}, zerolog.Nop())
	preview.Abort()

	if session.closeCalls != 1 {
		t.Fatalf("expected close on abort, got %d", session.closeCalls)
	}
}
