package usecase

import (
	"context"
	"time"
)

// activeSession is the single live voice session of a controller.
type activeSession struct {
	id        string
	createdAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	preview      *transcriptPreview
	speechCancel context.CancelFunc
}

func newActiveSession(parent context.Context, now time.Time) *activeSession {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &activeSession{createdAt: now, ctx: ctx, cancel: cancel}
}

// close stops everything the session owns. Callers hold the controller lock.
func (s *activeSession) close() {
	if s.speechCancel != nil {
		s.speechCancel()
		s.speechCancel = nil
	}
	if s.preview != nil {
		s.preview.Abort()
		s.preview = nil
	}
	s.cancel()
}
