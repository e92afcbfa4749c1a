package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"revpilot/internal/domain"
	"revpilot/internal/ports"
)

// TranscriptStream opens the backend's live transcription websocket used for
// the preview shown while the user is speaking.
type TranscriptStream struct {
	client *Client
	dialer *websocket.Dialer
}

func NewTranscriptStream(client *Client) *TranscriptStream {
	return &TranscriptStream{client: client, dialer: websocket.DefaultDialer}
}

// StartStreaming dials the stream. The session closes when ctx ends.
func (t *TranscriptStream) StartStreaming(ctx context.Context, cfg ports.StreamingConfig) (ports.StreamingSession, error) {
	wsURL, err := t.streamURL(cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set(apiKeyHeader, t.client.apiKey)

	conn, _, err := t.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, &TransportError{Op: "dial", URL: wsURL, Err: err}
	}

	session := &streamSession{
		conn:    conn,
		events:  make(chan domain.TranscriptEvent, 64),
		audio:   make(chan []byte, 32),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}

	session.wg.Add(2)
	go session.readLoop()
	go session.writeLoop()
	go func() {
		session.wg.Wait()
		close(session.events)
		close(session.done)
		_ = conn.Close()
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = session.Close()
		case <-session.done:
		}
	}()

	return session, nil
}

func (t *TranscriptStream) streamURL(cfg ports.StreamingConfig) (string, error) {
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	query := url.Values{}
	query.Set("sessionId", cfg.SessionID)
	query.Set("encoding", cfg.Encoding)
	query.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	query.Set("channels", strconv.Itoa(cfg.Channels))

	u, err := url.Parse(t.client.endpoint(streamPath, query))
	if err != nil {
		return "", fmt.Errorf("backend: invalid stream URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	return u.String(), nil
}

var errSendClosed = errors.New("transcript stream is already closed for sending")

type streamSession struct {
	conn *websocket.Conn

	events chan domain.TranscriptEvent
	audio  chan []byte
	// closing is closed before the send side takes sendMu, so a SendAudio
	// parked on a full audio channel lets go of its read lock.
	closing chan struct{}
	done    chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	closingOnce   sync.Once
	closeSendOnce sync.Once
	closeOnce     sync.Once
	sendMu        sync.RWMutex
	sendClosed    bool
}

func (s *streamSession) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	select {
	case <-s.closing:
		return errSendClosed
	default:
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return errSendClosed
	}

	copied := append([]byte(nil), chunk...)
	select {
	case s.audio <- copied:
		return nil
	case <-s.closing:
		return errSendClosed
	case <-s.done:
		if err := s.waitErr(); err != nil {
			return err
		}
		return errors.New("transcript stream closed")
	}
}

func (s *streamSession) CloseSend() error {
	s.markClosing()
	s.closeSendOnce.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()
	})
	return nil
}

func (s *streamSession) Events() <-chan domain.TranscriptEvent {
	return s.events
}

func (s *streamSession) Wait() error {
	<-s.done
	return s.waitErr()
}

func (s *streamSession) Close() error {
	s.closeOnce.Do(func() {
		s.markClosing()
		// Closing the connection first unblocks a writeLoop stuck on a peer
		// that stopped reading.
		_ = s.conn.Close()
		_ = s.CloseSend()
	})
	<-s.done
	return s.waitErr()
}

func (s *streamSession) markClosing() {
	s.closingOnce.Do(func() { close(s.closing) })
}

func (s *streamSession) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *streamSession) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *streamSession) writeLoop() {
	defer s.wg.Done()

	for chunk := range s.audio {
		if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			s.setErr(fmt.Errorf("send audio: %w", err))
			// Drain so CloseSend never blocks on a dead connection.
			for range s.audio {
			}
			return
		}
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		s.setErr(fmt.Errorf("close stream: %w", err))
	}
}

func (s *streamSession) readLoop() {
	defer s.wg.Done()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("read transcript event: %w", err))
			return
		}

		var message streamMessage
		if err := json.Unmarshal(payload, &message); err != nil {
			continue
		}

		switch strings.ToLower(message.Type) {
		case "error":
			text := strings.TrimSpace(message.Message)
			if text == "" {
				text = "transcript stream returned an unknown error"
			}
			s.setErr(errors.New(text))
			return
		case "closed", "end":
			return
		}

		text := strings.TrimSpace(message.Text)
		if text == "" {
			continue
		}
		event := domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: text}
		if message.IsFinal {
			event.Kind = domain.TranscriptKindFinal
		}
		s.emit(event)
	}
}

// emit drops events the consumer is too slow to take.
func (s *streamSession) emit(event domain.TranscriptEvent) {
	select {
	case s.events <- event:
	case <-s.done:
	default:
	}
}

type streamMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message"`
}
