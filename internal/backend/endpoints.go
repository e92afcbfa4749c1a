package backend

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"revpilot/internal/domain"
	"revpilot/internal/ports"
)

const recordingFilename = "recording.wav"

// ConnectionStatus probes the CRM integration for userID.
func (c *Client) ConnectionStatus(ctx context.Context, userID string) (domain.Payload, error) {
	query := url.Values{}
	query.Set("userId", userID)

	raw, _, err := c.do(ctx, http.MethodGet, c.endpoint(statusPath, query), nil, "")
	if err != nil {
		return nil, err
	}
	return decodePayload(raw)
}

// StartSession opens a voice session.
func (c *Client) StartSession(ctx context.Context) (domain.Payload, error) {
	return c.postJSON(ctx, sessionStartPath, map[string]any{
		"timestamp": c.now().UnixMilli(),
	})
}

// SendCommand exchanges a finished capture for a response. Demo requests and
// empty captures are sent as JSON; recorded audio is uploaded as multipart.
func (c *Client) SendCommand(ctx context.Context, req ports.CommandRequest) (domain.Payload, error) {
	if req.Demo || req.Audio.Empty() {
		return c.postJSON(ctx, commandPath, map[string]any{
			"sessionId": req.SessionID,
			"demo":      req.Demo,
			"audio":     nil,
		})
	}

	body, contentType, err := commandForm(req)
	if err != nil {
		return nil, err
	}
	raw, _, err := c.do(ctx, http.MethodPost, c.endpoint(commandPath, nil), body, contentType)
	if err != nil {
		return nil, err
	}
	return decodePayload(raw)
}

func commandForm(req ports.CommandRequest) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("sessionId", req.SessionID); err != nil {
		return nil, "", fmt.Errorf("backend: write sessionId field: %w", err)
	}
	part, err := writer.CreatePart(audioPartHeader(req.Audio.MIMEType))
	if err != nil {
		return nil, "", fmt.Errorf("backend: create audio part: %w", err)
	}
	if _, err := part.Write(req.Audio.Data); err != nil {
		return nil, "", fmt.Errorf("backend: write audio part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("backend: close multipart body: %w", err)
	}
	return &body, writer.FormDataContentType(), nil
}

func audioPartHeader(mimeType string) textproto.MIMEHeader {
	if strings.TrimSpace(mimeType) == "" {
		mimeType = "audio/wav"
	}
	return textproto.MIMEHeader{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="audio"; filename="%s"`, recordingFilename)},
		"Content-Type":        {mimeType},
	}
}

// Ask sends a copilot text query.
func (c *Client) Ask(ctx context.Context, query string) (domain.Payload, error) {
	return c.postJSON(ctx, copilotPath, map[string]any{"query": query})
}
