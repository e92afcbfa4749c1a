// Package backend talks to the copilot REST backend: CRM status, voice
// sessions, copilot queries and speech synthesis.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"revpilot/internal/domain"
)

const (
	apiKeyHeader = "x-api-key"

	statusPath       = "/api/ghl/status"
	sessionStartPath = "/api/voice/session/start"
	commandPath      = "/api/voice/command"
	copilotPath      = "/api/copilot"
	speakPath        = "/api/voice/speak"
	streamPath       = "/api/voice/stream"

	maxResponseBytes = 8 << 20
	maxErrorBytes    = 4096
)

// Config holds backend connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	// Timeout bounds every request. Zero leaves requests unbounded.
	Timeout time.Duration

	SpeechVoice  string
	SpeechFormat string
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// Client implements the voice, copilot, status and speech ports over HTTP.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	cfg        Config
	httpClient *http.Client
	now        func() time.Time
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("backend: base URL must not be empty")
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("backend: invalid base URL %q", cfg.BaseURL)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("backend: API key must not be empty")
	}

	c := &Client{
		baseURL:    parsed,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) postJSON(ctx context.Context, path string, body any) (domain.Payload, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("backend: marshal %s request: %w", path, err)
	}
	raw, _, err := c.do(ctx, http.MethodPost, c.endpoint(path, nil), bytes.NewReader(encoded), "application/json")
	if err != nil {
		return nil, err
	}
	return decodePayload(raw)
}

// do sends a request and returns the body of a 2xx response along with its content type.
func (c *Client) do(ctx context.Context, method, target string, body io.Reader, contentType string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, "", fmt.Errorf("backend: create request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", &TransportError{Op: method, URL: target, Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBytes))
		return nil, "", &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        target,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, "", &TransportError{Op: "read " + method, URL: target, Err: err}
	}
	return buf, res.Header.Get("Content-Type"), nil
}

// decodePayload decodes a JSON object, keeping numbers as json.Number.
// An empty body decodes to an empty payload.
func decodePayload(raw []byte) (domain.Payload, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return domain.Payload{}, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var payload domain.Payload
	if err := decoder.Decode(&payload); err != nil {
		return nil, fmt.Errorf("backend: decode response: %w", err)
	}
	if payload == nil {
		payload = domain.Payload{}
	}
	return payload, nil
}
