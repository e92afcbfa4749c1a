package backend

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// HTTPStatusError is returned for any non-2xx backend response.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if message := bodyMessage(e.Body); message != "" {
		return fmt.Sprintf("backend: status %d from %s: %s", e.StatusCode, redactURL(e.URL), message)
	}
	return fmt.Sprintf("backend: unexpected status %d from %s", e.StatusCode, redactURL(e.URL))
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// TransportError wraps failures that happen before any HTTP status is
// available (DNS, connection reset, timeouts).
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op != "" && e.URL != "":
		return fmt.Sprintf("backend: transport error during %s %s: %v", e.Op, redactURL(e.URL), e.Err)
	case e.Op != "":
		return fmt.Sprintf("backend: transport error during %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("backend: transport error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// bodyMessage pulls a human readable message out of an error body.
func bodyMessage(body string) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return ""
	}
	var object map[string]any
	if err := json.Unmarshal([]byte(body), &object); err == nil {
		for _, field := range []string{"error", "message", "detail"} {
			if text, ok := object[field].(string); ok && strings.TrimSpace(text) != "" {
				return strings.TrimSpace(text)
			}
		}
		return ""
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return body
}

func redactURL(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return raw
	}
	parsed.User = nil
	parsed.RawQuery = ""
	return parsed.String()
}
