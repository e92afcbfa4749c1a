package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"revpilot/internal/domain"
)

var errNoSpeechAudio = errors.New("backend: speech response carried no audio")

// Synthesize asks the backend to voice text. The response may be raw audio,
// a bare URL string, or an object carrying audioUrl or audio (URL or data URI).
func (c *Client) Synthesize(ctx context.Context, text string) (domain.SpeechAudio, error) {
	request := map[string]any{"text": text}
	if c.cfg.SpeechVoice != "" {
		request["voice"] = c.cfg.SpeechVoice
	}
	if c.cfg.SpeechFormat != "" {
		request["format"] = c.cfg.SpeechFormat
	}
	encoded, err := json.Marshal(request)
	if err != nil {
		return domain.SpeechAudio{}, fmt.Errorf("backend: marshal speech request: %w", err)
	}

	raw, contentType, err := c.do(ctx, http.MethodPost, c.endpoint(speakPath, nil), bytes.NewReader(encoded), "application/json")
	if err != nil {
		return domain.SpeechAudio{}, err
	}

	if mediaType, _, parseErr := mime.ParseMediaType(contentType); parseErr == nil && strings.HasPrefix(mediaType, "audio/") {
		if len(raw) == 0 {
			return domain.SpeechAudio{}, errNoSpeechAudio
		}
		return domain.SpeechAudio{Data: raw, MIMEType: mediaType}, nil
	}
	return parseSpeechResponse(raw)
}

func parseSpeechResponse(raw []byte) (domain.SpeechAudio, error) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return domain.SpeechAudio{}, fmt.Errorf("backend: decode speech response: %w", err)
	}

	var reference string
	switch typed := decoded.(type) {
	case string:
		reference = typed
	case map[string]any:
		for _, field := range []string{"audioUrl", "audio", "url"} {
			if value, ok := typed[field].(string); ok && strings.TrimSpace(value) != "" {
				reference = value
				break
			}
		}
	}

	reference = strings.TrimSpace(reference)
	if reference == "" {
		return domain.SpeechAudio{}, errNoSpeechAudio
	}
	if strings.HasPrefix(reference, "data:") {
		return decodeDataURI(reference)
	}
	return domain.SpeechAudio{URL: reference}, nil
}

// decodeDataURI handles data:[<mediatype>][;base64],<data>.
func decodeDataURI(uri string) (domain.SpeechAudio, error) {
	header, data, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return domain.SpeechAudio{}, errors.New("backend: malformed data URI in speech response")
	}

	mediaType := "audio/mpeg"
	isBase64 := false
	for i, param := range strings.Split(header, ";") {
		switch {
		case i == 0 && param != "":
			mediaType = param
		case param == "base64":
			isBase64 = true
		}
	}

	if !isBase64 {
		return domain.SpeechAudio{Data: []byte(data), MIMEType: mediaType}, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return domain.SpeechAudio{}, fmt.Errorf("backend: decode speech audio: %w", err)
	}
	if len(decoded) == 0 {
		return domain.SpeechAudio{}, errNoSpeechAudio
	}
	return domain.SpeechAudio{Data: decoded, MIMEType: mediaType}, nil
}
