package usecase

import (
	"strconv"
	"strings"

	"revpilot/internal/domain"
)

// DefaultAnswerText is used when a copilot response carries no usable text.
const DefaultAnswerText = "No answer returned."

// Field priority tables. Lookups take the first field holding a non-empty string.
var (
	answerTextFields     = []string{"answerText", "answer", "response", "message", "text"}
	structuredFields     = []string{"structured", "data", "result"}
	cashAtRiskFields     = []string{"cashAtRisk"}
	velocityFields       = []string{"velocity"}
	nextBestActionFields = []string{"nextBestAction", "topAction"}

	sessionIDFields   = []string{"sessionId", "session_id", "id"}
	sessionTextFields = []string{"text", "message", "response"}

	transcriptFields   = []string{"transcript", "text", "query"}
	responseTextFields = []string{"responseText", "response", "answer", "message", "text"}

	connectedFields = []string{"connected", "isConnected", "ok"}
)

// normalizeAnswer maps a copilot query payload onto answer text plus optional metrics.
func normalizeAnswer(payload domain.Payload) domain.Answer {
	text, ok := firstString(payload, answerTextFields)
	if !ok {
		text = DefaultAnswerText
	}
	return domain.Answer{Text: text, Metrics: normalizeMetrics(payload)}
}

func normalizeMetrics(payload domain.Payload) *domain.Metrics {
	container, ok := firstObject(payload, structuredFields)
	if !ok {
		return nil
	}

	var metrics domain.Metrics
	if value, ok := firstValue(container, cashAtRiskFields); ok {
		metrics.CashAtRisk = cashAtRiskFrom(value)
	}
	if value, ok := firstValue(container, velocityFields); ok {
		metrics.Velocity = velocityFrom(value)
	}
	if value, ok := firstValue(container, nextBestActionFields); ok {
		metrics.NextBestAction = actionFrom(value)
	}

	if metrics.CashAtRisk == nil && metrics.Velocity == nil && metrics.NextBestAction == nil {
		return nil
	}
	return &metrics
}

type sessionStart struct {
	ID       string
	DemoText string
}

func normalizeSessionStart(payload domain.Payload) sessionStart {
	id, _ := firstString(payload, sessionIDFields)
	text, _ := firstString(payload, sessionTextFields)
	return sessionStart{ID: id, DemoText: text}
}

type commandResult struct {
	Transcript   string
	ResponseText string
}

func normalizeCommandResult(payload domain.Payload) commandResult {
	transcript, _ := firstString(payload, transcriptFields)
	response, _ := firstString(payload, responseTextFields)
	return commandResult{Transcript: transcript, ResponseText: response}
}

func normalizeConnected(payload domain.Payload) bool {
	for _, field := range connectedFields {
		value, ok := payload[field]
		if !ok || value == nil {
			continue
		}
		if truthy(value) {
			return true
		}
	}
	return false
}

func firstValue(payload domain.Payload, fields []string) (any, bool) {
	for _, field := range fields {
		if value, ok := payload[field]; ok && value != nil {
			return value, true
		}
	}
	return nil, false
}

func firstString(payload domain.Payload, fields []string) (string, bool) {
	for _, field := range fields {
		text, ok := payload[field].(string)
		if !ok {
			continue
		}
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			return trimmed, true
		}
	}
	return "", false
}

func firstObject(payload domain.Payload, fields []string) (domain.Payload, bool) {
	for _, field := range fields {
		if object, ok := asObject(payload[field]); ok {
			return object, true
		}
	}
	return nil, false
}

func asObject(value any) (domain.Payload, bool) {
	switch typed := value.(type) {
	case domain.Payload:
		return typed, typed != nil
	case map[string]any:
		return domain.Payload(typed), typed != nil
	default:
		return nil, false
	}
}

func cashAtRiskFrom(value any) *domain.CashAtRisk {
	if amount, ok := asNumber(value); ok {
		return &domain.CashAtRisk{Amount: amount}
	}
	object, ok := asObject(value)
	if !ok {
		return nil
	}
	amount, ok := asNumber(object["amount"])
	if !ok {
		return nil
	}
	deals, _ := asNumber(object["deals"])
	return &domain.CashAtRisk{Amount: amount, Deals: int(deals)}
}

func velocityFrom(value any) *domain.Velocity {
	if label, ok := value.(string); ok {
		if strings.TrimSpace(label) == "" {
			return nil
		}
		return &domain.Velocity{Label: strings.TrimSpace(label)}
	}
	object, ok := asObject(value)
	if !ok {
		return nil
	}
	label, ok := firstString(object, []string{"label"})
	if !ok {
		return nil
	}
	wow, _ := asNumber(object["wow"])
	return &domain.Velocity{Label: label, WoW: wow}
}

func actionFrom(value any) *domain.Action {
	if label, ok := value.(string); ok {
		if strings.TrimSpace(label) == "" {
			return nil
		}
		return &domain.Action{Label: strings.TrimSpace(label)}
	}
	object, ok := asObject(value)
	if !ok {
		return nil
	}
	label, ok := firstString(object, []string{"label"})
	if !ok {
		return nil
	}
	detail, _ := firstString(object, []string{"detail"})
	return &domain.Action{Label: label, Detail: detail}
}

func asNumber(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case interface{ Float64() (float64, error) }:
		parsed, err := typed.Float64()
		return parsed, err == nil
	default:
		return 0, false
	}
}

func truthy(value any) bool {
	switch typed := value.(type) {
	case bool:
		return typed
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(typed))
		return err == nil && parsed
	default:
		number, ok := asNumber(value)
		return ok && number != 0
	}
}
