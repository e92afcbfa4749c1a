package domain

import "time"

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Origin records whether a turn came from the text bar or a voice session.
type Origin string

const (
	OriginText  Origin = "text"
	OriginVoice Origin = "voice"
)

// Turn is one immutable entry of the conversation log.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Origin    Origin    `json:"origin"`
	Text      string    `json:"text"`
	Metrics   *Metrics  `json:"metrics,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CashAtRisk is the revenue currently exposed in stalled deals.
type CashAtRisk struct {
	Amount float64 `json:"amount"`
	Deals  int     `json:"deals"`
}

// Velocity describes pipeline speed week over week.
type Velocity struct {
	Label string  `json:"label"`
	WoW   float64 `json:"wow"`
}

// Action is the next best action suggested by the copilot.
type Action struct {
	Label  string `json:"label"`
	Detail string `json:"detail"`
}

// Metrics are the structured values attached to an answer.
type Metrics struct {
	CashAtRisk     *CashAtRisk `json:"cashAtRisk,omitempty"`
	Velocity       *Velocity   `json:"velocity,omitempty"`
	NextBestAction *Action     `json:"nextBestAction,omitempty"`
}

// Clone returns a deep copy. A nil receiver yields nil.
func (m *Metrics) Clone() *Metrics {
	if m == nil {
		return nil
	}
	out := &Metrics{}
	if m.CashAtRisk != nil {
		c := *m.CashAtRisk
		out.CashAtRisk = &c
	}
	if m.Velocity != nil {
		v := *m.Velocity
		out.Velocity = &v
	}
	if m.NextBestAction != nil {
		a := *m.NextBestAction
		out.NextBestAction = &a
	}
	return out
}

// Clone returns a copy that shares no memory with t.
func (t Turn) Clone() Turn {
	t.Metrics = t.Metrics.Clone()
	return t
}

// Answer is the normalized copilot response.
type Answer struct {
	Text    string   `json:"answerText"`
	Metrics *Metrics `json:"metrics,omitempty"`
}

// ConnectionGate describes whether the external CRM integration is usable.
type ConnectionGate string

const (
	GateUnknown      ConnectionGate = "unknown"
	GateConnected    ConnectionGate = "connected"
	GateDisconnected ConnectionGate = "disconnected"
)

// ConversationMode controls whether answers are spoken.
type ConversationMode string

const (
	ModeSilent ConversationMode = "silent"
	ModeHybrid ConversationMode = "hybrid"
	ModeVoice  ConversationMode = "voice"
)

// ShouldSpeak reports whether answers are vocalized in this mode.
func (m ConversationMode) ShouldSpeak() bool {
	return m == ModeHybrid || m == ModeVoice
}

// ParseConversationMode returns the mode named by value, or false when unknown.
func ParseConversationMode(value string) (ConversationMode, bool) {
	switch ConversationMode(value) {
	case ModeSilent, ModeHybrid, ModeVoice:
		return ConversationMode(value), true
	default:
		return "", false
	}
}
