package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"revpilot/internal/domain"
	"revpilot/internal/ports"
)

const (
	// DisconnectedMessage is shown whenever the CRM gate blocks a query.
	DisconnectedMessage = "GoHighLevel is not connected. First connect."
	// UnauthorizedMessage replaces the backend text for 401/403 responses.
	UnauthorizedMessage = "Not authorized to access Copilot. Please connect and verify permissions (401/403)."
	// DefaultVoiceQuery is asked when a voice result carries no usable text
	// and no auto query is configured.
	DefaultVoiceQuery = "What is at risk?"
)

var newTurnID = func() string {
	return uuid.NewString()
}

// OrchestratorConfig is fixed at construction.
type OrchestratorConfig struct {
	// EnforceGate blocks queries while the CRM is disconnected.
	EnforceGate bool
	Mode        domain.ConversationMode
	// AutoQuery runs once on Bootstrap. Empty disables it.
	AutoQuery string
}

// TurnResult is what one submission appended to the conversation.
type TurnResult struct {
	User      domain.Turn
	Assistant domain.Turn
	Answer    domain.Answer
}

// Orchestrator sequences a single turn: gate, copilot query, normalization,
// log append and optional speech. Submissions are serialized in arrival order.
type Orchestrator struct {
	copilot  ports.CopilotBackend
	gate     *GateEvaluator
	speech   Speaker
	sink     ports.ConversationSink
	rewriter ports.TranscriptRewriter
	log      zerolog.Logger
	cfg      OrchestratorConfig

	conversation *ConversationLog
	slot         chan struct{}
	now          func() time.Time

	mu      sync.Mutex
	mode    domain.ConversationMode
	metrics *domain.Metrics
}

// NewOrchestrator builds an orchestrator. rewriter may be nil.
func NewOrchestrator(
	copilot ports.CopilotBackend,
	gate *GateEvaluator,
	speech Speaker,
	sink ports.ConversationSink,
	rewriter ports.TranscriptRewriter,
	logger zerolog.Logger,
	cfg OrchestratorConfig,
) *Orchestrator {
	mode := cfg.Mode
	if _, ok := domain.ParseConversationMode(string(mode)); !ok {
		mode = domain.ModeHybrid
	}
	return &Orchestrator{
		copilot:      copilot,
		gate:         gate,
		speech:       speech,
		sink:         sink,
		rewriter:     rewriter,
		log:          logger.With().Str("component", "orchestrator").Logger(),
		cfg:          cfg,
		conversation: NewConversationLog(),
		slot:         make(chan struct{}, 1),
		now:          time.Now,
		mode:         mode,
	}
}

// SubmitTurn runs one text or voice turn. A gate block returns the canned
// turn together with a GATE_CLOSED error; backend failures return the error
// turn together with UPSTREAM_ERROR or UNAUTHORIZED.
func (o *Orchestrator) SubmitTurn(ctx context.Context, input string, origin domain.Origin) (TurnResult, error) {
	return o.submit(ctx, input, origin, true)
}

// SubmitVoiceResult turns a finished voice session into a turn. Answers the
// controller already spoke are not spoken again.
func (o *Orchestrator) SubmitVoiceResult(ctx context.Context, result domain.VoiceResult) (TurnResult, error) {
	query := strings.TrimSpace(result.Transcript)
	if query == "" {
		query = strings.TrimSpace(result.Text)
	}
	if query == "" {
		query = strings.TrimSpace(o.cfg.AutoQuery)
	}
	if query == "" {
		query = DefaultVoiceQuery
	}

	if o.rewriter != nil {
		rewritten, err := o.rewriter.Apply(query)
		switch {
		case err != nil:
			o.log.Warn().Err(err).Msg("vocabulary rewrite failed; using raw transcript")
		case strings.TrimSpace(rewritten) != "":
			query = rewritten
		}
	}

	return o.submit(ctx, query, domain.OriginVoice, !result.Spoken)
}

// Bootstrap probes the gate and runs the configured auto query when the CRM
// is usable.
func (o *Orchestrator) Bootstrap(ctx context.Context) error {
	gate := domain.GateConnected
	if o.gate != nil {
		gate = o.gate.Check(ctx)
	}
	if o.cfg.AutoQuery == "" {
		return nil
	}
	if o.cfg.EnforceGate && gate != domain.GateConnected {
		o.log.Info().Str("gate", string(gate)).Msg("skipping auto query")
		return nil
	}
	_, err := o.SubmitTurn(ctx, o.cfg.AutoQuery, domain.OriginText)
	return err
}

// SetMode switches the conversation mode. Leaving a speaking mode silences
// any utterance in flight.
func (o *Orchestrator) SetMode(mode domain.ConversationMode) error {
	if _, ok := domain.ParseConversationMode(string(mode)); !ok {
		return errors.New("unknown conversation mode: " + string(mode))
	}

	o.mu.Lock()
	o.mode = mode
	o.mu.Unlock()

	if !mode.ShouldSpeak() && o.speech != nil {
		o.speech.Stop()
	}
	return nil
}

func (o *Orchestrator) Mode() domain.ConversationMode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode
}

// Conversation returns every turn appended so far.
func (o *Orchestrator) Conversation() []domain.Turn {
	return o.conversation.Snapshot()
}

// LastAnswer returns the most recent assistant turn.
func (o *Orchestrator) LastAnswer() (domain.Turn, bool) {
	return o.conversation.Last(domain.RoleAssistant)
}

// Metrics returns the latest metrics any answer carried.
func (o *Orchestrator) Metrics() (domain.Metrics, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.metrics == nil {
		return domain.Metrics{}, false
	}
	return *o.metrics.Clone(), true
}

func (o *Orchestrator) submit(ctx context.Context, input string, origin domain.Origin, allowSpeech bool) (TurnResult, error) {
	query := strings.TrimSpace(input)
	if query == "" {
		return TurnResult{}, newError(ErrorEmptyInput, "input is empty", nil)
	}

	select {
	case o.slot <- struct{}{}:
	case <-ctx.Done():
		return TurnResult{}, ctx.Err()
	}
	result, err := o.exchange(ctx, query, origin)
	<-o.slot

	if err == nil && allowSpeech {
		o.speak(ctx, result.Answer.Text)
	}
	return result, err
}

func (o *Orchestrator) exchange(ctx context.Context, query string, origin domain.Origin) (TurnResult, error) {
	result := TurnResult{User: o.append(domain.RoleUser, origin, query, nil)}

	if o.cfg.EnforceGate && o.gate != nil {
		if gate := o.gate.Evaluate(ctx); gate != domain.GateConnected {
			result.Assistant = o.append(domain.RoleAssistant, origin, DisconnectedMessage, nil)
			return result, newError(ErrorGateClosed, "crm not connected", nil)
		}
	}

	payload, err := o.copilot.Ask(ctx, query)
	if err == nil && unauthorizedPayload(payload) {
		err = errors.New("copilot response reported unauthorized")
		result.Assistant = o.append(domain.RoleAssistant, origin, UnauthorizedMessage, nil)
		return result, newError(ErrorUnauthorized, UnauthorizedMessage, err)
	}
	if err != nil {
		code, message := ErrorUpstream, err.Error()
		if status, ok := upstreamStatusCode(err); ok && isAuthStatus(status) {
			code, message = ErrorUnauthorized, UnauthorizedMessage
		}
		o.log.Warn().Err(err).Str("code", string(code)).Msg("copilot query failed")
		result.Assistant = o.append(domain.RoleAssistant, origin, message, nil)
		return result, newError(code, message, err)
	}

	answer := normalizeAnswer(payload)
	result.Answer = answer
	result.Assistant = o.append(domain.RoleAssistant, origin, answer.Text, answer.Metrics)
	if answer.Metrics != nil {
		o.mu.Lock()
		o.metrics = answer.Metrics.Clone()
		o.mu.Unlock()
		o.sink.MetricsUpdated(*answer.Metrics.Clone())
	}
	return result, nil
}

func (o *Orchestrator) speak(ctx context.Context, text string) {
	if o.speech == nil || !o.Mode().ShouldSpeak() {
		return
	}
	if err := o.speech.Speak(ctx, text); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		o.log.Warn().Err(err).Msg("answer playback failed")
	}
}

func (o *Orchestrator) append(role domain.Role, origin domain.Origin, text string, metrics *domain.Metrics) domain.Turn {
	turn := domain.Turn{
		ID:        newTurnID(),
		Role:      role,
		Origin:    origin,
		Text:      text,
		Metrics:   metrics.Clone(),
		Timestamp: o.now().UTC(),
	}
	o.conversation.Append(turn)
	o.sink.TurnAppended(turn.Clone())
	return turn
}

func isAuthStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// unauthorizedPayload catches backends that report auth failures in a 2xx body.
func unauthorizedPayload(payload domain.Payload) bool {
	status, ok := asNumber(payload["status"])
	return ok && isAuthStatus(int(status))
}
