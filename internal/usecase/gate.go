package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"revpilot/internal/domain"
	"revpilot/internal/ports"
)

// GateEvaluator tracks whether the CRM integration is connected. Probe
// failures count as disconnected.
type GateEvaluator struct {
	prober  ports.StatusProber
	userID  string
	timeout time.Duration
	sink    ports.ConversationSink
	log     zerolog.Logger

	mu   sync.Mutex
	gate domain.ConnectionGate
}

// NewGateEvaluator builds an evaluator. A zero timeout leaves probes unbounded.
func NewGateEvaluator(
	prober ports.StatusProber,
	userID string,
	timeout time.Duration,
	sink ports.ConversationSink,
	logger zerolog.Logger,
) *GateEvaluator {
	return &GateEvaluator{
		prober:  prober,
		userID:  userID,
		timeout: timeout,
		sink:    sink,
		log:     logger.With().Str("component", "gate").Logger(),
		gate:    domain.GateUnknown,
	}
}

// Check probes the CRM status and caches the result. It never fails.
func (g *GateEvaluator) Check(ctx context.Context) domain.ConnectionGate {
	probeCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	gate := domain.GateDisconnected
	payload, err := g.prober.ConnectionStatus(probeCtx, g.userID)
	switch {
	case err != nil:
		g.log.Warn().Err(err).Str("user", g.userID).Msg("connection status probe failed")
	case normalizeConnected(payload):
		gate = domain.GateConnected
	}

	g.set(gate)
	return gate
}

// Current returns the cached gate without probing.
func (g *GateEvaluator) Current() domain.ConnectionGate {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gate
}

// Evaluate returns the cached gate, probing first when nothing is cached.
func (g *GateEvaluator) Evaluate(ctx context.Context) domain.ConnectionGate {
	if gate := g.Current(); gate != domain.GateUnknown {
		return gate
	}
	return g.Check(ctx)
}

// Invalidate drops the cached result, e.g. after the user reconnects the CRM.
func (g *GateEvaluator) Invalidate() {
	g.set(domain.GateUnknown)
}

func (g *GateEvaluator) set(gate domain.ConnectionGate) {
	g.mu.Lock()
	g.gate = gate
	g.mu.Unlock()

	if g.sink != nil {
		g.sink.GateChanged(gate)
	}
}
