package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"revpilot/internal/domain"
)

func TestGateEvaluatorCheck(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		prober *fakeProber
		want   domain.ConnectionGate
	}{
		{"connected", &fakeProber{payload: domain.Payload{"connected": true}}, domain.GateConnected},
		{"alternate field", &fakeProber{payload: domain.Payload{"isConnected": true}}, domain.GateConnected},
		{"not connected", &fakeProber{payload: domain.Payload{"connected": false}}, domain.GateDisconnected},
		{"probe error fails closed", &fakeProber{err: errors.New("network down")}, domain.GateDisconnected},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sink := &fakeEventSink{}
			gate := NewGateEvaluator(tc.prober, "user-1", 0, sink, zerolog.Nop())

			require.Equal(t, domain.GateUnknown, gate.Current())
			require.Equal(t, tc.want, gate.Check(context.Background()))
			require.Equal(t, tc.want, gate.Current())
			require.Equal(t, []domain.ConnectionGate{tc.want}, sink.snapshotGates())
			require.Equal(t, []string{"user-1"}, tc.prober.userIDs)
		})
	}
}

func TestGateEvaluatorTimeoutFailsClosed(t *testing.T) {
	t.Parallel()

	gate := NewGateEvaluator(&fakeProber{block: true}, "u", 10*time.Millisecond, &fakeEventSink{}, zerolog.Nop())
	require.Equal(t, domain.GateDisconnected, gate.Check(context.Background()))
}

func TestGateEvaluatorEvaluateCachesUntilInvalidated(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{payload: domain.Payload{"connected": true}}
	sink := &fakeEventSink{}
	gate := NewGateEvaluator(prober, "u", 0, sink, zerolog.Nop())

	require.Equal(t, domain.GateConnected, gate.Evaluate(context.Background()))
	require.Equal(t, domain.GateConnected, gate.Evaluate(context.Background()))
	require.Equal(t, 1, prober.probes())

	gate.Invalidate()
	require.Equal(t, domain.GateUnknown, gate.Current())
	require.Equal(t, domain.GateConnected, gate.Evaluate(context.Background()))
	require.Equal(t, 2, prober.probes())

	// A manual refresh always probes.
	gate.Check(context.Background())
	require.Equal(t, 3, prober.probes())
	require.Equal(t, []domain.ConnectionGate{
		domain.GateConnected,
		domain.GateUnknown,
		domain.GateConnected,
		domain.GateConnected,
	}, sink.snapshotGates())
}
