package submit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingTransaction_Transitions(t *testing.T) {
	tests := []struct {
		name  string
		path  []State
		valid bool
	}{
		{"happy path", []State{StateNonceAssigned, StateSigned, StateSubmitted, StateConfirmed}, true},
		{"retry with fresh nonce", []State{StateNonceAssigned, StateSigned, StateNonceAssigned, StateSigned, StateSubmitted, StateConfirmed}, true},
		{"rejected at broadcast", []State{StateNonceAssigned, StateSigned, StateRejected}, true},
		{"failed on chain", []State{StateNonceAssigned, StateSigned, StateSubmitted, StateRejected}, true},
		{"skipped before nonce", []State{StateSkipped}, true},
		{"sign without nonce", []State{StateSigned}, false},
		{"submit unsigned", []State{StateNonceAssigned, StateSubmitted}, false},
		{"skip after submit", []State{StateNonceAssigned, StateSigned, StateSubmitted, StateSkipped}, false},
		{"leave terminal", []State{StateNonceAssigned, StateSigned, StateSubmitted, StateConfirmed, StateSubmitted}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPending(testBatches(t, 1)[0], "repo.testnet")
			var err error
			for _, s := range tt.path {
				if err = p.transition(s); err != nil {
					break
				}
			}
			if tt.valid {
				require.NoError(t, err)
				assert.Equal(t, tt.path[len(tt.path)-1], p.State)
				return
			}
			assert.ErrorContains(t, err, "invalid transition")
		})
	}
}

func TestState_Terminal(t *testing.T) {
	for _, s := range []State{StateConfirmed, StateRejected, StateTimedOut, StateSkipped} {
		assert.True(t, s.Terminal(), s.String())
	}
	for _, s := range []State{StateCreated, StateNonceAssigned, StateSigned, StateSubmitted} {
		assert.False(t, s.Terminal(), s.String())
	}
	assert.Equal(t, "state(42)", State(42).String())
}

func TestPendingTransaction_Outcome(t *testing.T) {
	b := testBatches(t, 1)[0]
	b.Prepared = "prepared.000001.rdfb"
	p := newPending(b, "repo.testnet")
	require.NoError(t, p.transition(StateNonceAssigned))
	require.NoError(t, p.transition(StateSigned))
	require.NoError(t, p.transition(StateSubmitted))
	p.submitted = time.Now().Add(-time.Second)
	require.NoError(t, p.transition(StateConfirmed))

	o := p.outcome()
	assert.Equal(t, "data.nt", o.File)
	assert.Equal(t, "prepared.000001.rdfb", o.Prepared)
	assert.Equal(t, 1, o.Statements)
	assert.Equal(t, b.Size(), o.Bytes)
	assert.NotEmpty(t, o.CID)
	assert.GreaterOrEqual(t, o.Latency, time.Second)
}

func TestRetryConfig_Backoff(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 5, BackoffBase: 100 * time.Millisecond, BackoffMultiplier: 2, MaxBackoff: time.Second}

	tests := []struct {
		retry int
		base  time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{5, time.Second},
	}
	for _, tt := range tests {
		got := cfg.backoff(tt.retry)
		assert.GreaterOrEqual(t, got, tt.base*3/4, "retry %d", tt.retry)
		assert.LessOrEqual(t, got, tt.base*5/4, "retry %d", tt.retry)
	}
}
