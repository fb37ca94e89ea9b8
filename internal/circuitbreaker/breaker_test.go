package circuitbreaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmrelay/llmrelay/internal/observability"
)

func newTestBreaker(t *testing.T, threshold int, recovery time.Duration) *CircuitBreaker {
	t.Helper()
	cb, err := New("test-backend", threshold, recovery, observability.NopLogger())
	require.NoError(t, err)
	return cb
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New("bad", 0, time.Second, nil)
	assert.ErrorIs(t, err, ErrInvalidFailureThreshold)

	_, err = New("bad", -1, time.Second, nil)
	assert.ErrorIs(t, err, ErrInvalidFailureThreshold)

	_, err = New("bad", 3, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidRecoveryTimeout)

	_, err = New("bad", 3, -time.Second, nil)
	assert.ErrorIs(t, err, ErrInvalidRecoveryTimeout)
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := newTestBreaker(t, 3, time.Second)

	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.Allow())
	assert.Equal(t, "test-backend", cb.Name())
}

func TestCircuitBreaker_OpensAtFailureThreshold(t *testing.T) {
	cb := newTestBreaker(t, 3, time.Minute)

	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(t, 3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()

	// The counter restarted, so two more failures stay below the threshold.
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	cb := newTestBreaker(t, 1, 100*time.Millisecond)

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())

	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, StateHalfOpen, cb.State())
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_HalfOpenSuccessCloses(t *testing.T) {
	cb := newTestBreaker(t, 1, 50*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(75 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	cb.RecordSuccess()

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Stats().ConsecutiveFailures)
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := newTestBreaker(t, 1, 100*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	before := cb.Stats().OpenedAt
	cb.RecordFailure()

	// Reopened with a fresh recovery timer.
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())
	assert.True(t, cb.Stats().OpenedAt.After(before))
}

func TestCircuitBreaker_ReopenedCircuitRecoversAgain(t *testing.T) {
	cb := newTestBreaker(t, 1, 50*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(75 * time.Millisecond)
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(75 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_StateIsReadOnly(t *testing.T) {
	cb := newTestBreaker(t, 2, time.Minute)

	cb.RecordFailure()

	// Repeated reads do not advance the breaker toward open.
	for i := 0; i < 10; i++ {
		assert.Equal(t, StateClosed, cb.State())
		assert.True(t, cb.Allow())
	}
	assert.Equal(t, 1, cb.Stats().ConsecutiveFailures)
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb := newTestBreaker(t, 2, time.Minute)

	stats := cb.Stats()
	assert.Equal(t, StateClosed, stats.State)
	assert.Equal(t, 0, stats.ConsecutiveFailures)
	assert.True(t, stats.OpenedAt.IsZero())

	cb.RecordFailure()
	cb.RecordFailure()

	stats = cb.Stats()
	assert.Equal(t, StateOpen, stats.State)
	assert.False(t, stats.OpenedAt.IsZero())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestState_MarshalJSON(t *testing.T) {
	data, err := StateHalfOpen.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"half-open"`, string(data))
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := newTestBreaker(t, 5, 10*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				cb.Allow()
				if n%2 == 0 {
					cb.RecordFailure()
				} else {
					cb.RecordSuccess()
				}
				cb.State()
			}
		}(i)
	}
	wg.Wait()

	// No particular final state is guaranteed, only that the breaker is
	// still coherent.
	state := cb.State()
	assert.Contains(t, []State{StateClosed, StateOpen, StateHalfOpen}, state)
}
