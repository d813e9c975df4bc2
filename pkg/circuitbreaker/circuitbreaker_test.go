package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSubscribe = errors.New("subscribe failed")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(threshold int) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb := New(Config{FailureThreshold: threshold, Timeout: 10 * time.Second})
	cb.now = clock.Now
	return cb, clock
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(2)

	assert.ErrorIs(t, cb.Execute(func() error { return errSubscribe }), errSubscribe)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(func() error { return errSubscribe }), errSubscribe)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker(2)

	_ = cb.Execute(func() error { return errSubscribe })
	require.NoError(t, cb.Execute(func() error { return nil }))
	_ = cb.Execute(func() error { return errSubscribe })

	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenTrial(t *testing.T) {
	cb, clock := newTestBreaker(1)
	_ = cb.Execute(func() error { return errSubscribe })
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(11 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(3)
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errSubscribe })
	}
	clock.Advance(10 * time.Second)

	_ = cb.Execute(func() error { return errSubscribe })
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	cb, _ := newTestBreaker(1)
	changes := make(chan [2]State, 4)
	cb.OnStateChange(func(from, to State) { changes <- [2]State{from, to} })

	_ = cb.Execute(func() error { return errSubscribe })

	select {
	case change := <-changes:
		assert.Equal(t, [2]State{StateClosed, StateOpen}, change)
	case <-time.After(time.Second):
		t.Fatal("state change callback not invoked")
	}

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
