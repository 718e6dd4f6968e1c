package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
)

// Circuit Breaker Tests

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestBreaker(maxFailures uint32, cooldown time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker("test", maxFailures, cooldown)
	cb.now = clock.Now
	return cb, clock
}

func TestCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker("owner-poll", 0, 0)

	assert.Equal(t, "owner-poll", cb.Name())
	assert.Equal(t, uint32(5), cb.maxFailures)
	assert.Equal(t, 30*time.Second, cb.cooldown)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ExecuteSuccess(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Minute)

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})

	assert.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Minute)
	boom := errors.New("boom")

	assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	assert.Equal(t, StateClosed, cb.State())

	assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Minute)
	boom := errors.New("boom")

	_ = cb.Execute(func() error { return boom })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return boom })

	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenTrial(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Minute)
	boom := errors.New("boom")

	_ = cb.Execute(func() error { return boom })
	assert.Equal(t, StateOpen, cb.State())

	clock.now = clock.now.Add(time.Minute)
	assert.Equal(t, StateHalfOpen, cb.State())

	// failed trial reopens
	assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	assert.Equal(t, StateOpen, cb.State())

	clock.now = clock.now.Add(time.Minute)
	assert.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_StateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
}

// Redis Tests

func TestRedisHealthCheck(t *testing.T) {
	db, mock := redismock.NewClientMock()

	mock.ExpectPing().SetVal("PONG")
	assert.NoError(t, RedisHealthCheck(db))

	mock.ExpectPing().SetErr(errors.New("connection refused"))
	err := RedisHealthCheck(db)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis health check failed")

	assert.NoError(t, mock.ExpectationsWereMet())
}
