package monitoring

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSessions) DeleteExpired(context.Context) (int64, error) {
	f.calls.Add(1)
	return 3, f.err
}

type fakeLimiter struct{ calls atomic.Int32 }

func (f *fakeLimiter) Sweep() int {
	f.calls.Add(1)
	return 1
}

func TestSweepCallsEveryTarget(t *testing.T) {
	sessions := &fakeSessions{}
	a, b := &fakeLimiter{}, &fakeLimiter{}
	s, err := NewSweeper("@every 1h", sessions, a, b)
	require.NoError(t, err)

	s.Sweep()

	assert.Equal(t, int32(1), sessions.calls.Load())
	assert.Equal(t, int32(1), a.calls.Load())
	assert.Equal(t, int32(1), b.calls.Load())
}

func TestSweepContinuesAfterSessionError(t *testing.T) {
	sessions := &fakeSessions{err: errors.New("database is locked")}
	l := &fakeLimiter{}
	s, err := NewSweeper("@every 1h", sessions, l)
	require.NoError(t, err)

	s.Sweep()

	assert.Equal(t, int32(1), l.calls.Load())
}

func TestNewSweeperRejectsBadSchedule(t *testing.T) {
	_, err := NewSweeper("every five minutes", &fakeSessions{})
	assert.Error(t, err)
}

func TestRunSweepsImmediatelyAndStops(t *testing.T) {
	sessions := &fakeSessions{}
	s, err := NewSweeper("@every 1h", sessions)
	require.NoError(t, err)

	s.Run()
	assert.Equal(t, int32(1), sessions.calls.Load())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestCollectSystemInfo(t *testing.T) {
	info, err := CollectSystemInfo(context.Background())
	if err != nil {
		t.Skipf("host statistics unavailable: %v", err)
	}
	assert.NotEmpty(t, info.GoVersion)
	assert.Positive(t, info.Goroutines)
}
