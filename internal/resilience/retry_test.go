package resilience

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastSleep records requested delays without actually sleeping.
func fastSleep(delays *[]time.Duration) func(ctx context.Context, d time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestDoVal_SucceedsAfterTransientFailures(t *testing.T) {
	var delays []time.Duration
	cfg := DefaultRetryConfig()
	cfg.sleep = fastSleep(&delays)

	calls := 0
	val, err := DoVal(context.Background(), cfg, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(eris.New("server error"), 500)
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, 3, calls)
	// Exponential backoff: 1s then 2s.
	require.Len(t, delays, 2)
	assert.Equal(t, 1*time.Second, delays[0])
	assert.Equal(t, 2*time.Second, delays[1])
}

func TestDoVal_RateLimitUsesFixedCooldown(t *testing.T) {
	var delays []time.Duration
	cfg := DefaultRetryConfig()
	cfg.sleep = fastSleep(&delays)

	calls := 0
	_, err := DoVal(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, NewTransientError(eris.New("too many requests"), http.StatusTooManyRequests)
		}
		return 42, nil
	})

	require.NoError(t, err)
	require.Len(t, delays, 1)
	assert.Equal(t, 60*time.Second, delays[0])
}

func TestDoVal_FatalErrorNotRetried(t *testing.T) {
	cfg := DefaultRetryConfig()
	calls := 0
	_, err := DoVal(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		return 0, NewFatalError(eris.New("payment required"), "quota exhausted")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsFatal(err))
}

func TestDoVal_TimeoutNotRetried(t *testing.T) {
	cfg := DefaultRetryConfig()
	calls := 0
	_, err := DoVal(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		return 0, eris.New("read tcp 10.0.0.1:443: i/o timeout")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoVal_ExhaustsAttempts(t *testing.T) {
	var delays []time.Duration
	cfg := DefaultRetryConfig()
	cfg.sleep = fastSleep(&delays)

	calls := 0
	_, err := DoVal(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		return 0, NewTransientError(eris.New("bad gateway"), 502)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, delays, 2)
}

func TestDo_ContextCancellationStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Do(ctx, DefaultRetryConfig(), func(ctx context.Context) error {
		calls++
		cancel()
		return NewTransientError(eris.New("server error"), 503)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestClassifyHTTPStatus(t *testing.T) {
	base := eris.New("provider error")

	assert.True(t, IsFatal(ClassifyHTTPStatus(base, 402)))
	assert.True(t, IsFatal(ClassifyHTTPStatus(base, 401)))
	assert.True(t, IsRateLimited(ClassifyHTTPStatus(base, 429)))
	assert.True(t, IsTransient(ClassifyHTTPStatus(base, 500)))
	assert.True(t, IsTransient(ClassifyHTTPStatus(base, 503)))

	// 4xx other than auth/quota/ratelimit stays permanent.
	err := ClassifyHTTPStatus(base, 404)
	assert.False(t, IsTransient(err))
	assert.False(t, IsFatal(err))
}
