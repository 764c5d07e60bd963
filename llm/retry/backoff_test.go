package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/aichatter/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

func fastPolicy(maxRetries int) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		RetryIf:      func(error) bool { return true },
	}
}

func TestBackoffRetryer_Success(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func(int) error {
		callCount++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount)
}

func TestBackoffRetryer_RetryAndSuccess(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	var attempts []int
	err := retryer.Do(context.Background(), func(attempt int) error {
		attempts = append(attempts, attempt)
		if attempt < 2 {
			return errors.New("temporary error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, attempts)
}

func TestBackoffRetryer_MaxRetriesExceeded(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(2), zap.NewNop())

	callCount := 0
	testErr := errors.New("persistent error")
	err := retryer.Do(context.Background(), func(int) error {
		callCount++
		return testErr
	})

	require.Error(t, err)
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, testErr)
	assert.Equal(t, 3, callCount)
}

func TestBackoffRetryer_ContextCanceled(t *testing.T) {
	policy := fastPolicy(5)
	policy.InitialDelay = 200 * time.Millisecond
	policy.MaxDelay = time.Second
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	callCount := 0
	testErr := errors.New("error")
	err := retryer.Do(ctx, func(int) error {
		callCount++
		return testErr
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, testErr)
	assert.Equal(t, 1, callCount)
}

func TestBackoffRetryer_DefaultRetryIfUsesLLMError(t *testing.T) {
	policy := fastPolicy(3)
	policy.RetryIf = nil
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	tests := []struct {
		name      string
		err       error
		wantCalls int
	}{
		{name: "retryable llm error", err: &llm.Error{Code: llm.ErrUpstreamTimeout, Retryable: true}, wantCalls: 4},
		{name: "non-retryable llm error", err: &llm.Error{Code: llm.ErrModelNotFound}, wantCalls: 1},
		{name: "plain error", err: errors.New("plain"), wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := retryer.Do(context.Background(), func(int) error {
				calls++
				return tt.err
			})
			assert.Error(t, err)
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestBackoffRetryer_PermanentStopsRetry(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	inner := errors.New("stream broke after output")
	calls := 0
	err := retryer.Do(context.Background(), func(int) error {
		calls++
		return Permanent(inner)
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, inner)
	assert.Nil(t, Permanent(nil))
}

func TestBackoffRetryer_OnRetryCallback(t *testing.T) {
	policy := fastPolicy(2)
	var seen []int
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		seen = append(seen, attempt)
		assert.Error(t, err)
		assert.Positive(t, delay)
	}
	retryer := NewBackoffRetryer(policy, nil)
	_ = retryer.Do(context.Background(), func(int) error { return errors.New("x") })
	assert.Equal(t, []int{1, 2}, seen)
}

func TestNewBackoffRetryer_Normalizes(t *testing.T) {
	r := NewBackoffRetryer(&RetryPolicy{MaxRetries: -1, Multiplier: 0.5}, nil).(*backoffRetryer)
	assert.Equal(t, 0, r.policy.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, r.policy.InitialDelay)
	assert.Equal(t, 5*time.Second, r.policy.MaxDelay)
	assert.Equal(t, 2.0, r.policy.Multiplier)
	assert.NotNil(t, r.policy.RetryIf)

	d := NewBackoffRetryer(nil, nil).(*backoffRetryer)
	assert.Equal(t, 2, d.policy.MaxRetries)
}

func TestDoWithResult(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(2), zap.NewNop())

	val, err := DoWithResult(context.Background(), retryer, func(attempt int) (string, error) {
		if attempt == 0 {
			return "", errors.New("first")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", val)

	val, err = DoWithResult(context.Background(), retryer, func(int) (string, error) {
		return "partial", Permanent(errors.New("fail"))
	})
	assert.Error(t, err)
	assert.Empty(t, val)
}

// 延迟始终落在 [InitialDelay, MaxDelay*1.25] 区间内
func TestProperty_CalculateDelayBounded(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		initial := time.Duration(rapid.IntRange(1, 1000).Draw(rt, "initial_ms")) * time.Millisecond
		maxDelay := initial * time.Duration(rapid.IntRange(1, 50).Draw(rt, "factor"))
		r := NewBackoffRetryer(&RetryPolicy{
			MaxRetries:   5,
			InitialDelay: initial,
			MaxDelay:     maxDelay,
			Multiplier:   rapid.Float64Range(1, 4).Draw(rt, "mult"),
			Jitter:       rapid.Bool().Draw(rt, "jitter"),
		}, nil).(*backoffRetryer)

		attempt := rapid.IntRange(1, 10).Draw(rt, "attempt")
		d := r.calculateDelay(attempt)
		if d < initial {
			rt.Fatalf("delay %v below initial %v", d, initial)
		}
		if float64(d) > float64(maxDelay)*1.25+1 {
			rt.Fatalf("delay %v above cap %v", d, maxDelay)
		}
	})
}
