package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_SucceedsOnFirstAttempt(t *testing.T) {
	e := New(nil, nil, nil)
	calls := 0
	result := e.ExecuteWithRetry(context.Background(), func(ctx context.Context, ac AttemptContext) (interface{}, error) {
		calls++
		return "ok", nil
	}, Config{MaxAttempts: 3})

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, RecoveryDirect, result.RecoveryAction)
	assert.Equal(t, 1, calls)
}

func TestEngine_MaxAttemptsOneFailsImmediately(t *testing.T) {
	e := New(nil, nil, nil)
	result := e.ExecuteWithRetry(context.Background(), func(ctx context.Context, ac AttemptContext) (interface{}, error) {
		return nil, NewRecoverable(errors.New("boom"))
	}, Config{MaxAttempts: 1})

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, RecoveryNone, result.RecoveryAction)
}

func TestEngine_CriticalErrorStopsImmediately(t *testing.T) {
	e := New(nil, nil, nil)
	calls := 0
	result := e.ExecuteWithRetry(context.Background(), func(ctx context.Context, ac AttemptContext) (interface{}, error) {
		calls++
		return nil, NewCritical(errors.New("fatal"))
	}, Config{MaxAttempts: 5})

	assert.False(t, result.Success)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, result.Attempts)
}

// TestEngine_EscalationLadder mirrors scenario S6.
func TestEngine_EscalationLadder(t *testing.T) {
	contextRefreshCalls := 0
	userGuidanceCalls := 0

	contextRefresh := func(ctx context.Context) error {
		contextRefreshCalls++
		return nil
	}
	userGuidance := func(ctx context.Context, lastErr error, ac AttemptContext) (string, error) {
		userGuidanceCalls++
		return "continue", nil
	}

	e := New(contextRefresh, userGuidance, nil)

	attempt := 0
	result := e.ExecuteWithRetry(context.Background(), func(ctx context.Context, ac AttemptContext) (interface{}, error) {
		attempt++
		if attempt < 3 {
			return nil, NewRecoverable(errors.New("transient"))
		}
		return "done", nil
	}, Config{
		MaxAttempts:          3,
		InitialDelay:         time.Millisecond,
		MaxDelay:             10 * time.Millisecond,
		BackoffMultiplier:    2,
		EnableContextRefresh: true,
		EnableUserGuidance:   true,
	})

	require.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, RecoveryUserGuidance, result.RecoveryAction)
	assert.Equal(t, 1, contextRefreshCalls)
	assert.Equal(t, 1, userGuidanceCalls)
}

func TestEngine_UserGuidanceCancelSentinelAbortsRetries(t *testing.T) {
	e := New(nil, func(ctx context.Context, lastErr error, ac AttemptContext) (string, error) {
		return "", nil
	}, nil)

	attempts := 0
	result := e.ExecuteWithRetry(context.Background(), func(ctx context.Context, ac AttemptContext) (interface{}, error) {
		attempts++
		return nil, NewRecoverable(errors.New("fail"))
	}, Config{MaxAttempts: 5, InitialDelay: time.Millisecond, EnableUserGuidance: true})

	assert.False(t, result.Success)
	assert.Equal(t, 2, attempts, "must stop once user guidance returns the cancel sentinel on attempt 3")
}

func TestEngine_BatchSequentialStopsOnFirstFailure(t *testing.T) {
	e := New(nil, nil, nil)
	var ran []string
	ops := []NamedOperation{
		{Name: "a", Op: func(ctx context.Context, ac AttemptContext) (interface{}, error) {
			ran = append(ran, "a")
			return nil, nil
		}},
		{Name: "b", Op: func(ctx context.Context, ac AttemptContext) (interface{}, error) {
			ran = append(ran, "b")
			return nil, NewRecoverable(errors.New("fail"))
		}},
		{Name: "c", Op: func(ctx context.Context, ac AttemptContext) (interface{}, error) {
			ran = append(ran, "c")
			return nil, nil
		}},
	}

	results := e.ExecuteBatchWithRetry(context.Background(), ops, Config{MaxAttempts: 1}, false, true)

	assert.Equal(t, []string{"a", "b"}, ran)
	assert.Len(t, results, 2)
}

func TestEngine_BatchParallelRunsAllOperations(t *testing.T) {
	e := New(nil, nil, nil)
	ops := []NamedOperation{
		{Name: "a", Op: func(ctx context.Context, ac AttemptContext) (interface{}, error) { return nil, nil }},
		{Name: "b", Op: func(ctx context.Context, ac AttemptContext) (interface{}, error) {
			return nil, NewRecoverable(errors.New("fail"))
		}},
		{Name: "c", Op: func(ctx context.Context, ac AttemptContext) (interface{}, error) { return nil, nil }},
	}

	results := e.ExecuteBatchWithRetry(context.Background(), ops, Config{MaxAttempts: 1}, true, true)

	require.Len(t, results, 3)
	succeeded := 0
	for _, r := range results {
		if r.Result.Success {
			succeeded++
		}
	}
	assert.Equal(t, 2, succeeded)
}

func TestBackoffDelay_ExponentialFormula(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, BackoffMultiplier: 2, MaxDelay: time.Second}
	assert.Equal(t, 200*time.Millisecond, backoffDelay(cfg, 2))
	assert.Equal(t, 400*time.Millisecond, backoffDelay(cfg, 3))
	assert.Equal(t, 800*time.Millisecond, backoffDelay(cfg, 4))
}

func TestBackoffDelay_CappedAtMaxDelay(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, BackoffMultiplier: 10, MaxDelay: 500 * time.Millisecond}
	assert.Equal(t, 500*time.Millisecond, backoffDelay(cfg, 5))
}
