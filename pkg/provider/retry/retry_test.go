package retry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gleitzeit/gleitzeit/pkg/errors"
	"github.com/gleitzeit/gleitzeit/pkg/provider/retry"
	"github.com/gleitzeit/gleitzeit/pkg/task"
)

func TestExecuteSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	result, attempts, err := retry.Execute(context.Background(), retry.DefaultPolicy(), nil,
		func(ctx context.Context, attempt int) (interface{}, error) {
			calls++
			return "ok", nil
		})
	require.NoError(t, err)
	require.Equal(t, "ok", result)
	require.Equal(t, 1, attempts)
	require.Equal(t, 1, calls)
}

func TestExecuteRetriesRetryableErrorThenSucceeds(t *testing.T) {
	policy := task.RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Strategy: task.RetryFixed}
	calls := 0
	result, attempts, err := retry.Execute(context.Background(), policy, nil,
		func(ctx context.Context, attempt int) (interface{}, error) {
			calls++
			if calls < 2 {
				return nil, &errors.ProviderTimeout{ProviderID: "p1", Timeout: "1s"}
			}
			return "recovered", nil
		})
	require.NoError(t, err)
	require.Equal(t, "recovered", result)
	require.Equal(t, 2, attempts)
}

func TestExecuteStopsOnNonRetryableError(t *testing.T) {
	policy := task.RetryPolicy{MaxAttempts: 5, InitialDelay: time.Millisecond, Strategy: task.RetryFixed}
	calls := 0
	_, attempts, err := retry.Execute(context.Background(), policy, nil,
		func(ctx context.Context, attempt int) (interface{}, error) {
			calls++
			return nil, &errors.ValidationError{Field: "x", Message: "bad"}
		})
	require.Error(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, 1, attempts)
}

func TestExecuteExhaustsMaxAttempts(t *testing.T) {
	policy := task.RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Strategy: task.RetryFixed}
	calls := 0
	_, attempts, err := retry.Execute(context.Background(), policy, nil,
		func(ctx context.Context, attempt int) (interface{}, error) {
			calls++
			return nil, &errors.ProviderTimeout{ProviderID: "p1", Timeout: "1s"}
		})
	require.Error(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, 3, attempts)
}
