package backoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/artemis/bucketsinit/internal/backoff"
	"github.com/artemis/bucketsinit/internal/bucketserr"
)

func alwaysTransient(error) bool { return true }
func neverTransient(error) bool  { return false }

func TestRunner_SucceedsOnFirstAttempt(t *testing.T) {
	r := backoff.New(zap.NewNop(), "test-phase")
	calls := 0
	err := r.Run(context.Background(), "test-phase", func(ctx context.Context) error {
		calls++
		return nil
	}, alwaysTransient, 0)

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRunner_RetriesTransientThenSucceeds(t *testing.T) {
	r := backoff.New(zap.NewNop(), "test-phase")
	calls := 0
	err := r.Run(context.Background(), "test-phase", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient hiccup")
		}
		return nil
	}, alwaysTransient, 0)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRunner_TerminalErrorStopsImmediately(t *testing.T) {
	r := backoff.New(zap.NewNop(), "test-phase")
	calls := 0
	terminal := bucketserr.New(bucketserr.KindInvalidBucketConfig, "bad config")

	err := r.Run(context.Background(), "test-phase", func(ctx context.Context) error {
		calls++
		return terminal
	}, neverTransient, 0)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, bucketserr.HasKind(err, bucketserr.KindInvalidBucketConfig))
}

func TestRunner_MaxAttemptsReached(t *testing.T) {
	r := backoff.New(zap.NewNop(), "test-phase")
	calls := 0

	err := r.Run(context.Background(), "test-phase", func(ctx context.Context) error {
		calls++
		return errors.New("always fails")
	}, alwaysTransient, 3)

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, bucketserr.HasKind(err, bucketserr.KindMaxAttemptsReached))
}

func TestRunner_CancellationStopsRetrying(t *testing.T) {
	r := backoff.New(zap.NewNop(), "test-phase")
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := r.Run(ctx, "test-phase", func(ctx context.Context) error {
		calls++
		return errors.New("keeps failing")
	}, alwaysTransient, 0)

	require.Error(t, err)
	assert.True(t, bucketserr.HasKind(err, bucketserr.KindCanceled))
}
