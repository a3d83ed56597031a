package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestConnectRetriesThenSucceeds(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	calls := 0
	err := Connect(context.Background(), RetryPolicy{Attempts: 3, Delay: time.Millisecond}, zap.New(core), "fake",
		func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("refused")
			}
			return nil
		})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, 2, logs.FilterMessage("storage connection attempt failed").Len())
	require.Equal(t, 1, logs.FilterMessage("storage connected").Len())
}

func TestConnectExhaustion(t *testing.T) {
	calls := 0
	err := Connect(context.Background(), RetryPolicy{Attempts: 2, Delay: time.Millisecond}, nil, "fake",
		func(context.Context) error {
			calls++
			return errors.New("refused")
		})
	require.ErrorIs(t, err, ErrConnect)
	require.Contains(t, err.Error(), "after 2 attempts")
	require.Equal(t, 2, calls)
}

func TestConnectHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Connect(ctx, RetryPolicy{Attempts: 5, Delay: time.Hour}, nil, "fake",
		func(context.Context) error { return errors.New("refused") })
	require.ErrorIs(t, err, ErrConnect)
}

func TestBackendWrapping(t *testing.T) {
	require.NoError(t, Backend("op", nil))
	require.Same(t, ErrNotFound, Backend("op", ErrNotFound))

	err := Backend("get user", errors.New("io timeout"))
	require.ErrorIs(t, err, ErrBackend)
	require.NotErrorIs(t, err, ErrNotFound)
	require.Equal(t, "storage backend error: get user: io timeout", err.Error())

	// Already-classified errors are not wrapped twice.
	require.Same(t, err, Backend("outer", err))
}
