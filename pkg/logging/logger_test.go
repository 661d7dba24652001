package logging

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	for _, development := range []bool{true, false} {
		logger, err := NewLogger(development)
		require.NoError(t, err)
		require.NotNil(t, logger)
		logger.Info("test message")
	}
}

func TestWithRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background())
	id := GetRequestID(ctx)
	assert.Len(t, id, 36)
}

func TestGetRequestID_Empty(t *testing.T) {
	assert.Empty(t, GetRequestID(context.Background()))
}

func TestWithRequestIDField(t *testing.T) {
	logger, err := NewLogger(false)
	require.NoError(t, err)

	withID := WithRequestIDField(WithRequestID(context.Background()), logger)
	assert.NotNil(t, withID)

	withoutID := WithRequestIDField(context.Background(), logger)
	assert.Same(t, logger, withoutID)
}

func TestLoggingHelpersDoNotPanic(t *testing.T) {
	logger, err := NewLogger(false)
	require.NoError(t, err)

	LogTransition(logger, "worker", "3", "running", "failed", "deleted")
	LogRelaunchDecision(logger, "worker", "3", true, 1, 3, "")
	LogScalePlan(logger, 1, 0, 2, 3)
	LogEarlyStop(logger, "PENDING_TIMEOUT", "deficit persisted")
	LogClusterError(logger, "watch", errors.New("boom"), "30s")
	LogBadEvent(logger, "modified", "ps", "0", errors.New("bad payload"))
}

func TestRequestIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id := GetRequestID(WithRequestID(context.Background()))
		assert.False(t, seen[id])
		seen[id] = true
	}
}
