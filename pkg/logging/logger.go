// Package logging provides the structured logger used across the job
// master: zap configured the same way in every process, plus a
// request-ID context helper for correlating agent RPCs with the log
// lines they produce.
package logging

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ContextKey is the type for context keys.
type ContextKey string

const (
	// RequestIDKey is the context key for request ID.
	RequestIDKey ContextKey = "requestID"
)

// NewLogger creates a new structured logger.
func NewLogger(development bool) (*zap.Logger, error) {
	var config zap.Config
	if development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	// Always use ISO8601 time encoding.
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return nil, err
	}

	return logger, nil
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context) context.Context {
	requestID := uuid.New().String()
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithRequestIDField adds the request ID field to a logger if present in context.
func WithRequestIDField(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if requestID := GetRequestID(ctx); requestID != "" {
		return logger.With(zap.String("requestID", requestID))
	}
	return logger
}

// LogTransition logs a node status transition.
func LogTransition(logger *zap.Logger, nodeType, nodeID, fromStatus, toStatus, eventType string) {
	logger.Info("node transition",
		zap.String("nodeType", nodeType),
		zap.String("nodeID", nodeID),
		zap.String("fromStatus", fromStatus),
		zap.String("toStatus", toStatus),
		zap.String("eventType", eventType),
	)
}

// LogRelaunchDecision logs a relaunch allow/deny decision with full context.
func LogRelaunchDecision(logger *zap.Logger, nodeType, nodeID string, allow bool, relaunchCount, maxRelaunchCount int32, reason string) {
	logger.Info("relaunch decision",
		zap.String("nodeType", nodeType),
		zap.String("nodeID", nodeID),
		zap.Bool("allow", allow),
		zap.Int32("relaunchCount", relaunchCount),
		zap.Int32("maxRelaunchCount", maxRelaunchCount),
		zap.String("reason", reason),
	)
}

// LogScalePlan logs a scale plan about to be handed to the scheduler.
func LogScalePlan(logger *zap.Logger, launch, remove int, groupTypes int, psAddrs int) {
	logger.Info("emitting scale plan",
		zap.Int("launchNodes", launch),
		zap.Int("removeNodes", remove),
		zap.Int("groupTypes", groupTypes),
		zap.Int("psAddrs", psAddrs),
	)
}

// LogEarlyStop logs an early-stop decision with its reason.
func LogEarlyStop(logger *zap.Logger, reason, message string) {
	logger.Error("early stop decision",
		zap.String("exitReason", reason),
		zap.String("message", message),
	)
}

// LogClusterError logs a transient cluster (watch/list) error that the
// pipeline backs off from rather than aborts on.
func LogClusterError(logger *zap.Logger, op string, err error, backoff string) {
	logger.Warn("transient cluster error",
		zap.String("op", op),
		zap.Error(err),
		zap.String("backoff", backoff),
	)
}

// LogBadEvent logs a single event that failed processing without aborting
// the pipeline.
func LogBadEvent(logger *zap.Logger, eventType, nodeType, nodeID string, err error) {
	logger.Error("dropping bad event",
		zap.String("eventType", eventType),
		zap.String("nodeType", nodeType),
		zap.String("nodeID", nodeID),
		zap.Error(err),
	)
}
