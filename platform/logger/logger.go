// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Context key types for storing values in context
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// TopicKey is the context key for the notification topic being handled
	TopicKey contextKey = "topic"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	return NewWithWriter(env, os.Stdout)
}

// NewWithWriter creates a logger that writes to w. Tests use it to capture output.
func NewWithWriter(env string, w io.Writer) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// ContextWithRequestID stores the HTTP request id for WithContext.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// ContextWithTopic stores the notification topic for WithContext.
func ContextWithTopic(ctx context.Context, topic string) context.Context {
	return context.WithValue(ctx, TopicKey, topic)
}

// WithContext returns a logger with context values extracted.
// Supports request_id and topic from context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	newLogger := l

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		newLogger = newLogger.WithRequestID(requestID)
	}

	if topic, ok := ctx.Value(TopicKey).(string); ok && topic != "" {
		newLogger = newLogger.WithTopic(topic)
	}

	return newLogger
}

// WithRequestID returns a logger with request ID
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("request_id", requestID)),
	}
}

// WithTopic returns a logger scoped to a notification topic
func (l *Logger) WithTopic(topic string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("topic", topic)),
	}
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// SubscriptionChanged logs a subscription state transition (subscribed, waiting, unsubscribed).
func (l *Logger) SubscriptionChanged(topic, action string, attrs ...any) {
	args := append([]any{slog.String("topic", topic), slog.String("action", action)}, attrs...)
	l.Info("subscription_changed", args...)
}

// SubscriptionFailed logs a subscribe or unsubscribe failure.
func (l *Logger) SubscriptionFailed(topic, action string, err error) {
	l.Warn("subscription_failed",
		slog.String("topic", topic),
		slog.String("action", action),
		slog.String("error", err.Error()),
	)
}

// EventDropped logs a notification event that was not applied to the snapshot.
func (l *Logger) EventDropped(topic, conversationID, reason string) {
	l.Debug("event_dropped",
		slog.String("topic", topic),
		slog.String("conversation_id", conversationID),
		slog.String("reason", reason),
	)
}

// BootstrapStep logs progress through the startup pipeline.
func (l *Logger) BootstrapStep(step string, attrs ...any) {
	args := append([]any{slog.String("step", step)}, attrs...)
	l.Info("bootstrap_step", args...)
}

// RateLimitExceeded logs rate limit events
func (l *Logger) RateLimitExceeded(clientIP, path string) {
	l.Warn("rate_limit_exceeded",
		slog.String("client_ip", clientIP),
		slog.String("path", path),
	)
}
