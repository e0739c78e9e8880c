// Package logger holds the process-wide slog logger used by the billing
// engine, plus helpers that trace repository and collaborator calls at debug
// level and scope records to a rental or job.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

var current atomic.Pointer[slog.Logger]

// ParseLevel maps a configured level name to a slog level
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
}

// ParseFormat normalises a configured handler format
func ParseFormat(format string) (string, error) {
	switch strings.ToLower(format) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown log format %q", format)
}

// Initialize installs the global logger writing to stdout. Unknown level or
// format names fall back to info and text; config validation rejects them
// before this point.
func Initialize(level, format string) {
	InitializeWithWriter(os.Stdout, level, format)
}

// InitializeWithWriter is Initialize with an explicit destination
func InitializeWithWriter(w io.Writer, level, format string) {
	lvl, _ := ParseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if f, _ := ParseFormat(format); f == FormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	l := slog.New(handler)
	current.Store(l)
	slog.SetDefault(l)
}

func get() *slog.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	Initialize("info", FormatText)
	return current.Load()
}

func Debug(msg string, args ...any) { get().Debug(msg, args...) }
func Info(msg string, args ...any)  { get().Info(msg, args...) }
func Warn(msg string, args ...any)  { get().Warn(msg, args...) }
func Error(msg string, args ...any) { get().Error(msg, args...) }

// InfoContext passes ctx to handlers that read request-scoped values
func InfoContext(ctx context.Context, msg string, args ...any) {
	get().InfoContext(ctx, msg, args...)
}

// WithService scopes records to one service of the engine
func WithService(name string) *slog.Logger {
	return get().With("service", name)
}

// WithRental scopes records to one rental's unit of work
func WithRental(rentalID int32) *slog.Logger {
	return get().With("rental_id", rentalID)
}

// WithJob scopes records to a batch job run
func WithJob(jobName string) *slog.Logger {
	return get().With("job", jobName)
}

func trace(level slog.Level, msg string, lead []any, args []any) {
	get().Log(context.Background(), level, msg, append(lead, args...)...)
}

// EnterMethod and ExitMethod bracket service and repository methods at debug level
func EnterMethod(method string, args ...any) {
	trace(slog.LevelDebug, "→ Method entered", []any{"method", method, "event", "enter"}, args)
}

func ExitMethod(method string, args ...any) {
	trace(slog.LevelDebug, "← Method exited", []any{"method", method, "event", "exit"}, args)
}

// ExitMethodWithError logs at error level so failed units of work show up
// without debug logging
func ExitMethodWithError(method string, err error, args ...any) {
	trace(slog.LevelError, "← Method exited with error", []any{"method", method, "event", "exit", "error", err}, args)
}

// DatabaseCall and DatabaseResult trace the batch queries that select work
func DatabaseCall(operation, table string, args ...any) {
	trace(slog.LevelDebug, "→ Database call", []any{"operation", operation, "table", table}, args)
}

func DatabaseResult(operation string, rows int64, err error, args ...any) {
	lead := []any{"operation", operation, "rows", rows}
	if err != nil {
		trace(slog.LevelError, "← Database call failed", append(lead, "error", err), args)
		return
	}
	trace(slog.LevelDebug, "← Database call succeeded", lead, args)
}

// ExternalServiceCall and ExternalServiceResult trace payment, payout, email
// and event collaborator calls
func ExternalServiceCall(service, operation string, args ...any) {
	trace(slog.LevelDebug, "→ External service call", []any{"service", service, "operation", operation}, args)
}

func ExternalServiceResult(service, operation string, err error, args ...any) {
	lead := []any{"service", service, "operation", operation}
	if err != nil {
		trace(slog.LevelError, "← External service call failed", append(lead, "error", err), args)
		return
	}
	trace(slog.LevelDebug, "← External service call succeeded", lead, args)
}
