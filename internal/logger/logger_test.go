package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	InitializeWithWriter(&buf, "debug", "json")
	t.Cleanup(func() { Initialize("info", "text") })

	WithRental(42).Info("billed", "invoice_number", "INV-2025-01-0001")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "billed", entry["msg"])
	assert.Equal(t, float64(42), entry["rental_id"])
	assert.Equal(t, "INV-2025-01-0001", entry["invoice_number"])
}

func TestInitializeWithWriter_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	InitializeWithWriter(&buf, "warn", "text")
	t.Cleanup(func() { Initialize("info", "text") })

	Info("hidden")
	EnterMethod("hidden.Method")
	assert.Empty(t, buf.String())

	ExternalServiceResult("payments", "collect_payment", errors.New("declined"))
	assert.Contains(t, buf.String(), "declined")
	assert.Contains(t, buf.String(), "service=payments")
}

func TestWithJob(t *testing.T) {
	var buf bytes.Buffer
	InitializeWithWriter(&buf, "info", "text")
	t.Cleanup(func() { Initialize("info", "text") })

	WithJob("process-payouts").Info("done")
	assert.Contains(t, buf.String(), "job=process-payouts")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"DEBUG", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	_, err = ParseFormat("xml")
	assert.ErrorContains(t, err, "unknown log format")
}

func TestDatabaseResult_ErrorIsAlwaysLogged(t *testing.T) {
	var buf bytes.Buffer
	InitializeWithWriter(&buf, "error", "text")
	t.Cleanup(func() { Initialize("info", "text") })

	DatabaseCall("ListDueForBilling", "rentals")
	DatabaseResult("ListDueForBilling", 3, nil)
	assert.Empty(t, buf.String())

	DatabaseResult("ListDueForBilling", 0, errors.New("connection lost"))
	assert.Contains(t, buf.String(), "operation=ListDueForBilling")
	assert.Contains(t, buf.String(), "connection lost")
}
