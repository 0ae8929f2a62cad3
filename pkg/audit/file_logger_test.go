package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileLogger(t *testing.T, cfg FileLoggerConfig) *FileLogger {
	t.Helper()
	if cfg.BasePath == "" {
		cfg.BasePath = t.TempDir()
	}
	logger, err := NewFileLogger(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { logger.Close() })
	return logger
}

func readEvents(t *testing.T, dir string) []Event {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, "audit.log"))
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestFileLoggerWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	logger := newTestFileLogger(t, FileLoggerConfig{BasePath: dir})
	ctx := context.Background()

	require.NoError(t, logger.LogAccessDecision(ctx, "u1", []string{"TENANT_ADMIN"}, "acme", "billing-dashboard", true, "/billing"))
	require.NoError(t, logger.LogAccessDecision(ctx, "u2", nil, "", "billing-dashboard", false, "/billing"))
	require.NoError(t, logger.Log(ctx, &Event{
		EventType: EventNodeDeleted,
		Status:    StatusSuccess,
		NodeID:    "cms",
		Message:   "subtree removed",
	}))
	require.NoError(t, logger.Close())

	events := readEvents(t, dir)
	require.Len(t, events, 3)

	assert.Equal(t, EventAccessGranted, events[0].EventType)
	assert.Equal(t, StatusSuccess, events[0].Status)
	assert.Equal(t, "u1", events[0].Subject)
	assert.Equal(t, []string{"TENANT_ADMIN"}, events[0].Roles)
	assert.Equal(t, "acme", events[0].Tenant)
	assert.Equal(t, "billing-dashboard", events[0].NodeID)
	assert.Equal(t, "/billing", events[0].Path)
	assert.False(t, events[0].Timestamp.IsZero())

	assert.Equal(t, EventAccessDenied, events[1].EventType)
	assert.Equal(t, StatusDenied, events[1].Status)

	assert.Equal(t, EventNodeDeleted, events[2].EventType)
	assert.False(t, events[2].Timestamp.IsZero(), "timestamp filled in when absent")
}

func TestFileLoggerRotation(t *testing.T) {
	dir := t.TempDir()
	logger := newTestFileLogger(t, FileLoggerConfig{
		BasePath: dir,
		Rotate:   true,
		MaxSize:  1, // any write pushes past this
		MaxFiles: 5,
	})
	ctx := context.Background()

	require.NoError(t, logger.Log(ctx, NewAccessEvent("u1", nil, "", "billing", true, "/")))
	require.NoError(t, logger.Log(ctx, NewAccessEvent("u2", nil, "", "billing", true, "/")))
	require.NoError(t, logger.Close())

	rotated, err := filepath.Glob(filepath.Join(dir, "audit-*.log"))
	require.NoError(t, err)
	assert.Len(t, rotated, 1, "second write must rotate the oversized file")

	events := readEvents(t, dir)
	require.Len(t, events, 1)
	assert.Equal(t, "u2", events[0].Subject)
}

func TestFileLoggerCloseIsIdempotent(t *testing.T) {
	logger := newTestFileLogger(t, FileLoggerConfig{})
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())
}

func TestNewAccessEvent(t *testing.T) {
	granted := NewAccessEvent("u1", []string{"ANALYST"}, "acme", "tenant-usage", true, "/usage")
	assert.Equal(t, EventAccessGranted, granted.EventType)
	assert.Equal(t, StatusSuccess, granted.Status)

	denied := NewAccessEvent("u1", nil, "", "tenant-usage", false, "/usage")
	assert.Equal(t, EventAccessDenied, denied.EventType)
	assert.Equal(t, StatusDenied, denied.Status)

	data, err := denied.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"event_type":"authz.access_denied"`)
	assert.NotContains(t, string(data), `"roles"`, "empty fields stay out of the payload")
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	ctx := context.Background()
	assert.NoError(t, logger.Log(ctx, &Event{EventType: EventSeedLoaded}))
	assert.NoError(t, logger.LogAccessDecision(ctx, "u1", nil, "", "billing", false, "/"))
	assert.NoError(t, logger.Close())
}
