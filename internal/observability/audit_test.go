package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLoggerRecordToolCall(t *testing.T) {
	var buf bytes.Buffer
	a := NewAuditLogger(&buf)

	a.RecordToolCall(context.Background(), "set_job_permissions", "stdio", "failure", map[string]interface{}{
		"kind": "validation",
	})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))

	assert.Equal(t, "tool", line["event_type"])
	assert.Equal(t, "call:set_job_permissions", line["action"])
	assert.Equal(t, "failure", line["status"])
	assert.Equal(t, "stdio", line["actor"])
	assert.NotEmpty(t, line["timestamp"])

	metadata, ok := line["metadata"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "validation", metadata["kind"])
}

func TestAuditLoggerOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	a := NewAuditLogger(&buf)

	a.RecordToolCall(context.Background(), "a", "", "success", nil)
	a.RecordConfig(context.Background(), "server.start", map[string]interface{}{"transport": "stdio"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[1], `"action":"server.start"`)
}

func TestNilAuditLogger(t *testing.T) {
	var a *AuditLogger

	a.RecordToolCall(context.Background(), "noop", "", "success", nil)
	assert.NoError(t, a.Close())
}

func TestOpenAuditLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.log")

	a, err := OpenAuditLogger(path)
	require.NoError(t, err)

	a.RecordToolCall(context.Background(), "list_shares", "http", "success", nil)
	require.NoError(t, a.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "call:list_shares")
}
