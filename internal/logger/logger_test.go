package logger

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.String())
	}
}

func TestTextOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	Info("frame dispatched", Verb("LIST_FILES"), Client("127.0.0.1:9999"))

	out := buf.String()
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "frame dispatched")
	assert.Contains(t, out, "verb=LIST_FILES")
	assert.Contains(t, out, "client=127.0.0.1:9999")
}

func TestTextOutputOrdersKnownFields(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	// Fields arrive out of vocabulary order; the handler reorders them so
	// the error always trails the identity and filesystem fields.
	Info("upload failed", Err(errors.New("boom")), Path("/srv/a.txt"), Client("127.0.0.1:9999"))

	out := buf.String()
	clientIdx := strings.Index(out, "client=")
	pathIdx := strings.Index(out, "path=")
	errIdx := strings.Index(out, "error=")
	require.NotEqual(t, -1, clientIdx)
	require.NotEqual(t, -1, pathIdx)
	require.NotEqual(t, -1, errIdx)
	assert.Less(t, clientIdx, pathIdx)
	assert.Less(t, pathIdx, errIdx)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text", false)

	Debug("should not appear")
	Info("should not appear either")
	Warn("warning shows")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "warning shows")

	// Restore default level for other tests
	SetLevel("INFO")
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json", false)

	Info("sync started", Chunks(3))

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "{"), "JSON output should start with {")
	assert.Contains(t, out, `"msg":"sync started"`)
	assert.Contains(t, out, `"chunks":3`)

	SetFormat("text")
}

func TestFieldConstructors(t *testing.T) {
	assert.Equal(t, KeyVerb, Verb("CD").Key)
	assert.Equal(t, "CD", Verb("CD").Value.String())

	assert.Equal(t, KeyPort, Port(51235).Key)
	assert.EqualValues(t, 51235, Port(51235).Value.Int64())

	// Err(nil) yields the empty attr, which the text handler drops.
	assert.True(t, Err(nil).Equal(slog.Attr{}))
	assert.Equal(t, "boom", Err(errors.New("boom")).Value.String())
}
