package asyncoro

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterLogger_FiltersByLevel(t *testing.T) {
	var lines []string
	l := NewWriterLogger(LevelWarn, func(s string) { lines = append(lines, s) })

	l.Log(LogEntry{Level: LevelInfo, Component: "scheduler", Message: "tick"})
	require.Empty(t, lines)

	l.Log(LogEntry{Level: LevelError, Component: "scheduler", Message: "boom", CoroID: 7})
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "boom")
	require.Contains(t, lines[0], "coro=7")
}

func TestNewStumpyLogger_EmitsJSONLine(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStumpyLogger(&buf, LevelInfo)

	require.True(t, logger.IsEnabled(LevelInfo))
	require.False(t, logger.IsEnabled(LevelDebug))

	logger.Log(LogEntry{Level: LevelInfo, Component: "scheduler", Message: "spawned", CoroID: 3})

	out := buf.String()
	require.True(t, strings.Contains(out, "spawned"))
	require.True(t, strings.Contains(out, "scheduler"))
}
