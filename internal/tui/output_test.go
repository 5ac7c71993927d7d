package tui

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOutput(t *testing.T) {
	var buf bytes.Buffer
	assert.IsType(t, &JSONOutput{}, NewOutput(&buf, FormatJSON))
	assert.IsType(t, &TTYOutput{}, NewOutput(&buf, FormatText))
	assert.IsType(t, &TTYOutput{}, NewOutput(&buf, FormatMarkdown))
}

func TestTTYOutput(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	var buf bytes.Buffer
	out := NewTTYOutput(&buf)

	out.Success("plan complete")
	out.Warning("task retried")
	out.Error(errors.New("boom"))
	out.Info("hello")

	s := buf.String()
	assert.Contains(t, s, "✓ plan complete")
	assert.Contains(t, s, "⚠ task retried")
	assert.Contains(t, s, "✗ boom")
	assert.Contains(t, s, "hello")
	assert.Equal(t, &buf, out.Writer())
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	out := NewJSONOutput(&buf)

	out.Info("ignored")
	out.Error(errors.New("boom"))

	var msg map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &msg))
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "boom", msg["message"])

	buf.Reset()
	require.NoError(t, out.JSON(map[string]int{"n": 1}))
	assert.JSONEq(t, `{"n":1}`, buf.String())
}

func TestRenderMarkdown_NotATerminal(t *testing.T) {
	var buf bytes.Buffer
	got, err := RenderMarkdown(&buf, "# Title\n")
	require.NoError(t, err)
	assert.Equal(t, "# Title\n", got)
}
