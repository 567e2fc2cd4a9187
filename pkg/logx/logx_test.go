package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestWriter_FieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "reminder"))

	log.Debug("hidden")
	log.Info("sent", Int("n", 2), Date("due", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)), Err(nil))
	log.Warn("failed", Err(errors.New("boom")))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "sent", lines[0]["message"])
	assert.Equal(t, "reminder", lines[0]["comp"])
	assert.Equal(t, float64(2), lines[0]["n"])
	assert.Equal(t, "2024-03-05", lines[0]["due"])
	assert.NotContains(t, lines[0], "err")
	assert.True(t, strings.HasPrefix(lines[0]["caller"].(string), "logx_test.go:"))
	assert.Equal(t, "boom", lines[1]["err"])
}

func TestZeroAndNop(t *testing.T) {
	var zero Logger
	assert.True(t, zero.IsZero())
	assert.False(t, Nop().IsZero())
	assert.NotPanics(t, func() {
		zero.Info("x")
		zero.With(String("a", "b")).Error("y")
		Nop().Warn("z")
	})
}

func TestService_ApplySwapsSinks(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.log")
	second := filepath.Join(dir, "b.log")

	svc, log := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: first}})
	defer svc.Close()
	child := log.With(String("comp", "test"))

	child.Debug("one")
	svc.Apply(Config{Level: "warn", File: FileConfig{Enabled: true, Path: second}})
	child.Info("dropped")
	child.Warn("two")
	require.NoError(t, svc.Close())

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Contains(t, string(a), `"message":"one"`)
	assert.NotContains(t, string(b), "dropped")
	assert.Contains(t, string(b), `"message":"two"`)
	assert.Contains(t, string(b), `"comp":"test"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "warn", parseLevel(" WARNING ", 0).String())
	assert.Equal(t, "info", parseLevel("verbose", parseLevel("info", 0)).String())
}
