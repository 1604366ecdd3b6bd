package rtlog

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: Warn, Format: Text, Output: &buf})
	l.Info("should be dropped", nil)
	l.Warn("should appear", nil)
	out := buf.String()
	require.NotContains(t, out, "should be dropped")
	require.Contains(t, out, "should appear")
}

func TestWithMergesFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: Debug, Format: JSON, Output: &buf})
	sub := l.With(Fields{"worker": 3})
	sub.Info("hello", Fields{"tag": 1})

	var rec map[string]any
	require.NoError(t, json.NewDecoder(strings.NewReader(buf.String())).Decode(&rec))
	require.EqualValues(t, 3, rec["worker"])
	require.EqualValues(t, 1, rec["tag"])
	require.Equal(t, "hello", rec["msg"])
	require.Equal(t, "info", rec["level"])
}

func TestNopDiscardsEverything(t *testing.T) {
	l := Nop()
	l.Error("this must not panic or write anywhere", Fields{"x": 1})
}
