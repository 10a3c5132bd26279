package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewJSONRespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New("warn", "json", &buf)
	logger.Info("hidden")
	logger.Warn("shown", "run_id", 7)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "shown", entry["msg"])
	require.EqualValues(t, 7, entry["run_id"])
}

func TestNewTextIsDefaultFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	New("bogus", "", &buf).Info("hello")
	require.Contains(t, buf.String(), "msg=hello")
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	require.Same(t, slog.Default(), FromContext(context.Background()))

	logger := Discard()
	ctx := WithLogger(context.Background(), logger)
	require.Same(t, logger, FromContext(ctx))
}
