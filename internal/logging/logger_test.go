package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatterWritesFixedKeysAndMovesClashes(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"component": "realtime",
		"msg":       "shadowed",
	}).WithError(errors.New("boom")).Warn("channel dropped")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "channel dropped", line["msg"])
	assert.Equal(t, "warning", line["level"])
	assert.Equal(t, ModuleName, line["module"])
	assert.Equal(t, "realtime", line["component"])
	assert.Equal(t, "shadowed", line["fields.msg"])
	assert.Equal(t, "boom", line["error"])
	assert.NotEmpty(t, line["time"])
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, _, err := New(Options{Level: "chatty"})
	require.Error(t, err)
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "tasksync.log")
	logger, closer, err := New(Options{Level: "debug", File: path})
	require.NoError(t, err)

	logger.Debug("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}
