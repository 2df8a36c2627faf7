package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ble-bridge.klederson.com/internal/config"
)

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOutput(config.LoggerConfig{Level: "debug", Format: "json"}, &buf)

	l.WithField("address", "D5:A7:E6:7B:AE:82").Debug("connected")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "connected", entry["msg"])
	assert.Equal(t, "D5:A7:E6:7B:AE:82", entry["address"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, logrus.WarnLevel, parseLevel("warn"))
	assert.Equal(t, logrus.InfoLevel, parseLevel("nonsense"))
}

func TestTextLoggerFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOutput(config.LoggerConfig{Level: "warn"}, &buf)

	l.Info("hidden")
	l.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
