package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("warn", &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.WithField("repo", "octo/demo").Warn("still processing")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "still processing")
	assert.Contains(t, out, "octo/demo")
}

func TestNew_DefaultLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("", &buf)
	require.NoError(t, err)

	logger.Info("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New("chatty", nil)
	require.Error(t, err)
}
