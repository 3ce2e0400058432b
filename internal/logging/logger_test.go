package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/ensemble-forecast/internal/config"
)

func TestNewLogger(t *testing.T) {
	t.Run("prod writes json with base attributes", func(t *testing.T) {
		t.Setenv("ENSEMBLE_APP_ENV", "prod")
		cfg, err := config.New()
		require.NoError(t, err)

		var buf bytes.Buffer
		logger := newLogger(&buf, cfg, "1.2.3", "ensemble-forecast")
		logger.Error("feed failed", Err(errors.New("boom")))

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "ensemble-forecast", line["app"])
		assert.Equal(t, "1.2.3", line["version"])
		assert.Equal(t, "prod", line["env"])
		assert.Equal(t, "boom", line["error"])
	})

	t.Run("dev writes text and honours level", func(t *testing.T) {
		t.Setenv("ENSEMBLE_APP_ENV", "dev")
		t.Setenv("ENSEMBLE_LOGLEVEL", "warn")
		cfg, err := config.New()
		require.NoError(t, err)

		var buf bytes.Buffer
		logger := newLogger(&buf, cfg, "dev", "ensemble-forecast")
		logger.Info("hidden")
		logger.Warn("shown")

		out := buf.String()
		assert.False(t, strings.Contains(out, "hidden"))
		assert.True(t, strings.Contains(out, "shown"))
	})
}
