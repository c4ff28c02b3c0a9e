package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreGlobalLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })
}

func TestNewSetsGlobalLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":         zerolog.InfoLevel,
		"debug":    zerolog.DebugLevel,
		"Warn":     zerolog.WarnLevel,
		"ERROR":    zerolog.ErrorLevel,
		"disabled": zerolog.Disabled,
	}

	for input, want := range cases {
		t.Run("level_"+input, func(t *testing.T) {
			restoreGlobalLevel(t)

			var buf bytes.Buffer
			_, err := New("production", input, &buf)
			require.NoError(t, err)
			assert.Equal(t, want, zerolog.GlobalLevel())
		})
	}
}

func TestNewInvalidLevel(t *testing.T) {
	restoreGlobalLevel(t)

	_, err := New("production", "not-a-level")
	assert.Error(t, err)
}

func TestComponentFields(t *testing.T) {
	restoreGlobalLevel(t)

	var buf bytes.Buffer
	base, err := New("production", "info", &buf)
	require.NoError(t, err)

	componentLog := Component(*base, "adapter")
	componentLog.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "adapter", entry["component"])
	assert.Equal(t, "whatsapp", entry["channel"])
	assert.Equal(t, "hello", entry["message"])
}
