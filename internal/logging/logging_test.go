package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_JSONOutputWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", JSONOutput: true, Output: &buf})
	t.Cleanup(func() {
		Logger = zerolog.Nop()
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	})

	l := WithStore("channel", 5)
	l.Info().Msg("opened")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "channel", line["component"])
	assert.Equal(t, float64(5), line["store_id"])
	assert.Equal(t, "opened", line["message"])
}

func TestInit_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "loud", JSONOutput: true, Output: &buf})
	t.Cleanup(func() {
		Logger = zerolog.Nop()
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	})

	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	Logger.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())
}
