package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfigYAMLUnmarshaling(t *testing.T) {
	doc := `
log_level: debug
log_format: json
recognition:
  endpoint: http://10.0.0.5:8000/api/analyze
  envelope: minimal
  strict_response: true
pipeline:
  filter: sepia
  orientation: "270"
  max_width: 512
server:
  port: 9000
  rate_limit_enabled: true
`
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(doc), &cfg))

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "http://10.0.0.5:8000/api/analyze", cfg.Recognition.Endpoint)
	assert.Equal(t, "minimal", cfg.Recognition.Envelope)
	assert.True(t, cfg.Recognition.StrictResponse)
	assert.Equal(t, "sepia", cfg.Pipeline.Filter)
	assert.Equal(t, "270", cfg.Pipeline.Orientation)
	assert.Equal(t, 512, cfg.Pipeline.MaxWidth)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.True(t, cfg.Server.RateLimitEnabled)
}

func TestConfigJSONUsesSnakeCase(t *testing.T) {
	data, err := json.Marshal(DefaultConfig())
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Contains(t, m, "log_level")
	assert.Contains(t, m, "recognition")

	pipeline, ok := m["pipeline"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, pipeline, "max_payload_bytes")
	assert.Contains(t, pipeline, "history_display")

	server, ok := m["server"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, server, "requests_per_minute")
}

func TestConfigYAMLRoundTripKeepsDefaults(t *testing.T) {
	orig := DefaultConfig()
	data, err := yaml.Marshal(orig)
	require.NoError(t, err)

	var back Config
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, orig, back)
}
