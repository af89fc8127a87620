package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigJSON = `{
  "log_level": "debug",
  "patches": {
    "wake_ecu": {
      "can_id": 1824,
      "payload": "0201030000000000",
      "response_id": 2016,
      "timeout_ms": 500,
      "retries": 3
    }
  },
  "uds": {
    "ecu_request_id": 1824,
    "ecu_response_id": 2016,
    "flow_control": {"block_size": 0, "st_min_ms": 0},
    "dtcs": {
      "P20F9": {"description": "NOx sensor", "severity": "CRITICAL", "component": "aftertreatment", "alert": true}
    }
  }
}`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(testConfigJSON), 0o644))
	return path
}

func TestJSONLoaderParsesConfig(t *testing.T) {
	cfg, err := JSONLoader{}.Load(writeTestConfig(t))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, uint32(1824), cfg.UDS.EcuRequestID)
	assert.Equal(t, uint32(2016), cfg.UDS.EcuResponseID)

	patch, ok := cfg.Patches["wake_ecu"]
	require.True(t, ok)
	payload, err := patch.Payload()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x01, 0x03, 0, 0, 0, 0, 0}, payload)

	entry, ok := cfg.UDS.DTCs["P20F9"]
	require.True(t, ok)
	assert.True(t, entry.Alert)
	assert.Equal(t, "CRITICAL", entry.Severity)
}

func TestJSONLoaderMissingFile(t *testing.T) {
	_, err := JSONLoader{}.Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestJSONLoaderMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := JSONLoader{}.Load(path)
	assert.Error(t, err)
}
