// Package config loads the JSON configuration file named in §6: log level,
// named frame patches, and UDS/DTC table settings.
package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// Patch describes one named frame injected or matched by the CLI tools.
type Patch struct {
	CanID      uint32 `json:"can_id"`
	PayloadHex string `json:"payload"`
	ResponseID uint32 `json:"response_id"`
	TimeoutMs  int    `json:"timeout_ms"`
	Retries    int    `json:"retries"`
}

// Payload decodes PayloadHex into raw bytes.
func (p Patch) Payload() ([]byte, error) {
	return hex.DecodeString(p.PayloadHex)
}

// FlowControl is the locally-advertised block size / separation time.
type FlowControl struct {
	BlockSize byte `json:"block_size"`
	STminMs   int  `json:"st_min_ms"`
}

// DTCEntry is one row of the configured DTC lookup table.
type DTCEntry struct {
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Component   string `json:"component"`
	Alert       bool   `json:"alert"`
}

// UDS carries the ECU request/response identifiers and DTC table.
type UDS struct {
	EcuRequestID  uint32              `json:"ecu_request_id"`
	EcuResponseID uint32              `json:"ecu_response_id"`
	FlowControl   FlowControl         `json:"flow_control"`
	MaxRxSize     int                 `json:"max_rx_size"`
	DTCs          map[string]DTCEntry `json:"dtcs"`
}

// Config is the top-level shape of the JSON configuration file.
type Config struct {
	LogLevel string           `json:"log_level"`
	Patches  map[string]Patch `json:"patches"`
	UDS      UDS              `json:"uds"`
}

// Loader reads a Config from some source. Production code uses JSONLoader;
// tests can substitute an in-memory loader.
type Loader interface {
	Load(path string) (Config, error)
}

// JSONLoader reads and parses a Config from a JSON file on disk.
type JSONLoader struct{}

func (JSONLoader) Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
