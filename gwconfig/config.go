// Package gwconfig loads the gateway's top-level configuration and each
// connector's sidecar file. JSON is the native on-disk format; YAML is
// accepted on first load and rewritten as JSON with a deprecation
// warning, the same migrate-on-read posture the teacher's engine
// package uses for its own YAML snapshots (engine/persist.go).
package gwconfig

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level gateway configuration object (spec §6.4's
// tb_gateway.json / §6.5's recognized knobs), decoded under the
// historical "thingsboard" section name so every knob in §6.5 keeps
// its documented path.
type Config struct {
	Thingsboard  Thingsboard    `json:"thingsboard"`
	Storage      Storage        `json:"storage"`
	Connectors   []ConnectorRef `json:"connectors"`
	GRPC         GRPC           `json:"grpc,omitempty"`
	Logging      Logging        `json:"logging,omitempty"`
	CustomRPCDir string         `json:"customRpcDir,omitempty"`
}

type Thingsboard struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Token    string `json:"accessToken,omitempty"`

	MinPackSendDelayMS                   int                    `json:"minPackSendDelayMS"`
	MinPackSizeToSend                    int                    `json:"minPackSizeToSend"`
	MaxPayloadSizeBytes                  int                    `json:"maxPayloadSizeBytes"`
	LatencyDebugMode                     bool                   `json:"latencyDebugMode"`
	SyncDevicesSharedAttributesOnConnect bool                   `json:"syncDevicesSharedAttributesOnConnect"`
	CheckingDeviceActivity               CheckingDeviceActivity `json:"checkingDeviceActivity"`
	CheckConnectorsConfigurationInSeconds int                   `json:"checkConnectorsConfigurationInSeconds"`
	HandleDeviceRenaming                 bool                   `json:"handleDeviceRenaming"`
	ReportStrategy                       ReportStrategy          `json:"reportStrategy"`
	RemoteConfiguration                  bool                   `json:"remoteConfiguration"`
	RemoteShell                          bool                   `json:"remoteShell"`
	Statistics                           bool                   `json:"statistics"`
	DeviceFiltering                      bool                   `json:"deviceFiltering"`
}

type CheckingDeviceActivity struct {
	CheckDeviceInactivity         bool `json:"checkDeviceInactivity"`
	InactivityCheckPeriodSeconds  int  `json:"inactivityCheckPeriodSeconds"`
	InactivityTimeoutSeconds      int  `json:"inactivityTimeoutSeconds"`
}

// ReportStrategy configures the intake filter (spec §4.1, SPEC_FULL §3
// Report-strategy program). Type "DISABLED" bypasses the filter
// entirely; any other type requires Script, an inline JS program
// evaluated per submission.
type ReportStrategy struct {
	Type   string `json:"type"`
	Script string `json:"script,omitempty"`
}

const (
	ReportStrategyDisabled = "DISABLED"
)

type Storage struct {
	Type   string         `json:"type"` // memory | file | sqlite (database/sql, driver chosen via config.driverName; "sql" also accepted)
	Config map[string]any `json:"config,omitempty"`
}

type ConnectorRef struct {
	Name         string `json:"name"`
	ConfigFile   string `json:"configuration"`
	ReportStrategy *ReportStrategy `json:"reportStrategy,omitempty"`
}

type GRPC struct {
	Enabled    bool   `json:"enabled"`
	ListenAddr string `json:"listenAddr,omitempty"`
}

type Logging struct {
	Level   string `json:"level,omitempty"`
	NoColor bool   `json:"noColor,omitempty"`
}

// ApplyDefaults fills in every knob in spec §6.5 that was left zero.
func (c *Config) ApplyDefaults() {
	tb := &c.Thingsboard
	if tb.MinPackSendDelayMS == 0 {
		tb.MinPackSendDelayMS = 50
	}
	if tb.MinPackSizeToSend == 0 {
		tb.MinPackSizeToSend = 500
	}
	if tb.MaxPayloadSizeBytes == 0 {
		tb.MaxPayloadSizeBytes = 8196
	}
	if tb.CheckConnectorsConfigurationInSeconds == 0 {
		tb.CheckConnectorsConfigurationInSeconds = 60
	}
	if tb.CheckingDeviceActivity.InactivityCheckPeriodSeconds == 0 {
		tb.CheckingDeviceActivity.InactivityCheckPeriodSeconds = 10
	}
	if tb.CheckingDeviceActivity.InactivityTimeoutSeconds == 0 {
		tb.CheckingDeviceActivity.InactivityTimeoutSeconds = 300
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "memory"
	}
	if tb.ReportStrategy.Type == "" {
		tb.ReportStrategy.Type = ReportStrategyDisabled
	}
	// HandleDeviceRenaming and SyncDevicesSharedAttributesOnConnect
	// default true (spec §6.5); json.Unmarshal leaves an absent bool at
	// its zero value, so ApplyDefaults cannot tell an explicit "false"
	// from "absent". Load handles them by seeding both true
	// (defaultConfig) before decoding; a Config built any other way
	// keeps whatever value it was given.
}

// Load reads path, migrating YAML to JSON on first read. It returns the
// parsed Config and the raw bytes actually parsed (JSON, post-migration),
// for version hashing by callers that need a change fingerprint.
func Load(path string) (*Config, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("gwconfig: read %s: %w", path, err)
	}

	jsonBytes := raw
	if looksLikeYAML(raw) {
		slog.Warn("gwconfig: top-level config is YAML, migrating to JSON", "path", path)
		var generic map[string]any
		if err := yaml.Unmarshal(raw, &generic); err != nil {
			return nil, nil, fmt.Errorf("gwconfig: parse YAML %s: %w", path, err)
		}
		jsonBytes, err = json.MarshalIndent(generic, "", "  ")
		if err != nil {
			return nil, nil, fmt.Errorf("gwconfig: re-encode %s as JSON: %w", path, err)
		}
		if err := writeFileAtomic(path, jsonBytes); err != nil {
			slog.Warn("gwconfig: failed to rewrite migrated config", "path", path, "error", err)
		}
	}

	cfg := defaultConfig()
	if err := json.Unmarshal(jsonBytes, cfg); err != nil {
		return nil, nil, fmt.Errorf("gwconfig: parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return cfg, jsonBytes, nil
}

// defaultConfig seeds the bool knobs that default true, so a JSON
// decode that's silent about them (field absent) keeps the true
// default instead of json.Unmarshal's zero value.
func defaultConfig() *Config {
	return &Config{
		Thingsboard: Thingsboard{
			SyncDevicesSharedAttributesOnConnect: true,
			HandleDeviceRenaming:                 true,
		},
	}
}

func looksLikeYAML(b []byte) bool {
	trimmed := trimLeadingSpace(b)
	if len(trimmed) == 0 {
		return false
	}
	return trimmed[0] != '{' && trimmed[0] != '['
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	return b[i:]
}

// writeFileAtomic mirrors the teacher's temp-file-then-rename pattern
// (engine/persist.go FlushToFile) for every config rewrite in this
// package.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
