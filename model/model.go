// Package model holds the gateway's wire-level and registry-level data
// types: the canonical ConvertedData record a connector submits, the
// telemetry/attribute shapes it carries, and the Device entry the
// registry keeps per device name.
package model

import (
	"context"
	"time"
)

// Future is the handle a Platform Client publish call returns (spec
// §6.3: "every send returns a handle whose get() yields a
// success/error code"). Get blocks until the platform confirms
// delivery at the configured QoS, or the context is done.
type Future interface {
	Get(ctx context.Context) error
}

// TelemetryEntry is one timestamped sample. Values may be any JSON
// scalar or nested structure; the gateway never interprets them.
type TelemetryEntry struct {
	TS     int64          `json:"ts"`
	Values map[string]any `json:"values"`
}

// ConvertedData is the canonical record a connector hands to the
// conversion intake, after it has parsed whatever wire format its
// device protocol speaks (out of scope for this module).
type ConvertedData struct {
	DeviceName string                 `json:"deviceName"`
	DeviceType string                 `json:"deviceType,omitempty"`
	Telemetry  []TelemetryEntry       `json:"telemetry,omitempty"`
	Attributes map[string]any         `json:"attributes,omitempty"`
	Metadata   map[string]any         `json:"metadata,omitempty"`

	// ConnectorName is stamped by the Storage Writer before the record is
	// written to the event store, so the Dispatcher can attribute
	// outgoing sends back to the connector that produced them. Never set
	// by the connector itself.
	ConnectorName string `json:"connectorName,omitempty"`
}

// LegacySubmission is the older mapping shape the intake must also
// accept: {deviceName, deviceType?, telemetry, attributes}. It decodes
// into the same field set as ConvertedData, so conversion is a type
// rename rather than a remapping.
type LegacySubmission = ConvertedData

// NormalizeTimestamps substitutes the current wall-clock millisecond
// time for any non-positive ts, per the ConvertedData invariant in the
// data model: every telemetry entry must carry a positive ts. Returns
// the number of entries that were substituted, for a warning log.
func (c *ConvertedData) NormalizeTimestamps(now func() time.Time) int {
	var patched int
	for i := range c.Telemetry {
		if c.Telemetry[i].TS <= 0 {
			c.Telemetry[i].TS = now().UnixMilli()
			patched++
		}
	}
	return patched
}

// Valid reports whether the record has the minimum shape the storage
// writer requires: a device name, and at least one telemetry entry or
// one attribute.
func (c *ConvertedData) Valid() bool {
	if c.DeviceName == "" {
		return false
	}
	return len(c.Telemetry) > 0 || len(c.Attributes) > 0
}

// Device is a registry entry. The owning connector is referenced only
// by ConnectorName and ConnectorID, never by pointer, so the registry
// never owns a connector's lifecycle.
type Device struct {
	Name                string
	Type                string
	ConnectorName       string
	ConnectorID         string
	LastReceivingDataTS time.Time
	Disconnected        bool
}

const (
	StatusSuccess         = "SUCCESS"
	StatusForbiddenDevice = "FORBIDDEN_DEVICE"
	StatusFailure         = "FAILURE"
)

// GatewayDeviceName is the pseudo-device the gateway stamps its own
// submissions with (storage writer step 1), bypassing registry checks.
const GatewayDeviceName = "currentThingsBoardGateway"

// GatewayDeviceType is the device type for the gateway pseudo-device.
const GatewayDeviceType = "gateway"
