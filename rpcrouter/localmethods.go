package rpcrouter

import (
	"context"
	"errors"
	"fmt"

	"github.com/blang/semver/v4"

	"github.com/telegate/gwcore/connector"
	"github.com/telegate/gwcore/registry"
)

var (
	errMissingRenameNames = errors.New("rpcrouter: device_renamed requires oldName and newName")
	errMissingDeviceName  = errors.New("rpcrouter: device_deleted requires name")
)

// ConnectorLister is the full connector set, for the "stats" and
// "devices" local methods.
type ConnectorLister interface {
	All() []connector.Connector
}

// MessageCounter is the Storage Writer's canonical per-connector
// incoming-message count (spec §4.2 step 5), surfaced by "stats"
// alongside each connector's own self-reported counters. A nil
// counter leaves messagesReceived at the connector-reported value.
type MessageCounter interface {
	MessageCount(connectorName string) int64
}

// RegisterBuiltins wires the gateway's local method table (spec §4.5):
// ping, stats, devices, update, version, device_renamed, device_deleted.
// reloadCheck is invoked by "update" to force an out-of-band config poll
// instead of waiting for the Watchdog's own tick.
func RegisterBuiltins(r *GatewayRouter, reg *registry.Registry, connectors ConnectorLister, counts MessageCounter, version string, reloadCheck func()) {
	r.RegisterLocal("ping", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"success": true}, nil
	})

	r.RegisterLocal("version", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"version": version}, nil
	})

	r.RegisterLocal("stats", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		out := make(map[string]any)
		for _, c := range connectors.All() {
			s := c.Stats()
			received := s.MessagesReceived
			if counts != nil {
				received = counts.MessageCount(c.Name())
			}
			out[c.Name()] = map[string]any{
				"messagesReceived": received,
				"messagesSent":     s.MessagesSent,
			}
		}
		return out, nil
	})

	r.RegisterLocal("devices", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		devices := reg.GetDevices("")
		names := make([]string, 0, len(devices))
		for _, d := range devices {
			names = append(names, d.Name)
		}
		return map[string]any{"devices": names}, nil
	})

	r.RegisterLocal("update", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		if minVersion, _ := params["minVersion"].(string); minVersion != "" {
			if err := requireVersionAtLeast(version, minVersion); err != nil {
				return nil, err
			}
		}
		if reloadCheck != nil {
			reloadCheck()
		}
		return map[string]any{"success": true}, nil
	})

	r.RegisterLocal("device_renamed", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		oldName, _ := params["oldName"].(string)
		newName, _ := params["newName"].(string)
		if oldName == "" || newName == "" {
			return nil, errMissingRenameNames
		}
		reg.RenameEvent(oldName, newName)
		return map[string]any{"success": true}, nil
	})

	r.RegisterLocal("device_deleted", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		name, _ := params["name"].(string)
		if name == "" {
			return nil, errMissingDeviceName
		}
		reg.DeleteEvent(name)
		return map[string]any{"success": true}, nil
	})
}

// requireVersionAtLeast rejects an "update" RPC that targets a
// newer gateway than the one actually running, so a platform-side
// config push meant for a feature this build doesn't have yet fails
// loudly instead of reloading into a half-understood config. Malformed
// version strings (e.g. the "dev" build tag) are never blocking.
func requireVersionAtLeast(running, minVersion string) error {
	currentVer, err := semver.Parse(running)
	if err != nil {
		return nil
	}
	requiredVer, err := semver.Parse(minVersion)
	if err != nil {
		return fmt.Errorf("rpcrouter: update minVersion %q is not a valid semver string", minVersion)
	}
	if currentVer.LT(requiredVer) {
		return fmt.Errorf("rpcrouter: update requires gateway version >= %s, running %s", minVersion, running)
	}
	return nil
}
