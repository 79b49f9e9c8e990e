package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/telegate/gwcore/model"
)

// deviceRecord is the on-disk shape of one connected_devices.json entry
// (spec §6.4): { connectorName, connectorId, deviceType, renaming|null,
// disconnected }.
type deviceRecord struct {
	ConnectorName string  `json:"connectorName"`
	ConnectorID   string  `json:"connectorId"`
	DeviceType    string  `json:"deviceType"`
	Renaming      *string `json:"renaming"`
	Disconnected  bool    `json:"disconnected"`
}

type snapshotStore struct {
	path string
}

func newSnapshotStore(path string) *snapshotStore {
	return &snapshotStore{path: path}
}

// load reads connected_devices.json, accepting both the current object
// form and the legacy array form
// [connectorName, deviceType, renamedTo?]. Unknown/unparseable entries
// are skipped with a warning rather than failing the whole load.
func (s *snapshotStore) load() (map[string]deviceRecord, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]deviceRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: read snapshot %s: %w", s.path, err)
	}
	if len(raw) == 0 {
		return map[string]deviceRecord{}, nil
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("registry: parse snapshot %s: %w", s.path, err)
	}

	out := make(map[string]deviceRecord, len(generic))
	for name, msg := range generic {
		var rec deviceRecord
		if err := json.Unmarshal(msg, &rec); err == nil {
			out[name] = rec
			continue
		}

		var legacy []json.RawMessage
		if err := json.Unmarshal(msg, &legacy); err != nil || len(legacy) < 2 {
			continue
		}
		var connectorName, deviceType string
		_ = json.Unmarshal(legacy[0], &connectorName)
		_ = json.Unmarshal(legacy[1], &deviceType)
		rec = deviceRecord{ConnectorName: connectorName, DeviceType: deviceType}
		if len(legacy) >= 3 {
			var renamedTo string
			if json.Unmarshal(legacy[2], &renamedTo) == nil && renamedTo != "" {
				rec.Renaming = &renamedTo
			}
		}
		out[name] = rec
	}
	return out, nil
}

// save writes the current state under a single lock, atomically
// (write-temp-then-rename), per spec §4.4.
func (s *snapshotStore) save(connected, disconnected map[string]*model.Device, renaming map[string]string) error {
	out := make(map[string]deviceRecord, len(connected)+len(disconnected))

	for name, d := range connected {
		rec := deviceRecord{ConnectorName: d.ConnectorName, ConnectorID: d.ConnectorID, DeviceType: d.Type}
		if target, ok := renaming[name]; ok {
			rec.Renaming = &target
		}
		out[name] = rec
	}
	for name, d := range disconnected {
		rec := deviceRecord{ConnectorName: d.ConnectorName, ConnectorID: d.ConnectorID, DeviceType: d.Type, Disconnected: true}
		if target, ok := renaming[name]; ok {
			rec.Renaming = &target
		}
		out[name] = rec
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("registry: create snapshot dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("registry: create temp snapshot: %w", err)
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
	return os.Rename(tmp.Name(), s.path)
}
