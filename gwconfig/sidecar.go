package gwconfig

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

// Sidecar is a connector's freeform configuration file, decoded into a
// generic map since each connector type defines its own shape — the
// lifecycle controller only cares about "type", "id", and "name".
type Sidecar struct {
	Path     string
	Name     string
	Type     string
	ID       string
	Raw      map[string]any
	ModTime  time.Time
}

// LoadSidecar reads a connector's sidecar file, injecting a stable id
// and mirroring the top-level entry's name if either is missing, and
// persisting the file back when it does so (spec §4.6 step 2, §6.4).
func LoadSidecar(ref ConnectorRef) (*Sidecar, error) {
	info, err := os.Stat(ref.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("gwconfig: stat sidecar %s: %w", ref.ConfigFile, err)
	}

	raw, err := os.ReadFile(ref.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("gwconfig: read sidecar %s: %w", ref.ConfigFile, err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("gwconfig: parse sidecar %s: %w", ref.ConfigFile, err)
	}

	dirty := false

	id, _ := doc["id"].(string)
	if id == "" {
		id = uuid.NewString()
		doc["id"] = id
		dirty = true
		slog.Info("gwconfig: generated stable connector id", "connector", ref.Name, "id", id)
	}

	if name, _ := doc["name"].(string); name != ref.Name {
		doc["name"] = ref.Name
		dirty = true
	}

	typeName, _ := doc["type"].(string)
	if typeName == "" {
		return nil, fmt.Errorf("gwconfig: sidecar %s is missing required \"type\" field", ref.ConfigFile)
	}

	if dirty {
		if out, err := json.MarshalIndent(doc, "", "  "); err == nil {
			if err := writeFileAtomic(ref.ConfigFile, out); err != nil {
				slog.Warn("gwconfig: failed to persist sidecar", "connector", ref.Name, "error", err)
			}
		}
	}

	return &Sidecar{
		Path:    ref.ConfigFile,
		Name:    ref.Name,
		Type:    typeName,
		ID:      id,
		Raw:     doc,
		ModTime: info.ModTime(),
	}, nil
}

// DeepCopyConfig returns an independent copy of the sidecar's raw
// configuration, the shape each Connector constructor receives (spec
// §4.6 step 3: "construct the connector with a deep copy").
func (s *Sidecar) DeepCopyConfig() map[string]any {
	out := make(map[string]any, len(s.Raw))
	for k, v := range s.Raw {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = deepCopyValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = deepCopyValue(vv)
		}
		return out
	default:
		return v
	}
}
