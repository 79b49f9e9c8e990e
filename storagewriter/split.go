package storagewriter

import (
	"encoding/json"

	"github.com/telegate/gwcore/model"
)

// split implements spec §4.2 step 6: break rec into fragments whose
// serialized size each stays at or under limit (0.9×maxPayloadSize,
// computed by the caller). Attributes are coalesced into one fragment
// until that fragment would exceed the limit; telemetry is first merged
// so entries with identical timestamps share one values map, then split
// at entry boundaries. A single attribute or merged telemetry entry
// that alone exceeds the limit becomes its own fragment, over the
// limit; it is not split further.
func split(rec *model.ConvertedData, limit int) []*model.ConvertedData {
	var fragments []*model.ConvertedData

	if len(rec.Attributes) > 0 {
		fragments = append(fragments, splitAttributes(rec, limit)...)
	}

	if len(rec.Telemetry) > 0 {
		fragments = append(fragments, splitTelemetry(rec, limit)...)
	}

	if len(fragments) == 0 {
		// No telemetry or attributes (shouldn't happen past Valid()),
		// but never drop metadata-only records silently.
		fragments = append(fragments, &model.ConvertedData{
			DeviceName:    rec.DeviceName,
			DeviceType:    rec.DeviceType,
			Metadata:      rec.Metadata,
			ConnectorName: rec.ConnectorName,
		})
	}
	return fragments
}

func splitAttributes(rec *model.ConvertedData, limit int) []*model.ConvertedData {
	base := &model.ConvertedData{DeviceName: rec.DeviceName, DeviceType: rec.DeviceType, Metadata: rec.Metadata, ConnectorName: rec.ConnectorName}
	if fits(withAttributes(base, rec.Attributes), limit) {
		return []*model.ConvertedData{withAttributes(base, rec.Attributes)}
	}

	// Attribute set alone exceeds the limit: add keys to the current
	// fragment until the next one would push it over, then start a new
	// fragment, so nothing is dropped.
	var out []*model.ConvertedData
	current := map[string]any{}
	for k, v := range rec.Attributes {
		current[k] = v
		if len(current) > 1 && !fits(withAttributes(base, current), limit) {
			delete(current, k)
			out = append(out, withAttributes(base, current))
			current = map[string]any{k: v}
		}
	}
	if len(current) > 0 {
		out = append(out, withAttributes(base, current))
	}
	return out
}

func withAttributes(base *model.ConvertedData, attrs map[string]any) *model.ConvertedData {
	cp := *base
	cp.Attributes = attrs
	return &cp
}

func splitTelemetry(rec *model.ConvertedData, limit int) []*model.ConvertedData {
	base := &model.ConvertedData{DeviceName: rec.DeviceName, DeviceType: rec.DeviceType, Metadata: rec.Metadata, ConnectorName: rec.ConnectorName}

	grouped := groupByTimestamp(rec.Telemetry)

	var out []*model.ConvertedData
	var current []model.TelemetryEntry

	flush := func() {
		if len(current) > 0 {
			cp := *base
			cp.Telemetry = current
			out = append(out, &cp)
			current = nil
		}
	}

	for _, entry := range grouped {
		candidate := append(append([]model.TelemetryEntry(nil), current...), entry)
		trial := *base
		trial.Telemetry = candidate
		if fits(&trial, limit) || len(current) == 0 {
			current = candidate
			continue
		}
		flush()
		current = []model.TelemetryEntry{entry}
	}
	flush()
	return out
}

// groupByTimestamp merges telemetry entries sharing an identical ts
// into one entry with a combined values map, preserving first-seen
// order (spec §4.2 step 6).
func groupByTimestamp(entries []model.TelemetryEntry) []model.TelemetryEntry {
	order := make([]int64, 0, len(entries))
	byTS := make(map[int64]map[string]any, len(entries))

	for _, e := range entries {
		values, ok := byTS[e.TS]
		if !ok {
			values = map[string]any{}
			byTS[e.TS] = values
			order = append(order, e.TS)
		}
		for k, v := range e.Values {
			values[k] = v
		}
	}

	out := make([]model.TelemetryEntry, 0, len(order))
	for _, ts := range order {
		out = append(out, model.TelemetryEntry{TS: ts, Values: byTS[ts]})
	}
	return out
}

func fits(rec *model.ConvertedData, limit int) bool {
	b, err := json.Marshal(rec)
	if err != nil {
		return false
	}
	return len(b) <= limit
}
