package intake

import (
	"log/slog"
	"time"

	"github.com/telegate/gwcore/model"
)

// Result is the outcome Submit returns (spec §4.1).
type Result string

const (
	Success         Result = model.StatusSuccess
	ForbiddenDevice Result = model.StatusForbiddenDevice
	Failure         Result = model.StatusFailure
)

// DeviceFilter decides whether a connector may submit data for a
// device name, when thingsboard.deviceFiltering is enabled.
type DeviceFilter interface {
	Allowed(connectorName, deviceName string) bool
}

// allowAll is the default filter when device filtering is disabled.
type allowAll struct{}

func (allowAll) Allowed(string, string) bool { return true }

// Intake is the Conversion Intake (spec §4.1). It accepts either a
// ConvertedData or the legacy mapping shape (model.ConvertedData and
// model.LegacySubmission decode identically) and pushes accepted
// records onto an unbounded queue for the Storage Writer to drain.
type Intake struct {
	queue        *queue
	filter       DeviceFilter
	strategy     Strategy
	latencyDebug bool
	now          func() time.Time
}

// Options configures a new Intake.
type Options struct {
	Filter       DeviceFilter // nil means allow everything
	Strategy     Strategy     // nil means Disabled (always forward)
	LatencyDebug bool
	Now          func() time.Time // nil means time.Now
}

func New(opts Options) *Intake {
	filter := opts.Filter
	if filter == nil {
		filter = allowAll{}
	}
	strategy := opts.Strategy
	if strategy == nil {
		strategy = Disabled
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Intake{queue: newQueue(), filter: filter, strategy: strategy, latencyDebug: opts.LatencyDebug, now: now}
}

// Submit implements spec §4.1's submit(connectorName, connectorId, data).
func (in *Intake) Submit(connectorName, connectorID string, data *model.ConvertedData) Result {
	if !in.filter.Allowed(connectorName, data.DeviceName) {
		slog.Warn("intake: device rejected by filter", "connector", connectorName, "device", data.DeviceName)
		return ForbiddenDevice
	}

	if !data.Valid() {
		slog.Warn("intake: dropping invalid submission", "connector", connectorName, "device", data.DeviceName)
		return Failure
	}

	if patched := data.NormalizeTimestamps(in.now); patched > 0 {
		slog.Warn("intake: substituted wall-clock timestamp for non-positive ts", "connector", connectorName, "device", data.DeviceName, "count", patched)
	}

	if in.latencyDebug {
		if data.Metadata == nil {
			data.Metadata = map[string]any{}
		}
		data.Metadata["ts_ingress"] = in.now().UnixMilli()
	}

	decision, err := in.strategy.Decide(data)
	if err != nil {
		slog.Warn("intake: report-strategy evaluation failed, forwarding anyway", "error", err)
		decision = Forward
	}
	switch decision {
	case Suppress:
		return Success
	case Batch, Forward:
		// BATCH and FORWARD both reach the same queue; the distinction
		// is meaningful to the Storage Writer's collection window, not
		// to acceptance here.
	}

	in.queue.push(Item{ConnectorName: connectorName, ConnectorID: connectorID, Data: data})
	return Success
}

// Drain is the Storage Writer's consumption point (spec §4.2): up to
// maxItems, waiting up to maxWait for the first item when the queue is
// empty; whatever is queued is returned without waiting for more.
func (in *Intake) Drain(maxItems int, maxWait time.Duration, stopCh <-chan struct{}) []Item {
	return in.queue.popBatch(maxItems, maxWait, stopCh)
}

// Len reports the current queue depth, for the intake-depth metric.
func (in *Intake) Len() int { return in.queue.len() }
