// Package dispatcher implements the Dispatcher / Storage Reader (spec
// §4.3): it drains the Event Store, groups records by device, and
// publishes them to the platform with at-least-once delivery — a pack
// is only acknowledged once every publish in it has been confirmed.
package dispatcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/telegate/gwcore/eventstore"
	"github.com/telegate/gwcore/metrics"
	"github.com/telegate/gwcore/model"
)

const confirmationPoolSize = 4

// Future is the handle a publish call returns; Get blocks until the
// platform confirms delivery at the configured QoS.
type Future = model.Future

// Publisher is the slice of the Platform Client capability (spec
// §6.3) the Dispatcher drives.
type Publisher interface {
	IsConnected() bool

	// Self-scoped: used only for the gateway pseudo-device.
	SendTelemetry(ctx context.Context, entries []model.TelemetryEntry) Future
	SendAttributes(ctx context.Context, attrs map[string]any) Future

	// Gateway-scoped: used for every other device.
	GwSendTelemetry(ctx context.Context, device string, entries []model.TelemetryEntry) Future
	GwSendAttributes(ctx context.Context, device string, attrs map[string]any) Future
}

// Dispatcher is the Storage Reader worker.
type Dispatcher struct {
	store              eventstore.Store
	publisher          Publisher
	rpcReplyInFlight   func() bool
	minPackSendDelay   time.Duration
}

// Options configures a Dispatcher.
type Options struct {
	Store            eventstore.Store
	Publisher        Publisher
	RPCReplyInFlight func() bool // nil means never yields to RPC replies
	MinPackSendDelay time.Duration
}

func New(opts Options) *Dispatcher {
	inFlight := opts.RPCReplyInFlight
	if inFlight == nil {
		inFlight = func() bool { return false }
	}
	return &Dispatcher{
		store:            opts.Store,
		publisher:        opts.Publisher,
		rpcReplyInFlight: inFlight,
		minPackSendDelay: opts.MinPackSendDelay,
	}
}

type deviceGroup struct {
	telemetry     []model.TelemetryEntry
	attributes    map[string]any
	connectorName string
}

// Run drives the dispatcher loop until stopCh closes. It only
// publishes while the platform is connected — callers typically gate
// invocation on that, but Run re-checks every iteration too.
func (d *Dispatcher) Run(ctx context.Context, stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if !d.publisher.IsConnected() {
			if !sleepInterruptible(d.minPackSendDelay, stopCh) {
				return
			}
			continue
		}

		pack, err := d.store.GetEventPack(ctx)
		if err != nil {
			slog.Error("dispatcher: GetEventPack failed", "error", err)
			if !sleepInterruptible(d.minPackSendDelay, stopCh) {
				return
			}
			continue
		}
		if len(pack) == 0 {
			if !sleepInterruptible(d.minPackSendDelay, stopCh) {
				return
			}
			continue
		}

		metrics.SetStoreBacklog(d.store.Len())

		if !d.processPack(ctx, pack, stopCh) {
			metrics.IncPacksAborted(ctx)
			continue // pack not acked; next GetEventPack replays it
		}

		if err := d.store.EventPackProcessingDone(ctx); err != nil {
			slog.Error("dispatcher: failed to acknowledge pack", "error", err)
			continue
		}
		metrics.IncPacksAcked(ctx)
	}
}

// processPack implements spec §4.3 steps 2-6, returning true only if
// every publish in the pack was confirmed successfully.
func (d *Dispatcher) processPack(ctx context.Context, pack [][]byte, stopCh <-chan struct{}) bool {
	groups := groupByDevice(pack)

	for d.rpcReplyInFlight() {
		if !sleepInterruptible(5*time.Millisecond, stopCh) {
			return false
		}
	}

	var futures []Future
	sent := map[string]int64{}
	for device, g := range groups {
		selfScoped := device == model.GatewayDeviceName

		if len(g.attributes) > 0 {
			if selfScoped {
				futures = append(futures, d.publisher.SendAttributes(ctx, g.attributes))
			} else {
				futures = append(futures, d.publisher.GwSendAttributes(ctx, device, g.attributes))
			}
			sent[g.connectorName]++
		}
		if len(g.telemetry) > 0 {
			if selfScoped {
				futures = append(futures, d.publisher.SendTelemetry(ctx, g.telemetry))
			} else {
				futures = append(futures, d.publisher.GwSendTelemetry(ctx, device, g.telemetry))
			}
			sent[g.connectorName]++
		}
	}

	ok := confirmAll(ctx, futures, stopCh)
	if ok {
		for connectorName, n := range sent {
			metrics.IncMessagesSent(ctx, connectorName, n)
		}
	}
	return ok
}

// confirmAll drains futures through a bounded pool of confirmationPoolSize
// workers (spec §5's Confirmation Pool); any non-success, or stopCh
// closing before every future is handed out, makes the whole pack
// report unconfirmed. Futures already handed to a worker are still
// waited on before it returns.
func confirmAll(ctx context.Context, futures []Future, stopCh <-chan struct{}) bool {
	if len(futures) == 0 {
		return true
	}

	jobs := make(chan Future)
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := true

	worker := func() {
		defer wg.Done()
		for f := range jobs {
			if err := f.Get(ctx); err != nil {
				mu.Lock()
				ok = false
				mu.Unlock()
			}
		}
	}

	workers := confirmationPoolSize
	if workers > len(futures) {
		workers = len(futures)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go worker()
	}

feed:
	for _, f := range futures {
		select {
		case jobs <- f:
		case <-stopCh:
			ok = false
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	return ok
}

// groupByDevice implements spec §4.3 step 2: decode each fragment and
// merge into a per-device {telemetry[], attributes{}} accumulator.
func groupByDevice(pack [][]byte) map[string]*deviceGroup {
	groups := map[string]*deviceGroup{}

	for _, raw := range pack {
		var rec model.ConvertedData
		if err := json.Unmarshal(raw, &rec); err != nil {
			slog.Error("dispatcher: dropping malformed event-store record", "error", err)
			continue
		}

		g, ok := groups[rec.DeviceName]
		if !ok {
			g = &deviceGroup{attributes: map[string]any{}}
			groups[rec.DeviceName] = g
		}
		g.telemetry = append(g.telemetry, rec.Telemetry...)
		for k, v := range rec.Attributes {
			g.attributes[k] = v
		}
		if rec.ConnectorName != "" {
			g.connectorName = rec.ConnectorName
		}
	}
	return groups
}

func sleepInterruptible(d time.Duration, stopCh <-chan struct{}) bool {
	if d <= 0 {
		d = time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stopCh:
		return false
	}
}
