// Package metrics exposes the gateway's runtime counters and gauges
// through OpenTelemetry, following the teacher's runtime-stats pattern
// but tracking gateway-shaped quantities instead of entity counts: queue
// depths, per-connector message counts, event-store backlog, and RPC
// round-trip latency, alongside the same Go-runtime gauges the teacher
// always published.
package metrics

import (
	"context"
	"runtime"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	meter metric.Meter

	intakeDepth      atomic.Int64
	storeBacklog     atomic.Int64
	deviceRPCDepth   atomic.Int64
	gatewayRPCDepth  atomic.Int64
	connectedDevices atomic.Int64

	intakeDepthGauge     metric.Int64ObservableGauge
	storeBacklogGauge    metric.Int64ObservableGauge
	deviceRPCDepthGauge  metric.Int64ObservableGauge
	gatewayRPCDepthGauge metric.Int64ObservableGauge
	connectedGauge       metric.Int64ObservableGauge

	goroutinesGauge metric.Int64ObservableGauge
	memAllocGauge   metric.Int64ObservableGauge
	gcNumGauge      metric.Int64ObservableGauge

	messagesReceived metric.Int64Counter
	messagesSent     metric.Int64Counter
	packsAcked       metric.Int64Counter
	packsAborted     metric.Int64Counter
	storeRetries     metric.Int64Counter
	rpcTimeouts      metric.Int64Counter
	rpcLatency       metric.Float64Histogram
)

// Init registers every gateway metric against the global otel meter
// provider. Call once at startup, after InitPrometheus if a Prometheus
// registry is in use.
func Init() error {
	meter = otel.Meter("gwcore.metrics")

	var err error
	if intakeDepthGauge, err = meter.Int64ObservableGauge(
		"gwcore.intake.queue_depth",
		metric.WithDescription("Items waiting in the conversion intake queue"),
	); err != nil {
		return err
	}
	if storeBacklogGauge, err = meter.Int64ObservableGauge(
		"gwcore.store.backlog",
		metric.WithDescription("Records buffered in the event store awaiting publish"),
	); err != nil {
		return err
	}
	if deviceRPCDepthGauge, err = meter.Int64ObservableGauge(
		"gwcore.rpc.device_queue_depth",
		metric.WithDescription("In-flight device-targeted RPC requests"),
	); err != nil {
		return err
	}
	if gatewayRPCDepthGauge, err = meter.Int64ObservableGauge(
		"gwcore.rpc.gateway_queue_depth",
		metric.WithDescription("Pending gateway-targeted RPC requests"),
	); err != nil {
		return err
	}
	if connectedGauge, err = meter.Int64ObservableGauge(
		"gwcore.devices.connected",
		metric.WithDescription("Devices currently marked connected in the registry"),
	); err != nil {
		return err
	}
	if goroutinesGauge, err = meter.Int64ObservableGauge(
		"go.goroutines",
		metric.WithDescription("Number of goroutines"),
	); err != nil {
		return err
	}
	if memAllocGauge, err = meter.Int64ObservableGauge(
		"go.memory.allocated",
		metric.WithDescription("Bytes of allocated heap objects"),
		metric.WithUnit("By"),
	); err != nil {
		return err
	}
	if gcNumGauge, err = meter.Int64ObservableGauge(
		"go.gc.count",
		metric.WithDescription("Number of completed GC cycles"),
	); err != nil {
		return err
	}

	if messagesReceived, err = meter.Int64Counter(
		"gwcore.connector.messages_received",
		metric.WithDescription("Submissions accepted from connectors"),
	); err != nil {
		return err
	}
	if messagesSent, err = meter.Int64Counter(
		"gwcore.connector.messages_sent",
		metric.WithDescription("Records confirmed by the platform, attributed to the submitting connector"),
	); err != nil {
		return err
	}
	if packsAcked, err = meter.Int64Counter(
		"gwcore.dispatcher.packs_acked",
		metric.WithDescription("Event packs fully confirmed and acknowledged to the store"),
	); err != nil {
		return err
	}
	if packsAborted, err = meter.Int64Counter(
		"gwcore.dispatcher.packs_aborted",
		metric.WithDescription("Event packs abandoned mid-confirmation for replay"),
	); err != nil {
		return err
	}
	if storeRetries, err = meter.Int64Counter(
		"gwcore.store.put_retries",
		metric.WithDescription("Retries attempted writing a fragment to the event store"),
	); err != nil {
		return err
	}
	if rpcTimeouts, err = meter.Int64Counter(
		"gwcore.rpc.timeouts",
		metric.WithDescription("Device-targeted RPCs whose deadline passed before they reached a connector"),
	); err != nil {
		return err
	}
	if rpcLatency, err = meter.Float64Histogram(
		"gwcore.rpc.latency_seconds",
		metric.WithDescription("Time a connector's device RPC handler took to return"),
		metric.WithUnit("s"),
	); err != nil {
		return err
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(intakeDepthGauge, intakeDepth.Load())
			o.ObserveInt64(storeBacklogGauge, storeBacklog.Load())
			o.ObserveInt64(deviceRPCDepthGauge, deviceRPCDepth.Load())
			o.ObserveInt64(gatewayRPCDepthGauge, gatewayRPCDepth.Load())
			o.ObserveInt64(connectedGauge, connectedDevices.Load())

			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			o.ObserveInt64(goroutinesGauge, int64(runtime.NumGoroutine()))
			o.ObserveInt64(memAllocGauge, int64(m.Alloc))
			o.ObserveInt64(gcNumGauge, int64(m.NumGC))
			return nil
		},
		intakeDepthGauge, storeBacklogGauge, deviceRPCDepthGauge, gatewayRPCDepthGauge, connectedGauge,
		goroutinesGauge, memAllocGauge, gcNumGauge,
	)
	return err
}

func SetIntakeDepth(n int)      { intakeDepth.Store(int64(n)) }
func SetStoreBacklog(n int)     { storeBacklog.Store(int64(n)) }
func SetDeviceRPCDepth(n int)   { deviceRPCDepth.Store(int64(n)) }
func SetGatewayRPCDepth(n int)  { gatewayRPCDepth.Store(int64(n)) }
func SetConnectedDevices(n int) { connectedDevices.Store(int64(n)) }

func IncMessagesReceived(ctx context.Context, connector string, n int64) {
	if messagesReceived == nil {
		return
	}
	messagesReceived.Add(ctx, n, metric.WithAttributes(attribute.String("connector", connector)))
}

func IncMessagesSent(ctx context.Context, connector string, n int64) {
	if messagesSent == nil {
		return
	}
	messagesSent.Add(ctx, n, metric.WithAttributes(attribute.String("connector", connector)))
}

func IncPacksAcked(ctx context.Context)   { addCounter(ctx, packsAcked, 1) }
func IncPacksAborted(ctx context.Context) { addCounter(ctx, packsAborted, 1) }
func IncStoreRetries(ctx context.Context) { addCounter(ctx, storeRetries, 1) }
func IncRPCTimeouts(ctx context.Context)  { addCounter(ctx, rpcTimeouts, 1) }

func ObserveRPCLatency(ctx context.Context, seconds float64) {
	if rpcLatency == nil {
		return
	}
	rpcLatency.Record(ctx, seconds)
}

func addCounter(ctx context.Context, c metric.Int64Counter, n int64) {
	if c == nil {
		return
	}
	c.Add(ctx, n)
}
