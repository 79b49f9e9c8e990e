package rpcrouter

import (
	"context"
	"log/slog"
	"time"

	"github.com/telegate/gwcore/connector"
	"github.com/telegate/gwcore/metrics"
	"github.com/telegate/gwcore/model"
)

const (
	defaultDeviceRPCTimeout = 5 * time.Second
	devicePollInterval      = 50 * time.Millisecond
	requeueDelay            = 100 * time.Millisecond
)

// RPCError is the {error, code} shape every RPC-application failure
// relays verbatim (spec §7).
type RPCError struct {
	Code    int
	Message string
}

// ReplyFunc delivers a device-targeted RPC's outcome. Exactly one of
// result/err is set.
type ReplyFunc func(result map[string]any, err *RPCError)

// DeviceRequest is one item on the device queue (spec §4.5): a
// requestId, the raw content (must contain "device"; may contain
// "params" with an optional "timeout" override), and the monotonic
// receipt time used for deadline enforcement.
type DeviceRequest struct {
	RequestID  string
	Content    map[string]any
	ReceivedAt time.Time
	Reply      ReplyFunc
}

// DeviceResolver is the slice of the Device Registry the router needs:
// resolving a possibly-stale device name and fetching which connector
// currently serves it.
type DeviceResolver interface {
	Resolve(name string) (canonical string, connected bool)
	Get(name string) (model.Device, bool)
}

// ConnectorLookup resolves a connector by its registered name.
type ConnectorLookup interface {
	ByName(name string) (connector.Connector, bool)
}

// DeviceRouter drains the device queue (spec §4.5 "Device queue").
type DeviceRouter struct {
	registry   DeviceResolver
	connectors ConnectorLookup
	defaultTO  time.Duration
	queue      *fifo[*DeviceRequest]
}

func NewDeviceRouter(registry DeviceResolver, connectors ConnectorLookup) *DeviceRouter {
	return &DeviceRouter{registry: registry, connectors: connectors, defaultTO: defaultDeviceRPCTimeout, queue: newFIFO[*DeviceRequest]()}
}

// Submit enqueues a device-targeted RPC request.
func (r *DeviceRouter) Submit(req *DeviceRequest) {
	r.queue.push(req)
}

// Depth is the current device-queue length, for the RPC-queue-depth
// metric.
func (r *DeviceRouter) Depth() int {
	r.queue.mu.Lock()
	defer r.queue.mu.Unlock()
	return len(r.queue.items)
}

func (r *DeviceRouter) Run(ctx context.Context, stopCh <-chan struct{}) {
	for {
		req, ok := r.queue.pop(devicePollInterval, stopCh)
		if !ok {
			return
		}
		r.handle(ctx, req)
	}
}

func (r *DeviceRouter) timeoutFor(req *DeviceRequest) time.Duration {
	if params, ok := req.Content["params"].(map[string]any); ok {
		if ms, ok := params["timeout"].(float64); ok && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return r.defaultTO
}

func (r *DeviceRouter) handle(ctx context.Context, req *DeviceRequest) {
	if time.Since(req.ReceivedAt) > r.timeoutFor(req) {
		metrics.IncRPCTimeouts(ctx)
		req.Reply(nil, &RPCError{Code: 408, Message: "Request timeout"})
		return
	}

	deviceName, _ := req.Content["device"].(string)
	canonical, connected := r.registry.Resolve(deviceName)
	if !connected {
		// Busy-wait is explicitly allowed here (spec §4.5) but must not
		// spin: the requeue is delayed rather than pushed back
		// immediately, so a lone item waiting on a device that's mid-add
		// polls at requeueDelay instead of tight-looping.
		time.AfterFunc(requeueDelay, func() { r.queue.push(req) })
		return
	}

	dev, ok := r.registry.Get(canonical)
	if !ok || dev.ConnectorName == "" {
		time.AfterFunc(requeueDelay, func() { r.queue.push(req) })
		return
	}

	conn, ok := r.connectors.ByName(dev.ConnectorName)
	if !ok {
		slog.Warn("rpcrouter: connector not available for device RPC", "device", canonical, "connector", dev.ConnectorName)
		req.Reply(nil, &RPCError{Code: 404, Message: "connector not available"})
		return
	}

	start := time.Now()
	result, err := conn.ServerSideRPCHandler(ctx, req.Content)
	metrics.ObserveRPCLatency(ctx, time.Since(start).Seconds())

	if err != nil {
		req.Reply(nil, &RPCError{Code: 500, Message: err.Error()})
		return
	}
	if result == nil {
		return // fire-and-forget: no reply due
	}
	if errMsg, hasErr := result["error"]; hasErr {
		req.Reply(nil, &RPCError{Code: 500, Message: toString(errMsg)})
		return
	}
	req.Reply(result, nil)
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return "unknown error"
}
