package rpcrouter

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/telegate/gwcore/connector"
)

const (
	gatewayPollInterval = 50 * time.Millisecond
	minScheduledDelay   = 1 * time.Second
)

// GatewayRequest is one item on the gateway queue (spec §4.5 "Gateway
// queue"): method is split on the first underscore to find a
// connector-type prefix, e.g. "mqtt_restart" targets every connector of
// type "mqtt".
type GatewayRequest struct {
	RequestID  string
	Method     string
	Params     map[string]any
	ReceivedAt time.Time
	Reply      ReplyFunc
}

// ConnectorsByType fans a gateway RPC out across every connector of a
// given type.
type ConnectorsByType interface {
	ByType(typeName string) []connector.Connector
}

// LocalMethod is one entry of the gateway's built-in method table
// (ping, stats, devices, update, version, device_renamed,
// device_deleted) or a custom goja-backed RPC module.
type LocalMethod func(ctx context.Context, params map[string]any) (map[string]any, error)

// Scheduler defers execution of a scheduled RPC (restart/reboot) by at
// least minScheduledDelay, or the caller-supplied delay if larger.
type Scheduler interface {
	Schedule(after time.Duration, method string, params map[string]any)
}

// GatewayRouter drains the gateway queue and dispatches by method
// prefix (spec §4.5).
type GatewayRouter struct {
	connectors ConnectorsByType
	locals     map[string]LocalMethod
	scheduled  map[string]bool
	scheduler  Scheduler
	queue      *fifo[*GatewayRequest]
}

func NewGatewayRouter(connectors ConnectorsByType, scheduler Scheduler) *GatewayRouter {
	return &GatewayRouter{
		connectors: connectors,
		locals:     make(map[string]LocalMethod),
		scheduled:  map[string]bool{"restart": true, "reboot": true},
		scheduler:  scheduler,
		queue:      newFIFO[*GatewayRequest](),
	}
}

// RegisterLocal adds (or overrides) an entry in the local method table —
// used both for the built-in methods and for goja-loaded custom RPC
// modules (spec §4.5's custom RPC directory).
func (r *GatewayRouter) RegisterLocal(name string, fn LocalMethod) {
	r.locals[name] = fn
}

func (r *GatewayRouter) Submit(req *GatewayRequest) {
	r.queue.push(req)
}

func (r *GatewayRouter) Depth() int {
	r.queue.mu.Lock()
	defer r.queue.mu.Unlock()
	return len(r.queue.items)
}

func (r *GatewayRouter) Run(ctx context.Context, stopCh <-chan struct{}) {
	for {
		req, ok := r.queue.pop(gatewayPollInterval, stopCh)
		if !ok {
			return
		}
		r.handle(ctx, req)
	}
}

func (r *GatewayRouter) handle(ctx context.Context, req *GatewayRequest) {
	method := req.Method
	bareMethod := method
	if idx := strings.Index(method, "_"); idx >= 0 {
		bareMethod = method[idx+1:]
	}

	if prefix, rest, ok := splitPrefix(method); ok && prefix != "gateway" {
		if conns := r.connectors.ByType(prefix); len(conns) > 0 {
			r.fanOut(ctx, conns, rest, req)
			return
		}
	}

	if r.scheduled[bareMethod] {
		delay := minScheduledDelay
		if ms, ok := req.Params["delayMs"].(float64); ok && time.Duration(ms)*time.Millisecond > delay {
			delay = time.Duration(ms) * time.Millisecond
		}
		r.scheduler.Schedule(delay, bareMethod, req.Params)
		req.Reply(map[string]any{"success": true}, nil)
		return
	}

	fn, ok := r.locals[bareMethod]
	if !ok {
		req.Reply(nil, &RPCError{Code: 404, Message: "Method not found"})
		return
	}

	result, err := fn(ctx, req.Params)
	if err != nil {
		req.Reply(nil, &RPCError{Code: 500, Message: err.Error()})
		return
	}
	req.Reply(result, nil)
}

// splitPrefix returns the connector-type prefix before the first
// underscore, and whether the method actually has one.
func splitPrefix(method string) (prefix, rest string, ok bool) {
	idx := strings.Index(method, "_")
	if idx < 0 {
		return "", method, false
	}
	return method[:idx], method[idx+1:], true
}

// fanOut dispatches rest to every connector of a matched type and
// replies with the last non-null result (spec §4.5).
func (r *GatewayRouter) fanOut(ctx context.Context, conns []connector.Connector, rest string, req *GatewayRequest) {
	content := map[string]any{"method": rest, "params": req.Params}

	var last map[string]any
	for _, c := range conns {
		result, err := c.ServerSideRPCHandler(ctx, content)
		if err != nil {
			slog.Warn("rpcrouter: connector RPC fan-out failed", "connector", c.Name(), "method", rest, "error", err)
			continue
		}
		if result != nil {
			last = result
		}
	}
	req.Reply(last, nil)
}
