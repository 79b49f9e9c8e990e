// Package gateway wires every worker described in this module's
// component design into one process: the Conversion Intake, Storage
// Writer, Dispatcher, RPC Router (both queues plus the Reply Sender),
// Connector Lifecycle Controller, Shared-Attribute Synchronizer, and
// Watchdog, plus the platform's websocket link and device registry they
// all sit on top of. It owns the startup sequence and the ordered
// shutdown sequence, the same top-level-orchestrator role the teacher's
// engine package plays for its own worker set (engine/engine.go).
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/telegate/gwcore/connectors/demo" // demo.SetSink wires the Intake; its init registers connector type "demo"
	"github.com/telegate/gwcore/dispatcher"
	"github.com/telegate/gwcore/eventstore"
	"github.com/telegate/gwcore/gwconfig"
	"github.com/telegate/gwcore/intake"
	"github.com/telegate/gwcore/lifecycle"
	"github.com/telegate/gwcore/logging"
	"github.com/telegate/gwcore/metrics"
	"github.com/telegate/gwcore/platform"
	"github.com/telegate/gwcore/registry"
	"github.com/telegate/gwcore/rpcrouter"
	"github.com/telegate/gwcore/sharedattr"
	"github.com/telegate/gwcore/storagewriter"
	"github.com/telegate/gwcore/watchdog"
)

// selfConnectorName identifies the gateway's own submissions (its
// statistics, its own telemetry/attributes) to the Storage Writer,
// which stamps them onto the gatewayDeviceName pseudo-device (spec §4.2
// step 1) instead of running them through the registry.
const selfConnectorName = "gwcore"

// metricsRefreshInterval is how often the gauge-backed queue/device
// depths are refreshed; the otel gauges themselves are observed
// (pulled) at scrape time, but the atomics they read need to be kept
// current.
const metricsRefreshInterval = time.Second

// ProcessControl is the host-integration boundary for scheduled RPCs
// (spec §9 design note): the core never calls os.Exit itself, it only
// invokes whichever side-effecting action the host wired in.
type ProcessControl interface {
	Restart(ctx context.Context, params map[string]any) int
	Reboot(ctx context.Context, params map[string]any) int
}

// VersionFetcher is passed straight through to the Watchdog.
type VersionFetcher = watchdog.VersionFetcher

// Options configures a Gateway. Version and PlatformURL are the only
// required fields beyond Config; ProcessControl and FetchVersion may be
// nil (scheduled restart/reboot then log-and-no-op; version never
// refreshes).
type Options struct {
	Config         *gwconfig.Config
	PlatformURL    string
	Version        string
	ProcessControl ProcessControl
	FetchVersion   VersionFetcher

	DevicesPath string // connected_devices.json path
}

// Gateway owns every worker's goroutine and the shared stop signal that
// coordinates their shutdown.
type Gateway struct {
	cfg *gwconfig.Config

	registry   *registry.Registry
	store      eventstore.Store
	platform   *platform.Client
	lifecycle  *lifecycle.Controller
	sharedSync *sharedattr.Sync

	in         *intake.Intake
	writer     *storagewriter.Writer
	dispatch   *dispatcher.Dispatcher
	deviceRPC  *rpcrouter.DeviceRouter
	gatewayRPC *rpcrouter.GatewayRouter
	replySend  *rpcrouter.ReplySender
	scheduler  *rpcrouter.ScheduleTable
	watchdog   *watchdog.Watchdog

	stopCh chan struct{}
	stopOnce sync.Once
	wg     sync.WaitGroup
}

// New builds every worker and wires them together, but starts nothing.
// Run connects to the platform, opens the connectors, and starts the
// workers.
func New(opts Options) (*Gateway, error) {
	cfg := opts.Config

	storeCtor, ok := eventstore.Lookup(cfg.Storage.Type)
	if !ok {
		return nil, fmt.Errorf("gateway: unknown storage.type %q", cfg.Storage.Type)
	}
	store, err := storeCtor(cfg.Storage.Config)
	if err != nil {
		return nil, fmt.Errorf("gateway: construct event store: %w", err)
	}

	platformClient := platform.New(platform.Config{URL: opts.PlatformURL})

	reg, err := registry.New(opts.DevicesPath, platformClient)
	if err != nil {
		return nil, fmt.Errorf("gateway: open device registry: %w", err)
	}

	var globalStrategy intake.Strategy = intake.Disabled
	if cfg.Thingsboard.ReportStrategy.Type != gwconfig.ReportStrategyDisabled && cfg.Thingsboard.ReportStrategy.Script != "" {
		strategy, err := intake.NewJSStrategy(cfg.Thingsboard.ReportStrategy.Script)
		if err != nil {
			return nil, fmt.Errorf("gateway: compile global report strategy: %w", err)
		}
		globalStrategy = strategy
	}

	lifecycleController := lifecycle.New(reg, cfg.Connectors, globalStrategy, cfg.GRPC)

	in := intake.New(intake.Options{
		Strategy:     lifecycleController.Strategy(),
		LatencyDebug: cfg.Thingsboard.LatencyDebugMode,
	})
	demo.SetSink(in)
	reg.SetSink(in)
	reg.SetConnectorTypeLookup(lifecycleController)

	writer := storagewriter.New(storagewriter.Options{
		Source:           in,
		Store:            store,
		Registry:         reg,
		Platform:         platformClient,
		MaxPayloadBytes:  cfg.Thingsboard.MaxPayloadSizeBytes,
		GatewayName:      selfConnectorName,
		IdleCheckEnabled: cfg.Thingsboard.CheckingDeviceActivity.CheckDeviceInactivity,
	})

	replySender := rpcrouter.NewReplySender(platformClient)

	dispatch := dispatcher.New(dispatcher.Options{
		Store:            store,
		Publisher:        platformClient,
		RPCReplyInFlight: replySender.InFlight,
		MinPackSendDelay: time.Duration(cfg.Thingsboard.MinPackSendDelayMS) * time.Millisecond,
	})

	deviceRouter := rpcrouter.NewDeviceRouter(reg, lifecycleController)

	scheduler := rpcrouter.NewScheduleTable()
	gatewayRouter := rpcrouter.NewGatewayRouter(lifecycleController, scheduler)
	rpcrouter.RegisterBuiltins(gatewayRouter, reg, lifecycleController, writer, opts.Version, func() {
		lifecycleController.CheckAndReload(context.Background(), false)
	})
	if err := rpcrouter.LoadCustomRPCDir(gatewayRouter, cfg.CustomRPCDir); err != nil {
		return nil, fmt.Errorf("gateway: load custom RPC modules: %w", err)
	}

	sharedSync, err := sharedattr.New(platformClient, lifecycleController, 10000, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: construct shared-attribute synchronizer: %w", err)
	}

	execute := processControlExecutor(opts.ProcessControl)
	reloadInterval := time.Duration(cfg.Thingsboard.CheckConnectorsConfigurationInSeconds) * time.Second
	wd := watchdog.New(platformClient, reg, lifecycleController, scheduler, sharedSync, execute, opts.FetchVersion, reloadInterval, nil)

	g := &Gateway{
		cfg:        cfg,
		registry:   reg,
		store:      store,
		platform:   platformClient,
		lifecycle:  lifecycleController,
		sharedSync: sharedSync,
		in:         in,
		writer:     writer,
		dispatch:   dispatch,
		deviceRPC:  deviceRouter,
		gatewayRPC: gatewayRouter,
		replySend:  replySender,
		scheduler:  scheduler,
		watchdog:   wd,
		stopCh:     make(chan struct{}),
	}

	g.wireIncomingHandlers()
	return g, nil
}

// processControlExecutor adapts a possibly-nil ProcessControl into the
// watchdog.RPCExecutor shape; an unwired host gets a logged no-op
// instead of a panic.
func processControlExecutor(pc ProcessControl) watchdog.RPCExecutor {
	return func(ctx context.Context, method string, params map[string]any) int {
		if pc == nil {
			slog.Warn("gateway: scheduled rpc has no process control wired, ignoring", "worker", "watchdog", "method", method)
			return 1
		}
		switch method {
		case "restart":
			return pc.Restart(ctx, params)
		case "reboot":
			return pc.Reboot(ctx, params)
		default:
			slog.Warn("gateway: unrecognized scheduled rpc method", "worker", "watchdog", "method", method)
			return 1
		}
	}
}

// wireIncomingHandlers connects the platform client's two inbound
// hooks — server-side RPC requests and shared-attribute pushes — to the
// routers and synchronizer that handle them.
func (g *Gateway) wireIncomingHandlers() {
	g.platform.OnServerRPC(func(ctx context.Context, requestID, device string, content map[string]any) {
		reply := g.replySend.ReplyFuncFor(device, requestID)
		if device == "" {
			method, _ := content["method"].(string)
			params, _ := content["params"].(map[string]any)
			g.gatewayRPC.Submit(&rpcrouter.GatewayRequest{RequestID: requestID, Method: method, Params: params, ReceivedAt: time.Now(), Reply: reply})
			return
		}
		g.deviceRPC.Submit(&rpcrouter.DeviceRequest{RequestID: requestID, Content: content, ReceivedAt: time.Now(), Reply: reply})
	})

	g.platform.OnAttributeUpdate(func(device string, data map[string]any) {
		dev, ok := g.registry.Get(device)
		if !ok {
			slog.Warn("gateway: attribute push for unknown device dropped", "device", device)
			return
		}
		g.sharedSync.HandlePush(dev.ConnectorName, device, data)
	})

	unsub := g.subscribeDeviceConnected()
	go func() {
		<-g.stopCh
		unsub()
	}()
}

// subscribeDeviceConnected drains the registry bus for DeviceConnected
// events into the Shared-Attribute Synchronizer (spec §4.2 item 10's
// trigger: "on device add or reconnect").
func (g *Gateway) subscribeDeviceConnected() func() {
	events, unsubscribe := g.registry.Bus().Subscribe()
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		for {
			select {
			case change, ok := <-events:
				if !ok {
					return
				}
				if change.Kind == registry.DeviceConnected {
					g.sharedSync.Handle(context.Background(), sharedattr.DeviceConnectedEvent{Device: change.Device, ConnectorName: change.ConnectorName})
				}
			case <-g.stopCh:
				return
			}
		}
	}()
	return unsubscribe
}

// Run starts every long-lived worker and blocks until ctx is done or
// Shutdown is called; it does not itself install signal handling — the
// host (cmd/gwcore) decides what triggers shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.platform.Connect(ctx); err != nil {
		return fmt.Errorf("gateway: initial platform connect: %w", err)
	}
	g.lifecycle.LoadAll(ctx)

	workers := []func(context.Context, <-chan struct{}){
		g.writer.Run,
		g.dispatch.Run,
		g.replySend.Run,
		g.deviceRPC.Run,
		g.gatewayRPC.Run,
		g.watchdog.Run,
		g.refreshMetrics,
	}
	for _, run := range workers {
		g.wg.Add(1)
		go func(run func(context.Context, <-chan struct{})) {
			defer g.wg.Done()
			run(ctx, g.stopCh)
		}(run)
	}

	select {
	case <-ctx.Done():
	case <-g.stopCh:
	}
	return nil
}

// Shutdown runs the ordered shutdown sequence (spec §5): signal stop,
// stop statistics, stop the GRPC manager, close connectors with grace,
// close the event store, close the platform client, shut down the
// confirmation pool (implicit in the Dispatcher's own teardown, since
// it owns no goroutines beyond Run), then join every worker.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.stopOnce.Do(func() { close(g.stopCh) })

	// Statistics: nothing to stop explicitly, metrics are pull-based
	// (the Prometheus exporter keeps serving until the process exits).

	// GRPC manager: the control-plane health listener, if grpc.enabled,
	// is owned by the lifecycle Controller and stopped alongside it.
	g.lifecycle.Close()

	g.lifecycle.CloseAll()

	if err := g.store.Stop(); err != nil {
		slog.Warn("gateway: event store stop returned an error", "error", err)
	}

	if err := g.platform.Stop(); err != nil {
		slog.Warn("gateway: platform client stop returned an error", "error", err)
	}

	g.wg.Wait()
	logging.FlushRemote(ctx)
	return nil
}

// refreshMetrics keeps the queue-depth and connected-device gauges
// current; the otel gauges are pulled at scrape time but need a live
// value to read.
func (g *Gateway) refreshMetrics(ctx context.Context, stopCh <-chan struct{}) {
	ticker := time.NewTicker(metricsRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetIntakeDepth(g.in.Len())
			metrics.SetStoreBacklog(g.store.Len())
			metrics.SetDeviceRPCDepth(g.deviceRPC.Depth())
			metrics.SetGatewayRPCDepth(g.gatewayRPC.Depth())
			metrics.SetConnectedDevices(len(g.registry.GetDevices("")))
		}
	}
}

// Version returns the Watchdog's last platform-refreshed gateway
// version. The "version" RPC reports Options.Version instead.
func (g *Gateway) Version() string { return g.watchdog.Version() }

// Registry exposes the live device registry. cmd/gwcore's "devices"
// and "status" subcommands do not use it; they load the persisted
// snapshot themselves.
func (g *Gateway) Registry() *registry.Registry { return g.registry }
