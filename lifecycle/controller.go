// Package lifecycle implements the Connector Lifecycle Controller
// (spec §4.6): per-connector construct/register/rebind/open sequencing,
// hot reload on sidecar-file change with a grace period, and the
// GRPC-subprocess special case.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/telegate/gwcore/connector"
	"github.com/telegate/gwcore/gwconfig"
	"github.com/telegate/gwcore/intake"
	"github.com/telegate/gwcore/registry"
)

var errGRPCStubNoHandler = errors.New("lifecycle: grpc connector stub has no local RPC handler")

const closeGrace = 5 * time.Second

// Controller owns every connector's lifecycle and the byName/byId/byType
// registries the RPC router and Watchdog read from.
type Controller struct {
	mu sync.RWMutex

	registry       *registry.Registry
	strategy       *RoutedStrategy
	grpcEnabled    bool
	grpcListenAddr string
	grpcPlane      *grpcControlPlane
	customRPCDir   string

	byName map[string]connector.Connector
	byID   map[string]connector.Connector
	byType map[string][]connector.Connector

	refs    []gwconfig.ConnectorRef
	watcher *gwconfig.ReloadWatcher
}

// New builds a Controller. globalStrategy is the fallback report
// strategy for connectors without their own script. When grpc.Enabled
// is set, a control plane listener is started on grpc.ListenAddr for
// GRPC-subprocess connectors to register against.
func New(reg *registry.Registry, refs []gwconfig.ConnectorRef, globalStrategy intake.Strategy, grpc gwconfig.GRPC) *Controller {
	c := &Controller{
		registry:       reg,
		strategy:       NewRoutedStrategy(reg, globalStrategy),
		grpcEnabled:    grpc.Enabled,
		grpcListenAddr: grpc.ListenAddr,
		byName:         make(map[string]connector.Connector),
		byID:           make(map[string]connector.Connector),
		byType:         make(map[string][]connector.Connector),
		refs:           refs,
		watcher:        gwconfig.NewReloadWatcher(refs),
	}
	if grpc.Enabled {
		c.grpcPlane = newGRPCControlPlane()
		if err := c.grpcPlane.start(grpc.ListenAddr); err != nil {
			slog.Error("lifecycle: grpc control plane failed to start", "error", err)
			c.grpcPlane = nil
		}
	}
	return c
}

// Strategy is the Intake-facing report-strategy dispatcher that routes
// per connector (spec §4.6 step 4).
func (c *Controller) Strategy() *RoutedStrategy { return c.strategy }

// LoadAll runs the construct-register-rebind-open sequence (spec §4.6
// steps 1-6) for every configured connector. A single connector's
// failure is logged and skipped; it never aborts the others.
func (c *Controller) LoadAll(ctx context.Context) {
	for _, ref := range c.refs {
		if err := c.loadOne(ctx, ref); err != nil {
			slog.Error("lifecycle: connector failed to load", "connector", ref.Name, "error", err)
		}
	}
	// LoadSidecar may have written an injected id/name back to disk;
	// re-baseline so that write is not reported as a change later.
	c.watcher.CheckChanged()
}

func (c *Controller) loadOne(ctx context.Context, ref gwconfig.ConnectorRef) error {
	sidecar, err := gwconfig.LoadSidecar(ref)
	if err != nil {
		return fmt.Errorf("load sidecar: %w", err)
	}

	typeName := strings.ToLower(sidecar.Type)

	if typeName == "grpc" {
		if !c.grpcEnabled {
			slog.Warn("lifecycle: connector configured as grpc but grpc.enabled is false, skipping", "connector", ref.Name)
			return nil
		}
		stub := newGRPCStub(ref.Name, sidecar.ID, typeName, sidecar.DeepCopyConfig())
		c.register(stub)
		c.bindStrategyAndRebind(ref, sidecar.ID)
		if c.grpcPlane != nil {
			c.grpcPlane.registerStub(sidecar.ID, stub)
		}
		return stub.Open(ctx)
	}

	ctor, ok := connector.Lookup(typeName)
	if !ok {
		slog.Warn("lifecycle: unknown connector type, skipping", "connector", ref.Name, "type", typeName)
		return nil
	}

	conn, err := ctor(ref.Name, sidecar.ID, sidecar.DeepCopyConfig())
	if err != nil {
		return fmt.Errorf("construct connector: %w", err)
	}

	c.register(conn)
	c.bindStrategyAndRebind(ref, sidecar.ID)

	return conn.Open(ctx)
}

func (c *Controller) bindStrategyAndRebind(ref gwconfig.ConnectorRef, connectorID string) {
	if ref.ReportStrategy != nil && ref.ReportStrategy.Type != "" && ref.ReportStrategy.Type != gwconfig.ReportStrategyDisabled {
		strategy, err := intake.NewJSStrategy(ref.ReportStrategy.Script)
		if err != nil {
			slog.Error("lifecycle: per-connector report strategy failed to compile, using global", "connector", ref.Name, "error", err)
		} else {
			c.strategy.Register(ref.Name, strategy)
		}
	}

	if c.registry != nil {
		c.registry.RebindConnector(ref.Name, connectorID)
	}
}

func (c *Controller) register(conn connector.Connector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byName[conn.Name()] = conn
	c.byID[conn.ID()] = conn
	c.byType[conn.Type()] = append(c.byType[conn.Type()], conn)
}

// ByName implements rpcrouter.ConnectorLookup.
func (c *Controller) ByName(name string) (connector.Connector, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.byName[name]
	return conn, ok
}

// ConnectorType implements registry.ConnectorTypeLookup, resolving a
// connector's registered plug-in type string for the addDevice
// attribute payload (spec §4.4).
func (c *Controller) ConnectorType(name string) (string, bool) {
	conn, ok := c.ByName(name)
	if !ok {
		return "", false
	}
	return conn.Type(), true
}

// ByID looks a connector up by its stable persisted id.
func (c *Controller) ByID(id string) (connector.Connector, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.byID[id]
	return conn, ok
}

// ByType implements rpcrouter.ConnectorsByType.
func (c *Controller) ByType(typeName string) []connector.Connector {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]connector.Connector(nil), c.byType[typeName]...)
}

// All implements rpcrouter.ConnectorLister.
func (c *Controller) All() []connector.Connector {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]connector.Connector, 0, len(c.byName))
	for _, conn := range c.byName {
		out = append(out, conn)
	}
	return out
}

// CloseAll closes every connector, allowing each up to closeGrace
// before moving on (spec §4.6 hot-reload, and §5's shutdown sequence).
func (c *Controller) CloseAll() {
	c.mu.Lock()
	conns := make([]connector.Connector, 0, len(c.byName))
	for _, conn := range c.byName {
		conns = append(conns, conn)
	}
	c.byName = make(map[string]connector.Connector)
	c.byID = make(map[string]connector.Connector)
	c.byType = make(map[string][]connector.Connector)
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(conn connector.Connector) {
			defer wg.Done()
			closeWithGrace(conn)
		}(conn)
	}
	wg.Wait()
}

func closeWithGrace(conn connector.Connector) {
	done := make(chan error, 1)
	go func() { done <- conn.Close() }()

	select {
	case err := <-done:
		if err != nil {
			slog.Warn("lifecycle: connector close returned an error", "connector", conn.Name(), "error", err)
		}
	case <-time.After(closeGrace):
		slog.Warn("lifecycle: connector close exceeded grace period, abandoning", "connector", conn.Name())
	}
}

// Close stops the GRPC control plane, if one is running. It does not
// touch individual connectors; call CloseAll for that.
func (c *Controller) Close() {
	if c.grpcPlane != nil {
		c.grpcPlane.stop()
	}
}

// CheckAndReload runs the hot-reload poll (spec §4.6): if any sidecar
// changed since the last check, every connector is closed (with grace)
// and the whole set is reconstructed. suppressed, when true (concurrent
// remote-configuration activity), skips the check entirely.
func (c *Controller) CheckAndReload(ctx context.Context, suppressed bool) bool {
	if suppressed {
		return false
	}
	if !c.watcher.CheckChanged() {
		return false
	}

	slog.Info("lifecycle: connector configuration changed, reloading")
	c.CloseAll()
	c.strategy = NewRoutedStrategy(c.registry, c.strategy.global)
	c.LoadAll(ctx)
	return true
}
