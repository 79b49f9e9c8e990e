// Package watchdog implements the Watchdog (spec §4.7): a single ~100ms
// tick loop that drives every other worker's periodic housekeeping off
// one shared clock, instead of each owning its own timer goroutine —
// the same consolidated-poller shape as the teacher's status loop
// (engine/status.go), generalized from one responsibility to several.
package watchdog

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/telegate/gwcore/logging"
	"github.com/telegate/gwcore/model"
	"github.com/telegate/gwcore/rpcrouter"
)

const (
	tickInterval           = 100 * time.Millisecond
	versionRefreshInterval = 300 * time.Second
	logFlushInterval       = time.Second
)

// PlatformConn is the slice of the Platform Client capability (spec
// §6.3) the Watchdog drives directly: connection/subscription state and
// the first-connect shared-attribute fetch.
type PlatformConn interface {
	IsConnected() bool
	IsSubscribedToServiceAttributes() bool
	Subscribe(ctx context.Context) error
	RequestAttributes(ctx context.Context, sharedKeys, clientKeys []string) (map[string]any, error)
}

// DeviceReconnector is the slice of the Device Registry the Watchdog
// uses to re-add every saved device after a reconnect (spec §4.7 "if
// (re)connected and not yet subscribed, re-add all saved devices").
type DeviceReconnector interface {
	AllSaved() []model.Device
	AddDevice(ctx context.Context, name, connectorName, connectorID, deviceType string) error
}

// ConnectorReloader is the slice of the Connector Lifecycle Controller
// the Watchdog drives at the configured hot-reload interval.
type ConnectorReloader interface {
	CheckAndReload(ctx context.Context, suppressed bool) bool
}

// Scheduler is the slice of the gateway RPC router's schedule table the
// Watchdog drains each tick.
type Scheduler interface {
	DrainDue() []rpcrouter.ScheduledRPC
}

// AttributeCache is the slice of the Shared-Attribute Synchronizer the
// Watchdog purges on disconnect. Optional: a nil AttributeCache passed
// to New is tolerated, for configurations that run without one.
type AttributeCache interface {
	PurgeAll()
}

// RPCExecutor runs one scheduled RPC's method (restart/reboot, or a
// custom scheduled method) and reports its exit code; non-zero is
// logged but never stops the loop.
type RPCExecutor func(ctx context.Context, method string, params map[string]any) int

// VersionFetcher returns the platform-reported gateway version string.
type VersionFetcher func(ctx context.Context) (string, error)

// Watchdog owns no state of its own beyond bookkeeping timestamps; it
// only drives the other workers' periodic responsibilities on a shared
// clock (spec §4.7's ordered tick-loop list).
type Watchdog struct {
	platform   PlatformConn
	registry   DeviceReconnector
	connectors ConnectorReloader
	scheduler  Scheduler
	attrCache  AttributeCache

	execute             RPCExecutor
	fetchVersion        VersionFetcher
	sharedAttributeKeys []string
	reloadInterval      time.Duration

	wasConnected            atomic.Bool
	requestedAttributesOnce atomic.Bool
	version                 atomic.Value // string

	lastReload         time.Time
	lastVersionRefresh time.Time
	lastLogFlush       time.Time
}

// New builds a Watchdog. reloadInterval is the config's
// checkConnectorsConfigurationInSeconds; sharedAttributeKeys is the
// platform-known key set requested once per (re)connect. attrCache and
// fetchVersion may be nil.
func New(
	platform PlatformConn,
	reg DeviceReconnector,
	connectors ConnectorReloader,
	scheduler Scheduler,
	attrCache AttributeCache,
	execute RPCExecutor,
	fetchVersion VersionFetcher,
	reloadInterval time.Duration,
	sharedAttributeKeys []string,
) *Watchdog {
	w := &Watchdog{
		platform:            platform,
		registry:            reg,
		connectors:          connectors,
		scheduler:           scheduler,
		attrCache:           attrCache,
		execute:             execute,
		fetchVersion:        fetchVersion,
		reloadInterval:      reloadInterval,
		sharedAttributeKeys: sharedAttributeKeys,
	}
	w.version.Store("")
	return w
}

// Version is the last platform-reported gateway version the Watchdog
// refreshed, or "" before the first refresh.
func (w *Watchdog) Version() string {
	v, _ := w.version.Load().(string)
	return v
}

// Run blocks, ticking every 100ms, until stopCh closes or ctx is done.
func (w *Watchdog) Run(ctx context.Context, stopCh <-chan struct{}) {
	now := time.Now()
	w.lastReload = now
	w.lastVersionRefresh = now
	w.lastLogFlush = now

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Watchdog) tick(ctx context.Context) {
	connected := w.platform.IsConnected()

	if !connected {
		if w.wasConnected.CompareAndSwap(true, false) {
			w.requestedAttributesOnce.Store(false)
			if w.attrCache != nil {
				w.attrCache.PurgeAll()
			}
			slog.Info("watchdog: platform disconnected, subscription state cleared", "worker", "watchdog")
		}
	} else {
		if !w.platform.IsSubscribedToServiceAttributes() {
			w.resubscribe(ctx)
		}
		w.wasConnected.Store(true)
	}

	// Scheduled RPCs (restart/reboot and any custom scheduled method)
	// dispatch regardless of connection state: a scheduled reboot must
	// still fire even mid-outage.
	for _, due := range w.scheduler.DrainDue() {
		code := w.execute(ctx, due.Method, due.Params)
		if code != 0 {
			slog.Warn("watchdog: scheduled rpc exited non-zero", "worker", "watchdog", "method", due.Method, "code", code)
		}
	}

	// In-flight RPC deadline expiry and register-queue draining are
	// handled inline by rpcrouter.DeviceRouter.Run's own poll loop
	// (device.go's handle() checks the deadline the moment an item is
	// popped, and the queue has no separate "register" staging step to
	// drain) — the Watchdog has nothing additional to do for those two
	// responsibilities in this implementation.

	if connected && !w.requestedAttributesOnce.Load() {
		if _, err := w.platform.RequestAttributes(ctx, w.sharedAttributeKeys, nil); err != nil {
			slog.Warn("watchdog: initial shared-attribute request failed", "worker", "watchdog", "error", err)
		} else {
			w.requestedAttributesOnce.Store(true)
		}
	}

	now := time.Now()
	if w.reloadInterval > 0 && now.Sub(w.lastReload) >= w.reloadInterval {
		w.lastReload = now
		w.connectors.CheckAndReload(ctx, false)
	}
	if now.Sub(w.lastVersionRefresh) >= versionRefreshInterval {
		w.lastVersionRefresh = now
		w.refreshVersion(ctx)
	}
	if now.Sub(w.lastLogFlush) >= logFlushInterval {
		w.lastLogFlush = now
		logging.FlushRemote(ctx)
	}
}

func (w *Watchdog) resubscribe(ctx context.Context) {
	for _, d := range w.registry.AllSaved() {
		if err := w.registry.AddDevice(ctx, d.Name, d.ConnectorName, d.ConnectorID, d.Type); err != nil {
			slog.Warn("watchdog: failed to re-add saved device on reconnect", "worker", "watchdog", "device", d.Name, "error", err)
		}
	}
	if err := w.platform.Subscribe(ctx); err != nil {
		slog.Warn("watchdog: resubscribe failed, retrying next tick", "worker", "watchdog", "error", err)
	}
}

func (w *Watchdog) refreshVersion(ctx context.Context) {
	if w.fetchVersion == nil {
		return
	}
	v, err := w.fetchVersion(ctx)
	if err != nil {
		slog.Warn("watchdog: version refresh failed", "worker", "watchdog", "error", err)
		return
	}
	w.version.Store(v)
}
