// Package storagewriter implements the Storage Writer (spec §4.2): it
// drains the Conversion Intake in batches, stamps/rewrites/validates
// each record, splits it to fit the event store's payload limit, and
// writes fragments to the Event Store with bounded retry.
package storagewriter

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/telegate/gwcore/eventstore"
	"github.com/telegate/gwcore/intake"
	"github.com/telegate/gwcore/metrics"
	"github.com/telegate/gwcore/model"
	"github.com/telegate/gwcore/registry"
)

const (
	maxBatchItems  = 1000
	maxBatchWindow = 500 * time.Millisecond
	splitRatio     = 0.9
	putRetries     = 4
	putRetryDelay  = 100 * time.Millisecond
)

// Source is what the Storage Writer drains from (satisfied by
// *intake.Intake).
type Source interface {
	Drain(maxItems int, maxWait time.Duration, stopCh <-chan struct{}) []intake.Item
}

// PlatformConnectivity is the minimal platform-state check step 4
// needs: whether auto-adding an unknown device is currently safe.
type PlatformConnectivity interface {
	IsConnected() bool
}

// Writer is the Storage Writer worker.
type Writer struct {
	source           Source
	store            eventstore.Store
	registry         *registry.Registry
	platform         PlatformConnectivity
	maxPayloadBytes  int
	gatewayName      string
	idleCheckEnabled bool

	connectorCounts map[string]*int64
}

// Options configures a Writer.
type Options struct {
	Source          Source
	Store           eventstore.Store
	Registry        *registry.Registry
	Platform        PlatformConnectivity
	MaxPayloadBytes int    // thingsboard.maxPayloadSizeBytes
	GatewayName     string // the connector name that identifies the gateway's own submissions
	IdleCheckEnabled bool
}

func New(opts Options) *Writer {
	return &Writer{
		source:           opts.Source,
		store:            opts.Store,
		registry:         opts.Registry,
		platform:         opts.Platform,
		maxPayloadBytes:  opts.MaxPayloadBytes,
		gatewayName:      opts.GatewayName,
		idleCheckEnabled: opts.IdleCheckEnabled,
		connectorCounts:  map[string]*int64{},
	}
}

// Run drains and processes batches until stopCh closes.
func (w *Writer) Run(ctx context.Context, stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		batch := w.source.Drain(maxBatchItems, maxBatchWindow, stopCh)
		if len(batch) == 0 {
			continue
		}
		w.processBatch(ctx, batch)
	}
}

func (w *Writer) processBatch(ctx context.Context, batch []intake.Item) {
	for _, item := range batch {
		w.processOne(ctx, item)
	}
}

func (w *Writer) processOne(ctx context.Context, item intake.Item) {
	rec := item.Data

	// Step 1: gateway pseudo-device stamping, bypassing registry checks.
	isGatewaySelf := item.ConnectorName == w.gatewayName
	if isGatewaySelf {
		rec.DeviceName = model.GatewayDeviceName
		rec.DeviceType = model.GatewayDeviceType
	} else {
		// Step 2: required-field validation (already checked by intake's
		// Valid(), but DeviceName could still be empty for gateway-less
		// construction paths that bypass Intake.Submit).
		if rec.DeviceName == "" {
			slog.Warn("storagewriter: dropping record with no device name", "connector", item.ConnectorName)
			return
		}

		// Step 3: rename rewrite.
		canonical, known := w.registry.Resolve(rec.DeviceName)
		rec.DeviceName = canonical

		// Step 4: auto-add if unknown and platform connected.
		if !known && w.platform != nil && w.platform.IsConnected() {
			if err := w.registry.AddDevice(ctx, canonical, item.ConnectorName, item.ConnectorID, rec.DeviceType); err != nil {
				slog.Warn("storagewriter: auto-add failed", "device", canonical, "error", err)
			}
		}
	}

	// Step 5: per-connector message counting; idle timestamp refresh.
	w.countMessage(item.ConnectorName)
	metrics.IncMessagesReceived(ctx, item.ConnectorName, 1)
	if w.idleCheckEnabled && !isGatewaySelf {
		w.registry.Touch(rec.DeviceName, time.Now())
	}

	// Step 6: split to fit the payload limit, stamping each fragment with
	// the connector that submitted it so the dispatcher can attribute
	// outgoing sends back to it.
	rec.ConnectorName = item.ConnectorName
	limit := int(float64(w.maxPayloadBytes) * splitRatio)
	fragments := split(rec, limit)

	// Step 7: write each fragment with bounded retry.
	for _, fragment := range fragments {
		w.putWithRetry(ctx, fragment)
	}
}

func (w *Writer) countMessage(connectorName string) {
	counter, ok := w.connectorCounts[connectorName]
	if !ok {
		var n int64
		counter = &n
		w.connectorCounts[connectorName] = counter
	}
	atomic.AddInt64(counter, 1)
}

// MessageCount returns the running per-connector incoming message
// count (spec §4.2 step 5), read by the gateway statistics RPC.
func (w *Writer) MessageCount(connectorName string) int64 {
	counter, ok := w.connectorCounts[connectorName]
	if !ok {
		return 0
	}
	return atomic.LoadInt64(counter)
}

func (w *Writer) putWithRetry(ctx context.Context, fragment *model.ConvertedData) {
	payload, err := json.Marshal(fragment)
	if err != nil {
		slog.Error("storagewriter: failed to serialize fragment, dropping", "device", fragment.DeviceName, "error", err)
		return
	}

	for attempt := 0; attempt < putRetries; attempt++ {
		if w.store.Put(ctx, payload) {
			return
		}
		if attempt < putRetries-1 {
			metrics.IncStoreRetries(ctx)
			time.Sleep(putRetryDelay)
		}
	}
	slog.Error("storagewriter: event store rejected fragment after retries, dropping", "device", fragment.DeviceName, "retries", putRetries)
}
