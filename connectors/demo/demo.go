package demo

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telegate/gwcore/connector"
	"github.com/telegate/gwcore/intake"
	"github.com/telegate/gwcore/model"
)

func init() {
	connector.Register("demo", New)
}

const defaultIntervalSeconds = 5

// Connector simulates fixed-shape telemetry for a configured set of
// device names, at a fixed interval — grounded on the teacher's
// adsblol poller (builtin/adsblol/controller.go): a ticker loop that
// fetches (here, synthesizes) a reading and pushes it downstream each
// tick, started from Open and torn down from Close.
type Connector struct {
	name, id string
	config   map[string]any

	devices  []string
	interval time.Duration

	stopped    atomic.Bool
	connected  atomic.Bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	received atomic.Int64
	sent     atomic.Int64
}

// New is the connector.Constructor registered under type "demo".
func New(name, id string, config map[string]any) (connector.Connector, error) {
	c := &Connector{name: name, id: id, config: config, interval: defaultIntervalSeconds * time.Second}

	if raw, ok := config["devices"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				c.devices = append(c.devices, s)
			}
		}
	}
	if len(c.devices) == 0 {
		c.devices = []string{"demo-sensor-1"}
	}

	if secs, ok := config["intervalSeconds"].(float64); ok && secs > 0 {
		c.interval = time.Duration(secs * float64(time.Second))
	}

	return c, nil
}

func (c *Connector) Open(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.connected.Store(true)

	c.wg.Add(1)
	go c.run(runCtx)
	return nil
}

func (c *Connector) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *Connector) tick() {
	if sink == nil {
		slog.Warn("demo connector: no intake sink configured, dropping tick", "connector", c.name)
		return
	}

	now := time.Now().UnixMilli()
	for _, device := range c.devices {
		data := &model.ConvertedData{
			DeviceName: device,
			DeviceType: "demo",
			Telemetry: []model.TelemetryEntry{
				{TS: now, Values: map[string]any{"reading": syntheticReading(now)}},
			},
		}
		c.received.Add(1)
		if sink.Submit(c.name, c.id, data) == intake.Success {
			c.sent.Add(1)
		}
	}
}

// syntheticReading produces a small deterministic-ish waveform so
// repeated ticks aren't all identical, without pulling in a real sensor.
func syntheticReading(nowMillis int64) float64 {
	return float64((nowMillis/1000)%100) / 10.0
}

func (c *Connector) Close() error {
	c.stopped.Store(true)
	c.connected.Store(false)
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return nil
}

func (c *Connector) IsStopped() bool   { return c.stopped.Load() }
func (c *Connector) IsConnected() bool { return c.connected.Load() && !c.stopped.Load() }
func (c *Connector) Name() string      { return c.name }
func (c *Connector) ID() string        { return c.id }
func (c *Connector) Type() string      { return "demo" }
func (c *Connector) Config() map[string]any { return c.config }

// ServerSideRPCHandler answers a "ping" RPC and echoes back anything
// else; a real protocol connector would translate content into its own
// wire command here.
func (c *Connector) ServerSideRPCHandler(ctx context.Context, content map[string]any) (connector.RPCResult, error) {
	if method, _ := content["method"].(string); method == "ping" {
		return connector.RPCResult{"pong": true}, nil
	}
	return connector.RPCResult{"echo": content}, nil
}

func (c *Connector) OnAttributesUpdate(update connector.AttributeUpdate) {
	slog.Info("demo connector: received shared-attribute update", "connector", c.name, "device", update.Device, "data", update.Data)
}

func (c *Connector) GetDeviceSharedAttributesKeys(device string) ([]string, bool) {
	return nil, false
}

func (c *Connector) Stats() connector.Stats {
	return connector.Stats{MessagesReceived: c.received.Load(), MessagesSent: c.sent.Load()}
}
