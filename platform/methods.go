package platform

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/telegate/gwcore/model"
)

// Self-scoped sends — the gateway pseudo-device's own telemetry/attributes.

func (c *Client) SendTelemetry(ctx context.Context, entries []model.TelemetryEntry) model.Future {
	return c.send(envelope{Type: typeTelemetry, Telemetry: entries})
}

func (c *Client) SendAttributes(ctx context.Context, attrs map[string]any) model.Future {
	return c.send(envelope{Type: typeAttributes, Attributes: attrs})
}

// Gateway-scoped sends — on behalf of a south-bound device.

func (c *Client) GwSendTelemetry(ctx context.Context, device string, entries []model.TelemetryEntry) model.Future {
	return c.send(envelope{Type: typeGwTelemetry, Device: device, Telemetry: entries})
}

func (c *Client) GwSendAttributes(ctx context.Context, device string, attrs map[string]any) model.Future {
	return c.send(envelope{Type: typeGwAttributes, Device: device, Attributes: attrs})
}

// GwConnectDevice and GwDisconnectDevice implement spec §6.3's device
// lifecycle calls; ConnectDevice/DisconnectDevice are the thin
// registry.PlatformDeviceOps-shaped wrappers the Device Registry calls
// synchronously on add/remove.

func (c *Client) GwConnectDevice(ctx context.Context, name, deviceType string) model.Future {
	return c.send(envelope{Type: typeConnectDevice, Device: name, DeviceType: deviceType})
}

func (c *Client) GwDisconnectDevice(ctx context.Context, name string) model.Future {
	return c.send(envelope{Type: typeDisconnectDevice, Device: name})
}

func (c *Client) ConnectDevice(ctx context.Context, name, deviceType string) error {
	return c.GwConnectDevice(ctx, name, deviceType).Get(ctx)
}

func (c *Client) DisconnectDevice(ctx context.Context, name string) error {
	return c.GwDisconnectDevice(ctx, name).Get(ctx)
}

// SendRPCReply and GwSendRPCReply reply to a server-side RPC request;
// these are fire-and-forget from the caller's perspective (the RPC
// Reply Sender worker serializes them, spec §4.5) but still return a
// Future so the reply sender can confirm delivery the same way a data
// publish does.

func (c *Client) SendRPCReply(ctx context.Context, requestID string, result map[string]any) model.Future {
	return c.send(envelope{Type: typeRPCReply, RequestID: requestID, Result: result})
}

func (c *Client) GwSendRPCReply(ctx context.Context, device, requestID string, result map[string]any) model.Future {
	return c.send(envelope{Type: typeRPCReply, Device: device, RequestID: requestID, Result: result})
}

// RequestAttributes fetches the gateway's own shared/client attributes.
func (c *Client) RequestAttributes(ctx context.Context, sharedKeys, clientKeys []string) (map[string]any, error) {
	return c.requestAttributes(ctx, "", append(append([]string{}, sharedKeys...), clientKeys...))
}

func (c *Client) GwRequestSharedAttributes(ctx context.Context, device string, keys []string) (map[string]any, error) {
	return c.requestAttributes(ctx, device, keys)
}

func (c *Client) GwRequestClientAttributes(ctx context.Context, device string, keys []string) (map[string]any, error) {
	return c.requestAttributes(ctx, device, keys)
}

// requestAttributes sends a request envelope and blocks for its ack,
// which carries the fetched attributes back in Result.
func (c *Client) requestAttributes(ctx context.Context, device string, keys []string) (map[string]any, error) {
	id, f := c.registerFuture()

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		c.resolvePending(id, errNotConnected)
		return nil, errNotConnected
	}

	env := envelope{ID: id, Type: typeRequestAttributes, Device: device, Keys: keys}
	data, err := json.Marshal(env)
	if err != nil {
		c.resolvePending(id, err)
		return nil, err
	}

	c.writeMu.Lock()
	writeErr := conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if writeErr != nil {
		c.resolvePending(id, writeErr)
		return nil, writeErr
	}

	if err := f.Get(ctx); err != nil {
		return nil, fmt.Errorf("platform: requestAttributes: %w", err)
	}

	c.pendingMu.Lock()
	result := c.lastResult[id]
	delete(c.lastResult, id)
	c.pendingMu.Unlock()
	return result, nil
}
