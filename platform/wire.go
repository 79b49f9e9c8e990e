// Package platform implements the Platform Client capability (spec
// §6.3): the persistent north-bound pub/sub link to the server. The
// reference implementation speaks a framed JSON protocol over a
// gorilla/websocket connection, reconnecting with exponential backoff
// and classifying errors as retryable or fatal the way the teacher's
// resilient gRPC stream wrapper does (goclient/client.go).
package platform

import "github.com/telegate/gwcore/model"

// envelope is one frame exchanged over the websocket connection.
type envelope struct {
	ID      string         `json:"id,omitempty"`
	Type    string         `json:"type"`
	Device  string         `json:"device,omitempty"`
	Success bool           `json:"success,omitempty"`
	Error   string         `json:"error,omitempty"`
	Code    int            `json:"code,omitempty"`

	Telemetry  []model.TelemetryEntry `json:"telemetry,omitempty"`
	Attributes map[string]any         `json:"attributes,omitempty"`
	DeviceType string                 `json:"deviceType,omitempty"`

	Keys   []string       `json:"keys,omitempty"`
	Result map[string]any `json:"result,omitempty"`

	RequestID string `json:"requestId,omitempty"`
	Method    string `json:"method,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
}

const (
	typeAck              = "ack"
	typeTelemetry         = "telemetry"
	typeAttributes        = "attributes"
	typeGwTelemetry       = "gwTelemetry"
	typeGwAttributes      = "gwAttributes"
	typeConnectDevice     = "connectDevice"
	typeDisconnectDevice  = "disconnectDevice"
	typeRequestAttributes = "requestAttributes"
	typeAttributesUpdate  = "attributeUpdate"
	typeRPCRequest        = "rpcRequest"
	typeRPCReply          = "rpcReply"
	typeSubscribe         = "subscribe"
)
