// Package demo is a reference south-bound connector: it simulates a
// handful of devices emitting periodic telemetry instead of decoding a
// real device protocol (out of scope for this module, spec §6.1), so
// the rest of the gateway has something concrete to exercise end to
// end. It registers itself under connector type "demo" (spec §4.6 step
// 1's type-string lookup).
package demo

import (
	"github.com/telegate/gwcore/intake"
	"github.com/telegate/gwcore/model"
)

// Sink is the conversion-intake capability a connector submits through.
// It mirrors intake.Intake's Submit signature exactly, without this
// package importing the concrete Intake type, so the host wires
// whichever sink it constructed.
type Sink interface {
	Submit(connectorName, connectorID string, data *model.ConvertedData) intake.Result
}

// sink is set once at startup by the host (gateway bootstrap), the same
// way the teacher's builtin plug-ins pull a package-level gRPC
// connection accessor (builtin.BuiltinClientConn) rather than receiving
// one through the plug-in constructor signature.
var sink Sink

// SetSink wires the shared intake sink every demo connector instance
// submits through. Must be called before any demo connector's Open.
func SetSink(s Sink) { sink = s }
