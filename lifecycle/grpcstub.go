package lifecycle

import (
	"context"
	"sync/atomic"

	"github.com/telegate/gwcore/connector"
)

// grpcStub is the in-process representative of a GRPC-type connector
// (spec §4.6: "GRPC connectors are not instantiated in-process but
// launched as a subprocess with their config and a stable persistent
// key; the in-process representation is a stub that joins when the
// subprocess registers over the GRPC control plane"). It reports
// disconnected until the control plane's health-check stream marks it
// registered.
type grpcStub struct {
	name, id, typeName string
	config             map[string]any
	registered         atomic.Bool
	stopped            atomic.Bool
}

func newGRPCStub(name, id, typeName string, config map[string]any) *grpcStub {
	return &grpcStub{name: name, id: id, typeName: typeName, config: config}
}

func (s *grpcStub) Open(ctx context.Context) error { return nil }

func (s *grpcStub) Close() error {
	s.stopped.Store(true)
	return nil
}

func (s *grpcStub) IsStopped() bool  { return s.stopped.Load() }
func (s *grpcStub) IsConnected() bool { return s.registered.Load() && !s.stopped.Load() }

func (s *grpcStub) Name() string               { return s.name }
func (s *grpcStub) ID() string                 { return s.id }
func (s *grpcStub) Type() string               { return s.typeName }
func (s *grpcStub) Config() map[string]any     { return s.config }

// MarkRegistered is called by the GRPC control plane's health-check
// handler when the subprocess heartbeats with this stub's persistent
// key.
func (s *grpcStub) MarkRegistered() { s.registered.Store(true) }

func (s *grpcStub) ServerSideRPCHandler(ctx context.Context, content map[string]any) (connector.RPCResult, error) {
	// The subprocess owns RPC execution over its own channel; the
	// in-process stub has nothing to dispatch to directly.
	return nil, errGRPCStubNoHandler
}

func (s *grpcStub) OnAttributesUpdate(connector.AttributeUpdate) {}

func (s *grpcStub) GetDeviceSharedAttributesKeys(string) ([]string, bool) { return nil, false }

func (s *grpcStub) Stats() connector.Stats { return connector.Stats{} }
