package lifecycle

import (
	"context"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// grpcControlPlane is the health-check listener a GRPC-subprocess
// connector dials into to announce itself (spec §4.6: "the in-process
// representation is a stub that joins when the subprocess registers
// over the GRPC control plane"). Subprocesses poll their own service
// name's status with the standard gRPC health protocol; the first Check
// or Watch call carrying a known persistent key is treated as
// registration, keeping the wire contract to the stock
// grpc_health_v1 service instead of a bespoke one.
type grpcControlPlane struct {
	grpcServer *grpc.Server
	health     *health.Server

	mu    chan struct{} // binary semaphore guarding stubs
	stubs map[string]*grpcStub

	addr string
}

func newGRPCControlPlane() *grpcControlPlane {
	h := health.NewServer()
	p := &grpcControlPlane{
		health: h,
		mu:     make(chan struct{}, 1),
		stubs:  make(map[string]*grpcStub),
	}
	p.mu <- struct{}{}

	p.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(p.grpcServer, &registeringHealthServer{plane: p, Server: h})
	return p
}

func (p *grpcControlPlane) registerStub(key string, stub *grpcStub) {
	<-p.mu
	p.stubs[key] = stub
	p.mu <- struct{}{}
	p.health.SetServingStatus(key, healthpb.HealthCheckResponse_NOT_SERVING)
}

func (p *grpcControlPlane) markSeen(key string) {
	<-p.mu
	stub, ok := p.stubs[key]
	p.mu <- struct{}{}
	if !ok {
		return
	}
	stub.MarkRegistered()
	p.health.SetServingStatus(key, healthpb.HealthCheckResponse_SERVING)
}

func (p *grpcControlPlane) start(addr string) error {
	if addr == "" {
		addr = ":0"
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	p.addr = lis.Addr().String()
	slog.Info("lifecycle: grpc control plane listening", "addr", p.addr)
	go func() {
		if err := p.grpcServer.Serve(lis); err != nil {
			slog.Debug("lifecycle: grpc control plane stopped serving", "error", err)
		}
	}()
	return nil
}

// listenerAddr returns the address the control plane bound to, resolved
// after start (useful when the configured port was ":0").
func (p *grpcControlPlane) listenerAddr() string { return p.addr }

func (p *grpcControlPlane) stop() {
	p.grpcServer.GracefulStop()
}

// registeringHealthServer intercepts every health probe to mark the
// calling subprocess's stub as registered before answering normally.
type registeringHealthServer struct {
	*health.Server
	plane *grpcControlPlane
}

func (s *registeringHealthServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	s.plane.markSeen(req.GetService())
	return s.Server.Check(ctx, req)
}

func (s *registeringHealthServer) Watch(req *healthpb.HealthCheckRequest, stream healthpb.Health_WatchServer) error {
	s.plane.markSeen(req.GetService())
	return s.Server.Watch(req, stream)
}
