package proto

import (
	"TrackAlarm/engine"
	"TrackAlarm/logger"
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service key that tracks the capture session.
const ServiceName = "trackalarm.Session"

type StateSource interface {
	State() int32
}

func newServer() (*grpc.Server, *health.Server) {
	s := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s, hs
}

// StartGRPCServer serves the standard health service on port.
func StartGRPCServer(port int) (*grpc.Server, *health.Server, error) {
	addr := fmt.Sprintf(":%d", port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	s, hs := newServer()
	go func() {
		logger.Log().Info("gRPC server listening", zap.String("addr", addr))
		if err := s.Serve(lis); err != nil {
			logger.Log().Error("gRPC server stopped", zap.Error(err))
		}
	}()
	return s, hs, nil
}

func servingStatus(state int32) healthpb.HealthCheckResponse_ServingStatus {
	switch state {
	case engine.REGISTERED, engine.IDLE, engine.BUSY:
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// WatchSession mirrors the session state into the health server until ctx
// ends or the session finishes.
func WatchSession(ctx context.Context, hs *health.Server, src StateSource, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := healthpb.HealthCheckResponse_UNKNOWN
	for {
		state := src.State()
		st := servingStatus(state)
		if st != last {
			hs.SetServingStatus(ServiceName, st)
			logger.Log().Info("health status changed",
				zap.String("service", ServiceName),
				zap.String("state", engine.StateName(state)),
				zap.String("status", st.String()))
			last = st
		}
		if state == engine.FINISHED {
			return
		}
		select {
		case <-ctx.Done():
			hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
			return
		case <-ticker.C:
		}
	}
}
