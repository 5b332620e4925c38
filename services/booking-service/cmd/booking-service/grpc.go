package main

import (
	"context"
	"log/slog"
	"net"

	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/md-rashed-zaman/medbook/libs/grpcx"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/fulfillment"
)

func startGrpcServer(ctx context.Context, logger *slog.Logger, port string, svc *fulfillment.Service) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}

	srv, hs := grpcx.NewServer(logger)
	fulfillment.Register(srv, svc)
	hs.SetServingStatus(fulfillment.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		hs.Shutdown()
		srv.GracefulStop()
	}()

	return nil
}
