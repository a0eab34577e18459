package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"tablebook/internal/config"
	"tablebook/internal/health"
)

func startHealthServer(ctx context.Context, cfg *config.Config, checker *health.Checker, logger *zerolog.Logger) {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Monitoring.HealthCheckPort),
		Handler:      checker.Handler(),
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
	}
	serveUntilDone(ctx, srv, "health", logger)
}

func startMetricsServer(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
	}
	serveUntilDone(ctx, srv, "metrics", logger)
}

func serveUntilDone(ctx context.Context, srv *http.Server, name string, logger *zerolog.Logger) {
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	logger.Info().Str("addr", srv.Addr).Msgf("%s server listening", name)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msgf("%s server error", name)
	}
}

func startGRPCServer(ctx context.Context, port int, checker *health.Checker, logger *zerolog.Logger) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		logger.Error().Err(err).Int("port", port).Msg("grpc listen failed")
		return
	}

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, checker.GRPC())

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()
	logger.Info().Str("addr", lis.Addr().String()).Msg("grpc health server listening")
	if err := srv.Serve(lis); err != nil {
		logger.Error().Err(err).Msg("grpc server error")
	}
}
