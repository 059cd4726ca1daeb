package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pulpfile/pkg/app"
	"pulpfile/pkg/config"
	"pulpfile/pkg/server"

	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthService is the name reported by grpc.health.v1 besides "".
const HealthService = "pulpfile"

func main() {
	cfgFile := flag.String("config", "", "config file (default is $HOME/.pulpfile/config.yaml)")
	flag.Parse()

	if err := config.Load(*cfgFile); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	logger, err := config.NewLogger(os.Stderr, viper.GetString("log.level"), viper.GetString("log.format"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	if f := viper.ConfigFileUsed(); f != "" {
		logger.Info("using config file", "path", f)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, logger *slog.Logger) error {
	// 1. core
	application, err := app.NewApp(ctx, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize app: %w", err)
	}

	// 2. HTTP
	httpAddr := viper.GetString("server.http_addr")
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           application.Handler().Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	// 3. gRPC: health and reflection
	grpcAddr := viper.GetString("server.grpc_addr")
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		_ = application.Close(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", grpcAddr, err)
	}
	grpcServer := grpc.NewServer(server.NewInterceptors(logger).ServerOptions()...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	reflection.Register(grpcServer)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)

	// 4. serve until the signal
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("grpc server listening", "addr", grpcAddr)
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		hs.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("server.shutdown_timeout"))
		defer cancel()

		err := httpServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		return errors.Join(err, application.Close(shutdownCtx))
	})
	return g.Wait()
}
