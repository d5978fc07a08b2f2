package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sourcegraph/conc"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"

	"github.com/sebas/mediaserver/internal/banner"
	"github.com/sebas/mediaserver/internal/logger"
	"github.com/sebas/mediaserver/internal/mediaserver/config"
	"github.com/sebas/mediaserver/internal/mediaserver/connection"
	"github.com/sebas/mediaserver/internal/mediaserver/endpoint"
	"github.com/sebas/mediaserver/internal/mediaserver/metrics"
	"github.com/sebas/mediaserver/internal/mediaserver/rtp"
	"github.com/sebas/mediaserver/internal/mediaserver/scheduler"
	"github.com/sebas/mediaserver/internal/mediaserver/server"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "mediaserver:", err)
		os.Exit(2)
	}

	// Initialize logger
	logger.InitLogger(os.Stdout)
	logger.SetLevel(cfg.LogLevel)
	logger.InstallGRPCLogger()

	if err := run(cfg); err != nil {
		slog.Error("Media server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Media server stopped")
}

func run(cfg *config.Config) error {
	sched := scheduler.New(scheduler.WithHeartbeatQuantum(cfg.HeartbeatQuantum))
	sched.Start()
	defer sched.Stop()

	rtpMgr := rtp.NewManager(rtp.NewPortPool(cfg.RTPPortMin, cfg.RTPPortMax), cfg.RTPBindAddr, cfg.AdvertiseAddr)
	observer := metrics.New(prometheus.DefaultRegisterer)

	registry := endpoint.NewRegistry()
	defer registry.Close()

	var endpointLines []banner.ConfigLine
	for _, epCfg := range cfg.Endpoints {
		ep, err := endpoint.New(epCfg, connection.Options{
			Scheduler:       sched,
			RTP:             rtpMgr,
			HalfOpenTimeout: cfg.HalfOpenTimeout,
			OpenTimeout:     cfg.OpenTimeout,
			Observer:        observer,
		})
		if err != nil {
			return err
		}
		if err := registry.Register(ep); err != nil {
			ep.Close()
			return err
		}
		endpointLines = append(endpointLines, banner.ConfigLine{
			Label: ep.Name(),
			Value: fmt.Sprintf("%s local=%d rtp=%d", ep.Kind(), epCfg.LocalConnections, epCfg.RTPConnections),
		})
	}

	grpcServer := grpc.NewServer()
	ctrl := server.NewServer(registry)
	ctrl.Register(grpcServer)

	listenAddr := net.JoinHostPort(cfg.GRPCBindAddr, fmt.Sprint(cfg.GRPCPort))
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	banner.Print(os.Stdout, "Media Server", []banner.ConfigLine{
		{Label: "gRPC", Value: listenAddr},
		{Label: "Metrics", Value: orDisabled(cfg.MetricsAddr)},
		{Label: "Advertise", Value: cfg.AdvertiseAddr},
		{Label: "RTP ports", Value: fmt.Sprintf("%d-%d", cfg.RTPPortMin, cfg.RTPPortMax)},
		{Label: "Heartbeat", Value: cfg.HeartbeatQuantum.String()},
		{Label: "Log level", Value: logger.GetLevel()},
	}, endpointLines)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg conc.WaitGroup
	wg.Go(func() {
		slog.Info("gRPC server listening", "address", listenAddr)
		if err := grpcServer.Serve(listener); err != nil {
			slog.Error("gRPC server error", "error", err)
			stop()
		}
	})
	if metricsServer != nil {
		wg.Go(func() {
			slog.Info("Metrics server listening", "address", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server error", "error", err)
				stop()
			}
		})
	}

	<-ctx.Done()
	slog.Info("Shutting down")

	ctrl.Close()
	grpcServer.GracefulStop()
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Metrics server shutdown", "error", err)
		}
	}
	wg.Wait()
	return nil
}

func orDisabled(addr string) string {
	if addr == "" {
		return "disabled"
	}
	return addr
}
