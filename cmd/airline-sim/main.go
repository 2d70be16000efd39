// Command airline-sim runs the airline operations simulator: the tick loop,
// the HTTP and gRPC command surfaces, the snapshot websocket and /metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/airline-simulator/internal/config"
	"github.com/signalsfoundry/airline-simulator/internal/logging"
	"github.com/signalsfoundry/airline-simulator/internal/observability"
)

func main() {
	configPath := flag.String("config", "configs/airline-sim.yaml", "path to the YAML configuration file")
	envFile := flag.String("env-file", ".env", "optional .env file loaded before environment overrides")
	flag.Parse()

	bootLog := logging.NewFromEnv()
	ctx := context.Background()

	if err := config.LoadDotEnv(*envFile); err != nil {
		bootLog.Error(ctx, "failed to load env file", logging.Err(err))
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog.Error(ctx, "invalid configuration", logging.String("path", *configPath), logging.Err(err))
		os.Exit(1)
	}
	log := logging.New(cfg.Logging.Logger())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error(context.Background(), "simulator exited", logging.Err(err))
		os.Exit(1)
	}
}

// run wires the process and blocks until ctx is cancelled or a component
// fails.
func run(ctx context.Context, cfg config.Config, log logging.Logger) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	a, err := newApp(ctx, cfg, log, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			log.Warn(context.Background(), "store close failed", logging.Err(err))
		}
	}()

	// Bind the gRPC port before any goroutine starts so a busy address fails
	// run without leaving workers behind.
	var lis net.Listener
	if addr := cfg.Server.GRPCAddr; addr != "" {
		if lis, err = net.Listen("tcp", addr); err != nil {
			return fmt.Errorf("listen grpc %s: %w", addr, err)
		}
	}

	eg, gctx := errgroup.WithContext(ctx)

	eg.Go(func() error { return a.hub.Run(gctx) })
	eg.Go(func() error { return a.sched.Run(gctx) })

	if addr := cfg.Server.HTTPAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: a.http, ReadHeaderTimeout: 10 * time.Second}
		serveHTTP(gctx, eg, srv, "api", log)
	}
	if addr := cfg.Server.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.apiStats.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		serveHTTP(gctx, eg, srv, "metrics", log)
	}
	if lis != nil {
		log.Info(ctx, "starting gRPC server", logging.String("addr", lis.Addr().String()))
		eg.Go(func() error { return a.grpc.Serve(lis) })
		eg.Go(func() error {
			<-gctx.Done()
			a.grpc.GracefulStop()
			return nil
		})
	}

	err = eg.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info(context.Background(), "shutdown complete")
	return err
}

func serveHTTP(ctx context.Context, eg *errgroup.Group, srv *http.Server, name string, log logging.Logger) {
	log.Info(ctx, "starting HTTP server", logging.String("server", name), logging.String("addr", srv.Addr))
	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
