package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/gokumo/internal/config"
	"github.com/joshp123/gokumo/internal/core"
	"github.com/joshp123/gokumo/internal/logging"
	"github.com/joshp123/gokumo/internal/plugins"
	"github.com/joshp123/gokumo/internal/rate"
	"github.com/joshp123/gokumo/internal/router"
	"github.com/joshp123/gokumo/internal/server"
)

const shutdownTimeout = 10 * time.Second

var version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "directory":
			directoryMain(os.Args[2:])
			return
		case "version":
			fmt.Println(version)
			return
		}
	}
	serveMain(os.Args[1:])
}

func serveMain(args []string) {
	flags := flag.NewFlagSet("gokumo", flag.ExitOnError)
	configPath := flags.String("config", "", "Path to config.pbtxt (default $GOKUMO_CONFIG or "+config.DefaultPath+")")
	_ = flags.Parse(args)

	cfg, err := config.Load(config.ResolvePath(*configPath))
	if err != nil {
		fatal("load config", err)
	}
	logger, err := logging.New(cfg.Core.LogLevel, cfg.Core.LogFormat, os.Stderr)
	if err != nil {
		fatal("logging", err)
	}
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("gokumo exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	enabled := config.EnabledPlugins(cfg)
	compiled := plugins.Compiled(cfg, logger)
	if err := core.ValidateEnabledPlugins(compiled, enabled, false); err != nil {
		return err
	}
	active := core.FilterPlugins(compiled, enabled, false)
	if err := core.ValidatePlugins(active); err != nil {
		return err
	}
	if cfg.Core.DashboardDir != "" {
		if err := core.WriteDashboards(cfg.Core.DashboardDir, active); err != nil {
			logger.Warn("dashboards not written", "dir", cfg.Core.DashboardDir, "error", err)
		}
	}

	grpcServer, err := server.NewGRPCServer(cfg.Core.GRPCAddr, logger)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	if err := router.RegisterPlugins(grpcServer.Server, active); err != nil {
		return err
	}

	buildInfo := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "gokumo_build_info",
		Help:        "Build information",
		ConstLabels: prometheus.Labels{"version": version},
	}, func() float64 { return 1 })
	extra := append(rate.MetricsCollectors(), buildInfo)
	registry, err := core.MetricsRegistry(active, extra...)
	if err != nil {
		return fmt.Errorf("metrics registry: %w", err)
	}

	mux := server.NewRouter(registry, core.DashboardsMap(active), func(r chi.Router) {
		router.MountHTTP(r, active)
	})
	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, mux)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var starters []core.Starter
	for _, p := range active {
		starter, ok := p.(core.Starter)
		if !ok {
			continue
		}
		if err := starter.Start(ctx); err != nil {
			// Pending units and an unreachable cloud are retried by the plugin; bad
			// credentials and missing directories land here.
			logger.Error("plugin start failed", "plugin", p.ID(), "error", err)
		}
		starters = append(starters, starter)
	}
	defer func() {
		for _, s := range starters {
			s.Stop()
		}
	}()

	errs := make(chan error, 2)
	go func() {
		logger.Info("http listening", "addr", cfg.Core.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http serve: %w", err)
		}
	}()
	go func() {
		logger.Info("grpc listening", "addr", cfg.Core.GRPCAddr)
		if err := grpcServer.Serve(); err != nil {
			errs <- fmt.Errorf("grpc serve: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errs:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	grpcServer.Server.GracefulStop()
	return nil
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
