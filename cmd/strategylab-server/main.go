// Command strategylab-server serves the backtest job API over HTTP, WebSocket
// and gRPC.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"strategylab/internal/api"
	"strategylab/internal/config"
	"strategylab/internal/gather"
	"strategylab/internal/jobs"
	"strategylab/internal/scenario"
	"strategylab/internal/store"
	"strategylab/internal/strategy"
	"strategylab/internal/strategy/builtins"
	"strategylab/internal/util"
)

func main() {
	// Load config.
	cfgPath := config.Path()
	cfg, err := config.Load(cfgPath)
	if errors.Is(err, os.ErrNotExist) {
		cfg, err = config.Defaults(), nil
	}
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	// Storage and job tracking.
	runs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening run archive: %v", err)
	}
	defer runs.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	js := jobs.NewStore(cfg.Jobs.TTL, logger)
	go js.RunSweeper(ctx, cfg.Jobs.SweepInterval)

	loader, err := gather.NewLoaderFromConfig(cfg, logger)
	if err != nil {
		log.Fatalf("creating loader: %v", err)
	}

	reg := strategy.NewRegistry()
	builtins.Register(reg)

	orch := scenario.New(loader, reg, scenario.Options{
		MaxParallel:  cfg.Backtest.MaxParallel,
		CacheResults: true,
		Jobs:         js,
		Runs:         runs,
		Logger:       logger,
		Defaults:     cfg.Backtest.Apply,
	})
	defer orch.Close()

	// HTTP server.
	srv := api.NewServer(orch, js, runs, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	// gRPC server.
	var gs *grpc.Server
	if cfg.Server.GRPCPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort))
		if err != nil {
			log.Fatalf("listening for gRPC: %v", err)
		}
		gs = grpc.NewServer()
		api.NewGRPCService(orch, js, logger).RegisterGRPC(gs)
		go func() {
			logger.Info("gRPC server listening", "addr", lis.Addr().String())
			if err := gs.Serve(lis); err != nil {
				logger.Error("gRPC server error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down strategylab server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if gs != nil {
		gs.GracefulStop()
	}
}
