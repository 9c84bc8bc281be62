// Command strategylab runs backtests, parameter searches and strategy
// comparisons from the command line, locally or against a strategylab-server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"strategylab/internal/config"
	"strategylab/internal/gather"
	"strategylab/internal/scenario"
	"strategylab/internal/strategy"
	"strategylab/internal/strategy/builtins"
	"strategylab/internal/util"
)

var (
	configPath string
	logLevel   string
)

func main() {
	app := cli.NewApp()
	app.Name = "strategylab"
	app.Usage = "strategy backtest simulation engine"
	app.EnableBashCompletion = true
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Value:       config.Path(),
			Usage:       "path to the YAML configuration file",
			EnvVars:     []string{"STRATEGYLAB_CONFIG"},
			Destination: &configPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Value:       "warn",
			Usage:       "log level (debug, info, warn, error)",
			Destination: &logLevel,
		},
	}
	app.Commands = []*cli.Command{
		runCommand,
		optimizeCommand,
		compareCommand,
		submitCommand,
		strategiesCommand,
		runsCommand,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}

// loadConfig reads the configuration file, falling back to built-in defaults
// when the file does not exist.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if os.IsNotExist(err) {
		return config.Defaults(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", configPath, err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	logger := util.NewLogger(logLevel, cfg.Logging.Format)
	util.SetDefault(logger)
	return logger
}

func newRegistry() *strategy.Registry {
	reg := strategy.NewRegistry()
	builtins.Register(reg)
	return reg
}

// newOrchestrator wires a local orchestrator from the configuration.
func newOrchestrator(cfg *config.Config, log *slog.Logger) (*scenario.Orchestrator, error) {
	loader, err := gather.NewLoaderFromConfig(cfg, log)
	if err != nil {
		return nil, err
	}
	return scenario.New(loader, newRegistry(), scenario.Options{
		MaxParallel: cfg.Backtest.MaxParallel,
		Logger:      log,
		Defaults:    cfg.Backtest.Apply,
	}), nil
}
