package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/qlearn/internal/config"
	"github.com/ShayCichocki/qlearn/internal/server"
)

var (
	serveAddr        string
	serveNoAggregate bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the learning HTTP API",
	Long: `Serve the learning core over HTTP.

Endpoints:
  POST /v1/agents                 Register an agent
  GET  /v1/agents                 List agents
  POST /v1/select                 Select an action for a task
  POST /v1/learn                  Learn from a task execution
  POST /v1/agents/:id/replay      Replay stored experiences
  GET  /v1/agents/:id/epsilon     Current exploration rate
  GET  /v1/qvalues                Read Q-values of a state
  POST /v1/aggregate              Run an aggregation pass now
  GET  /healthz                   Store health
  GET  /metrics                   Prometheus metrics

The aggregator runs in the background on the configured interval. Reward
parameters and the epsilon schedule are reloaded when the config file
changes.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from server.addr)")
	serveCmd.Flags().BoolVar(&serveNoAggregate, "no-aggregate", false, "Disable background aggregation")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := openEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	if !serveNoAggregate {
		e.aggregator.Start(ctx)
		defer e.aggregator.Stop()
	}

	if configPath != "" {
		if err := config.WatchPath(configPath, logger, e.reload); err != nil {
			logger.Warn("config hot reload disabled", "error", err)
		}
	} else if !config.Watch(logger, e.reload) {
		logger.Debug("no config file to watch")
	}

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}

	srv := server.New(server.Deps{
		Learner:    e.service,
		QValues:    e.qvalues,
		Epsilon:    e.epsilon,
		Aggregator: e.aggregator,
		Store:      e.db,
		Gatherer:   e.registry,
		Logger:     logger,
	})
	return srv.Run(ctx, addr)
}
