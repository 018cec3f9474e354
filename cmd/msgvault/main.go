// Msgvault archives live WhatsApp conversations to MongoDB.
//
// The daemon connects through the chat-socket library, records one
// conversation per remote participant plus every inbound message, answers
// the /ping command, and supervises reconnects. On first start it renders a
// pairing QR code on the terminal; the session then persists across
// restarts via the auth-state file.
//
// Configuration is environment variables only. See internal/config for the
// full list.
//
// Usage:
//
//	MONGO_URI=mongodb://localhost:27017 msgvault
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/msgvault/internal/config"
	"github.com/fyrsmithlabs/msgvault/internal/ingest"
	"github.com/fyrsmithlabs/msgvault/internal/logging"
	"github.com/fyrsmithlabs/msgvault/internal/socket"
	"github.com/fyrsmithlabs/msgvault/internal/store"
	"github.com/fyrsmithlabs/msgvault/internal/supervisor"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:           "msgvault",
		Short:         "Archive live WhatsApp conversations to MongoDB",
		Version:       fmt.Sprintf("%s (%s)", version, gitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "msgvault: %v\n", err)
		os.Exit(1)
	}
}

// run wires the daemon together and blocks until shutdown:
//  1. Loads and validates configuration
//  2. Initializes the logger
//  3. Connects the store and ensures its indexes
//  4. Creates the socket factory and ingestion pipeline
//  5. Hands control to the connection supervisor
func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger) // Best-effort sync on shutdown
	}()

	logger.Info("starting msgvault",
		zap.String("version", version),
		zap.String("database", cfg.Mongo.Database),
		zap.Int("reconnect_max_attempts", cfg.Reconnect.MaxAttempts),
	)

	st, err := store.NewMongo(ctx, store.MongoConfig{
		URI:      cfg.Mongo.URI,
		Database: cfg.Mongo.Database,
	}, logger.Named("store"))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			logger.Warn("store close failed", zap.Error(err))
		}
	}()
	if err := st.EnsureIndexes(ctx); err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		startMetricsListener(cfg.Metrics.Addr, logger)
	}

	factory := socket.NewWhatsmeowFactory(socket.WhatsmeowConfig{
		AuthStatePath: cfg.Auth.StatePath,
	}, logger.Named("socket"))

	pipeline := ingest.NewPipeline(st, logger.Named("ingest"))

	sup := supervisor.New(factory, pipeline, supervisor.Policy{
		MaxAttempts:     cfg.Reconnect.MaxAttempts,
		InitialInterval: cfg.Reconnect.InitialInterval.Duration(),
		MaxInterval:     cfg.Reconnect.MaxInterval.Duration(),
	}, logger.Named("supervisor"),
		supervisor.WithQRRenderer(socket.RenderQR),
		supervisor.WithCredsSaver(func(update socket.CredsUpdate) {
			// The auth-state container persists credentials itself; this
			// callback exists so every update is visible operationally.
			logger.Info("credentials saved", zap.String("session_id", update.SessionID))
		}),
	)

	err = sup.Run(ctx)
	if errors.Is(err, supervisor.ErrLoggedOut) {
		logger.Error("session terminated, delete the auth state file and re-pair")
	}
	return err
}

// initLogger builds the process logger from config.
func initLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := logging.LevelFromString(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}

	logCfg := logging.NewDefaultConfig()
	logCfg.Level = level
	logCfg.Format = cfg.Log.Format
	return logging.New(logCfg)
}

// startMetricsListener serves Prometheus exposition in the background.
// Listener failures are logged, not fatal: metrics are an operational
// convenience, the pipeline is the job.
func startMetricsListener(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Warn("metrics listener stopped", zap.Error(err))
		}
	}()
}
