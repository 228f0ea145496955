// Command prismnode runs the PRISM DID indexer/resolver: it ingests PRISM
// operations from a Cardano ledger source, replays and indexes them, and
// serves DID resolution and submission over HTTP.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/prism-node/prism/internal/dlt"
	"github.com/prism-node/prism/internal/dlt/blockfrost"
	"github.com/prism-node/prism/internal/dlt/dbsync"
	dltmemory "github.com/prism-node/prism/internal/dlt/memory"
	"github.com/prism-node/prism/internal/httpapi"
	"github.com/prism-node/prism/internal/ingest/cursor"
	"github.com/prism-node/prism/internal/ingest/index"
	"github.com/prism-node/prism/internal/ingest/sync"
	"github.com/prism-node/prism/internal/metrics"
	"github.com/prism-node/prism/internal/resolver"
	"github.com/prism-node/prism/internal/store"
	"github.com/prism-node/prism/internal/store/memory"
	"github.com/prism-node/prism/internal/store/postgres"
	"github.com/prism-node/prism/internal/submit"
	"github.com/prism-node/prism/pkg/config"
)

func main() {
	root := &cobra.Command{Use: "prismnode"}
	root.PersistentFlags().String("config", "", "path to a config file (yaml)")
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file named by --config (if any), then
// layers PRISM_-prefixed environment variables over it via config.Load. A
// missing or undiscoverable config file is not fatal: if an explicit
// --config path was given, it is parsed directly as YAML as a fallback
// (viper.ReadInConfig requires the file to live under one of config.Load's
// fixed search paths); otherwise an all-defaults Config is used, filled in
// entirely from the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		viper.SetConfigFile(path)
	}

	cfg, err := config.LoadFromEnv()
	if err == nil {
		return cfg, nil
	}

	if path != "" {
		if raw, readErr := os.ReadFile(path); readErr == nil {
			cfg = &config.Config{}
			if yamlErr := yaml.Unmarshal(raw, cfg); yamlErr == nil {
				return cfg, nil
			}
		}
	}

	cfg = &config.Config{}
	viper.AutomaticEnv()
	_ = viper.Unmarshal(cfg)
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the ingestion workers and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "create or update the postgres schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Store.DSN == "" {
				return fmt.Errorf("store.dsn is required")
			}
			zlog, _ := zap.NewProduction()
			defer func() { _ = zlog.Sync() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			db, err := postgres.Connect(ctx, cfg.Store.DSN, zlog)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			return db.Migrate(ctx)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := logrus.StandardLogger()
	if cfg.Logging.Level != "" {
		level, err := logrus.ParseLevel(cfg.Logging.Level)
		if err != nil {
			return fmt.Errorf("parse logging.level: %w", err)
		}
		logger.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	source, err := openSource(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open dlt source: %w", err)
	}

	res, err := resolver.New(repo, cfg.Store.ResolverLRU, logger)
	if err != nil {
		return fmt.Errorf("new resolver: %w", err)
	}

	sink := submit.NewSink(noopLedgerClient{}, logger)

	indexInterval := cfg.Ingest.IndexInterval
	if indexInterval <= 0 {
		indexInterval = index.DefaultInterval
	}

	stats := metrics.NewIngestion()

	syncWorker := sync.NewWorker(source, repo, logger)
	syncWorker.SetMetrics(stats)
	cursorWorker := cursor.NewWorker(source.SyncCursor(), repo, logger)
	cursorWorker.SetMetrics(stats)
	indexWorker := index.NewWorker(repo, indexInterval, logger)
	indexWorker.SetMetrics(stats)

	syncWorker.Start(ctx)
	cursorWorker.Start(ctx)
	indexWorker.Start(ctx)

	addr := cfg.HTTP.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	server := httpapi.New(res, repo, sink, stats, logger)
	httpServer := newHTTPServer(addr, server)

	go func() {
		logger.Infof("prismnode: listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil {
			logger.WithError(err).Error("prismnode: http server stopped")
		}
	}()

	<-ctx.Done()
	logger.Info("prismnode: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	syncWorker.Stop()
	cursorWorker.Stop()
	indexWorker.Stop()
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (store.Repository, error) {
	if cfg.Store.DSN == "" {
		logger.Warn("prismnode: store.dsn unset, using an in-memory store")
		return memory.New(logger), nil
	}

	zlog, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("new zap logger: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.Store.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.Store.MaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect pool: %w", err)
	}
	return postgres.New(pool, zlog), nil
}

func openSource(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (dlt.Source, error) {
	switch cfg.DLT.Source {
	case "memory":
		logger.Warn("prismnode: dlt.source=memory, no operations will ever be ingested")
		return dltmemory.New(nil), nil
	case "dbsync":
		return dbsync.New(ctx, dbsync.Config{
			DSN:             cfg.DLT.DbSyncDSN,
			PollInterval:    cfg.DLT.PollInterval,
			ConfirmationLag: cfg.DLT.ConfirmationLag,
			Logger:          logger,
		})
	case "blockfrost", "":
		return blockfrost.New(blockfrost.Config{
			BaseURL:         cfg.DLT.BlockfrostURL,
			ProjectID:       cfg.DLT.BlockfrostKey,
			PollInterval:    cfg.DLT.PollInterval,
			ConfirmationLag: cfg.DLT.ConfirmationLag,
			Logger:          logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown dlt.source %q", cfg.DLT.Source)
	}
}

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// noopLedgerClient is the default submit.LedgerClient when no outbound
// transaction submission endpoint has been configured; it rejects every
// submission rather than silently discarding it.
type noopLedgerClient struct{}

func (noopLedgerClient) SubmitTransaction(ctx context.Context, metadataJSON []byte) (string, error) {
	return "", fmt.Errorf("prismnode: no ledger submission endpoint configured")
}
