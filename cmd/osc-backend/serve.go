package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/opensciencecatalog/osc-backend/internal/backends"
	"github.com/opensciencecatalog/osc-backend/internal/catalog"
	"github.com/opensciencecatalog/osc-backend/internal/config"
	"github.com/opensciencecatalog/osc-backend/internal/items"
	"github.com/opensciencecatalog/osc-backend/internal/processing"
	"github.com/opensciencecatalog/osc-backend/internal/server"
	"github.com/opensciencecatalog/osc-backend/internal/syncer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type serveFlags struct {
	configPath string
	host       string
	port       int
	logLevel   string
	watch      bool
}

func newServeCmd() *cobra.Command {
	var f serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long: "Serves the items and processing APIs. Configuration comes from the optional " +
			"config file and the environment; flags override both.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, f)
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "path to YAML config file (optional)")
	cmd.Flags().StringVar(&f.host, "host", "", "address to listen on (overrides config)")
	cmd.Flags().IntVarP(&f.port, "port", "p", 0, "port to listen on (overrides config)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	cmd.Flags().BoolVar(&f.watch, "watch", false, "reload the backend mapping file when it changes")
	return cmd
}

// applyServeFlags overlays flags that were set onto cfg.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config, f serveFlags) {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = f.host
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = f.port
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Server.LogLevel = f.logLevel
	}
}

func runServe(cmd *cobra.Command, f serveFlags) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg, f)
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("port %d out of range", cfg.Server.Port)
	}
	logger, err := loggerFor(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	ledger, err := openLedger(cfg)
	if err != nil {
		return err
	}
	arc, err := openArchive(ctx, cfg, logger.Named("archive"))
	if err != nil {
		return err
	}
	notifier, err := buildNotifier(cfg)
	if err != nil {
		return err
	}
	prs, err := newPullRequestService(ctx, cfg, logger)
	if err != nil {
		return err
	}

	registry, err := backends.Load(cfg.Processing.BackendMappingFile, logger.Named("backends"))
	if err != nil {
		return err
	}
	if f.watch && cfg.Processing.BackendMappingFile != "" {
		go func() {
			if err := registry.Watch(ctx); err != nil {
				logger.Error("backend mapping watch stopped", zap.Error(err))
			}
		}()
	}

	itemSvc, err := items.New(items.Opts{
		PullRequests: prs,
		Archive:      arc,
		Ledger:       ledger,
		Notifier:     notifier,
		Logger:       logger.Named("items"),
	})
	if err != nil {
		return err
	}
	proxy := processing.New(processing.Opts{
		Backends: registry,
		Catalog:  catalog.New(cfg.Processing.ResourceCatalogMetadataURL, nil, cfg.Processing.Timeout, logger.Named("catalog")),
		Ledger:   ledger,
		Timeout:  cfg.Processing.Timeout,
		Logger:   logger.Named("processing"),
	})

	if !cfg.Sync.Disabled {
		s := syncer.New(prs, ledger, notifier, logger.Named("syncer"))
		if err := s.Start(ctx, cfg.Sync.Schedule); err != nil {
			return err
		}
		defer s.Stop()
	}

	return server.Start(ctx, server.Opts{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		Items:       itemSvc,
		Processing:  proxy,
		DefaultUser: cfg.DefaultUser,
		Logger:      logger.Named("http"),
	})
}
