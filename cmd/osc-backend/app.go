package main

import (
	"context"
	"fmt"

	"github.com/opensciencecatalog/osc-backend/internal/archive"
	"github.com/opensciencecatalog/osc-backend/internal/config"
	"github.com/opensciencecatalog/osc-backend/internal/db"
	"github.com/opensciencecatalog/osc-backend/internal/logging"
	"github.com/opensciencecatalog/osc-backend/internal/notify"
	"github.com/opensciencecatalog/osc-backend/internal/notify/discord"
	"github.com/opensciencecatalog/osc-backend/internal/notify/slack"
	"github.com/opensciencecatalog/osc-backend/internal/pullrequest"
	"go.uber.org/zap"
)

// loadConfig loads the config file and builds the logger it asks for.
func loadConfig(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := loggerFor(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func loggerFor(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Server.LogLevel, cfg.Server.Development)
}

func newPullRequestService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pullrequest.Service, error) {
	return pullrequest.New(ctx, pullrequest.Opts{
		Token:      cfg.GitHub.Token,
		Owner:      cfg.Owner(),
		Repo:       cfg.Repo(),
		MainBranch: cfg.GitHub.MainBranch,
		APIURL:     cfg.GitHub.APIURL,
		Logger:     logger.Named("pullrequest"),
	})
}

func openLedger(cfg *config.Config) (*db.Ledger, error) {
	gormDB, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return db.NewLedger(gormDB), nil
}

// openArchive connects to object storage and makes sure the bucket exists.
func openArchive(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*archive.Archive, error) {
	arc, err := archive.New(ctx, archive.Opts{
		EndpointURL:     cfg.ObjectStorage.EndpointURL,
		AccessKeyID:     cfg.ObjectStorage.AccessKeyID,
		SecretAccessKey: cfg.ObjectStorage.SecretAccessKey,
		Bucket:          cfg.ObjectStorage.Bucket,
		Region:          cfg.ObjectStorage.Region,
	})
	if err != nil {
		return nil, err
	}
	if !arc.Enabled() {
		logger.Info("object storage not configured, submissions are not archived")
		return arc, nil
	}
	if err := arc.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	logger.Info("object storage ready", zap.String("bucket", arc.Bucket()))
	return arc, nil
}

// buildNotifier fans out to every configured chat webhook.
func buildNotifier(cfg *config.Config) (notify.Notifier, error) {
	var multi notify.Multi
	if cfg.Notify.SlackWebhookURL != "" {
		n, err := slack.New(slack.Opts{WebhookURL: cfg.Notify.SlackWebhookURL})
		if err != nil {
			return nil, err
		}
		multi = append(multi, n)
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		n, err := discord.New(discord.Opts{WebhookURL: cfg.Notify.DiscordWebhookURL})
		if err != nil {
			return nil, err
		}
		multi = append(multi, n)
	}
	if len(multi) == 0 {
		return notify.Nop{}, nil
	}
	return multi, nil
}
