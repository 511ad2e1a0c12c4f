package main

import (
	"context"
	"fmt"

	"github.com/opensciencecatalog/osc-backend/internal/syncer"
	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync pull request states into the ledger once",
		Long:  "Runs a single pass of the scheduled ledger sync and announces state changes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file (optional)")
	return cmd
}

func runSync(cmd *cobra.Command, configPath string) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	ledger, err := openLedger(cfg)
	if err != nil {
		return err
	}
	prs, err := newPullRequestService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	notifier, err := buildNotifier(cfg)
	if err != nil {
		return err
	}

	res, err := syncer.New(prs, ledger, notifier, logger.Named("syncer")).Sync(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Synced %d pull requests: %d new, %d state changes\n",
		res.Seen, res.Inserted, res.Updated)
	return nil
}
