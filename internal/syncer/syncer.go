// Package syncer keeps the submission ledger in step with the pull request
// states on GitHub and announces state changes.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opensciencecatalog/osc-backend/internal/config"
	"github.com/opensciencecatalog/osc-backend/internal/db"
	"github.com/opensciencecatalog/osc-backend/internal/models"
	"github.com/opensciencecatalog/osc-backend/internal/notify"
	"github.com/opensciencecatalog/osc-backend/internal/pullrequest"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Source lists the submission pull requests of the catalog repository.
type Source interface {
	Submissions(ctx context.Context) ([]pullrequest.Submission, error)
}

// Result counts what a sync pass changed.
type Result struct {
	Seen     int
	Inserted int
	Updated  int
}

// Syncer compares pull request states with the ledger.
type Syncer struct {
	source   Source
	ledger   *db.Ledger
	notifier notify.Notifier
	logger   *zap.Logger

	mu   sync.Mutex // serializes passes
	cron *cron.Cron
}

// New creates a Syncer. A nil notifier discards events.
func New(source Source, ledger *db.Ledger, notifier notify.Notifier, logger *zap.Logger) *Syncer {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{source: source, ledger: ledger, notifier: notifier, logger: logger}
}

// Sync runs one pass. Pull requests unknown to the ledger are inserted
// silently; known ones whose state moved are updated and announced.
func (s *Syncer) Sync(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res Result
	subs, err := s.source.Submissions(ctx)
	if err != nil {
		return res, fmt.Errorf("syncer: %w", err)
	}

	for _, sub := range subs {
		res.Seen++
		state := string(sub.Body.State)

		existing, err := s.ledger.Submission(sub.Number)
		if errors.Is(err, db.ErrNoSubmission) {
			row := submissionRow(sub)
			if err := s.ledger.RecordSubmission(row); err != nil {
				return res, fmt.Errorf("syncer: %w", err)
			}
			res.Inserted++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("syncer: %w", err)
		}
		if existing.State == state {
			continue
		}

		if err := s.ledger.SetSubmissionState(sub.Number, state); err != nil {
			return res, fmt.Errorf("syncer: %w", err)
		}
		res.Updated++
		s.logger.Info("submission state changed",
			zap.Int("number", sub.Number),
			zap.String("from", existing.State),
			zap.String("to", state))

		evt := notify.Event{
			Kind:       notify.KindStateChanged,
			PRNumber:   sub.Number,
			URL:        sub.Body.URL,
			User:       sub.Body.User,
			Filename:   sub.Body.Filename,
			ItemType:   sub.Body.ItemType,
			ChangeType: string(sub.Body.ChangeType),
			State:      state,
			PrevState:  existing.State,
		}
		if err := s.notifier.Notify(ctx, evt); err != nil {
			s.logger.Warn("notify failed", zap.Int("number", sub.Number), zap.Error(err))
		}
	}
	return res, nil
}

func submissionRow(sub pullrequest.Submission) *models.Submission {
	row := &models.Submission{
		PRNumber:   sub.Number,
		URL:        sub.Body.URL,
		Filename:   sub.Body.Filename,
		ItemType:   sub.Body.ItemType,
		ChangeType: string(sub.Body.ChangeType),
		User:       sub.Body.User,
		DataOwner:  sub.Body.DataOwner,
		State:      string(sub.Body.State),
	}
	if sub.Body.CreatedAt != nil {
		row.CreatedAt = *sub.Body.CreatedAt
	}
	return row
}

// Start schedules Sync on a 5-field cron expression. Failed passes are
// logged and retried on the next tick.
func (s *Syncer) Start(ctx context.Context, schedule string) error {
	c := cron.New(cron.WithParser(config.CronParser))
	_, err := c.AddFunc(schedule, func() {
		res, err := s.Sync(ctx)
		if err != nil {
			s.logger.Error("sync failed", zap.Error(err))
			return
		}
		s.logger.Debug("sync finished",
			zap.Int("seen", res.Seen),
			zap.Int("inserted", res.Inserted),
			zap.Int("updated", res.Updated))
	})
	if err != nil {
		return fmt.Errorf("syncer: schedule %q: %w", schedule, err)
	}
	s.cron = c
	c.Start()
	s.logger.Info("sync scheduled", zap.String("schedule", schedule))
	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (s *Syncer) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}
