package db

import (
	"errors"
	"fmt"

	"github.com/opensciencecatalog/osc-backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNoSubmission is returned when a submission lookup finds nothing.
var ErrNoSubmission = errors.New("db: submission not found")

// Ledger records submissions and executions.
type Ledger struct {
	db *gorm.DB
}

// NewLedger wraps an open, migrated database.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// RecordSubmission inserts s, or updates the row with the same PR number.
func (l *Ledger) RecordSubmission(s *models.Submission) error {
	result := l.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "pr_number"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"url", "branch", "filename", "item_type", "change_type", "user", "data_owner", "state", "updated_at",
		}),
	}).Create(s)
	if result.Error != nil {
		return fmt.Errorf("db: record submission #%d: %w", s.PRNumber, result.Error)
	}
	return nil
}

// Submission returns the submission for a PR number.
func (l *Ledger) Submission(prNumber int) (*models.Submission, error) {
	var s models.Submission
	err := l.db.Where("pr_number = ?", prNumber).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: #%d", ErrNoSubmission, prNumber)
	}
	if err != nil {
		return nil, fmt.Errorf("db: get submission #%d: %w", prNumber, err)
	}
	return &s, nil
}

// Submissions lists submissions, newest first. An empty user lists all.
func (l *Ledger) Submissions(user string) ([]models.Submission, error) {
	q := l.db.Order("created_at desc, id desc")
	if user != "" {
		q = q.Where("user = ?", user)
	}
	var out []models.Submission
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("db: list submissions: %w", err)
	}
	return out, nil
}

// SetSubmissionState updates the state of the submission for a PR number.
func (l *Ledger) SetSubmissionState(prNumber int, state string) error {
	result := l.db.Model(&models.Submission{}).
		Where("pr_number = ?", prNumber).
		Update("state", state)
	if result.Error != nil {
		return fmt.Errorf("db: set state of #%d: %w", prNumber, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: #%d", ErrNoSubmission, prNumber)
	}
	return nil
}

// RecordExecution inserts an execution row.
func (l *Ledger) RecordExecution(e *models.Execution) error {
	if err := l.db.Create(e).Error; err != nil {
		return fmt.Errorf("db: record execution of %s on %s: %w", e.Process, e.RemoteBackend, err)
	}
	return nil
}

// Executions lists executions, newest first. An empty user lists all.
func (l *Ledger) Executions(user string) ([]models.Execution, error) {
	q := l.db.Order("created_at desc, id desc")
	if user != "" {
		q = q.Where("user = ?", user)
	}
	var out []models.Execution
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("db: list executions: %w", err)
	}
	return out, nil
}
