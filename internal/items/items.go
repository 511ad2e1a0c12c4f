// Package items turns STAC item submissions into pull requests against the
// catalog repository and reads confirmed and pending items back.
package items

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/gosimple/slug"
	"github.com/opensciencecatalog/osc-backend/internal/archive"
	"github.com/opensciencecatalog/osc-backend/internal/db"
	"github.com/opensciencecatalog/osc-backend/internal/models"
	"github.com/opensciencecatalog/osc-backend/internal/notify"
	"github.com/opensciencecatalog/osc-backend/internal/pullrequest"
	"go.uber.org/zap"
)

const (
	// branchNameLength caps the slug used as the branch base name.
	branchNameLength = 30
	// DefaultItemType labels submissions that do not name a type.
	DefaultItemType = "item"
	jsonContentType = "application/json"
)

var (
	// ErrInvalidItem is returned for submissions without a usable filename.
	ErrInvalidItem = errors.New("items: invalid item")
	// ErrNotFound is returned when an item does not exist.
	ErrNotFound = errors.New("items: not found")
)

// Filter selects which items a listing returns.
type Filter string

const (
	FilterConfirmed Filter = "confirmed"
	FilterPending   Filter = "pending"
)

// ParseFilter validates a filter query value. Empty means confirmed.
func ParseFilter(s string) (Filter, error) {
	switch Filter(s) {
	case "", FilterConfirmed:
		return FilterConfirmed, nil
	case FilterPending:
		return FilterPending, nil
	}
	return "", fmt.Errorf("%w: unknown filter %q", ErrInvalidItem, s)
}

// Opts holds parameters for creating a Service.
type Opts struct {
	PullRequests *pullrequest.Service
	// Archive keeps a copy of submitted content. Nil disables archiving.
	Archive *archive.Archive
	// Ledger records created submissions. Nil disables recording.
	Ledger   *db.Ledger
	Notifier notify.Notifier
	Logger   *zap.Logger
}

// Service handles item submissions for users.
type Service struct {
	prs      *pullrequest.Service
	archive  *archive.Archive
	ledger   *db.Ledger
	notifier notify.Notifier
	logger   *zap.Logger
}

// New creates a Service.
func New(opts Opts) (*Service, error) {
	if opts.PullRequests == nil {
		return nil, fmt.Errorf("items: pull request service is required")
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		prs:      opts.PullRequests,
		archive:  opts.Archive,
		ledger:   opts.Ledger,
		notifier: opts.Notifier,
		logger:   opts.Logger,
	}, nil
}

// Submission is one item change requested by a user.
type Submission struct {
	User       string
	Filename   string
	ItemType   string
	DataOwner  bool
	ChangeType pullrequest.ChangeType
	// Content is the STAC document. Unused for deletions.
	Content []byte
}

// FilenameFor returns explicit when set, otherwise "<id>.json" from the
// STAC document's id field.
func FilenameFor(explicit string, content []byte) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	var doc struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(content, &doc); err != nil {
		return "", fmt.Errorf("%w: body is not a JSON object: %v", ErrInvalidItem, err)
	}
	if doc.ID == "" {
		return "", fmt.Errorf("%w: no filename given and the item has no id", ErrInvalidItem)
	}
	return doc.ID + ".json", nil
}

// RepoPath is where a user's file lives in the catalog repository.
func RepoPath(user, filename string) string {
	return user + "/" + filename
}

// BranchName derives the branch base name for a repository path.
func BranchName(repoPath string) string {
	name := slug.Make(repoPath)
	if len(name) > branchNameLength {
		name = name[:branchNameLength]
	}
	return name
}

func validFilename(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && path.Clean(name) == name
}

// Submit opens a pull request for sub, archives added content, records the
// submission and announces it.
func (s *Service) Submit(ctx context.Context, sub Submission) (*pullrequest.Created, error) {
	if !validFilename(sub.Filename) {
		return nil, fmt.Errorf("%w: filename %q", ErrInvalidItem, sub.Filename)
	}
	if !sub.ChangeType.Valid() {
		return nil, fmt.Errorf("%w: change type %q", ErrInvalidItem, sub.ChangeType)
	}
	if sub.ItemType == "" {
		sub.ItemType = DefaultItemType
	}
	repoPath := RepoPath(sub.User, sub.Filename)

	body, err := pullrequest.Body{
		Filename:   sub.Filename,
		ItemType:   sub.ItemType,
		ChangeType: sub.ChangeType,
		User:       sub.User,
		DataOwner:  sub.DataOwner,
	}.Serialize()
	if err != nil {
		return nil, err
	}

	req := pullrequest.CreateRequest{
		BranchBaseName: BranchName(repoPath),
		Title:          fmt.Sprintf("%s %s", sub.ChangeType, repoPath),
		Body:           body,
		Labels:         []string{sub.ItemType},
	}
	if sub.ChangeType == pullrequest.ChangeDelete {
		req.FileToDelete = repoPath
	} else {
		req.FileToCreate = &pullrequest.FileToCreate{Path: repoPath, Content: sub.Content}
		if s.archive != nil {
			key := archive.SubmissionKey(sub.User, sub.Filename)
			if err := s.archive.Put(ctx, key, sub.Content, jsonContentType); err != nil {
				return nil, err
			}
		}
	}

	created, err := s.prs.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	s.logger.Info("submission created",
		zap.Int("number", created.Number),
		zap.String("user", sub.User),
		zap.String("path", repoPath),
		zap.String("change_type", string(sub.ChangeType)))

	if s.ledger != nil {
		row := &models.Submission{
			PRNumber:   created.Number,
			URL:        created.URL,
			Branch:     created.Branch,
			Filename:   sub.Filename,
			ItemType:   sub.ItemType,
			ChangeType: string(sub.ChangeType),
			User:       sub.User,
			DataOwner:  sub.DataOwner,
			State:      string(pullrequest.StatePending),
		}
		if err := s.ledger.RecordSubmission(row); err != nil {
			s.logger.Error("record submission failed", zap.Int("number", created.Number), zap.Error(err))
		}
	}

	evt := notify.Event{
		Kind:       notify.KindSubmissionCreated,
		PRNumber:   created.Number,
		URL:        created.URL,
		User:       sub.User,
		Filename:   sub.Filename,
		ItemType:   sub.ItemType,
		ChangeType: string(sub.ChangeType),
		State:      string(pullrequest.StatePending),
	}
	if err := s.notifier.Notify(ctx, evt); err != nil {
		s.logger.Warn("notify failed", zap.Int("number", created.Number), zap.Error(err))
	}
	return created, nil
}

// List returns the filenames of user's items. Confirmed items are the files
// in the user's directory on the main branch; pending items are the
// filenames of the user's open submissions.
func (s *Service) List(ctx context.Context, user string, filter Filter) ([]string, error) {
	items := []string{}
	if filter == FilterPending {
		bodies, err := s.prs.ListForUser(ctx, user)
		if err != nil {
			return nil, err
		}
		for _, b := range bodies {
			if b.State == pullrequest.StatePending {
				items = append(items, b.Filename)
			}
		}
		return items, nil
	}

	files, err := s.prs.FilesInDirectory(ctx, user)
	if err != nil {
		return nil, err
	}
	return append(items, files...), nil
}

// Get returns the content of one of user's items. Pending items are read
// from the archive.
func (s *Service) Get(ctx context.Context, user, filename string, filter Filter) ([]byte, error) {
	if !validFilename(filename) {
		return nil, fmt.Errorf("%w: filename %q", ErrInvalidItem, filename)
	}
	if filter == FilterPending {
		if s.archive == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, filename)
		}
		data, err := s.archive.Get(ctx, archive.SubmissionKey(user, filename))
		if errors.Is(err, archive.ErrNotFound) {
			return nil, fmt.Errorf("%w: pending %s", ErrNotFound, filename)
		}
		return data, err
	}

	data, err := s.prs.FileContents(ctx, RepoPath(user, filename))
	if errors.Is(err, pullrequest.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, filename)
	}
	return data, err
}

// PullRequests returns the bodies of user's submission pull requests.
func (s *Service) PullRequests(ctx context.Context, user string) ([]pullrequest.Body, error) {
	bodies, err := s.prs.ListForUser(ctx, user)
	if err != nil {
		return nil, err
	}
	if bodies == nil {
		bodies = []pullrequest.Body{}
	}
	return bodies, nil
}
