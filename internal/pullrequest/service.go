package pullrequest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"

	"github.com/google/go-github/v68/github"
	"go.uber.org/zap"
)

const (
	// maxBranchPostfix is the highest "-N" postfix tried when the branch
	// name is already taken.
	maxBranchPostfix = 16
	// listPageSize is the page size used when listing pull requests.
	listPageSize = 100
)

var (
	// ErrNotFound is returned when a file does not exist on the main branch.
	ErrNotFound = errors.New("pullrequest: file not found")
	// ErrBranchExhausted is returned when every branch name postfix is taken.
	ErrBranchExhausted = errors.New("pullrequest: no free branch name")
)

// Opts holds parameters for creating a Service.
type Opts struct {
	Token      string
	Owner      string
	Repo       string
	MainBranch string
	APIURL     string
	Logger     *zap.Logger
	// For testing: inject a mock client instead of the real GitHub API.
	Client GitHubAPI
}

// Service opens and lists submission pull requests in one repository.
type Service struct {
	gh         GitHubAPI
	owner      string
	repo       string
	mainBranch string
	logger     *zap.Logger
}

// New creates a Service.
func New(ctx context.Context, opts Opts) (*Service, error) {
	if opts.Owner == "" || opts.Repo == "" {
		return nil, fmt.Errorf("pullrequest: owner and repo are required")
	}
	if opts.MainBranch == "" {
		opts.MainBranch = "main"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Service{
		gh:         opts.Client,
		owner:      opts.Owner,
		repo:       opts.Repo,
		mainBranch: opts.MainBranch,
		logger:     opts.Logger,
	}
	if s.gh == nil {
		if opts.Token == "" {
			return nil, fmt.Errorf("pullrequest: github token is required")
		}
		client, err := newGitHubClient(ctx, opts.Token, opts.APIURL)
		if err != nil {
			return nil, err
		}
		s.gh = &realGitHub{c: client}
	}
	return s, nil
}

// FileToCreate is a file written on the submission branch.
type FileToCreate struct {
	Path    string
	Content []byte
}

// CreateRequest describes a pull request to open.
type CreateRequest struct {
	BranchBaseName string
	Title          string
	Body           string
	FileToCreate   *FileToCreate
	FileToDelete   string
	Labels         []string
}

// Created describes an opened pull request.
type Created struct {
	Number int
	URL    string
	Branch string
}

// Create branches off main, applies the file changes and opens a pull request.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Created, error) {
	s.logger.Info("creating pull request",
		zap.String("title", req.Title),
		zap.String("file_to_create", fileToCreatePath(req.FileToCreate)),
		zap.String("file_to_delete", req.FileToDelete))

	var createSHA, deleteSHA string
	var err error
	if req.FileToCreate != nil {
		if createSHA, err = s.previousVersionSHA(ctx, req.FileToCreate.Path); err != nil {
			return nil, err
		}
	}
	if req.FileToDelete != "" {
		if deleteSHA, err = s.previousVersionSHA(ctx, req.FileToDelete); err != nil {
			return nil, err
		}
		if deleteSHA == "" {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, req.FileToDelete)
		}
	}

	branch, err := s.createBranch(ctx, req.BranchBaseName)
	if err != nil {
		return nil, err
	}

	if f := req.FileToCreate; f != nil {
		opts := &github.RepositoryContentFileOptions{
			Message: github.Ptr(fmt.Sprintf("Add %s for pull request submission", f.Path)),
			Content: f.Content,
			Branch:  github.Ptr(branch),
		}
		if createSHA == "" {
			_, _, err = s.gh.CreateFile(ctx, s.owner, s.repo, f.Path, opts)
		} else {
			opts.SHA = github.Ptr(createSHA)
			_, _, err = s.gh.UpdateFile(ctx, s.owner, s.repo, f.Path, opts)
		}
		if err != nil {
			return nil, fmt.Errorf("pullrequest: write %s on %s: %w", f.Path, branch, err)
		}
	}

	if req.FileToDelete != "" {
		_, _, err = s.gh.DeleteFile(ctx, s.owner, s.repo, req.FileToDelete, &github.RepositoryContentFileOptions{
			Message: github.Ptr(fmt.Sprintf("Delete %s for pull request submission", req.FileToDelete)),
			SHA:     github.Ptr(deleteSHA),
			Branch:  github.Ptr(branch),
		})
		if err != nil {
			return nil, fmt.Errorf("pullrequest: delete %s on %s: %w", req.FileToDelete, branch, err)
		}
	}

	pr, _, err := s.gh.CreatePull(ctx, s.owner, s.repo, &github.NewPullRequest{
		Title:               github.Ptr(req.Title),
		Body:                github.Ptr(req.Body),
		Head:                github.Ptr(branch),
		Base:                github.Ptr(s.mainBranch),
		MaintainerCanModify: github.Ptr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("pullrequest: open pull request from %s: %w", branch, err)
	}

	if len(req.Labels) > 0 {
		if _, _, err := s.gh.ReplaceLabels(ctx, s.owner, s.repo, pr.GetNumber(), req.Labels); err != nil {
			return nil, fmt.Errorf("pullrequest: label #%d: %w", pr.GetNumber(), err)
		}
	}

	s.logger.Info("pull request created",
		zap.Int("number", pr.GetNumber()), zap.String("url", pr.GetHTMLURL()))
	return &Created{Number: pr.GetNumber(), URL: pr.GetHTMLURL(), Branch: branch}, nil
}

// createBranch creates a branch at the head of main. If the name is taken,
// "-2", "-3", ... are appended until one is free.
func (s *Service) createBranch(ctx context.Context, baseName string) (string, error) {
	ref, _, err := s.gh.GetRef(ctx, s.owner, s.repo, "heads/"+s.mainBranch)
	if err != nil {
		return "", fmt.Errorf("pullrequest: get %s head: %w", s.mainBranch, err)
	}
	sha := ref.GetObject().GetSHA()

	for postfix := 1; postfix <= maxBranchPostfix; postfix++ {
		name := baseName
		if postfix > 1 {
			name = baseName + "-" + strconv.Itoa(postfix)
		}
		s.logger.Debug("creating branch", zap.String("branch", name))

		_, _, err := s.gh.CreateRef(ctx, s.owner, s.repo, &github.Reference{
			Ref:    github.Ptr("refs/heads/" + name),
			Object: &github.GitObject{SHA: github.Ptr(sha)},
		})
		if err == nil {
			return name, nil
		}
		// 422 Unprocessable Entity means the branch already exists.
		if !hasStatus(err, http.StatusUnprocessableEntity) {
			return "", fmt.Errorf("pullrequest: create branch %s: %w", name, err)
		}
	}
	return "", fmt.Errorf("%w: %s", ErrBranchExhausted, baseName)
}

// previousVersionSHA returns the blob SHA of p on main, or "" if p is a new file.
func (s *Service) previousVersionSHA(ctx context.Context, p string) (string, error) {
	entries, err := s.treeEntries(ctx, path.Dir(p))
	if err != nil {
		return "", err
	}
	name := path.Base(p)
	for _, e := range entries {
		if e.GetPath() == name {
			return e.GetSHA(), nil
		}
	}
	return "", nil
}

// treeEntries lists the main branch tree at dir. A missing tree yields no entries.
func (s *Service) treeEntries(ctx context.Context, dir string) ([]*github.TreeEntry, error) {
	treeRef := s.mainBranch
	if dir != "" && dir != "." && dir != "/" {
		treeRef = s.mainBranch + ":" + dir
	}
	tree, _, err := s.gh.GetTree(ctx, s.owner, s.repo, url.PathEscape(treeRef), false)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pullrequest: get tree %s: %w", treeRef, err)
	}
	return tree.Entries, nil
}

// FilesInDirectory returns the names of the entries of dir on main.
func (s *Service) FilesInDirectory(ctx context.Context, dir string) ([]string, error) {
	s.logger.Debug("fetching tree", zap.String("dir", dir))
	entries, err := s.treeEntries(ctx, dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, path.Base(e.GetPath()))
	}
	return names, nil
}

// FileContents returns the contents of p on main.
func (s *Service) FileContents(ctx context.Context, p string) ([]byte, error) {
	file, _, _, err := s.gh.GetContents(ctx, s.owner, s.repo, p, &github.RepositoryContentGetOptions{Ref: s.mainBranch})
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if err != nil {
		return nil, fmt.Errorf("pullrequest: get contents %s: %w", p, err)
	}
	if file == nil {
		// p is a directory.
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("pullrequest: decode contents %s: %w", p, err)
	}
	return []byte(content), nil
}

// List returns the bodies of all submission pull requests. Pull requests
// whose body was not written by this service are skipped.
func (s *Service) List(ctx context.Context) ([]Body, error) {
	var bodies []Body
	err := s.eachPull(ctx, func(pr *github.PullRequest) {
		b, err := Deserialize(pr.GetBody(), pr.GetHTMLURL(), StateOf(pr), pr.GetCreatedAt().Time)
		if err != nil {
			s.logger.Info("found incompatible pull request, ignoring",
				zap.Int("number", pr.GetNumber()), zap.Error(err))
			return
		}
		bodies = append(bodies, b)
	})
	return bodies, err
}

// ListForUser returns the submission bodies opened by user.
func (s *Service) ListForUser(ctx context.Context, user string) ([]Body, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []Body
	for _, b := range all {
		if b.User == user {
			out = append(out, b)
		}
	}
	return out, nil
}

// Submission pairs a pull request number with its decoded body.
type Submission struct {
	Number int
	Body   Body
}

// Submissions is List with pull request numbers, used by the ledger sync.
func (s *Service) Submissions(ctx context.Context) ([]Submission, error) {
	var out []Submission
	err := s.eachPull(ctx, func(pr *github.PullRequest) {
		b, err := Deserialize(pr.GetBody(), pr.GetHTMLURL(), StateOf(pr), pr.GetCreatedAt().Time)
		if err != nil {
			return
		}
		out = append(out, Submission{Number: pr.GetNumber(), Body: b})
	})
	return out, err
}

func (s *Service) eachPull(ctx context.Context, fn func(*github.PullRequest)) error {
	opts := &github.PullRequestListOptions{
		State:       "all",
		ListOptions: github.ListOptions{PerPage: listPageSize},
	}
	for {
		pulls, resp, err := s.gh.ListPulls(ctx, s.owner, s.repo, opts)
		if err != nil {
			return fmt.Errorf("pullrequest: list pull requests: %w", err)
		}
		for _, pr := range pulls {
			fn(pr)
		}
		if resp == nil || resp.NextPage == 0 {
			return nil
		}
		opts.Page = resp.NextPage
	}
}

func fileToCreatePath(f *FileToCreate) string {
	if f == nil {
		return ""
	}
	return f.Path
}
