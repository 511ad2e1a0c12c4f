package pullrequest

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

// GitHubAPI abstracts the GitHub API methods we use, enabling test mocks.
// FakeGitHub is an in-memory implementation.
type GitHubAPI interface {
	GetRef(ctx context.Context, owner, repo, ref string) (*github.Reference, *github.Response, error)
	CreateRef(ctx context.Context, owner, repo string, ref *github.Reference) (*github.Reference, *github.Response, error)
	GetTree(ctx context.Context, owner, repo, sha string, recursive bool) (*github.Tree, *github.Response, error)
	GetContents(ctx context.Context, owner, repo, path string, opts *github.RepositoryContentGetOptions) (*github.RepositoryContent, []*github.RepositoryContent, *github.Response, error)
	CreateFile(ctx context.Context, owner, repo, path string, opts *github.RepositoryContentFileOptions) (*github.RepositoryContentResponse, *github.Response, error)
	UpdateFile(ctx context.Context, owner, repo, path string, opts *github.RepositoryContentFileOptions) (*github.RepositoryContentResponse, *github.Response, error)
	DeleteFile(ctx context.Context, owner, repo, path string, opts *github.RepositoryContentFileOptions) (*github.RepositoryContentResponse, *github.Response, error)
	CreatePull(ctx context.Context, owner, repo string, pull *github.NewPullRequest) (*github.PullRequest, *github.Response, error)
	ListPulls(ctx context.Context, owner, repo string, opts *github.PullRequestListOptions) ([]*github.PullRequest, *github.Response, error)
	ReplaceLabels(ctx context.Context, owner, repo string, number int, labels []string) ([]*github.Label, *github.Response, error)
}

// realGitHub wraps *github.Client to implement GitHubAPI.
type realGitHub struct {
	c *github.Client
}

func (r *realGitHub) GetRef(ctx context.Context, owner, repo, ref string) (*github.Reference, *github.Response, error) {
	return r.c.Git.GetRef(ctx, owner, repo, ref)
}
func (r *realGitHub) CreateRef(ctx context.Context, owner, repo string, ref *github.Reference) (*github.Reference, *github.Response, error) {
	return r.c.Git.CreateRef(ctx, owner, repo, ref)
}
func (r *realGitHub) GetTree(ctx context.Context, owner, repo, sha string, recursive bool) (*github.Tree, *github.Response, error) {
	return r.c.Git.GetTree(ctx, owner, repo, sha, recursive)
}
func (r *realGitHub) GetContents(ctx context.Context, owner, repo, path string, opts *github.RepositoryContentGetOptions) (*github.RepositoryContent, []*github.RepositoryContent, *github.Response, error) {
	return r.c.Repositories.GetContents(ctx, owner, repo, path, opts)
}
func (r *realGitHub) CreateFile(ctx context.Context, owner, repo, path string, opts *github.RepositoryContentFileOptions) (*github.RepositoryContentResponse, *github.Response, error) {
	return r.c.Repositories.CreateFile(ctx, owner, repo, path, opts)
}
func (r *realGitHub) UpdateFile(ctx context.Context, owner, repo, path string, opts *github.RepositoryContentFileOptions) (*github.RepositoryContentResponse, *github.Response, error) {
	return r.c.Repositories.UpdateFile(ctx, owner, repo, path, opts)
}
func (r *realGitHub) DeleteFile(ctx context.Context, owner, repo, path string, opts *github.RepositoryContentFileOptions) (*github.RepositoryContentResponse, *github.Response, error) {
	return r.c.Repositories.DeleteFile(ctx, owner, repo, path, opts)
}
func (r *realGitHub) CreatePull(ctx context.Context, owner, repo string, pull *github.NewPullRequest) (*github.PullRequest, *github.Response, error) {
	return r.c.PullRequests.Create(ctx, owner, repo, pull)
}
func (r *realGitHub) ListPulls(ctx context.Context, owner, repo string, opts *github.PullRequestListOptions) ([]*github.PullRequest, *github.Response, error) {
	return r.c.PullRequests.List(ctx, owner, repo, opts)
}
func (r *realGitHub) ReplaceLabels(ctx context.Context, owner, repo string, number int, labels []string) ([]*github.Label, *github.Response, error) {
	return r.c.Issues.ReplaceLabelsForIssue(ctx, owner, repo, number, labels)
}

// newGitHubClient builds an authenticated client. A non-empty apiURL points
// the client at a GitHub Enterprise server.
func newGitHubClient(ctx context.Context, token, apiURL string) (*github.Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	if apiURL == "" {
		return client, nil
	}
	client, err := client.WithEnterpriseURLs(apiURL, apiURL)
	if err != nil {
		return nil, fmt.Errorf("pullrequest: enterprise url %s: %w", apiURL, err)
	}
	return client, nil
}

// hasStatus reports whether err is a GitHub API error with the given status.
func hasStatus(err error, code int) bool {
	var ger *github.ErrorResponse
	if errors.As(err, &ger) && ger.Response != nil {
		return ger.Response.StatusCode == code
	}
	return false
}

func isNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}
