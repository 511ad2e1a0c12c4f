package pullrequest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v68/github"
)

// FakeGitHub is an in-memory GitHubAPI for tests. Branches hold flat
// path -> content maps; pull requests are kept in creation order.
type FakeGitHub struct {
	mu       sync.Mutex
	Owner    string
	Repo     string
	Main     string
	branches map[string]map[string][]byte
	pulls    []*github.PullRequest
	labels   map[int][]string
	// Errs makes the named method ("CreateRef", "CreatePull", ...) fail.
	Errs map[string]error
	// Calls counts method invocations by name.
	Calls map[string]int
}

// NewFakeGitHub returns a fake repository with an empty main branch.
func NewFakeGitHub(owner, repo, mainBranch string) *FakeGitHub {
	return &FakeGitHub{
		Owner:    owner,
		Repo:     repo,
		Main:     mainBranch,
		branches: map[string]map[string][]byte{mainBranch: {}},
		labels:   map[int][]string{},
		Errs:     map[string]error{},
		Calls:    map[string]int{},
	}
}

func fakeStatus(code int, msg string) error {
	return &github.ErrorResponse{
		Response: &http.Response{StatusCode: code},
		Message:  msg,
	}
}

func blobSHA(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}

// call records the call and returns an injected error, if any. Callers hold mu.
func (f *FakeGitHub) call(name string) error {
	f.Calls[name]++
	return f.Errs[name]
}

// SetFile writes a file directly on a branch.
func (f *FakeGitHub) SetFile(branch, p string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.branches[branch] == nil {
		f.branches[branch] = map[string][]byte{}
	}
	f.branches[branch][p] = content
}

// AddBranch creates an empty branch.
func (f *FakeGitHub) AddBranch(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.branches[name] == nil {
		f.branches[name] = map[string][]byte{}
	}
}

// File returns a file from a branch.
func (f *FakeGitHub) File(branch, p string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.branches[branch][p]
	return c, ok
}

// HasBranch reports whether a branch exists.
func (f *FakeGitHub) HasBranch(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.branches[name]
	return ok
}

// AddPull appends a pull request as-is, e.g. one opened by hand.
func (f *FakeGitHub) AddPull(pr *github.PullRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls = append(f.pulls, pr)
}

// Pulls returns the pull requests created so far.
func (f *FakeGitHub) Pulls() []*github.PullRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*github.PullRequest(nil), f.pulls...)
}

// Labels returns the labels of a pull request.
func (f *FakeGitHub) Labels(number int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.labels[number]
}

// Merge closes a pull request as merged and applies its branch to main.
func (f *FakeGitHub) Merge(number int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pr := range f.pulls {
		if pr.GetNumber() != number {
			continue
		}
		pr.State = github.Ptr("closed")
		pr.MergedAt = &github.Timestamp{Time: time.Now()}
		if files, ok := f.branches[pr.GetHead().GetRef()]; ok {
			main := map[string][]byte{}
			for p, c := range files {
				main[p] = c
			}
			f.branches[f.Main] = main
		}
	}
}

// Close closes a pull request without merging.
func (f *FakeGitHub) Close(number int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pr := range f.pulls {
		if pr.GetNumber() == number {
			pr.State = github.Ptr("closed")
		}
	}
}

func (f *FakeGitHub) GetRef(ctx context.Context, owner, repo, ref string) (*github.Reference, *github.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("GetRef"); err != nil {
		return nil, nil, err
	}
	name := strings.TrimPrefix(ref, "heads/")
	if _, ok := f.branches[name]; !ok {
		return nil, nil, fakeStatus(http.StatusNotFound, "Not Found")
	}
	return &github.Reference{
		Ref:    github.Ptr("refs/heads/" + name),
		Object: &github.GitObject{SHA: github.Ptr("sha-" + name)},
	}, nil, nil
}

func (f *FakeGitHub) CreateRef(ctx context.Context, owner, repo string, ref *github.Reference) (*github.Reference, *github.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CreateRef"); err != nil {
		return nil, nil, err
	}
	name := strings.TrimPrefix(ref.GetRef(), "refs/heads/")
	if _, ok := f.branches[name]; ok {
		return nil, nil, fakeStatus(http.StatusUnprocessableEntity, "Reference already exists")
	}
	files := map[string][]byte{}
	for p, c := range f.branches[f.Main] {
		files[p] = c
	}
	f.branches[name] = files
	return ref, nil, nil
}

func (f *FakeGitHub) GetTree(ctx context.Context, owner, repo, sha string, recursive bool) (*github.Tree, *github.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("GetTree"); err != nil {
		return nil, nil, err
	}
	ref, err := url.PathUnescape(sha)
	if err != nil {
		return nil, nil, fakeStatus(http.StatusUnprocessableEntity, err.Error())
	}
	branch, dir, _ := strings.Cut(ref, ":")
	files, ok := f.branches[branch]
	if !ok {
		return nil, nil, fakeStatus(http.StatusNotFound, "Not Found")
	}

	seen := map[string]string{}
	for p, c := range files {
		var rel string
		if dir == "" {
			rel = p
		} else if strings.HasPrefix(p, dir+"/") {
			rel = strings.TrimPrefix(p, dir+"/")
		} else {
			continue
		}
		if head, _, isDir := strings.Cut(rel, "/"); isDir {
			seen[head] = "tree-" + head
		} else {
			seen[rel] = blobSHA(c)
		}
	}
	if len(seen) == 0 && dir != "" {
		return nil, nil, fakeStatus(http.StatusNotFound, "Not Found")
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	tree := &github.Tree{SHA: github.Ptr(sha)}
	for _, n := range names {
		tree.Entries = append(tree.Entries, &github.TreeEntry{Path: github.Ptr(n), SHA: github.Ptr(seen[n])})
	}
	return tree, nil, nil
}

func (f *FakeGitHub) GetContents(ctx context.Context, owner, repo, p string, opts *github.RepositoryContentGetOptions) (*github.RepositoryContent, []*github.RepositoryContent, *github.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("GetContents"); err != nil {
		return nil, nil, nil, err
	}
	branch := f.Main
	if opts != nil && opts.Ref != "" {
		branch = opts.Ref
	}
	files := f.branches[branch]
	if c, ok := files[p]; ok {
		return &github.RepositoryContent{
			Type:    github.Ptr("file"),
			Path:    github.Ptr(p),
			Content: github.Ptr(string(c)),
			SHA:     github.Ptr(blobSHA(c)),
		}, nil, nil, nil
	}
	var dirContents []*github.RepositoryContent
	for fp := range files {
		if strings.HasPrefix(fp, p+"/") {
			dirContents = append(dirContents, &github.RepositoryContent{Path: github.Ptr(fp)})
		}
	}
	if len(dirContents) > 0 {
		return nil, dirContents, nil, nil
	}
	return nil, nil, nil, fakeStatus(http.StatusNotFound, "Not Found")
}

func (f *FakeGitHub) writeFile(name, p string, opts *github.RepositoryContentFileOptions, mustExist bool) error {
	if err := f.call(name); err != nil {
		return err
	}
	files, ok := f.branches[opts.GetBranch()]
	if !ok {
		return fakeStatus(http.StatusNotFound, "Branch not found")
	}
	prev, exists := files[p]
	if exists != mustExist {
		return fakeStatus(http.StatusUnprocessableEntity, fmt.Sprintf("%s: sha mismatch for %s", name, p))
	}
	if exists && opts.GetSHA() != blobSHA(prev) {
		return fakeStatus(http.StatusConflict, fmt.Sprintf("%s: %s does not match %s", name, p, opts.GetSHA()))
	}
	return nil
}

func (f *FakeGitHub) CreateFile(ctx context.Context, owner, repo, p string, opts *github.RepositoryContentFileOptions) (*github.RepositoryContentResponse, *github.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writeFile("CreateFile", p, opts, false); err != nil {
		return nil, nil, err
	}
	f.branches[opts.GetBranch()][p] = opts.Content
	return &github.RepositoryContentResponse{}, nil, nil
}

func (f *FakeGitHub) UpdateFile(ctx context.Context, owner, repo, p string, opts *github.RepositoryContentFileOptions) (*github.RepositoryContentResponse, *github.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writeFile("UpdateFile", p, opts, true); err != nil {
		return nil, nil, err
	}
	f.branches[opts.GetBranch()][p] = opts.Content
	return &github.RepositoryContentResponse{}, nil, nil
}

func (f *FakeGitHub) DeleteFile(ctx context.Context, owner, repo, p string, opts *github.RepositoryContentFileOptions) (*github.RepositoryContentResponse, *github.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writeFile("DeleteFile", p, opts, true); err != nil {
		return nil, nil, err
	}
	delete(f.branches[opts.GetBranch()], p)
	return &github.RepositoryContentResponse{}, nil, nil
}

func (f *FakeGitHub) CreatePull(ctx context.Context, owner, repo string, pull *github.NewPullRequest) (*github.PullRequest, *github.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CreatePull"); err != nil {
		return nil, nil, err
	}
	if _, ok := f.branches[pull.GetHead()]; !ok {
		return nil, nil, fakeStatus(http.StatusUnprocessableEntity, "head branch not found")
	}
	number := len(f.pulls) + 1
	pr := &github.PullRequest{
		Number:    github.Ptr(number),
		Title:     github.Ptr(pull.GetTitle()),
		Body:      github.Ptr(pull.GetBody()),
		State:     github.Ptr("open"),
		HTMLURL:   github.Ptr(fmt.Sprintf("https://github.com/%s/%s/pull/%d", f.Owner, f.Repo, number)),
		CreatedAt: &github.Timestamp{Time: time.Now()},
		Head:      &github.PullRequestBranch{Ref: github.Ptr(pull.GetHead())},
		Base:      &github.PullRequestBranch{Ref: github.Ptr(pull.GetBase())},
	}
	f.pulls = append(f.pulls, pr)
	return pr, nil, nil
}

func (f *FakeGitHub) ListPulls(ctx context.Context, owner, repo string, opts *github.PullRequestListOptions) ([]*github.PullRequest, *github.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("ListPulls"); err != nil {
		return nil, nil, err
	}
	var matching []*github.PullRequest
	for _, pr := range f.pulls {
		if opts.State == "all" || opts.State == pr.GetState() {
			matching = append(matching, pr)
		}
	}
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = 30
	}
	page := opts.Page
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * perPage
	if start > len(matching) {
		start = len(matching)
	}
	end := start + perPage
	resp := &github.Response{}
	if end < len(matching) {
		resp.NextPage = page + 1
	} else {
		end = len(matching)
	}
	return matching[start:end], resp, nil
}

func (f *FakeGitHub) ReplaceLabels(ctx context.Context, owner, repo string, number int, labels []string) ([]*github.Label, *github.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("ReplaceLabels"); err != nil {
		return nil, nil, err
	}
	f.labels[number] = append([]string(nil), labels...)
	out := make([]*github.Label, 0, len(labels))
	for _, l := range labels {
		out = append(out, &github.Label{Name: github.Ptr(l)})
	}
	return out, nil, nil
}

// Compile-time check.
var _ GitHubAPI = (*FakeGitHub)(nil)
