package items

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/opensciencecatalog/osc-backend/internal/archive"
	"github.com/opensciencecatalog/osc-backend/internal/db"
	"github.com/opensciencecatalog/osc-backend/internal/notify"
	"github.com/opensciencecatalog/osc-backend/internal/pullrequest"
)

type fixture struct {
	svc    *Service
	gh     *pullrequest.FakeGitHub
	s3     *archive.FakeS3
	ledger *db.Ledger
	rec    *notify.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	gh := pullrequest.NewFakeGitHub("esa", "catalog", "main")
	prs, err := pullrequest.New(ctx, pullrequest.Opts{Owner: "esa", Repo: "catalog", Client: gh})
	if err != nil {
		t.Fatalf("pullrequest.New: %v", err)
	}

	s3 := archive.NewFakeS3()
	arc, err := archive.New(ctx, archive.Opts{Bucket: "osc-submissions", Client: s3})
	if err != nil {
		t.Fatalf("archive.New: %v", err)
	}

	gdb, err := db.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	sqlDB, _ := gdb.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	ledger := db.NewLedger(gdb)

	rec := &notify.Recorder{}
	svc, err := New(Opts{PullRequests: prs, Archive: arc, Ledger: ledger, Notifier: rec})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{svc: svc, gh: gh, s3: s3, ledger: ledger, rec: rec}
}

func TestNew_RequiresPullRequests(t *testing.T) {
	if _, err := New(Opts{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestFilenameFor(t *testing.T) {
	tests := []struct {
		name     string
		explicit string
		content  string
		want     string
		wantErr  bool
	}{
		{"explicit wins", "given.json", `{"id":"ignored"}`, "given.json", false},
		{"from id", "", `{"id":"ndvi-2020","type":"Feature"}`, "ndvi-2020.json", false},
		{"no id", "", `{"type":"Feature"}`, "", true},
		{"not json", "", `not json`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FilenameFor(tt.explicit, []byte(tt.content))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidItem) {
				t.Errorf("err = %v, want ErrInvalidItem", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBranchName(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"alice/ndvi.json", "alice-ndvi-json"},
		{"Alice/My Item.json", "alice-my-item-json"},
		{"someone-with-a-long-name/very-long-filename.json", "someone-with-a-long-name-very-"},
	}
	for _, tt := range tests {
		got := BranchName(tt.path)
		if got != tt.want {
			t.Errorf("BranchName(%q) = %q, want %q", tt.path, got, tt.want)
		}
		if len(got) > branchNameLength {
			t.Errorf("BranchName(%q) is %d chars", tt.path, len(got))
		}
	}
}

func TestParseFilter(t *testing.T) {
	for in, want := range map[string]Filter{"": FilterConfirmed, "confirmed": FilterConfirmed, "pending": FilterPending} {
		got, err := ParseFilter(in)
		if err != nil || got != want {
			t.Errorf("ParseFilter(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFilter("merged"); !errors.Is(err, ErrInvalidItem) {
		t.Errorf("ParseFilter(merged) err = %v", err)
	}
}

func TestSubmit_Add(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	content := []byte(`{"id":"ndvi"}`)

	created, err := f.svc.Submit(ctx, Submission{
		User: "alice", Filename: "ndvi.json", ItemType: "product", DataOwner: true,
		ChangeType: pullrequest.ChangeAdd, Content: content,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if created.Number != 1 || created.Branch != "alice-ndvi-json" {
		t.Errorf("created = %+v", created)
	}

	got, ok := f.gh.File("alice-ndvi-json", "alice/ndvi.json")
	if !ok || string(got) != string(content) {
		t.Errorf("branch file = %q, %v", got, ok)
	}

	pr := f.gh.Pulls()[0]
	if pr.GetTitle() != "Add alice/ndvi.json" {
		t.Errorf("title = %q", pr.GetTitle())
	}
	body, err := pullrequest.Deserialize(pr.GetBody(), "", "", pr.GetCreatedAt().Time)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if body.User != "alice" || body.ItemType != "product" || !body.DataOwner {
		t.Errorf("body = %+v", body)
	}
	if labels := f.gh.Labels(1); len(labels) != 1 || labels[0] != "product" {
		t.Errorf("labels = %v", labels)
	}

	archived, ct, ok := f.s3.Object("osc-submissions", "submissions/alice/ndvi.json")
	if !ok || string(archived) != string(content) || ct != "application/json" {
		t.Errorf("archive = %q %q %v", archived, ct, ok)
	}

	row, err := f.ledger.Submission(1)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if row.State != "Pending" || row.Branch != "alice-ndvi-json" || row.ChangeType != "Add" {
		t.Errorf("row = %+v", row)
	}

	if len(f.rec.Events) != 1 || f.rec.Events[0].Kind != notify.KindSubmissionCreated {
		t.Fatalf("events = %+v", f.rec.Events)
	}
}

func TestSubmit_DefaultItemType(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Submit(context.Background(), Submission{
		User: "alice", Filename: "a.json", ChangeType: pullrequest.ChangeAdd, Content: []byte(`{}`),
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if labels := f.gh.Labels(1); len(labels) != 1 || labels[0] != DefaultItemType {
		t.Errorf("labels = %v", labels)
	}
}

func TestSubmit_UpdateExistingFile(t *testing.T) {
	f := newFixture(t)
	f.gh.SetFile("main", "alice/ndvi.json", []byte(`{"v":1}`))

	if _, err := f.svc.Submit(context.Background(), Submission{
		User: "alice", Filename: "ndvi.json", ChangeType: pullrequest.ChangeUpdate, Content: []byte(`{"v":2}`),
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got, _ := f.gh.File("alice-ndvi-json", "alice/ndvi.json")
	if string(got) != `{"v":2}` {
		t.Errorf("file = %q", got)
	}
	if title := f.gh.Pulls()[0].GetTitle(); title != "Update alice/ndvi.json" {
		t.Errorf("title = %q", title)
	}
}

func TestSubmit_Delete(t *testing.T) {
	f := newFixture(t)
	f.gh.SetFile("main", "alice/old.json", []byte(`{}`))

	if _, err := f.svc.Submit(context.Background(), Submission{
		User: "alice", Filename: "old.json", ChangeType: pullrequest.ChangeDelete,
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, ok := f.gh.File("alice-old-json", "alice/old.json"); ok {
		t.Error("file should be deleted on the branch")
	}
	if _, _, ok := f.s3.Object("osc-submissions", "submissions/alice/old.json"); ok {
		t.Error("deletions should not be archived")
	}
}

func TestSubmit_DeleteMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Submit(context.Background(), Submission{
		User: "alice", Filename: "none.json", ChangeType: pullrequest.ChangeDelete,
	})
	if !errors.Is(err, pullrequest.ErrNotFound) {
		t.Errorf("err = %v, want pullrequest.ErrNotFound", err)
	}
	if len(f.rec.Events) != 0 {
		t.Error("no event expected")
	}
}

func TestSubmit_InvalidFilename(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"", "..", "a/b.json", `a\b.json`} {
		_, err := f.svc.Submit(context.Background(), Submission{
			User: "alice", Filename: name, ChangeType: pullrequest.ChangeAdd,
		})
		if !errors.Is(err, ErrInvalidItem) {
			t.Errorf("filename %q: err = %v, want ErrInvalidItem", name, err)
		}
	}
	if len(f.gh.Pulls()) != 0 {
		t.Error("no pull request expected")
	}
}

func TestSubmit_ArchiveFailureStopsSubmission(t *testing.T) {
	f := newFixture(t)
	f.s3.PutErr = errors.New("minio down")
	_, err := f.svc.Submit(context.Background(), Submission{
		User: "alice", Filename: "a.json", ChangeType: pullrequest.ChangeAdd, Content: []byte(`{}`),
	})
	if err == nil || !strings.Contains(err.Error(), "minio down") {
		t.Fatalf("err = %v", err)
	}
	if len(f.gh.Pulls()) != 0 {
		t.Error("no pull request expected")
	}
}

func TestSubmit_NotifyFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	f.rec.Err = errors.New("webhook down")
	if _, err := f.svc.Submit(context.Background(), Submission{
		User: "alice", Filename: "a.json", ChangeType: pullrequest.ChangeAdd, Content: []byte(`{}`),
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func TestList_ConfirmedAndPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gh.SetFile("main", "alice/merged.json", []byte(`{}`))
	f.gh.SetFile("main", "bob/other.json", []byte(`{}`))

	for _, name := range []string{"p1.json", "p2.json"} {
		if _, err := f.svc.Submit(ctx, Submission{
			User: "alice", Filename: name, ChangeType: pullrequest.ChangeAdd, Content: []byte(`{}`),
		}); err != nil {
			t.Fatalf("Submit %s: %v", name, err)
		}
	}
	f.gh.Close(2)

	confirmed, err := f.svc.List(ctx, "alice", FilterConfirmed)
	if err != nil {
		t.Fatalf("List confirmed: %v", err)
	}
	if len(confirmed) != 1 || confirmed[0] != "merged.json" {
		t.Errorf("confirmed = %v", confirmed)
	}

	pending, err := f.svc.List(ctx, "alice", FilterPending)
	if err != nil {
		t.Fatalf("List pending: %v", err)
	}
	if len(pending) != 1 || pending[0] != "p1.json" {
		t.Errorf("pending = %v", pending)
	}

	none, err := f.svc.List(ctx, "carol", FilterConfirmed)
	if err != nil {
		t.Fatalf("List carol: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("carol = %#v, want empty non-nil", none)
	}
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gh.SetFile("main", "alice/ndvi.json", []byte(`{"id":"ndvi"}`))

	got, err := f.svc.Get(ctx, "alice", "ndvi.json", FilterConfirmed)
	if err != nil || string(got) != `{"id":"ndvi"}` {
		t.Errorf("Get confirmed = %q, %v", got, err)
	}
	if _, err := f.svc.Get(ctx, "alice", "missing.json", FilterConfirmed); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing confirmed err = %v", err)
	}

	if _, err := f.svc.Submit(ctx, Submission{
		User: "alice", Filename: "new.json", ChangeType: pullrequest.ChangeAdd, Content: []byte(`{"id":"new"}`),
	}); err != nil {
		t.Fatal(err)
	}
	got, err = f.svc.Get(ctx, "alice", "new.json", FilterPending)
	if err != nil || string(got) != `{"id":"new"}` {
		t.Errorf("Get pending = %q, %v", got, err)
	}
	if _, err := f.svc.Get(ctx, "alice", "nothing.json", FilterPending); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing pending err = %v", err)
	}
}

func TestPullRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	got, err := f.svc.PullRequests(ctx, "alice")
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("empty PullRequests = %#v, %v", got, err)
	}
	if _, err := f.svc.Submit(ctx, Submission{
		User: "alice", Filename: "a.json", ChangeType: pullrequest.ChangeAdd, Content: []byte(`{}`),
	}); err != nil {
		t.Fatal(err)
	}
	got, err = f.svc.PullRequests(ctx, "alice")
	if err != nil || len(got) != 1 {
		t.Fatalf("PullRequests = %+v, %v", got, err)
	}
	if got[0].State != pullrequest.StatePending || got[0].URL == "" || got[0].CreatedAt == nil {
		t.Errorf("body = %+v", got[0])
	}
}
