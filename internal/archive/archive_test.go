package archive

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/smithy-go"
)

func newTestArchive(t *testing.T) (*Archive, *FakeS3) {
	t.Helper()
	fake := NewFakeS3()
	a, err := New(context.Background(), Opts{Bucket: "osc-submissions", Client: fake})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, fake
}

func TestPutGet(t *testing.T) {
	a, fake := newTestArchive(t)
	ctx := context.Background()

	key := SubmissionKey("alice", "ndvi.json")
	if err := a.Put(ctx, key, []byte(`{"id":"ndvi"}`), "application/json"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ct, _ := fake.Object("osc-submissions", key); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	got, err := a.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"id":"ndvi"}` {
		t.Errorf("Get = %q", got)
	}
}

func TestGet_Missing(t *testing.T) {
	a, _ := newTestArchive(t)
	_, err := a.Get(context.Background(), "submissions/nobody/none.json")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPut_Error(t *testing.T) {
	a, fake := newTestArchive(t)
	fake.PutErr = errors.New("connection refused")
	if err := a.Put(context.Background(), "k", []byte("x"), ""); err == nil {
		t.Fatal("expected error")
	}
}

func TestEnsureBucket_CreatesMissing(t *testing.T) {
	a, fake := newTestArchive(t)
	if err := a.EnsureBucket(context.Background()); err != nil {
		t.Fatalf("EnsureBucket: %v", err)
	}
	if !fake.HasBucket("osc-submissions") {
		t.Error("bucket was not created")
	}
	// Second call finds it via HeadBucket.
	if err := a.EnsureBucket(context.Background()); err != nil {
		t.Fatalf("EnsureBucket again: %v", err)
	}
}

func TestEnsureBucket_HeadError(t *testing.T) {
	a, fake := newTestArchive(t)
	fake.HeadErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
	if err := a.EnsureBucket(context.Background()); err == nil {
		t.Fatal("expected error for access denied")
	}
	if fake.HasBucket("osc-submissions") {
		t.Error("bucket should not be created after a non-404 error")
	}
}

func TestDisabledArchive(t *testing.T) {
	a, err := New(context.Background(), Opts{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Enabled() {
		t.Fatal("archive without endpoint should be disabled")
	}
	ctx := context.Background()
	if err := a.Put(ctx, "k", []byte("x"), ""); err != nil {
		t.Errorf("Put on disabled archive: %v", err)
	}
	if err := a.EnsureBucket(ctx); err != nil {
		t.Errorf("EnsureBucket on disabled archive: %v", err)
	}
	if _, err := a.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get on disabled archive = %v, want ErrNotFound", err)
	}
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Opts{EndpointURL: "http://minio:9000"})
	if err == nil {
		t.Fatal("expected error without bucket")
	}
}

func TestNew_RealClient(t *testing.T) {
	a, err := New(context.Background(), Opts{
		EndpointURL:     "http://localhost:9000",
		AccessKeyID:     "minio",
		SecretAccessKey: "minio123",
		Bucket:          "osc-submissions",
		Region:          "us-east-1",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !a.Enabled() || a.Bucket() != "osc-submissions" {
		t.Errorf("archive = enabled %v bucket %q", a.Enabled(), a.Bucket())
	}
}

func TestSubmissionKey(t *testing.T) {
	tests := []struct {
		user, filename, want string
	}{
		{"alice", "ndvi.json", "submissions/alice/ndvi.json"},
		{"bob", "products/water.json", "submissions/bob/products/water.json"},
	}
	for _, tt := range tests {
		if got := SubmissionKey(tt.user, tt.filename); got != tt.want {
			t.Errorf("SubmissionKey(%q, %q) = %q, want %q", tt.user, tt.filename, got, tt.want)
		}
	}
}
