package backends

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestParse_JSON(t *testing.T) {
	m, err := Parse([]byte(`{"eoepca": "https://proc.eoepca.org/ades/", "local": "http://localhost:8080"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := Mapping{
		"eoepca": "https://proc.eoepca.org/ades",
		"local":  "http://localhost:8080",
	}
	if !reflect.DeepEqual(m, want) {
		t.Errorf("Parse = %v, want %v", m, want)
	}
}

func TestParse_YAML(t *testing.T) {
	m, err := Parse([]byte("eoepca: https://proc.eoepca.org\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m["eoepca"] != "https://proc.eoepca.org" {
		t.Errorf("eoepca = %q", m["eoepca"])
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not an object", `["a", "b"]`},
		{"empty url", `{"a": ""}`},
		{"broken json", `{"a": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParse_Empty(t *testing.T) {
	m, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(m) != 0 {
		t.Errorf("len = %d, want 0", len(m))
	}
}

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry(Mapping{"eoepca": "https://proc.example.org"})

	u, err := r.Resolve("eoepca")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if u != "https://proc.example.org" {
		t.Errorf("Resolve = %q", u)
	}

	_, err = r.Resolve("nope")
	if !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("err = %v, want ErrUnknownBackend", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry(Mapping{"zeta": "z", "alpha": "a", "mid": "m"})
	want := []string{"alpha", "mid", "zeta"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names = %v, want %v", got, want)
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	r, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(r.Names()) != 0 {
		t.Errorf("Names = %v, want empty", r.Names())
	}
	if err := r.Reload(); err != nil {
		t.Errorf("Reload with no path: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/mapping.json", nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestReload_KeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.json")
	writeFile(t, path, `{"a": "http://a"}`)

	r, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	writeFile(t, path, `{"a": `)
	if err := r.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if u, err := r.Resolve("a"); err != nil || u != "http://a" {
		t.Errorf("Resolve after failed reload = %q, %v", u, err)
	}

	writeFile(t, path, `{"b": "http://b"}`)
	if err := r.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, err := r.Resolve("a"); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("a should be gone after reload, err = %v", err)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.json")
	writeFile(t, path, `{"a": "http://a"}`)

	r, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, `{"a": "http://a", "b": "http://b"}`)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := r.Resolve("b"); err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if _, err := r.Resolve("b"); err != nil {
		t.Errorf("mapping not reloaded: %v", err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch returned %v", err)
	}
}
