package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newCatalogServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, New(srv.URL+"/collections/metadata:main/items", nil, 5*time.Second, nil)
}

func TestManifestLink(t *testing.T) {
	var gotPath, gotQuery string
	_, c := newCatalogServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, `{"id":"ndvi","links":[
			{"rel":"self","href":"https://catalog/ndvi"},
			{"rel":"manifest","href":"https://repo/ndvi.cwl","type":"application/cwl"}
		]}`)
	})

	href, err := c.ManifestLink(context.Background(), "ndvi")
	if err != nil {
		t.Fatalf("ManifestLink: %v", err)
	}
	if href != "https://repo/ndvi.cwl" {
		t.Errorf("href = %q", href)
	}
	if gotPath != "/collections/metadata:main/items/ndvi" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "f=json" {
		t.Errorf("query = %q, want f=json", gotQuery)
	}
}

func TestManifestLink_NoOrManyManifests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"none", `{"links":[{"rel":"self","href":"x"}]}`},
		{"two", `{"links":[{"rel":"manifest","href":"a"},{"rel":"manifest","href":"b"}]}`},
		{"no links", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, c := newCatalogServer(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			})
			_, err := c.ManifestLink(context.Background(), "p")
			if !errors.Is(err, ErrNoManifest) {
				t.Errorf("err = %v, want ErrNoManifest", err)
			}
		})
	}
}

func TestManifestLink_NotFound(t *testing.T) {
	_, c := newCatalogServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	_, err := c.ManifestLink(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestManifestLink_BadJSON(t *testing.T) {
	_, c := newCatalogServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>`)
	})
	_, err := c.ManifestLink(context.Background(), "p")
	if err == nil || !strings.Contains(err.Error(), "decode record") {
		t.Errorf("err = %v, want decode error", err)
	}
}

func TestManifestLink_NotConfigured(t *testing.T) {
	c := New("", nil, time.Second, nil)
	if _, err := c.ManifestLink(context.Background(), "p"); err == nil {
		t.Fatal("expected error without base url")
	}
}

func TestDownload_StatusError(t *testing.T) {
	srv, c := newCatalogServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	_, err := c.Download(context.Background(), srv.URL+"/x.cwl")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", se.StatusCode)
	}
}

func TestDownload_RetriesGatewayErrors(t *testing.T) {
	var calls int32
	srv, c := newCatalogServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "cwlVersion: v1.0")
	})

	body, err := c.Download(context.Background(), srv.URL+"/app.cwl")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(body) != "cwlVersion: v1.0" {
		t.Errorf("body = %q", body)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestDownload_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv, c := newCatalogServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Download(context.Background(), srv.URL+"/app.cwl")
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadGateway {
		t.Fatalf("err = %v, want 502 StatusError", err)
	}
	if n := atomic.LoadInt32(&calls); n != maxRetries+1 {
		t.Errorf("calls = %d, want %d", n, maxRetries+1)
	}
}
