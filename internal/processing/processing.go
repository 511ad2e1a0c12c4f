// Package processing forwards OGC API Processes requests to remote
// processing backends and deploys catalog applications before execution.
package processing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/opensciencecatalog/osc-backend/internal/backends"
	"github.com/opensciencecatalog/osc-backend/internal/catalog"
	"github.com/opensciencecatalog/osc-backend/internal/db"
	"github.com/opensciencecatalog/osc-backend/internal/logging"
	"github.com/opensciencecatalog/osc-backend/internal/models"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// UserHeader carries the caller's identity, set by the gateway in front of
// the backend.
const UserHeader = "X-User-Id"

// logPreview bounds how much of a response body goes into the log.
const logPreview = 500

var (
	// ErrMissingUser is returned when an execution request has no user header.
	ErrMissingUser = errors.New("processing: missing " + UserHeader + " header")
	// ErrUpstream is returned when a backend cannot be reached or rejects a deployment.
	ErrUpstream = errors.New("processing: upstream failure")
)

// excludedHeaders are dropped from proxied responses; the server recomputes them.
var excludedHeaders = map[string]bool{
	"Content-Encoding":  true,
	"Content-Length":    true,
	"Transfer-Encoding": true,
	"Connection":        true,
}

// Opts holds parameters for creating a Proxy.
type Opts struct {
	Backends *backends.Registry
	Catalog  *catalog.Client
	// Ledger records executions. Nil disables recording.
	Ledger  *db.Ledger
	Timeout time.Duration
	Logger  *zap.Logger
	// For testing: inject a client instead of the default one.
	HTTPClient *http.Client
}

// Proxy forwards requests to remote processing backends.
type Proxy struct {
	backends *backends.Registry
	catalog  *catalog.Client
	ledger   *db.Ledger
	http     *http.Client
	logger   *zap.Logger
}

// New creates a Proxy.
func New(opts Opts) *Proxy {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	// Redirects go back to the caller untouched.
	c := *client
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Proxy{
		backends: opts.Backends,
		catalog:  opts.Catalog,
		ledger:   opts.Ledger,
		http:     &c,
		logger:   logger,
	}
}

// Forward proxies r to <backend>/<target>, copying the response to w.
// Upstream error statuses are forwarded as-is. Errors are returned only
// when nothing has been written to w.
func (p *Proxy) Forward(w http.ResponseWriter, r *http.Request, backend, target string) error {
	_, err := p.forward(w, r, backend, target)
	return err
}

func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, backend, target string) (int, error) {
	base, err := p.backends.Resolve(backend)
	if err != nil {
		return 0, err
	}
	u, err := url.Parse(base + "/" + strings.TrimLeft(target, "/"))
	if err != nil {
		return 0, fmt.Errorf("processing: target url: %w", err)
	}
	u.RawQuery = r.URL.RawQuery

	req, err := http.NewRequestWithContext(r.Context(), r.Method, u.String(), r.Body)
	if err != nil {
		return 0, fmt.Errorf("processing: build request: %w", err)
	}
	req.ContentLength = r.ContentLength
	req.Header = r.Header.Clone()
	// Let the transport negotiate compression so the body we relay is plain.
	req.Header.Del("Accept-Encoding")
	req.Host = u.Hostname()

	p.logger.Info("proxying request",
		zap.String("method", r.Method),
		zap.String("from", r.URL.String()),
		zap.String("to", u.String()))

	resp, err := p.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %s: %v", ErrUpstream, r.Method, u, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("%w: read %s: %v", ErrUpstream, u, err)
	}
	p.logger.Info("proxied response",
		zap.Int("status", resp.StatusCode),
		zap.Int("size", len(body)),
		zap.String("body", logging.Truncate(body, logPreview)))

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if r.Method != http.MethodHead {
		w.Write(body)
	}
	return resp.StatusCode, nil
}

func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		if excludedHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

type deployRequest struct {
	Inputs struct {
		ApplicationPackage struct {
			Href string `json:"href"`
			Type string `json:"type"`
		} `json:"applicationPackage"`
	} `json:"inputs"`
}

// Execute deploys the catalog application for process on the backend and
// forwards r to the execution endpoint of the deployed process.
func (p *Proxy) Execute(w http.ResponseWriter, r *http.Request, backend, process string) error {
	user := r.Header.Get(UserHeader)
	if user == "" {
		return ErrMissingUser
	}

	p.logger.Info("deploying process", zap.String("process", process), zap.String("backend", backend))
	location, err := p.Deploy(r.Context(), backend, process, user)
	if err != nil {
		return err
	}
	remoteID, err := processID(location)
	if err != nil {
		return err
	}
	p.logger.Info("deployed process",
		zap.String("location", location),
		zap.String("remote_process_id", remoteID))

	status, err := p.forward(w, r, backend, "processes/"+remoteID+"/execution")
	if err != nil {
		return err
	}

	if p.ledger != nil {
		rec := &models.Execution{
			RemoteBackend:   backend,
			Process:         process,
			RemoteProcessID: remoteID,
			User:            user,
			Status:          status,
		}
		if err := p.ledger.RecordExecution(rec); err != nil {
			p.logger.Error("record execution failed", zap.Error(err))
		}
	}
	return nil
}

// Deploy registers the CWL application of process on the backend and
// returns the Location of the deployed process.
func (p *Proxy) Deploy(ctx context.Context, backend, process, user string) (string, error) {
	base, err := p.backends.Resolve(backend)
	if err != nil {
		return "", err
	}
	cwl, err := p.catalog.ManifestLink(ctx, process)
	if err != nil {
		return "", err
	}

	var body deployRequest
	body.Inputs.ApplicationPackage.Href = cwl
	body.Inputs.ApplicationPackage.Type = "application/cwl"
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("processing: encode deploy request: %w", err)
	}

	u := base + "/processes"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("processing: build deploy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(UserHeader, user)

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: deploy %s: %v", ErrUpstream, process, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	p.logger.Info("process deploy response",
		zap.Int("status", resp.StatusCode),
		zap.String("body", logging.Truncate(respBody, 2*logPreview)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: deploy %s: status %d", ErrUpstream, process, resp.StatusCode)
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("%w: deploy %s: no Location header", ErrUpstream, process)
	}
	return location, nil
}

// processID returns the last path segment of a process location.
func processID(location string) (string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%w: location %q: %v", ErrUpstream, location, err)
	}
	id := path.Base(strings.TrimRight(u.Path, "/"))
	if id == "" || id == "." || id == "/" {
		return "", fmt.Errorf("%w: location %q has no process id", ErrUpstream, location)
	}
	return id, nil
}

// Application downloads the CWL document of application from the catalog
// and decodes it for JSON rendering.
func (p *Proxy) Application(ctx context.Context, application string) (interface{}, error) {
	link, err := p.catalog.ManifestLink(ctx, application)
	if err != nil {
		return nil, err
	}
	p.logger.Info("fetching cwl", zap.String("url", link))
	data, err := p.catalog.Download(ctx, link)
	if err != nil {
		return nil, err
	}
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("processing: parse cwl %s: %w", link, err)
	}
	return jsonable(doc), nil
}

// jsonable converts YAML maps with non-string keys into string-keyed maps.
func jsonable(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, e := range t {
			t[k] = jsonable(e)
		}
		return t
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = jsonable(e)
		}
		return out
	case []interface{}:
		for i, e := range t {
			t[i] = jsonable(e)
		}
		return t
	default:
		return v
	}
}

// Executions lists recorded executions for user. An empty user lists all.
func (p *Proxy) Executions(user string) ([]models.Execution, error) {
	if p.ledger == nil {
		return nil, nil
	}
	return p.ledger.Executions(user)
}

// Backends returns the configured backend names.
func (p *Proxy) Backends() []string {
	return p.backends.Names()
}
