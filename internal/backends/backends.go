// Package backends maps remote processing backend names to their base URLs.
package backends

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ErrUnknownBackend is returned by Resolve for names absent from the mapping.
var ErrUnknownBackend = errors.New("unknown remote backend")

// Mapping is backend name -> base URL.
type Mapping map[string]string

// Registry holds the current mapping. It is safe for concurrent use; the
// mapping is swapped atomically on reload.
type Registry struct {
	path    string
	mapping atomic.Pointer[Mapping]
	logger  *zap.Logger
}

// NewRegistry returns a registry serving m.
func NewRegistry(m Mapping) *Registry {
	r := &Registry{logger: zap.NewNop()}
	r.store(m)
	return r
}

// Load reads the mapping file at path. An empty path yields an empty registry.
func Load(path string, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{path: path, logger: logger}
	if path == "" {
		r.store(Mapping{})
		return r, nil
	}
	m, err := readMapping(path)
	if err != nil {
		return nil, err
	}
	r.store(m)
	return r, nil
}

// Parse decodes a mapping document. JSON is the usual format; YAML is
// accepted as well.
func Parse(data []byte) (Mapping, error) {
	var m Mapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("backends: parse: %w", err)
	}
	if m == nil {
		m = Mapping{}
	}
	for name, u := range m {
		if u == "" {
			return nil, fmt.Errorf("backends: parse: backend %q has an empty url", name)
		}
		m[name] = strings.TrimRight(u, "/")
	}
	return m, nil
}

func readMapping(path string) (Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("backends: read %s: %w", path, err)
	}
	return Parse(data)
}

func (r *Registry) store(m Mapping) {
	r.mapping.Store(&m)
}

// Resolve returns the base URL for name.
func (r *Registry) Resolve(name string) (string, error) {
	m := *r.mapping.Load()
	u, ok := m[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
	return u, nil
}

// Names returns the configured backend names, sorted.
func (r *Registry) Names() []string {
	m := *r.mapping.Load()
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reload re-reads the mapping file. On error the previous mapping stays.
func (r *Registry) Reload() error {
	if r.path == "" {
		return nil
	}
	m, err := readMapping(r.path)
	if err != nil {
		return err
	}
	r.store(m)
	return nil
}

// Watch reloads the mapping whenever the file is written or replaced. The
// parent directory is watched so editors that rename over the file and
// ConfigMap symlink swaps are both seen. Watch blocks until ctx is done.
func (r *Registry) Watch(ctx context.Context) error {
	if r.path == "" {
		<-ctx.Done()
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("backends: watch: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(r.path)); err != nil {
		return fmt.Errorf("backends: watch %s: %w", r.path, err)
	}
	target := filepath.Clean(r.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := r.Reload(); err != nil {
				r.logger.Warn("backend mapping reload failed, keeping previous mapping",
					zap.String("path", r.path), zap.Error(err))
				continue
			}
			r.logger.Info("backend mapping reloaded",
				zap.String("path", r.path), zap.Strings("backends", r.Names()))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("backend mapping watcher error", zap.Error(err))
		}
	}
}
