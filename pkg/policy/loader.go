package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/open-policy-agent/opa/ast"
	"github.com/rs/zerolog"
)

// reloadDebounce collapses the burst of events an editor save produces.
const reloadDebounce = 250 * time.Millisecond

// Loader reads verdict policies from .rego and .json files.
//
// A .rego file becomes a policy named after the last element of its package,
// so "package updohilo.verdict.affinity" is named "affinity". A .json file
// holds a Policy document. Parsed files are cached until they change on disk.
type Loader struct {
	logger zerolog.Logger

	mu    sync.Mutex
	cache map[string]cachedPolicy

	watcher *fsnotify.Watcher
	timer   *time.Timer
}

type cachedPolicy struct {
	policy  Policy
	modTime time.Time
	size    int64
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
		cache:  make(map[string]cachedPolicy),
	}
}

// LoadFromPaths loads the policies under paths. A file path must hold a
// valid policy; invalid files inside a directory are skipped with a warning
// so one half-written file does not block a reload. Two policies with the
// same name are an error.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var (
		policies []Policy
		sources  = make(map[string]string)
	)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		found, err := l.loadPath(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load policies from %s: %w", path, err)
		}
		for _, p := range found {
			src := policySource(p)
			if prev, dup := sources[p.Name]; dup {
				return nil, fmt.Errorf("duplicate policy %q in %s and %s", p.Name, prev, src)
			}
			sources[p.Name] = src
			policies = append(policies, p)
		}
	}

	l.logger.Debug().
		Int("policies", len(policies)).
		Strs("paths", paths).
		Msg("Verdict policies loaded")

	return policies, nil
}

func (l *Loader) loadPath(path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		p, err := l.loadFile(path, info)
		if err != nil {
			return nil, err
		}
		return []Policy{p}, nil
	}

	var policies []Policy
	err = filepath.WalkDir(path, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPolicyFile(file) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		p, err := l.loadFile(file, info)
		if err != nil {
			l.logger.Warn().Err(err).Str("file", file).Msg("Skipping invalid policy file")
			return nil
		}
		policies = append(policies, p)
		return nil
	})
	return policies, err
}

// loadFile parses file unless the cached copy is still current.
func (l *Loader) loadFile(file string, info fs.FileInfo) (Policy, error) {
	l.mu.Lock()
	cached, ok := l.cache[file]
	l.mu.Unlock()
	if ok && cached.modTime.Equal(info.ModTime()) && cached.size == info.Size() {
		return cached.policy, nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return Policy{}, err
	}

	var p Policy
	switch filepath.Ext(file) {
	case ".rego":
		p, err = parseRego(file, data)
	case ".json":
		p, err = parseDefinition(file, data)
	default:
		err = fmt.Errorf("unsupported policy file %s: want .rego or .json", file)
	}
	if err != nil {
		return Policy{}, err
	}
	p.UpdatedAt = info.ModTime()

	l.mu.Lock()
	l.cache[file] = cachedPolicy{policy: p, modTime: info.ModTime(), size: info.Size()}
	l.mu.Unlock()

	return p, nil
}

// parseRego checks the module syntax and names the policy after its package.
func parseRego(file string, data []byte) (Policy, error) {
	module, err := ast.ParseModule(file, string(data))
	if err != nil {
		return Policy{}, err
	}
	if module == nil {
		return Policy{}, fmt.Errorf("%s: empty policy module", file)
	}

	pkg := module.Package.Path
	name := strings.Trim(pkg[len(pkg)-1].Value.String(), `"`)

	return Policy{
		Name:        name,
		Description: leadingComment(string(data)),
		Rego:        string(data),
		Enabled:     true,
		Metadata: map[string]interface{}{
			"source":  file,
			"package": strings.TrimPrefix(pkg.String(), "data."),
		},
		CreatedAt: time.Now(),
	}, nil
}

// parseDefinition decodes a JSON policy document. Enabled defaults to true.
func parseDefinition(file string, data []byte) (Policy, error) {
	doc := struct {
		Policy
		Enabled *bool `json:"enabled"`
	}{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return Policy{}, fmt.Errorf("%s: invalid policy document: %w", file, err)
	}

	p := doc.Policy
	switch {
	case p.Name == "":
		return Policy{}, fmt.Errorf("%s: policy document has no name", file)
	case p.Rego == "":
		return Policy{}, fmt.Errorf("%s: policy %s has no rego", file, p.Name)
	}
	if _, err := ast.ParseModule(file, p.Rego); err != nil {
		return Policy{}, err
	}

	p.Enabled = doc.Enabled == nil || *doc.Enabled
	if p.Metadata == nil {
		p.Metadata = make(map[string]interface{})
	}
	p.Metadata["source"] = file
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	return p, nil
}

// leadingComment joins the comment lines at the top of a Rego module.
func leadingComment(src string) string {
	var parts []string
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			if len(parts) > 0 {
				break
			}
			continue
		}
		if !strings.HasPrefix(line, "#") {
			break
		}
		if text := strings.TrimSpace(strings.TrimLeft(line, "#")); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

func isPolicyFile(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".rego" || ext == ".json"
}

func policySource(p Policy) string {
	if src, ok := p.Metadata["source"].(string); ok {
		return src
	}
	return p.Name
}

// Watch calls apply with the reloaded policies whenever a policy file under
// paths is written, created, removed or renamed. Failed reloads are logged
// and leave the previous state to apply. Watching stops when ctx is done or
// StopWatching is called.
func (l *Loader) Watch(ctx context.Context, paths []string, apply func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}

	for _, path := range paths {
		if err := addWatch(watcher, path); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	go l.watch(ctx, watcher, paths, apply)

	l.logger.Info().Strs("paths", paths).Msg("Watching verdict policies")
	return nil
}

// addWatch watches path and, for a directory, every directory below it.
// fsnotify does not recurse on its own.
func addWatch(watcher *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return watcher.Add(path)
	}
	return filepath.WalkDir(path, func(dir string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		return watcher.Add(dir)
	})
}

func (l *Loader) watch(ctx context.Context, watcher *fsnotify.Watcher, paths []string, apply func([]Policy) error) {
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			l.stopTimer()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				l.stopTimer()
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addWatch(watcher, event.Name); err != nil {
						l.logger.Warn().Err(err).Str("dir", event.Name).Msg("Failed to watch new policy directory")
					}
					continue
				}
			}
			if !isPolicyFile(event.Name) || event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}

			l.mu.Lock()
			delete(l.cache, event.Name)
			l.mu.Unlock()

			l.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Verdict policy changed")
			l.scheduleReload(ctx, paths, apply)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn().Err(err).Msg("Policy watcher error")
		}
	}
}

// scheduleReload restarts the debounce timer.
func (l *Loader) scheduleReload(ctx context.Context, paths []string, apply func([]Policy) error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(reloadDebounce, func() {
		if ctx.Err() != nil {
			return
		}
		policies, err := l.LoadFromPaths(ctx, paths)
		if err == nil {
			err = apply(policies)
		}
		if err != nil {
			l.logger.Error().Err(err).Msg("Verdict policy reload failed, keeping previous policies")
			return
		}
		l.logger.Info().Int("policies", len(policies)).Msg("Verdict policies reloaded")
	})
}

func (l *Loader) stopTimer() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
	}
}

// WatchEngine reloads eng whenever a policy file under paths changes.
// A reload that finds no policies or fails to compile keeps the previous
// policies active.
func (l *Loader) WatchEngine(ctx context.Context, eng *Engine, paths []string) error {
	return l.Watch(ctx, paths, func(policies []Policy) error {
		if len(policies) == 0 {
			return fmt.Errorf("no policies found in %v", paths)
		}
		return eng.Load(ctx, policies)
	})
}

// StopWatching stops the watcher started by Watch.
func (l *Loader) StopWatching() error {
	l.mu.Lock()
	watcher := l.watcher
	l.watcher = nil
	if l.timer != nil {
		l.timer.Stop()
	}
	l.mu.Unlock()

	if watcher == nil {
		return nil
	}
	return watcher.Close()
}

// ClearCache drops every parsed file.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string]cachedPolicy)
}
