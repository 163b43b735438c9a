package profile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Loader loads and optionally hot-reloads profiles from YAML files. Built-in
// profiles are always present; files override them by name.
type Loader struct {
	dir string

	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewLoader creates a loader for dir. An empty dir serves built-ins only.
func NewLoader(dir string) *Loader {
	return &Loader{
		dir:      dir,
		profiles: Builtin(),
	}
}

// LoadAll loads all .yaml and .yml files from the configured directory. On
// error the previously loaded set stays active.
func (l *Loader) LoadAll() (map[string]*Profile, error) {
	result := Builtin()
	if l.dir == "" {
		l.swap(result)
		return result, nil
	}

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read profile dir %q: %w", l.dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		p, err := loadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load %q: %w", path, err)
		}
		result[p.Name] = p
	}
	l.swap(result)
	return result, nil
}

func (l *Loader) swap(m map[string]*Profile) {
	l.mu.Lock()
	l.profiles = m
	l.mu.Unlock()
}

// Get returns a copy of the named profile.
func (l *Loader) Get(name string) (Profile, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.profiles[name]
	if !ok {
		return Profile{}, false
	}
	cp := *p
	cp.Domains = append([]string(nil), p.Domains...)
	return cp, true
}

// List returns copies of every profile sorted by name.
func (l *Loader) List() []Profile {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Profile, 0, len(l.profiles))
	for _, p := range l.profiles {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func loadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if p.Name == "" {
		name := filepath.Base(path)
		p.Name = name[:len(name)-len(filepath.Ext(name))]
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func isYAML(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}

// WatchAndReload watches the profile directory and reloads on change. It
// blocks until ctx is done.
func (l *Loader) WatchAndReload(ctx context.Context) error {
	if l.dir == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watch dir %q: %w", l.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isYAML(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				if _, err := l.LoadAll(); err != nil {
					slog.WarnContext(ctx, "profile reload failed, keeping previous set",
						slog.String("error", err.Error()))
					continue
				}
				slog.InfoContext(ctx, "profiles reloaded", slog.String("file", event.Name))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
