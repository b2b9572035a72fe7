// Package plugin hosts the background extension framework: a named plugin
// registry, an in-process scheduler with a SQLite job store, and a crontab
// reconciler for out-of-process execution.
package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/atomic"
)

// Trigger describes when a plugin runs. Interval drives the in-process
// scheduler; CronExpr drives the crontab reconciler. A plugin sets one.
type Trigger struct {
	Interval time.Duration
	CronExpr string
}

// Description is a stable string used to detect trigger changes between
// process restarts.
func (t Trigger) Description() string {
	if t.CronExpr != "" {
		return "cron:" + t.CronExpr
	}
	return "interval:" + t.Interval.String()
}

// Plugin is a named background extension.
type Plugin interface {
	Name() string
	Enabled() bool
	Trigger() Trigger
	Run(ctx context.Context) error
	DefaultPreferences() map[string]string
}

// Registry holds the known plugins by name.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := p.Name()
	if name == "" || strings.ContainsAny(name, " \t\n#") {
		return fmt.Errorf("register plugin: invalid name %q", name)
	}
	if _, ok := r.plugins[name]; ok {
		return fmt.Errorf("register plugin: %q already registered", name)
	}
	r.plugins[name] = p
	return nil
}

func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// Plugins returns all registered plugins sorted by name.
func (r *Registry) Plugins() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Plugin, 0, len(names))
	for _, name := range names {
		out = append(out, r.plugins[name])
	}
	return out
}

// DefaultPreferences merges every plugin's preference defaults into one map.
// Later names win on collision, but plugins should namespace their keys.
func (r *Registry) DefaultPreferences() map[string]string {
	merged := make(map[string]string)
	for _, p := range r.Plugins() {
		for k, v := range p.DefaultPreferences() {
			merged[k] = v
		}
	}
	return merged
}

// State tracks per-plugin execution state under the working directory.
// The last-run instant of a plugin is the mtime of its marker file, so the
// state survives restarts without a database.
type State struct {
	root string
}

// NewState ensures the plugin state root exists under workingDir.
func NewState(workingDir string) (*State, error) {
	root := filepath.Join(workingDir, "plugin")
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create plugin state dir: %w", err)
	}
	return &State{root: root}, nil
}

// Dir returns (and creates) the state directory for one plugin.
func (s *State) Dir(name string) (string, error) {
	dir := filepath.Join(s.root, name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create state dir for %s: %w", name, err)
	}
	return dir, nil
}

// LastRun returns the plugin's last execution instant in UTC, or the zero
// time when it has never run.
func (s *State) LastRun(name string) (time.Time, error) {
	info, err := os.Stat(filepath.Join(s.root, name, "last_run"))
	if os.IsNotExist(err) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("stat last run for %s: %w", name, err)
	}
	return info.ModTime().UTC(), nil
}

// MarkRun records now as the plugin's last execution instant.
func (s *State) MarkRun(name string, now time.Time) error {
	dir, err := s.Dir(name)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, "last_run")
	if err := atomic.WriteFile(path, strings.NewReader(now.UTC().Format(time.RFC3339)+"\n")); err != nil {
		return fmt.Errorf("write last run for %s: %w", name, err)
	}
	if err := os.Chtimes(path, now, now); err != nil {
		return fmt.Errorf("stamp last run for %s: %w", name, err)
	}
	return nil
}
