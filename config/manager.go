package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Manager owns one config file. Every change is validated before it is
// saved, and edits made by other processes are picked up by Watch.
type Manager struct {
	path     string
	seed     *Config
	debounce time.Duration
	logger   *zap.Logger

	mu       sync.RWMutex
	cfg      Config
	onChange func(Config)
	watching bool
}

type ManagerOption func(*Manager)

// NewManager opens the config file, writing the seed config (or the
// defaults) first when it does not exist yet.
func NewManager(opts ...ManagerOption) (*Manager, error) {
	m := &Manager{debounce: 300 * time.Millisecond}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		m.path = p
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	cfg, err := m.open()
	if err != nil {
		return nil, err
	}
	m.cfg = cfg
	return m, nil
}

func (m *Manager) open() (Config, error) {
	_, err := os.Stat(m.path)
	switch {
	case err == nil:
		return m.read()
	case !errors.Is(err, os.ErrNotExist):
		return Config{}, fmt.Errorf("stat config: %w", err)
	}

	seed := m.seed
	if seed == nil {
		seed = DefaultConfigWithRoot(filepath.Dir(m.path))
	}
	if err := seed.Validate(); err != nil {
		return Config{}, err
	}
	if err := writeFile(m.path, seed); err != nil {
		return Config{}, fmt.Errorf("write initial config: %w", err)
	}
	return *seed.Clone(), nil
}

func (m *Manager) read() (Config, error) {
	cfg, err := load(m.path, DefaultConfigWithRoot(filepath.Dir(m.path)))
	if err != nil {
		return Config{}, err
	}
	return *cfg, nil
}

// Get returns a copy of the current config.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.cfg.Clone()
}

func (m *Manager) Path() string {
	return m.path
}

// Preview applies a JSON merge patch (RFC 7386) to the current config and
// validates the result without saving it. Keys are the json field names,
// durations take "90s" or nanoseconds, and a null value resets a key. A
// secret sent back in its redacted form keeps its current value.
func (m *Manager) Preview(patch map[string]any) (Config, error) {
	current := m.Get()
	if len(patch) == 0 {
		return current, nil
	}
	if err := checkKeys(reflect.TypeOf(current), "", patch); err != nil {
		return Config{}, err
	}

	raw, err := json.Marshal(&current)
	if err != nil {
		return Config{}, fmt.Errorf("encode config: %w", err)
	}
	var base map[string]any
	if err := json.Unmarshal(raw, &base); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	v := viper.New()
	if err := v.MergeConfigMap(mergePatch(base, patch)); err != nil {
		return Config{}, fmt.Errorf("merge config patch: %w", err)
	}
	var next Config
	if err := v.Unmarshal(&next); err != nil {
		return Config{}, fmt.Errorf("decode config patch: %w", err)
	}
	next.keepRedacted(&current)
	if err := next.Validate(); err != nil {
		return Config{}, err
	}
	return next, nil
}

// Commit saves cfg and makes it current. Watch subscribers are not told;
// the caller already holds the new config.
func (m *Manager) Commit(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := writeFile(m.path, &cfg); err != nil {
		return err
	}
	m.cfg = *cfg.Clone()
	return nil
}

// Patch is Preview followed by Commit.
func (m *Manager) Patch(patch map[string]any) (Config, error) {
	next, err := m.Preview(patch)
	if err != nil {
		return Config{}, err
	}
	if err := m.Commit(next); err != nil {
		return Config{}, err
	}
	m.logger.Info("config patched", zap.String("path", m.path), zap.Strings("keys", patchKeys("", patch)))
	return next, nil
}

// Watch calls onChange with every config another writer saves to the file,
// until ctx is done. Files that fail to load or validate are logged and
// skipped. A second call only replaces onChange.
func (m *Manager) Watch(ctx context.Context, onChange func(Config)) error {
	m.mu.Lock()
	m.onChange = onChange
	if m.watching {
		m.mu.Unlock()
		return nil
	}
	m.watching = true
	m.mu.Unlock()

	w, err := fsnotify.NewWatcher()
	if err == nil {
		// the directory, because Commit and most editors replace the file
		err = w.Add(filepath.Dir(m.path))
		if err != nil {
			w.Close()
			err = fmt.Errorf("watch config dir: %w", err)
		}
	}
	if err != nil {
		m.mu.Lock()
		m.watching = false
		m.mu.Unlock()
		return err
	}
	go m.watch(ctx, w)
	return nil
}

func (m *Manager) watch(ctx context.Context, w *fsnotify.Watcher) {
	defer w.Close()
	settle := time.NewTimer(m.debounce)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) == filepath.Clean(m.path) &&
				evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				settle.Reset(m.debounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			m.logger.Warn("config watcher error", zap.Error(err))
		case <-settle.C:
			m.reload()
		}
	}
}

func (m *Manager) reload() {
	if _, err := os.Stat(m.path); errors.Is(err, os.ErrNotExist) {
		current := m.Get()
		if err := writeFile(m.path, &current); err != nil {
			m.logger.Error("config file removed and could not be restored", zap.String("path", m.path), zap.Error(err))
			return
		}
		m.logger.Warn("config file removed, restored the current config", zap.String("path", m.path))
		return
	}

	next, err := m.read()
	if err != nil {
		m.logger.Warn("config reload failed, keeping the current config", zap.String("path", m.path), zap.Error(err))
		return
	}
	m.mu.Lock()
	if reflect.DeepEqual(m.cfg, next) {
		m.mu.Unlock()
		return
	}
	m.cfg = next
	cb := m.onChange
	m.mu.Unlock()

	m.logger.Info("config reloaded", zap.String("path", m.path))
	if cb != nil {
		cb(*next.Clone())
	}
}

// ParseAssignments turns KEY=VALUE pairs into a merge patch for Preview.
// Dotted keys address nested fields (cache.ttls.get_news). Values are read
// as YAML, so 2, true, 90s and [market,news] all work; an empty value is
// null.
func ParseAssignments(pairs []string) (map[string]any, error) {
	patch := map[string]any{}
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected KEY=VALUE, got %q", pair)
		}
		var val any
		if strings.TrimSpace(raw) != "" {
			if err := yaml.Unmarshal([]byte(raw), &val); err != nil {
				return nil, fmt.Errorf("value of %s: %w", key, err)
			}
		}

		parts := strings.Split(key, ".")
		node := patch
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[p] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = val
	}
	return patch, nil
}

// mergePatch applies patch onto target in place and returns it.
func mergePatch(target, patch map[string]any) map[string]any {
	if target == nil {
		target = map[string]any{}
	}
	for k, v := range patch {
		switch pv := v.(type) {
		case nil:
			delete(target, k)
		case map[string]any:
			sub, _ := target[k].(map[string]any)
			target[k] = mergePatch(sub, pv)
		default:
			target[k] = v
		}
	}
	return target
}

// checkKeys rejects patch keys that name no config field. Map-typed fields
// take any key below them.
func checkKeys(t reflect.Type, prefix string, patch map[string]any) error {
	for key, val := range patch {
		field, ok := fieldByJSONName(t, key)
		if !ok {
			return fmt.Errorf("unknown config key %q", prefix+key)
		}
		if field.Type.Kind() != reflect.Struct || field.Type == durationType || val == nil {
			continue
		}
		sub, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("config key %q takes an object", prefix+key)
		}
		if err := checkKeys(field.Type, prefix+key+".", sub); err != nil {
			return err
		}
	}
	return nil
}

func fieldByJSONName(t reflect.Type, name string) (reflect.StructField, bool) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if strings.Split(f.Tag.Get("json"), ",")[0] == name {
			return f, true
		}
	}
	return reflect.StructField{}, false
}

func patchKeys(prefix string, patch map[string]any) []string {
	var keys []string
	for k, v := range patch {
		if sub, ok := v.(map[string]any); ok && len(sub) > 0 {
			keys = append(keys, patchKeys(prefix+k+".", sub)...)
			continue
		}
		keys = append(keys, prefix+k)
	}
	slices.Sort(keys)
	return keys
}

// DefaultPath is the config file used when no --config is given.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir, err = os.Getwd()
		if err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, "stockdesk", "config.json"), nil
}

// writeFile replaces path atomically, in YAML for .yaml/.yml and JSON
// otherwise. The file may hold credentials, so it is private to the owner.
func writeFile(path string, cfg *Config) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// WithConfigDir keeps config.json in dir.
func WithConfigDir(dir string) ManagerOption {
	return func(m *Manager) {
		if dir != "" {
			m.path = filepath.Join(dir, "config.json")
		}
	}
}

func WithConfigPath(path string) ManagerOption {
	return func(m *Manager) {
		if path != "" {
			m.path = path
		}
	}
}

func WithDebounce(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.debounce = d
		}
	}
}

// WithInitialConfig seeds a config file that does not exist yet.
func WithInitialConfig(cfg *Config) ManagerOption {
	return func(m *Manager) { m.seed = cfg }
}

func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}
