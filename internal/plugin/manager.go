package plugin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrPluginNotFound is returned when a requested plugin cannot be found.
var ErrPluginNotFound = errors.New("plugin not found")

// Manager discovers plugins below a directory and looks them up by name.
type Manager struct {
	pluginDir string
	logger    *slog.Logger
	plugins   map[string]*Plugin
	mu        sync.RWMutex
}

// NewManager creates a Manager for pluginDir. A nil logger uses slog.Default().
func NewManager(pluginDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		pluginDir: pluginDir,
		logger:    logger,
		plugins:   make(map[string]*Plugin),
	}
}

// Discover scans the plugin directory. Each subdirectory holding a
// plugin.json manifest is one plugin; unreadable manifests are skipped.
// A missing plugin directory is not an error.
func (m *Manager) Discover() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.plugins = make(map[string]*Plugin)

	info, err := os.Stat(m.pluginDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return nil
	}

	entries, err := os.ReadDir(m.pluginDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		pluginPath := filepath.Join(m.pluginDir, entry.Name())
		manifestPath := filepath.Join(pluginPath, "plugin.json")

		manifestData, err := os.ReadFile(manifestPath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			m.logger.Warn("skipping plugin", "path", pluginPath, "error", err)
			continue
		}

		var manifest Manifest
		if err := json.Unmarshal(manifestData, &manifest); err != nil {
			m.logger.Warn("skipping plugin with invalid manifest", "path", manifestPath, "error", err)
			continue
		}
		if manifest.Name == "" || manifest.Executable == "" {
			m.logger.Warn("skipping plugin without name or executable", "path", manifestPath)
			continue
		}

		m.plugins[manifest.Name] = &Plugin{
			Manifest:   manifest,
			Path:       pluginPath,
			Executable: filepath.Join(pluginPath, manifest.Executable),
		}
		m.logger.Debug("discovered plugin", "name", manifest.Name, "version", manifest.Version)
	}

	return nil
}

// Get returns a plugin by name, or ErrPluginNotFound.
func (m *Manager) Get(name string) (*Plugin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	plugin, ok := m.plugins[name]
	if !ok {
		return nil, ErrPluginNotFound
	}

	return plugin, nil
}

// List returns every discovered plugin sorted by name.
func (m *Manager) List() []*Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	plugins := make([]*Plugin, 0, len(m.plugins))
	for _, plugin := range m.plugins {
		plugins = append(plugins, plugin)
	}
	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].Manifest.Name < plugins[j].Manifest.Name
	})

	return plugins
}

// PluginDir returns the plugin directory path.
func (m *Manager) PluginDir() string {
	return m.pluginDir
}
