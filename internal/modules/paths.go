// ABOUTME: Module search path resolution and candidate file discovery.
// ABOUTME: The root install directory comes first, then user-supplied plugin paths.

package modules

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/2389/sdrhub/plugins/core"
)

// DefaultRoot is the install prefix used when no root is configured.
const DefaultRoot = "/usr/local"

// ModuleDir is the directory under root holding modules for this ABI series.
func ModuleDir(root string) string {
	return filepath.Join(root, "lib", "sdrhub", "modules"+core.ABISeries())
}

// SplitPathList splits an SDRHUB_PLUGIN_PATH style value on the platform list
// separator, dropping empty entries.
func SplitPathList(value string) []string {
	var paths []string
	for _, p := range strings.Split(value, string(os.PathListSeparator)) {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// ListSearchPaths returns the directories scanned for modules, without duplicates.
func (m *Modules) ListSearchPaths() []string {
	paths := []string{filepath.Clean(ModuleDir(m.root))}
	for _, p := range m.extraPaths {
		p = filepath.Clean(p)
		if !slices.Contains(paths, p) {
			paths = append(paths, p)
		}
	}
	return paths
}

// ListModules returns module files found in every search path, without duplicates.
func (m *Modules) ListModules() []string {
	var found []string
	for _, dir := range m.ListSearchPaths() {
		for _, path := range m.ListModulesIn(dir) {
			if !slices.Contains(found, path) {
				found = append(found, path)
			}
		}
	}
	return found
}

// ListModulesIn returns module files directly inside dir. A missing directory
// yields nothing.
func (m *Modules) ListModulesIn(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Debug("module directory unreadable", "dir", dir, "error", err)
		}
		return nil
	}

	var paths []string
	for _, e := range entries {
		if !e.Type().IsRegular() && e.Type()&os.ModeSymlink == 0 {
			continue
		}
		if m.pattern.Match(e.Name()) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return paths
}
