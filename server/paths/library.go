package paths

import "path/filepath"

// Library resolves paths at the library level: one subdirectory per dataset
// plus a shared models directory.
type Library struct {
	root      string
	modelsDir string
}

// NewLibrary creates a library path resolver
func NewLibrary(root, modelsDir string) *Library {
	if modelsDir == "" {
		modelsDir = "models"
	}
	return &Library{root: root, modelsDir: modelsDir}
}

// GetLibraryPath returns the library root
func (l *Library) GetLibraryPath() string {
	return l.root
}

// GetModelsPath returns the models directory
func (l *Library) GetModelsPath() string {
	if filepath.IsAbs(l.modelsDir) {
		return l.modelsDir
	}
	return filepath.Join(l.root, l.modelsDir)
}

// GetDatasetPath returns the directory of a dataset by directory name
func (l *Library) GetDatasetPath(dir string) string {
	return filepath.Join(l.root, dir)
}

// Dataset returns the path manager of a dataset directory
func (l *Library) Dataset(dir string) *Manager {
	return NewManager(l.GetDatasetPath(dir))
}
