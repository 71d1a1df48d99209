// Package manifest handles prim.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the manifest file searched for in project directories.
const FileName = "prim.toml"

// Manifest represents a prim.toml project configuration.
type Manifest struct {
	Project Project     `toml:"project"`
	Machine Machine     `toml:"machine"`
	Source  Source      `toml:"source"`
	Image   ImageConfig `toml:"image"`

	// Dir is the directory containing the prim.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Machine configures the VM resource limits.
type Machine struct {
	MemorySize int64 `toml:"memory-size"`
	GasBudget  int64 `toml:"gas-budget"`
}

// Source configures source file locations.
type Source struct {
	Dirs  []string `toml:"dirs"`
	Entry string   `toml:"entry"`
}

// ImageConfig configures artifact output.
type ImageConfig struct {
	Output string `toml:"output"`
}

// Load parses a prim.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{"src"}
	}
	if m.Source.Entry == "" {
		m.Source.Entry = "main.pc"
	}
	if m.Image.Output == "" && m.Project.Name != "" {
		m.Image.Output = m.Project.Name + ".prx"
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a prim.toml file, then
// loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// EntryPath returns the absolute path of the entry source file.
func (m *Manifest) EntryPath() string {
	if filepath.IsAbs(m.Source.Entry) {
		return m.Source.Entry
	}
	for _, d := range m.Source.Dirs {
		path := filepath.Join(m.Dir, d, m.Source.Entry)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return filepath.Join(m.Dir, m.Source.Entry)
}

// OutputPath returns the absolute path for the compiled artifact.
func (m *Manifest) OutputPath() string {
	if m.Image.Output == "" {
		return ""
	}
	if filepath.IsAbs(m.Image.Output) {
		return m.Image.Output
	}
	return filepath.Join(m.Dir, m.Image.Output)
}
