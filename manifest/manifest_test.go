package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleManifest = `
[project]
name = "sandbox"
version = "0.2.0"

[machine]
memory-size = 2097152
gas-budget = 5000000

[source]
dirs = ["src", "lib"]
entry = "boot.pc"

[image]
output = "sandbox.prx"
`

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, sampleManifest)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if m.Project.Name != "sandbox" {
		t.Errorf("Project.Name = %q, want %q", m.Project.Name, "sandbox")
	}
	if m.Project.Version != "0.2.0" {
		t.Errorf("Project.Version = %q, want %q", m.Project.Version, "0.2.0")
	}
	if m.Machine.MemorySize != 2097152 {
		t.Errorf("Machine.MemorySize = %d, want 2097152", m.Machine.MemorySize)
	}
	if m.Machine.GasBudget != 5000000 {
		t.Errorf("Machine.GasBudget = %d, want 5000000", m.Machine.GasBudget)
	}
	if len(m.Source.Dirs) != 2 || m.Source.Dirs[0] != "src" || m.Source.Dirs[1] != "lib" {
		t.Errorf("Source.Dirs = %v, want [src lib]", m.Source.Dirs)
	}
	if m.Source.Entry != "boot.pc" {
		t.Errorf("Source.Entry = %q, want %q", m.Source.Entry, "boot.pc")
	}
	if m.Dir == "" || !filepath.IsAbs(m.Dir) {
		t.Errorf("Dir = %q, want absolute load directory", m.Dir)
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[project]\nname = \"tiny\"\n")

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if len(m.Source.Dirs) != 1 || m.Source.Dirs[0] != "src" {
		t.Errorf("Source.Dirs = %v, want [src]", m.Source.Dirs)
	}
	if m.Source.Entry != "main.pc" {
		t.Errorf("Source.Entry = %q, want %q", m.Source.Entry, "main.pc")
	}
	if m.Image.Output != "tiny.prx" {
		t.Errorf("Image.Output = %q, want %q", m.Image.Output, "tiny.prx")
	}
	if m.Machine.MemorySize != 0 {
		t.Errorf("Machine.MemorySize = %d, want 0 (machine defaults apply later)", m.Machine.MemorySize)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Load() of empty directory succeeded")
	}
}

func TestLoadMalformed(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[project\nname =")
	if _, err := Load(dir); err == nil {
		t.Error("Load() of malformed manifest succeeded")
	}
}

func TestFindAndLoadWalksUp(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, sampleManifest)

	nested := filepath.Join(root, "src", "deep", "deeper")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	m, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad() error: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad() = nil, want manifest from ancestor directory")
	}
	if m.Project.Name != "sandbox" {
		t.Errorf("Project.Name = %q, want %q", m.Project.Name, "sandbox")
	}
}

func TestFindAndLoadNoManifest(t *testing.T) {
	m, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad() error: %v", err)
	}
	if m != nil {
		t.Errorf("FindAndLoad() = %+v, want nil", m)
	}
}

func TestEntryPath(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, sampleManifest)
	if err := os.MkdirAll(filepath.Join(dir, "lib"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "lib", "boot.pc"), []byte("int main() { return 0; }\n"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// "src" has no boot.pc; the search falls through to "lib".
	got := m.EntryPath()
	want := filepath.Join(m.Dir, "lib", "boot.pc")
	if got != want {
		t.Errorf("EntryPath() = %q, want %q", got, want)
	}
}

func TestOutputPath(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, sampleManifest)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	want := filepath.Join(m.Dir, "sandbox.prx")
	if got := m.OutputPath(); got != want {
		t.Errorf("OutputPath() = %q, want %q", got, want)
	}
}
