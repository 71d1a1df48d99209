package vfs

import (
	"bytes"
	"path/filepath"
	"reflect"
	"testing"
)

func TestStoreReadWrite(t *testing.T) {
	s := NewStore()

	if _, ok := s.Read("/missing"); ok {
		t.Error("Read of missing path reported ok")
	}

	s.Write("/a", []byte("one"))
	content, ok := s.Read("/a")
	if !ok {
		t.Fatal("Read after Write reported missing")
	}
	if !bytes.Equal(content, []byte("one")) {
		t.Errorf("content = %q, want %q", content, "one")
	}

	s.Write("/a", []byte("two"))
	content, _ = s.Read("/a")
	if !bytes.Equal(content, []byte("two")) {
		t.Errorf("content after rewrite = %q, want %q", content, "two")
	}
}

func TestStoreCopiesOnBothSides(t *testing.T) {
	s := NewStore()

	// Mutating the written slice afterwards must not reach the store.
	input := []byte("immutable")
	s.Write("/f", input)
	input[0] = 'X'

	content, _ := s.Read("/f")
	if string(content) != "immutable" {
		t.Errorf("content = %q, want %q (write must copy)", content, "immutable")
	}

	// Mutating the returned slice must not reach the store either.
	content[0] = 'Y'
	again, _ := s.Read("/f")
	if string(again) != "immutable" {
		t.Errorf("content = %q, want %q (read must copy)", again, "immutable")
	}
}

func TestStoreRemove(t *testing.T) {
	s := NewStore()
	s.Write("/f", []byte("x"))

	if !s.Remove("/f") {
		t.Error("Remove of existing path = false")
	}
	if _, ok := s.Read("/f"); ok {
		t.Error("path still readable after Remove")
	}
	if s.Remove("/f") {
		t.Error("Remove of missing path = true")
	}
}

func TestStoreList(t *testing.T) {
	s := NewStore()
	s.Write("/b/2", nil)
	s.Write("/a/1", nil)
	s.Write("/b/1", nil)

	all := s.List("")
	want := []string{"/a/1", "/b/1", "/b/2"}
	if !reflect.DeepEqual(all, want) {
		t.Errorf("List(\"\") = %v, want %v", all, want)
	}

	under := s.List("/b/")
	want = []string{"/b/1", "/b/2"}
	if !reflect.DeepEqual(under, want) {
		t.Errorf("List(\"/b/\") = %v, want %v", under, want)
	}

	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := NewStore()
	s.Write("/etc/motd", []byte("hello"))
	s.Write("/bin/tool", []byte{0x50, 0x52, 0x49, 0x4D})
	s.Write("/empty", nil)

	image, err := Snapshot(s)
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}

	restored, err := Restore(image)
	if err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if restored.Len() != s.Len() {
		t.Fatalf("restored Len() = %d, want %d", restored.Len(), s.Len())
	}
	for _, path := range s.List("") {
		wantContent, _ := s.Read(path)
		gotContent, ok := restored.Read(path)
		if !ok {
			t.Errorf("path %q missing after restore", path)
			continue
		}
		if !bytes.Equal(gotContent, wantContent) {
			t.Errorf("path %q content = %q, want %q", path, gotContent, wantContent)
		}
	}
}

func TestSnapshotIsDeterministic(t *testing.T) {
	s := NewStore()
	s.Write("/z", []byte("zz"))
	s.Write("/a", []byte("aa"))
	s.Write("/m", []byte("mm"))

	first, err := Snapshot(s)
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}
	second, err := Snapshot(s)
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("two snapshots of the same store differ")
	}
}

func TestRestoreRejectsGarbage(t *testing.T) {
	if _, err := Restore([]byte("not a cbor image")); err == nil {
		t.Error("Restore accepted garbage input")
	}
}

func TestDiskStoreSaveLoad(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "arena.db")

	s := NewStore()
	s.Write("/config", []byte("k=v"))
	s.Write("/data/blob", []byte{0, 1, 2, 3})

	d, err := OpenDiskStore(dbPath)
	if err != nil {
		t.Fatalf("OpenDiskStore() error: %v", err)
	}
	if err := d.Save(s); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	d2, err := OpenDiskStore(dbPath)
	if err != nil {
		t.Fatalf("OpenDiskStore() error: %v", err)
	}
	defer d2.Close()

	loaded, err := d2.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.Len() != 2 {
		t.Fatalf("loaded Len() = %d, want 2", loaded.Len())
	}
	content, ok := loaded.Read("/config")
	if !ok || string(content) != "k=v" {
		t.Errorf("/config = %q (ok=%v), want %q", content, ok, "k=v")
	}
}

func TestDiskStoreSaveReplaces(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "arena.db")

	d, err := OpenDiskStore(dbPath)
	if err != nil {
		t.Fatalf("OpenDiskStore() error: %v", err)
	}
	defer d.Close()

	first := NewStore()
	first.Write("/old", []byte("gone"))
	if err := d.Save(first); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	second := NewStore()
	second.Write("/new", []byte("kept"))
	if err := d.Save(second); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, err := d.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if _, ok := loaded.Read("/old"); ok {
		t.Error("/old survived a replacing Save")
	}
	if _, ok := loaded.Read("/new"); !ok {
		t.Error("/new missing after Save")
	}
}
