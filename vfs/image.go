package vfs

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ImageVersion is the current snapshot format version.
const ImageVersion = 1

// cborEncMode uses canonical encoding so snapshots of identical arenas
// are byte-identical.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vfs: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Image is a serializable snapshot of a whole arena.
type Image struct {
	Version int               `cbor:"1,keyasint"`
	Files   map[string][]byte `cbor:"2,keyasint"`
}

// Snapshot captures the arena into a deterministic CBOR image.
func Snapshot(s *Store) ([]byte, error) {
	s.mu.RLock()
	img := Image{
		Version: ImageVersion,
		Files:   make(map[string][]byte, len(s.files)),
	}
	for path, content := range s.files {
		c := make([]byte, len(content))
		copy(c, content)
		img.Files[path] = c
	}
	s.mu.RUnlock()

	return cborEncMode.Marshal(&img)
}

// Restore builds a fresh arena from a snapshot image.
func Restore(data []byte) (*Store, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("vfs: unmarshal image: %w", err)
	}
	if img.Version != ImageVersion {
		return nil, fmt.Errorf("vfs: unsupported image version %d", img.Version)
	}

	s := NewStore()
	for path, content := range img.Files {
		s.Write(path, content)
	}
	return s, nil
}
