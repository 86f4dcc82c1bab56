package archive

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"dbcfg/internal/dbcfg"
)

// MemoryArchive keeps snapshots in memory. It is safe for concurrent use.
type MemoryArchive struct {
	name      string
	snapshots map[string]map[int64][]byte // database -> version -> data
	mu        sync.RWMutex
}

// NewMemoryArchive creates an empty in-memory archive.
func NewMemoryArchive(name string) *MemoryArchive {
	return &MemoryArchive{
		name:      name,
		snapshots: make(map[string]map[int64][]byte),
	}
}

// PutSnapshot stores a snapshot, replacing any earlier one with the same
// version.
func (m *MemoryArchive) PutSnapshot(database string, version int64, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	versions, ok := m.snapshots[database]
	if !ok {
		versions = make(map[int64][]byte)
		m.snapshots[database] = versions
	}
	versions[version] = data
	return nil
}

func (m *MemoryArchive) GetSnapshot(database string, version int64, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.snapshots[database][version]
	if !ok {
		return fmt.Errorf("snapshot %s/%d: %w", database, version, dbcfg.ErrNotFound)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

func (m *MemoryArchive) LatestVersion(database string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest int64
	for v := range m.snapshots[database] {
		latest = max(latest, v)
	}
	return latest, nil
}

// ValidateSetup always succeeds for the in-memory archive.
func (m *MemoryArchive) ValidateSetup() error {
	return nil
}

var _ dbcfg.Archive = (*MemoryArchive)(nil)
