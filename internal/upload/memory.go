package upload

import (
	"context"
	"fmt"
	"sync"

	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/ze"
)

// MemoryUploader keeps published builds in memory, making it useful for
// testing and dry runs. This implementation is safe for concurrent use.
type MemoryUploader struct {
	name       string
	assets     map[string][]byte       // hash -> content
	snapshots  map[string]*ze.Snapshot // snapshot id -> snapshot
	buildStats map[string][]byte       // snapshot id -> stats
	mu         sync.RWMutex
}

// NewMemoryUploader creates a new in-memory uploader with the given name.
func NewMemoryUploader(name string) *MemoryUploader {
	return &MemoryUploader{
		name:       name,
		assets:     make(map[string][]byte),
		snapshots:  make(map[string]*ze.Snapshot),
		buildStats: make(map[string][]byte),
	}
}

func (m *MemoryUploader) Upload(ctx context.Context, req ze.UploadRequest) (string, error) {
	if req.Snapshot == nil {
		return "", fmt.Errorf("upload request has no snapshot")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range req.Assets {
		if int64(len(a.Buffer)) != a.Size {
			return "", fmt.Errorf("size mismatch for %s: expected %d bytes, got %d", a.Path, a.Size, len(a.Buffer))
		}
		// Idempotent: storing the same hash multiple times is safe
		m.assets[a.Hash] = append([]byte(nil), a.Buffer...)
	}
	if len(req.BuildStats) > 0 {
		m.buildStats[req.Snapshot.SnapshotID] = append([]byte(nil), req.BuildStats...)
	}
	m.snapshots[req.Snapshot.SnapshotID] = req.Snapshot

	return fmt.Sprintf("memory://%s/%s", m.name, req.Snapshot.SnapshotID), nil
}

// Asset returns the stored content for hash.
func (m *MemoryUploader) Asset(hash string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.assets[hash]
	return data, ok
}

// Snapshot returns a published snapshot.
func (m *MemoryUploader) Snapshot(snapshotID string) (*ze.Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snapshots[snapshotID]
	return snap, ok
}

// AssetCount returns how many distinct assets are stored.
func (m *MemoryUploader) AssetCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.assets)
}

// Compile-time check that MemoryUploader implements ze.Uploader
var _ ze.Uploader = (*MemoryUploader)(nil)
