package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/ze"
)

// FileSystemUploader publishes builds into a directory tree:
//
//	<root>/
//	  assets/
//	    <hash>                  (content files, named by SHA-256)
//	  snapshots/
//	    <snapshot_id>.json
//	  build-stats/
//	    <snapshot_id>.json
type FileSystemUploader struct {
	root        string
	assetDir    string
	snapshotDir string
	statsDir    string
	publicURL   string
}

// NewFileSystemUploader creates the directory tree under root. Version
// URLs are publicURL/<snapshot_id>, or a file URL when publicURL is empty.
func NewFileSystemUploader(root, publicURL string) (*FileSystemUploader, error) {
	u := &FileSystemUploader{
		root:        root,
		assetDir:    filepath.Join(root, "assets"),
		snapshotDir: filepath.Join(root, "snapshots"),
		statsDir:    filepath.Join(root, "build-stats"),
		publicURL:   strings.TrimRight(publicURL, "/"),
	}
	for _, dir := range []string{u.assetDir, u.snapshotDir, u.statsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return u, nil
}

func (u *FileSystemUploader) Upload(ctx context.Context, req ze.UploadRequest) (string, error) {
	if req.Snapshot == nil {
		return "", fmt.Errorf("upload request has no snapshot")
	}

	err := forEachAsset(ctx, req.Assets, defaultConcurrency, func(ctx context.Context, a *ze.AssetRecord) error {
		return u.putAsset(a)
	})
	if err != nil {
		return "", fmt.Errorf("uploading assets: %w", err)
	}

	id := req.Snapshot.SnapshotID
	if len(req.BuildStats) > 0 {
		if err := writeFile(filepath.Join(u.statsDir, id+".json"), bytes.NewReader(req.BuildStats), int64(len(req.BuildStats))); err != nil {
			return "", fmt.Errorf("writing build stats: %w", err)
		}
	}

	data, err := json.MarshalIndent(req.Snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}
	snapshotPath := filepath.Join(u.snapshotDir, id+".json")
	if err := writeFile(snapshotPath, bytes.NewReader(data), int64(len(data))); err != nil {
		return "", fmt.Errorf("writing snapshot: %w", err)
	}

	if u.publicURL != "" {
		return u.publicURL + "/" + id, nil
	}
	return "file://" + filepath.ToSlash(snapshotPath), nil
}

// putAsset stores content under its hash.
// The operation is idempotent: storing the same hash multiple times is safe.
func (u *FileSystemUploader) putAsset(a *ze.AssetRecord) error {
	destPath := filepath.Join(u.assetDir, a.Hash)
	if _, err := os.Stat(destPath); err == nil {
		return nil
	}
	return writeFile(destPath, bytes.NewReader(a.Buffer), a.Size)
}

// ReadSnapshot loads a published snapshot.
func (u *FileSystemUploader) ReadSnapshot(snapshotID string) (*ze.Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(u.snapshotDir, snapshotID+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("snapshot not found: %s", snapshotID)
		}
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	var snap ze.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &snap, nil
}

// writeFile writes data from r to the specified path using atomic write (temp file + rename).
func writeFile(destPath string, r io.Reader, expectedSize int64) error {
	// Temp file in the same directory so the rename stays on one filesystem
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Compile-time check that FileSystemUploader implements ze.Uploader
var _ ze.Uploader = (*FileSystemUploader)(nil)
