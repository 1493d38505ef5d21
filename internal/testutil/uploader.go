package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/ze"
)

// RecordingUploader records every upload request and returns a version
// URL derived from the snapshot id. It also acts as a selector that
// returns itself for every platform.
type RecordingUploader struct {
	mu       sync.Mutex
	requests []ze.UploadRequest
	Err      error
}

var (
	_ ze.Uploader         = (*RecordingUploader)(nil)
	_ ze.UploaderSelector = (*RecordingUploader)(nil)
)

func NewRecordingUploader() *RecordingUploader {
	return &RecordingUploader{}
}

func (u *RecordingUploader) Upload(ctx context.Context, req ze.UploadRequest) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.requests = append(u.requests, req)
	if u.Err != nil {
		return "", u.Err
	}
	return fmt.Sprintf("https://%s.edge.test", req.Snapshot.SnapshotID), nil
}

func (u *RecordingUploader) ForPlatform(string) (ze.Uploader, error) {
	return u, nil
}

// Requests returns the recorded upload requests.
func (u *RecordingUploader) Requests() []ze.UploadRequest {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]ze.UploadRequest(nil), u.requests...)
}

// Last returns the most recent upload request.
func (u *RecordingUploader) Last() (ze.UploadRequest, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.requests) == 0 {
		return ze.UploadRequest{}, false
	}
	return u.requests[len(u.requests)-1], true
}
