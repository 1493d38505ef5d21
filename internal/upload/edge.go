package upload

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/ze"
)

// EdgeAPI is the upload surface of the edge client.
type EdgeAPI interface {
	UploadAsset(ctx context.Context, applicationUID string, asset *ze.AssetRecord) error
	UploadBuildStats(ctx context.Context, applicationUID string, stats json.RawMessage) error
	UploadSnapshot(ctx context.Context, snap *ze.Snapshot) (string, error)
}

// EdgeUploader publishes builds through the edge API.
type EdgeUploader struct {
	api    EdgeAPI
	logger ze.Logger
}

var _ ze.Uploader = (*EdgeUploader)(nil)

func NewEdgeUploader(api EdgeAPI, logger ze.Logger) *EdgeUploader {
	if logger == nil {
		logger = ze.NewNopLogger()
	}
	return &EdgeUploader{api: api, logger: logger}
}

func (u *EdgeUploader) Upload(ctx context.Context, req ze.UploadRequest) (string, error) {
	err := forEachAsset(ctx, req.Assets, defaultConcurrency, func(ctx context.Context, a *ze.AssetRecord) error {
		return u.api.UploadAsset(ctx, req.ApplicationUID, a)
	})
	if err != nil {
		return "", fmt.Errorf("uploading assets: %w", err)
	}

	// Build stats are diagnostics; losing them does not fail the deploy.
	if len(req.BuildStats) > 0 {
		if err := u.api.UploadBuildStats(ctx, req.ApplicationUID, req.BuildStats); err != nil {
			u.logger.Warn("build stats upload failed", "application_uid", req.ApplicationUID, "error", err)
		}
	}

	url, err := u.api.UploadSnapshot(ctx, req.Snapshot)
	if err != nil {
		return "", err
	}
	return url, nil
}
