package upload

import (
	"context"
	"fmt"

	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/config"
	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/ze"
)

// NewFromConfig creates an uploader based on the target config type.
// api is required for the edge type only.
func NewFromConfig(ctx context.Context, cfg config.TargetConfig, api EdgeAPI, logger ze.Logger) (ze.Uploader, error) {
	switch cfg.Type {
	case "edge":
		if api == nil {
			return nil, fmt.Errorf("edge target requires an edge client")
		}
		return NewEdgeUploader(api, logger), nil
	case "memory":
		return NewMemoryUploader(cfg.Name), nil
	case "s3":
		return NewS3Uploader(ctx, cfg)
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem target requires fs_root to be set")
		}
		return NewFileSystemUploader(cfg.FSRoot, cfg.PublicURL)
	default:
		return nil, fmt.Errorf("unknown target type: %s", cfg.Type)
	}
}

// NewRegistryFromConfig builds one uploader per target and registers it
// under the target's platform tag.
func NewRegistryFromConfig(ctx context.Context, targets []config.TargetConfig, api EdgeAPI, logger ze.Logger) (*Registry, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("no upload targets configured")
	}
	reg := NewRegistry()
	for _, t := range targets {
		u, err := NewFromConfig(ctx, t, api, logger)
		if err != nil {
			return nil, fmt.Errorf("creating target %q: %w", t.Name, err)
		}
		reg.Register(t.Platform, u)
	}
	return reg, nil
}
