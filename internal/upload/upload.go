// Package upload holds the strategies that publish a build. Every
// strategy stores the missing assets first and the snapshot last, so a
// published snapshot never references content that is not yet stored.
package upload

import (
	"context"
	"fmt"
	"mime"
	"sync"

	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/ze"
)

// defaultConcurrency bounds parallel asset uploads.
const defaultConcurrency = 8

// Registry selects an uploader by application platform tag. It is
// populated at startup and read-only afterwards.
type Registry struct {
	byPlatform map[string]ze.Uploader
	fallback   ze.Uploader
}

var _ ze.UploaderSelector = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{byPlatform: make(map[string]ze.Uploader)}
}

// Register binds u to platform. The empty platform registers the
// fallback used for platforms without a dedicated uploader.
func (r *Registry) Register(platform string, u ze.Uploader) {
	if platform == "" {
		r.fallback = u
		return
	}
	r.byPlatform[platform] = u
}

// ForPlatform returns the uploader bound to platform, or the fallback.
func (r *Registry) ForPlatform(platform string) (ze.Uploader, error) {
	if u, ok := r.byPlatform[platform]; ok {
		return u, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("no upload target for platform %q", platform)
}

// forEachAsset runs fn over assets with at most concurrency in flight and
// returns the first error. Remaining work is cancelled after a failure.
func forEachAsset(ctx context.Context, assets []*ze.AssetRecord, concurrency int, fn func(context.Context, *ze.AssetRecord) error) error {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
		sem      = make(chan struct{}, concurrency)
	)
	for _, a := range assets {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(a *ze.AssetRecord) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := fn(ctx, a); err != nil {
				once.Do(func() {
					firstErr = err
					cancel()
				})
			}
		}(a)
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// contentType guesses an asset's MIME type from its extension.
func contentType(ext string) string {
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
