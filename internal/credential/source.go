package credential

import (
	"context"
	"os"
	"strings"

	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/config"
	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/ze"
)

const tokenKey = "token"

// Source is a ze.TokenSource that prefers an environment variable and
// falls back to the TokenStore. The token is read once per process and
// cached until Invalidate.
type Source struct {
	envVar string
	store  *TokenStore
	getenv func(string) string
	cache  ze.Memo[string, string]
}

var _ ze.TokenSource = (*Source)(nil)

// NewSource creates a Source. envVar may be empty to disable the
// environment override.
func NewSource(envVar string, store *TokenStore) *Source {
	return &Source{envVar: envVar, store: store, getenv: os.Getenv}
}

// NewSourceFromConfig creates a Source from the auth config section.
func NewSourceFromConfig(cfg config.AuthConfig) *Source {
	return NewSource(cfg.TokenEnv, NewTokenStore(cfg.TokenPath, cfg.IdentityPath))
}

// Token returns the cached token, loading it on first use. Concurrent
// first calls share one load.
func (s *Source) Token(ctx context.Context) (string, error) {
	return s.cache.Get(ctx, tokenKey, func(context.Context) (string, error) {
		if s.envVar != "" {
			if v := strings.TrimSpace(s.getenv(s.envVar)); v != "" {
				return v, nil
			}
		}
		if s.store == nil {
			return "", ErrNotLoggedIn
		}
		return s.store.Load()
	})
}

// Invalidate drops the cached token so the next call reloads it.
func (s *Source) Invalidate() {
	s.cache.Invalidate(tokenKey)
}
