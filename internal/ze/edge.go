package ze

import (
	"context"
	"encoding/json"
)

// ApplicationConfig is the server-side configuration of one application,
// scoped to the authenticated user.
type ApplicationConfig struct {
	UserUUID string `json:"user_uuid"`
	Username string `json:"username"`
	Email    string `json:"email"`
	// Platform selects the upload strategy.
	Platform string `json:"platform"`
	EdgeURL  string `json:"edge_url"`
}

// EdgeAPI is the subset of the edge resolution service the orchestrator
// calls. Implementations retry transient failures themselves; from the
// caller's point of view every call is a single attempt.
type EdgeAPI interface {
	// FetchHashSet returns the content hashes already stored for the application.
	FetchHashSet(ctx context.Context, applicationUID string) (HashSet, error)

	// FetchBuildIDs returns the next build id per user uuid.
	FetchBuildIDs(ctx context.Context, applicationUID string) (map[string]string, error)

	// FetchApplicationConfig returns the application configuration.
	FetchApplicationConfig(ctx context.Context, applicationUID string) (*ApplicationConfig, error)

	// Resolve returns the deployed location of applicationUID at version.
	// platform is empty unless the dependency is built per target platform.
	Resolve(ctx context.Context, applicationUID, version, platform string) (*ResolvedRemoteDependency, error)
}

// TokenSource supplies the bearer token for edge calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)

	// Invalidate forgets any cached token, typically after a 401.
	Invalidate()
}

// UploadRequest is everything an upload strategy needs to publish a build.
type UploadRequest struct {
	ApplicationUID string
	BuildID        string
	AppConfig      *ApplicationConfig
	Snapshot       *Snapshot
	// Assets holds only the assets missing from the edge.
	Assets     []*AssetRecord
	BuildStats json.RawMessage
}

// Uploader publishes a snapshot and its missing assets and returns the
// published version URL.
type Uploader interface {
	Upload(ctx context.Context, req UploadRequest) (string, error)
}

// UploaderSelector picks the upload strategy for a platform tag.
type UploaderSelector interface {
	ForPlatform(platform string) (Uploader, error)
}
