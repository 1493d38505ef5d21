package ze

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// SnapshotUID identifies the build inside a snapshot.
type SnapshotUID struct {
	Build   string `json:"build"`
	AppName string `json:"app_name"`
	Repo    string `json:"repo"`
	Org     string `json:"org"`
}

// GitInfo is the provenance of the build.
type GitInfo struct {
	Name   string   `json:"name,omitempty"`
	Email  string   `json:"email,omitempty"`
	Branch string   `json:"branch"`
	Commit string   `json:"commit"`
	Tags   []string `json:"tags,omitempty"`
}

// Creator is the user who published the build.
type Creator struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// SnapshotAsset locates one asset by path and content hash.
type SnapshotAsset struct {
	Path    string `json:"path"`
	Extname string `json:"extname"`
	Hash    string `json:"hash"`
	Size    int64  `json:"size"`
}

// ManifestRef points a snapshot at its dependency manifest asset.
type ManifestRef struct {
	Path         string   `json:"path"`
	Hash         string   `json:"hash"`
	Dependencies []string `json:"dependencies"`
}

// Snapshot is the immutable deployment descriptor of one build. It never
// embeds asset content; assets are uploaded separately by hash.
type Snapshot struct {
	ApplicationUID string                   `json:"application_uid"`
	Version        string                   `json:"version"`
	SnapshotID     string                   `json:"snapshot_id"`
	Domain         string                   `json:"domain"`
	UID            SnapshotUID              `json:"uid"`
	Git            GitInfo                  `json:"git"`
	Creator        Creator                  `json:"creator"`
	CreatedAt      int64                    `json:"createdAt"`
	MFConfig       *FederationConfig        `json:"mfConfig,omitempty"`
	Assets         map[string]SnapshotAsset `json:"assets"`
	ManifestRef    *ManifestRef             `json:"manifest,omitempty"`
}

// SnapshotInput is the build state a snapshot is assembled from.
type SnapshotInput struct {
	Identity   ApplicationIdentity
	BuildID    string
	SnapshotID string
	Username   string
	Email      string
	Domain     string
	Git        GitInfo
	// CI selects branch-qualified versions instead of username-qualified ones.
	CI           bool
	BasePath     string
	CreatedAt    time.Time
	Dependencies []ResolvedRemoteDependency
}

// FormatVersion returns "{appVersion}-{qualifier}.{buildID}".
func FormatVersion(appVersion, qualifier, buildID string) string {
	return fmt.Sprintf("%s-%s.%s", appVersion, normalizeUIDPart(qualifier), buildID)
}

// BuildSnapshot assembles the deployment descriptor for one build. It
// fails with ErrNoBuildID if no build id has been assigned yet.
func BuildSnapshot(in SnapshotInput, assets AssetMap, mf *FederationConfig) (*Snapshot, error) {
	if in.BuildID == "" {
		return nil, newError(KindOrdering, "build snapshot", ErrNoBuildID)
	}

	qualifier := in.Username
	if in.CI && in.Git.Branch != "" {
		qualifier = in.Git.Branch
	}
	version := FormatVersion(in.Identity.Version, qualifier, in.BuildID)

	snap := &Snapshot{
		ApplicationUID: in.Identity.ApplicationUID(),
		Version:        version,
		SnapshotID:     in.SnapshotID,
		Domain:         in.Domain,
		UID: SnapshotUID{
			Build:   in.BuildID,
			AppName: in.Identity.Name,
			Repo:    in.Identity.Project,
			Org:     in.Identity.Org,
		},
		Git:       in.Git,
		Creator:   Creator{Name: in.Username, Email: in.Email},
		CreatedAt: in.CreatedAt.UnixMilli(),
		MFConfig:  mf,
		Assets:    make(map[string]SnapshotAsset, len(assets)),
	}

	for _, rec := range assets {
		for _, p := range append([]string{rec.Path}, rec.Aliases...) {
			p = applyBasePath(in.BasePath, p)
			snap.Assets[p] = SnapshotAsset{
				Path:    p,
				Extname: rec.Extname,
				Hash:    rec.Hash,
				Size:    rec.Size,
			}
		}
	}

	if manifest, ok := snap.Assets[applyBasePath(in.BasePath, ManifestFilename)]; ok && len(in.Dependencies) > 0 {
		snap.ManifestRef = &ManifestRef{
			Path:         manifest.Path,
			Hash:         manifest.Hash,
			Dependencies: sortedDependencyNames(in.Dependencies),
		}
	}

	return snap, nil
}

// applyBasePath prefixes p with basePath and normalizes separators to
// forward slashes, since the descriptor is consumed cross-platform.
func applyBasePath(basePath, p string) string {
	p = toSlash(p)
	if basePath != "" {
		p = path.Join(toSlash(basePath), p)
	}
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "./")
	return strings.TrimPrefix(p, "/")
}
