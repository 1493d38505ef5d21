package ze

import (
	"context"
	"sync"
)

// AnyVersion is the version requested when a remote declares none.
const AnyVersion = "*"

// RemoteDependencyRequest is a remote as declared by the consuming
// application. Name may be a short alias or a fully-qualified uid.
type RemoteDependencyRequest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ResolvedRemoteDependency is the concrete deployed location of a remote.
type ResolvedRemoteDependency struct {
	Name           string `json:"name"`
	ApplicationUID string `json:"application_uid"`
	Version        string `json:"version"`
	DefaultURL     string `json:"default_url"`
	RemoteEntryURL string `json:"remote_entry_url"`
	LibraryType    string `json:"library_type"`
	Platform       string `json:"platform,omitempty"`
}

// DependencyOverride pins how one declared dependency name resolves.
type DependencyOverride struct {
	ApplicationUID string
	Version        string
}

// ResolveContext carries the consuming build's scope.
type ResolveContext struct {
	Org      string
	Project  string
	Platform string
	// Overrides is keyed by declared dependency name.
	Overrides map[string]DependencyOverride
}

// Resolver turns dependency requests into deployed locations.
type Resolver struct {
	api    EdgeAPI
	logger Logger
}

// NewResolver creates a Resolver backed by api.
func NewResolver(api EdgeAPI, logger Logger) *Resolver {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Resolver{api: api, logger: logger}
}

// TargetApplicationUID computes which application and version a request
// resolves against.
func TargetApplicationUID(req RemoteDependencyRequest, rc ResolveContext) (uid, version string) {
	version = req.Version
	if version == "" {
		version = AnyVersion
	}
	if IsApplicationUID(req.Name) {
		return req.Name, version
	}
	if o, ok := rc.Overrides[req.Name]; ok {
		if o.Version != "" {
			version = o.Version
		}
		if o.ApplicationUID != "" {
			return o.ApplicationUID, version
		}
	}
	return JoinApplicationUID(req.Name, rc.Project, rc.Org), version
}

// Resolve resolves every request concurrently. A request that fails is
// logged and dropped; the others are unaffected. Results keep input order
// among the successes, and each carries the name and version the consumer
// declared, even when the target publishes itself under another name.
func (r *Resolver) Resolve(ctx context.Context, reqs []RemoteDependencyRequest, rc ResolveContext) []ResolvedRemoteDependency {
	results := make([]*ResolvedRemoteDependency, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req RemoteDependencyRequest) {
			defer wg.Done()
			results[i] = r.resolveOne(ctx, req, rc)
		}(i, req)
	}
	wg.Wait()

	resolved := make([]ResolvedRemoteDependency, 0, len(reqs))
	for _, res := range results {
		if res != nil {
			resolved = append(resolved, *res)
		}
	}
	return resolved
}

func (r *Resolver) resolveOne(ctx context.Context, req RemoteDependencyRequest, rc ResolveContext) *ResolvedRemoteDependency {
	uid, version := TargetApplicationUID(req, rc)

	dep, err := r.api.Resolve(ctx, uid, version, rc.Platform)
	if err != nil {
		r.logger.Warn("dependency not resolved", "name", req.Name, "application_uid", uid, "version", version, "error", err)
		return nil
	}
	if dep == nil || dep.RemoteEntryURL == "" {
		r.logger.Warn("dependency not resolved", "name", req.Name, "application_uid", uid, "version", version, "error", "empty resolution")
		return nil
	}

	out := *dep
	if out.ApplicationUID == "" {
		out.ApplicationUID = uid
	}
	if out.Name != req.Name {
		r.logger.Debug("dependency aliased", "declared", req.Name, "resolved", out.Name)
	}
	out.Name = req.Name
	out.Version = req.Version
	if out.Version == "" {
		out.Version = AnyVersion
	}
	if out.Platform == "" {
		out.Platform = rc.Platform
	}
	r.logger.Debug("dependency resolved", "name", out.Name, "application_uid", out.ApplicationUID, "remote_entry_url", out.RemoteEntryURL)
	return &out
}
