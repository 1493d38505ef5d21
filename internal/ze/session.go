package ze

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// SessionState is a stage of the build lifecycle.
type SessionState string

const (
	StateCreated               SessionState = "created"
	StateInitializing          SessionState = "initializing"
	StateBuildStarted          SessionState = "build_started"
	StateResolvingDependencies SessionState = "resolving_dependencies"
	StateUploadingAssets       SessionState = "uploading_assets"
	StateFinished              SessionState = "finished"
	StateErrored               SessionState = "errored"
)

// SessionOptions configures a Session.
type SessionOptions struct {
	// CI selects branch-qualified snapshot versions.
	CI       bool
	BasePath string
	// Platform scopes dependency resolution to a build target.
	Platform  string
	EnvVars   map[string]string
	Overrides map[string]DependencyOverride

	// NewLogger builds the session logger once the application
	// configuration is known. Defaults to a NopLogger.
	NewLogger func(cfg *ApplicationConfig, applicationUID string) Logger
}

// UploadInput is what the bundler integration hands over after emitting assets.
type UploadInput struct {
	Assets     AssetMap
	BuildStats json.RawMessage
	// MFConfig is the federation config to record, normally the result of
	// RewriteFederationConfig.
	MFConfig *FederationConfig
}

// BuildRecord is the state of one build. A fresh record is created for
// every build; the session only holds the current one.
type BuildRecord struct {
	BuildID       string
	SnapshotID    string
	VersionURL    string
	StartedAt     time.Time
	Git           GitInfo
	Snapshot      *Snapshot
	AssetCount    int
	UploadedCount int
	// Resolved holds the remote dependencies resolved for this build.
	Resolved      []ResolvedRemoteDependency

	hashSet   *future[hashSetResult]
	buildIDs  *future[map[string]string]
	appConfig *future[*ApplicationConfig]
}

type hashSetResult struct {
	set HashSet
	err error
}

// BuildSummary reports a finished build.
type BuildSummary struct {
	ApplicationUID string
	BuildID        string
	SnapshotID     string
	Version        string
	VersionURL     string
	StartedAt      time.Time
	Elapsed        time.Duration
	Dependencies   []string
	AssetCount     int
	UploadedCount  int
	Snapshot       *Snapshot
}

// Session orchestrates builds of one application. It is long-lived: after
// BuildFinished the same Session starts the next build with StartNewBuild.
type Session struct {
	api       EdgeAPI
	tokens    TokenSource
	uploaders UploaderSelector
	clock     Clock
	opts      SessionOptions

	loggers Memo[string, Logger]

	mu        sync.Mutex
	state     SessionState
	identity  ApplicationIdentity
	repo      RepoMeta
	appConfig *ApplicationConfig
	// hashSet accumulates edge hashes across builds, including the
	// hashes this session uploaded itself.
	hashSet   HashSet
	current   *BuildRecord
	lastErr   error
}

// NewSession creates a Session in the Created state.
func NewSession(api EdgeAPI, tokens TokenSource, uploaders UploaderSelector, clock Clock, opts SessionOptions) *Session {
	if opts.NewLogger == nil {
		opts.NewLogger = func(*ApplicationConfig, string) Logger { return NewNopLogger() }
	}
	return &Session{
		api:       api,
		tokens:    tokens,
		uploaders: uploaders,
		clock:     clock,
		opts:      opts,
		state:     StateCreated,
	}
}

// State returns the current lifecycle stage.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that moved the session to Errored, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Identity returns the identity of the application being built.
func (s *Session) Identity() ApplicationIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Resolved returns the dependencies resolved for the current build.
func (s *Session) Resolved() []ResolvedRemoteDependency {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return append([]ResolvedRemoteDependency(nil), s.current.Resolved...)
}

// CurrentBuild returns a copy of the current build record.
func (s *Session) CurrentBuild() (BuildRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return BuildRecord{}, false
	}
	return *s.current, true
}

// StartNewBuild derives the application identity, verifies the credential
// and starts the hash-set, build-id and application-config fetches. The
// fetches run concurrently and are joined before upload.
func (s *Session) StartNewBuild(ctx context.Context, pkg PackageMeta, repo RepoMeta) error {
	s.setState(StateInitializing)

	identity, err := DeriveIdentity(pkg, repo)
	if err != nil {
		return s.fail(err)
	}
	if _, err := s.tokens.Token(ctx); err != nil {
		return s.fail(newError(KindAuth, "verify authentication", err))
	}

	uid := identity.ApplicationUID()
	rec := &BuildRecord{
		StartedAt: s.clock.Now(),
		Git: GitInfo{
			Name:   repo.AuthorName,
			Email:  repo.AuthorEmail,
			Branch: repo.Branch,
			Commit: repo.Commit,
			Tags:   repo.Tags,
		},
	}
	fetchCtx := context.WithoutCancel(ctx)
	rec.hashSet = spawn(fetchCtx, func(ctx context.Context) (hashSetResult, error) {
		set, err := s.api.FetchHashSet(ctx, uid)
		if err != nil {
			return hashSetResult{set: NewHashSet(), err: err}, nil
		}
		if set == nil {
			set = NewHashSet()
		}
		return hashSetResult{set: set}, nil
	})
	rec.buildIDs = spawn(fetchCtx, func(ctx context.Context) (map[string]string, error) {
		return s.api.FetchBuildIDs(ctx, uid)
	})
	rec.appConfig = spawn(fetchCtx, func(ctx context.Context) (*ApplicationConfig, error) {
		return s.api.FetchApplicationConfig(ctx, uid)
	})

	s.mu.Lock()
	s.identity = identity
	s.repo = repo
	s.current = rec
	s.lastErr = nil
	s.state = StateBuildStarted
	s.mu.Unlock()
	return nil
}

// Logger returns the session logger, creating it once the build id and
// application configuration are known. Concurrent callers share a single
// initialization and receive the same instance.
func (s *Session) Logger(ctx context.Context) (Logger, error) {
	s.mu.Lock()
	rec := s.current
	uid := s.identity.ApplicationUID()
	s.mu.Unlock()

	if rec == nil && !s.loggers.Ready("session") {
		return nil, newError(KindOrdering, "create logger", fmt.Errorf("no build started"))
	}
	return s.loggers.Get(ctx, "session", func(ctx context.Context) (Logger, error) {
		if _, err := rec.buildIDs.Wait(ctx); err != nil {
			return nil, err
		}
		cfg, err := rec.appConfig.Wait(ctx)
		if err != nil {
			return nil, err
		}
		return s.opts.NewLogger(cfg, uid), nil
	})
}

// log returns the session logger, or a NopLogger when it cannot be built.
func (s *Session) log(ctx context.Context) Logger {
	l, err := s.Logger(ctx)
	if err != nil {
		return NewNopLogger()
	}
	return l
}

// join waits for the build-initialization fetches. Build-id and
// application-config failures are fatal; a hash-set failure degrades to
// an empty set.
func (s *Session) join(ctx context.Context, rec *BuildRecord) error {
	ids, err := rec.buildIDs.Wait(ctx)
	if err != nil {
		return newError("", "fetch build id", err)
	}
	cfg, err := rec.appConfig.Wait(ctx)
	if err != nil {
		return newError("", "fetch application config", err)
	}
	if cfg == nil {
		return newError(KindProtocol, "fetch application config", fmt.Errorf("empty application config"))
	}

	buildID := ids[cfg.UserUUID]
	if buildID == "" && len(ids) == 1 {
		for _, id := range ids {
			buildID = id
		}
	}
	if buildID == "" {
		return newError(KindProtocol, "fetch build id", fmt.Errorf("no build id issued for user %q", cfg.UserUUID))
	}

	hs, err := rec.hashSet.Wait(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	uid := s.identity.ApplicationUID()
	firstJoin := rec.BuildID == ""
	rec.BuildID = buildID
	rec.SnapshotID = DeriveSnapshotID(uid, buildID, cfg.Username)
	s.appConfig = cfg
	if s.hashSet == nil {
		s.hashSet = NewHashSet()
	}
	s.hashSet.Add(hs.set.Sorted()...)
	s.mu.Unlock()

	if firstJoin {
		logger := s.log(ctx)
		if hs.err != nil {
			logger.Warn("hash set unavailable, uploading every asset", "application_uid", uid, "error", hs.err)
		}
		logger.Info("build started", "application_uid", uid, "build_id", buildID, "snapshot_id", rec.SnapshotID)
	}
	return nil
}

// ResolveRemoteDependencies resolves reqs and stores the successes on the
// current build. It returns nil when reqs is empty. Per-item failures are logged
// and dropped.
func (s *Session) ResolveRemoteDependencies(ctx context.Context, reqs []RemoteDependencyRequest) ([]ResolvedRemoteDependency, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return nil, s.fail(newError(KindOrdering, "resolve dependencies", fmt.Errorf("no build started")))
	}
	s.state = StateResolvingDependencies
	rc := ResolveContext{
		Org:       s.identity.Org,
		Project:   s.identity.Project,
		Platform:  s.opts.Platform,
		Overrides: s.opts.Overrides,
	}
	s.mu.Unlock()

	logger := s.log(ctx)
	resolved := NewResolver(s.api, logger).Resolve(ctx, reqs, rc)
	if len(resolved) < len(reqs) {
		logger.Warn("some dependencies were not resolved", "requested", len(reqs), "resolved", len(resolved))
	}

	s.mu.Lock()
	if s.current != nil {
		s.current.Resolved = resolved
	}
	s.mu.Unlock()
	return resolved, nil
}

// RewriteFederationConfig returns cfg with every remote that matches a
// resolved dependency replaced by its loader. Unmatched remotes are
// logged and kept as declared.
func (s *Session) RewriteFederationConfig(ctx context.Context, cfg *FederationConfig) *FederationConfig {
	result := RewriteRemotes(cfg, s.Resolved())
	logger := s.log(ctx)
	for _, a := range result.Applied {
		logger.Debug("remote rewritten", "alias", a.Alias, "name", a.Name, "remote_entry_url", a.RemoteEntryURL)
	}
	for _, sk := range result.Skipped {
		logger.Info("remote not resolved, left unchanged", "alias", sk.Alias, "name", sk.Name, "version", sk.Version)
	}
	return result.Config
}

// UploadAssets publishes the current build: it computes the assets missing
// from the edge, builds the snapshot, and hands both to the upload strategy
// selected by the application's platform tag.
func (s *Session) UploadAssets(ctx context.Context, in UploadInput) error {
	s.mu.Lock()
	rec := s.current
	s.mu.Unlock()
	if rec == nil {
		return s.fail(newError(KindOrdering, "upload assets", ErrNoBuildID))
	}

	if err := s.join(ctx, rec); err != nil {
		return s.fail(err)
	}
	logger := s.log(ctx)

	s.mu.Lock()
	s.state = StateUploadingAssets
	resolved := append([]ResolvedRemoteDependency(nil), rec.Resolved...)
	known := NewHashSet(s.hashSet.Sorted()...)
	cfg := s.appConfig
	input := s.snapshotInput(rec, resolved)
	s.mu.Unlock()

	assets := in.Assets.Clone()
	if len(resolved) > 0 || len(s.opts.EnvVars) > 0 {
		_, manifest, err := BuildManifest(resolved, s.opts.EnvVars, s.clock.Now())
		if err != nil {
			return s.fail(newError(KindProtocol, "build manifest", err))
		}
		assets.Put(manifest)
	}

	missing := MissingAssets(assets, known)
	snap, err := BuildSnapshot(input, assets, in.MFConfig)
	if err != nil {
		return s.fail(err)
	}

	uploader, err := s.uploaders.ForPlatform(cfg.Platform)
	if err != nil {
		return s.fail(newError(KindConfig, "select upload strategy", err))
	}

	logger.Info("uploading assets", "total", len(assets), "missing", len(missing), "platform", cfg.Platform)
	versionURL, err := uploader.Upload(ctx, UploadRequest{
		ApplicationUID: snap.ApplicationUID,
		BuildID:        rec.BuildID,
		AppConfig:      cfg,
		Snapshot:       snap,
		Assets:         missing,
		BuildStats:     in.BuildStats,
	})
	if err != nil {
		zerr := newError("", "upload", err)
		if zerr.Kind == "" {
			zerr.Kind = KindUpload
		}
		return s.fail(zerr)
	}

	s.mu.Lock()
	rec.VersionURL = versionURL
	rec.Snapshot = snap
	rec.AssetCount = len(assets)
	rec.UploadedCount = len(missing)
	for _, a := range missing {
		s.hashSet.Add(a.Hash)
	}
	s.mu.Unlock()
	return nil
}

// snapshotInput gathers the snapshot fields from the session. s.mu must be held.
func (s *Session) snapshotInput(rec *BuildRecord, resolved []ResolvedRemoteDependency) SnapshotInput {
	return SnapshotInput{
		Identity:     s.identity,
		BuildID:      rec.BuildID,
		SnapshotID:   rec.SnapshotID,
		Username:     s.appConfig.Username,
		Email:        s.appConfig.Email,
		Domain:       s.appConfig.EdgeURL,
		Git:          rec.Git,
		CI:           s.opts.CI,
		BasePath:     s.opts.BasePath,
		CreatedAt:    s.clock.Now(),
		Dependencies: resolved,
	}
}

// BuildFinished logs the build summary and clears the current build so
// the session can start the next one.
func (s *Session) BuildFinished(ctx context.Context) (*BuildSummary, error) {
	s.mu.Lock()
	rec := s.current
	s.mu.Unlock()
	if rec == nil {
		return nil, newError(KindOrdering, "finish build", fmt.Errorf("no build started"))
	}
	if rec.VersionURL == "" {
		return nil, newError(KindOrdering, "finish build", fmt.Errorf("build %q was not published", rec.BuildID))
	}

	s.mu.Lock()
	summary := &BuildSummary{
		ApplicationUID: s.identity.ApplicationUID(),
		BuildID:        rec.BuildID,
		SnapshotID:     rec.SnapshotID,
		Version:        rec.Snapshot.Version,
		VersionURL:     rec.VersionURL,
		StartedAt:      rec.StartedAt,
		Elapsed:        s.clock.Now().Sub(rec.StartedAt),
		Dependencies:   sortedDependencyNames(rec.Resolved),
		AssetCount:     rec.AssetCount,
		UploadedCount:  rec.UploadedCount,
		Snapshot:       rec.Snapshot,
	}
	s.current = nil
	s.state = StateFinished
	s.mu.Unlock()

	s.log(ctx).Info("build finished",
		"application_uid", summary.ApplicationUID,
		"build_id", summary.BuildID,
		"elapsed", summary.Elapsed.Truncate(time.Millisecond).String(),
		"dependencies", summary.Dependencies,
		"uploaded", summary.UploadedCount,
		"version_url", summary.VersionURL,
	)
	return summary, nil
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// fail moves the session to Errored and returns err unchanged.
func (s *Session) fail(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateErrored
	s.lastErr = err
	return err
}
