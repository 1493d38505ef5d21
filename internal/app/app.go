package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/config"
	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/credential"
	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/database"
	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/edge"
	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/fs"
	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/project"
	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/upload"
	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/ze"
)

// Options tunes how a ZeApp talks to its environment.
type Options struct {
	// Console receives log lines in addition to the log file. Nil means stderr.
	Console io.Writer
	Verbose bool
	Clock   ze.Clock
	// IDs names each run in the log file.
	IDs     ze.IDGenerator
	Getenv  func(string) string
	Environ func() []string
}

// ProjectOptions locates the application's metadata files.
type ProjectOptions struct {
	// PackagePath defaults to package.json in the working directory.
	PackagePath string
	// FederationPath is optional; without it only package.json
	// dependencies are resolved.
	FederationPath string
}

// DeployOptions describes one deploy.
type DeployOptions struct {
	ProjectOptions
	// Dir is the build output directory.
	Dir string
	// BuildStatsPath optionally names a JSON build stats file.
	BuildStatsPath string
	// OutPath, when set, receives the rewritten federation config.
	OutPath string
}

// DeployResult reports a finished deploy.
type DeployResult struct {
	HistoryID        int64
	Summary          *ze.BuildSummary
	Resolved         []ze.ResolvedRemoteDependency
	FederationConfig *ze.FederationConfig
}

// ZeApp is the application layer between the CLI and the build session.
// It constructs all dependencies from config, exposes the deploy
// operations, and manages the DB lifecycle on Close.
type ZeApp struct {
	cfg     *config.Config
	opts    Options
	db      *database.SQLiteDatabase
	session *ze.Session
	logger  *slog.Logger
	logFile *os.File
}

// NewZeApp creates a fully wired ZeApp from cfg. The caller must call Close.
func NewZeApp(ctx context.Context, cfg *config.Config, opts Options) (*ZeApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Console == nil {
		opts.Console = os.Stderr
	}
	if opts.Clock == nil {
		opts.Clock = ze.RealClock{}
	}
	if opts.IDs == nil {
		opts.IDs = ze.UUIDGenerator{}
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if opts.Environ == nil {
		opts.Environ = os.Environ
	}

	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger, logFile, err := newLogger(cfg.LogDir, opts.IDs.New(), opts.Console, level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	zlog := &slogAdapter{l: logger}

	tokens := credential.NewSourceFromConfig(cfg.Auth)
	client, err := edge.NewClient(edge.Config{
		APIURL:      cfg.Edge.APIURL,
		Timeout:     time.Duration(cfg.Edge.TimeoutSeconds) * time.Second,
		MaxAttempts: cfg.Edge.MaxAttempts,
	}, tokens, opts.Clock, zlog)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating edge client: %w", err)
	}

	uploads, err := upload.NewRegistryFromConfig(ctx, cfg.Targets, client, zlog)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating upload targets: %w", err)
	}

	if cfg.Database.Type == "sqlite" {
		if err := os.MkdirAll(cfg.Database.DataDir, 0755); err != nil {
			logFile.Close()
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.UserUUID, opts.Clock.Now)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating database: %w", err)
	}

	prefix := cfg.Build.EnvPrefix
	if prefix == "" {
		prefix = ze.DefaultEnvPrefix
	}
	session := ze.NewSession(client, tokens, uploads, opts.Clock, ze.SessionOptions{
		CI:        cfg.Build.CI || project.IsCI(opts.Getenv),
		BasePath:  cfg.Build.BasePath,
		Platform:  cfg.Build.Platform,
		EnvVars:   ze.CollectEnvVars(opts.Environ(), prefix),
		Overrides: overridesFromConfig(cfg.Dependencies),
		NewLogger: sessionLoggerFactory(logger),
	})

	return &ZeApp{
		cfg:     cfg,
		opts:    opts,
		db:      db,
		session: session,
		logger:  logger,
		logFile: logFile,
	}, nil
}

func overridesFromConfig(deps map[string]config.DependencyConfig) map[string]ze.DependencyOverride {
	if len(deps) == 0 {
		return nil
	}
	out := make(map[string]ze.DependencyOverride, len(deps))
	for name, d := range deps {
		out[name] = ze.DependencyOverride{ApplicationUID: d.ApplicationUID, Version: d.Version}
	}
	return out
}

// Session exposes the build session, mainly for status reporting.
func (a *ZeApp) Session() *ze.Session {
	return a.session
}

// RepoMeta returns the configured repository metadata completed from
// the CI environment.
func (a *ZeApp) RepoMeta() ze.RepoMeta {
	r := a.cfg.Repository
	return project.FillFromEnv(ze.RepoMeta{
		Org:         r.Org,
		Project:     r.Project,
		Branch:      r.Branch,
		Commit:      r.Commit,
		AuthorName:  r.AuthorName,
		AuthorEmail: r.AuthorEmail,
	}, a.opts.Getenv)
}

func (a *ZeApp) loadProject(p ProjectOptions) (ze.PackageMeta, *ze.FederationConfig, error) {
	pkgPath := p.PackagePath
	if pkgPath == "" {
		pkgPath = "package.json"
	}
	pkg, err := project.ReadPackage(pkgPath)
	if err != nil {
		return ze.PackageMeta{}, nil, err
	}
	var mf *ze.FederationConfig
	if p.FederationPath != "" {
		if mf, err = project.ReadFederationConfig(p.FederationPath); err != nil {
			return ze.PackageMeta{}, nil, err
		}
	}
	return pkg, mf, nil
}

// Resolve starts a build for the project and resolves its remote
// dependencies without publishing anything.
func (a *ZeApp) Resolve(ctx context.Context, p ProjectOptions) ([]ze.ResolvedRemoteDependency, error) {
	pkg, mf, err := a.loadProject(p)
	if err != nil {
		return nil, err
	}
	if err := a.session.StartNewBuild(ctx, pkg, a.RepoMeta()); err != nil {
		return nil, err
	}
	return a.session.ResolveRemoteDependencies(ctx, project.DependencyRequests(pkg, mf))
}

// Deploy runs a whole build: it starts the build, resolves and rewrites
// remotes, collects the output directory, uploads what the edge is
// missing, and records the outcome in the build history.
func (a *ZeApp) Deploy(ctx context.Context, d DeployOptions) (*DeployResult, error) {
	pkg, mf, err := a.loadProject(d.ProjectOptions)
	if err != nil {
		return nil, err
	}
	ignore, err := fs.LoadIgnore(d.Dir, a.cfg.Build.Ignore)
	if err != nil {
		return nil, err
	}
	var stats json.RawMessage
	if d.BuildStatsPath != "" {
		if stats, err = os.ReadFile(d.BuildStatsPath); err != nil {
			return nil, fmt.Errorf("reading build stats: %w", err)
		}
		if !json.Valid(stats) {
			return nil, fmt.Errorf("build stats %s is not valid JSON", d.BuildStatsPath)
		}
	}

	if err := a.session.StartNewBuild(ctx, pkg, a.RepoMeta()); err != nil {
		return nil, err
	}

	op := NewBuildOperation(a.session.Identity().ApplicationUID(), a.cfg.Build.Platform)
	if err := a.persistOperation(ctx, op); err != nil {
		return nil, err
	}

	result, err := a.deploy(ctx, d, pkg, mf, ignore, stats)
	if err != nil {
		op.Fail(err)
		if ferr := a.finishOperation(ctx, op, nil); ferr != nil {
			a.logger.Error("recording failed build", "error", ferr)
		}
		return nil, err
	}

	op.Succeed()
	if err := a.finishOperation(ctx, op, result.Summary); err != nil {
		return nil, err
	}
	result.HistoryID = op.ID
	return result, nil
}

func (a *ZeApp) deploy(ctx context.Context, d DeployOptions, pkg ze.PackageMeta, mf *ze.FederationConfig, ignore *fs.IgnoreMatcher, stats json.RawMessage) (*DeployResult, error) {
	resolved, err := a.session.ResolveRemoteDependencies(ctx, project.DependencyRequests(pkg, mf))
	if err != nil {
		return nil, err
	}

	var rewritten *ze.FederationConfig
	if mf != nil {
		rewritten = a.session.RewriteFederationConfig(ctx, mf)
		if d.OutPath != "" {
			if err := project.WriteFederationConfig(d.OutPath, rewritten); err != nil {
				return nil, err
			}
		}
	}

	assets, err := fs.Collect(d.Dir, ignore)
	if err != nil {
		return nil, fmt.Errorf("collecting assets: %w", err)
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("no assets found in %s", d.Dir)
	}

	err = a.session.UploadAssets(ctx, ze.UploadInput{
		Assets:     assets,
		BuildStats: stats,
		MFConfig:   rewritten,
	})
	if err != nil {
		return nil, err
	}

	summary, err := a.session.BuildFinished(ctx)
	if err != nil {
		return nil, err
	}
	return &DeployResult{
		Summary:          summary,
		Resolved:         resolved,
		FederationConfig: rewritten,
	}, nil
}

// persistOperation saves the build operation, giving it its row id.
func (a *ZeApp) persistOperation(ctx context.Context, op *BuildOperation) error {
	if op.Persisted() {
		return nil
	}
	id, err := a.db.StartBuild(ctx, op.ApplicationUID, op.Platform)
	if err != nil {
		return fmt.Errorf("persisting build operation: %w", err)
	}
	op.ID = id
	return nil
}

func (a *ZeApp) finishOperation(ctx context.Context, op *BuildOperation, summary *ze.BuildSummary) error {
	res := database.BuildResult{Status: op.Status, Error: op.ErrorText()}
	if rec, ok := a.session.CurrentBuild(); ok {
		res.BuildID = rec.BuildID
		res.SnapshotID = rec.SnapshotID
	}
	if summary != nil {
		res.BuildID = summary.BuildID
		res.SnapshotID = summary.SnapshotID
		res.Version = summary.Version
		res.VersionURL = summary.VersionURL
		res.AssetCount = summary.AssetCount
		res.UploadedCount = summary.UploadedCount
		if summary.Snapshot != nil {
			data, err := json.Marshal(summary.Snapshot)
			if err != nil {
				return fmt.Errorf("encoding snapshot: %w", err)
			}
			res.Snapshot = data
		}
	}
	if err := a.db.FinishBuild(ctx, op.ID, res); err != nil {
		return fmt.Errorf("finishing build operation: %w", err)
	}
	return nil
}

// History returns the most recent builds, newest first.
func (a *ZeApp) History(ctx context.Context, limit int) ([]*database.Build, error) {
	return a.db.ListBuilds(ctx, limit)
}

// HistoryBuild returns one recorded build and its snapshot descriptor.
// The snapshot is nil for builds that never published.
func (a *ZeApp) HistoryBuild(ctx context.Context, id int64) (*database.Build, *ze.Snapshot, error) {
	b, err := a.db.GetBuild(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if b == nil {
		return nil, nil, fmt.Errorf("no build with id %d", id)
	}
	data, err := a.db.BuildSnapshot(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if data == nil {
		return b, nil, nil
	}
	var snap ze.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return b, &snap, nil
}

// BackupHistory copies the build history database to destPath.
func (a *ZeApp) BackupHistory(destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}
	return a.db.BackupTo(destPath)
}

// Close closes the database and the log file.
func (a *ZeApp) Close() error {
	var firstErr error
	if err := a.db.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log file: %w", err)
		}
	}
	return firstErr
}
