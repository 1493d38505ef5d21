package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/config"
	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/database"
	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/project"
	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/testutil"
	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/ze"
)

const testToken = "secret-token"

type appFixture struct {
	server *testutil.EdgeServer
	cfg    *config.Config
	dir    string
	app    *ZeApp
}

// newAppFixture wires a ZeApp against an httptest edge that knows
// host.shop.acme (build id 7 for user u-1) and a deployed cart remote.
func newAppFixture(t *testing.T, registerHost bool) *appFixture {
	t.Helper()

	fake := testutil.NewFakeEdge()
	if registerHost {
		fake.AddApplication("host.shop.acme", ze.ApplicationConfig{
			UserUUID: "u-1",
			Username: "jane",
			Email:    "jane@acme.test",
			EdgeURL:  "https://edge.test",
		}, "7")
	}
	fake.Deploy("cart.shop.acme", "*", ze.ResolvedRemoteDependency{
		Name:           "cart",
		ApplicationUID: "cart.shop.acme",
		Version:        "*",
		DefaultURL:     "https://cart.edge.test",
		RemoteEntryURL: "https://cart.edge.test/remoteEntry.js",
		LibraryType:    "module",
	})
	server := testutil.NewEdgeServer(t, fake, testToken)

	dir := t.TempDir()
	cfg := config.NewConfig("u-1", filepath.Join(dir, "home"))
	cfg.Edge.APIURL = server.URL
	cfg.Database.Type = "memory"
	cfg.Repository = config.RepositoryConfig{Org: "acme", Project: "shop", Branch: "main", Commit: "abc123"}
	t.Setenv(cfg.Auth.TokenEnv, testToken)

	writeFile(t, filepath.Join(dir, "package.json"), `{"name": "host", "version": "1.0.0"}`)
	writeFile(t, filepath.Join(dir, "mf.json"), `{"name": "host", "remotes": {"cart": "cart@*"}}`)
	writeFile(t, filepath.Join(dir, "dist", "index.html"), "<html></html>")
	writeFile(t, filepath.Join(dir, "dist", "main.js"), "import('cart/Cart')")
	writeFile(t, filepath.Join(dir, "dist", "main.js.map"), "{}")

	env := map[string]string{}
	a, err := NewZeApp(context.Background(), cfg, Options{
		Console: io.Discard,
		Clock:   testutil.FixedClock(),
		IDs:     testutil.NewStubIDGenerator(),
		Getenv:  func(k string) string { return env[k] },
		Environ: func() []string { return []string{"ZE_PUBLIC_API_URL=https://api.acme.test", "HOME=/root"} },
	})
	if err != nil {
		t.Fatalf("NewZeApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })

	return &appFixture{server: server, cfg: cfg, dir: dir, app: a}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func (f *appFixture) deployOptions() DeployOptions {
	return DeployOptions{
		ProjectOptions: ProjectOptions{
			PackagePath:    filepath.Join(f.dir, "package.json"),
			FederationPath: filepath.Join(f.dir, "mf.json"),
		},
		Dir:     filepath.Join(f.dir, "dist"),
		OutPath: filepath.Join(f.dir, "mf.resolved.json"),
	}
}

func TestZeApp_Deploy(t *testing.T) {
	ctx := context.Background()
	f := newAppFixture(t, true)

	result, err := f.app.Deploy(ctx, f.deployOptions())
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}

	s := result.Summary
	if s.SnapshotID != "jane_7.host.shop.acme" {
		t.Errorf("SnapshotID = %q", s.SnapshotID)
	}
	if s.Version != "1.0.0-jane.7" {
		t.Errorf("Version = %q", s.Version)
	}
	if s.VersionURL != "https://jane-7.host.shop.acme.edge.test" {
		t.Errorf("VersionURL = %q", s.VersionURL)
	}
	// index.html, main.js and the manifest; the source map is ignored.
	if s.UploadedCount != 3 || f.server.Files() != 3 {
		t.Errorf("UploadedCount = %d, server files = %d, want 3", s.UploadedCount, f.server.Files())
	}
	if len(result.Resolved) != 1 || result.Resolved[0].ApplicationUID != "cart.shop.acme" {
		t.Errorf("Resolved = %+v", result.Resolved)
	}

	out, err := project.ReadFederationConfig(filepath.Join(f.dir, "mf.resolved.json"))
	if err != nil {
		t.Fatalf("reading rewritten config: %v", err)
	}
	if loader := out.Remotes["cart"].Loader; loader == nil || loader.Kind != ze.LoaderImport {
		t.Errorf("cart remote = %+v, want import loader", out.Remotes["cart"])
	}

	snaps := f.server.Snapshots()
	if len(snaps) != 1 {
		t.Fatalf("server received %d snapshots, want 1", len(snaps))
	}
	if _, ok := snaps[0].Assets["main.js.map"]; ok {
		t.Error("ignored source map is listed in the snapshot")
	}

	b, snap, err := f.app.HistoryBuild(ctx, result.HistoryID)
	if err != nil {
		t.Fatalf("HistoryBuild() error = %v", err)
	}
	if b.Status != database.StatusFinished || b.VersionURL != s.VersionURL || b.UploadedCount != 3 {
		t.Errorf("history build = %+v", b)
	}
	if snap == nil || snap.SnapshotID != s.SnapshotID {
		t.Errorf("history snapshot = %+v", snap)
	}

	log, err := os.ReadFile(filepath.Join(f.cfg.LogDir, LogFilename))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(log), "\tid-1\tbuild finished\t") {
		t.Errorf("log file missing build summary line:\n%s", log)
	}
	if !strings.Contains(string(log), "application_uid=host.shop.acme") {
		t.Errorf("log file missing application_uid attr:\n%s", log)
	}
}

func TestZeApp_DeployTwiceSkipsKnownAssets(t *testing.T) {
	ctx := context.Background()
	f := newAppFixture(t, true)

	if _, err := f.app.Deploy(ctx, f.deployOptions()); err != nil {
		t.Fatalf("first Deploy() error = %v", err)
	}
	second, err := f.app.Deploy(ctx, f.deployOptions())
	if err != nil {
		t.Fatalf("second Deploy() error = %v", err)
	}
	if second.Summary.UploadedCount != 0 {
		t.Errorf("second UploadedCount = %d, want 0", second.Summary.UploadedCount)
	}

	builds, err := f.app.History(ctx, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(builds) != 2 {
		t.Errorf("History() returned %d builds, want 2", len(builds))
	}
}

func TestZeApp_DeployRecordsFailure(t *testing.T) {
	ctx := context.Background()
	f := newAppFixture(t, false)

	_, err := f.app.Deploy(ctx, f.deployOptions())
	if err == nil {
		t.Fatal("Deploy() expected error for unknown application")
	}
	if f.app.Session().State() != ze.StateErrored {
		t.Errorf("State() = %s, want errored", f.app.Session().State())
	}

	builds, err := f.app.History(ctx, 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(builds) != 1 {
		t.Fatalf("History() returned %d builds, want 1", len(builds))
	}
	if builds[0].Status != database.StatusFailed || builds[0].Error == "" {
		t.Errorf("failed build = %+v", builds[0])
	}
	if f.server.Files() != 0 {
		t.Errorf("server received %d files after failure", f.server.Files())
	}
}

func TestZeApp_DeployInputErrors(t *testing.T) {
	ctx := context.Background()
	f := newAppFixture(t, true)

	t.Run("missing package.json", func(t *testing.T) {
		opts := f.deployOptions()
		opts.PackagePath = filepath.Join(f.dir, "none.json")
		if _, err := f.app.Deploy(ctx, opts); err == nil {
			t.Error("Deploy() expected error")
		}
	})

	t.Run("invalid build stats", func(t *testing.T) {
		opts := f.deployOptions()
		opts.BuildStatsPath = filepath.Join(f.dir, "stats.json")
		writeFile(t, opts.BuildStatsPath, "not json")
		_, err := f.app.Deploy(ctx, opts)
		if err == nil || !strings.Contains(err.Error(), "not valid JSON") {
			t.Errorf("Deploy() error = %v, want invalid JSON error", err)
		}
	})

	if builds, _ := f.app.History(ctx, 0); len(builds) != 0 {
		t.Errorf("input errors recorded %d builds, want 0", len(builds))
	}
}

func TestZeApp_Resolve(t *testing.T) {
	f := newAppFixture(t, true)

	deps, err := f.app.Resolve(context.Background(), ProjectOptions{
		PackagePath:    filepath.Join(f.dir, "package.json"),
		FederationPath: filepath.Join(f.dir, "mf.json"),
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(deps) != 1 || deps[0].RemoteEntryURL != "https://cart.edge.test/remoteEntry.js" {
		t.Errorf("Resolve() = %+v", deps)
	}
}

func TestZeApp_RepoMeta(t *testing.T) {
	f := newAppFixture(t, true)
	f.app.opts.Getenv = func(k string) string {
		if k == "GITHUB_ACTOR" {
			return "jane"
		}
		return ""
	}

	repo := f.app.RepoMeta()
	if repo.Org != "acme" || repo.Branch != "main" || repo.AuthorName != "jane" {
		t.Errorf("RepoMeta() = %+v", repo)
	}
}

func TestNewZeApp_InvalidConfig(t *testing.T) {
	cfg := config.NewConfig("u-1", t.TempDir())
	cfg.Targets = []config.TargetConfig{{Type: "ftp"}}

	if _, err := NewZeApp(context.Background(), cfg, Options{Console: io.Discard}); err == nil {
		t.Error("NewZeApp() expected error for invalid target")
	}
}
