package ze_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/testutil"
	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/ze"
)

const hostUID = "host.shop.acme"

type sessionFixture struct {
	edge     *testutil.FakeEdge
	tokens   *testutil.StaticTokenSource
	uploader *testutil.RecordingUploader
	clock    *testutil.StubClock
	session  *ze.Session
}

func newSessionFixture(t *testing.T, opts ze.SessionOptions) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		edge:     testutil.NewFakeEdge(),
		tokens:   testutil.NewStaticTokenSource("token"),
		uploader: testutil.NewRecordingUploader(),
		clock:    testutil.FixedClock(),
	}
	f.edge.AddApplication(hostUID, ze.ApplicationConfig{
		UserUUID: "u-1",
		Username: "jane",
		Email:    "jane@acme.test",
		Platform: "cloudflare",
		EdgeURL:  "https://edge.test",
	}, "7")
	f.edge.Deploy("cart.shop.acme", "*", cartDeployment())
	f.session = ze.NewSession(f.edge, f.tokens, f.uploader, f.clock, opts)
	return f
}

var (
	hostPackage = ze.PackageMeta{Name: "host", Version: "1.0.0"}
	hostRepo    = ze.RepoMeta{Org: "acme", Project: "shop", Branch: "main", Commit: "abc123"}
)

func hostAssets() ze.AssetMap {
	m := ze.AssetMap{}
	m.Add("index.html", []byte("<html></html>"))
	m.Add("main.js", []byte("import('cart/Cart')"))
	return m
}

func TestSession_FullBuild(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t, ze.SessionOptions{})
	s := f.session

	if err := s.StartNewBuild(ctx, hostPackage, hostRepo); err != nil {
		t.Fatalf("StartNewBuild() error = %v", err)
	}
	if s.State() != ze.StateBuildStarted {
		t.Errorf("State() = %q, want %q", s.State(), ze.StateBuildStarted)
	}

	mf := &ze.FederationConfig{
		Name:    "host",
		Remotes: map[string]ze.Remote{"cart": {Locator: "cart"}},
	}
	resolved, err := s.ResolveRemoteDependencies(ctx, mf.RemoteRequests())
	if err != nil {
		t.Fatalf("ResolveRemoteDependencies() error = %v", err)
	}
	if len(resolved) != 1 {
		t.Fatalf("resolved %d dependencies, want 1", len(resolved))
	}

	rewritten := s.RewriteFederationConfig(ctx, mf)
	if rewritten.Remotes["cart"].Loader == nil {
		t.Fatal("cart remote was not rewritten")
	}
	if rewritten.Remotes["cart"].Loader.RemoteEntryURL != cartDeployment().RemoteEntryURL {
		t.Errorf("RemoteEntryURL = %q", rewritten.Remotes["cart"].Loader.RemoteEntryURL)
	}

	err = s.UploadAssets(ctx, ze.UploadInput{Assets: hostAssets(), MFConfig: rewritten})
	if err != nil {
		t.Fatalf("UploadAssets() error = %v", err)
	}

	req, ok := f.uploader.Last()
	if !ok {
		t.Fatal("no upload recorded")
	}
	if req.Snapshot.SnapshotID != "jane_7.host.shop.acme" {
		t.Errorf("SnapshotID = %q", req.Snapshot.SnapshotID)
	}
	if req.Snapshot.Version != "1.0.0-jane.7" {
		t.Errorf("Version = %q", req.Snapshot.Version)
	}
	if len(req.Assets) != 3 {
		t.Errorf("uploaded %d assets, want 3 including the manifest", len(req.Assets))
	}
	if req.Snapshot.ManifestRef == nil || req.Snapshot.ManifestRef.Dependencies[0] != "cart" {
		t.Errorf("ManifestRef = %+v", req.Snapshot.ManifestRef)
	}

	var manifest ze.Manifest
	for _, a := range req.Assets {
		if a.Path == ze.ManifestFilename {
			if err := json.Unmarshal(a.Buffer, &manifest); err != nil {
				t.Fatalf("manifest is not JSON: %v", err)
			}
		}
	}
	if manifest.Dependencies["cart"].RemoteEntryURL != cartDeployment().RemoteEntryURL {
		t.Errorf("manifest dependencies = %+v", manifest.Dependencies)
	}

	summary, err := s.BuildFinished(ctx)
	if err != nil {
		t.Fatalf("BuildFinished() error = %v", err)
	}
	if summary.VersionURL != "https://jane_7.host.shop.acme.edge.test" {
		t.Errorf("VersionURL = %q", summary.VersionURL)
	}
	if summary.UploadedCount != 3 || summary.AssetCount != 3 {
		t.Errorf("UploadedCount/AssetCount = %d/%d, want 3/3", summary.UploadedCount, summary.AssetCount)
	}
	if s.State() != ze.StateFinished {
		t.Errorf("State() = %q, want %q", s.State(), ze.StateFinished)
	}
	if _, ok := s.CurrentBuild(); ok {
		t.Error("CurrentBuild() still set after BuildFinished")
	}
}

func TestSession_SecondBuild(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t, ze.SessionOptions{})
	s := f.session

	build := func(buildID string) ze.UploadRequest {
		t.Helper()
		f.edge.SetBuildID(hostUID, "u-1", buildID)
		if err := s.StartNewBuild(ctx, hostPackage, hostRepo); err != nil {
			t.Fatalf("StartNewBuild() error = %v", err)
		}
		if err := s.UploadAssets(ctx, ze.UploadInput{Assets: hostAssets()}); err != nil {
			t.Fatalf("UploadAssets() error = %v", err)
		}
		if _, err := s.BuildFinished(ctx); err != nil {
			t.Fatalf("BuildFinished() error = %v", err)
		}
		req, _ := f.uploader.Last()
		return req
	}

	first := build("7")
	second := build("8")

	if len(first.Assets) != 2 {
		t.Errorf("first build uploaded %d assets, want 2", len(first.Assets))
	}
	if len(second.Assets) != 0 {
		t.Errorf("second build uploaded %d assets, want 0", len(second.Assets))
	}
	if second.Snapshot.SnapshotID != "jane_8.host.shop.acme" {
		t.Errorf("second SnapshotID = %q", second.Snapshot.SnapshotID)
	}
	if len(second.Snapshot.Assets) != 2 {
		t.Errorf("second snapshot lists %d assets, want 2", len(second.Snapshot.Assets))
	}
}

func TestSession_SecondBuildDropsPreviousDependencies(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t, ze.SessionOptions{})
	s := f.session

	mf := &ze.FederationConfig{
		Name:    "host",
		Remotes: map[string]ze.Remote{"cart": {Locator: "cart"}},
	}
	if err := s.StartNewBuild(ctx, hostPackage, hostRepo); err != nil {
		t.Fatalf("StartNewBuild() error = %v", err)
	}
	if _, err := s.ResolveRemoteDependencies(ctx, mf.RemoteRequests()); err != nil {
		t.Fatalf("ResolveRemoteDependencies() error = %v", err)
	}
	if err := s.UploadAssets(ctx, ze.UploadInput{Assets: hostAssets()}); err != nil {
		t.Fatalf("UploadAssets() error = %v", err)
	}
	if _, err := s.BuildFinished(ctx); err != nil {
		t.Fatalf("BuildFinished() error = %v", err)
	}

	f.edge.SetBuildID(hostUID, "u-1", "8")
	if err := s.StartNewBuild(ctx, hostPackage, hostRepo); err != nil {
		t.Fatalf("StartNewBuild() error = %v", err)
	}
	if got := s.Resolved(); len(got) != 0 {
		t.Errorf("Resolved() = %v, want none for a new build", got)
	}
	if _, err := s.ResolveRemoteDependencies(ctx, nil); err != nil {
		t.Fatalf("ResolveRemoteDependencies() error = %v", err)
	}
	if err := s.UploadAssets(ctx, ze.UploadInput{Assets: hostAssets()}); err != nil {
		t.Fatalf("UploadAssets() error = %v", err)
	}
	summary, err := s.BuildFinished(ctx)
	if err != nil {
		t.Fatalf("BuildFinished() error = %v", err)
	}

	req, _ := f.uploader.Last()
	if req.Snapshot.ManifestRef != nil {
		t.Errorf("ManifestRef = %+v, want nil", req.Snapshot.ManifestRef)
	}
	for _, a := range req.Assets {
		if a.Path == ze.ManifestFilename {
			t.Error("manifest uploaded for a build without dependencies")
		}
	}
	if len(summary.Dependencies) != 0 {
		t.Errorf("summary Dependencies = %v, want none", summary.Dependencies)
	}
}

func TestSession_SkipsKnownHashes(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t, ze.SessionOptions{})
	assets := hostAssets()
	known := assets.FindByPath("index.html")
	f.edge.AddHashes(hostUID, known.Hash)

	f.session.StartNewBuild(ctx, hostPackage, hostRepo)
	if err := f.session.UploadAssets(ctx, ze.UploadInput{Assets: assets}); err != nil {
		t.Fatalf("UploadAssets() error = %v", err)
	}
	req, _ := f.uploader.Last()
	if len(req.Assets) != 1 || req.Assets[0].Path != "main.js" {
		t.Errorf("uploaded %v, want [main.js]", paths(req.Assets))
	}
}

func TestSession_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("upload before start is an ordering error", func(t *testing.T) {
		f := newSessionFixture(t, ze.SessionOptions{})
		err := f.session.UploadAssets(ctx, ze.UploadInput{Assets: hostAssets()})
		if !errors.Is(err, ze.ErrNoBuildID) {
			t.Fatalf("UploadAssets() error = %v, want ErrNoBuildID", err)
		}
		if ze.KindOf(err) != ze.KindOrdering {
			t.Errorf("KindOf() = %q", ze.KindOf(err))
		}
		if f.session.State() != ze.StateErrored {
			t.Errorf("State() = %q, want errored", f.session.State())
		}
	})

	t.Run("missing credential fails the start", func(t *testing.T) {
		f := newSessionFixture(t, ze.SessionOptions{})
		f.tokens.Err = errors.New("not logged in")
		err := f.session.StartNewBuild(ctx, hostPackage, hostRepo)
		if ze.KindOf(err) != ze.KindAuth {
			t.Fatalf("StartNewBuild() error = %v, want auth error", err)
		}
		if f.edge.Calls("build_id") != 0 {
			t.Error("build id fetched without a credential")
		}
	})

	t.Run("build id failure is fatal", func(t *testing.T) {
		f := newSessionFixture(t, ze.SessionOptions{})
		f.edge.Fail("build_id", hostUID, &ze.TransportError{Status: 500, Method: "GET", URL: "/build-id"})

		if err := f.session.StartNewBuild(ctx, hostPackage, hostRepo); err != nil {
			t.Fatalf("StartNewBuild() error = %v", err)
		}
		err := f.session.UploadAssets(ctx, ze.UploadInput{Assets: hostAssets()})
		if ze.KindOf(err) != ze.KindTransport {
			t.Fatalf("UploadAssets() error = %v, want transport error", err)
		}
		if f.session.State() != ze.StateErrored {
			t.Errorf("State() = %q, want errored", f.session.State())
		}
		if len(f.uploader.Requests()) != 0 {
			t.Error("upload attempted without a build id")
		}
	})

	t.Run("application config failure is fatal", func(t *testing.T) {
		f := newSessionFixture(t, ze.SessionOptions{})
		f.edge.Fail("app_config", hostUID, &ze.TransportError{Status: 503, Method: "GET", URL: "/application-config"})

		if err := f.session.StartNewBuild(ctx, hostPackage, hostRepo); err != nil {
			t.Fatalf("StartNewBuild() error = %v", err)
		}
		err := f.session.UploadAssets(ctx, ze.UploadInput{Assets: hostAssets()})
		if ze.KindOf(err) != ze.KindTransport {
			t.Fatalf("UploadAssets() error = %v, want transport error", err)
		}
		if f.session.State() != ze.StateErrored {
			t.Errorf("State() = %q, want errored", f.session.State())
		}
		if len(f.uploader.Requests()) != 0 {
			t.Error("upload attempted without an application config")
		}
	})

	t.Run("hash set failure uploads everything", func(t *testing.T) {
		f := newSessionFixture(t, ze.SessionOptions{})
		f.edge.Fail("hash_set", hostUID, errors.New("timeout"))

		f.session.StartNewBuild(ctx, hostPackage, hostRepo)
		if err := f.session.UploadAssets(ctx, ze.UploadInput{Assets: hostAssets()}); err != nil {
			t.Fatalf("UploadAssets() error = %v", err)
		}
		req, _ := f.uploader.Last()
		if len(req.Assets) != 2 {
			t.Errorf("uploaded %d assets, want 2", len(req.Assets))
		}
	})

	t.Run("uploader failure is an upload error", func(t *testing.T) {
		f := newSessionFixture(t, ze.SessionOptions{})
		f.uploader.Err = errors.New("disk full")

		f.session.StartNewBuild(ctx, hostPackage, hostRepo)
		err := f.session.UploadAssets(ctx, ze.UploadInput{Assets: hostAssets()})
		if ze.KindOf(err) != ze.KindUpload {
			t.Fatalf("UploadAssets() error = %v, want upload error", err)
		}
		if _, err := f.session.BuildFinished(ctx); err == nil {
			t.Error("BuildFinished() expected error for an unpublished build")
		}
	})

	t.Run("invalid identity", func(t *testing.T) {
		f := newSessionFixture(t, ze.SessionOptions{})
		err := f.session.StartNewBuild(ctx, ze.PackageMeta{}, hostRepo)
		if ze.KindOf(err) != ze.KindConfig {
			t.Fatalf("StartNewBuild() error = %v, want config error", err)
		}
	})
}

func TestSession_ResolveRemoteDependencies(t *testing.T) {
	ctx := context.Background()

	t.Run("no requests resolves nothing", func(t *testing.T) {
		f := newSessionFixture(t, ze.SessionOptions{})
		f.session.StartNewBuild(ctx, hostPackage, hostRepo)
		got, err := f.session.ResolveRemoteDependencies(ctx, nil)
		if err != nil || got != nil {
			t.Errorf("ResolveRemoteDependencies(nil) = %v, %v", got, err)
		}
		if f.edge.Calls("resolve") != 0 {
			t.Error("resolve called for no requests")
		}
	})

	t.Run("overrides redirect a dependency", func(t *testing.T) {
		f := newSessionFixture(t, ze.SessionOptions{
			Overrides: map[string]ze.DependencyOverride{"basket": {ApplicationUID: "cart.shop.acme"}},
		})
		f.session.StartNewBuild(ctx, hostPackage, hostRepo)
		got, _ := f.session.ResolveRemoteDependencies(ctx, []ze.RemoteDependencyRequest{{Name: "basket"}})
		if len(got) != 1 || got[0].Name != "basket" || got[0].ApplicationUID != "cart.shop.acme" {
			t.Errorf("ResolveRemoteDependencies() = %+v", got)
		}
	})

	t.Run("requires a started build", func(t *testing.T) {
		f := newSessionFixture(t, ze.SessionOptions{})
		_, err := f.session.ResolveRemoteDependencies(ctx, []ze.RemoteDependencyRequest{{Name: "cart"}})
		if ze.KindOf(err) != ze.KindOrdering {
			t.Errorf("ResolveRemoteDependencies() error = %v, want ordering error", err)
		}
	})
}

func TestSession_Logger(t *testing.T) {
	ctx := context.Background()
	var created atomic.Int32
	f := newSessionFixture(t, ze.SessionOptions{
		NewLogger: func(cfg *ze.ApplicationConfig, uid string) ze.Logger {
			created.Add(1)
			if cfg.Username != "jane" || uid != hostUID {
				t.Errorf("NewLogger(%q, %q)", cfg.Username, uid)
			}
			return testutil.NewRecordingLogger()
		},
	})

	if _, err := f.session.Logger(ctx); ze.KindOf(err) != ze.KindOrdering {
		t.Fatalf("Logger() before start error = %v, want ordering error", err)
	}

	f.session.StartNewBuild(ctx, hostPackage, hostRepo)

	const n = 8
	loggers := make([]ze.Logger, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l, err := f.session.Logger(ctx)
			if err != nil {
				t.Errorf("Logger() error = %v", err)
			}
			loggers[i] = l
		}(i)
	}
	wg.Wait()

	if got := created.Load(); got != 1 {
		t.Errorf("logger created %d times, want 1", got)
	}
	for i := 1; i < n; i++ {
		if loggers[i] != loggers[0] {
			t.Fatalf("caller %d received a different logger", i)
		}
	}
}
