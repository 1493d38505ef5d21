package ze_test

import (
	"encoding/json"
	"testing"

	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/ze"
)

func TestParseLocator(t *testing.T) {
	tests := []struct {
		alias       string
		remote      ze.Remote
		wantName    string
		wantVersion string
	}{
		{"cart", ze.Remote{Locator: "cart"}, "cart", "*"},
		{"cart", ze.Remote{Locator: "cart@1.2.0"}, "cart", "1.2.0"},
		{"ui", ze.Remote{Locator: "@acme/ui@2.0.0"}, "@acme/ui", "2.0.0"},
		{"ui", ze.Remote{Locator: "@acme/ui"}, "@acme/ui", "*"},
		{"nav", ze.Remote{Raw: map[string]any{"external": "x"}}, "nav", "*"},
		{"cart", ze.Remote{Locator: "cart_app@http://localhost:3001/remoteEntry.js"}, "cart", "*"},
		{"cart", ze.Remote{Locator: "cart@/static/remoteEntry.js"}, "cart", "*"},
	}
	for _, tt := range tests {
		t.Run(tt.alias+"/"+tt.remote.Locator, func(t *testing.T) {
			name, version := ze.ParseLocator(tt.alias, tt.remote)
			if name != tt.wantName || version != tt.wantVersion {
				t.Errorf("ParseLocator() = %q, %q, want %q, %q", name, version, tt.wantName, tt.wantVersion)
			}
		})
	}
}

func TestRewriteRemotes(t *testing.T) {
	deps := []ze.ResolvedRemoteDependency{cartDeployment()}

	t.Run("replaces a matching remote with a loader", func(t *testing.T) {
		cfg := &ze.FederationConfig{
			Name:    "host",
			Remotes: map[string]ze.Remote{"cart": {Locator: "cart"}},
		}
		res := ze.RewriteRemotes(cfg, deps)

		r, ok := res.Config.Remotes["cart"]
		if !ok || r.Loader == nil {
			t.Fatalf("Remotes[cart] = %+v, want a loader", r)
		}
		if r.Loader.RemoteEntryURL != "https://cart.edge.test/remoteEntry.js" {
			t.Errorf("RemoteEntryURL = %q", r.Loader.RemoteEntryURL)
		}
		if r.Loader.Kind != ze.LoaderImport {
			t.Errorf("Kind = %q, want %q", r.Loader.Kind, ze.LoaderImport)
		}
		if len(res.Applied) != 1 || len(res.Skipped) != 0 {
			t.Errorf("Applied = %d, Skipped = %d, want 1, 0", len(res.Applied), len(res.Skipped))
		}
		if cfg.Remotes["cart"].Loader != nil {
			t.Error("RewriteRemotes() modified its input")
		}
	})

	t.Run("reinstalls an aliased remote under the dependency name", func(t *testing.T) {
		cfg := &ze.FederationConfig{Remotes: map[string]ze.Remote{"shopCart": {Locator: "cart"}}}
		res := ze.RewriteRemotes(cfg, deps)

		if _, ok := res.Config.Remotes["shopCart"]; ok {
			t.Error("alias shopCart still present after rewrite")
		}
		if r := res.Config.Remotes["cart"]; r.Loader == nil {
			t.Errorf("Remotes[cart] = %+v, want a loader", r)
		}
		if len(res.Applied) != 1 || res.Applied[0].Alias != "shopCart" {
			t.Errorf("Applied = %+v", res.Applied)
		}
	})

	t.Run("matches a remote located by application uid", func(t *testing.T) {
		cfg := &ze.FederationConfig{Remotes: map[string]ze.Remote{"cart": {Locator: "cart.shop.acme"}}}
		res := ze.RewriteRemotes(cfg, deps)
		if len(res.Applied) != 1 {
			t.Errorf("Applied = %+v, want one rewrite", res.Applied)
		}
	})

	t.Run("no dependencies skips every remote", func(t *testing.T) {
		cfg := &ze.FederationConfig{Remotes: map[string]ze.Remote{"cart": {Locator: "cart"}}}
		res := ze.RewriteRemotes(cfg, nil)
		if len(res.Applied) != 0 || len(res.Skipped) != 1 {
			t.Errorf("Applied = %d, Skipped = %d, want 0, 1", len(res.Applied), len(res.Skipped))
		}
	})

	t.Run("version mismatch leaves the remote unchanged", func(t *testing.T) {
		cfg := &ze.FederationConfig{Remotes: map[string]ze.Remote{"cart": {Locator: "cart@2.0.0"}}}
		res := ze.RewriteRemotes(cfg, deps)

		if res.Config.Remotes["cart"].Locator != "cart@2.0.0" {
			t.Errorf("Remotes[cart] = %+v, want untouched locator", res.Config.Remotes["cart"])
		}
		if len(res.Skipped) != 1 || res.Skipped[0].Version != "2.0.0" {
			t.Errorf("Skipped = %+v", res.Skipped)
		}
	})

	t.Run("nil config", func(t *testing.T) {
		res := ze.RewriteRemotes(nil, deps)
		if res.Config == nil {
			t.Fatal("RewriteRemotes(nil) returned nil config")
		}
	})
}

func TestFederationConfig_JSON(t *testing.T) {
	data := []byte(`{
		"name": "host",
		"remotes": {
			"cart": "cart@*",
			"nav": {"external": "nav@https://nav.test/remoteEntry.js"}
		}
	}`)

	var cfg ze.FederationConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if cfg.Remotes["cart"].Locator != "cart@*" {
		t.Errorf("Remotes[cart].Locator = %q", cfg.Remotes["cart"].Locator)
	}
	if cfg.Remotes["nav"].Raw == nil {
		t.Error("Remotes[nav] not kept as a raw object")
	}

	reqs := cfg.RemoteRequests()
	if len(reqs) != 2 || reqs[0].Name != "cart" || reqs[1].Name != "nav" {
		t.Errorf("RemoteRequests() = %+v", reqs)
	}

	rewritten := ze.RewriteRemotes(&cfg, []ze.ResolvedRemoteDependency{cartDeployment()}).Config
	out, err := json.Marshal(rewritten)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var back ze.FederationConfig
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back.Remotes["cart"].Loader == nil {
		t.Error("loader did not survive encoding")
	}
	if len(back.RemoteRequests()) != 1 {
		t.Errorf("RemoteRequests() after rewrite = %+v, want only nav", back.RemoteRequests())
	}
}

func TestFederationConfig_KeepsUnknownKeys(t *testing.T) {
	data := []byte(`{
		"name": "host",
		"remotes": {"cart": "cart@*"},
		"runtimePlugins": ["./plugin.js"],
		"shareScope": "default",
		"dts": {"generateTypes": false}
	}`)

	var cfg ze.FederationConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(cfg.Extra) != 3 {
		t.Fatalf("Extra = %v, want 3 keys", cfg.Extra)
	}
	if _, ok := cfg.Extra["remotes"]; ok {
		t.Error("Extra holds a known key")
	}

	res := ze.RewriteRemotes(&cfg, []ze.ResolvedRemoteDependency{cartDeployment()})
	res.Config.Extra["shareScope"] = json.RawMessage(`"changed"`)
	if string(cfg.Extra["shareScope"]) != `"default"` {
		t.Errorf("RewriteRemotes() shares Extra with its input")
	}
	res.Config.Extra["shareScope"] = cfg.Extra["shareScope"]

	out, err := json.Marshal(res.Config)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var back map[string]json.RawMessage
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for key, want := range map[string]string{
		"runtimePlugins": `["./plugin.js"]`,
		"shareScope":     `"default"`,
		"dts":            `{"generateTypes":false}`,
		"name":           `"host"`,
	} {
		if got := string(back[key]); got != want {
			t.Errorf("%s = %s, want %s", key, got, want)
		}
	}

	var again ze.FederationConfig
	if err := json.Unmarshal(out, &again); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if again.Remotes["cart"].Loader == nil {
		t.Error("rewritten remote lost with extra keys present")
	}
}
