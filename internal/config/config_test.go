package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		UserUUID: "user-abc",
		BaseDir:  "/home/user/.local/share/zd",
		LogDir:   "/home/user/.local/share/zd/log",
		Edge:     EdgeConfig{APIURL: "https://edge.test", MaxAttempts: 5},
		Repository: RepositoryConfig{
			Org:     "acme",
			Project: "shop",
		},
		Build: BuildConfig{
			BasePath: "static",
			Platform: "ios",
			Ignore:   []string{"*.map", ".git"},
		},
		Dependencies: map[string]DependencyConfig{
			"cart": {ApplicationUID: "cart.payments.acme", Version: "2.0.0"},
		},
		Targets: []TargetConfig{
			{Type: "edge", Name: "default"},
			{Type: "s3", Name: "aws", Platform: "aws", S3Bucket: "builds", S3Region: "us-east-1"},
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: "/home/user/.local/share/zd/db"},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.UserUUID != original.UserUUID {
		t.Errorf("UserUUID = %q, want %q", got.UserUUID, original.UserUUID)
	}
	if got.Edge.APIURL != "https://edge.test" || got.Edge.MaxAttempts != 5 {
		t.Errorf("Edge = %+v", got.Edge)
	}
	if got.Repository.Project != "shop" {
		t.Errorf("Repository.Project = %q, want %q", got.Repository.Project, "shop")
	}
	if got.Build.Platform != "ios" {
		t.Errorf("Build.Platform = %q, want %q", got.Build.Platform, "ios")
	}
	if got.Dependencies["cart"].ApplicationUID != "cart.payments.acme" {
		t.Errorf("Dependencies[cart] = %+v", got.Dependencies["cart"])
	}
	if len(got.Targets) != 2 {
		t.Fatalf("len(Targets) = %d, want 2", len(got.Targets))
	}
	if got.Targets[1].S3Bucket != "builds" || got.Targets[1].Platform != "aws" {
		t.Errorf("Targets[1] = %+v", got.Targets[1])
	}
	if len(got.Build.Ignore) != 2 {
		t.Fatalf("len(Build.Ignore) = %d, want 2", len(got.Build.Ignore))
	}
}

func TestManager_Read_DefaultsAPIURL(t *testing.T) {
	m := &Manager{}
	cfg, err := m.Read(strings.NewReader(`user_uuid = "u"`))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if cfg.Edge.APIURL != DefaultAPIURL {
		t.Errorf("Edge.APIURL = %q, want %q", cfg.Edge.APIURL, DefaultAPIURL)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("user-1", "/data/zd")

	if cfg.UserUUID != "user-1" {
		t.Errorf("UserUUID = %q, want %q", cfg.UserUUID, "user-1")
	}
	if cfg.LogDir != "/data/zd/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/zd/log")
	}
	if cfg.Auth.TokenPath != "/data/zd/keys/token.age" {
		t.Errorf("Auth.TokenPath = %q", cfg.Auth.TokenPath)
	}
	if cfg.Auth.IdentityPath != "/data/zd/keys/zd.key" {
		t.Errorf("Auth.IdentityPath = %q", cfg.Auth.IdentityPath)
	}
	if len(cfg.Targets) != 1 || cfg.Targets[0].Type != "edge" {
		t.Errorf("Targets = %+v, want one edge target", cfg.Targets)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		targets []TargetConfig
		wantErr bool
	}{
		{"edge only", []TargetConfig{{Type: "edge"}}, false},
		{"s3 without bucket", []TargetConfig{{Type: "s3"}}, true},
		{"filesystem without root", []TargetConfig{{Type: "filesystem"}}, true},
		{"unknown type", []TargetConfig{{Type: "ftp"}}, true},
		{"duplicate default", []TargetConfig{{Type: "edge"}, {Type: "memory"}}, true},
		{"per platform", []TargetConfig{{Type: "edge"}, {Type: "filesystem", Platform: "local", FSRoot: "/tmp/x"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Targets: tt.targets}
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "zd.toml")
		cfg := NewConfig("u1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("config file not created: %v", err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("config mode = %v, want 0600", info.Mode().Perm())
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "zd.toml")
		cfg := NewConfig("u1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "zd.toml")
		cfg := NewConfig("read-test", dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.UserUUID != "read-test" {
			t.Errorf("UserUUID = %q, want %q", got.UserUUID, "read-test")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/zd.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
