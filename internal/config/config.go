package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultAPIURL is the edge API used when the config names none.
const DefaultAPIURL = "https://zeapi.zephyr-cloud.io"

// Config represents the main configuration for zd.
type Config struct {
	UserUUID     string                      `toml:"user_uuid"`
	BaseDir      string                      `toml:"base_dir"`
	LogDir       string                      `toml:"log_dir"`
	Edge         EdgeConfig                  `toml:"edge"`
	Auth         AuthConfig                  `toml:"auth"`
	Repository   RepositoryConfig            `toml:"repository"`
	Build        BuildConfig                 `toml:"build"`
	Dependencies map[string]DependencyConfig `toml:"dependencies,omitempty"`
	Targets      []TargetConfig              `toml:"targets"`
	Database     DatabaseConfig              `toml:"database"`
}

// EdgeConfig locates the edge API.
type EdgeConfig struct {
	APIURL         string `toml:"api_url"`
	TimeoutSeconds int    `toml:"timeout_seconds,omitempty"`
	MaxAttempts    int    `toml:"max_attempts,omitempty"`
}

// AuthConfig says where the API token comes from. TokenEnv takes
// precedence over the encrypted token file.
type AuthConfig struct {
	TokenEnv     string `toml:"token_env"`
	TokenPath    string `toml:"token_path"`
	IdentityPath string `toml:"identity_path"`
}

// RepositoryConfig supplies version-control metadata. Empty fields are
// filled from the environment at deploy time.
type RepositoryConfig struct {
	Org         string `toml:"org"`
	Project     string `toml:"project"`
	Branch      string `toml:"branch,omitempty"`
	Commit      string `toml:"commit,omitempty"`
	AuthorName  string `toml:"author_name,omitempty"`
	AuthorEmail string `toml:"author_email,omitempty"`
}

// BuildConfig holds build-related settings.
type BuildConfig struct {
	BasePath  string   `toml:"base_path,omitempty"`
	Platform  string   `toml:"platform,omitempty"` // build target used for resolution, e.g. "ios"
	CI        bool     `toml:"ci"`
	EnvPrefix string   `toml:"env_prefix,omitempty"`
	Ignore    []string `toml:"ignore"`
}

// DependencyConfig overrides how one declared dependency resolves.
type DependencyConfig struct {
	ApplicationUID string `toml:"application_uid,omitempty"`
	Version        string `toml:"version,omitempty"`
}

// TargetConfig represents an upload strategy.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type TargetConfig struct {
	Type string `toml:"type"` // "edge", "s3", "filesystem" or "memory"
	Name string `toml:"name"`
	// Platform is the application platform tag this target serves. An
	// empty platform marks the default target.
	Platform string `toml:"platform,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// PublicURL prefixes version URLs for the s3 and filesystem types.
	PublicURL string `toml:"public_url,omitempty"`
}

// DatabaseConfig represents configuration for the build history database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(userUUID, baseDir string) *Config {
	return &Config{
		UserUUID: userUUID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		Edge:     EdgeConfig{APIURL: DefaultAPIURL},
		Auth: AuthConfig{
			TokenEnv:     "ZE_SECRET_TOKEN",
			TokenPath:    filepath.Join(baseDir, "keys", "token.age"),
			IdentityPath: filepath.Join(baseDir, "keys", "zd.key"),
		},
		Build: BuildConfig{
			EnvPrefix: "ZE_PUBLIC_",
			Ignore:    []string{".DS_Store", "*.map"},
		},
		Targets: []TargetConfig{
			{Type: "edge", Name: "default"},
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
	}
}

// Validate checks the fields each tagged union variant requires.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for i, t := range c.Targets {
		switch t.Type {
		case "edge", "memory":
		case "s3":
			if t.S3Bucket == "" {
				return fmt.Errorf("targets[%d]: s3 target requires s3_bucket", i)
			}
		case "filesystem":
			if t.FSRoot == "" {
				return fmt.Errorf("targets[%d]: filesystem target requires fs_root", i)
			}
		default:
			return fmt.Errorf("targets[%d]: unknown target type: %q", i, t.Type)
		}
		if seen[t.Platform] {
			return fmt.Errorf("targets[%d]: duplicate target for platform %q", i, t.Platform)
		}
		seen[t.Platform] = true
	}
	switch c.Database.Type {
	case "", "memory":
	case "sqlite":
		if c.Database.DataDir == "" {
			return fmt.Errorf("sqlite database requires data_dir to be set")
		}
	default:
		return fmt.Errorf("unknown database type: %q", c.Database.Type)
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Edge.APIURL == "" {
		cfg.Edge.APIURL = DefaultAPIURL
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may carry S3 secrets.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
