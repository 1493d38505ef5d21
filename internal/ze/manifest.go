package ze

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	// ManifestSchemaVersion is the schema version written into manifests.
	ManifestSchemaVersion = "1.0.0"

	// ManifestFilename is the asset path of the manifest. It also salts
	// the manifest hash so a content-identical asset never collides.
	ManifestFilename = "zephyr-manifest.json"

	// DefaultEnvPrefix selects the environment variables published in a
	// manifest's zeVars.
	DefaultEnvPrefix = "ZE_PUBLIC_"
)

// ManifestDependency is the manifest view of a resolved dependency.
type ManifestDependency struct {
	Name           string `json:"name"`
	ApplicationUID string `json:"application_uid"`
	RemoteEntryURL string `json:"remote_entry_url"`
	DefaultURL     string `json:"default_url"`
	Version        string `json:"version"`
	LibraryType    string `json:"library_type"`
	Platform       string `json:"platform,omitempty"`
}

// Manifest describes an application's resolved dependencies and public
// environment variables.
type Manifest struct {
	Version      string                        `json:"version"`
	Timestamp    string                        `json:"timestamp"`
	Dependencies map[string]ManifestDependency `json:"dependencies"`
	ZeVars       map[string]string             `json:"zeVars"`
}

// BuildManifest renders the manifest as canonical JSON and returns it with
// its asset record. Identical inputs yield identical content apart from the
// timestamp.
func BuildManifest(deps []ResolvedRemoteDependency, envVars map[string]string, now time.Time) (string, *AssetRecord, error) {
	m := Manifest{
		Version:      ManifestSchemaVersion,
		Timestamp:    now.UTC().Format("2006-01-02T15:04:05.000Z"),
		Dependencies: make(map[string]ManifestDependency, len(deps)),
		ZeVars:       make(map[string]string, len(envVars)),
	}
	for _, d := range deps {
		m.Dependencies[d.Name] = ManifestDependency{
			Name:           d.Name,
			ApplicationUID: d.ApplicationUID,
			RemoteEntryURL: d.RemoteEntryURL,
			DefaultURL:     d.DefaultURL,
			Version:        d.Version,
			LibraryType:    d.LibraryType,
			Platform:       d.Platform,
		}
	}
	for k, v := range envVars {
		m.ZeVars[k] = v
	}

	data, err := json.Marshal(m)
	if err != nil {
		return "", nil, fmt.Errorf("encoding manifest: %w", err)
	}
	content := string(data)

	return content, &AssetRecord{
		Path:    ManifestFilename,
		Hash:    HashContent([]byte(content + ManifestFilename)),
		Extname: ".json",
		Size:    int64(len(data)),
		Buffer:  data,
	}, nil
}

// CollectEnvVars picks the entries of environ ("KEY=value") whose key
// starts with prefix.
func CollectEnvVars(environ []string, prefix string) map[string]string {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	vars := make(map[string]string)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		vars[key] = value
	}
	return vars
}

// sortedDependencyNames returns the names of deps in lexical order.
func sortedDependencyNames(deps []ResolvedRemoteDependency) []string {
	names := make([]string, 0, len(deps))
	for _, d := range deps {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}
