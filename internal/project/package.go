// Package project reads the metadata of the application being deployed:
// package.json, the module federation config, and repository details
// from the CI environment.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/tidwall/jsonc"

	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/ze"
)

// packageJSON is the subset of package.json zd reads.
type packageJSON struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"zephyr:dependencies"`
}

// ParsePackage decodes package.json content. Comments and trailing
// commas are tolerated.
func ParsePackage(data []byte) (ze.PackageMeta, error) {
	var pkg packageJSON
	if err := json.Unmarshal(jsonc.ToJSON(data), &pkg); err != nil {
		return ze.PackageMeta{}, fmt.Errorf("parsing package.json: %w", err)
	}
	if pkg.Name == "" {
		return ze.PackageMeta{}, fmt.Errorf("package.json has no name")
	}
	if pkg.Version == "" {
		pkg.Version = "0.0.0"
	}
	return ze.PackageMeta{
		Name:         pkg.Name,
		Version:      pkg.Version,
		Dependencies: pkg.Dependencies,
	}, nil
}

// ReadPackage reads and parses a package.json file.
func ReadPackage(path string) (ze.PackageMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ze.PackageMeta{}, fmt.Errorf("reading %s: %w", path, err)
	}
	pkg, err := ParsePackage(data)
	if err != nil {
		return ze.PackageMeta{}, fmt.Errorf("%s: %w", path, err)
	}
	return pkg, nil
}

// DependencyRequests merges the remotes of mf with the dependencies
// declared in package.json. A name declared in both places uses the
// package.json version. The result is sorted by name.
func DependencyRequests(pkg ze.PackageMeta, mf *ze.FederationConfig) []ze.RemoteDependencyRequest {
	byName := make(map[string]string)
	for _, req := range mf.RemoteRequests() {
		byName[req.Name] = req.Version
	}
	for name, version := range pkg.Dependencies {
		if version == "" {
			version = ze.AnyVersion
		}
		byName[name] = version
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	reqs := make([]ze.RemoteDependencyRequest, 0, len(names))
	for _, name := range names {
		reqs = append(reqs, ze.RemoteDependencyRequest{Name: name, Version: byName[name]})
	}
	return reqs
}
