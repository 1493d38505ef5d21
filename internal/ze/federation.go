package ze

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// FederationConfig is the module federation configuration of the
// application being built. Fields the orchestrator does not interpret
// are carried through unchanged.
type FederationConfig struct {
	Name     string                     `json:"name"`
	Filename string                     `json:"filename,omitempty"`
	Library  *LibraryConfig             `json:"library,omitempty"`
	Exposes  map[string]any             `json:"exposes,omitempty"`
	Remotes  map[string]Remote          `json:"remotes,omitempty"`
	Shared   map[string]any             `json:"shared,omitempty"`
	// Extra holds every other top-level key, verbatim.
	Extra    map[string]json.RawMessage `json:"-"`
}

// federationFields is FederationConfig without its JSON methods.
type federationFields FederationConfig

var federationKeys = []string{"name", "filename", "library", "exposes", "remotes", "shared"}

func (c *FederationConfig) UnmarshalJSON(data []byte) error {
	var fields federationFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range federationKeys {
		delete(all, k)
	}
	fields.Extra = nil
	if len(all) > 0 {
		fields.Extra = all
	}
	*c = FederationConfig(fields)
	return nil
}

func (c FederationConfig) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(federationFields(c))
	if err != nil || len(c.Extra) == 0 {
		return known, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(known, &all); err != nil {
		return nil, err
	}
	for k, v := range c.Extra {
		if _, ok := all[k]; !ok {
			all[k] = v
		}
	}
	return json.Marshal(all)
}

// LibraryConfig describes how the federated container is exposed.
type LibraryConfig struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// Remote is one entry of a federation config's remotes. It is a locator
// string ("cart@1.0.0"), an object the orchestrator does not interpret, or,
// after rewriting, a loader bound to a resolved location.
type Remote struct {
	Locator string
	Raw     map[string]any
	Loader  *RemoteLoader
}

// LoaderKind tells the host runtime how to evaluate a remote entry.
type LoaderKind string

const (
	// LoaderImport evaluates the remote entry with a dynamic import.
	LoaderImport LoaderKind = "import"
	// LoaderScript evaluates the remote entry as a classic script or require.
	LoaderScript LoaderKind = "script"
)

// RemoteLoader is the runtime loader for a resolved remote. The host
// runtime fetches RemoteEntryURL, evaluates it per Kind on success, and
// rejects the federation runtime's pending load with the fetch error on
// failure; errors are never swallowed.
type RemoteLoader struct {
	Kind           LoaderKind `json:"kind"`
	ApplicationUID string     `json:"application_uid"`
	Name           string     `json:"name"`
	RemoteEntryURL string     `json:"remote_entry_url"`
	DefaultURL     string     `json:"default_url"`
	LibraryType    string     `json:"library_type"`
}

// NewRemoteLoader binds a loader to a resolved dependency.
func NewRemoteLoader(dep ResolvedRemoteDependency) *RemoteLoader {
	kind := LoaderScript
	if dep.LibraryType == "module" {
		kind = LoaderImport
	}
	return &RemoteLoader{
		Kind:           kind,
		ApplicationUID: dep.ApplicationUID,
		Name:           dep.Name,
		RemoteEntryURL: dep.RemoteEntryURL,
		DefaultURL:     dep.DefaultURL,
		LibraryType:    dep.LibraryType,
	}
}

func (r Remote) MarshalJSON() ([]byte, error) {
	switch {
	case r.Loader != nil:
		return json.Marshal(r.Loader)
	case r.Raw != nil:
		return json.Marshal(r.Raw)
	default:
		return json.Marshal(r.Locator)
	}
}

func (r *Remote) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		*r = Remote{}
		return json.Unmarshal(data, &r.Locator)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("remote must be a string or an object: %w", err)
	}
	if _, ok := raw["remote_entry_url"]; ok {
		if _, ok := raw["kind"]; ok {
			var loader RemoteLoader
			if err := json.Unmarshal(data, &loader); err != nil {
				return err
			}
			*r = Remote{Loader: &loader}
			return nil
		}
	}
	*r = Remote{Raw: raw}
	return nil
}

// ParseLocator returns the canonical application name and version a
// remote refers to. A remote that is not a plain string is located by its
// alias, as is a "name@url" locator. Pinning syntax ("name@version") is
// stripped from the name; a locator without it requests AnyVersion.
func ParseLocator(alias string, r Remote) (name, version string) {
	locator := r.Locator
	if locator == "" || r.Raw != nil || r.Loader != nil {
		locator = alias
	}
	// A leading '@' belongs to a scoped package name, not to the pin.
	if i := strings.LastIndex(locator, "@"); i > 0 {
		pin := locator[i+1:]
		if strings.Contains(pin, "://") || strings.HasPrefix(pin, "/") {
			return alias, AnyVersion
		}
		return locator[:i], pin
	}
	return locator, AnyVersion
}

// AppliedRewrite records one remote replaced by a loader.
type AppliedRewrite struct {
	Alias          string
	Name           string
	ApplicationUID string
	RemoteEntryURL string
}

// SkippedRemote records a remote left untouched and why.
type SkippedRemote struct {
	Alias   string
	Name    string
	Version string
}

// RewriteResult is the outcome of RewriteRemotes.
type RewriteResult struct {
	Config  *FederationConfig
	Applied []AppliedRewrite
	Skipped []SkippedRemote
}

// RewriteRemotes returns a copy of cfg in which every remote matching a
// resolved dependency by name (or uid) and version is replaced, under the
// dependency's name, with a loader bound to its location. A name match
// with a different version is not a match. cfg itself is not modified.
func RewriteRemotes(cfg *FederationConfig, deps []ResolvedRemoteDependency) RewriteResult {
	if cfg == nil {
		return RewriteResult{Config: &FederationConfig{}}
	}
	out := cfg.clone()
	result := RewriteResult{Config: out}
	if len(cfg.Remotes) == 0 {
		return result
	}

	aliases := make([]string, 0, len(cfg.Remotes))
	for alias := range cfg.Remotes {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	for _, alias := range aliases {
		name, version := ParseLocator(alias, cfg.Remotes[alias])
		dep, ok := findDependency(deps, name, version)
		if !ok {
			result.Skipped = append(result.Skipped, SkippedRemote{Alias: alias, Name: name, Version: version})
			continue
		}

		delete(out.Remotes, alias)
		out.Remotes[dep.Name] = Remote{Loader: NewRemoteLoader(dep)}
		result.Applied = append(result.Applied, AppliedRewrite{
			Alias:          alias,
			Name:           dep.Name,
			ApplicationUID: dep.ApplicationUID,
			RemoteEntryURL: dep.RemoteEntryURL,
		})
	}
	return result
}

func findDependency(deps []ResolvedRemoteDependency, name, version string) (ResolvedRemoteDependency, bool) {
	for _, d := range deps {
		if (d.Name == name || d.ApplicationUID == name) && d.Version == version {
			return d, true
		}
	}
	return ResolvedRemoteDependency{}, false
}

// RemoteRequests extracts one dependency request per remote.
func (c *FederationConfig) RemoteRequests() []RemoteDependencyRequest {
	if c == nil {
		return nil
	}
	aliases := make([]string, 0, len(c.Remotes))
	for alias := range c.Remotes {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	reqs := make([]RemoteDependencyRequest, 0, len(aliases))
	for _, alias := range aliases {
		if c.Remotes[alias].Loader != nil {
			continue
		}
		name, version := ParseLocator(alias, c.Remotes[alias])
		reqs = append(reqs, RemoteDependencyRequest{Name: name, Version: version})
	}
	return reqs
}

// clone copies cfg deeply enough that RewriteRemotes never aliases the
// caller's remotes map.
func (c *FederationConfig) clone() *FederationConfig {
	if c == nil {
		return &FederationConfig{}
	}
	out := *c
	if c.Library != nil {
		lib := *c.Library
		out.Library = &lib
	}
	if c.Remotes != nil {
		out.Remotes = make(map[string]Remote, len(c.Remotes))
		for k, v := range c.Remotes {
			out.Remotes[k] = v
		}
	}
	if c.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}
