package ze

import (
	"fmt"
	"strings"
)

// UIDDelimiter separates the name, project and org parts of an application uid.
const UIDDelimiter = "."

// PackageMeta is the package-level metadata of the application being built.
type PackageMeta struct {
	Name    string
	Version string
	// Dependencies maps a remote's declared name to its version, as
	// declared outside the federation config (package.json).
	Dependencies map[string]string
}

// RepoMeta is the version-control metadata of the application being built.
type RepoMeta struct {
	Org         string
	Project     string
	Branch      string
	Commit      string
	Tags        []string
	AuthorName  string
	AuthorEmail string
}

// ApplicationIdentity names one deployable application.
type ApplicationIdentity struct {
	Org     string
	Project string
	Name    string
	Version string
}

// ApplicationUID returns the stable "name.project.org" key. The format is
// shared with the resolution API and must not change.
func (id ApplicationIdentity) ApplicationUID() string {
	return JoinApplicationUID(id.Name, id.Project, id.Org)
}

// DeriveIdentity combines package and repository metadata into an
// ApplicationIdentity. It performs no I/O.
func DeriveIdentity(pkg PackageMeta, repo RepoMeta) (ApplicationIdentity, error) {
	id := ApplicationIdentity{
		Org:     normalizeUIDPart(repo.Org),
		Project: normalizeUIDPart(repo.Project),
		Name:    normalizeUIDPart(pkg.Name),
		Version: strings.TrimSpace(pkg.Version),
	}
	switch {
	case id.Name == "":
		return ApplicationIdentity{}, newError(KindConfig, "derive identity", fmt.Errorf("package name is empty"))
	case id.Project == "":
		return ApplicationIdentity{}, newError(KindConfig, "derive identity", fmt.Errorf("repository project is empty"))
	case id.Org == "":
		return ApplicationIdentity{}, newError(KindConfig, "derive identity", fmt.Errorf("repository org is empty"))
	}
	return id, nil
}

// JoinApplicationUID builds a uid from its parts, normalizing each one.
func JoinApplicationUID(name, project, org string) string {
	return strings.Join([]string{
		normalizeUIDPart(name),
		normalizeUIDPart(project),
		normalizeUIDPart(org),
	}, UIDDelimiter)
}

// IsApplicationUID reports whether a declared dependency name is already
// fully qualified.
func IsApplicationUID(name string) bool {
	return strings.Contains(name, UIDDelimiter)
}

// ParseApplicationUID splits a uid into its name, project and org parts.
func ParseApplicationUID(uid string) (name, project, org string, err error) {
	parts := strings.Split(uid, UIDDelimiter)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("invalid application uid %q: want name.project.org", uid)
	}
	return parts[0], parts[1], parts[2], nil
}

// DeriveSnapshotID returns the snapshot id for one build of an application
// by one publisher.
func DeriveSnapshotID(applicationUID, buildID, publisher string) string {
	return fmt.Sprintf("%s_%s%s%s", normalizeUIDPart(publisher), buildID, UIDDelimiter, applicationUID)
}

// normalizeUIDPart lowercases s and replaces every character outside
// [a-z0-9_-] with '-'. Leading and trailing dashes are trimmed, so that
// "@acme/cart" becomes "acme-cart".
func normalizeUIDPart(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
