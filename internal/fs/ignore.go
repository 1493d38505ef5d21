package fs

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// IgnoreFilename is the ignore file read from the root of an output directory.
const IgnoreFilename = ".zeignore"

// defaultIgnorePatterns are applied to every deployment.
var defaultIgnorePatterns = []string{IgnoreFilename, ".DS_Store", "Thumbs.db"}

type ignoreRule struct {
	glob    string
	anchor  bool // match the whole output-relative path, not the basename
	dirOnly bool
}

// IgnoreMatcher decides which entries of a build output stay out of a
// deployment. A rule without '/' matches an entry's basename at any depth.
// A rule containing '/' matches the slash-separated path from the output
// root, and a leading '/' only anchors it there. A trailing '/' limits the
// rule to directories. Blank lines and '#' comments are skipped.
type IgnoreMatcher struct {
	rules []ignoreRule
}

// NewIgnoreMatcher parses rules. Rules with malformed globs never match.
func NewIgnoreMatcher(rules []string) *IgnoreMatcher {
	m := &IgnoreMatcher{}
	for _, raw := range rules {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		r := ignoreRule{}
		if strings.HasSuffix(raw, "/") {
			r.dirOnly = true
			raw = strings.TrimRight(raw, "/")
		}
		if strings.Contains(raw, "/") {
			r.anchor = true
			raw = strings.TrimPrefix(raw, "/")
		}
		if raw == "" {
			continue
		}
		if _, err := path.Match(raw, ""); err != nil {
			continue
		}
		r.glob = raw
		m.rules = append(m.rules, r)
	}
	return m
}

// Match reports whether the entry at rel, relative to the output root,
// is ignored.
func (m *IgnoreMatcher) Match(rel string, isDir bool) bool {
	if m == nil || rel == "" {
		return false
	}
	rel = filepath.ToSlash(rel)
	base := path.Base(rel)
	for _, r := range m.rules {
		if r.dirOnly && !isDir {
			continue
		}
		subject := base
		if r.anchor {
			subject = rel
		}
		if ok, _ := path.Match(r.glob, subject); ok {
			return true
		}
	}
	return false
}

// readIgnoreFile returns the lines of an ignore file, or nil when it does
// not exist.
func readIgnoreFile(p string) ([]string, error) {
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}
	return lines, nil
}

// LoadIgnore builds the matcher for an output directory from the default
// rules, the configured ones and the directory's own .zeignore.
func LoadIgnore(dir string, configured []string) (*IgnoreMatcher, error) {
	fromFile, err := readIgnoreFile(filepath.Join(dir, IgnoreFilename))
	if err != nil {
		return nil, err
	}
	rules := make([]string, 0, len(defaultIgnorePatterns)+len(configured)+len(fromFile))
	rules = append(rules, defaultIgnorePatterns...)
	rules = append(rules, configured...)
	rules = append(rules, fromFile...)
	return NewIgnoreMatcher(rules), nil
}
