package fs

import (
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/ze"
)

var outputTree = []string{
	".DS_Store",
	"assets/.DS_Store",
	"assets/main.js",
	"assets/main.js.map",
	"assets/vendor/lib.js",
	"cache/a.bin",
	"docs/cache",
	"index.html",
	"robots.txt",
	"static/robots.txt",
}

// writeOutput writes every path with its own name as content so no two
// files share a hash.
func writeOutput(t *testing.T, paths []string) string {
	t.Helper()
	dir := t.TempDir()
	files := make(map[string]string, len(paths))
	for _, p := range paths {
		files[p] = p
	}
	writeTree(t, dir, files)
	return dir
}

func collectedPaths(assets ze.AssetMap) []string {
	var paths []string
	for _, rec := range assets {
		paths = append(paths, rec.Path)
		paths = append(paths, rec.Aliases...)
	}
	sort.Strings(paths)
	return paths
}

func without(paths []string, drop ...string) []string {
	skip := make(map[string]bool, len(drop))
	for _, d := range drop {
		skip[d] = true
	}
	var out []string
	for _, p := range paths {
		if !skip[p] {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func TestCollect_Ignore(t *testing.T) {
	tests := []struct {
		name  string
		rules []string
		want  []string
	}{
		{
			name: "no rules keeps everything",
			want: without(outputTree),
		},
		{
			name:  "basename glob at any depth",
			rules: []string{"*.map"},
			want:  without(outputTree, "assets/main.js.map"),
		},
		{
			name:  "exact basename at any depth",
			rules: []string{".DS_Store"},
			want:  without(outputTree, ".DS_Store", "assets/.DS_Store"),
		},
		{
			name:  "plain name matches every robots.txt",
			rules: []string{"robots.txt"},
			want:  without(outputTree, "robots.txt", "static/robots.txt"),
		},
		{
			name:  "leading slash anchors to the output root",
			rules: []string{"/robots.txt"},
			want:  without(outputTree, "robots.txt"),
		},
		{
			name:  "path glob does not cross directories",
			rules: []string{"assets/*.js"},
			want:  without(outputTree, "assets/main.js"),
		},
		{
			name:  "trailing slash only matches directories",
			rules: []string{"cache/"},
			want:  without(outputTree, "cache/a.bin"),
		},
		{
			name:  "ignored directory drops its subtree",
			rules: []string{"assets"},
			want:  without(outputTree, "assets/.DS_Store", "assets/main.js", "assets/main.js.map", "assets/vendor/lib.js"),
		},
		{
			name:  "comments and blank lines are skipped",
			rules: []string{"", "   ", "# *.html"},
			want:  without(outputTree),
		},
		{
			name:  "malformed glob is dropped",
			rules: []string{"[", "*.map"},
			want:  without(outputTree, "assets/main.js.map"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := writeOutput(t, outputTree)

			var m *IgnoreMatcher
			if tt.rules != nil {
				m = NewIgnoreMatcher(tt.rules)
			}
			assets, err := Collect(dir, m)
			if err != nil {
				t.Fatalf("Collect() error = %v", err)
			}
			if got := collectedPaths(assets); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Collect() paths = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadIgnore(t *testing.T) {
	t.Run("combines defaults, config and .zeignore", func(t *testing.T) {
		t.Parallel()
		dir := writeOutput(t, []string{"index.html", "main.js", "main.js.map", "Thumbs.db", "sub/.DS_Store"})
		ignoreFile := "# local rules\n\n/index.html\n"
		if err := os.WriteFile(filepath.Join(dir, IgnoreFilename), []byte(ignoreFile), 0644); err != nil {
			t.Fatalf("writing ignore file: %v", err)
		}

		m, err := LoadIgnore(dir, []string{"*.map"})
		if err != nil {
			t.Fatalf("LoadIgnore() error = %v", err)
		}
		assets, err := Collect(dir, m)
		if err != nil {
			t.Fatalf("Collect() error = %v", err)
		}
		if got := collectedPaths(assets); !reflect.DeepEqual(got, []string{"main.js"}) {
			t.Errorf("Collect() paths = %v, want [main.js]", got)
		}
	})

	t.Run("missing .zeignore keeps the defaults", func(t *testing.T) {
		t.Parallel()
		dir := writeOutput(t, []string{"index.html", ".DS_Store"})

		m, err := LoadIgnore(dir, nil)
		if err != nil {
			t.Fatalf("LoadIgnore() error = %v", err)
		}
		if !m.Match(".DS_Store", false) || m.Match("index.html", false) {
			t.Errorf("default rules = %+v", m.rules)
		}
	})

	t.Run("unreadable .zeignore", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		if err := os.Mkdir(filepath.Join(dir, IgnoreFilename), 0755); err != nil {
			t.Fatalf("creating dir: %v", err)
		}
		if _, err := LoadIgnore(dir, nil); err == nil {
			t.Error("LoadIgnore() expected error when .zeignore is a directory")
		}
	})
}
