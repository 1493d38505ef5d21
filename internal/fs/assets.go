// Package fs reads build output directories into content-addressed assets.
package fs

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/ze"
)

// Collect reads every regular file under dir that ignore does not
// match. Asset paths are relative to dir and use forward slashes.
// A nil ignore keeps everything.
func Collect(dir string, ignore *IgnoreMatcher) (ze.AssetMap, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat output directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("output path is not a directory: %s", absDir)
	}

	assets := make(ze.AssetMap)
	err = filepath.WalkDir(absDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(absDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if ignore.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		// Symlinks are followed; anything else that is not a regular
		// file (pipes, sockets, devices) is skipped.
		if d.Type()&os.ModeSymlink != 0 {
			target, err := os.Stat(p)
			if err != nil {
				return fmt.Errorf("stat %s: %w", p, err)
			}
			if !target.Mode().IsRegular() {
				return nil
			}
		} else if !d.Type().IsRegular() {
			return nil
		}

		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}
		assets.Add(filepath.ToSlash(rel), data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}
	return assets, nil
}
